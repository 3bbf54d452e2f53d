package domain

import (
	"fmt"
	"time"
)

// RecordStatus is the state of a durable call record.
type RecordStatus string

const (
	RecordInProgress RecordStatus = "in_progress"
	RecordCompleted  RecordStatus = "completed"
	RecordFailed     RecordStatus = "failed"
)

// CallRecord is the persisted counterpart of a CallSession.
type CallRecord struct {
	ID         string            `json:"id"`
	AgentID    string            `json:"agentId"`
	AgentType  AgentType         `json:"agentType"`
	BuyerID    string            `json:"buyerId"`
	PropertyID string            `json:"propertyId,omitempty"`
	LeadID     string            `json:"leadId,omitempty"`
	StartTime  time.Time         `json:"startTime"`
	EndTime    *time.Time        `json:"endTime,omitempty"`
	Duration   *int64            `json:"duration,omitempty"` // seconds
	Transcript []TranscriptEntry `json:"transcript"`
	Status     RecordStatus      `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// RecordUpdate carries the optional fields of a call record update.
// Nil fields are left unchanged.
type RecordUpdate struct {
	EndTime    *time.Time
	Duration   *int64
	Transcript []TranscriptEntry
	Status     *RecordStatus
}

// RecordFilter narrows a call record listing.
type RecordFilter struct {
	AgentID string
	BuyerID string
	Limit   int
}

// DurationSeconds returns the whole seconds between start and end.
func DurationSeconds(start, end time.Time) int64 {
	if end.Before(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Second)
}

// FormatDuration renders seconds as "Xm Ys".
func FormatDuration(seconds int64) string {
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
