package calls

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/soyeahso/callbridge/internal/domain"
)

// StartRequest is an administrative request to open a call record before
// any socket attaches.
type StartRequest struct {
	BuyerID    string           `json:"buyerId"`
	AgentID    string           `json:"agentId"`
	AgentType  domain.AgentType `json:"agentType,omitempty"`
	PropertyID string           `json:"propertyId,omitempty"`
	LeadID     string           `json:"leadId,omitempty"`
}

// NewCallID returns an ID of the form call_<unix millis>_<random>.
func (m *Manager) NewCallID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("call_%d_%s", m.now().UnixMilli(), suffix)
}

// StartCall creates an in-progress call record. Participants then join it
// with a call_start event carrying the returned ID.
func (m *Manager) StartCall(ctx context.Context, req StartRequest) (domain.CallRecord, error) {
	const op = "calls.admin.start"
	if req.BuyerID == "" || req.AgentID == "" {
		return domain.CallRecord{}, domain.InvalidInput(op, "Missing required fields: agentId, buyerId")
	}
	if req.AgentType == "" {
		req.AgentType = domain.AgentTypeAI
	}
	if !req.AgentType.Valid() {
		return domain.CallRecord{}, domain.InvalidInput(op, "agentType must be ai or human")
	}

	now := m.now()
	rec := domain.CallRecord{
		ID:         m.NewCallID(),
		AgentID:    req.AgentID,
		AgentType:  req.AgentType,
		BuyerID:    req.BuyerID,
		PropertyID: req.PropertyID,
		LeadID:     req.LeadID,
		StartTime:  now,
		Transcript: []domain.TranscriptEntry{},
		Status:     domain.RecordInProgress,
		CreatedAt:  now,
	}
	if err := m.records.Create(ctx, rec); err != nil {
		return domain.CallRecord{}, domain.Internal(op, "Failed to start call", err)
	}
	m.log.Info().Str("callId", rec.ID).Str("agentId", rec.AgentID).Msg("call record opened")
	return rec, nil
}

// EndCall ends a call administratively. Duration is measured from the
// durable record's start time and the live transcript wins when non-empty.
func (m *Manager) EndCall(ctx context.Context, callID, reason string) (domain.CallRecord, error) {
	const op = "calls.admin.end"
	rec, err := m.records.Find(ctx, callID)
	if err != nil {
		return domain.CallRecord{}, domain.Internal(op, "Failed to end call", err)
	}
	if rec == nil {
		return domain.CallRecord{}, domain.NotFound(op, "Call not found")
	}
	if rec.Status == domain.RecordCompleted {
		return domain.CallRecord{}, domain.InvalidInput(op, "Call already ended")
	}
	if reason == "" {
		reason = ReasonAdministrativeEnd
	}

	transcript := rec.Transcript
	if live, ok := m.sessions.Get(callID); ok && len(live.Transcript) > 0 {
		transcript = live.Transcript
	}
	m.end(ctx, callID, reason, domain.StatusConnecting, domain.StatusActive)

	now := m.now()
	duration := domain.DurationSeconds(rec.StartTime, now)
	completed := domain.RecordCompleted
	if err := m.records.Update(ctx, callID, domain.RecordUpdate{
		EndTime:    &now,
		Duration:   &duration,
		Transcript: transcript,
		Status:     &completed,
	}); err != nil {
		return domain.CallRecord{}, domain.Internal(op, "Failed to end call", err)
	}

	rec.EndTime = &now
	rec.Duration = &duration
	rec.Transcript = domain.CloneTranscript(transcript)
	rec.Status = completed
	return *rec, nil
}

// Stats summarises a set of call records. Durations are in seconds and
// cover completed calls only.
type Stats struct {
	Total                    int    `json:"totalCalls"`
	Completed                int    `json:"completedCalls"`
	InProgress               int    `json:"inProgressCalls"`
	AverageDuration          int64  `json:"averageDuration"`
	TotalTalkTime            int64  `json:"totalTalkTime"`
	AverageDurationFormatted string `json:"averageDurationFormatted"`
	TotalTalkTimeFormatted   string `json:"totalTalkTimeFormatted"`
}

// ComputeStats summarises recs.
func ComputeStats(recs []domain.CallRecord) Stats {
	st := Stats{Total: len(recs)}
	for _, r := range recs {
		switch r.Status {
		case domain.RecordCompleted:
			st.Completed++
			if r.Duration != nil {
				st.TotalTalkTime += *r.Duration
			}
		case domain.RecordInProgress:
			st.InProgress++
		}
	}
	if st.Completed > 0 {
		n := int64(st.Completed)
		st.AverageDuration = (st.TotalTalkTime + n/2) / n
	}
	st.AverageDurationFormatted = domain.FormatDuration(st.AverageDuration)
	st.TotalTalkTimeFormatted = domain.FormatDuration(st.TotalTalkTime)
	return st
}

// ListCalls returns matching call records with summary stats.
func (m *Manager) ListCalls(ctx context.Context, filter domain.RecordFilter) ([]domain.CallRecord, Stats, error) {
	recs, err := m.records.List(ctx, filter)
	if err != nil {
		return nil, Stats{}, domain.Internal("calls.admin.list", "Failed to list calls", err)
	}
	if recs == nil {
		recs = []domain.CallRecord{}
	}
	return recs, ComputeStats(recs), nil
}

// GetRecord returns the durable record for a call.
func (m *Manager) GetRecord(ctx context.Context, callID string) (domain.CallRecord, error) {
	rec, err := m.records.Find(ctx, callID)
	if err != nil {
		return domain.CallRecord{}, domain.Internal("calls.admin.get", "Failed to load call", err)
	}
	if rec == nil {
		return domain.CallRecord{}, domain.NotFound("calls.admin.get", "Call not found")
	}
	return *rec, nil
}
