package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/callbridge/internal/domain"
)

const defaultListLimit = 50

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRecordExists is returned when creating a record whose ID is taken.
var ErrRecordExists = &domain.Error{Kind: domain.KindInvalidInput, Op: "store.create", Message: "call record already exists"}

// SQLiteCallRecords implements domain.CallRecordStore on SQLite.
type SQLiteCallRecords struct {
	db *DB
}

// NewSQLiteCallRecords creates a call record store using the given database.
func NewSQLiteCallRecords(db *DB) *SQLiteCallRecords {
	return &SQLiteCallRecords{db: db}
}

const recordColumns = `id, agent_id, agent_type, buyer_id, property_id, lead_id,
	start_time, end_time, duration, transcript, status, created_at`

// Find returns the record for id, or nil if none exists.
func (s *SQLiteCallRecords) Find(ctx context.Context, id string) (*domain.CallRecord, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM call_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding call record %s: %w", id, err)
	}
	return rec, nil
}

// Create inserts a new record.
func (s *SQLiteCallRecords) Create(ctx context.Context, rec domain.CallRecord) error {
	transcript, err := encodeTranscript(rec.Transcript)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = domain.RecordInProgress
	}

	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO call_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.AgentID, string(rec.AgentType), rec.BuyerID, rec.PropertyID, rec.LeadID,
		formatTime(rec.StartTime), nullTime(rec.EndTime), nullInt(rec.Duration),
		transcript, string(rec.Status), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating call record %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordExists
	}
	return nil
}

// Update applies the non-nil fields of upd.
func (s *SQLiteCallRecords) Update(ctx context.Context, id string, upd domain.RecordUpdate) error {
	var sets []string
	var args []any
	if upd.EndTime != nil {
		sets = append(sets, "end_time = ?")
		args = append(args, formatTime(*upd.EndTime))
	}
	if upd.Duration != nil {
		sets = append(sets, "duration = ?")
		args = append(args, *upd.Duration)
	}
	if upd.Transcript != nil {
		transcript, err := encodeTranscript(upd.Transcript)
		if err != nil {
			return err
		}
		sets = append(sets, "transcript = ?")
		args = append(args, transcript)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE call_records SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating call record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("store.update", "Call record not found")
	}
	return nil
}

// List returns records matching the filter, newest first. A zero limit means 50.
func (s *SQLiteCallRecords) List(ctx context.Context, filter domain.RecordFilter) ([]domain.CallRecord, error) {
	var where []string
	var args []any
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.BuyerID != "" {
		where = append(where, "buyer_id = ?")
		args = append(args, filter.BuyerID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + recordColumns + ` FROM call_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	var out []domain.CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning call record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.CallRecord, error) {
	var (
		rec                  domain.CallRecord
		agentType, status    string
		startTime, createdAt string
		endTime              sql.NullString
		duration             sql.NullInt64
		transcript           string
	)
	if err := row.Scan(
		&rec.ID, &rec.AgentID, &agentType, &rec.BuyerID, &rec.PropertyID, &rec.LeadID,
		&startTime, &endTime, &duration, &transcript, &status, &createdAt,
	); err != nil {
		return nil, err
	}

	rec.AgentType = domain.AgentType(agentType)
	rec.Status = domain.RecordStatus(status)
	rec.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if endTime.Valid {
		if t, err := time.Parse(time.RFC3339Nano, endTime.String); err == nil {
			rec.EndTime = &t
		}
	}
	if duration.Valid {
		d := duration.Int64
		rec.Duration = &d
	}
	if err := json.Unmarshal([]byte(transcript), &rec.Transcript); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	if rec.Transcript == nil {
		rec.Transcript = []domain.TranscriptEntry{}
	}
	return &rec, nil
}

func encodeTranscript(t []domain.TranscriptEntry) (string, error) {
	if t == nil {
		t = []domain.TranscriptEntry{}
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding transcript: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
