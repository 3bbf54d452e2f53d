package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// recordStores runs a test against both implementations.
func recordStores(t *testing.T, fn func(t *testing.T, s domain.CallRecordStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, NewSQLiteCallRecords(testDB(t))) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryCallRecords()) })
}

func sampleRecord(id string, created time.Time) domain.CallRecord {
	return domain.CallRecord{
		ID:         id,
		AgentID:    "agent-1",
		AgentType:  domain.AgentTypeAI,
		BuyerID:    "buyer-1",
		PropertyID: "prop-9",
		StartTime:  created,
		Transcript: []domain.TranscriptEntry{},
		Status:     domain.RecordInProgress,
		CreatedAt:  created,
	}
}

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Ping(context.Background()))
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.db")
	log := logging.New(nil, "silent")

	db, err := Open(path, log)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, log)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestCallRecords_CreateAndFind(t *testing.T) {
	recordStores(t, func(t *testing.T, s domain.CallRecordStore) {
		ctx := context.Background()
		start := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
		require.NoError(t, s.Create(ctx, sampleRecord("call-1", start)))

		rec, err := s.Find(ctx, "call-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "agent-1", rec.AgentID)
		assert.Equal(t, domain.AgentTypeAI, rec.AgentType)
		assert.Equal(t, "prop-9", rec.PropertyID)
		assert.True(t, start.Equal(rec.StartTime))
		assert.Equal(t, domain.RecordInProgress, rec.Status)
		assert.Nil(t, rec.EndTime)
		assert.Nil(t, rec.Duration)
		assert.NotNil(t, rec.Transcript)

		missing, err := s.Find(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestCallRecords_CreateDuplicate(t *testing.T) {
	recordStores(t, func(t *testing.T, s domain.CallRecordStore) {
		ctx := context.Background()
		rec := sampleRecord("call-1", time.Now())
		require.NoError(t, s.Create(ctx, rec))
		assert.ErrorIs(t, s.Create(ctx, rec), ErrRecordExists)
	})
}

func TestCallRecords_Update(t *testing.T) {
	recordStores(t, func(t *testing.T, s domain.CallRecordStore) {
		ctx := context.Background()
		start := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
		require.NoError(t, s.Create(ctx, sampleRecord("call-1", start)))

		transcript := []domain.TranscriptEntry{
			{Role: domain.RoleBuyer, Content: "How many bedrooms?", Timestamp: start.Add(time.Second)},
			{Role: domain.RoleAgent, Content: "Three.", Timestamp: start.Add(2 * time.Second)},
		}
		require.NoError(t, s.Update(ctx, "call-1", domain.RecordUpdate{Transcript: transcript}))

		rec, err := s.Find(ctx, "call-1")
		require.NoError(t, err)
		require.Len(t, rec.Transcript, 2)
		assert.Equal(t, "Three.", rec.Transcript[1].Content)
		assert.Equal(t, domain.RecordInProgress, rec.Status, "untouched fields stay")

		end := start.Add(125 * time.Second)
		dur := int64(125)
		completed := domain.RecordCompleted
		require.NoError(t, s.Update(ctx, "call-1", domain.RecordUpdate{EndTime: &end, Duration: &dur, Status: &completed}))

		rec, err = s.Find(ctx, "call-1")
		require.NoError(t, err)
		require.NotNil(t, rec.EndTime)
		assert.True(t, end.Equal(*rec.EndTime))
		require.NotNil(t, rec.Duration)
		assert.Equal(t, int64(125), *rec.Duration)
		assert.Equal(t, domain.RecordCompleted, rec.Status)
		assert.Len(t, rec.Transcript, 2)
	})
}

func TestCallRecords_UpdateMissing(t *testing.T) {
	recordStores(t, func(t *testing.T, s domain.CallRecordStore) {
		completed := domain.RecordCompleted
		err := s.Update(context.Background(), "ghost", domain.RecordUpdate{Status: &completed})
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
	})
}

func TestCallRecords_List(t *testing.T) {
	recordStores(t, func(t *testing.T, s domain.CallRecordStore) {
		ctx := context.Background()
		base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
		for i := range 5 {
			rec := sampleRecord(fmt.Sprintf("call-%d", i), base.Add(time.Duration(i)*time.Minute))
			if i%2 == 1 {
				rec.AgentID = "agent-2"
			}
			require.NoError(t, s.Create(ctx, rec))
		}

		all, err := s.List(ctx, domain.RecordFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "call-4", all[0].ID, "newest first")

		byAgent, err := s.List(ctx, domain.RecordFilter{AgentID: "agent-2"})
		require.NoError(t, err)
		require.Len(t, byAgent, 2)
		assert.Equal(t, "call-3", byAgent[0].ID)

		limited, err := s.List(ctx, domain.RecordFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := s.List(ctx, domain.RecordFilter{BuyerID: "someone-else"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMemoryCallRecords_ReturnsCopies(t *testing.T) {
	s := NewMemoryCallRecords()
	ctx := context.Background()
	rec := sampleRecord("call-1", time.Now())
	rec.Transcript = []domain.TranscriptEntry{{Role: domain.RoleBuyer, Content: "hi"}}
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Find(ctx, "call-1")
	require.NoError(t, err)
	got.Transcript[0].Content = "mutated"

	again, err := s.Find(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Transcript[0].Content)
}
