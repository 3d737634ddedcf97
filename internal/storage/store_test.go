package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordUsage(ctx, UsageRecord{
		ID:           "a",
		Caller:       "web",
		Model:        "gemini-2.5-flash",
		Outcome:      OutcomeSuccess,
		InputTokens:  1200,
		OutputTokens: 300,
		TotalTokens:  1500,
		CostUSD:      0.00111,
		Duration:     2500 * time.Millisecond,
		ImageBytes:   2 << 20,
		MIMEType:     "image/jpeg",
		CreatedAt:    base,
	}))
	require.NoError(t, store.RecordUsage(ctx, UsageRecord{
		ID:        "b",
		Caller:    "telegram",
		Model:     "gemini-2.5-flash",
		Outcome:   "generation",
		MIMEType:  "image/png",
		CreatedAt: base.Add(time.Minute),
	}))

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, "a", records[1].ID)

	first := records[1]
	assert.Equal(t, "web", first.Caller)
	assert.Equal(t, int64(1500), first.TotalTokens)
	assert.Equal(t, 2500*time.Millisecond, first.Duration)
	assert.Equal(t, 2<<20, first.ImageBytes)
	assert.True(t, base.Equal(first.CreatedAt))
	assert.InDelta(t, 0.00111, first.CostUSD, 1e-12)
}

func TestSQLiteStore_RecentLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"1", "2", "3"} {
		require.NoError(t, store.RecordUsage(ctx, UsageRecord{
			ID: id, Caller: "web", Model: "m", Outcome: OutcomeSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	records, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "3", records[0].ID)
	assert.Equal(t, "2", records[1].ID)
}

func TestSQLiteStore_Summary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	records := []UsageRecord{
		{ID: "old", Caller: "web", Model: "gemini-2.5-flash", Outcome: OutcomeSuccess, CostUSD: 5, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "g1", Caller: "web", Model: "gemini-2.5-flash", Outcome: OutcomeSuccess, InputTokens: 100, OutputTokens: 10, CostUSD: 0.5, CreatedAt: now.Add(-time.Hour)},
		{ID: "g2", Caller: "web", Model: "gemini-2.5-flash", Outcome: "generation", CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "o1", Caller: "cli", Model: "gpt-4o-mini", Outcome: OutcomeSuccess, InputTokens: 50, OutputTokens: 5, CostUSD: 0.25, CreatedAt: now.Add(-10 * time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, store.RecordUsage(ctx, rec))
	}

	summary, err := store.Summary(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Calls)
	assert.Equal(t, int64(2), summary.Successes)
	assert.Equal(t, int64(1), summary.Failures)
	assert.Equal(t, int64(150), summary.InputTokens)
	assert.Equal(t, int64(15), summary.OutputTokens)
	assert.InDelta(t, 0.75, summary.CostUSD, 1e-9)

	require.Len(t, summary.ByModel, 2)
	assert.Equal(t, "gemini-2.5-flash", summary.ByModel[0].Model)
	assert.Equal(t, int64(2), summary.ByModel[0].Calls)
	assert.Equal(t, "gpt-4o-mini", summary.ByModel[1].Model)
}

func TestSQLiteStore_SummaryEmpty(t *testing.T) {
	store := newTestStore(t)

	summary, err := store.Summary(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, summary.Calls)
	assert.Empty(t, summary.ByModel)
}

func TestSQLiteStore_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := UsageRecord{ID: "dup", Caller: "web", Model: "m", Outcome: OutcomeSuccess}
	require.NoError(t, store.RecordUsage(ctx, rec))
	assert.Error(t, store.RecordUsage(ctx, rec))
}
