package streams

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/streamwatch/stream-service/internal/database"
)

func setupStreamsTestDB(t *testing.T) *pgxpool.Pool {
	if testing.Short() {
		t.Skip("skipping stream store test in short mode (requires Docker)")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, database.Migrate(ctx, pool))

	t.Cleanup(func() {
		pool.Close()
		testcontainers.TerminateContainer(container)
	})

	return pool
}

func seedStream(t *testing.T, store *Store, streamID string) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), streamID, PlatformYouTube, "UCchan", "a title", nil))
}

func TestViewerStatMonotonicMax(t *testing.T) {
	pool := setupStreamsTestDB(t)
	store := NewStore(pool)
	ctx := context.Background()
	seedStream(t, store, "vid-1")

	at := time.Date(2026, 8, 31, 12, 0, 3, 0, time.UTC)

	// Two samples in the same bucket collapse to the greater value, never
	// the sum or the latest.
	require.NoError(t, store.UpsertViewerStat(ctx, "vid-1", at, 120))
	require.NoError(t, store.UpsertViewerStat(ctx, "vid-1", at.Add(5*time.Second), 80))

	var value int64
	err := pool.QueryRow(ctx,
		`SELECT value FROM stream_viewer_stats WHERE stream_id = $1 AND bucket = $2`,
		"vid-1", Bucket(at)).Scan(&value)
	require.NoError(t, err)
	assert.Equal(t, int64(120), value)

	var rows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stream_viewer_stats WHERE stream_id = $1`, "vid-1").Scan(&rows))
	assert.Equal(t, 1, rows, "same bucket must not create a second row")
}

func TestChatStatsAdditive(t *testing.T) {
	pool := setupStreamsTestDB(t)
	store := NewStore(pool)
	ctx := context.Background()
	seedStream(t, store, "vid-2")

	at := time.Date(2026, 8, 31, 12, 0, 3, 0, time.UTC)

	require.NoError(t, store.AddChatStats(ctx, "vid-2", at, 3, 1))
	require.NoError(t, store.AddChatStats(ctx, "vid-2", at.Add(10*time.Second), 2, 2))

	var count, members int64
	err := pool.QueryRow(ctx,
		`SELECT count, from_members FROM stream_chat_stats WHERE stream_id = $1 AND bucket = $2`,
		"vid-2", Bucket(at)).Scan(&count, &members)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count, "overlapping aggregation adds, never replaces")
	assert.Equal(t, int64(3), members)
}

func TestStreamLifecycle(t *testing.T) {
	pool := setupStreamsTestDB(t)
	store := NewStore(pool)
	ctx := context.Background()
	seedStream(t, store, "vid-3")

	st, err := store.Get(ctx, "vid-3")
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, st.Status)

	started := time.Now().Truncate(time.Millisecond)
	likes := int64(10)
	require.NoError(t, store.MarkLive(ctx, "vid-3", "live title", started, &likes))

	st, err = store.Get(ctx, "vid-3")
	require.NoError(t, err)
	assert.Equal(t, StatusLive, st.Status)
	assert.Equal(t, "live title", st.Title)
	require.NotNil(t, st.LikeMax)
	assert.Equal(t, int64(10), *st.LikeMax)

	// Final metadata keeps the like maximum monotonic.
	lower := int64(4)
	require.NoError(t, store.UpdateFinal(ctx, "vid-3", "final title", &lower, nil, nil))

	st, err = store.Get(ctx, "vid-3")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, st.Status)
	assert.Equal(t, "final title", st.Title)
	require.NotNil(t, st.LikeMax)
	assert.Equal(t, int64(10), *st.LikeMax)
}

func TestDeleteCascadesStats(t *testing.T) {
	pool := setupStreamsTestDB(t)
	store := NewStore(pool)
	ctx := context.Background()
	seedStream(t, store, "vid-4")

	at := time.Now()
	require.NoError(t, store.UpsertViewerStat(ctx, "vid-4", at, 7))
	require.NoError(t, store.AddChatStats(ctx, "vid-4", at, 1, 0))
	require.NoError(t, store.AddEvent(ctx, "vid-4", at, EventPaid, []byte(`{"amount":"5 USD"}`)))

	require.NoError(t, store.Delete(ctx, "vid-4"))

	_, err := store.Get(ctx, "vid-4")
	assert.ErrorIs(t, err, ErrNotFound)

	var n int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stream_viewer_stats WHERE stream_id = $1`, "vid-4").Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stream_events WHERE stream_id = $1`, "vid-4").Scan(&n))
	assert.Zero(t, n)
}
