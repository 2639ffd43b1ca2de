package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a stream row does not exist
var ErrNotFound = errors.New("stream not found")

// Store persists stream state and derived statistics. Within one collection
// job its writes are issued sequentially by that job's goroutine; across
// jobs there is no ordering requirement.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a stream store on the given pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get loads one stream row
func (s *Store) Get(ctx context.Context, streamID string) (*Stream, error) {
	var st Stream
	err := s.pool.QueryRow(ctx, `
		SELECT stream_id, platform, channel_id, title, status,
		       schedule_time, start_time, end_time, like_max,
		       created_at, updated_at
		FROM streams
		WHERE stream_id = $1
	`, streamID).Scan(
		&st.StreamID, &st.Platform, &st.ChannelID, &st.Title, &st.Status,
		&st.ScheduleTime, &st.StartTime, &st.EndTime, &st.LikeMax,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load stream %s: %w", streamID, err)
	}
	return &st, nil
}

// Upsert registers a stream row if it does not exist yet
func (s *Store) Upsert(ctx context.Context, streamID string, platform Platform, channelID, title string, scheduleTime *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO streams (stream_id, platform, channel_id, title, schedule_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id) DO UPDATE SET
			title         = EXCLUDED.title,
			schedule_time = EXCLUDED.schedule_time,
			updated_at    = NOW()
	`, streamID, platform, channelID, title, scheduleTime)
	if err != nil {
		return fmt.Errorf("failed to upsert stream %s: %w", streamID, err)
	}
	return nil
}

// MarkLive transitions a stream to live, persisting its start time, title
// and like count
func (s *Store) MarkLive(ctx context.Context, streamID string, title string, startTime time.Time, likeCount *int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE streams
		SET status     = 'live',
		    title      = COALESCE(NULLIF($2, ''), title),
		    start_time = $3,
		    like_max   = GREATEST(COALESCE(like_max, 0), COALESCE($4, 0)),
		    updated_at = NOW()
		WHERE stream_id = $1
	`, streamID, title, startTime, likeCount)
	if err != nil {
		return fmt.Errorf("failed to mark stream %s live: %w", streamID, err)
	}
	return nil
}

// MarkEnded transitions a stream to ended
func (s *Store) MarkEnded(ctx context.Context, streamID string, endTime time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE streams
		SET status     = 'ended',
		    end_time   = COALESCE(end_time, $2),
		    updated_at = NOW()
		WHERE stream_id = $1
	`, streamID, endTime)
	if err != nil {
		return fmt.Errorf("failed to mark stream %s ended: %w", streamID, err)
	}
	return nil
}

// UpdateFinal writes the authoritative post-stream metadata fetched from the
// secondary source once a stream is detected as ended
func (s *Store) UpdateFinal(ctx context.Context, streamID string, title string, likeCount *int64, startTime, endTime *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE streams
		SET status     = 'ended',
		    title      = COALESCE(NULLIF($2, ''), title),
		    like_max   = GREATEST(COALESCE(like_max, 0), COALESCE($3, 0)),
		    start_time = COALESCE($4, start_time),
		    end_time   = COALESCE($5, end_time),
		    updated_at = NOW()
		WHERE stream_id = $1
	`, streamID, title, likeCount, startTime, endTime)
	if err != nil {
		return fmt.Errorf("failed to finalize stream %s: %w", streamID, err)
	}
	return nil
}

// Delete removes a scheduled stream that never actually started. Stats and
// events cascade.
func (s *Store) Delete(ctx context.Context, streamID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE stream_id = $1`, streamID)
	if err != nil {
		return fmt.Errorf("failed to delete stream %s: %w", streamID, err)
	}
	return nil
}

// UpsertViewerStat records a viewer-count sample in its 15s bucket. Samples
// within one bucket collapse to the greater value, never the sum: re-running
// a poll cannot inflate the statistic.
func (s *Store) UpsertViewerStat(ctx context.Context, streamID string, at time.Time, value int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stream_viewer_stats (stream_id, bucket, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream_id, bucket) DO UPDATE SET
			value = GREATEST(stream_viewer_stats.value, EXCLUDED.value)
	`, streamID, Bucket(at), value)
	if err != nil {
		return fmt.Errorf("failed to record viewer stat for %s: %w", streamID, err)
	}
	return nil
}

// AddChatStats accumulates chat message counts into a 15s bucket. Additive:
// overlapping aggregation runs add to the existing counts.
func (s *Store) AddChatStats(ctx context.Context, streamID string, at time.Time, count, fromMembers int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stream_chat_stats (stream_id, bucket, count, from_members)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id, bucket) DO UPDATE SET
			count        = stream_chat_stats.count + EXCLUDED.count,
			from_members = stream_chat_stats.from_members + EXCLUDED.from_members
	`, streamID, Bucket(at), count, fromMembers)
	if err != nil {
		return fmt.Errorf("failed to record chat stats for %s: %w", streamID, err)
	}
	return nil
}

// AddEvent persists one membership or paid chat event
func (s *Store) AddEvent(ctx context.Context, streamID string, at time.Time, kind EventKind, value json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stream_events (stream_id, time, kind, value)
		VALUES ($1, $2, $3, $4)
	`, streamID, at, kind, value)
	if err != nil {
		return fmt.Errorf("failed to record %s event for %s: %w", kind, streamID, err)
	}
	return nil
}
