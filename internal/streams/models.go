package streams

import (
	"encoding/json"
	"time"
)

// Status is the persisted lifecycle state of a stream
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
)

// Platform identifies the upstream the stream belongs to
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTwitch  Platform = "twitch"
)

// Stream is one row of the streams table
type Stream struct {
	StreamID     string     `db:"stream_id"`
	Platform     Platform   `db:"platform"`
	ChannelID    string     `db:"channel_id"`
	Title        string     `db:"title"`
	Status       Status     `db:"status"`
	ScheduleTime *time.Time `db:"schedule_time"`
	StartTime    *time.Time `db:"start_time"`
	EndTime      *time.Time `db:"end_time"`
	LikeMax      *int64     `db:"like_max"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// EventKind tags individually persisted chat events
type EventKind string

const (
	EventMembership EventKind = "membership"
	EventPaid       EventKind = "paid"
)

// Event is one persisted chat event (memberships and paid messages; plain
// text messages are only aggregated, never stored individually)
type Event struct {
	StreamID string          `db:"stream_id"`
	Time     time.Time       `db:"time"`
	Kind     EventKind       `db:"kind"`
	Value    json.RawMessage `db:"value"`
}
