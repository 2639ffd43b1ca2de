package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job row
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Kind identifies which routine executes a job. Adding a kind means touching
// this list and the dispatcher's switch; nothing else.
type Kind string

const (
	KindHealthCheck          Kind = "health-check"
	KindRefreshFeed          Kind = "refresh-feed"
	KindSubscribePubsub      Kind = "subscribe-pubsub"
	KindUpdateChannelStats   Kind = "update-channel-stats"
	KindUpdateExchangeRates  Kind = "update-exchange-rates"
	KindCollectYouTubeStream Kind = "collect-youtube-stream-metadata"
	KindCollectTwitchStream  Kind = "collect-twitch-stream-metadata"
	KindSendNotification     Kind = "send-notification"
)

// Job is one claimed row of the jobs table
type Job struct {
	ID           int64           `db:"job_id"`
	Kind         Kind            `db:"kind"`
	Payload      json.RawMessage `db:"payload"`
	Status       Status          `db:"status"`
	NextRun      *time.Time      `db:"next_run"`
	LastRun      *time.Time      `db:"last_run"`
	Continuation *string         `db:"continuation"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// CollectStreamPayload is the payload for both stream collector kinds
type CollectStreamPayload struct {
	StreamID string `json:"stream_id"`
}

// SendNotificationPayload asks the notification system to fan out updates
// about one stream
type SendNotificationPayload struct {
	StreamID string `json:"stream_id"`
}

// Result is the outcome of a job routine. A zero Result means the routine
// completed; a non-nil NextRun requeues the job for that time, optionally
// carrying a continuation for the following invocation.
type Result struct {
	NextRun      *time.Time
	Continuation *string
}

// Completed marks the job done
func Completed() Result {
	return Result{}
}

// Next requeues the job to run at the given time
func Next(run time.Time) Result {
	return Result{NextRun: &run}
}

// WithContinuation attaches a continuation to a requeued result
func (r Result) WithContinuation(c string) Result {
	r.Continuation = &c
	return r
}

// Store is the persistence contract for job rows. It is the only permitted
// mutator of the jobs table: PullBatch alone moves rows into running, and
// UpdateTerminal alone moves them out.
type Store interface {
	// Push inserts a job, coalescing into an existing (kind, payload) row.
	// A row currently running is left untouched. Returns the job id and
	// whether the existing row was running.
	Push(ctx context.Context, kind Kind, payload any, nextRun *time.Time) (int64, bool, error)

	// PullBatch atomically claims every eligible queued row, skipping rows
	// locked by a concurrent claimer, and flips them to running.
	PullBatch(ctx context.Context) ([]Job, error)

	// UpdateTerminal writes a job's final or requeued state.
	UpdateTerminal(ctx context.Context, jobID int64, status Status, nextRun *time.Time, lastRun time.Time, continuation *string) error

	// NextQueuedAt returns the earliest next_run among queued rows that are
	// not yet eligible, or nil when none exists.
	NextQueuedAt(ctx context.Context) (*time.Time, error)
}

// Notifier is the best-effort cross-process wake channel. Delivery is not
// guaranteed; the scheduler stays correct without it, just less prompt.
type Notifier interface {
	// Notify announces that a job becomes eligible at the given time.
	Notify(ctx context.Context, at time.Time) error

	// Subscribe returns a stream of announced eligibility times. A nil
	// element means the payload failed to parse.
	Subscribe(ctx context.Context) (<-chan *time.Time, error)
}
