package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWakeChannel is the pub/sub channel jobs are announced on
	DefaultWakeChannel = "stream_jobs_wake"

	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

// PGNotifier implements Notifier on PostgreSQL NOTIFY/LISTEN. Publishing goes
// through the shared pool; the subscription holds its own auto-reconnecting
// connection via pq.Listener.
type PGNotifier struct {
	pool    *pgxpool.Pool
	connStr string
	channel string
}

// NewPGNotifier creates a notifier for the given channel. connStr is needed
// because LISTEN requires a dedicated connection outside the pool.
func NewPGNotifier(pool *pgxpool.Pool, connStr, channel string) *PGNotifier {
	if channel == "" {
		channel = DefaultWakeChannel
	}
	return &PGNotifier{pool: pool, connStr: connStr, channel: channel}
}

// Notify publishes the eligibility time as a decimal millisecond epoch.
// Fire-and-forget: the caller decides whether a failure matters.
func (n *PGNotifier) Notify(ctx context.Context, at time.Time) error {
	payload := strconv.FormatInt(at.UnixMilli(), 10)
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, payload); err != nil {
		return fmt.Errorf("failed to notify %s: %w", n.channel, err)
	}
	return nil
}

// Subscribe opens a process-scoped subscription on the wake channel. The
// returned stream yields the announced time per message, or nil when the
// payload does not parse (callers treat that as "wake almost immediately").
// The subscription closes when ctx is cancelled.
func (n *PGNotifier) Subscribe(ctx context.Context) (<-chan *time.Time, error) {
	listener := pq.NewListener(n.connStr, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Wake listener connection event")
			}
		})

	if err := listener.Listen(n.channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", n.channel, err)
	}

	out := make(chan *time.Time, 16)
	go func() {
		defer close(out)
		defer listener.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-listener.Notify:
				var at *time.Time
				if msg != nil {
					at = parseWakePayload(msg.Extra)
				}
				// A nil msg means the listener reconnected and may have
				// missed notifications; a nil timestamp wakes the
				// scheduler promptly either way.
				select {
				case out <- at:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// parseWakePayload decodes a decimal millisecond epoch, returning nil for
// anything unparseable
func parseWakePayload(payload string) *time.Time {
	ms, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		log.Warn().Str("payload", payload).Msg("Unparseable wake notification payload")
		return nil
	}
	at := time.UnixMilli(ms)
	return &at
}
