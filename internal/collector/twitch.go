package collector

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamwatch/stream-service/internal/jobs"
	"github.com/streamwatch/stream-service/internal/streams"
	"github.com/streamwatch/stream-service/internal/upstream"
)

// twitchPollInterval matches the stats bucket width: one sample per bucket
// is all the monotonic-max aggregation can use.
const twitchPollInterval = streams.BucketWidth

// TwitchCollector polls viewer counts for one Twitch stream. Twitch exposes
// no chat continuation to us, so this is a single loop with no upstream
// cursor; shutdown requeues without a continuation.
type TwitchCollector struct {
	streams StreamStore
	jobs    jobs.Store
	twitch  upstream.TwitchClient
}

// NewTwitchCollector wires the collector to its store and upstream client
func NewTwitchCollector(streamStore StreamStore, jobStore jobs.Store, twitch upstream.TwitchClient) *TwitchCollector {
	return &TwitchCollector{
		streams: streamStore,
		jobs:    jobStore,
		twitch:  twitch,
	}
}

// Collect polls one Twitch stream until it goes offline or the process
// shuts down.
func (c *TwitchCollector) Collect(ctx context.Context, streamID string, _ *string) (jobs.Result, error) {
	st, err := c.streams.Get(ctx, streamID)
	if err != nil {
		return jobs.Result{}, err
	}
	if st.Status == streams.StatusEnded {
		log.Info().Str("stream_id", streamID).Msg("Stream already ended, nothing to collect")
		return jobs.Completed(), nil
	}
	status := st.Status

	for {
		page, err := c.twitch.FetchStream(ctx, streamID)
		if err != nil {
			if ctx.Err() != nil {
				return jobs.Next(time.Now()), nil
			}
			return jobs.Result{}, err
		}

		now := time.Now()
		switch {
		case page.Live:
			if status == streams.StatusScheduled {
				if err := c.streams.MarkLive(ctx, streamID, page.Title, now, nil); err != nil {
					return jobs.Result{}, err
				}
				status = streams.StatusLive
				log.Info().Str("stream_id", streamID).Msg("Stream went live")
				c.enqueueNotification(ctx, streamID)
			}
			if page.ViewerCount != nil {
				if err := c.streams.UpsertViewerStat(ctx, streamID, now, *page.ViewerCount); err != nil {
					return jobs.Result{}, err
				}
			}

		case status == streams.StatusLive:
			log.Info().Str("stream_id", streamID).Msg("Stream went offline, marking ended")
			if err := c.streams.MarkEnded(ctx, streamID, now); err != nil {
				return jobs.Result{}, err
			}
			c.enqueueNotification(ctx, streamID)
			return jobs.Completed(), nil

		default:
			// Scheduled and not yet live: keep waiting.
		}

		if err := sleep(ctx, twitchPollInterval); err != nil {
			// Shutdown, not failure: requeue so the next worker resumes.
			return jobs.Next(time.Now()), nil
		}
	}
}

func (c *TwitchCollector) enqueueNotification(ctx context.Context, streamID string) {
	if _, _, err := c.jobs.Push(ctx, jobs.KindSendNotification, jobs.SendNotificationPayload{StreamID: streamID}, nil); err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("Failed to enqueue notification job")
	}
}
