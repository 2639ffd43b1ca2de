// Package collector implements the execution routines behind the job
// dispatcher, most notably the long-running stream collectors.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/streamwatch/stream-service/internal/jobs"
	"github.com/streamwatch/stream-service/internal/storage"
	"github.com/streamwatch/stream-service/internal/streams"
	"github.com/streamwatch/stream-service/internal/upstream"
	"github.com/streamwatch/stream-service/internal/ytchat"
)

// endedTimeoutThreshold is the metadata poll interval above which the
// upstream is telling us the stream is over: a live stream is polled every
// few seconds, an ended one gets a long back-off hint.
const endedTimeoutThreshold = 5 * time.Second

// defaultPollInterval is used when the upstream omits a timeout hint
const defaultPollInterval = 5 * time.Second

// errStreamDone signals that the metadata loop reached a terminal stream
// state and the whole collection race should wind down.
var errStreamDone = errors.New("stream collection finished")

// StreamStore is the slice of the streams store the collectors use
type StreamStore interface {
	Get(ctx context.Context, streamID string) (*streams.Stream, error)
	Delete(ctx context.Context, streamID string) error
	MarkLive(ctx context.Context, streamID string, title string, startTime time.Time, likeCount *int64) error
	MarkEnded(ctx context.Context, streamID string, endTime time.Time) error
	UpdateFinal(ctx context.Context, streamID string, title string, likeCount *int64, startTime, endTime *time.Time) error
	UpsertViewerStat(ctx context.Context, streamID string, at time.Time, value int64) error
	AddChatStats(ctx context.Context, streamID string, at time.Time, count, fromMembers int64) error
	AddEvent(ctx context.Context, streamID string, at time.Time, kind streams.EventKind, value json.RawMessage) error
}

// YouTubeCollector runs the live collection race for one YouTube stream:
// a metadata-poll loop and a chat-poll loop racing each other and the
// process shutdown signal. Each poll iteration persists its statistics
// before advancing, so losing branches abandon at most one iteration.
type YouTubeCollector struct {
	streams   StreamStore
	jobs      jobs.Store
	metadata  upstream.MetadataClient
	chat      upstream.ChatClient
	videos    upstream.VideosClient
	snapshots storage.Storage
}

// NewYouTubeCollector wires the collector to its stores and upstream clients
func NewYouTubeCollector(
	streamStore StreamStore,
	jobStore jobs.Store,
	metadata upstream.MetadataClient,
	chat upstream.ChatClient,
	videos upstream.VideosClient,
	snapshots storage.Storage,
) *YouTubeCollector {
	return &YouTubeCollector{
		streams:   streamStore,
		jobs:      jobStore,
		metadata:  metadata,
		chat:      chat,
		videos:    videos,
		snapshots: snapshots,
	}
}

// cursorState holds the latest upstream cursors of both loops. Each loop
// writes only its own cursor, but the shutdown path snapshots the pair from
// the job goroutine, hence the lock.
type cursorState struct {
	mu       sync.Mutex
	metadata string
	chat     string
}

func (c *cursorState) setMetadata(v string) {
	c.mu.Lock()
	c.metadata = v
	c.mu.Unlock()
}

func (c *cursorState) setChat(v string) {
	c.mu.Lock()
	c.chat = v
	c.mu.Unlock()
}

func (c *cursorState) snapshot() (metadata, chat string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata, c.chat
}

// Collect polls one stream until it ends or the process shuts down. On a
// clean end it returns a completed result; on shutdown it returns a requeue
// for now carrying the last persisted cursors, so the next invocation
// resumes instead of starting over.
func (c *YouTubeCollector) Collect(ctx context.Context, streamID string, continuation *string) (jobs.Result, error) {
	metaCursor, chatCursor, err := parseCursor(continuation)
	if err != nil {
		// A cursor we cannot read is a cursor we minted wrong; starting
		// fresh loses position but keeps the stream collectable.
		log.Warn().Err(err).Str("stream_id", streamID).Msg("Discarding unreadable cursor")
		metaCursor, chatCursor = "", ""
	}

	st, err := c.streams.Get(ctx, streamID)
	if err != nil {
		return jobs.Result{}, err
	}
	if st.Status == streams.StatusEnded {
		log.Info().Str("stream_id", streamID).Msg("Stream already ended, nothing to collect")
		return jobs.Completed(), nil
	}

	if chatCursor == "" {
		chatCursor = ytchat.LiveContinuation(st.ChannelID, streamID)
	}
	state := &cursorState{metadata: metaCursor, chat: chatCursor}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.metadataLoop(gctx, streamID, st.Status, state)
	})
	g.Go(func() error {
		return c.chatLoop(gctx, streamID, state)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errStreamDone):
		return jobs.Completed(), nil

	case ctx.Err() != nil:
		// Shutdown won the race. Requeue immediately with the cursors as
		// of the last completed poll iterations.
		meta, chat := state.snapshot()
		ser, serErr := serializeCursor(meta, chat)
		if serErr != nil {
			return jobs.Result{}, serErr
		}
		log.Info().Str("stream_id", streamID).Msg("Collection interrupted by shutdown, requeueing")
		return jobs.Next(time.Now()).WithContinuation(ser), nil

	default:
		return jobs.Result{}, err
	}
}

// metadataLoop polls stream metadata until the stream is gone or ended
// upstream. It owns the stream-state transitions.
func (c *YouTubeCollector) metadataLoop(ctx context.Context, streamID string, status streams.Status, state *cursorState) error {
	for {
		metaCursor, _ := state.snapshot()
		page, err := c.metadata.FetchMetadata(ctx, streamID, metaCursor)
		if err != nil {
			return err
		}

		if page.Gone() {
			if status == streams.StatusScheduled {
				// Never started; the row is noise, not history.
				log.Info().Str("stream_id", streamID).Msg("Scheduled stream vanished upstream, deleting")
				if err := c.streams.Delete(ctx, streamID); err != nil {
					return err
				}
			} else {
				log.Info().Str("stream_id", streamID).Msg("Stream gone upstream, marking ended")
				if err := c.streams.MarkEnded(ctx, streamID, time.Now()); err != nil {
					return err
				}
			}
			return errStreamDone
		}

		state.setMetadata(page.Continuation)

		timeout := defaultPollInterval
		if page.Timeout != nil {
			timeout = *page.Timeout
		}

		if page.IsWaiting {
			if err := sleep(ctx, timeout); err != nil {
				return err
			}
			continue
		}

		now := time.Now()
		if page.ViewCount != nil {
			if err := c.streams.UpsertViewerStat(ctx, streamID, now, *page.ViewCount); err != nil {
				return err
			}
		}

		// A long poll interval on a stream that was live means the upstream
		// has stopped serving it live: it just ended.
		if timeout > endedTimeoutThreshold {
			if err := c.finalize(ctx, streamID); err != nil {
				return err
			}
			return errStreamDone
		}

		if status == streams.StatusScheduled {
			title := ""
			if page.Title != nil {
				title = *page.Title
			}
			if err := c.streams.MarkLive(ctx, streamID, title, now, page.LikeCount); err != nil {
				return err
			}
			status = streams.StatusLive
			log.Info().Str("stream_id", streamID).Msg("Stream went live")
			c.enqueueNotification(ctx, streamID)
		}

		if err := sleep(ctx, timeout); err != nil {
			return err
		}
	}
}

// chatLoop polls live chat indefinitely, bucketing text messages and
// persisting membership/paid events individually. It never terminates on
// its own; it exits when the metadata loop or shutdown cancels the group.
func (c *YouTubeCollector) chatLoop(ctx context.Context, streamID string, state *cursorState) error {
	for {
		_, chatCursor := state.snapshot()
		page, err := c.chat.FetchChat(ctx, chatCursor)
		if err != nil {
			return err
		}
		state.setChat(page.Continuation)

		if err := c.persistChatPage(ctx, streamID, page); err != nil {
			return err
		}

		timeout := page.Timeout
		if timeout <= 0 {
			timeout = time.Second
		}
		if err := sleep(ctx, timeout); err != nil {
			return err
		}
	}
}

type chatBucket struct {
	count       int64
	fromMembers int64
}

func (c *YouTubeCollector) persistChatPage(ctx context.Context, streamID string, page *upstream.ChatPage) error {
	buckets := make(map[time.Time]*chatBucket)
	for _, msg := range page.Messages {
		switch msg.Kind {
		case upstream.ChatText:
			b := buckets[streams.Bucket(msg.Time)]
			if b == nil {
				b = &chatBucket{}
				buckets[streams.Bucket(msg.Time)] = b
			}
			b.count++
			if msg.AuthorIsMember {
				b.fromMembers++
			}

		case upstream.ChatMembership:
			if err := c.streams.AddEvent(ctx, streamID, msg.Time, streams.EventMembership, msg.Raw); err != nil {
				return err
			}

		case upstream.ChatPaid:
			if err := c.streams.AddEvent(ctx, streamID, msg.Time, streams.EventPaid, msg.Raw); err != nil {
				return err
			}
		}
	}

	for at, b := range buckets {
		if err := c.streams.AddChatStats(ctx, streamID, at, b.count, b.fromMembers); err != nil {
			return err
		}
	}
	return nil
}

// finalize runs the end-of-stream sequence: authoritative metadata from the
// secondary source, a thumbnail snapshot, and the notification job.
func (c *YouTubeCollector) finalize(ctx context.Context, streamID string) error {
	log.Info().Str("stream_id", streamID).Msg("Stream ended, finalizing")

	info, err := c.videos.FetchStreamInfo(ctx, streamID)
	if err != nil {
		return err
	}
	if err := c.streams.UpdateFinal(ctx, streamID, info.Title, info.LikeCount, info.StartTime, info.EndTime); err != nil {
		return err
	}

	// The snapshot is auxiliary: losing it degrades the archive, not the
	// collected statistics.
	if thumb, err := c.videos.FetchThumbnail(ctx, streamID); err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("Failed to fetch final thumbnail")
	} else {
		key := storage.BuildThumbnailKey(string(streams.PlatformYouTube), streamID)
		meta := storage.Metadata{
			ContentType: "image/jpeg",
			StreamID:    streamID,
			Platform:    string(streams.PlatformYouTube),
			CapturedAt:  time.Now().UTC(),
		}
		if err := c.snapshots.Put(ctx, key, bytes.NewReader(thumb), meta); err != nil {
			log.Warn().Err(err).Str("stream_id", streamID).Msg("Failed to store final thumbnail")
		}
	}

	if _, _, err := c.jobs.Push(ctx, jobs.KindSendNotification, jobs.SendNotificationPayload{StreamID: streamID}, nil); err != nil {
		return err
	}
	return nil
}

// enqueueNotification pushes a send-notification job, best-effort
func (c *YouTubeCollector) enqueueNotification(ctx context.Context, streamID string) {
	if _, _, err := c.jobs.Push(ctx, jobs.KindSendNotification, jobs.SendNotificationPayload{StreamID: streamID}, nil); err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("Failed to enqueue notification job")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
