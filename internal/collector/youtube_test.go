package collector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/stream-service/internal/jobs"
	"github.com/streamwatch/stream-service/internal/storage"
	"github.com/streamwatch/stream-service/internal/streams"
	"github.com/streamwatch/stream-service/internal/upstream"
)

// memStreams records stream-store calls in memory
type memStreams struct {
	mu         sync.Mutex
	stream     streams.Stream
	deleted    bool
	markedLive bool
	ended      bool
	finalized  bool
	viewerObs  []int64
	chatStats  []struct{ count, members int64 }
	events     []streams.EventKind
}

func (m *memStreams) Get(ctx context.Context, streamID string) (*streams.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stream
	return &st, nil
}

func (m *memStreams) Delete(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = true
	return nil
}

func (m *memStreams) MarkLive(ctx context.Context, streamID, title string, startTime time.Time, likeCount *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markedLive = true
	m.stream.Status = streams.StatusLive
	return nil
}

func (m *memStreams) MarkEnded(ctx context.Context, streamID string, endTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = true
	m.stream.Status = streams.StatusEnded
	return nil
}

func (m *memStreams) UpdateFinal(ctx context.Context, streamID, title string, likeCount *int64, startTime, endTime *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
	return nil
}

func (m *memStreams) UpsertViewerStat(ctx context.Context, streamID string, at time.Time, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewerObs = append(m.viewerObs, value)
	return nil
}

func (m *memStreams) AddChatStats(ctx context.Context, streamID string, at time.Time, count, fromMembers int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatStats = append(m.chatStats, struct{ count, members int64 }{count, fromMembers})
	return nil
}

func (m *memStreams) AddEvent(ctx context.Context, streamID string, at time.Time, kind streams.EventKind, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, kind)
	return nil
}

// memJobs records pushed jobs
type memJobs struct {
	mu     sync.Mutex
	pushed []jobs.Kind
}

func (m *memJobs) Push(ctx context.Context, kind jobs.Kind, payload any, nextRun *time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = append(m.pushed, kind)
	return int64(len(m.pushed)), false, nil
}

func (m *memJobs) PullBatch(ctx context.Context) ([]jobs.Job, error) { return nil, nil }

func (m *memJobs) UpdateTerminal(ctx context.Context, jobID int64, status jobs.Status, nextRun *time.Time, lastRun time.Time, continuation *string) error {
	return nil
}

func (m *memJobs) NextQueuedAt(ctx context.Context) (*time.Time, error) { return nil, nil }

func (m *memJobs) pushCount(kind jobs.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.pushed {
		if k == kind {
			n++
		}
	}
	return n
}

// scriptedMetadata serves a fixed sequence of pages, repeating the last one
type scriptedMetadata struct {
	mu    sync.Mutex
	pages []*upstream.MetadataPage
	calls int
}

func (s *scriptedMetadata) FetchMetadata(ctx context.Context, streamID, continuation string) (*upstream.MetadataPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.pages) {
		i = len(s.pages) - 1
	}
	return s.pages[i], nil
}

type scriptedChat struct {
	page *upstream.ChatPage
}

func (s *scriptedChat) FetchChat(ctx context.Context, continuation string) (*upstream.ChatPage, error) {
	if s.page != nil {
		return s.page, nil
	}
	return &upstream.ChatPage{Continuation: continuation, Timeout: 20 * time.Millisecond}, nil
}

type fakeVideos struct {
	thumbErr error
}

func (f *fakeVideos) FetchStreamInfo(ctx context.Context, streamID string) (*upstream.StreamInfo, error) {
	now := time.Now()
	like := int64(42)
	return &upstream.StreamInfo{Title: "final title", LikeCount: &like, StartTime: &now, EndTime: &now}, nil
}

func (f *fakeVideos) FetchThumbnail(ctx context.Context, streamID string) ([]byte, error) {
	if f.thumbErr != nil {
		return nil, f.thumbErr
	}
	return []byte{0xff, 0xd8, 0xff}, nil
}

type memSnapshots struct {
	mu   sync.Mutex
	keys []string
}

func (m *memSnapshots) Put(ctx context.Context, key string, data io.Reader, metadata storage.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

func (m *memSnapshots) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not found")
}
func (m *memSnapshots) GetInfo(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	return nil, errors.New("not found")
}
func (m *memSnapshots) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (m *memSnapshots) Delete(ctx context.Context, key string) error         { return nil }
func (m *memSnapshots) List(ctx context.Context, prefix string) ([]*storage.ObjectInfo, error) {
	return nil, nil
}

func timeoutPtr(d time.Duration) *time.Duration { return &d }

func liveStream() streams.Stream {
	return streams.Stream{
		StreamID:  "vid-1",
		Platform:  streams.PlatformYouTube,
		ChannelID: "UCchan",
		Status:    streams.StatusLive,
	}
}

func newTestCollector(st *memStreams, jq *memJobs, md upstream.MetadataClient, chat upstream.ChatClient) (*YouTubeCollector, *memSnapshots) {
	snaps := &memSnapshots{}
	return NewYouTubeCollector(st, jq, md, chat, &fakeVideos{}, snaps), snaps
}

func TestCollectEndsOnLongPollInterval(t *testing.T) {
	st := &memStreams{stream: liveStream()}
	jq := &memJobs{}
	md := &scriptedMetadata{pages: []*upstream.MetadataPage{
		{Timeout: timeoutPtr(10 * time.Millisecond), Continuation: "m1", ViewCount: ptr(int64(100))},
		{Timeout: timeoutPtr(10 * time.Second), Continuation: "m2", ViewCount: ptr(int64(90))},
	}}
	c, snaps := newTestCollector(st, jq, md, &scriptedChat{})

	result, err := c.Collect(context.Background(), "vid-1", nil)
	require.NoError(t, err)
	assert.Nil(t, result.NextRun, "clean end completes the job")

	assert.True(t, st.finalized, "final metadata persisted")
	assert.Contains(t, st.viewerObs, int64(100))
	assert.Equal(t, 1, jq.pushCount(jobs.KindSendNotification))

	snaps.mu.Lock()
	defer snaps.mu.Unlock()
	require.Len(t, snaps.keys, 1)
	assert.Equal(t, storage.BuildThumbnailKey("youtube", "vid-1"), snaps.keys[0])
}

func TestCollectShutdownRequeuesWithCursor(t *testing.T) {
	st := &memStreams{stream: liveStream()}
	jq := &memJobs{}
	md := &scriptedMetadata{pages: []*upstream.MetadataPage{
		{Timeout: timeoutPtr(10 * time.Millisecond), Continuation: "meta-pos", ViewCount: ptr(int64(10))},
	}}
	chat := &scriptedChat{page: &upstream.ChatPage{Continuation: "chat-pos", Timeout: 10 * time.Millisecond}}
	c, _ := newTestCollector(st, jq, md, chat)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(80 * time.Millisecond)
		cancel()
	}()

	result, err := c.Collect(ctx, "vid-1", nil)
	require.NoError(t, err, "shutdown is not a failure")
	require.NotNil(t, result.NextRun, "shutdown requeues the job")
	assert.WithinDuration(t, time.Now(), *result.NextRun, 2*time.Second)

	require.NotNil(t, result.Continuation)
	meta, chatCur, err := parseCursor(result.Continuation)
	require.NoError(t, err)
	assert.Equal(t, "meta-pos", meta)
	assert.Equal(t, "chat-pos", chatCur)
}

func TestCollectGoneDeletesScheduledStream(t *testing.T) {
	st := &memStreams{stream: streams.Stream{
		StreamID: "vid-1", Platform: streams.PlatformYouTube,
		ChannelID: "UCchan", Status: streams.StatusScheduled,
	}}
	jq := &memJobs{}
	md := &scriptedMetadata{pages: []*upstream.MetadataPage{{}}} // Gone: no timeout, no continuation
	c, _ := newTestCollector(st, jq, md, &scriptedChat{})

	result, err := c.Collect(context.Background(), "vid-1", nil)
	require.NoError(t, err)
	assert.Nil(t, result.NextRun)
	assert.True(t, st.deleted, "a stream that never started leaves no row")
	assert.False(t, st.ended)
}

func TestCollectGoneEndsLiveStream(t *testing.T) {
	st := &memStreams{stream: liveStream()}
	jq := &memJobs{}
	md := &scriptedMetadata{pages: []*upstream.MetadataPage{{}}}
	c, _ := newTestCollector(st, jq, md, &scriptedChat{})

	result, err := c.Collect(context.Background(), "vid-1", nil)
	require.NoError(t, err)
	assert.Nil(t, result.NextRun)
	assert.True(t, st.ended)
	assert.False(t, st.deleted)
}

func TestCollectScheduledGoesLive(t *testing.T) {
	st := &memStreams{stream: streams.Stream{
		StreamID: "vid-1", Platform: streams.PlatformYouTube,
		ChannelID: "UCchan", Status: streams.StatusScheduled,
	}}
	jq := &memJobs{}
	md := &scriptedMetadata{pages: []*upstream.MetadataPage{
		{Timeout: timeoutPtr(10 * time.Millisecond), Continuation: "m0", IsWaiting: true},
		{Timeout: timeoutPtr(10 * time.Millisecond), Continuation: "m1", ViewCount: ptr(int64(5))},
		{Timeout: timeoutPtr(10 * time.Second), Continuation: "m2"},
	}}
	c, _ := newTestCollector(st, jq, md, &scriptedChat{})

	result, err := c.Collect(context.Background(), "vid-1", nil)
	require.NoError(t, err)
	assert.Nil(t, result.NextRun)

	assert.True(t, st.markedLive, "waiting stream transitioned to live")
	// One notification for going live, one for the end.
	assert.Equal(t, 2, jq.pushCount(jobs.KindSendNotification))
}

func TestCollectUpstreamErrorFailsJob(t *testing.T) {
	st := &memStreams{stream: liveStream()}
	jq := &memJobs{}
	c, _ := newTestCollector(st, jq, &failingMetadata{}, &scriptedChat{})

	_, err := c.Collect(context.Background(), "vid-1", nil)
	assert.Error(t, err, "transient upstream failure surfaces as the routine error")
}

type failingMetadata struct{}

func (f *failingMetadata) FetchMetadata(ctx context.Context, streamID, continuation string) (*upstream.MetadataPage, error) {
	return nil, errors.New("upstream 503")
}

func TestPersistChatPage(t *testing.T) {
	st := &memStreams{stream: liveStream()}
	jq := &memJobs{}
	c, _ := newTestCollector(st, jq, &scriptedMetadata{pages: []*upstream.MetadataPage{{}}}, &scriptedChat{})

	at := time.Date(2026, 8, 31, 12, 0, 3, 0, time.UTC)
	page := &upstream.ChatPage{Messages: []upstream.ChatMessage{
		{Kind: upstream.ChatText, Time: at},
		{Kind: upstream.ChatText, Time: at.Add(2 * time.Second), AuthorIsMember: true},
		{Kind: upstream.ChatText, Time: at.Add(20 * time.Second)},
		{Kind: upstream.ChatMembership, Time: at, Raw: []byte(`{}`)},
		{Kind: upstream.ChatPaid, Time: at, Raw: []byte(`{}`)},
	}}

	require.NoError(t, c.persistChatPage(context.Background(), "vid-1", page))

	// Two buckets: [12:00:00, +15s) with 2 messages (1 member), and the
	// 20s-offset message alone in the next bucket.
	require.Len(t, st.chatStats, 2)
	total, members := int64(0), int64(0)
	for _, s := range st.chatStats {
		total += s.count
		members += s.members
	}
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), members)

	assert.ElementsMatch(t, []streams.EventKind{streams.EventMembership, streams.EventPaid}, st.events)
}

func ptr[T any](v T) *T { return &v }
