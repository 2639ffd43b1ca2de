package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store for dispatcher and scheduler tests
type fakeStore struct {
	mu       sync.Mutex
	queue    []Job
	terminal []terminalWrite
	nextAt   *time.Time
}

type terminalWrite struct {
	jobID        int64
	status       Status
	nextRun      *time.Time
	continuation *string
}

func (f *fakeStore) Push(ctx context.Context, kind Kind, payload any, nextRun *time.Time) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, false, err
	}
	id := int64(len(f.queue) + 1)
	f.queue = append(f.queue, Job{ID: id, Kind: kind, Payload: body, Status: StatusQueued, NextRun: nextRun})
	return id, false, nil
}

func (f *fakeStore) PullBatch(ctx context.Context) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := f.queue
	f.queue = nil
	for i := range batch {
		batch[i].Status = StatusRunning
	}
	return batch, nil
}

func (f *fakeStore) UpdateTerminal(ctx context.Context, jobID int64, status Status, nextRun *time.Time, lastRun time.Time, continuation *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal = append(f.terminal, terminalWrite{jobID, status, nextRun, continuation})
	return nil
}

func (f *fakeStore) NextQueuedAt(ctx context.Context) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextAt, nil
}

func (f *fakeStore) terminals() []terminalWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]terminalWrite, len(f.terminal))
	copy(out, f.terminal)
	return out
}

// stubRoutines lets each test script the outcome per kind
type stubRoutines struct {
	refreshFeed  func(ctx context.Context) (Result, error)
	collectYT    func(ctx context.Context, payload CollectStreamPayload, continuation *string) (Result, error)
	sendNotified int
}

func (s *stubRoutines) HealthCheck(ctx context.Context) (Result, error) { return Completed(), nil }

func (s *stubRoutines) RefreshFeed(ctx context.Context) (Result, error) {
	if s.refreshFeed != nil {
		return s.refreshFeed(ctx)
	}
	return Completed(), nil
}

func (s *stubRoutines) SubscribePubsub(ctx context.Context) (Result, error) { return Completed(), nil }
func (s *stubRoutines) UpdateChannelStats(ctx context.Context) (Result, error) {
	return Completed(), nil
}
func (s *stubRoutines) UpdateExchangeRates(ctx context.Context) (Result, error) {
	return Completed(), nil
}

func (s *stubRoutines) CollectYouTubeStream(ctx context.Context, payload CollectStreamPayload, continuation *string) (Result, error) {
	if s.collectYT != nil {
		return s.collectYT(ctx, payload, continuation)
	}
	return Completed(), nil
}

func (s *stubRoutines) CollectTwitchStream(ctx context.Context, payload CollectStreamPayload, continuation *string) (Result, error) {
	return Completed(), nil
}

func (s *stubRoutines) SendNotification(ctx context.Context, payload SendNotificationPayload) (Result, error) {
	s.sendNotified++
	return Completed(), nil
}

func TestDispatchCompletedWritesSuccess(t *testing.T) {
	store := &fakeStore{}
	dispatcher := NewDispatcher(store, &stubRoutines{})

	dispatcher.Dispatch(context.Background(), Job{ID: 1, Kind: KindHealthCheck, Payload: []byte(`{}`)})

	writes := store.terminals()
	require.Len(t, writes, 1)
	assert.Equal(t, StatusSuccess, writes[0].status)
	assert.Nil(t, writes[0].nextRun)
}

func TestDispatchErrorWritesFailed(t *testing.T) {
	store := &fakeStore{}
	routines := &stubRoutines{
		refreshFeed: func(ctx context.Context) (Result, error) {
			return Result{}, errors.New("upstream exploded")
		},
	}
	dispatcher := NewDispatcher(store, routines)

	dispatcher.Dispatch(context.Background(), Job{ID: 7, Kind: KindRefreshFeed, Payload: []byte(`{}`)})

	writes := store.terminals()
	require.Len(t, writes, 1)
	assert.Equal(t, int64(7), writes[0].jobID)
	assert.Equal(t, StatusFailed, writes[0].status)
	assert.Nil(t, writes[0].nextRun)
}

func TestDispatchNextRequeuesWithContinuation(t *testing.T) {
	store := &fakeStore{}
	resume := time.Now().Add(5 * time.Minute)
	routines := &stubRoutines{
		collectYT: func(ctx context.Context, payload CollectStreamPayload, continuation *string) (Result, error) {
			assert.Nil(t, continuation)
			return Next(resume).WithContinuation(`{"v":1,"chat":"tok"}`), nil
		},
	}
	dispatcher := NewDispatcher(store, routines)

	dispatcher.Dispatch(context.Background(), Job{
		ID:      3,
		Kind:    KindCollectYouTubeStream,
		Payload: []byte(`{"stream_id":"vid-9"}`),
	})

	writes := store.terminals()
	require.Len(t, writes, 1)
	assert.Equal(t, StatusQueued, writes[0].status)
	require.NotNil(t, writes[0].nextRun)
	assert.True(t, writes[0].nextRun.Equal(resume))
	require.NotNil(t, writes[0].continuation)
	assert.Equal(t, `{"v":1,"chat":"tok"}`, *writes[0].continuation)
}

func TestDispatchThreadsStoredContinuation(t *testing.T) {
	store := &fakeStore{}
	stored := `{"v":1,"metadata":"m","chat":"c"}`
	var received *string
	routines := &stubRoutines{
		collectYT: func(ctx context.Context, payload CollectStreamPayload, continuation *string) (Result, error) {
			received = continuation
			return Completed(), nil
		},
	}
	dispatcher := NewDispatcher(store, routines)

	dispatcher.Dispatch(context.Background(), Job{
		ID:           4,
		Kind:         KindCollectYouTubeStream,
		Payload:      []byte(`{"stream_id":"vid-9"}`),
		Continuation: &stored,
	})

	require.NotNil(t, received)
	assert.Equal(t, stored, *received)
}

func TestDispatchUnknownKindFails(t *testing.T) {
	store := &fakeStore{}
	dispatcher := NewDispatcher(store, &stubRoutines{})

	dispatcher.Dispatch(context.Background(), Job{ID: 9, Kind: Kind("no-such-kind"), Payload: []byte(`{}`)})

	writes := store.terminals()
	require.Len(t, writes, 1)
	assert.Equal(t, StatusFailed, writes[0].status)
}

func TestDispatchBadPayloadFails(t *testing.T) {
	store := &fakeStore{}
	dispatcher := NewDispatcher(store, &stubRoutines{})

	dispatcher.Dispatch(context.Background(), Job{ID: 10, Kind: KindCollectYouTubeStream, Payload: []byte(`{broken`)})

	writes := store.terminals()
	require.Len(t, writes, 1)
	assert.Equal(t, StatusFailed, writes[0].status)
}
