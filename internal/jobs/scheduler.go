package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// unparseableWakeDelay is how soon the loop wakes when a notification
// payload cannot be parsed.
const unparseableWakeDelay = time.Second

// Scheduler is the per-process control loop: claim eligible jobs, hand each
// to the dispatcher on its own goroutine, then sleep until the earliest known
// next_run or a wake notification, whichever comes first. Several processes
// may run this loop against the same database.
type Scheduler struct {
	store        Store
	notifier     Notifier
	dispatcher   *Dispatcher
	maxIdleSleep time.Duration

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. maxIdleSleep is the fallback ceiling that
// keeps the loop correct even if every wake notification is dropped.
func NewScheduler(store Store, notifier Notifier, dispatcher *Dispatcher, maxIdleSleep time.Duration) *Scheduler {
	if maxIdleSleep <= 0 {
		maxIdleSleep = time.Minute
	}
	return &Scheduler{
		store:        store,
		notifier:     notifier,
		dispatcher:   dispatcher,
		maxIdleSleep: maxIdleSleep,
	}
}

// Run executes the loop until ctx is cancelled, then blocks until every
// in-flight job goroutine has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	// Subscribe before the first claim so a notification emitted between
	// "compute next sleep" and "start waiting" cannot be missed.
	wake, err := s.notifier.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to wake channel: %w", err)
	}

	log.Info().Dur("max_idle_sleep", s.maxIdleSleep).Msg("Scheduler started")

	for ctx.Err() == nil {
		s.claimAndDispatch(ctx)

		target := time.Now().Add(s.maxIdleSleep)
		if at, err := s.store.NextQueuedAt(ctx); err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("Failed to read next queued time")
			}
		} else if at != nil && at.Before(target) {
			target = *at
		}

		if !s.sleep(ctx, wake, target) {
			break
		}
	}

	log.Info().Msg("Scheduler stopping, waiting for in-flight jobs")
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
	return nil
}

// claimAndDispatch pulls one batch and spawns a detached goroutine per job.
// One slow job must not delay claiming or dispatching the others.
func (s *Scheduler) claimAndDispatch(ctx context.Context) {
	batch, err := s.store.PullBatch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to claim jobs")
		}
		return
	}
	if len(batch) == 0 {
		return
	}

	jobsClaimed.Add(float64(len(batch)))
	log.Info().Int("count", len(batch)).Msg("Claimed jobs")

	for _, job := range batch {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatcher.Dispatch(ctx, job)
		}()
	}
}

// sleep waits until target, shrinking the wait when an earlier eligibility
// time is announced. Returns false when ctx is cancelled.
func (s *Scheduler) sleep(ctx context.Context, wake <-chan *time.Time, target time.Time) bool {
	for {
		remaining := time.Until(target)
		if remaining <= 0 {
			return true
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false

		case <-timer.C:
			return true

		case at, ok := <-wake:
			timer.Stop()
			if !ok {
				if ctx.Err() != nil {
					return false
				}
				// Subscription died while running; the fallback timer
				// keeps the loop correct without it.
				log.Warn().Msg("Wake subscription closed, relying on fallback timer")
				wake = nil
				continue
			}
			wakeNotifications.Inc()
			if at == nil {
				if soon := time.Now().Add(unparseableWakeDelay); soon.Before(target) {
					target = soon
				}
				continue
			}
			if !at.After(time.Now()) {
				return true
			}
			if at.Before(target) {
				target = *at
			}
		}
	}
}
