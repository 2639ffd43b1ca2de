package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const terminalWriteTimeout = 10 * time.Second

// Routines is the set of execution routines the dispatcher maps job kinds
// onto. One implementation lives in the collector package.
type Routines interface {
	HealthCheck(ctx context.Context) (Result, error)
	RefreshFeed(ctx context.Context) (Result, error)
	SubscribePubsub(ctx context.Context) (Result, error)
	UpdateChannelStats(ctx context.Context) (Result, error)
	UpdateExchangeRates(ctx context.Context) (Result, error)
	CollectYouTubeStream(ctx context.Context, payload CollectStreamPayload, continuation *string) (Result, error)
	CollectTwitchStream(ctx context.Context, payload CollectStreamPayload, continuation *string) (Result, error)
	SendNotification(ctx context.Context, payload SendNotificationPayload) (Result, error)
}

// Dispatcher routes claimed jobs to their routine, instruments the run, and
// persists the outcome.
type Dispatcher struct {
	store    Store
	routines Routines
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher over the given store and routine set
func NewDispatcher(store Store, routines Routines) *Dispatcher {
	return &Dispatcher{
		store:    store,
		routines: routines,
		tracer:   otel.Tracer("jobs"),
	}
}

// Dispatch executes one claimed job to completion and persists its terminal
// or requeued state. It never returns an error: routine failures become a
// failed row, and terminal-write failures are logged and swallowed (the row
// stays running and is surfaced operationally, not retried here).
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) {
	// Periodic liveness probes would drown out real work in traces/logs.
	quiet := job.Kind == KindHealthCheck

	if !quiet {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "job.run", trace.WithAttributes(
			attribute.Int64("job.id", job.ID),
			attribute.String("job.kind", string(job.Kind)),
		))
		defer span.End()
		defer func() {
			if r := recover(); r != nil {
				span.SetStatus(codes.Error, fmt.Sprint(r))
				panic(r)
			}
		}()

		log.Info().
			Int64("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Msg("Running job")
	}

	jobsInFlight.Inc()
	started := time.Now()
	result, err := d.run(ctx, job)
	elapsed := time.Since(started)
	jobsInFlight.Dec()

	outcome := "ok"
	if err != nil {
		outcome = "err"
	}
	jobDuration.WithLabelValues(string(job.Kind), outcome).Observe(elapsed.Seconds())
	jobRuns.WithLabelValues(string(job.Kind), outcome).Inc()

	// The terminal write must survive shutdown: a routine that was cancelled
	// cooperatively still needs its requeued state persisted.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	lastRun := time.Now()
	switch {
	case err != nil:
		log.Error().Err(err).
			Int64("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Dur("elapsed", elapsed).
			Msg("Job failed")
		d.writeTerminal(writeCtx, job, StatusFailed, nil, lastRun, nil)

	case result.NextRun != nil:
		if !quiet {
			log.Info().
				Int64("job_id", job.ID).
				Str("kind", string(job.Kind)).
				Time("next_run", *result.NextRun).
				Dur("elapsed", elapsed).
				Msg("Job requeued")
		}
		d.writeTerminal(writeCtx, job, StatusQueued, result.NextRun, lastRun, result.Continuation)

	default:
		if !quiet {
			log.Info().
				Int64("job_id", job.ID).
				Str("kind", string(job.Kind)).
				Dur("elapsed", elapsed).
				Msg("Job completed")
		}
		d.writeTerminal(writeCtx, job, StatusSuccess, nil, lastRun, nil)
	}
}

// run decodes the payload and invokes the routine for the job's kind. This is
// the single exhaustive mapping from kind to routine.
func (d *Dispatcher) run(ctx context.Context, job Job) (Result, error) {
	switch job.Kind {
	case KindHealthCheck:
		return d.routines.HealthCheck(ctx)

	case KindRefreshFeed:
		return d.routines.RefreshFeed(ctx)

	case KindSubscribePubsub:
		return d.routines.SubscribePubsub(ctx)

	case KindUpdateChannelStats:
		return d.routines.UpdateChannelStats(ctx)

	case KindUpdateExchangeRates:
		return d.routines.UpdateExchangeRates(ctx)

	case KindCollectYouTubeStream:
		var payload CollectStreamPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return Result{}, fmt.Errorf("failed to decode payload: %w", err)
		}
		return d.routines.CollectYouTubeStream(ctx, payload, job.Continuation)

	case KindCollectTwitchStream:
		var payload CollectStreamPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return Result{}, fmt.Errorf("failed to decode payload: %w", err)
		}
		return d.routines.CollectTwitchStream(ctx, payload, job.Continuation)

	case KindSendNotification:
		var payload SendNotificationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return Result{}, fmt.Errorf("failed to decode payload: %w", err)
		}
		return d.routines.SendNotification(ctx, payload)

	default:
		return Result{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// writeTerminal persists the final state, best-effort. An un-persisted
// terminal state leaves the row running; it will not progress and must be
// detected operationally.
func (d *Dispatcher) writeTerminal(ctx context.Context, job Job, status Status, nextRun *time.Time, lastRun time.Time, continuation *string) {
	if err := d.store.UpdateTerminal(ctx, job.ID, status, nextRun, lastRun, continuation); err != nil {
		terminalWriteFailures.Inc()
		log.Error().Err(err).
			Int64("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Str("status", string(status)).
			Msg("Failed to persist job outcome, row remains running")
	}
}
