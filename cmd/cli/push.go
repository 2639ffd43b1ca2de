package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamwatch/stream-service/internal/database"
	"github.com/streamwatch/stream-service/internal/jobs"
)

var (
	pushPayload string
	pushDelay   time.Duration
	pushAt      string
)

// pushCmd represents the push command
var pushCmd = &cobra.Command{
	Use:   "push <kind>",
	Short: "Push a job onto the queue",
	Long: `Push a job onto the queue. Pushing an existing (kind, payload) pair
coalesces into the existing row: a failed job is requeued, a running job is
left untouched. This is the manual resubmission path for failed jobs.`,
	Example: `  stream-service push health-check
  stream-service push collect-youtube-stream-metadata --payload '{"stream_id":"qNeJhJVDOS8"}'
  stream-service push refresh-feed --delay 15m
  stream-service push send-notification --payload '{"stream_id":"qNeJhJVDOS8"}' --at 2026-09-01T12:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().StringVar(&pushPayload, "payload", "{}", "Job payload as JSON")
	pushCmd.Flags().DurationVar(&pushDelay, "delay", 0, "Run the job this long from now")
	pushCmd.Flags().StringVar(&pushAt, "at", "", "Run the job at this RFC3339 time (overrides --delay)")
}

func runPush(cmd *cobra.Command, args []string) error {
	kind := jobs.Kind(args[0])
	if !validKind(kind) {
		return fmt.Errorf("unknown job kind: %s", kind)
	}

	var payload json.RawMessage
	if err := json.Unmarshal([]byte(pushPayload), &payload); err != nil {
		return fmt.Errorf("invalid payload JSON: %w", err)
	}

	var nextRun *time.Time
	switch {
	case pushAt != "":
		at, err := time.Parse(time.RFC3339, pushAt)
		if err != nil {
			return fmt.Errorf("invalid --at value: %w", err)
		}
		nextRun = &at
	case pushDelay > 0:
		at := time.Now().Add(pushDelay)
		nextRun = &at
	}

	ctx := context.Background()
	pool := database.Pool()
	notifier := jobs.NewPGNotifier(pool, "", cfg.Scheduler.WakeChannel)
	store := jobs.NewPGStore(pool, notifier)

	id, wasRunning, err := store.Push(ctx, kind, payload, nextRun)
	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}

	if wasRunning {
		logger.Warn().Int64("job_id", id).Msg("Job is currently running, left untouched")
	} else {
		logger.Info().Int64("job_id", id).Str("kind", string(kind)).Msg("Job queued")
	}
	return nil
}

func validKind(kind jobs.Kind) bool {
	switch kind {
	case jobs.KindHealthCheck, jobs.KindRefreshFeed, jobs.KindSubscribePubsub,
		jobs.KindUpdateChannelStats, jobs.KindUpdateExchangeRates,
		jobs.KindCollectYouTubeStream, jobs.KindCollectTwitchStream,
		jobs.KindSendNotification:
		return true
	}
	return false
}
