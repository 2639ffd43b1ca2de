package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamwatch/stream-service/internal/database"
	"github.com/streamwatch/stream-service/internal/jobs"
)

var listLimit int

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List job rows",
	Long: `List the most recently updated job rows. This is the operational view
for spotting failed jobs (candidates for resubmission via push) and jobs
stuck in running.`,
	Example: `  stream-service list
  stream-service list --limit 100`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of rows to show")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool := database.Pool()
	notifier := jobs.NewPGNotifier(pool, "", cfg.Scheduler.WakeChannel)
	store := jobs.NewPGStore(pool, notifier)

	rows, err := store.List(ctx, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tNEXT RUN\tLAST RUN\tPAYLOAD")
	for _, job := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Kind, job.Status,
			formatTime(job.NextRun), formatTime(job.LastRun),
			string(job.Payload))
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
