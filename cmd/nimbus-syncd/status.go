package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/flags"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and job queue counts",
		Long: `Show whether the daemon is running and paused, plus a breakdown of
sync jobs by lifecycle state (pending, processing, blocked).`,
		RunE: runStatus,
	}
}

// jobCounts summarizes sync_jobs by non-terminal lifecycle state, plus
// BLOCKED, which needs an operator's attention.
type jobCounts struct {
	pending    int
	processing int
	blocked    int
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	st, err := openStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	reg := flags.New(st)

	running, err := reg.Running(ctx)
	if err != nil {
		return fmt.Errorf("reading running flag: %w", err)
	}

	paused, err := reg.Paused(ctx)
	if err != nil {
		return fmt.Errorf("reading paused flag: %w", err)
	}

	draining, err := reg.DrainRequested(ctx)
	if err != nil {
		return fmt.Errorf("reading drain flag: %w", err)
	}

	counts, err := countJobs(ctx, st)
	if err != nil {
		return fmt.Errorf("counting jobs: %w", err)
	}

	pid, alive := daemonAlive(pidFilePath())

	printStatus(running && alive, paused, draining, pid, counts)

	return nil
}

func countJobs(ctx context.Context, st *store.Store) (jobCounts, error) {
	var counts jobCounts

	pending, err := st.ListJobsByStatus(ctx, store.StatusPending)
	if err != nil {
		return counts, err
	}

	processing, err := st.ListJobsByStatus(ctx, store.StatusProcessing)
	if err != nil {
		return counts, err
	}

	blocked, err := st.ListJobsByStatus(ctx, store.StatusBlocked)
	if err != nil {
		return counts, err
	}

	counts.pending = len(pending)
	counts.processing = len(processing)
	counts.blocked = len(blocked)

	return counts, nil
}

func printStatus(running, paused, draining bool, pid int, counts jobCounts) {
	colorize := stdoutIsTerminal()

	state, kind := "stopped", "bad"

	switch {
	case draining:
		state, kind = "draining", "warn"
	case running && paused:
		state, kind = "paused", "warn"
	case running:
		state, kind = "running", "good"
	}

	fmt.Printf("Daemon: %s", colorState(colorize, state, kind))

	if running && pid != 0 {
		fmt.Printf(" (pid %d)", pid)
	}

	fmt.Println()

	fmt.Printf("Jobs:   %d pending, %d processing, %s\n",
		counts.pending, counts.processing, blockedLabel(colorize, counts.blocked))
}

func blockedLabel(colorize bool, n int) string {
	label := fmt.Sprintf("%d blocked", n)
	if n == 0 {
		return label
	}

	return colorState(colorize, label, "bad")
}
