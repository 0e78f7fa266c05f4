package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/signalbus"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause syncing",
		Long: `Pause syncing without stopping the daemon: in-flight jobs finish, but
no new jobs are dispatched until "resume" is run.

If a "start" daemon is running against the same state directory, it
picks up the change via the Signal Bus without needing a restart.`,
		RunE: runPause,
	}
}

func runPause(cmd *cobra.Command, _ []string) error {
	return sendControlSignal(cmd, signalbus.SignalPause, "Sync paused\n")
}

// sendControlSignal opens the daemon's shared store, enqueues signal on
// its Signal Bus, and prints msg unless --quiet was given. It works
// whether or not a "start" daemon is currently running: the signal sits
// in the durable queue until a daemon starts and drains it.
func sendControlSignal(cmd *cobra.Command, signal, msg string) error {
	logger := buildLogger()

	st, err := openStore(cmd.Context(), logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	bus := signalbus.New(st, logger)

	if err := bus.Send(cmd.Context(), signal); err != nil {
		return fmt.Errorf("sending %s signal: %w", signal, err)
	}

	statusf(flagQuiet, "%s", msg)

	return nil
}
