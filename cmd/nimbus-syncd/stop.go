package main

import (
	"github.com/spf13/cobra"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/signalbus"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop the running daemon",
		Long: `Request a graceful drain: the running daemon finishes in-flight jobs,
stops dispatching new ones, and exits. Equivalent to sending SIGINT to
the "start" process, but works from any shell without knowing its PID.`,
		RunE: runStop,
	}
}

func runStop(cmd *cobra.Command, _ []string) error {
	return sendControlSignal(cmd, signalbus.SignalDrain, "Stop requested; daemon will drain and exit\n")
}
