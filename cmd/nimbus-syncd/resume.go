package main

import (
	"github.com/spf13/cobra"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/signalbus"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume syncing after a pause",
		Long: `Resume syncing after a "pause": new jobs dispatch again on the
next executor tick.`,
		RunE: runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	return sendControlSignal(cmd, signalbus.SignalResume, "Sync resumed\n")
}
