package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/duty"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Go off duty",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.duty.End(cmd.Context(), u.Name)
	if err != nil {
		return err
	}
	if rec == nil {
		return duty.ErrNotActive
	}
	printEnded(rec)
	return nil
}

func formatElapsed(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
