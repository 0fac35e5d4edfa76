package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show your duty status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.duty.Status(u.Name)
	if st.Active {
		since := st.Since().In(a.loc)
		fmt.Println("On duty:")
		fmt.Printf("  Since: %s %s\n", timecalc.FormatDate(since), timecalc.FormatClock(since))
		fmt.Printf("  Elapsed: %s\n", timecalc.FormatDuration(timecalc.Elapsed(*st.StartedAt, time.Now())))
	} else {
		fmt.Println("Off duty.")
	}

	_, total := a.duty.Total(u.Name)
	fmt.Printf("Total: %s logged.\n", total)

	if a.probe != nil {
		sig, err := liveness.CheckOnce(cmd.Context(), a.probe, a.cfg.Liveness.Timeout())
		if err != nil {
			fmt.Printf("Server: %s (%v)\n", sig, err)
		} else {
			fmt.Printf("Server: %s\n", sig)
		}
	}
	return nil
}
