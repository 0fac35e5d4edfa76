package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

var startFollow bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Go on duty",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startFollow, "follow", false, "Stay attached with a live timer; Ctrl-C ends duty")
}

func runStart(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.duty.Start(cmd.Context(), u.Name)
	if err != nil {
		return err
	}
	since := st.Since().In(a.loc)
	fmt.Printf("On duty since %s %s.\n", timecalc.FormatDate(since), timecalc.FormatClock(since))
	if !startFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return follow(ctx, a, u.Name, *st.StartedAt)
}

// follow redraws the elapsed time every second until the session ends on
// its own or ctx is cancelled, in which case duty is ended.
func follow(ctx context.Context, a *app, user string, startedAt int64) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		fmt.Printf("\r%s on duty", timecalc.FormatDuration(timecalc.Elapsed(startedAt, time.Now())))
		select {
		case <-ctx.Done():
			fmt.Println()
			// The signal context is done, end with a fresh one.
			rec, err := a.duty.EndWith(context.Background(), user, model.EndManual)
			if err != nil {
				return err
			}
			printEnded(rec)
			return nil
		case <-ticker.C:
			if !a.duty.Status(user).Active {
				fmt.Println()
				fmt.Println("Duty ended.")
				return nil
			}
		}
	}
}

func printEnded(rec *model.DutyRecord) {
	if rec == nil {
		fmt.Println("Duty ended.")
		return
	}
	fmt.Printf("Duty ended. %s (%s to %s), %s.\n",
		rec.FormattedDuration, rec.StartClock, rec.EndClock, formatElapsed(rec.DurationSeconds))
}
