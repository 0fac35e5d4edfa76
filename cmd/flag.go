package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
)

var flagCmd = &cobra.Command{
	Use:   "flag",
	Short: "Set or show the local game-server running flag",
	Long: `The flag probe (liveness.probe = "flag") reads this flag instead of
asking the server. Server start/stop hooks can call "dtt flag up" and
"dtt flag down".`,
}

var flagUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Mark the game server as running",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runFlagSet(true) },
}

var flagDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Mark the game server as stopped",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runFlagSet(false) },
}

var flagShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the flag",
	Args:  cobra.NoArgs,
	RunE:  runFlagShow,
}

func init() {
	flagCmd.AddCommand(flagUpCmd)
	flagCmd.AddCommand(flagDownCmd)
	flagCmd.AddCommand(flagShowCmd)
}

func runFlagSet(up bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := liveness.SetFlag(a.store, up); err != nil {
		return err
	}
	fmt.Printf("Game server flag: %s\n", flagSignal(up))
	return nil
}

func flagSignal(up bool) liveness.Signal {
	if up {
		return liveness.Up
	}
	return liveness.Down
}

func runFlagShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sig, err := liveness.NewFlagProbe(a.store).Check(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Game server flag: %s\n", sig)
	return nil
}
