package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dtt",
	Short: "Duty Time Tracker – log duty sessions on the community game server",
	Long: `dtt records duty sessions for members of a game-server community.
Members start and stop duty, moderators review the accumulated hours and
a liveness monitor ends sessions when the game server stops.
All data is kept in one key/value store under ~/.dtt/ ($DTT_HOME).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(totalCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(announceCmd)
	rootCmd.AddCommand(flagCmd)
	rootCmd.AddCommand(watchCmd)
}
