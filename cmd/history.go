package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/duty"
)

var historyFormat string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List your duty sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var totalCmd = &cobra.Command{
	Use:   "total",
	Short: "Show your total logged duty time",
	Args:  cobra.NoArgs,
	RunE:  runTotal,
}

func init() {
	historyCmd.Flags().StringVar(&historyFormat, "format", "md", "Output format: md, csv, json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	records := duty.SortNewestFirst(a.duty.Records(u.Name))
	return writeRecords(historyFormat, records)
}

func runTotal(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	seconds, formatted := a.duty.Total(u.Name)
	fmt.Printf("%s (%s) over %d sessions.\n", formatted, formatElapsed(seconds), len(a.duty.Records(u.Name)))
	return nil
}
