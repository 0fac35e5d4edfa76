package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Tiliavir/duty-time-tracker/internal/duty"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

// writeRecords prints records to stdout in the given format.
func writeRecords(format string, records []model.DutyRecord) error {
	switch format {
	case "json":
		if records == nil {
			records = []model.DutyRecord{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("error encoding JSON: %w", err)
		}
	case "csv":
		printCSV(records)
	case "md", "":
		printRecords(records)
	default:
		return fmt.Errorf("unknown format %q (want md, csv or json)", format)
	}
	return nil
}

// printRecords groups records by date and prints them.
func printRecords(records []model.DutyRecord) {
	if len(records) == 0 {
		fmt.Println("No duty sessions found.")
		return
	}

	var currentDay string
	for _, r := range records {
		if r.Date != currentDay {
			fmt.Println(r.Date)
			currentDay = r.Date
		}
		reason := ""
		if r.EndReason != "" && r.EndReason != model.EndManual {
			reason = fmt.Sprintf("  (%s)", r.EndReason)
		}
		fmt.Printf("  %s–%s  %s%s\n", r.StartClock, r.EndClock, r.FormattedDuration, reason)
	}
	fmt.Printf("Total: %s\n", timecalc.FormatDuration(duty.TotalSeconds(records)))
}

func printCSV(records []model.DutyRecord) {
	fmt.Println("id,date,start,end,duration_seconds,duration,end_reason")
	for _, r := range records {
		fmt.Printf("%s,%s,%s,%s,%d,%s,%s\n",
			csvEscape(r.ID),
			csvEscape(r.Date),
			csvEscape(r.StartClock),
			csvEscape(r.EndClock),
			r.DurationSeconds,
			csvEscape(r.FormattedDuration),
			csvEscape(string(r.EndReason)),
		)
	}
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
