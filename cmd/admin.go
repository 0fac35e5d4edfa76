package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/admin"
	"github.com/Tiliavir/duty-time-tracker/internal/duty"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

var (
	overviewRegiment      string
	overviewIncludeAdmins bool
	overviewFormat        string
	showFormat            string
	resetDiscardActive    bool
	adminPassword         string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Moderator and administrator tools",
}

var adminOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Summarize every member's duty time",
	Args:  cobra.NoArgs,
	RunE:  runAdminOverview,
}

var adminShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show one member's status and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminShow,
}

var adminResetCmd = &cobra.Command{
	Use:   "reset <user>",
	Short: "Clear one member's duty history",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminReset,
}

var adminResetAllCmd = &cobra.Command{
	Use:   "reset-all",
	Short: "Clear every member's duty history",
	Args:  cobra.NoArgs,
	RunE:  runAdminResetAll,
}

var adminResetRegimentCmd = &cobra.Command{
	Use:   "reset-regiment <regiment>",
	Short: "Clear the duty history of every member of a regiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminResetRegiment,
}

var adminDeleteUserCmd = &cobra.Command{
	Use:   "delete-user <user>",
	Short: "Delete an account and all of its data",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminDeleteUser,
}

var adminRoleCmd = &cobra.Command{
	Use:   "role <user> <user|moderator|admin>",
	Short: "Change a member's role",
	Args:  cobra.ExactArgs(2),
	RunE:  runAdminRole,
}

var adminModeratorCmd = &cobra.Command{
	Use:   "moderator <user>",
	Short: "Toggle a member between user and moderator",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminModerator,
}

var adminPasswordCmd = &cobra.Command{
	Use:   "password <user>",
	Short: "Reset a member's password; they must change it at next login",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminPassword,
}

var adminRegimentCmd = &cobra.Command{
	Use:   "regiment <user> [regiment]",
	Short: "Assign a member to a regiment (empty clears it)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAdminRegiment,
}

var adminBootstrapCmd = &cobra.Command{
	Use:   "bootstrap <name>",
	Short: "Create the first administrator account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminBootstrap,
}

func init() {
	adminOverviewCmd.Flags().StringVar(&overviewRegiment, "regiment", "", "Only members of this regiment")
	adminOverviewCmd.Flags().BoolVar(&overviewIncludeAdmins, "include-admins", false, "Include administrators")
	adminOverviewCmd.Flags().StringVar(&overviewFormat, "format", "md", "Output format: md, csv, json")
	adminShowCmd.Flags().StringVar(&showFormat, "format", "md", "Output format: md, csv, json")
	for _, c := range []*cobra.Command{adminResetCmd, adminResetAllCmd, adminResetRegimentCmd} {
		c.Flags().BoolVar(&resetDiscardActive, "discard-active", false, "Also discard running sessions")
	}
	adminPasswordCmd.Flags().StringVar(&adminPassword, "password", "", "New password (prompted when empty)")
	adminBootstrapCmd.Flags().StringVar(&adminPassword, "password", "", "Password (prompted when empty)")

	adminCmd.AddCommand(adminOverviewCmd)
	adminCmd.AddCommand(adminShowCmd)
	adminCmd.AddCommand(adminResetCmd)
	adminCmd.AddCommand(adminResetAllCmd)
	adminCmd.AddCommand(adminResetRegimentCmd)
	adminCmd.AddCommand(adminDeleteUserCmd)
	adminCmd.AddCommand(adminRoleCmd)
	adminCmd.AddCommand(adminModeratorCmd)
	adminCmd.AddCommand(adminPasswordCmd)
	adminCmd.AddCommand(adminRegimentCmd)
	adminCmd.AddCommand(adminBootstrapCmd)
}

func runAdminOverview(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.agg.Overview(u, admin.Filter{
		Regiment:      overviewRegiment,
		IncludeAdmins: overviewIncludeAdmins || a.cfg.Admin.IncludeAdmins,
	})
	if err != nil {
		return err
	}
	return writeOverview(overviewFormat, rows)
}

func writeOverview(format string, rows []admin.Summary) error {
	var grandTotal int64
	for _, r := range rows {
		grandTotal += r.TotalSeconds
	}

	switch format {
	case "csv":
		fmt.Println("name,role,regiment,on_duty,online,sessions,total_seconds,total")
		for _, r := range rows {
			fmt.Printf("%s,%s,%s,%t,%t,%d,%d,%s\n",
				csvEscape(r.Name), r.Role, csvEscape(r.Regiment),
				r.Status.Active, r.Online, r.Records, r.TotalSeconds, r.Total)
		}
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Members      []admin.Summary `json:"members"`
			TotalSeconds int64           `json:"totalSeconds"`
		}{rows, grandTotal}); err != nil {
			return fmt.Errorf("error encoding JSON: %w", err)
		}
	case "md", "":
		if len(rows) == 0 {
			fmt.Println("No members found.")
			return nil
		}
		fmt.Printf("%-20s%-11s%-14s%-9s%-8s%s\n", "Name", "Role", "Regiment", "Duty", "Online", "Total")
		fmt.Println(strings.Repeat("-", 72))
		for _, r := range rows {
			fmt.Printf("%-20s%-11s%-14s%-9s%-8s%s\n",
				r.Name, r.Role, r.Regiment, onOff(r.Status.Active, "on", "off"), onOff(r.Online, "yes", "no"), r.Total)
		}
		fmt.Println(strings.Repeat("-", 72))
		fmt.Printf("%-62s%s\n", "Total", timecalc.FormatDuration(grandTotal))
	default:
		return fmt.Errorf("unknown format %q (want md, csv or json)", format)
	}
	return nil
}

func onOff(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

func runAdminShow(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.agg.Details(u, args[0])
	if err != nil {
		return err
	}
	if showFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("error encoding JSON: %w", err)
		}
		return nil
	}
	if showFormat == "md" || showFormat == "" {
		fmt.Printf("%s (%s", d.Name, d.Role)
		if d.Regiment != "" {
			fmt.Printf(", %s", d.Regiment)
		}
		fmt.Println(")")
		if d.Status.Active {
			since := d.Status.Since().In(a.loc)
			fmt.Printf("On duty since %s %s\n", timecalc.FormatDate(since), timecalc.FormatClock(since))
		} else {
			fmt.Println("Off duty")
		}
		if d.LastSeen != nil {
			fmt.Printf("Last seen %s %s\n", timecalc.FormatDate(d.LastSeen.In(a.loc)), timecalc.FormatClock(d.LastSeen.In(a.loc)))
		}
		fmt.Println()
	}
	return writeRecords(showFormat, d.History)
}

func resetOptions() duty.ResetOptions {
	return duty.ResetOptions{DiscardActive: resetDiscardActive}
}

func runAdminReset(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.agg.Reset(cmd.Context(), u, args[0], resetOptions()); err != nil {
		return err
	}
	fmt.Printf("Reset duty history of %s.\n", args[0])
	return nil
}

func runAdminResetAll(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	done, err := a.agg.ResetAll(cmd.Context(), u, resetOptions())
	printReset(done)
	return err
}

func runAdminResetRegiment(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	done, err := a.agg.ResetRegiment(cmd.Context(), u, args[0], resetOptions())
	printReset(done)
	return err
}

func printReset(users []string) {
	if len(users) == 0 {
		fmt.Println("Nothing to reset.")
		return
	}
	fmt.Printf("Reset %d members: %s\n", len(users), strings.Join(users, ", "))
}

// openAdmin opens the app for an administrator-only command.
func openAdmin() (*app, model.User, error) {
	a, u, err := openAs()
	if err != nil {
		return nil, model.User{}, err
	}
	if err := admin.RequireAdmin(u); err != nil {
		a.Close()
		return nil, model.User{}, err
	}
	return a, u, nil
}

func runAdminDeleteUser(cmd *cobra.Command, args []string) error {
	a, _, err := openAdmin()
	if err != nil {
		return err
	}
	defer a.Close()

	target, err := a.dir.Lookup(args[0])
	if err != nil {
		return err
	}
	// End a running session first so its monitor goes away with the account.
	if _, err := a.duty.EndWith(cmd.Context(), target.Name, model.EndManual); err != nil {
		return err
	}
	if err := a.dir.Delete(cmd.Context(), target.Name); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", target.Name)
	return nil
}

func runAdminRole(cmd *cobra.Command, args []string) error {
	role, err := model.ParseRole(args[1])
	if err != nil {
		return err
	}
	a, _, err := openAdmin()
	if err != nil {
		return err
	}
	defer a.Close()

	target, err := a.dir.SetRole(cmd.Context(), args[0], role)
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s.\n", target.Name, target.Role)
	return nil
}

func runAdminModerator(cmd *cobra.Command, args []string) error {
	a, _, err := openAdmin()
	if err != nil {
		return err
	}
	defer a.Close()

	target, err := a.dir.ToggleModerator(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s.\n", target.Name, target.Role)
	return nil
}

func runAdminPassword(cmd *cobra.Command, args []string) error {
	a, _, err := openAdmin()
	if err != nil {
		return err
	}
	defer a.Close()

	pw, err := readPassword(adminPassword, "New password: ")
	if err != nil {
		return err
	}
	if err := a.dir.SetPassword(cmd.Context(), args[0], pw, true); err != nil {
		return err
	}
	fmt.Printf("Password of %s reset; a change is required at next login.\n", args[0])
	return nil
}

func runAdminRegiment(cmd *cobra.Command, args []string) error {
	a, _, err := openAdmin()
	if err != nil {
		return err
	}
	defer a.Close()

	regiment := ""
	if len(args) == 2 {
		regiment = args[1]
	}
	target, err := a.dir.SetRegiment(cmd.Context(), args[0], regiment)
	if err != nil {
		return err
	}
	if target.Regiment == "" {
		fmt.Printf("%s has no regiment.\n", target.Name)
	} else {
		fmt.Printf("%s joined %s.\n", target.Name, target.Regiment)
	}
	return nil
}

func runAdminBootstrap(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pw, err := readPassword(adminPassword, "Password: ")
	if err != nil {
		return err
	}
	u, err := a.dir.Bootstrap(cmd.Context(), args[0], pw)
	if err != nil {
		return err
	}
	if err := a.sessions.Login(u); err != nil {
		return setup(err)
	}
	fmt.Printf("Created administrator %q and logged in.\n", u.Name)
	return nil
}
