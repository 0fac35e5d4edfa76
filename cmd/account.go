package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

var (
	registerPassword string
	loginPassword    string
	passwdOld        string
	passwdNew        string
)

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Create a member account and log in",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login <name>",
	Short: "Log in as a member",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out, ending an active duty session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in member",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change your password",
	Args:  cobra.NoArgs,
	RunE:  runPasswd,
}

func init() {
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Password (prompted when empty)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when empty)")
	passwdCmd.Flags().StringVar(&passwdOld, "old", "", "Current password (prompted when empty)")
	passwdCmd.Flags().StringVar(&passwdNew, "new", "", "New password (prompted when empty)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pw, err := readPassword(registerPassword, "Password: ")
	if err != nil {
		return err
	}
	u, err := a.dir.Register(cmd.Context(), args[0], pw)
	if err != nil {
		return err
	}
	if err := a.sessions.Login(u); err != nil {
		return setup(err)
	}
	fmt.Printf("Registered and logged in as %q.\n", u.Name)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pw, err := readPassword(loginPassword, "Password: ")
	if err != nil {
		return err
	}
	u, err := a.dir.Authenticate(cmd.Context(), args[0], pw)
	if err != nil {
		return err
	}
	if err := a.sessions.Login(u); err != nil {
		return setup(err)
	}
	fmt.Printf("Logged in as %q (%s).\n", u.Name, u.Role)
	if u.ForcePasswordChange {
		fmt.Println("Your password was reset by an administrator. Run `dtt passwd` to choose a new one.")
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if u, err := a.currentUser(); err == nil {
		rec, err := a.duty.EndWith(cmd.Context(), u.Name, model.EndLogout)
		if err != nil {
			return err
		}
		if rec != nil {
			fmt.Printf("Ended duty session of %s.\n", rec.FormattedDuration)
		}
	}
	if err := a.sessions.Logout(); err != nil {
		return setup(err)
	}
	fmt.Println("Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Name: %s\n", u.Name)
	fmt.Printf("Role: %s\n", u.Role)
	if u.Regiment != "" {
		fmt.Printf("Regiment: %s\n", u.Regiment)
	}
	st := a.duty.Status(u.Name)
	if st.Active {
		fmt.Printf("On duty since %s\n", timecalc.FormatClock(st.Since().In(a.loc)))
	} else {
		fmt.Println("Off duty")
	}
	return nil
}

func runPasswd(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	old, err := readPassword(passwdOld, "Current password: ")
	if err != nil {
		return err
	}
	if _, err := a.dir.Authenticate(cmd.Context(), u.Name, old); err != nil {
		return err
	}
	pw := passwdNew
	if pw == "" {
		if pw, err = promptLine("New password: "); err != nil {
			return err
		}
	}
	if err := a.dir.SetPassword(cmd.Context(), u.Name, pw, false); err != nil {
		return err
	}
	fmt.Println("Password changed.")
	return nil
}
