package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/announce"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

var (
	announceTitle        string
	announceContent      string
	announceConfidential bool
)

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Read and manage announcements",
}

var announceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List announcements, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAnnounceList,
}

var announcePostCmd = &cobra.Command{
	Use:   "post",
	Short: "Post an announcement (moderators and admins)",
	Args:  cobra.NoArgs,
	RunE:  runAnnouncePost,
}

var announceEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit an announcement; unset flags keep their value",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnnounceEdit,
}

var announceRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an announcement",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnnounceRm,
}

func init() {
	for _, c := range []*cobra.Command{announcePostCmd, announceEditCmd} {
		c.Flags().StringVar(&announceTitle, "title", "", "Title")
		c.Flags().StringVar(&announceContent, "content", "", "Message text")
		c.Flags().BoolVar(&announceConfidential, "confidential", false, "Visible to moderators and admins only")
	}
	announceCmd.AddCommand(announceListCmd)
	announceCmd.AddCommand(announcePostCmd)
	announceCmd.AddCommand(announceEditCmd)
	announceCmd.AddCommand(announceRmCmd)
}

func runAnnounceList(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.board.List(u)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No announcements.")
		return nil
	}
	for i, an := range list {
		if i > 0 {
			fmt.Println()
		}
		printAnnouncement(an, a)
	}
	return nil
}

func printAnnouncement(an model.Announcement, a *app) {
	posted := an.PostedAt.In(a.loc)
	marker := ""
	if an.Confidential {
		marker = " [confidential]"
	}
	fmt.Printf("#%s  %s%s\n", an.ID, an.Title, marker)
	fmt.Printf("  by %s, %s %s", an.Author, timecalc.FormatDate(posted), timecalc.FormatClock(posted))
	if an.ModifiedAt != nil {
		fmt.Print(" (edited)")
	}
	fmt.Println()
	for _, line := range strings.Split(an.Content, "\n") {
		fmt.Printf("  %s\n", line)
	}
}

func runAnnouncePost(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	an, err := a.board.Post(cmd.Context(), u, announceTitle, announceContent, announceConfidential)
	if err != nil {
		return err
	}
	fmt.Printf("Posted announcement #%s.\n", an.ID)
	return nil
}

func runAnnounceEdit(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.board.List(u)
	if err != nil {
		return err
	}
	var cur *model.Announcement
	for i := range list {
		if string(list[i].ID) == strings.TrimSpace(args[0]) {
			cur = &list[i]
			break
		}
	}
	if cur == nil {
		return announce.ErrNotFound
	}

	title, content, confidential := cur.Title, cur.Content, cur.Confidential
	if cmd.Flags().Changed("title") {
		title = announceTitle
	}
	if cmd.Flags().Changed("content") {
		content = announceContent
	}
	if cmd.Flags().Changed("confidential") {
		confidential = announceConfidential
	}
	an, err := a.board.Update(cmd.Context(), u, args[0], title, content, confidential)
	if err != nil {
		return err
	}
	fmt.Printf("Updated announcement #%s.\n", an.ID)
	return nil
}

func runAnnounceRm(cmd *cobra.Command, args []string) error {
	a, u, err := openAs()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.board.Delete(cmd.Context(), u, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted announcement #%s.\n", args[0])
	return nil
}
