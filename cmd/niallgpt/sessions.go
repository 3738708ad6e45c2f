package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/niallgpt/niallgpt/internal/domain"
)

// sessionsCmd manages chat sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
	Long: `List and manage chat sessions.

Subcommands:
  list     - List all sessions, most recent first
  delete   - Delete a session`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	active := app.Sessions.ActiveID()
	list := app.Sessions.List()

	fmt.Fprintln(out, "Sessions")
	fmt.Fprintln(out, strings.Repeat("─", 60))
	for _, s := range list {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %-24s %3d messages  %s\n",
			marker, s.ID, s.Name, len(s.Messages), s.Timestamp.Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprintf(out, "Total: %d sessions (* = active)\n", len(list))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Sessions.DeleteSession(cmd.Context(), domain.SessionID(args[0])); err != nil {
		return fmt.Errorf("deleting session %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s. Active session: %s\n", args[0], app.Sessions.ActiveID())
	return nil
}
