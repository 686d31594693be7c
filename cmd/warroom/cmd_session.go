package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/warroom/internal/state"
	"github.com/user/warroom/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		messages := state.NewMessageStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tSTATUS\tMESSAGES\tCREATED")
		for _, s := range list {
			msgs, err := messages.List(ctx, s.ID)
			if err != nil {
				msgs = nil
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.ID,
				s.UserID,
				s.Status,
				len(msgs),
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's effective message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		messages := state.NewMessageStore(cfg.DataDir)

		ctx := context.Background()
		id := types.SessionID(args[0])
		session, err := sessions.Get(ctx, id)
		if err != nil {
			return err
		}
		msgs, err := messages.List(ctx, id)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}

		fmt.Printf("session %s  user=%s  status=%s\n\n", session.ID, session.UserID, session.Status)
		for _, m := range msgs {
			label := m.Role
			if m.ModelUsed != "" {
				label = fmt.Sprintf("%s (%s)", m.Role, m.ModelUsed)
			}
			fmt.Printf("[%d] %s:\n%s\n\n", m.Seq, label, m.Content)
		}
		return nil
	},
}
