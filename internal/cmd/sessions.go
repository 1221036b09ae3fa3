package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/conductor/internal/config"
	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/logging"
	"github.com/kestrelworks/conductor/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect tracked sessions",
	Long:  `Commands for listing and inspecting sessions from the persisted store.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show one session in full, including its retained log lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var listState string

func init() {
	sessionsListCmd.Flags().StringVar(&listState, "state", "", "Only show sessions in this state")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// openStore loads the persisted session store read-only.
func openStore() (*session.Store, error) {
	cfg := config.Get()
	st, err := session.Load(cfg.Persistence.StorePath(), event.NewBus(), logging.Nop())
	if err != nil {
		return nil, fmt.Errorf("failed to load session store: %w", err)
	}
	return st, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	sessions := st.List()
	if listState != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if s.State.String() == listState {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	fmt.Println(headingStyle.Render(fmt.Sprintf("%-24s %-14s %-28s %-10s %s", "THREAD", "STATE", "REPOSITORY", "PRIORITY", "UPDATED")))
	fmt.Println(ruleStyle.Render(strings.Repeat("─", 90)))
	for _, s := range sessions {
		fmt.Printf("%-24s %-14s %-28s %-10d %s\n",
			truncate(s.ThreadID, 24), s.State, truncate(s.Repository, 28),
			s.Priority, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	s, err := st.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(headingStyle.Render("SESSION"))
	fmt.Println(ruleStyle.Render(strings.Repeat("─", 50)))
	fmt.Printf("ID:         %s\n", s.ID)
	fmt.Printf("Thread:     %s\n", s.ThreadID)
	fmt.Printf("Repository: %s\n", s.Repository)
	fmt.Printf("Branch:     %s\n", s.Branch)
	fmt.Printf("State:      %s\n", s.State)
	if s.WorktreePath != "" {
		fmt.Printf("Worktree:   %s\n", s.WorktreePath)
	}
	if s.ContainerID != "" {
		fmt.Printf("Container:  %s\n", s.ContainerID)
	}
	if s.LastError != "" {
		fmt.Printf("Last error: %s\n", s.LastError)
	}
	fmt.Printf("Created:    %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:    %s\n", s.UpdatedAt.Format(time.RFC3339))

	if len(s.Logs) > 0 {
		fmt.Println()
		fmt.Println(headingStyle.Render(fmt.Sprintf("LOGS (last %d lines)", len(s.Logs))))
		fmt.Println(ruleStyle.Render(strings.Repeat("─", 50)))
		for _, line := range s.Logs {
			fmt.Println(line)
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
