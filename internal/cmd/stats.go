package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/conductor/internal/session"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session statistics",
	Long: `Display counts and rates for the persisted session set:
- Total and active session counts
- Per-state breakdown
- Error rate and average completed-session duration`,
	RunE: runStats,
}

var statsJSON bool

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	stats := st.Stats()

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Println()
	fmt.Println(headingStyle.Render("SESSION STATISTICS"))
	fmt.Println(ruleStyle.Render(strings.Repeat("─", 50)))
	fmt.Printf("Total:    %d\n", stats.Total)
	fmt.Printf("Active:   %d\n", stats.Active)
	fmt.Printf("Errors:   %.1f%%\n", stats.ErrorRate)
	if stats.AvgCompletedMinutes > 0 {
		fmt.Printf("Avg run:  %.1f minutes\n", stats.AvgCompletedMinutes)
	}

	if len(stats.ByState) > 0 {
		fmt.Println()
		fmt.Println(headingStyle.Render("BY STATE"))
		fmt.Println(ruleStyle.Render(strings.Repeat("─", 50)))
		states := make([]session.State, 0, len(stats.ByState))
		for state := range stats.ByState {
			states = append(states, state)
		}
		sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
		for _, state := range states {
			fmt.Printf("%-14s %d\n", state, stats.ByState[state])
		}
	}
	return nil
}
