package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentwatch/agentwatch/pkg/models"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := sessions.Recent(cmd.Context(), sessionsLimit)
		if err != nil {
			return fmt.Errorf("fetching sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}
		for _, sess := range list {
			line := fmt.Sprintf("%s  %s  %s", sess.SessionID, formatEpoch(sess.StartedAtEpoch), sess.Status)
			if d, ok := sess.Duration(); ok {
				line += fmt.Sprintf("  %s", d.Round(time.Second))
			}
			if sess.CWD.Valid {
				line += "  " + sess.CWD.String
			}
			fmt.Println(line)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's invocations in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		sess, err := sessions.Get(cmd.Context(), sessionID)
		if err != nil {
			return fmt.Errorf("fetching session: %w", err)
		}
		if sess == nil {
			return fmt.Errorf("session %s not found", sessionID)
		}

		fmt.Printf("Session %s  started %s  status %s\n",
			sess.SessionID, formatEpoch(sess.StartedAtEpoch), sess.Status)
		if d, ok := sess.Duration(); ok {
			fmt.Printf("Duration %s\n", d.Round(time.Second))
		}
		fmt.Println()

		invs, err := invocations.BySession(cmd.Context(), sessionID, 0)
		if err != nil {
			return fmt.Errorf("fetching invocations: %w", err)
		}
		if len(invs) == 0 {
			fmt.Println("No invocations.")
			return nil
		}
		for _, inv := range invs {
			line := fmt.Sprintf("%6d  %-28s %-13s %-9s", inv.ID, inv.AgentName, inv.Phase, inv.Status)
			if inv.DurationSecs.Valid {
				line += fmt.Sprintf("  %6.1fs", inv.DurationSecs.Float64)
			} else if inv.Open() {
				line += "    open"
			}
			if inv.TicketID.Valid {
				line += "  " + inv.TicketID.String
			}
			fmt.Println(line)
			if inv.Status == models.InvocationStatusError && inv.Error.Valid {
				fmt.Printf("        error: %s\n", truncate(inv.Error.String, 120))
			}
		}
		return nil
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools <session-id>",
	Short: "Show a session's tool uses in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uses, err := toolUses.BySession(cmd.Context(), args[0], 0)
		if err != nil {
			return fmt.Errorf("fetching tool uses: %w", err)
		}
		if len(uses) == 0 {
			fmt.Println("No tool uses.")
			return nil
		}
		for _, tu := range uses {
			line := fmt.Sprintf("%6d  %-28s #%-3d %-20s %-9s", tu.InvocationID, tu.AgentName,
				tu.SequenceNumber, tu.ToolName, tu.Status)
			if tu.DurationSecs.Valid {
				line += fmt.Sprintf("  %6.2fs", tu.DurationSecs.Float64)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func formatEpoch(epochMillis int64) string {
	return time.UnixMilli(epochMillis).Format("2006-01-02 15:04:05")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(toolsCmd)
}
