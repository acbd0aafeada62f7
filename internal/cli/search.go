package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	searchField string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search invocations by prompt, agent name or error text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matches, err := invocations.Search(cmd.Context(), searchField, args[0], searchLimit)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, inv := range matches {
			fmt.Printf("%6d  %s  %-28s %s\n", inv.ID, formatEpoch(inv.StartedAtEpoch), inv.AgentName,
				truncate(inv.Prompt, 80))
		}
		return nil
	},
}

var promptsLimit int

var promptsCmd = &cobra.Command{
	Use:   "prompts <agent-name>",
	Short: "Show an agent's recent prompts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentName := args[0]
		invs, err := invocations.PromptsByAgent(cmd.Context(), agentName, promptsLimit)
		if err != nil {
			return fmt.Errorf("fetching prompts: %w", err)
		}
		if len(invs) == 0 {
			fmt.Printf("No prompts recorded for %s.\n", agentName)
			return nil
		}
		for _, inv := range invs {
			fmt.Printf("%s  session %s\n", formatEpoch(inv.StartedAtEpoch), truncate(inv.SessionID, 8))
			fmt.Printf("  %s\n", truncate(inv.Prompt, 200))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchField, "field", "prompt", "field to search: prompt, agent_name or error")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 25, "maximum matches")
	promptsCmd.Flags().IntVar(&promptsLimit, "limit", 10, "maximum prompts")
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(promptsCmd)
}
