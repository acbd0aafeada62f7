package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentwatch/agentwatch/internal/config"
)

var statsBottleneckSecs float64

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report agent frequency, durations, phases and bottlenecks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		freq, err := analytics.AgentFrequency(ctx)
		if err != nil {
			return fmt.Errorf("agent frequency: %w", err)
		}
		fmt.Println("Agent invocation frequency:")
		if len(freq) == 0 {
			fmt.Println("  (no data)")
		}
		for _, row := range freq {
			fmt.Printf("  %-30s %6d\n", row.AgentName, row.Count)
		}

		durations, err := analytics.AgentDurations(ctx)
		if err != nil {
			return fmt.Errorf("agent durations: %w", err)
		}
		fmt.Println("\nAverage completed duration:")
		for _, row := range durations {
			fmt.Printf("  %-30s %8.1fs\n", row.AgentName, row.AvgDuration)
		}

		phases, err := analytics.PhaseDistribution(ctx)
		if err != nil {
			return fmt.Errorf("phase distribution: %w", err)
		}
		fmt.Println("\nPhase distribution:")
		for _, row := range phases {
			fmt.Printf("  %-15s %6d\n", row.Phase, row.Count)
		}

		bottlenecks, err := analytics.Bottlenecks(ctx, statsBottleneckSecs)
		if err != nil {
			return fmt.Errorf("bottlenecks: %w", err)
		}
		fmt.Println("\nBottleneck candidates:")
		if len(bottlenecks) == 0 {
			fmt.Println("  (none)")
		}
		for _, row := range bottlenecks {
			fmt.Printf("  %-30s avg %8.1fs  max %8.1fs  runs %d\n",
				row.AgentName, row.AvgDuration, row.MaxDuration, row.Count)
		}
		return nil
	},
}

var patternsMinOccurrences int

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show recurring agent handoff pairs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		patterns, err := analytics.Patterns(cmd.Context(), patternsMinOccurrences)
		if err != nil {
			return fmt.Errorf("patterns: %w", err)
		}
		if len(patterns) == 0 {
			fmt.Println("No recurring patterns.")
			return nil
		}
		for _, row := range patterns {
			fmt.Printf("  %-60s %4dx\n", row.Pattern, row.Occurrences)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().Float64Var(&statsBottleneckSecs, "threshold", config.DefaultBottleneckSecs, "bottleneck average duration threshold in seconds")
	patternsCmd.Flags().IntVar(&patternsMinOccurrences, "min", 2, "minimum occurrences to report")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(patternsCmd)
}
