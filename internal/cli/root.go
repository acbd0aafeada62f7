// Package cli implements the agentwatch query commands: read-only
// reports over the event store, run against the same database the
// hooks write.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/db/sqlite"
)

var appVersion = "dev"

// SetVersionInfo sets the version injected via ldflags.
func SetVersionInfo(version string) {
	appVersion = version
}

var (
	dbPathFlag string
	debugFlag  bool

	store       *sqlite.Store
	sessions    *sqlite.SessionStore
	invocations *sqlite.InvocationStore
	toolUses    *sqlite.ToolUseStore
	analytics   *sqlite.AnalyticsStore
)

var rootCmd = &cobra.Command{
	Use:   "agentwatch",
	Short: "Query and export the agent workflow event store",
	Long: `agentwatch inspects the session, invocation and tool-use history
recorded by the hook binaries: recent sessions, per-agent statistics,
handoff patterns, free-text search, and JSON/CSV export.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
		if debugFlag {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

		path := dbPathFlag
		if path == "" {
			path = config.DBPath()
		}
		var err error
		store, err = sqlite.NewStore(sqlite.StoreConfig{Path: path, MaxConns: 1, WALMode: true})
		if err != nil {
			return err
		}
		sessions = sqlite.NewSessionStore(store)
		invocations = sqlite.NewInvocationStore(store)
		toolUses = sqlite.NewToolUseStore(store)
		analytics = sqlite.NewAnalyticsStore(store)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// The store is not needed here.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("agentwatch %s\n", appVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "database path (default: ~/.agentwatch/agentwatch.db)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
