// Package main is the PreToolUse hook. A Task tool frame opens a new
// agent invocation; any other tool records a tool-use begin attributed
// to the session's current invocation.
package main

import (
	"context"

	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/correlate"
	"github.com/agentwatch/agentwatch/internal/db/sqlite"
	"github.com/agentwatch/agentwatch/pkg/hookevent"
)

func main() {
	hookevent.Run(hookevent.NamePreToolUse, func(ev hookevent.Event) error {
		if err := config.EnsureDataDir(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := sqlite.NewStore(sqlite.StoreConfig{Path: cfg.DBPath, MaxConns: 1, WALMode: true})
		if err != nil {
			return err
		}
		defer store.Close()

		engine := correlate.NewEngine(store, config.SessionsDir(), cfg.PromptMaxBytes, cfg.HintRetention)
		return engine.Handle(context.Background(), ev)
	})
}
