// Package main is the PostToolUse hook. A Task tool frame closes the
// matching open invocation; any other tool closes its open tool use.
package main

import (
	"context"

	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/correlate"
	"github.com/agentwatch/agentwatch/internal/db/sqlite"
	"github.com/agentwatch/agentwatch/pkg/hookevent"
)

func main() {
	hookevent.Run(hookevent.NamePostToolUse, func(ev hookevent.Event) error {
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
