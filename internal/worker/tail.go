package worker

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/agentwatch/agentwatch/internal/db/sqlite"
	"github.com/agentwatch/agentwatch/internal/worker/sse"
	"github.com/agentwatch/agentwatch/pkg/models"
)

// tailBatchLimit bounds one cursor advance.
const tailBatchLimit = 200

// TailEvent is one appended row pushed to live consumers.
type TailEvent struct {
	Type       string             `json:"type"`
	Invocation *models.Invocation `json:"invocation,omitempty"`
	ToolUse    *models.ToolUse    `json:"tool_use,omitempty"`
}

// Tailer follows the store's append cursors and broadcasts new rows
// over SSE. It polls on a fixed cadence and additionally wakes on
// filesystem change notifications for the database file, so pushes
// land promptly without a tight poll interval.
type Tailer struct {
	invocations *sqlite.InvocationStore
	toolUses    *sqlite.ToolUseStore
	broadcaster *sse.Broadcaster

	dbPath       string
	pollInterval time.Duration

	invCursor  int64
	toolCursor int64
}

// NewTailer starts tailing from the current end of the store: rows
// already present are history, not live events.
func NewTailer(ctx context.Context, store *sqlite.Store, dbPath string,
	pollInterval time.Duration, broadcaster *sse.Broadcaster) (*Tailer, error) {

	t := &Tailer{
		invocations:  sqlite.NewInvocationStore(store),
		toolUses:     sqlite.NewToolUseStore(store),
		broadcaster:  broadcaster,
		dbPath:       dbPath,
		pollInterval: pollInterval,
	}
	var err error
	if t.invCursor, err = t.invocations.MaxID(ctx); err != nil {
		return nil, err
	}
	if t.toolCursor, err = t.toolUses.MaxID(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Run polls until the context is canceled.
func (t *Tailer) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, falling back to plain polling")
	} else {
		defer watcher.Close()
		// Watch the directory: the WAL file the driver appends to may
		// not exist yet when the worker starts.
		if err := watcher.Add(filepath.Dir(t.dbPath)); err != nil {
			log.Warn().Err(err).Str("dir", filepath.Dir(t.dbPath)).Msg("watch database directory")
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					select {
					case wake <- struct{}{}:
					default:
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Warn().Err(err).Msg("fsnotify error")
				}
			}
		}()
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		if t.broadcaster.ClientCount() == 0 {
			continue
		}
		t.advance(ctx)
	}
}

// advance drains both cursors, broadcasting each new row.
func (t *Tailer) advance(ctx context.Context) {
	invs, err := t.invocations.After(ctx, t.invCursor, tailBatchLimit)
	if err != nil {
		log.Warn().Err(err).Msg("tail invocations")
	}
	for _, inv := range invs {
		t.broadcaster.Broadcast(TailEvent{Type: "invocation", Invocation: inv})
		if inv.ID > t.invCursor {
			t.invCursor = inv.ID
		}
	}

	tools, err := t.toolUses.After(ctx, t.toolCursor, tailBatchLimit)
	if err != nil {
		log.Warn().Err(err).Msg("tail tool uses")
	}
	for _, tu := range tools {
		t.broadcaster.Broadcast(TailEvent{Type: "tool_use", ToolUse: tu})
		if tu.ID > t.toolCursor {
			t.toolCursor = tu.ID
		}
	}
}
