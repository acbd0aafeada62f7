package hookevent

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Response is the JSON object written to stdout for the hook caller.
type Response struct {
	Continue bool `json:"continue"`
}

// WriteResponse writes the hook response to stdout. Hooks always tell
// the caller to continue: no failure in the logging pipeline may block
// the producer.
func WriteResponse() {
	data, _ := json.Marshal(Response{Continue: true})
	fmt.Println(string(data))
}

// Handler processes one parsed event.
type Handler func(ev Event) error

// Run executes a hook binary end to end: stdin read, payload parse,
// handler dispatch, response. Every failure path logs and exits zero
// so the emitting pipeline is never blocked (malformed input included).
func Run(hookName string, handler Handler) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
	if os.Getenv("AGENTWATCH_DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Error().Str("hook", hookName).Err(err).Msg("read stdin")
		WriteResponse()
		return
	}

	ev, err := Parse(hookName, data)
	if err != nil {
		// Malformed payloads are logged with positional context and
		// discarded; the caller still sees success.
		log.Warn().Str("hook", hookName).Err(err).Msg("discarding malformed payload")
		WriteResponse()
		return
	}

	if err := handler(ev); err != nil {
		log.Error().Str("hook", hookName).Str("session", ev.Session()).Err(err).Msg("hook handler failed, event dropped")
	}
	WriteResponse()
}
