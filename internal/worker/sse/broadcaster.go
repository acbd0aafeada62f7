// Package sse fans events out to connected Server-Sent Events clients.
package sse

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// clientBufferSize bounds the per-client send queue. A client that
// cannot drain its queue is dropped rather than allowed to stall the
// broadcaster.
const clientBufferSize = 64

// client is one connected consumer. Messages flow through a buffered
// channel so a slow reader never blocks Broadcast.
type client struct {
	id   int
	send chan []byte
}

// Broadcaster tracks connected clients and pushes serialized events to
// all of them.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]*client
	nextID  int
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[int]*client)}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast serializes v and queues it for every connected client.
// Clients whose queue is full are disconnected.
func (b *Broadcaster) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal broadcast payload")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		select {
		case c.send <- data:
		default:
			log.Warn().Int("client", id).Msg("client queue full, dropping connection")
			delete(b.clients, id)
			close(c.send)
		}
	}
}

func (b *Broadcaster) add() *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &client{id: b.nextID, send: make(chan []byte, clientBufferSize)}
	b.clients[c.id] = c
	log.Debug().Int("client", c.id).Int("total", len(b.clients)).Msg("sse client connected")
	return c
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		close(c.send)
	}
	log.Debug().Int("client", c.id).Int("total", len(b.clients)).Msg("sse client disconnected")
}

// ServeHTTP upgrades the request to an event stream and relays queued
// messages until the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	c := b.add()
	defer b.remove(c)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"client\":%d}\n\n", c.id)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
