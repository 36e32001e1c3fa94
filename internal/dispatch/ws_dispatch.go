package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/observability"
)

const writeWait = 5 * time.Second

// WSSession is one watcher connected to a trip feed.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev models.TripEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}

// WSHub fans trip events out to the websocket sessions watching each trip.
type WSHub struct {
	mu       sync.RWMutex
	sessions map[int64]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{sessions: make(map[int64]map[*WSSession]struct{}), logger: logger}
}

func (h *WSHub) Add(tripID int64, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[tripID] == nil {
		h.sessions[tripID] = make(map[*WSSession]struct{})
	}
	h.sessions[tripID][s] = struct{}{}
	observability.WatchersConnected.Inc()
	return s
}

// Remove drops the session and closes its connection. Removing twice is a no-op.
func (h *WSHub) Remove(tripID int64, s *WSSession) {
	h.mu.Lock()
	set := h.sessions[tripID]
	_, ok := set[s]
	if ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, tripID)
		}
	}
	h.mu.Unlock()
	if ok {
		observability.WatchersConnected.Dec()
		_ = s.conn.Close()
	}
}

// Serve keeps the session registered until the peer goes away. Watchers
// never send anything meaningful, so reads only detect disconnects.
func (h *WSHub) Serve(tripID int64, conn *websocket.Conn) {
	s := h.Add(tripID, conn)
	defer h.Remove(tripID, s)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) Watchers(tripID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[tripID])
}

// Publish implements Sink. Sessions that fail to receive are dropped.
func (h *WSHub) Publish(_ context.Context, ev models.TripEvent) error {
	h.mu.RLock()
	targets := make([]*WSSession, 0, len(h.sessions[ev.TripID]))
	for s := range h.sessions[ev.TripID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		if err := s.Send(ev); err != nil {
			h.logger.Info("ws send error, dropping watcher", "trip_id", ev.TripID, "error", err)
			h.Remove(ev.TripID, s)
		}
	}
	return nil
}
