// Package hub runs the engine's single dispatch loop. Every stateful
// component (presence, matchmaking, rooms) is only ever touched from this
// loop; transports and timers post closures onto it instead of locking.
package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/pairwire/pairwire/internal/config"
	"github.com/pairwire/pairwire/internal/match"
	"github.com/pairwire/pairwire/internal/metrics"
	"github.com/pairwire/pairwire/internal/presence"
	"github.com/pairwire/pairwire/internal/registry"
	"github.com/pairwire/pairwire/internal/relay"
	"github.com/pairwire/pairwire/internal/room"
)

type Hub struct {
	logger  *slog.Logger
	cfg     config.Config
	metrics *metrics.Metrics

	conns    *registry.Registry
	presence *presence.Store
	matches  *match.Matchmaker
	rooms    *room.Manager
	relay    *relay.Relay

	tasks chan func()
	done  chan struct{}
}

func New(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}

	h := &Hub{
		logger:   logger,
		cfg:      cfg,
		metrics:  m,
		conns:    registry.New(),
		presence: presence.NewStore(),
		matches:  match.New(cfg.MaxRecentPairs, time.Now),
		tasks:    make(chan func(), 256),
		done:     make(chan struct{}),
	}
	h.rooms = room.NewManager(room.Options{
		Logger:        logger,
		Metrics:       m,
		GraceUnjoined: cfg.SessionGraceUnjoined,
		GraceJoined:   cfg.SessionGraceJoined,
		Alive:         h.conns.IsAlive,
		Schedule:      h.after,
		OnExpired:     h.onSessionExpired,
	})
	h.relay = relay.New(h.rooms, h.conns, relay.Options{
		Logger:             logger,
		Metrics:            m,
		MaxVideoFrameBytes: cfg.MaxVideoFrameBytes,
		MaxAudioFrameBytes: cfg.MaxAudioFrameBytes,
	})
	return h
}

// Run processes posted tasks and the periodic match sweep until ctx is
// cancelled. All component state is confined to this goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.MatchSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-ticker.C:
			h.dispatch(h.sweep)
		case task := <-h.tasks:
			h.dispatch(task)
		}
	}
}

// Do schedules fn onto the dispatch loop. Returns false if the hub has
// already stopped.
func (h *Hub) Do(fn func()) bool {
	select {
	case <-h.done:
		return false
	case h.tasks <- fn:
		return true
	}
}

// after schedules fn onto the dispatch loop after d. Callbacks re-validate
// state when they run; cancellation is best effort.
func (h *Hub) after(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() {
		h.Do(fn)
	})
	return func() { t.Stop() }
}

// dispatch runs one task with panic containment. A panicking handler must
// not take the whole loop down with it.
func (h *Hub) dispatch(task func()) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.Inc(metrics.HandlerPanics)
			h.logger.Error("hub task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

func (h *Hub) shutdown() {
	h.rooms.Shutdown()
	h.conns.CloseAll()
}

// Stats is the live state summary served by the health endpoint.
type Stats struct {
	WaitingCount       int `json:"waitingCount"`
	ActiveSessionCount int `json:"activeSessionCount"`
	TotalConnections   int `json:"totalConnections"`
}

// Snapshot reads the current counters from the dispatch loop. Falls back
// to zeroes once the hub has stopped.
func (h *Hub) Snapshot() Stats {
	reply := make(chan Stats, 1)
	posted := h.Do(func() {
		reply <- Stats{
			WaitingCount:       h.matches.WaitingCount(),
			ActiveSessionCount: h.rooms.Count(),
			TotalConnections:   h.conns.Count(),
		}
	})
	if !posted {
		return Stats{}
	}
	select {
	case s := <-reply:
		return s
	case <-h.done:
		return Stats{}
	}
}
