package app

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
)

// DispatchHook observes a finished dispatch. Hooks must not mutate rooms.
type DispatchHook interface {
	AfterDispatch(ctx context.Context, env core.Envelope, res core.DispatchResult)
}

type DispatchHookFunc func(ctx context.Context, env core.Envelope, res core.DispatchResult)

func (f DispatchHookFunc) AfterDispatch(ctx context.Context, env core.Envelope, res core.DispatchResult) {
	f(ctx, env, res)
}

// LogHook writes one line per dispatch.
type LogHook struct{}

func (LogHook) AfterDispatch(_ context.Context, env core.Envelope, res core.DispatchResult) {
	ev := log.Debug()
	if len(res.Failed) > 0 {
		ev = log.Warn()
	}
	ev.Str("module", "orch").
		Str("event", env.Event).
		Str("target", env.Target.String()).
		Int("delivered", res.Delivered).
		Int("failed", len(res.Failed)).
		Msg("dispatched")
}

// Stats counts dispatch outcomes.
type Stats struct {
	dispatches atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64

	mu      sync.Mutex
	byEvent map[string]int64
}

func NewStats() *Stats {
	return &Stats{byEvent: make(map[string]int64)}
}

func (s *Stats) AfterDispatch(_ context.Context, env core.Envelope, res core.DispatchResult) {
	s.dispatches.Add(1)
	s.delivered.Add(int64(res.Delivered))
	s.failed.Add(int64(len(res.Failed)))
	s.mu.Lock()
	s.byEvent[env.Event]++
	s.mu.Unlock()
}

type EventCount struct {
	Event string `json:"event"`
	Count int64  `json:"count"`
}

type StatsSnapshot struct {
	Dispatches int64        `json:"dispatches"`
	Delivered  int64        `json:"delivered"`
	Failed     int64        `json:"failed"`
	ByEvent    []EventCount `json:"by_event"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Dispatches: s.dispatches.Load(),
		Delivered:  s.delivered.Load(),
		Failed:     s.failed.Load(),
	}
	s.mu.Lock()
	for event, n := range s.byEvent {
		snap.ByEvent = append(snap.ByEvent, EventCount{Event: event, Count: n})
	}
	s.mu.Unlock()
	sort.Slice(snap.ByEvent, func(i, j int) bool { return snap.ByEvent[i].Event < snap.ByEvent[j].Event })
	return snap
}
