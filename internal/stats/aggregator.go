package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emerald/deadside-tracker/internal/domain"
	"github.com/emerald/deadside-tracker/internal/metrics"
)

// StatDelta is the unit of write-through to the storage collaborator.
// Counters and maps are additive; streaks and longest kill are absolute
// (the aggregator owns streak state, the sink just records it).
type StatDelta struct {
	ServerID      string
	PlayerID      string
	Name          string
	Kills         int64
	Deaths        int64
	Suicides      int64
	MenuSuicides  int64
	StreakCurrent int64
	StreakBest    int64
	LongestKill   float64
	WeaponUsage   map[string]int64
	Rivalries     map[string]int64
}

// Sink is the external storage collaborator boundary: an eventually
// consistent, retryable record sink keyed by (serverID, playerID).
type Sink interface {
	ApplyStatDeltas(ctx context.Context, deltas []StatDelta) error
	LoadStreaks(ctx context.Context, serverID string) (map[string]StreakState, error)
}

// StreakState is the persisted streak pair for one player.
type StreakState struct {
	Current int64
	Best    int64
}

// playerState is the in-memory fold target for one (server, player).
type playerState struct {
	name          string
	streakCurrent int64
	streakBest    int64
	delta         *StatDelta
}

// Aggregator folds deduplicated kill events into per-player running
// statistics and writes them through to the sink. One aggregator instance
// serves one server, so ingestion passes for different servers never
// contend; the invariant of at most one active pass per server makes the
// internal lock uncontended in practice.
type Aggregator struct {
	serverID      string
	sink          Sink
	logger        zerolog.Logger
	maxPending    int
	flushAttempts int

	mu          sync.Mutex
	players     map[string]*playerState // keyed by playerID
	pendingRows int
}

// New creates an aggregator for one server.
func New(serverID string, sink Sink, maxPending, flushAttempts int, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		serverID:      serverID,
		sink:          sink,
		logger:        logger,
		maxPending:    maxPending,
		flushAttempts: flushAttempts,
		players:       make(map[string]*playerState),
	}
}

// Hydrate loads persisted streak state so streaks survive restarts.
func (a *Aggregator) Hydrate(ctx context.Context) error {
	streaks, err := a.sink.LoadStreaks(ctx, a.serverID)
	if err != nil {
		return fmt.Errorf("loading streaks for %s: %w", a.serverID, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for playerID, st := range streaks {
		a.players[playerID] = &playerState{streakCurrent: st.Current, streakBest: st.Best}
	}
	return nil
}

func (a *Aggregator) state(playerID, name string) *playerState {
	st, ok := a.players[playerID]
	if !ok {
		st = &playerState{}
		a.players[playerID] = st
	}
	if name != "" {
		st.name = name
	}
	if st.delta == nil {
		st.delta = &StatDelta{
			ServerID:    a.serverID,
			PlayerID:    playerID,
			WeaponUsage: make(map[string]int64),
			Rivalries:   make(map[string]int64),
		}
		a.pendingRows++
	}
	return st
}

// Apply folds one kill event. Dedup upstream guarantees each accepted event
// arrives exactly once, so every effect here is a plain increment.
//
// Suicides (menu or combat) touch only the actor: the suicide counter and
// the streak reset. Neither kind counts as a death, so the KDR denominator
// reflects only kills by other players.
func (a *Aggregator) Apply(ctx context.Context, ev domain.KillEvent) {
	a.mu.Lock()

	if ev.IsSuicide {
		actor := a.state(ev.KillerID, ev.Killer)
		if ev.IsMenuSuicide {
			actor.delta.MenuSuicides++
		} else {
			actor.delta.Suicides++
		}
		actor.streakCurrent = 0
		actor.delta.StreakCurrent = 0
		actor.delta.StreakBest = actor.streakBest
	} else {
		killer := a.state(ev.KillerID, ev.Killer)
		victim := a.state(ev.VictimID, ev.Victim)

		killer.delta.Kills++
		killer.streakCurrent++
		if killer.streakCurrent > killer.streakBest {
			killer.streakBest = killer.streakCurrent
		}
		killer.delta.StreakCurrent = killer.streakCurrent
		killer.delta.StreakBest = killer.streakBest
		killer.delta.WeaponUsage[ev.Weapon]++
		killer.delta.Rivalries[ev.VictimID]++
		if ev.Distance > killer.delta.LongestKill {
			killer.delta.LongestKill = ev.Distance
		}

		victim.delta.Deaths++
		victim.streakCurrent = 0
		victim.delta.StreakCurrent = 0
		victim.delta.StreakBest = victim.streakBest
	}

	forceFlush := a.pendingRows >= a.maxPending
	a.mu.Unlock()

	// Past the pending window the oldest deltas must reach the sink before
	// more accumulate, even if that means blocking this ingestion pass.
	if forceFlush {
		if err := a.Flush(ctx); err != nil {
			a.logger.Error().Str("server", a.serverID).Err(err).
				Msg("forced flush failed, retaining pending deltas")
		}
	}
}

// Streak returns the live streak state for one player.
func (a *Aggregator) Streak(playerID string) StreakState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.players[playerID]; ok {
		return StreakState{Current: st.streakCurrent, Best: st.streakBest}
	}
	return StreakState{}
}

// PendingRows reports how many player rows currently await a flush.
func (a *Aggregator) PendingRows() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingRows
}

// Flush writes pending deltas to the sink, retrying with backoff. Deltas are
// detached first and restored on total failure, so a crash mid-flush loses
// nothing and a success cannot double-apply.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	deltas := make([]StatDelta, 0, a.pendingRows)
	for _, st := range a.players {
		if st.delta == nil {
			continue
		}
		st.delta.Name = st.name
		deltas = append(deltas, *st.delta)
		st.delta = nil
	}
	a.pendingRows = 0
	a.mu.Unlock()

	if len(deltas) == 0 {
		return nil
	}

	var lastErr error
	delay := time.Second
	for attempt := 0; attempt < a.flushAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				a.restore(deltas)
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err := a.sink.ApplyStatDeltas(ctx, deltas); err != nil {
			lastErr = err
			metrics.FlushFailures.WithLabelValues(a.serverID).Inc()
			a.logger.Warn().Str("server", a.serverID).Int("attempt", attempt+1).
				Err(err).Msg("stats flush failed")
			continue
		}
		return nil
	}

	a.restore(deltas)
	return fmt.Errorf("flushing stats for %s: %w", a.serverID, lastErr)
}

// restore merges failed deltas back into the pending state.
func (a *Aggregator) restore(deltas []StatDelta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range deltas {
		d := deltas[i]
		st := a.state(d.PlayerID, d.Name)
		st.delta.Kills += d.Kills
		st.delta.Deaths += d.Deaths
		st.delta.Suicides += d.Suicides
		st.delta.MenuSuicides += d.MenuSuicides
		st.delta.StreakCurrent = st.streakCurrent
		st.delta.StreakBest = st.streakBest
		if d.LongestKill > st.delta.LongestKill {
			st.delta.LongestKill = d.LongestKill
		}
		for w, n := range d.WeaponUsage {
			st.delta.WeaponUsage[w] += n
		}
		for r, n := range d.Rivalries {
			st.delta.Rivalries[r] += n
		}
	}
}
