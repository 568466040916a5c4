// Package leaderboard periodically recomputes ranked stat views and keeps
// one persisted, editable message per (view, scope) pair up to date.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/emerald/deadside-tracker/internal/discord"
	"github.com/emerald/deadside-tracker/internal/domain"
	"github.com/emerald/deadside-tracker/internal/metrics"
)

// Source computes ranked leaderboard entries from current player stats.
type Source interface {
	Leaderboard(ctx context.Context, viewKind, scope string, minKillsKDR int64) ([]domain.LeaderboardEntry, error)
}

// ViewStore persists the message reference behind each view.
type ViewStore interface {
	GetViewState(ctx context.Context, viewKind, serverScope string) (*domain.LeaderboardViewState, error)
	SaveViewState(ctx context.Context, v *domain.LeaderboardViewState) error
}

// viewTitles maps view kinds to their rendered headings.
var viewTitles = map[string]string{
	domain.ViewKills:         "Top Kills",
	domain.ViewKDR:           "Top K/D Ratio",
	domain.ViewStreak:        "Current Kill Streaks",
	domain.ViewLongestStreak: "Longest Kill Streaks",
	domain.ViewWeapons:       "Most Used Weapons",
	domain.ViewFactions:      "Top Factions",
}

// Config holds the scheduler's settings.
type Config struct {
	Interval    time.Duration
	ChannelRef  string
	MinKillsKDR int64
	Views       []string
	Scopes      []string // server IDs plus "all"
}

// Scheduler recomputes each configured view on a fixed interval and posts
// or edits its backing message. A view whose message was deleted externally
// gets a fresh post and an updated stored reference.
type Scheduler struct {
	cfg       Config
	source    Source
	views     ViewStore
	messenger discord.Messenger
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a leaderboard scheduler.
func New(cfg Config, source Source, views ViewStore, messenger discord.Messenger, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		source:    source,
		views:     views,
		messenger: messenger,
		logger:    logger,
		now:       time.Now,
	}
}

// Run ticks until the context is cancelled. Failures degrade to skipping
// the affected view for this cycle; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).
		Int("views", len(s.cfg.Views)).Int("scopes", len(s.cfg.Scopes)).
		Msg("leaderboard scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("leaderboard scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick refreshes every configured (view, scope) pair once.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, view := range s.cfg.Views {
		for _, scope := range s.cfg.Scopes {
			if err := s.refresh(ctx, view, scope); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.LeaderboardTicks.WithLabelValues(view, "error").Inc()
				s.logger.Warn().Str("view", view).Str("scope", scope).Err(err).
					Msg("leaderboard refresh failed, skipping until next cycle")
				continue
			}
			metrics.LeaderboardTicks.WithLabelValues(view, "ok").Inc()
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context, view, scope string) error {
	entries, err := s.source.Leaderboard(ctx, view, scope, s.cfg.MinKillsKDR)
	if err != nil {
		return fmt.Errorf("computing %s view: %w", view, err)
	}
	content := Render(view, scope, entries, s.now())

	state, err := s.views.GetViewState(ctx, view, scope)
	if err != nil {
		return fmt.Errorf("loading view state: %w", err)
	}

	if state == nil {
		return s.postNew(ctx, view, scope, content)
	}

	err = s.messenger.Edit(ctx, state.ChannelRef, discord.MessageRef(state.MessageRef), content)
	if errors.Is(err, discord.ErrMessageGone) {
		s.logger.Info().Str("view", view).Str("scope", scope).
			Msg("leaderboard message deleted externally, reposting")
		return s.postNew(ctx, view, scope, content)
	}
	if err != nil {
		return fmt.Errorf("editing leaderboard message: %w", err)
	}

	state.RenderedAt = s.now().Unix()
	return s.views.SaveViewState(ctx, state)
}

func (s *Scheduler) postNew(ctx context.Context, view, scope, content string) error {
	ref, err := s.messenger.Post(ctx, s.cfg.ChannelRef, content)
	if err != nil {
		return fmt.Errorf("posting leaderboard message: %w", err)
	}
	return s.views.SaveViewState(ctx, &domain.LeaderboardViewState{
		ViewKind:    view,
		ServerScope: scope,
		ChannelRef:  s.cfg.ChannelRef,
		MessageRef:  string(ref),
		RenderedAt:  s.now().Unix(),
	})
}

// Render formats one ranked view as plain text.
func Render(view, scope string, entries []domain.LeaderboardEntry, at time.Time) string {
	title := viewTitles[view]
	if title == "" {
		title = view
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", title, scopeLabel(scope))
	if len(entries) == 0 {
		b.WriteString("No qualifying players yet.\n")
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "%2d. %s - %s", e.Rank, e.Label, formatValue(view, e.Value))
		if e.Detail != "" {
			fmt.Fprintf(&b, " (%s)", e.Detail)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Updated %s\n", at.UTC().Format("2006-01-02 15:04 UTC"))
	return b.String()
}

func scopeLabel(scope string) string {
	if scope == "" || scope == "all" {
		return "all servers"
	}
	return scope
}

func formatValue(view string, v float64) string {
	if view == domain.ViewKDR {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.0f", v)
}
