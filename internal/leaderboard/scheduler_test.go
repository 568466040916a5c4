package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/emerald/deadside-tracker/internal/discord"
	"github.com/emerald/deadside-tracker/internal/domain"
)

type fakeSource struct {
	entries map[string][]domain.LeaderboardEntry // keyed by view
	err     error
}

func (s *fakeSource) Leaderboard(ctx context.Context, viewKind, scope string, minKillsKDR int64) ([]domain.LeaderboardEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.entries[viewKind], nil
}

type memViews struct {
	states map[string]*domain.LeaderboardViewState
}

func newMemViews() *memViews {
	return &memViews{states: make(map[string]*domain.LeaderboardViewState)}
}

func (m *memViews) key(view, scope string) string { return view + "|" + scope }

func (m *memViews) GetViewState(ctx context.Context, viewKind, serverScope string) (*domain.LeaderboardViewState, error) {
	if st, ok := m.states[m.key(viewKind, serverScope)]; ok {
		copied := *st
		return &copied, nil
	}
	return nil, nil
}

func (m *memViews) SaveViewState(ctx context.Context, v *domain.LeaderboardViewState) error {
	copied := *v
	m.states[m.key(v.ViewKind, v.ServerScope)] = &copied
	return nil
}

type fakeMessenger struct {
	posts   []string
	edits   []string
	nextRef int
	gone    map[discord.MessageRef]bool
}

func (f *fakeMessenger) Post(ctx context.Context, channelRef, content string) (discord.MessageRef, error) {
	f.nextRef++
	f.posts = append(f.posts, content)
	return discord.MessageRef(fmt.Sprintf("msg-%d", f.nextRef)), nil
}

func (f *fakeMessenger) Edit(ctx context.Context, channelRef string, ref discord.MessageRef, content string) error {
	if f.gone[ref] {
		return discord.ErrMessageGone
	}
	f.edits = append(f.edits, content)
	return nil
}

func testScheduler(source Source, views ViewStore, msgr discord.Messenger) *Scheduler {
	return New(Config{
		Interval:    time.Minute,
		ChannelRef:  "chan-1",
		MinKillsKDR: 10,
		Views:       []string{domain.ViewKills},
		Scopes:      []string{"srv1"},
	}, source, views, msgr, zerolog.Nop())
}

func killsEntries() map[string][]domain.LeaderboardEntry {
	return map[string][]domain.LeaderboardEntry{
		domain.ViewKills: {
			{Rank: 1, Label: "Alice", Value: 42},
			{Rank: 2, Label: "Bob", Value: 17},
		},
	}
}

func TestFirstTickPostsThenEdits(t *testing.T) {
	source := &fakeSource{entries: killsEntries()}
	views := newMemViews()
	msgr := &fakeMessenger{gone: map[discord.MessageRef]bool{}}
	s := testScheduler(source, views, msgr)
	ctx := context.Background()

	s.Tick(ctx)
	if len(msgr.posts) != 1 {
		t.Fatalf("first tick posted %d messages, want 1", len(msgr.posts))
	}
	st, _ := views.GetViewState(ctx, domain.ViewKills, "srv1")
	if st == nil || st.MessageRef != "msg-1" {
		t.Fatalf("view state not persisted after first post: %+v", st)
	}

	// Stats change; the second tick edits the same message.
	source.entries[domain.ViewKills][0].Value = 43
	s.Tick(ctx)
	if len(msgr.posts) != 1 {
		t.Errorf("second tick posted again (%d posts), want edit", len(msgr.posts))
	}
	if len(msgr.edits) != 1 {
		t.Fatalf("second tick made %d edits, want 1", len(msgr.edits))
	}
	st2, _ := views.GetViewState(ctx, domain.ViewKills, "srv1")
	if st2.MessageRef != "msg-1" {
		t.Errorf("message ref changed to %s on edit", st2.MessageRef)
	}
}

func TestRepostWhenMessageGone(t *testing.T) {
	source := &fakeSource{entries: killsEntries()}
	views := newMemViews()
	msgr := &fakeMessenger{gone: map[discord.MessageRef]bool{}}
	s := testScheduler(source, views, msgr)
	ctx := context.Background()

	s.Tick(ctx)
	msgr.gone["msg-1"] = true

	s.Tick(ctx)
	if len(msgr.posts) != 2 {
		t.Fatalf("got %d posts, want repost after deletion", len(msgr.posts))
	}
	st, _ := views.GetViewState(ctx, domain.ViewKills, "srv1")
	if st.MessageRef != "msg-2" {
		t.Errorf("stored ref = %s, want the replacement msg-2", st.MessageRef)
	}
}

func TestSourceFailureSkipsCycle(t *testing.T) {
	source := &fakeSource{err: errors.New("database locked")}
	views := newMemViews()
	msgr := &fakeMessenger{gone: map[discord.MessageRef]bool{}}
	s := testScheduler(source, views, msgr)
	ctx := context.Background()

	s.Tick(ctx)
	if len(msgr.posts) != 0 {
		t.Error("failed view computation must not post")
	}

	// Next cycle recovers.
	source.err = nil
	source.entries = killsEntries()
	s.Tick(ctx)
	if len(msgr.posts) != 1 {
		t.Errorf("got %d posts after recovery, want 1", len(msgr.posts))
	}
}

func TestRenderViews(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	out := Render(domain.ViewKills, "srv1", []domain.LeaderboardEntry{
		{Rank: 1, Label: "Alice", Value: 42},
	}, at)
	for _, want := range []string{"Top Kills", "srv1", "Alice", "42", "2024-05-01 12:00 UTC"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered output missing %q:\n%s", want, out)
		}
	}

	out = Render(domain.ViewKDR, "all", []domain.LeaderboardEntry{
		{Rank: 1, Label: "Bob", Value: 2.5},
	}, at)
	if !strings.Contains(out, "2.50") {
		t.Errorf("KDR not rendered with two decimals:\n%s", out)
	}
	if !strings.Contains(out, "all servers") {
		t.Errorf("scope label missing:\n%s", out)
	}

	out = Render(domain.ViewWeapons, "all", []domain.LeaderboardEntry{
		{Rank: 1, Label: "AK47", Value: 120, Detail: "Alice"},
	}, at)
	if !strings.Contains(out, "(Alice)") {
		t.Errorf("weapon top user missing:\n%s", out)
	}

	out = Render(domain.ViewKills, "all", nil, at)
	if !strings.Contains(out, "No qualifying players") {
		t.Errorf("empty view placeholder missing:\n%s", out)
	}
}
