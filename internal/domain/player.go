package domain

// PlayerStats holds the running counters for one player on one server.
// Counters only ever increase within a dedup epoch; the current streak is the
// single value that resets (on death).
type PlayerStats struct {
	PlayerID      string           `json:"player_id"`
	ServerID      string           `json:"server_id"`
	Name          string           `json:"name"`
	Kills         int64            `json:"kills"`
	Deaths        int64            `json:"deaths"`
	Suicides      int64            `json:"suicides"`
	MenuSuicides  int64            `json:"menu_suicides"`
	StreakCurrent int64            `json:"streak_current"`
	StreakBest    int64            `json:"streak_best"`
	LongestKill   float64          `json:"longest_kill"`
	WeaponUsage   map[string]int64 `json:"weapon_usage,omitempty"`
	Rivalries     map[string]int64 `json:"rivalries,omitempty"` // opponent ID -> kills against them
}

// KDRatio is derived at read time, never stored, so the counters cannot
// drift from it.
func (p *PlayerStats) KDRatio() float64 {
	deaths := p.Deaths
	if deaths < 1 {
		deaths = 1
	}
	return float64(p.Kills) / float64(deaths)
}

// Leaderboard view kinds.
const (
	ViewKills         = "kills"
	ViewKDR           = "kdr"
	ViewStreak        = "streak"
	ViewLongestStreak = "longest_streak"
	ViewWeapons       = "weapons"
	ViewFactions      = "factions"
)

// LeaderboardEntry is one ranked row of a leaderboard view.
type LeaderboardEntry struct {
	Rank   int     `json:"rank"`
	Label  string  `json:"label"`            // player name, weapon, or faction
	Value  float64 `json:"value"`            // kills, KDR, streak or usage count
	Detail string  `json:"detail,omitempty"` // e.g. top user of a weapon
}

// LeaderboardViewState tracks the persisted message backing one
// (viewKind, serverScope) leaderboard. Created on first post, edited in
// place afterwards.
type LeaderboardViewState struct {
	ViewKind    string `json:"view_kind"`
	ServerScope string `json:"server_scope"`
	ChannelRef  string `json:"channel_ref"`
	MessageRef  string `json:"message_ref"`
	RenderedAt  int64  `json:"rendered_at"` // unix seconds
}

// FactionMember maps one player to a faction for the faction leaderboard.
type FactionMember struct {
	ServerID string `json:"server_id"`
	PlayerID string `json:"player_id"`
	Faction  string `json:"faction"`
}
