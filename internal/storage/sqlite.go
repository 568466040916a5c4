package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emerald/deadside-tracker/internal/domain"
	"github.com/emerald/deadside-tracker/internal/stats"
)

//go:embed schema.sql
var schema string

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string.
// The Z suffix ensures the Go sqlite driver parses it back as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Server methods ---

// UpsertServer registers a server from configuration
func (s *Store) UpsertServer(ctx context.Context, id, host string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (id, host) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET host = excluded.host
	`, id, host)
	return err
}

// HistoryDoneAt returns when the full-history pass finished for a server,
// or nil if it has not run yet.
func (s *Store) HistoryDoneAt(ctx context.Context, serverID string) (*time.Time, error) {
	var done sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT history_done_at FROM servers WHERE id = ?`, serverID).Scan(&done)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !done.Valid {
		return nil, nil
	}
	t := done.Time
	return &t, nil
}

// MarkHistoryDone records the completion of the full-history pass
func (s *Store) MarkHistoryDone(ctx context.Context, serverID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE servers SET history_done_at = ? WHERE id = ?`,
		formatTimestamp(at), serverID)
	return err
}

// --- Cursor methods ---

// GetCursor returns the saved cursor for a file, or nil if none exists
func (s *Store) GetCursor(ctx context.Context, serverID, filePath string) (*domain.FileCursor, error) {
	var c domain.FileCursor
	var lastModified sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT server_id, file_path, byte_offset, line_no, fingerprint, epoch_id, last_modified
		FROM cursors WHERE server_id = ? AND file_path = ?
	`, serverID, filePath).Scan(&c.ServerID, &c.FilePath, &c.Offset, &c.Line, &c.Fingerprint, &c.EpochID, &lastModified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastModified.Valid {
		c.LastModified = lastModified.Time
	}
	return &c, nil
}

// SaveCursor persists a cursor. Callers only save after the events of the
// batch it covers have been flushed, so an interrupted run re-reads instead
// of skipping.
func (s *Store) SaveCursor(ctx context.Context, c *domain.FileCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (server_id, file_path, byte_offset, line_no, fingerprint, epoch_id, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, file_path) DO UPDATE SET
			byte_offset = excluded.byte_offset,
			line_no = excluded.line_no,
			fingerprint = excluded.fingerprint,
			epoch_id = excluded.epoch_id,
			last_modified = excluded.last_modified
	`, c.ServerID, c.FilePath, c.Offset, c.Line, c.Fingerprint, c.EpochID, formatTimestamp(c.LastModified))
	return err
}

// --- Stats sink ---

// ApplyStatDeltas folds a batch of deltas into the stats tables in one
// transaction. Counters add; streaks and longest kill are written absolute.
func (s *Store) ApplyStatDeltas(ctx context.Context, deltas []stats.StatDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning stats tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO player_stats (server_id, player_id, name, kills, deaths, suicides, menu_suicides,
				streak_current, streak_best, longest_kill)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(server_id, player_id) DO UPDATE SET
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE player_stats.name END,
				kills = player_stats.kills + excluded.kills,
				deaths = player_stats.deaths + excluded.deaths,
				suicides = player_stats.suicides + excluded.suicides,
				menu_suicides = player_stats.menu_suicides + excluded.menu_suicides,
				streak_current = excluded.streak_current,
				streak_best = MAX(player_stats.streak_best, excluded.streak_best),
				longest_kill = MAX(player_stats.longest_kill, excluded.longest_kill)
		`, d.ServerID, d.PlayerID, d.Name, d.Kills, d.Deaths, d.Suicides, d.MenuSuicides,
			d.StreakCurrent, d.StreakBest, d.LongestKill); err != nil {
			return fmt.Errorf("upserting stats for %s/%s: %w", d.ServerID, d.PlayerID, err)
		}

		for weapon, uses := range d.WeaponUsage {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO weapon_usage (server_id, player_id, weapon, uses)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(server_id, player_id, weapon) DO UPDATE SET
					uses = weapon_usage.uses + excluded.uses
			`, d.ServerID, d.PlayerID, weapon, uses); err != nil {
				return fmt.Errorf("upserting weapon usage: %w", err)
			}
		}

		for victimID, kills := range d.Rivalries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rivalries (server_id, killer_id, victim_id, kills)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(server_id, killer_id, victim_id) DO UPDATE SET
					kills = rivalries.kills + excluded.kills
			`, d.ServerID, d.PlayerID, victimID, kills); err != nil {
				return fmt.Errorf("upserting rivalry: %w", err)
			}
		}
	}

	return tx.Commit()
}

// LoadStreaks returns the persisted streak state for every player of a server
func (s *Store) LoadStreaks(ctx context.Context, serverID string) (map[string]stats.StreakState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, streak_current, streak_best FROM player_stats WHERE server_id = ?
	`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]stats.StreakState)
	for rows.Next() {
		var playerID string
		var st stats.StreakState
		if err := rows.Scan(&playerID, &st.Current, &st.Best); err != nil {
			return nil, err
		}
		out[playerID] = st
	}
	return out, rows.Err()
}

// GetPlayerStats returns the full stats row for one player, including weapon
// usage and rivalries, or nil if the player is unknown.
func (s *Store) GetPlayerStats(ctx context.Context, serverID, playerID string) (*domain.PlayerStats, error) {
	var p domain.PlayerStats
	err := s.db.QueryRowContext(ctx, `
		SELECT server_id, player_id, name, kills, deaths, suicides, menu_suicides,
			streak_current, streak_best, longest_kill
		FROM player_stats WHERE server_id = ? AND player_id = ?
	`, serverID, playerID).Scan(&p.ServerID, &p.PlayerID, &p.Name, &p.Kills, &p.Deaths,
		&p.Suicides, &p.MenuSuicides, &p.StreakCurrent, &p.StreakBest, &p.LongestKill)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.WeaponUsage = make(map[string]int64)
	rows, err := s.db.QueryContext(ctx, `
		SELECT weapon, uses FROM weapon_usage WHERE server_id = ? AND player_id = ?
	`, serverID, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var weapon string
		var uses int64
		if err := rows.Scan(&weapon, &uses); err != nil {
			return nil, err
		}
		p.WeaponUsage[weapon] = uses
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	p.Rivalries = make(map[string]int64)
	rrows, err := s.db.QueryContext(ctx, `
		SELECT victim_id, kills FROM rivalries WHERE server_id = ? AND killer_id = ?
	`, serverID, playerID)
	if err != nil {
		return nil, err
	}
	defer rrows.Close()
	for rrows.Next() {
		var victimID string
		var kills int64
		if err := rrows.Scan(&victimID, &kills); err != nil {
			return nil, err
		}
		p.Rivalries[victimID] = kills
	}
	return &p, rrows.Err()
}

// --- Faction methods ---

// SetFactionMember assigns a player to a faction
func (s *Store) SetFactionMember(ctx context.Context, m domain.FactionMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO faction_members (server_id, player_id, faction)
		VALUES (?, ?, ?)
		ON CONFLICT(server_id, player_id) DO UPDATE SET faction = excluded.faction
	`, m.ServerID, m.PlayerID, m.Faction)
	return err
}

// --- Leaderboard queries ---

// scopeClause builds the WHERE fragment for a server scope. The scope "all"
// aggregates across every server.
func scopeClause(scope string) (string, []interface{}) {
	if scope == "all" || scope == "" {
		return "1=1", nil
	}
	return "server_id = ?", []interface{}{scope}
}

// Leaderboard computes the ranked entries for one view kind.
func (s *Store) Leaderboard(ctx context.Context, viewKind, scope string, minKillsKDR int64) ([]domain.LeaderboardEntry, error) {
	switch viewKind {
	case domain.ViewKills:
		return s.topKills(ctx, scope, 10)
	case domain.ViewKDR:
		return s.topKDR(ctx, scope, 5, minKillsKDR)
	case domain.ViewStreak:
		return s.topStreak(ctx, scope, 3, "streak_current")
	case domain.ViewLongestStreak:
		return s.topStreak(ctx, scope, 3, "streak_best")
	case domain.ViewWeapons:
		return s.topWeapons(ctx, scope, 5)
	case domain.ViewFactions:
		return s.topFactions(ctx, scope, 3)
	default:
		return nil, fmt.Errorf("unknown leaderboard view %q", viewKind)
	}
}

func (s *Store) topKills(ctx context.Context, scope string, limit int) ([]domain.LeaderboardEntry, error) {
	where, args := scopeClause(scope)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name, SUM(kills) AS k, SUM(deaths) AS d FROM player_stats
		WHERE %s GROUP BY player_id, name
		ORDER BY k DESC, d ASC, LOWER(name) ASC LIMIT ?
	`, where), append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var name string
		var kills, deaths int64
		if err := rows.Scan(&name, &kills, &deaths); err != nil {
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{
			Rank:  len(entries) + 1,
			Label: name,
			Value: float64(kills),
		})
	}
	return entries, rows.Err()
}

func (s *Store) topKDR(ctx context.Context, scope string, limit int, minKills int64) ([]domain.LeaderboardEntry, error) {
	where, args := scopeClause(scope)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name, CAST(SUM(kills) AS REAL) / MAX(SUM(deaths), 1) AS kdr
		FROM player_stats WHERE %s
		GROUP BY player_id, name
		HAVING SUM(kills) >= ?
		ORDER BY kdr DESC, LOWER(name) ASC LIMIT ?
	`, where), append(args, minKills, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var name string
		var kdr float64
		if err := rows.Scan(&name, &kdr); err != nil {
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{Rank: len(entries) + 1, Label: name, Value: kdr})
	}
	return entries, rows.Err()
}

func (s *Store) topStreak(ctx context.Context, scope string, limit int, column string) ([]domain.LeaderboardEntry, error) {
	where, args := scopeClause(scope)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name, MAX(%s) AS v FROM player_stats
		WHERE %s GROUP BY player_id, name
		HAVING v > 0
		ORDER BY v DESC, LOWER(name) ASC LIMIT ?
	`, column, where), append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var name string
		var v int64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{Rank: len(entries) + 1, Label: name, Value: float64(v)})
	}
	return entries, rows.Err()
}

// topWeapons ranks weapons by total usage and annotates each with its single
// highest-using player.
func (s *Store) topWeapons(ctx context.Context, scope string, limit int) ([]domain.LeaderboardEntry, error) {
	where, args := scopeClause(scope)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT w.weapon, SUM(w.uses) AS total,
			(SELECT p.name FROM weapon_usage wu
				JOIN player_stats p ON p.server_id = wu.server_id AND p.player_id = wu.player_id
				WHERE wu.weapon = w.weapon AND %s
				GROUP BY wu.player_id, p.name
				ORDER BY SUM(wu.uses) DESC, LOWER(p.name) ASC LIMIT 1) AS top_user
		FROM weapon_usage w
		WHERE %s
		GROUP BY w.weapon
		ORDER BY total DESC, w.weapon ASC LIMIT ?
	`, replacePrefix(where, "wu"), replacePrefix(where, "w")), append(append(args, args...), limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var weapon string
		var total int64
		var topUser sql.NullString
		if err := rows.Scan(&weapon, &total, &topUser); err != nil {
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{
			Rank:   len(entries) + 1,
			Label:  weapon,
			Value:  float64(total),
			Detail: topUser.String,
		})
	}
	return entries, rows.Err()
}

// replacePrefix qualifies the scope clause's server_id column with a table
// alias for queries that join.
func replacePrefix(where, alias string) string {
	if where == "1=1" {
		return where
	}
	return alias + "." + where
}

func (s *Store) topFactions(ctx context.Context, scope string, limit int) ([]domain.LeaderboardEntry, error) {
	where, args := scopeClause(scope)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT f.faction, SUM(p.kills) AS total
		FROM faction_members f
		JOIN player_stats p ON p.server_id = f.server_id AND p.player_id = f.player_id
		WHERE %s
		GROUP BY f.faction
		HAVING total > 0
		ORDER BY total DESC, f.faction ASC LIMIT ?
	`, replacePrefix(where, "f")), append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var faction string
		var total int64
		if err := rows.Scan(&faction, &total); err != nil {
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{Rank: len(entries) + 1, Label: faction, Value: float64(total)})
	}
	return entries, rows.Err()
}

// --- Leaderboard view state ---

// GetViewState returns the persisted message reference for a view, or nil
// if the view has never been posted.
func (s *Store) GetViewState(ctx context.Context, viewKind, serverScope string) (*domain.LeaderboardViewState, error) {
	var v domain.LeaderboardViewState
	err := s.db.QueryRowContext(ctx, `
		SELECT view_kind, server_scope, channel_ref, message_ref, rendered_at
		FROM leaderboard_views WHERE view_kind = ? AND server_scope = ?
	`, viewKind, serverScope).Scan(&v.ViewKind, &v.ServerScope, &v.ChannelRef, &v.MessageRef, &v.RenderedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveViewState persists a view's message reference
func (s *Store) SaveViewState(ctx context.Context, v *domain.LeaderboardViewState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard_views (view_kind, server_scope, channel_ref, message_ref, rendered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(view_kind, server_scope) DO UPDATE SET
			channel_ref = excluded.channel_ref,
			message_ref = excluded.message_ref,
			rendered_at = excluded.rendered_at
	`, v.ViewKind, v.ServerScope, v.ChannelRef, v.MessageRef, v.RenderedAt)
	return err
}

// --- Meta ---

// GetMeta returns a meta value, or empty string if unset
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetMeta stores a meta value
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
