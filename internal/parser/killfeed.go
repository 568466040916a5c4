package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/emerald/deadside-tracker/internal/domain"
)

// killfeedFields is the exact field count of a killfeed record:
// Timestamp;Killer;KillerID;Victim;VictimID;Weapon;Distance;KillerPlatform;VictimPlatform
const killfeedFields = 9

const killfeedDelimiter = ";"

// Reserved weapon tokens. The game writes a relocation suicide when a player
// despawns through the menu, and "falling" for fall damage deaths.
const (
	weaponMenuSuicide = "suicide_by_relocation"
	weaponFalling     = "falling"
)

// MalformedReason classifies why a killfeed line was rejected. Empty means
// the line parsed.
type MalformedReason string

const (
	ReasonFieldCount   MalformedReason = "field_count"
	ReasonBadTimestamp MalformedReason = "bad_timestamp"
	ReasonBadDistance  MalformedReason = "bad_distance"
)

// killfeed timestamps appear either as RFC 3339 or in the game's own
// 2024.05.01-13.37.00 form, depending on server version.
var killfeedTimeLayouts = []string{
	time.RFC3339,
	"2006.01.02-15.04.05",
}

// ParseKillfeedLine converts one delimited record into a KillEvent. A line
// with the wrong field count or an unparseable timestamp/distance is
// classified malformed, never fatal.
func ParseKillfeedLine(line, serverID string) (*domain.KillEvent, MalformedReason) {
	fields := strings.Split(line, killfeedDelimiter)
	if len(fields) != killfeedFields {
		return nil, ReasonFieldCount
	}

	ts, ok := parseKillfeedTime(strings.TrimSpace(fields[0]))
	if !ok {
		return nil, ReasonBadTimestamp
	}

	distance, ok := parseDistance(fields[6])
	if !ok {
		return nil, ReasonBadDistance
	}

	ev := &domain.KillEvent{
		Timestamp:      ts,
		ServerID:       serverID,
		Killer:         strings.TrimSpace(fields[1]),
		KillerID:       strings.TrimSpace(fields[2]),
		Victim:         strings.TrimSpace(fields[3]),
		VictimID:       strings.TrimSpace(fields[4]),
		Weapon:         strings.TrimSpace(fields[5]),
		Distance:       distance,
		KillerPlatform: strings.TrimSpace(fields[7]),
		VictimPlatform: strings.TrimSpace(fields[8]),
	}

	ev.IsSuicide = ev.KillerID != "" && ev.KillerID == ev.VictimID
	weapon := strings.ToLower(ev.Weapon)
	if weapon == weaponMenuSuicide {
		ev.IsMenuSuicide = true
		ev.IsSuicide = true
	}
	if weapon == weaponFalling {
		ev.IsFallDeath = true
	}
	return ev, ""
}

func parseKillfeedTime(s string) (time.Time, bool) {
	for _, layout := range killfeedTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseDistance is tolerant of the unit suffix and comma decimals some
// server builds emit.
func parseDistance(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "m"), "M")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
