package parser

import (
	"regexp"
	"time"

	"github.com/emerald/deadside-tracker/internal/domain"
)

// Regular expressions for parsing free-text log lines. Lines matching none
// of these are irrelevant and silently ignored.
var (
	// Matches the engine timestamp prefix: [2024.05.01-13.37.00:123][445]
	logTimestampRegex = regexp.MustCompile(`^\[(\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}):\d+\]\[\s*\d+\]`)

	// Event patterns (after the timestamp prefix is stripped)
	joinRegex    = regexp.MustCompile(`^LogSFPS: \[Login\] Player (.+?) connected`)
	leaveRegex   = regexp.MustCompile(`^LogSFPS: \[Logout\] Player (.+?) disconnected`)
	queueRegex   = regexp.MustCompile(`^LogSFPS: \[Queue\] (\d+) players? waiting`)
	missionRegex = regexp.MustCompile(`^LogSFPS: Mission (.+?) switched to (\w+)$`)
	traderRegex  = regexp.MustCompile(`^LogSFPS: Trader zone (.+?) (?:opened|restocked)$`)
	airdropRegex = regexp.MustCompile(`^LogSFPS: AirDrop (?:inbound|landed) at (.+)$`)
	crashRegex   = regexp.MustCompile(`^LogSFPS: Helicopter crash spawned at (.+)$`)
)

const logTimeLayout = "2006.01.02-15.04.05"

// ParseLogLine parses one free-text log line into a LogEvent. The second
// return value is false for unrecognized lines: free text is mostly noise,
// so an unmatched line is not malformed input.
func ParseLogLine(line, serverID string) (*domain.LogEvent, bool) {
	timestamp := time.Now().UTC()
	content := line
	if m := logTimestampRegex.FindStringSubmatch(line); m != nil {
		if ts, err := time.Parse(logTimeLayout, m[1]); err == nil {
			timestamp = ts.UTC()
		}
		content = line[len(m[0]):]
	}

	ev := &domain.LogEvent{Timestamp: timestamp, ServerID: serverID}

	if m := joinRegex.FindStringSubmatch(content); m != nil {
		ev.Kind = domain.LogEventJoin
		ev.Player = m[1]
		return ev, true
	}
	if m := leaveRegex.FindStringSubmatch(content); m != nil {
		ev.Kind = domain.LogEventLeave
		ev.Player = m[1]
		return ev, true
	}
	if m := queueRegex.FindStringSubmatch(content); m != nil {
		ev.Kind = domain.LogEventQueue
		ev.Payload = m[1]
		return ev, true
	}
	if m := missionRegex.FindStringSubmatch(content); m != nil {
		ev.Kind = domain.LogEventMission
		ev.Payload = m[1] + " " + m[2]
		return ev, true
	}
	if m := traderRegex.FindStringSubmatch(content); m != nil {
		ev.Kind = domain.LogEventTrader
		ev.Payload = m[1]
		return ev, true
	}
	if m := airdropRegex.FindStringSubmatch(content); m != nil {
		ev.Kind = domain.LogEventAirdrop
		ev.Payload = m[1]
		return ev, true
	}
	if m := crashRegex.FindStringSubmatch(content); m != nil {
		ev.Kind = domain.LogEventCrash
		ev.Payload = m[1]
		return ev, true
	}

	return nil, false
}
