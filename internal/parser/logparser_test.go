package parser

import (
	"testing"
	"time"

	"github.com/emerald/deadside-tracker/internal/domain"
)

func TestParseLogLineEvents(t *testing.T) {
	prefix := "[2024.05.01-13.37.00:123][445]"
	cases := []struct {
		name    string
		line    string
		kind    string
		player  string
		payload string
	}{
		{"join", prefix + "LogSFPS: [Login] Player Survivor42 connected", domain.LogEventJoin, "Survivor42", ""},
		{"leave", prefix + "LogSFPS: [Logout] Player Survivor42 disconnected", domain.LogEventLeave, "Survivor42", ""},
		{"queue", prefix + "LogSFPS: [Queue] 7 players waiting", domain.LogEventQueue, "", "7"},
		{"mission", prefix + "LogSFPS: Mission SupplyRun switched to Active", domain.LogEventMission, "", "SupplyRun Active"},
		{"trader", prefix + "LogSFPS: Trader zone GreenZone opened", domain.LogEventTrader, "", "GreenZone"},
		{"airdrop", prefix + "LogSFPS: AirDrop landed at X=1200 Y=-340", domain.LogEventAirdrop, "", "X=1200 Y=-340"},
		{"crash", prefix + "LogSFPS: Helicopter crash spawned at X=88 Y=14", domain.LogEventCrash, "", "X=88 Y=14"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := ParseLogLine(tc.line, "srv1")
			if !ok {
				t.Fatal("expected line to match")
			}
			if ev.Kind != tc.kind {
				t.Errorf("got kind %q, want %q", ev.Kind, tc.kind)
			}
			if ev.Player != tc.player {
				t.Errorf("got player %q, want %q", ev.Player, tc.player)
			}
			if ev.Payload != tc.payload {
				t.Errorf("got payload %q, want %q", ev.Payload, tc.payload)
			}
			want := time.Date(2024, 5, 1, 13, 37, 0, 0, time.UTC)
			if !ev.Timestamp.Equal(want) {
				t.Errorf("got timestamp %v, want %v", ev.Timestamp, want)
			}
		})
	}
}

func TestParseLogLineIgnoresNoise(t *testing.T) {
	lines := []string{
		"[2024.05.01-13.37.00:123][445]LogStreaming: Display: Took 0.05s",
		"random garbage without a timestamp",
		"",
	}
	for _, line := range lines {
		if _, ok := ParseLogLine(line, "srv1"); ok {
			t.Errorf("line %q should not match", line)
		}
	}
}
