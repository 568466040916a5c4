package parser

import (
	"testing"
	"time"
)

func TestParseKillfeedLine(t *testing.T) {
	line := "2024-01-01T00:00:00Z;Alice;111;Bob;222;AK47;150;PC;PC"
	ev, reason := ParseKillfeedLine(line, "srv1")
	if ev == nil {
		t.Fatalf("expected event, got malformed reason %q", reason)
	}
	if ev.KillerID != "111" || ev.VictimID != "222" {
		t.Errorf("got killer=%s victim=%s, want 111/222", ev.KillerID, ev.VictimID)
	}
	if ev.Killer != "Alice" || ev.Victim != "Bob" {
		t.Errorf("got names %s/%s, want Alice/Bob", ev.Killer, ev.Victim)
	}
	if ev.Weapon != "AK47" {
		t.Errorf("got weapon %s, want AK47", ev.Weapon)
	}
	if ev.Distance != 150 {
		t.Errorf("got distance %v, want 150", ev.Distance)
	}
	if ev.IsSuicide {
		t.Error("normal kill flagged as suicide")
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("got timestamp %v, want %v", ev.Timestamp, want)
	}
	if ev.ServerID != "srv1" {
		t.Errorf("got server %s, want srv1", ev.ServerID)
	}
}

func TestParseKillfeedMenuSuicide(t *testing.T) {
	line := "2024-01-01T00:00:00Z;Carol;333;Carol;333;Suicide_by_relocation;0;PC;PC"
	ev, _ := ParseKillfeedLine(line, "srv1")
	if ev == nil {
		t.Fatal("expected event")
	}
	if !ev.IsSuicide {
		t.Error("menu suicide not flagged as suicide")
	}
	if !ev.IsMenuSuicide {
		t.Error("menu suicide not flagged as menu suicide")
	}
}

func TestParseKillfeedCombatSuicide(t *testing.T) {
	line := "2024-01-01T00:00:00Z;Dave;444;Dave;444;Grenade;0;PC;PC"
	ev, _ := ParseKillfeedLine(line, "srv1")
	if ev == nil {
		t.Fatal("expected event")
	}
	if !ev.IsSuicide {
		t.Error("self kill not flagged as suicide")
	}
	if ev.IsMenuSuicide {
		t.Error("combat suicide flagged as menu suicide")
	}
}

func TestParseKillfeedFallDeath(t *testing.T) {
	line := "2024-01-01T00:00:00Z;Eve;555;Eve;555;Falling;0;PC;PC"
	ev, _ := ParseKillfeedLine(line, "srv1")
	if ev == nil {
		t.Fatal("expected event")
	}
	if !ev.IsFallDeath {
		t.Error("fall death not flagged")
	}
}

func TestParseKillfeedMalformed(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		reason MalformedReason
	}{
		{"six fields", "2024-01-01T00:00:00Z;Alice;111;Bob;222;AK47", ReasonFieldCount},
		{"ten fields", "2024-01-01T00:00:00Z;Alice;111;Bob;222;AK47;150;PC;PC;extra", ReasonFieldCount},
		{"bad timestamp", "yesterday;Alice;111;Bob;222;AK47;150;PC;PC", ReasonBadTimestamp},
		{"bad distance", "2024-01-01T00:00:00Z;Alice;111;Bob;222;AK47;far;PC;PC", ReasonBadDistance},
		{"negative distance", "2024-01-01T00:00:00Z;Alice;111;Bob;222;AK47;-5;PC;PC", ReasonBadDistance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, reason := ParseKillfeedLine(tc.line, "srv1")
			if ev != nil {
				t.Fatal("expected malformed line to be rejected")
			}
			if reason != tc.reason {
				t.Errorf("got reason %q, want %q", reason, tc.reason)
			}
		})
	}
}

func TestParseKillfeedGameTimestamp(t *testing.T) {
	line := "2024.05.01-13.37.00;Alice;111;Bob;222;Mosin;412.5m;PC;XBOX"
	ev, reason := ParseKillfeedLine(line, "srv1")
	if ev == nil {
		t.Fatalf("expected event, got %q", reason)
	}
	want := time.Date(2024, 5, 1, 13, 37, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("got timestamp %v, want %v", ev.Timestamp, want)
	}
	if ev.Distance != 412.5 {
		t.Errorf("got distance %v, want 412.5", ev.Distance)
	}
	if ev.VictimPlatform != "XBOX" {
		t.Errorf("got victim platform %s, want XBOX", ev.VictimPlatform)
	}
}

func TestParseDistanceVariants(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"150", 150, true},
		{"150m", 150, true},
		{"412,5", 412.5, true},
		{"", 0, true},
		{"abc", 0, false},
		{"-1", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseDistance(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseDistance(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
