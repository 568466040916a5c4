package domain

import "time"

// Log event kinds recognized in the free-text server log. Lines that match
// none of these are irrelevant chatter, not malformed input.
const (
	LogEventJoin    = "join"
	LogEventLeave   = "leave"
	LogEventQueue   = "queue"
	LogEventMission = "mission"
	LogEventTrader  = "trader"
	LogEventAirdrop = "airdrop"
	LogEventCrash   = "crash"
)

// KillEvent is one parsed killfeed record.
type KillEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	ServerID       string    `json:"server_id"`
	Killer         string    `json:"killer"`
	KillerID       string    `json:"killer_id"`
	Victim         string    `json:"victim"`
	VictimID       string    `json:"victim_id"`
	Weapon         string    `json:"weapon"`
	Distance       float64   `json:"distance"`
	KillerPlatform string    `json:"killer_platform"`
	VictimPlatform string    `json:"victim_platform"`
	IsSuicide      bool      `json:"is_suicide"`
	IsMenuSuicide  bool      `json:"is_menu_suicide"`
	IsFallDeath    bool      `json:"is_fall_death"`
}

// LogEvent is one parsed free-text log line.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ServerID  string    `json:"server_id"`
	Kind      string    `json:"kind"`
	Player    string    `json:"player,omitempty"`
	Payload   string    `json:"payload,omitempty"`
}

// Event envelope broadcast to WebSocket clients.
const (
	EventKill         = "kill"
	EventLog          = "log"
	EventServerUpdate = "server_update"
)

// Event represents a real-time event for WebSocket broadcast.
type Event struct {
	Type      string      `json:"event"`
	ServerID  string      `json:"server_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}
