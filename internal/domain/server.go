package domain

import (
	"fmt"
	"time"
)

// ServerTarget identifies one remote Deadside server whose files we ingest.
// Immutable after configuration load; the connection pool keys sessions by
// Key().
type ServerTarget struct {
	ServerID string
	Host     string
	Port     int
	Username string
	Password string
	BasePath string
}

// Key returns the pool key for this target.
func (t ServerTarget) Key() string {
	return t.ServerID
}

// Addr returns the host:port dial address.
func (t ServerTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// ServerStatus is the point-in-time ingestion state of one server, served by
// the HTTP API.
type ServerStatus struct {
	ServerID      string     `json:"server_id"`
	Host          string     `json:"host"`
	Online        bool       `json:"online"`
	LastPassAt    time.Time  `json:"last_pass_at"`
	LastError     string     `json:"last_error,omitempty"`
	EventsParsed  uint64     `json:"events_parsed"`
	LinesSkipped  uint64     `json:"lines_skipped"`
	HistoryDoneAt *time.Time `json:"history_done_at,omitempty"`
}
