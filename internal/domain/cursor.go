package domain

import "time"

// FileCursor records how far a remote file has been read. EpochID changes
// when the file rotates; dedup state is scoped to it. The cursor is only
// persisted after the events of a batch have been durably aggregated.
type FileCursor struct {
	ServerID     string
	FilePath     string
	Offset       int64 // byte offset of the first unread line
	Line         int64 // number of lines already consumed
	Fingerprint  string
	EpochID      string
	LastModified time.Time
}
