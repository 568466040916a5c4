package parser

import (
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/zeebo/blake3"
)

// DedupKey derives the deterministic key for one line at one position of one
// file. Re-reading an already-processed byte range reproduces the same key,
// so overlapping passes can never double-count.
func DedupKey(serverID, filePath string, lineNo int64, line string) string {
	h := blake3.New()
	h.Write([]byte(serverID))
	h.Write([]byte{0})
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(lineNo))
	h.Write(n[:])
	h.Write([]byte(line))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Deduper suppresses repeated lines within a file epoch. An epoch spans a
// file's lifetime between rotations; dropping the epoch forgets its keys so
// the new logical file at the same path reprocesses from scratch.
type Deduper struct {
	mu     sync.Mutex
	epochs map[string]map[string]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{epochs: make(map[string]map[string]struct{})}
}

// Seen records key within epoch and reports whether it was already present.
func (d *Deduper) Seen(epochID, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen, ok := d.epochs[epochID]
	if !ok {
		seen = make(map[string]struct{})
		d.epochs[epochID] = seen
	}
	if _, dup := seen[key]; dup {
		return true
	}
	seen[key] = struct{}{}
	return false
}

// DropEpoch releases all keys of a finished epoch.
func (d *Deduper) DropEpoch(epochID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.epochs, epochID)
}
