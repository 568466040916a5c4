package remote

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Candidate roles returned by discovery.
const (
	RoleLiveKillfeed    = "live_killfeed"
	RoleHistoryKillfeed = "history_killfeed"
	RoleActiveLog       = "active_log"
)

// fingerprintPrefixLen is how much of the file head goes into the content
// fingerprint used for rotation detection.
const fingerprintPrefixLen = 4096

// Candidate is one file selected for processing.
type Candidate struct {
	Path    string
	Role    string
	Size    int64
	ModTime time.Time
	// stamp is the timestamp embedded in the file name, used only for
	// ordering full-history passes.
	stamp time.Time
}

// killfeed file names embed their creation time: 2024.05.01-00.00.00.csv,
// optionally gzipped once archived.
const killfeedStampLayout = "2006.01.02-15.04.05"

func isKillfeedFile(name string) bool {
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".csv.gz")
}

func killfeedStamp(name string, fallback time.Time) time.Time {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".csv")
	if ts, err := time.Parse(killfeedStampLayout, base); err == nil {
		return ts
	}
	return fallback
}

func isActiveLog(name string) bool {
	return name == "Deadside.log"
}

// walk recursively enumerates files under base. A missing directory is a
// normal condition and yields no entries.
func walk(fsys FS, base string, fn func(dir string, fi os.FileInfo)) error {
	entries, err := fsys.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing %s: %w", base, err)
	}
	for _, fi := range entries {
		if fi.IsDir() {
			if err := walk(fsys, path.Join(base, fi.Name()), fn); err != nil {
				return err
			}
			continue
		}
		fn(base, fi)
	}
	return nil
}

// DiscoverKillfeed enumerates killfeed files under base. In a live pass it
// returns at most the single most recently modified file; in a full-history
// pass it returns every file sorted ascending by embedded timestamp, so
// counters fold events in chronological order.
func DiscoverKillfeed(fsys FS, base string, fullHistory bool) ([]Candidate, error) {
	var found []Candidate
	err := walk(fsys, base, func(dir string, fi os.FileInfo) {
		if !isKillfeedFile(fi.Name()) {
			return
		}
		found = append(found, Candidate{
			Path:    path.Join(dir, fi.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			stamp:   killfeedStamp(fi.Name(), fi.ModTime()),
		})
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}

	if fullHistory {
		sort.Slice(found, func(i, j int) bool {
			if !found[i].stamp.Equal(found[j].stamp) {
				return found[i].stamp.Before(found[j].stamp)
			}
			return found[i].Path < found[j].Path
		})
		for i := range found {
			found[i].Role = RoleHistoryKillfeed
		}
		return found, nil
	}

	newest := 0
	for i := 1; i < len(found); i++ {
		if found[i].ModTime.After(found[newest].ModTime) {
			newest = i
		}
	}
	found[newest].Role = RoleLiveKillfeed
	return []Candidate{found[newest]}, nil
}

// DiscoverLog locates the active free-text log by name convention. Returns
// nil if the server has no log yet.
func DiscoverLog(fsys FS, base string) (*Candidate, error) {
	var active *Candidate
	err := walk(fsys, base, func(dir string, fi os.FileInfo) {
		if !isActiveLog(fi.Name()) {
			return
		}
		c := &Candidate{
			Path:    path.Join(dir, fi.Name()),
			Role:    RoleActiveLog,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		}
		if active == nil || c.ModTime.After(active.ModTime) {
			active = c
		}
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

// TakeFingerprint hashes the file's head so a later pass can tell whether the
// path still holds the same logical file. The recorded prefix length rides
// along, since an append-only file may not have reached the full prefix yet.
func TakeFingerprint(fsys FS, filePath string) (string, error) {
	f, err := fsys.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("opening %s for fingerprint: %w", filePath, err)
	}
	defer f.Close()

	buf := make([]byte, fingerprintPrefixLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("reading %s head: %w", filePath, err)
	}
	sum := blake3.Sum256(buf[:n])
	return fmt.Sprintf("%d:%s", n, hex.EncodeToString(sum[:])), nil
}

// MatchesFingerprint reports whether the file at filePath still matches a
// previously recorded fingerprint. A shrunken file or a changed head means
// the path was rotated and holds a new logical file.
func MatchesFingerprint(fsys FS, filePath string, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	lenStr, wantSum, ok := strings.Cut(fingerprint, ":")
	if !ok {
		return false, nil
	}
	prefixLen, err := strconv.Atoi(lenStr)
	if err != nil || prefixLen < 0 {
		return false, nil
	}

	fi, err := fsys.Stat(filePath)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if fi.Size() < int64(prefixLen) {
		return false, nil
	}

	f, err := fsys.Open(filePath)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer f.Close()

	buf := make([]byte, prefixLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return false, fmt.Errorf("reading %s head: %w", filePath, err)
	}
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:]) == wantSum, nil
}
