package remote

import (
	"testing"
	"time"
)

func TestDiscoverKillfeedLivePicksNewest(t *testing.T) {
	fs := newFakeFS()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fs.put("/srv/Logs/2024.04.30-00.00.00.csv", []byte("old\n"), base.Add(-24*time.Hour))
	fs.put("/srv/Logs/2024.05.01-00.00.00.csv", []byte("new\n"), base)
	fs.put("/srv/Logs/readme.txt", []byte("ignore"), base)

	got, err := DiscoverKillfeed(fs, "/srv", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	if got[0].Path != "/srv/Logs/2024.05.01-00.00.00.csv" {
		t.Errorf("picked %s, want the newest file", got[0].Path)
	}
	if got[0].Role != RoleLiveKillfeed {
		t.Errorf("got role %s, want %s", got[0].Role, RoleLiveKillfeed)
	}
}

func TestDiscoverKillfeedHistoryChronological(t *testing.T) {
	fs := newFakeFS()
	now := time.Now()
	// Mod times deliberately out of order; the embedded stamp must win.
	fs.put("/srv/Logs/2024.05.02-00.00.00.csv", []byte("b\n"), now.Add(-2*time.Hour))
	fs.put("/srv/Logs/2024.05.01-00.00.00.csv.gz", []byte("a\n"), now)
	fs.put("/srv/Logs/2024.05.03-00.00.00.csv", []byte("c\n"), now.Add(-time.Hour))

	got, err := DiscoverKillfeed(fs, "/srv", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	want := []string{
		"/srv/Logs/2024.05.01-00.00.00.csv.gz",
		"/srv/Logs/2024.05.02-00.00.00.csv",
		"/srv/Logs/2024.05.03-00.00.00.csv",
	}
	for i, c := range got {
		if c.Path != want[i] {
			t.Errorf("position %d: got %s, want %s", i, c.Path, want[i])
		}
		if c.Role != RoleHistoryKillfeed {
			t.Errorf("got role %s, want %s", c.Role, RoleHistoryKillfeed)
		}
	}
}

func TestDiscoverKillfeedMissingDir(t *testing.T) {
	fs := newFakeFS()
	got, err := DiscoverKillfeed(fs, "/nope", false)
	if err != nil {
		t.Fatalf("missing directory should not error: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestDiscoverLog(t *testing.T) {
	fs := newFakeFS()
	now := time.Now()
	fs.put("/srv/Logs/Deadside.log", []byte("log\n"), now)
	fs.put("/srv/Logs/Deadside-backup-2024.log", []byte("old\n"), now.Add(-time.Hour))

	got, err := DiscoverLog(fs, "/srv")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a candidate")
	}
	if got.Path != "/srv/Logs/Deadside.log" {
		t.Errorf("got %s, want the active log", got.Path)
	}
	if got.Role != RoleActiveLog {
		t.Errorf("got role %s, want %s", got.Role, RoleActiveLog)
	}
}

func TestFingerprintStableUnderAppend(t *testing.T) {
	fs := newFakeFS()
	now := time.Now()
	fs.put("/f.csv", []byte("line one\n"), now)

	fp, err := TakeFingerprint(fs, "/f.csv")
	if err != nil {
		t.Fatal(err)
	}

	// Appending keeps the head intact, so the fingerprint still matches.
	fs.put("/f.csv", []byte("line one\nline two\n"), now)
	match, err := MatchesFingerprint(fs, "/f.csv", fp)
	if err != nil {
		t.Fatal(err)
	}
	if !match {
		t.Error("append-only growth broke the fingerprint")
	}
}

func TestFingerprintDetectsRotation(t *testing.T) {
	fs := newFakeFS()
	now := time.Now()
	fs.put("/f.csv", []byte("old content before rotation\n"), now)

	fp, err := TakeFingerprint(fs, "/f.csv")
	if err != nil {
		t.Fatal(err)
	}

	// Same path, new logical file.
	fs.put("/f.csv", []byte("completely new head after rotate\n"), now.Add(time.Minute))
	match, err := MatchesFingerprint(fs, "/f.csv", fp)
	if err != nil {
		t.Fatal(err)
	}
	if match {
		t.Error("rotated file still matched the old fingerprint")
	}
}

func TestFingerprintShrunkenFileMismatch(t *testing.T) {
	fs := newFakeFS()
	now := time.Now()
	fs.put("/f.csv", []byte("twelve bytes\n"), now)

	fp, err := TakeFingerprint(fs, "/f.csv")
	if err != nil {
		t.Fatal(err)
	}

	fs.put("/f.csv", []byte("tiny\n"), now)
	match, err := MatchesFingerprint(fs, "/f.csv", fp)
	if err != nil {
		t.Fatal(err)
	}
	if match {
		t.Error("shrunken file must never match")
	}
}
