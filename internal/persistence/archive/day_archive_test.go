package archive

import (
	"os"
	"path/filepath"
	"testing"

	"freightline.ai/internal/persistence/snapshot"
)

func TestArchiveDaySnapshot_CopiesFirstSnapshotOfDay(t *testing.T) {
	dir := t.TempDir()
	worldDir := filepath.Join(dir, "worlds", "w1")
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	src := filepath.Join(worldDir, "snapshots", "150.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.SnapshotV2{
		Header:   snapshot.Header{Version: snapshot.CurrentVersion, WorldID: "w1", Tick: 150},
		Seed:     42,
		DayTicks: 74,
	}

	day, archivedPath, ok, err := ArchiveDaySnapshot(worldDir, src, snap)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok {
		t.Fatalf("expected archived=true")
	}
	if day != 2 {
		t.Fatalf("day=%d want 2", day)
	}

	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", string(got), string(want))
	}

	metaPath := filepath.Join(filepath.Dir(archivedPath), "meta.json")
	if _, err := os.Stat(metaPath); err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
}

func TestArchiveDaySnapshot_SkipsSecondSnapshotOfSameDay(t *testing.T) {
	dir := t.TempDir()
	worldDir := filepath.Join(dir, "worlds", "w1")
	snapDir := filepath.Join(worldDir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	write := func(name string) string {
		p := filepath.Join(snapDir, name)
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}
	first := write("150.snap.zst")
	second := write("200.snap.zst")

	mk := func(tick uint64) snapshot.SnapshotV2 {
		return snapshot.SnapshotV2{
			Header:   snapshot.Header{Version: snapshot.CurrentVersion, WorldID: "w1", Tick: tick},
			Seed:     42,
			DayTicks: 74,
		}
	}

	if _, _, ok, err := ArchiveDaySnapshot(worldDir, first, mk(150)); err != nil || !ok {
		t.Fatalf("first archive: ok=%v err=%v", ok, err)
	}
	// Tick 200 is still day 2 (day length 74); the day dir already exists.
	day, path, ok, err := ArchiveDaySnapshot(worldDir, second, mk(200))
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if ok || path != "" {
		t.Fatalf("expected skip for same day, got ok=%v path=%q", ok, path)
	}
	if day != 2 {
		t.Fatalf("day=%d want 2", day)
	}

	// Next day archives again.
	third := write("230.snap.zst")
	day, _, ok, err = ArchiveDaySnapshot(worldDir, third, mk(230))
	if err != nil || !ok {
		t.Fatalf("third archive: ok=%v err=%v", ok, err)
	}
	if day != 3 {
		t.Fatalf("day=%d want 3", day)
	}
}
