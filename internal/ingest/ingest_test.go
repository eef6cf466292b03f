package ingest

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/discovery"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

func newImporter(t *testing.T) (*Importer, *cache.Store) {
	t.Helper()
	log := logger.New(false)
	store, err := cache.Open(t.TempDir(), log)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, log, config.DefaultConfig()), store
}

func writeTone(t *testing.T, path string) {
	t.Helper()

	sr := 22050
	samples := make([]float64, sr)
	for i := range samples {
		samples[i] = 0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(sr))
	}

	data := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(v*32767)))
	}

	buf := make([]byte, 0, 44+len(data))
	u32 := func(v uint32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		return b[:]
	}
	u16 := func(v uint16) []byte {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		return b[:]
	}

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+len(data)))...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...)
	buf = append(buf, u16(1)...)
	buf = append(buf, u32(uint32(sr))...)
	buf = append(buf, u32(uint32(sr*2))...)
	buf = append(buf, u16(2)...)
	buf = append(buf, u16(16)...)
	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(len(data)))...)
	buf = append(buf, data...)

	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("failed to write wav fixture: %v", err)
	}
}

func TestImportSingleFile(t *testing.T) {
	im, store := newImporter(t)
	path := filepath.Join(t.TempDir(), "Fixture - Cached Tone.wav")
	writeTone(t, path)

	report, err := im.Import(context.Background(), path)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(report.Imported) != 1 || len(report.Skipped) != 0 {
		t.Fatalf("report %+v, want one imported file", report)
	}

	cand := report.Imported[0]
	if cand.Provider != "local" {
		t.Errorf("provider %q, want local", cand.Provider)
	}
	if cand.Artist != "Fixture" || cand.Title != "Cached Tone" {
		t.Errorf("parsed %q / %q, want artist and title from the filename", cand.Artist, cand.Title)
	}
	if !cand.Retrievable || cand.Confidence != 1.0 {
		t.Errorf("candidate %+v, want a retrievable full-confidence entry", cand)
	}

	if _, _, ok, err := store.GetAudio(cache.IdentityKey(cand.Identity())); err != nil || !ok {
		t.Errorf("audio not cached (ok=%v err=%v)", ok, err)
	}

	var pool []track.Candidate
	ok, err := store.GetJSON(cache.KindCandidates, cache.QueryKey("fixture cached tone"), &pool)
	if err != nil || !ok {
		t.Fatalf("candidate pool not seeded (ok=%v err=%v)", ok, err)
	}
	if pool[0].Identity() != cand.Identity() {
		t.Errorf("pool head %q, want the imported candidate", pool[0].Identity())
	}

	if ok, _ := store.GetJSON(cache.KindCandidates, cache.QueryKey("cached tone"), &pool); !ok {
		t.Error("bare-title query not seeded")
	}
}

func TestImportDirectory(t *testing.T) {
	im, _ := newImporter(t)
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "one.wav"))
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	writeTone(t, filepath.Join(dir, "sub", "Two_Song.wav"))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not audio"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := im.Import(context.Background(), dir)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(report.Imported) != 2 {
		t.Fatalf("imported %d files, want 2", len(report.Imported))
	}

	titles := make(map[string]bool)
	for _, c := range report.Imported {
		titles[c.Title] = true
	}
	if !titles["one"] || !titles["Two Song"] {
		t.Errorf("titles %v, want filename-derived names with underscores cleaned", titles)
	}
}

func TestImportRejectsNonAudio(t *testing.T) {
	im, _ := newImporter(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not audio"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := im.Import(context.Background(), path); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("error %v, want unsupported-file rejection", err)
	}
}

func TestImportMissingPath(t *testing.T) {
	im, _ := newImporter(t)
	if _, err := im.Import(context.Background(), filepath.Join(t.TempDir(), "gone.wav")); err == nil {
		t.Fatal("expected an error for a missing path")
	}
}

func TestImportTwiceUpserts(t *testing.T) {
	im, store := newImporter(t)
	path := filepath.Join(t.TempDir(), "Solo.wav")
	writeTone(t, path)

	for i := 0; i < 2; i++ {
		if _, err := im.Import(context.Background(), path); err != nil {
			t.Fatalf("Import run %d failed: %v", i+1, err)
		}
	}

	var pool []track.Candidate
	if ok, err := store.GetJSON(cache.KindCandidates, cache.QueryKey("solo"), &pool); err != nil || !ok {
		t.Fatalf("candidate pool not seeded (ok=%v err=%v)", ok, err)
	}
	if len(pool) != 1 {
		t.Errorf("pool has %d entries after re-import, want 1", len(pool))
	}
}

func TestImportedTrackResolvesOffline(t *testing.T) {
	im, store := newImporter(t)
	path := filepath.Join(t.TempDir(), "Fixture - Cached Tone.wav")
	writeTone(t, path)
	if _, err := im.Import(context.Background(), path); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	// No searchers at all: resolution must come from the seeded cache.
	log := logger.New(false)
	resolver := discovery.NewResolver(nil, store, log, config.DefaultConfig())
	rt, err := resolver.Resolve(context.Background(), "Fixture Cached Tone")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rt.Selected.Provider != "local" {
		t.Errorf("selected provider %q, want local", rt.Selected.Provider)
	}
	if len(rt.ProviderTrace) == 0 || !strings.Contains(rt.ProviderTrace[0], "cache:candidates") {
		t.Errorf("trace %v, want a cache hit entry", rt.ProviderTrace)
	}
}
