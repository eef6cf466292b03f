package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

// fakeSearcher implements Searcher for transition testing.
type fakeSearcher struct {
	name    string
	results []track.Candidate
	err     error
	calls   int
}

func (f *fakeSearcher) Name() string { return f.name }
func (f *fakeSearcher) Search(_ context.Context, _ track.Query) ([]track.Candidate, error) {
	f.calls++
	return f.results, f.err
}

func newTestResolver(t *testing.T, searchers ...Searcher) (*Resolver, *cache.Store) {
	return newTestResolverCfg(t, config.DefaultConfig(), searchers...)
}

func newTestResolverCfg(t *testing.T, cfg config.Config, searchers ...Searcher) (*Resolver, *cache.Store) {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache"), logger.New(false))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewResolver(searchers, store, logger.New(false), cfg), store
}

func goodNewsCandidate(provider, id string, retrievable bool) track.Candidate {
	return track.Candidate{
		Provider:    provider,
		ID:          id,
		Title:       "Good News",
		Artist:      "Mac Miller",
		DurationSec: 330,
		Retrievable: retrievable,
	}
}

func TestResolveMergesProvidersAndSelects(t *testing.T) {
	// Unknown durations keep scores below the short-circuit bar so both
	// providers contribute to the pool.
	ytCand := goodNewsCandidate("ytdlp", "yt1", true)
	ytCand.DurationSec = 0
	mbCand := goodNewsCandidate("musicbrainz", "mb1", false)
	mbCand.DurationSec = 0
	primary := &fakeSearcher{name: "ytdlp", results: []track.Candidate{ytCand}}
	terminal := &fakeSearcher{name: "musicbrainz", results: []track.Candidate{mbCand}}

	cfg := config.DefaultConfig()
	cfg.ShortCircuitConfidence = 0.95
	r, _ := newTestResolverCfg(t, cfg, primary, terminal)
	rt, err := r.Resolve(context.Background(), "Mac Miller - Good News")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(rt.Candidates) != 1 {
		t.Fatalf("expected duplicate candidates merged into 1, got %d", len(rt.Candidates))
	}
	if rt.Selected.Provider != "ytdlp" {
		t.Errorf("selected provider = %q, want retrievable-preferred ytdlp", rt.Selected.Provider)
	}
	if len(rt.Selected.Sources) != 2 {
		t.Errorf("merged sources = %v, want both providers", rt.Selected.Sources)
	}

	trace := strings.Join(rt.ProviderTrace, " ")
	if !strings.Contains(trace, "ytdlp:ok(1)") || !strings.Contains(trace, "musicbrainz:ok(1)") {
		t.Errorf("provider trace missing entries: %v", rt.ProviderTrace)
	}
}

func TestResolveNoCandidates(t *testing.T) {
	r, _ := newTestResolver(t, &fakeSearcher{name: "ytdlp"})

	_, err := r.Resolve(context.Background(), "never heard of it")
	if !track.IsCode(err, track.CodeDiscoveryNoMatch) {
		t.Fatalf("want DISCOVERY_NO_MATCH, got %v", err)
	}
}

func TestResolveBelowConfidenceFloor(t *testing.T) {
	offTopic := &fakeSearcher{name: "ytdlp", results: []track.Candidate{
		{Provider: "ytdlp", ID: "x", Title: "Unrelated Podcast Episode", Artist: "Nobody"},
	}}
	r, _ := newTestResolver(t, offTopic)

	_, err := r.Resolve(context.Background(), "Mac Miller - Good News")
	if !track.IsCode(err, track.CodeDiscoveryNoMatch) {
		t.Fatalf("want DISCOVERY_NO_MATCH for below-floor pool, got %v", err)
	}
}

func TestResolvePrimaryTransportFailureFallsThrough(t *testing.T) {
	broken := &fakeSearcher{name: "ytdlp", err: track.Transport("ytdlp", "search", errors.New("missing binary"))}
	backup := &fakeSearcher{name: "musicbrainz", results: []track.Candidate{goodNewsCandidate("musicbrainz", "mb1", false)}}

	r, _ := newTestResolver(t, broken, backup)
	rt, err := r.Resolve(context.Background(), "Mac Miller - Good News")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if rt.Selected.Provider != "musicbrainz" {
		t.Errorf("selected provider = %q, want musicbrainz", rt.Selected.Provider)
	}

	found := false
	for _, entry := range rt.ProviderTrace {
		if strings.HasPrefix(entry, "primary:ytdlp_failed(") {
			found = true
		}
	}
	if !found {
		t.Errorf("trace missing primary failure marker: %v", rt.ProviderTrace)
	}
}

func TestResolveShortCircuitsOnStrongCandidate(t *testing.T) {
	primary := &fakeSearcher{name: "ytdlp", results: []track.Candidate{goodNewsCandidate("ytdlp", "yt1", true)}}
	skipped := &fakeSearcher{name: "musicbrainz", results: []track.Candidate{goodNewsCandidate("musicbrainz", "mb1", false)}}

	r, _ := newTestResolver(t, primary, skipped)
	rt, err := r.Resolve(context.Background(), "Mac Miller - Good News")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if skipped.calls != 0 {
		t.Errorf("terminal provider was consulted %d times despite short-circuit", skipped.calls)
	}
	trace := strings.Join(rt.ProviderTrace, " ")
	if !strings.Contains(trace, "short_circuit:ytdlp(") {
		t.Errorf("trace missing short-circuit marker: %v", rt.ProviderTrace)
	}
}

func TestResolveSecondRunHitsCache(t *testing.T) {
	primary := &fakeSearcher{name: "ytdlp", results: []track.Candidate{goodNewsCandidate("ytdlp", "yt1", true)}}
	r, store := newTestResolver(t, primary)

	first, err := r.Resolve(context.Background(), "Mac Miller - Good News")
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("expected one search call, got %d", primary.calls)
	}

	// Fresh resolver over the same store: no further provider calls.
	r2 := NewResolver([]Searcher{primary}, store, logger.New(false), config.DefaultConfig())
	second, err := r2.Resolve(context.Background(), "  mac miller   GOOD news ")
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}

	if primary.calls != 1 {
		t.Errorf("cached query still hit the provider: %d calls", primary.calls)
	}
	if second.Selected.Identity() != first.Selected.Identity() {
		t.Errorf("cached selection %q differs from original %q", second.Selected.Identity(), first.Selected.Identity())
	}

	trace := strings.Join(second.ProviderTrace, " ")
	if !strings.Contains(trace, "cache:candidates(") {
		t.Errorf("trace missing cache marker: %v", second.ProviderTrace)
	}
}

func TestMergeKeepsHigherConfidenceID(t *testing.T) {
	pool := []track.Candidate{
		{Provider: "musicbrainz", ID: "mb1", Title: "Good News", Artist: "Mac Miller", Confidence: 0.7},
		{Provider: "spotify", ID: "sp1", Title: "Good News", Artist: "Mac Miller", Confidence: 0.9, ISRC: "USWB11801008"},
	}

	merged := Merge(pool)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged candidate, got %d", len(merged))
	}
	if merged[0].ID != "sp1" {
		t.Errorf("merged id = %q, want higher-confidence sp1", merged[0].ID)
	}
	if merged[0].ISRC != "USWB11801008" {
		t.Errorf("merged candidate lost ISRC")
	}
}

func TestMergePrefersRetrievableRepresentative(t *testing.T) {
	pool := []track.Candidate{
		{Provider: "spotify", ID: "sp1", Title: "Good News", Artist: "Mac Miller", Confidence: 0.9, ISRC: "USWB11801008"},
		{Provider: "ytdlp", ID: "yt1", Title: "Good News", Artist: "Mac Miller", Confidence: 0.7, Retrievable: true},
	}

	merged := Merge(pool)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged candidate, got %d", len(merged))
	}
	got := merged[0]
	if got.ID != "yt1" || !got.Retrievable {
		t.Errorf("representative = %+v, want retrievable yt1", got)
	}
	if got.Confidence != 0.9 {
		t.Errorf("merged confidence = %.2f, want the group's strongest 0.9", got.Confidence)
	}
	if got.ISRC != "USWB11801008" {
		t.Errorf("representative should inherit ISRC from metadata duplicate")
	}
}

func TestMergeKeepsDistinctTracksApart(t *testing.T) {
	pool := []track.Candidate{
		{Provider: "ytdlp", ID: "a", Title: "Good News", Artist: "Mac Miller", Confidence: 0.9},
		{Provider: "ytdlp", ID: "b", Title: "Self Care", Artist: "Mac Miller", Confidence: 0.8},
	}
	if merged := Merge(pool); len(merged) != 2 {
		t.Fatalf("distinct tracks were merged: %d", len(merged))
	}
}
