// Package discovery resolves a free-text query into a ranked candidate
// pool and a selected track. Providers run in priority order; their results
// are merged, deduplicated and scored centrally so that no provider's own
// confidence scheme leaks into selection.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

// Searcher finds candidates for a parsed query. Implementations return an
// empty slice for "no match"; an error means the provider could not be
// consulted at all.
type Searcher interface {
	Name() string
	Search(ctx context.Context, q track.Query) ([]track.Candidate, error)
}

// Two candidates closer than this on both normalized title and artist are
// treated as the same track.
const dedupThreshold = 0.9

// Resolver runs searchers in priority order and selects the best candidate.
type Resolver struct {
	searchers []Searcher
	store     *cache.Store
	log       *logger.Logger
	cfg       config.Config
}

// NewResolver creates a Resolver. Searcher order is the priority order:
// the first entry is the primary (no-credential) provider.
func NewResolver(searchers []Searcher, store *cache.Store, log *logger.Logger, cfg config.Config) *Resolver {
	return &Resolver{searchers: searchers, store: store, log: log, cfg: cfg}
}

// Resolve turns raw query text into a ResolvedTrack, or fails with
// DISCOVERY_NO_MATCH when no candidate clears the confidence floor.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*track.ResolvedTrack, error) {
	q := ParseQuery(raw)
	key := cache.QueryKey(q.Normalized)

	var trace []string
	var pool []track.Candidate

	ttl := time.Duration(r.cfg.QueryTTLSec) * time.Second
	var cached []track.Candidate
	if ok, err := r.store.GetJSONFresh(cache.KindCandidates, key, ttl, &cached); err != nil {
		r.log.Warn("candidate cache read failed: %v", err)
	} else if ok && len(cached) > 0 {
		trace = append(trace, fmt.Sprintf("cache:candidates(%d)", len(cached)))
		pool = cached
	}

	if pool == nil {
		pool, trace = r.searchAll(ctx, q, trace)
		pool = Merge(pool)
		rank(pool, r.primaryName())
		if len(pool) > 0 {
			if err := r.store.PutJSON(cache.KindCandidates, key, pool); err != nil {
				r.log.Warn("candidate cache write failed: %v", err)
			}
		}
	}

	if len(pool) == 0 {
		return nil, track.Errf(track.StageDiscovery, track.CodeDiscoveryNoMatch,
			"no candidates for %q", raw)
	}

	best := pool[0]
	if best.Confidence < r.cfg.MinConfidence {
		return nil, track.Errf(track.StageDiscovery, track.CodeDiscoveryNoMatch,
			"best candidate %q scored %.2f, below floor %.2f", best.Title, best.Confidence, r.cfg.MinConfidence)
	}

	r.log.Debug("discovery selected %s (%.2f) from %d candidates", best.Identity(), best.Confidence, len(pool))
	return &track.ResolvedTrack{
		Query:         q,
		Selected:      best,
		Candidates:    pool,
		ProviderTrace: trace,
	}, nil
}

// searchAll queries every configured searcher, scoring results as they
// arrive. A provider failure never stops the chain; a sufficiently strong
// candidate short-circuits the remaining lookups.
func (r *Resolver) searchAll(ctx context.Context, q track.Query, trace []string) ([]track.Candidate, []string) {
	var pool []track.Candidate

	for i, s := range r.searchers {
		select {
		case <-ctx.Done():
			trace = append(trace, "cancelled")
			return pool, trace
		default:
		}

		results, err := s.Search(ctx, q)
		if err != nil {
			if i == 0 {
				trace = append(trace, fmt.Sprintf("primary:%s_failed(%s)", s.Name(), compactReason(err)))
			} else {
				trace = append(trace, fmt.Sprintf("%s:failed(%s)", s.Name(), compactReason(err)))
			}
			if track.IsTransport(err) {
				r.log.Warn("could not verify %s: %v", s.Name(), err)
			} else {
				r.log.Warn("provider %s failed: %v", s.Name(), err)
			}
			continue
		}
		if len(results) == 0 {
			trace = append(trace, s.Name()+":empty")
			continue
		}

		for j := range results {
			results[j].Confidence = Score(q, results[j])
			if len(results[j].Sources) == 0 {
				results[j].Sources = []string{results[j].Provider}
			}
		}
		trace = append(trace, fmt.Sprintf("%s:ok(%d)", s.Name(), len(results)))
		pool = append(pool, results...)

		if best := maxConfidence(pool); best >= r.cfg.ShortCircuitConfidence && i < len(r.searchers)-1 {
			trace = append(trace, fmt.Sprintf("short_circuit:%s(%.2f)", s.Name(), best))
			break
		}
	}

	return pool, trace
}

// Merge deduplicates candidates naming the same track. The representative
// is retrievable-preferred, then higher-confidence; it inherits the
// strongest confidence of its group, missing identity fields from the
// others, and the union of supporting provider names.
func Merge(pool []track.Candidate) []track.Candidate {
	var merged []track.Candidate
	for _, c := range pool {
		idx := -1
		for i := range merged {
			if sameTrack(merged[i], c) {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, c)
			continue
		}
		merged[idx] = mergePair(merged[idx], c)
	}
	return merged
}

func sameTrack(a, b track.Candidate) bool {
	return similarity(normalize(a.Title), normalize(b.Title)) >= dedupThreshold &&
		similarity(normalize(a.Artist), normalize(b.Artist)) >= dedupThreshold
}

func mergePair(a, b track.Candidate) track.Candidate {
	rep, other := a, b
	if betterRepresentative(b, a) {
		rep, other = b, a
	}

	if other.Confidence > rep.Confidence {
		rep.Confidence = other.Confidence
	}
	if rep.ISRC == "" {
		rep.ISRC = other.ISRC
	}
	if rep.DurationSec == 0 {
		rep.DurationSec = other.DurationSec
	}
	if rep.Artist == "" {
		rep.Artist = other.Artist
	}
	rep.Sources = unionSources(rep.Sources, other.Sources, other.Provider)
	return rep
}

func betterRepresentative(a, b track.Candidate) bool {
	if a.Retrievable != b.Retrievable {
		return a.Retrievable
	}
	return a.Confidence > b.Confidence
}

func unionSources(base, extra []string, provider string) []string {
	seen := make(map[string]bool, len(base)+len(extra)+1)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, s := range base {
		add(s)
	}
	for _, s := range extra {
		add(s)
	}
	add(provider)
	return out
}

// rank orders candidates for selection: confidence first, retrievable on
// ties, then primary-provider origin.
func rank(cands []track.Candidate, primary string) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Retrievable != b.Retrievable {
			return a.Retrievable
		}
		if (a.Provider == primary) != (b.Provider == primary) {
			return a.Provider == primary
		}
		return false
	})
}

func (r *Resolver) primaryName() string {
	if len(r.searchers) == 0 {
		return ""
	}
	return r.searchers[0].Name()
}

func maxConfidence(pool []track.Candidate) float64 {
	best := 0.0
	for _, c := range pool {
		if c.Confidence > best {
			best = c.Confidence
		}
	}
	return best
}

func compactReason(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > 80 {
		msg = msg[:77] + "..."
	}
	return msg
}
