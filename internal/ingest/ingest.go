// Package ingest seeds the cache from local audio files so they resolve
// and play back without touching any network provider.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.senan.xyz/taglib"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/track"
	"songlisten/pkg/utils"
)

// Provider is the provider name stamped on imported candidates.
const Provider = "local"

// Importer copies local audio into the cache and seeds the candidate
// pool for the queries each file answers.
type Importer struct {
	store *cache.Store
	log   *logger.Logger
	cfg   config.Config
}

// New creates an Importer over the given store.
func New(store *cache.Store, log *logger.Logger, cfg config.Config) *Importer {
	return &Importer{store: store, log: log, cfg: cfg}
}

// Report lists what one import run brought in.
type Report struct {
	Imported []track.Candidate `json:"imported,omitempty"`
	Skipped  []string          `json:"skipped,omitempty"`
}

// Import seeds the cache from path, either a single audio file or a
// directory walked recursively. Files that cannot be read are skipped,
// never fatal; an unusable path is.
func (im *Importer) Import(ctx context.Context, path string) (*Report, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("import path: %w", err)
	}

	var files []string
	if fi.IsDir() {
		files, err = utils.FindAudioFiles(path)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no audio files under %s", path)
		}
	} else {
		if !utils.IsAudioFile(path) {
			return nil, fmt.Errorf("unsupported audio file: %s", path)
		}
		files = []string{path}
	}

	report := &Report{}
	for _, f := range files {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		cand, err := im.importFile(f)
		if err != nil {
			im.log.Warn("skipping %s: %v", f, err)
			report.Skipped = append(report.Skipped, f)
			continue
		}
		report.Imported = append(report.Imported, cand)
	}
	return report, nil
}

// importFile caches one audio file and returns the candidate it now
// answers to.
func (im *Importer) importFile(path string) (track.Candidate, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return track.Candidate{}, err
	}

	cand := baseCandidate(abs)
	if tags, err := taglib.ReadTags(abs); err != nil {
		im.log.Debug("tag read failed for %s: %v", abs, err)
	} else {
		if v := firstTag(tags, taglib.Title); v != "" {
			cand.Title = v
		}
		if v := firstTag(tags, taglib.Artist); v != "" {
			cand.Artist = v
		}
	}
	if props, err := taglib.ReadProperties(abs); err == nil {
		cand.DurationSec = int(props.Length.Seconds())
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(abs)), ".")
	if _, err := im.store.PutAudio(cache.IdentityKey(cand.Identity()), abs, format); err != nil {
		return track.Candidate{}, fmt.Errorf("cache audio: %w", err)
	}

	im.seedQueries(cand)
	im.log.Info("imported %s as %s", filepath.Base(abs), cand.Identity())
	return cand, nil
}

// baseCandidate builds the candidate skeleton from the file path alone.
// The id hashes the absolute path so re-importing the same file is an
// update, not a duplicate.
func baseCandidate(abs string) track.Candidate {
	sum := sha256.Sum256([]byte(abs))
	cand := track.Candidate{
		Provider:    Provider,
		ID:          hex.EncodeToString(sum[:6]),
		URL:         "file://" + abs,
		Retrievable: true,
		Confidence:  1.0,
		Sources:     []string{Provider},
	}

	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	stem = strings.Join(strings.Fields(strings.ReplaceAll(stem, "_", " ")), " ")
	if artist, title, ok := strings.Cut(stem, " - "); ok {
		cand.Artist = strings.TrimSpace(artist)
		cand.Title = strings.TrimSpace(title)
	} else {
		cand.Title = stem
	}
	return cand
}

// seedQueries pre-populates the candidate cache for the queries a user
// would type to reach this track. The imported candidate goes in front:
// cached pools are served in stored order.
func (im *Importer) seedQueries(cand track.Candidate) {
	for _, q := range deriveQueries(cand) {
		key := cache.QueryKey(q)

		var pool []track.Candidate
		if _, err := im.store.GetJSON(cache.KindCandidates, key, &pool); err != nil {
			im.log.Warn("candidate cache read failed for %q: %v", q, err)
			pool = nil
		}
		pool = upsert(pool, cand)
		if err := im.store.PutJSON(cache.KindCandidates, key, pool); err != nil {
			im.log.Warn("candidate seed failed for %q: %v", q, err)
			continue
		}
		im.log.Debug("seeded query %q with %s", q, cand.Identity())
	}
}

// deriveQueries returns the normalized query strings the candidate
// should answer: "artist title" and the bare title.
func deriveQueries(cand track.Candidate) []string {
	var out []string
	if cand.Artist != "" && cand.Title != "" {
		out = append(out, normalize(cand.Artist+" "+cand.Title))
	}
	if t := normalize(cand.Title); t != "" && (len(out) == 0 || out[0] != t) {
		out = append(out, t)
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// upsert places cand at the head of the pool, replacing any previous
// entry with the same identity.
func upsert(pool []track.Candidate, cand track.Candidate) []track.Candidate {
	out := []track.Candidate{cand}
	for _, c := range pool {
		if c.Identity() != cand.Identity() {
			out = append(out, c)
		}
	}
	return out
}

func firstTag(tags map[string][]string, key string) string {
	if vals, ok := tags[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}
