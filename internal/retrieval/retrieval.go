// Package retrieval turns a retrievable candidate into a local audio
// artifact. The cache is consulted first; misses are fetched through the
// provider's registered fetcher and the artifact is stamped and stored
// under the track identity key.
package retrieval

import (
	"context"
	"time"

	"go.senan.xyz/taglib"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

// Fetcher obtains audio for a candidate, writing it under destStem plus
// a format extension.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, cand track.Candidate, destStem string) (track.AudioArtifact, error)
}

// Retriever is the cache-first audio retrieval stage.
type Retriever struct {
	fetchers map[string]Fetcher
	store    *cache.Store
	log      *logger.Logger
	cfg      config.Config
}

// New creates a Retriever with no fetchers registered.
func New(store *cache.Store, log *logger.Logger, cfg config.Config) *Retriever {
	return &Retriever{
		fetchers: make(map[string]Fetcher),
		store:    store,
		log:      log,
		cfg:      cfg,
	}
}

// Register routes candidates of the named provider through f.
func (r *Retriever) Register(provider string, f Fetcher) {
	r.fetchers[provider] = f
}

// Fetch returns a local audio artifact for the candidate.
//
// A metadata-only candidate (or one whose provider has no fetcher) fails
// with RETRIEVAL_NOT_RETRIEVABLE; a failed download fails with
// RETRIEVAL_FAILED and the underlying cause preserved.
func (r *Retriever) Fetch(ctx context.Context, cand track.Candidate) (track.AudioArtifact, error) {
	key := cache.IdentityKey(cand.Identity())

	path, format, ok, err := r.store.GetAudio(key)
	if err != nil {
		r.log.Warn("audio cache read failed for %s: %v", cand.Identity(), err)
	}
	if ok {
		r.log.Debug("audio cache hit for %s", cand.Identity())
		return track.AudioArtifact{
			Path:        path,
			Format:      format,
			DurationSec: float64(cand.DurationSec),
			Provider:    cand.Provider,
			CacheHit:    true,
		}, nil
	}

	if !cand.Retrievable {
		return track.AudioArtifact{}, track.Errf(track.StageRetrieval, track.CodeRetrievalNotRetrievable,
			"candidate %s is metadata-only", cand.Identity())
	}
	fetcher := r.fetchers[cand.Provider]
	if fetcher == nil {
		return track.AudioArtifact{}, track.Errf(track.StageRetrieval, track.CodeRetrievalNotRetrievable,
			"no fetcher registered for provider %s", cand.Provider)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.RetrievalTimeoutSec)*time.Second)
	defer cancel()

	art, err := fetcher.Fetch(fetchCtx, cand, r.store.AudioDest(key))
	if err != nil {
		return track.AudioArtifact{}, track.Wrap(track.StageRetrieval, track.CodeRetrievalFailed, err,
			"fetch of %s via %s failed", cand.Identity(), fetcher.Name())
	}

	r.stamp(art.Path, cand)

	if dest, err := r.store.PutAudio(key, art.Path, art.Format); err != nil {
		r.log.Warn("audio cache write failed for %s: %v", cand.Identity(), err)
	} else {
		art.Path = dest
	}

	if art.DurationSec == 0 {
		art.DurationSec = float64(cand.DurationSec)
	}
	return art, nil
}

// Status reports the cached-audio state for a candidate without touching
// the file contents.
func (r *Retriever) Status(cand track.Candidate) (cache.Info, error) {
	return r.store.Status(cache.KindAudio, cache.IdentityKey(cand.Identity()))
}

// stamp writes identity tags onto the fetched file. Best effort: tags
// help later inspection but a failure never loses the audio.
func (r *Retriever) stamp(path string, cand track.Candidate) {
	tags := make(map[string][]string)
	if cand.Title != "" {
		tags[taglib.Title] = []string{cand.Title}
	}
	if cand.Artist != "" {
		tags[taglib.Artist] = []string{cand.Artist}
	}
	if cand.ISRC != "" {
		tags[taglib.ISRC] = []string{cand.ISRC}
	}
	if len(tags) == 0 {
		return
	}

	if err := taglib.WriteTags(path, tags, 0); err != nil {
		r.log.Debug("tag stamp failed for %s: %v", path, err)
	}
}
