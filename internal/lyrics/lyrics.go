// Package lyrics retrieves lyric evidence for a resolved track and
// derives keyword-level insight from it.
//
// Lyric absence is never an error anywhere in this package: every
// failure shape collapses into evidence with source "none" and a
// warning naming what went wrong.
package lyrics

import (
	"context"
	"unicode/utf8"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

// Source finds lyric text for a candidate.
type Source interface {
	Search(ctx context.Context, cand track.Candidate) (*track.LyricEvidence, error)
}

// Transcriber produces lyric text from local audio. Failures are
// recorded as warnings on the returned evidence.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) *track.LyricEvidence
}

// Fetcher retrieves lyric evidence with caching and an optional speech
// recognition fallback for tracks no archive knows.
type Fetcher struct {
	source Source
	asr    Transcriber
	store  *cache.Store
	log    *logger.Logger
	cfg    config.Config
}

// NewFetcher creates a lyric fetcher. asr may be nil.
func NewFetcher(source Source, asr Transcriber, store *cache.Store, log *logger.Logger, cfg config.Config) *Fetcher {
	return &Fetcher{source: source, asr: asr, store: store, log: log, cfg: cfg}
}

// Fetch returns lyric evidence for the candidate, cached by track
// identity. audio enables the speech recognition fallback and may be
// nil.
func (f *Fetcher) Fetch(ctx context.Context, cand track.Candidate, audio *track.AudioArtifact) *track.LyricEvidence {
	if !f.cfg.LyricsEnabled {
		return none("LYRICS_DISABLED")
	}

	key := cache.LyricsKey(cand.Identity())
	var cached track.LyricEvidence
	if ok, err := f.store.GetJSON(cache.KindResult, key, &cached); err != nil {
		f.log.Warn("lyrics cache read failed: %v", err)
	} else if ok {
		f.log.Debug("lyrics cache hit for %s", cand.Identity())
		return &cached
	}

	ev, err := f.source.Search(ctx, cand)
	if err != nil {
		if track.IsTransport(err) {
			f.log.Warn("could not verify lyrics: %v", err)
		} else {
			f.log.Warn("lyric search failed: %v", err)
		}
		ev = none("LYRICS_NOT_FOUND")
	}
	ev = f.applyLengthGates(ev)

	if ev.Text == "" && f.cfg.ASRFallback && f.asr != nil && audio != nil {
		f.log.Debug("falling back to speech recognition for %s", cand.Identity())
		ev = f.applyLengthGates(f.asr.Transcribe(ctx, audio.Path))
	}

	if err := f.store.PutJSON(cache.KindResult, key, ev); err != nil {
		f.log.Warn("lyrics cache write failed: %v", err)
	}
	return ev
}

// applyLengthGates truncates overlong text and rejects fragments too
// short to support any conclusion.
func (f *Fetcher) applyLengthGates(ev *track.LyricEvidence) *track.LyricEvidence {
	if ev == nil || ev.Text == "" {
		if ev == nil {
			return none()
		}
		return ev
	}
	if f.cfg.LyricsMaxChars > 0 {
		if runes := []rune(ev.Text); len(runes) > f.cfg.LyricsMaxChars {
			ev.Text = string(runes[:f.cfg.LyricsMaxChars])
			ev.Warnings = append(ev.Warnings, "LYRICS_TRUNCATED")
		}
	}
	if utf8.RuneCountInString(ev.Text) < f.cfg.LyricsMinChars {
		return none("LYRICS_TOO_SHORT")
	}
	return ev
}

func none(warnings ...string) *track.LyricEvidence {
	return &track.LyricEvidence{Source: track.LyricSourceNone, Warnings: warnings}
}
