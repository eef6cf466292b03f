// Package pipeline is the mode-driven orchestrator: it drives discovery,
// audio retrieval, feature extraction, descriptor lookup and lyric
// retrieval through an explicit state machine and assembles one
// ListenResult per request.
//
// States: DISCOVER -> {AUDIO_PATH | DESCRIPTOR_PATH | METADATA_PATH} ->
// LYRICS -> ASSEMBLE -> DONE, with ABORTED the only failing terminal.
// Discovery finding nothing is the only unconditionally fatal outcome;
// in full_audio mode an audio-path failure is fatal too. Every other
// degradation becomes a warning on the result and a fallback-trace entry.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/discovery"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

// Stage names one orchestrator state. Hooks receive these as requests
// move through the machine.
type Stage string

const (
	StageDiscover       Stage = "DISCOVER"
	StageAudioPath      Stage = "AUDIO_PATH"
	StageDescriptorPath Stage = "DESCRIPTOR_PATH"
	StageMetadataPath   Stage = "METADATA_PATH"
	StageLyrics         Stage = "LYRICS"
	StageAssemble       Stage = "ASSEMBLE"
	StageDone           Stage = "DONE"
	StageAborted        Stage = "ABORTED"
)

// Discoverer resolves a free-text query into a ranked candidate pool.
type Discoverer interface {
	Resolve(ctx context.Context, raw string) (*track.ResolvedTrack, error)
}

// AudioSource obtains a local audio artifact for a candidate.
type AudioSource interface {
	Fetch(ctx context.Context, cand track.Candidate) (track.AudioArtifact, error)
}

// FeatureSource extracts features from a local audio artifact.
type FeatureSource interface {
	Analyze(ctx context.Context, art track.AudioArtifact, identity string) (*track.FeatureResult, error)
}

// DescriptorSource resolves features from public descriptor databases.
type DescriptorSource interface {
	Resolve(ctx context.Context, cand track.Candidate) (*track.FeatureResult, error)
}

// LyricSource retrieves lyric evidence; absence is a value, not an error.
type LyricSource interface {
	Fetch(ctx context.Context, cand track.Candidate, audio *track.AudioArtifact) *track.LyricEvidence
}

// InsightSource derives a reading from lyric evidence.
type InsightSource interface {
	Analyze(ev *track.LyricEvidence) *track.LyricInsight
}

// Deps collects the stage implementations the orchestrator drives.
// Primary names the provider whose candidates lead audio attempts;
// leave empty to follow discovery rank order.
type Deps struct {
	Discovery  Discoverer
	Retrieval  AudioSource
	Analysis   FeatureSource
	Descriptor DescriptorSource
	Lyrics     LyricSource
	Insight    InsightSource
	Primary    string
}

// Hooks are optional per-request observers. Both callbacks run on the
// request goroutine and must return promptly.
type Hooks struct {
	OnStage    func(stage Stage, detail string)
	OnFallback func(from, to track.AnalysisPath, reason string)
}

// Pipeline orchestrates one ListenResult per request. Safe for concurrent
// use; requests share nothing but the cache store underneath the stages.
type Pipeline struct {
	deps  Deps
	store *cache.Store
	log   *logger.Logger
	cfg   config.Config
}

// New creates a Pipeline over the given stage implementations.
func New(deps Deps, store *cache.Store, log *logger.Logger, cfg config.Config) *Pipeline {
	return &Pipeline{deps: deps, store: store, log: log, cfg: cfg}
}

// Listen resolves the query and produces a ListenResult for the requested
// mode. The error return is reserved for DISCOVERY_NO_MATCH and strict
// full_audio failures; everything else degrades into result warnings.
func (p *Pipeline) Listen(ctx context.Context, rawQuery string, mode track.Mode, hooks Hooks) (*track.ListenResult, error) {
	p.stage(hooks, StageDiscover, rawQuery)
	resolved, err := p.deps.Discovery.Resolve(ctx, rawQuery)
	if err != nil {
		p.stage(hooks, StageAborted, err.Error())
		return nil, err
	}

	res := &track.ListenResult{
		Query:         resolved.Query,
		Mode:          mode,
		Track:         *resolved,
		FallbackTrace: append([]string(nil), resolved.ProviderTrace...),
	}

	var audio *track.AudioArtifact
	switch mode {
	case track.ModeFullAudio:
		audio, err = p.audioPath(ctx, res, hooks)
		if err != nil {
			p.stage(hooks, StageAborted, err.Error())
			return nil, err
		}
	case track.ModeMetadataOnly:
		p.metadataPath(res, hooks)
	case track.ModeDescriptorOnly:
		if err := p.descriptorPath(ctx, res, hooks); err != nil {
			p.fellBack(res, hooks, track.PathDescriptor, track.PathMetadata, err)
			p.metadataPath(res, hooks)
		}
	default: // auto
		audio, err = p.audioPath(ctx, res, hooks)
		if err != nil {
			p.fellBack(res, hooks, track.PathAudio, track.PathDescriptor, err)
			if derr := p.descriptorPath(ctx, res, hooks); derr != nil {
				p.fellBack(res, hooks, track.PathDescriptor, track.PathMetadata, derr)
				p.metadataPath(res, hooks)
			}
		}
	}

	p.stage(hooks, StageLyrics, res.Track.Selected.Identity())
	res.Lyrics = p.deps.Lyrics.Fetch(ctx, res.Track.Selected, audio)
	if res.Lyrics != nil {
		res.Warnings = append(res.Warnings, res.Lyrics.Warnings...)
		if !res.Lyrics.Unavailable() {
			res.Insight = p.deps.Insight.Analyze(res.Lyrics)
		}
	}

	p.stage(hooks, StageAssemble, string(res.AnalysisPath))
	p.stage(hooks, StageDone, "")
	return res, nil
}

// audioPath retrieves and analyzes audio, trying retrievable candidates
// in order until one yields features. The selected candidate is rebound
// to whichever candidate actually produced the audio.
func (p *Pipeline) audioPath(ctx context.Context, res *track.ListenResult, hooks Hooks) (*track.AudioArtifact, error) {
	p.stage(hooks, StageAudioPath, res.Track.Selected.Identity())

	cands := p.audioCandidates(res.Track)
	if len(cands) == 0 {
		return nil, track.Errf(track.StageRetrieval, track.CodeRetrievalNotRetrievable,
			"no retrievable source for %q", res.Query.Raw)
	}

	var lastErr error
	for i, cand := range cands {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			break
		}
		if i > 0 {
			res.FallbackTrace = append(res.FallbackTrace,
				fmt.Sprintf("audio_source:retry(%s)", cand.Identity()))
		}

		art, err := p.deps.Retrieval.Fetch(ctx, cand)
		if err != nil {
			p.log.Debug("audio fetch via %s failed: %v", cand.Identity(), err)
			lastErr = err
			continue
		}

		feat, err := p.deps.Analysis.Analyze(ctx, art, cand.Identity())
		if err != nil {
			// Analysis failures are systemic (missing decoder, bad
			// runtime), so another candidate would fail the same way.
			return nil, err
		}

		res.Track.Selected = cand
		res.AnalysisPath = track.PathAudio
		res.Features = feat
		return &art, nil
	}

	if lastErr == nil {
		lastErr = track.Errf(track.StageRetrieval, track.CodeRetrievalFailed,
			"no audio candidate succeeded for %q", res.Query.Raw)
	}
	return nil, lastErr
}

// audioCandidates orders the retrievable candidates for fetch attempts:
// primary-provider candidates first, the rest in discovery rank order,
// capped at the configured attempt budget.
func (p *Pipeline) audioCandidates(rt track.ResolvedTrack) []track.Candidate {
	pool := rt.Candidates
	if len(pool) == 0 {
		pool = []track.Candidate{rt.Selected}
	}

	var out []track.Candidate
	for _, c := range pool {
		if c.Retrievable {
			out = append(out, c)
		}
	}
	if p.deps.Primary != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Provider == p.deps.Primary && out[j].Provider != p.deps.Primary
		})
	}
	if limit := p.cfg.MaxAudioAttempts; limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (p *Pipeline) descriptorPath(ctx context.Context, res *track.ListenResult, hooks Hooks) error {
	p.stage(hooks, StageDescriptorPath, res.Track.Selected.Identity())

	feat, err := p.deps.Descriptor.Resolve(ctx, res.Track.Selected)
	if err != nil {
		return err
	}
	res.AnalysisPath = track.PathDescriptor
	res.Features = feat
	return nil
}

func (p *Pipeline) metadataPath(res *track.ListenResult, hooks Hooks) {
	p.stage(hooks, StageMetadataPath, res.Track.Selected.Identity())
	res.AnalysisPath = track.PathMetadata
	res.Features = nil
}

// fellBack records a path downgrade: a warning naming the failed stage,
// a compact fallback-trace entry, and the hook notification.
func (p *Pipeline) fellBack(res *track.ListenResult, hooks Hooks, from, to track.AnalysisPath, err error) {
	res.Warnings = append(res.Warnings,
		fmt.Sprintf("%s; falling back to %s path", err, to))
	res.FallbackTrace = append(res.FallbackTrace,
		fmt.Sprintf("mode:%s->%s(%s)", res.Mode, modeName(to), traceReason(err)))

	p.log.Warn("%s path failed (%s), continuing with %s: %v", from, traceReason(err), to, err)
	if hooks.OnFallback != nil {
		hooks.OnFallback(from, to, traceReason(err))
	}
}

func (p *Pipeline) stage(hooks Hooks, s Stage, detail string) {
	p.log.Debug("stage %s %s", s, detail)
	if hooks.OnStage != nil {
		hooks.OnStage(s, detail)
	}
}

// modeName maps an analysis path to the mode vocabulary used in trace
// entries.
func modeName(path track.AnalysisPath) string {
	switch path {
	case track.PathDescriptor:
		return string(track.ModeDescriptorOnly)
	case track.PathMetadata:
		return string(track.ModeMetadataOnly)
	default:
		return string(track.ModeFullAudio)
	}
}

func traceReason(err error) string {
	code := track.CodeOf(err)
	switch {
	case code == track.CodeRetrievalNotRetrievable:
		return "no_retrievable_source"
	case code != "":
		return strings.ToLower(string(code))
	default:
		return "error"
	}
}

// CacheReport is the per-request cache inspection output: presence, size
// and age of each artifact kind without deserializing payloads.
type CacheReport struct {
	Query     cache.Info            `json:"query"`
	Selected  string                `json:"selected,omitempty"`
	Artifacts map[string]cache.Info `json:"artifacts,omitempty"`
}

// CacheStatus inspects the cached artifacts for a query without touching
// the network. Track-level artifacts are reported only when a cached
// candidate pool identifies the track.
func (p *Pipeline) CacheStatus(rawQuery string) (*CacheReport, error) {
	q := discovery.ParseQuery(rawQuery)
	key := cache.QueryKey(q.Normalized)

	report := &CacheReport{}
	info, err := p.store.Status(cache.KindCandidates, key)
	if err != nil {
		return nil, err
	}
	report.Query = info

	var pool []track.Candidate
	ok, err := p.store.GetJSON(cache.KindCandidates, key, &pool)
	if err != nil {
		return nil, err
	}
	if !ok || len(pool) == 0 {
		return report, nil
	}

	identity := pool[0].Identity()
	report.Selected = identity
	report.Artifacts = make(map[string]cache.Info, 4)
	for name, st := range map[string]struct {
		kind cache.Kind
		key  string
	}{
		"audio":      {cache.KindAudio, cache.IdentityKey(identity)},
		"features":   {cache.KindResult, cache.FeatureKey(identity)},
		"descriptor": {cache.KindResult, cache.DescriptorKey(identity)},
		"lyrics":     {cache.KindResult, cache.LyricsKey(identity)},
	} {
		info, err := p.store.Status(st.kind, st.key)
		if err != nil {
			return nil, err
		}
		report.Artifacts[name] = info
	}
	return report, nil
}
