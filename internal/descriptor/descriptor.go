// Package descriptor resolves track features from external descriptor
// datasets when no local audio is available.
//
// Each field of the result is graded: "direct" when a dataset reported
// it, "mapped" when derived from another field, "missing" otherwise.
// The weighted grades become a confidence score, and a resolution below
// the configured minimum is unavailable rather than returned half-empty.
package descriptor

import (
	"context"
	"math"
	"strings"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/provider/acousticbrainz"
	"songlisten/internal/provider/deezer"
	"songlisten/internal/track"
)

// MBIDSource maps a track identity to a MusicBrainz recording id.
type MBIDSource interface {
	LookupMBID(ctx context.Context, isrc, title, artist string) (string, error)
}

// AcousticSource serves archived analysis documents by recording id.
type AcousticSource interface {
	LowLevel(ctx context.Context, mbid string) (*acousticbrainz.LowLevel, error)
	HighLevel(ctx context.Context, mbid string) (*acousticbrainz.HighLevel, error)
}

// SignalSource serves catalog playback signals for a track.
type SignalSource interface {
	Signals(ctx context.Context, isrc, title, artist string) (*deezer.Signals, error)
}

// Coverage grades, strongest first.
const (
	gradeDirect  = "direct"
	gradeMapped  = "mapped"
	gradeMissing = "missing"
)

// coverageWeights orders the descriptor fields and fixes their share of
// the confidence score. Mapped fields count at 0.7 of their weight.
var coverageWeights = []struct {
	field  string
	weight float64
}{
	{"tempo_bpm", 0.16},
	{"key", 0.12},
	{"mode", 0.08},
	{"loudness_proxy", 0.10},
	{"energy_proxy", 0.14},
	{"texture_proxy", 0.16},
	{"danceability_proxy", 0.10},
	{"acousticness_proxy", 0.07},
	{"instrumentalness_proxy", 0.07},
}

// Resolver builds descriptor-based features for a candidate.
type Resolver struct {
	mbids    MBIDSource
	acoustic AcousticSource
	signals  SignalSource
	store    *cache.Store
	log      *logger.Logger
	cfg      config.Config
}

// New creates a descriptor resolver.
func New(mbids MBIDSource, acoustic AcousticSource, signals SignalSource, store *cache.Store, log *logger.Logger, cfg config.Config) *Resolver {
	return &Resolver{mbids: mbids, acoustic: acoustic, signals: signals, store: store, log: log, cfg: cfg}
}

// Resolve looks up descriptors for the candidate and flattens them into
// the shared feature schema. Results are cached by track identity.
// Lookup failures degrade coverage instead of failing the resolution;
// only a confidence below the configured minimum is an error.
func (r *Resolver) Resolve(ctx context.Context, cand track.Candidate) (*track.FeatureResult, error) {
	if !r.cfg.DescriptorsEnabled {
		return nil, track.Errf(track.StageDescriptor, track.CodeDescriptorUnavailable,
			"descriptor lookups are disabled")
	}

	key := cache.DescriptorKey(cand.Identity())
	var cached track.FeatureResult
	if ok, err := r.store.GetJSON(cache.KindResult, key, &cached); err != nil {
		r.log.Warn("descriptor cache read failed: %v", err)
	} else if ok {
		r.log.Debug("descriptor cache hit for %s", cand.Identity())
		return &cached, nil
	}

	res := r.lookup(ctx, cand)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	conf := confidenceOf(res.coverage)
	if len(res.sources) == 0 {
		res.warnings = append(res.warnings, "DESCRIPTOR_SOURCES_UNAVAILABLE")
	}
	if conf < r.cfg.DescriptorMinConfidence {
		return nil, track.Errf(track.StageDescriptor, track.CodeDescriptorUnavailable,
			"descriptor confidence %.2f is below the %.2f minimum", conf, r.cfg.DescriptorMinConfidence)
	}

	feat := res.featureResult(conf)
	r.log.Info("descriptors resolved from %s (confidence %.2f)", strings.Join(res.sources, ", "), conf)
	if err := r.store.PutJSON(cache.KindResult, key, feat); err != nil {
		r.log.Warn("descriptor cache write failed: %v", err)
	}
	return feat, nil
}

func (r *Resolver) lookup(ctx context.Context, cand track.Candidate) *resolution {
	res := newResolution()

	mbid, err := r.mbids.LookupMBID(ctx, cand.ISRC, cand.Title, cand.Artist)
	if err != nil {
		r.log.Debug("mbid lookup failed: %v", err)
		mbid = ""
	}
	if mbid == "" {
		res.warnings = append(res.warnings, "DESCRIPTOR_MBID_NOT_FOUND")
	} else {
		if low, err := r.acoustic.LowLevel(ctx, mbid); err != nil {
			r.log.Debug("acousticbrainz low-level lookup failed: %v", err)
		} else if low != nil {
			res.mergeLowLevel(low)
		}
		if high, err := r.acoustic.HighLevel(ctx, mbid); err != nil {
			r.log.Debug("acousticbrainz high-level lookup failed: %v", err)
		} else if high != nil {
			res.mergeHighLevel(high)
		}
	}

	if sig, err := r.signals.Signals(ctx, cand.ISRC, cand.Title, cand.Artist); err != nil {
		r.log.Debug("deezer signals lookup failed: %v", err)
	} else if sig != nil {
		res.mergeSignals(sig)
	}

	res.deriveEnergy()
	return res
}

func confidenceOf(coverage map[string]string) float64 {
	num, den := 0.0, 0.0
	for _, cw := range coverageWeights {
		den += cw.weight
		switch coverage[cw.field] {
		case gradeDirect:
			num += cw.weight
		case gradeMapped:
			num += cw.weight * 0.7
		}
	}
	if den == 0 {
		return 0
	}
	return math.Round(num/den*10000) / 10000
}

// resolution accumulates field values and their coverage grades while
// the sources are consulted. Numeric fields are pointers so a genuine
// zero survives.
type resolution struct {
	tempo      *float64
	key        string
	mode       string
	loudness   *float64
	energy     *float64
	centroid   *float64
	complexity *float64
	dance      *float64
	acoustic   *float64
	instrument *float64

	coverage map[string]string
	sources  []string
	warnings []string
}

func newResolution() *resolution {
	cov := make(map[string]string, len(coverageWeights))
	for _, cw := range coverageWeights {
		cov[cw.field] = gradeMissing
	}
	return &resolution{mode: "unknown", coverage: cov}
}

func (r *resolution) mergeLowLevel(low *acousticbrainz.LowLevel) {
	r.sources = append(r.sources, "acousticbrainz.low-level")

	if low.Rhythm.BPM != nil {
		r.tempo = low.Rhythm.BPM
		r.coverage["tempo_bpm"] = gradeDirect
	}
	if low.Tonal.KeyKey != "" {
		r.key = low.Tonal.KeyKey
		r.coverage["key"] = gradeDirect
	}
	if s := low.Tonal.KeyScale; s == "major" || s == "minor" {
		r.mode = s
		r.coverage["mode"] = gradeDirect
	}

	loudness := low.Lowlevel.AverageLoudness
	if loudness == nil {
		loudness = low.Lowlevel.LoudnessEBU128.Integrated
	}
	if loudness != nil {
		r.loudness = loudness
		r.coverage["loudness_proxy"] = gradeDirect
	}

	r.centroid = low.Lowlevel.SpectralCentroid.Mean
	r.complexity = low.Lowlevel.SpectralComplexity.Mean
	if r.centroid != nil || r.complexity != nil {
		r.coverage["texture_proxy"] = gradeDirect
	}
}

func (r *resolution) mergeHighLevel(high *acousticbrainz.HighLevel) {
	r.sources = append(r.sources, "acousticbrainz.high-level")

	hl := high.Highlevel
	if v, ok := hl.MoodParty.Prob("party"); ok {
		r.energy = &v
		r.coverage["energy_proxy"] = gradeDirect
	}
	if v, ok := hl.Danceability.Prob("danceable"); ok {
		r.dance = &v
		r.coverage["danceability_proxy"] = gradeDirect
	}
	if v, ok := hl.MoodAcoustic.Prob("acoustic"); ok {
		r.acoustic = &v
		r.coverage["acousticness_proxy"] = gradeDirect
	}
	if v, ok := hl.VoiceInstrumental.Prob("instrumental"); ok {
		r.instrument = &v
		r.coverage["instrumentalness_proxy"] = gradeDirect
	}
}

// mergeSignals fills tempo and loudness from the catalog when the
// archive did not provide them. The catalog reports zero for values it
// does not know.
func (r *resolution) mergeSignals(sig *deezer.Signals) {
	r.sources = append(r.sources, "deezer.track")

	if r.coverage["tempo_bpm"] == gradeMissing && sig.BPM != 0 {
		bpm := sig.BPM
		r.tempo = &bpm
		r.coverage["tempo_bpm"] = gradeDirect
	}
	if r.coverage["loudness_proxy"] == gradeMissing && sig.Gain != 0 {
		gain := sig.Gain
		r.loudness = &gain
		r.coverage["loudness_proxy"] = gradeDirect
	}
}

// deriveEnergy maps loudness onto the energy scale when no direct
// energy signal exists.
func (r *resolution) deriveEnergy() {
	if r.energy != nil || r.loudness == nil {
		return
	}
	e := (*r.loudness + 15.0) / 30.0
	if e < 0 {
		e = 0
	} else if e > 1 {
		e = 1
	}
	r.energy = &e
	r.coverage["energy_proxy"] = gradeMapped
}

// featureResult flattens the resolution into the shared feature schema.
// Unresolved fields become warnings, never zero-valued guesses.
func (r *resolution) featureResult(confidence float64) *track.FeatureResult {
	feat := &track.FeatureResult{
		Key:  r.key,
		Mode: r.mode,
	}
	if r.tempo != nil {
		feat.TempoBPM = *r.tempo
	}
	if r.centroid != nil {
		feat.SpectralCentroidMean = *r.centroid
	}

	opt := map[string]float64{"descriptor_confidence": confidence}
	put := func(name string, v *float64) {
		if v != nil {
			opt[name] = *v
		}
	}
	put("loudness_proxy", r.loudness)
	put("energy_proxy", r.energy)
	put("spectral_complexity_mean", r.complexity)
	put("danceability_proxy", r.dance)
	put("acousticness_proxy", r.acoustic)
	put("instrumentalness_proxy", r.instrument)
	feat.OptionalFeatures = opt

	feat.Warnings = append(feat.Warnings, r.warnings...)
	for _, cw := range coverageWeights {
		if r.coverage[cw.field] == gradeMissing {
			feat.Warnings = append(feat.Warnings, "DESCRIPTOR_FIELD_MISSING:"+cw.field)
		}
	}
	return feat
}
