// Package track defines the shared data model of the listening pipeline:
// queries, candidates, resolved tracks, evidence artifacts and the final
// ListenResult. Provider packages normalize their responses into these
// shapes; nothing outside internal/provider knows provider field names.
package track

import "strings"

// Mode selects how aggressively a request pursues audio evidence.
type Mode string

const (
	ModeAuto           Mode = "auto"
	ModeFullAudio      Mode = "full_audio"
	ModeMetadataOnly   Mode = "metadata_only"
	ModeDescriptorOnly Mode = "descriptor_only"
)

// ParseMode validates a mode string from config or CLI input.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeAuto, ModeFullAudio, ModeMetadataOnly, ModeDescriptorOnly:
		return Mode(s), true
	}
	return "", false
}

// AnalysisPath records which route produced the feature evidence of a result.
type AnalysisPath string

const (
	PathAudio      AnalysisPath = "audio"
	PathDescriptor AnalysisPath = "descriptor"
	PathMetadata   AnalysisPath = "metadata"
)

// Query is a free-text listen request plus the normalized form used for
// cache keys and the heuristic artist/title split used for scoring.
// Immutable once built by discovery.
type Query struct {
	Raw         string `json:"raw"`
	Normalized  string `json:"normalized"`
	TitleGuess  string `json:"title_guess,omitempty"`
	ArtistGuess string `json:"artist_guess,omitempty"`
}

// SearchText is what providers send to their search endpoints: the parsed
// guesses when the split succeeded, the cleaned title text otherwise.
func (q Query) SearchText() string {
	if q.ArtistGuess != "" {
		return strings.TrimSpace(q.ArtistGuess + " " + q.TitleGuess)
	}
	return q.TitleGuess
}

// Candidate is one provider's claim about which track a query means.
type Candidate struct {
	Provider    string  `json:"provider"`
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	DurationSec int     `json:"duration_sec,omitempty"`
	URL         string  `json:"url,omitempty"`
	StreamURL   string  `json:"stream_url,omitempty"` // direct audio URL, set by HTTP-fetchable providers
	Retrievable bool    `json:"retrievable"`
	Confidence  float64 `json:"confidence"`
	ISRC        string  `json:"isrc,omitempty"`
	// Sources lists every provider that reported this track after dedup.
	Sources []string `json:"sources,omitempty"`
}

// Identity is the exact cache identity of the candidate's external object.
func (c Candidate) Identity() string {
	return c.Provider + ":" + c.ID
}

// ResolvedTrack is the outcome of discovery: the chosen candidate plus the
// full ranked pool it was chosen from. Immutable after discovery returns.
type ResolvedTrack struct {
	Query         Query       `json:"query"`
	Selected      Candidate   `json:"selected"`
	Candidates    []Candidate `json:"candidates,omitempty"`
	ProviderTrace []string    `json:"provider_trace,omitempty"`
}

// AudioArtifact is a locally stored audio file produced by retrieval.
// Once persisted the cache store owns the file; holders keep only the path.
type AudioArtifact struct {
	Path        string  `json:"path"`
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	Provider    string  `json:"provider,omitempty"`
	CacheHit    bool    `json:"cache_hit,omitempty"`
}

// SectionSpan is one entry of a feature section map.
type SectionSpan struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Energy   float64 `json:"energy"`
}

// FeatureResult is the normalized feature schema. Both the audio path and
// the descriptor path produce this shape; descriptor-derived results carry
// warnings for every field the lookups could not resolve.
type FeatureResult struct {
	TempoBPM             float64            `json:"tempo_bpm,omitempty"`
	Key                  string             `json:"key,omitempty"`
	Mode                 string             `json:"mode,omitempty"`
	LoudnessRMS          float64            `json:"loudness_rms,omitempty"`  // mean frame RMS, linear
	DynamicRange         float64            `json:"dynamic_range,omitempty"` // p95-p5 of frame RMS
	EnergyMean           float64            `json:"energy_mean,omitempty"`
	SpectralCentroidMean float64            `json:"spectral_centroid_mean,omitempty"`
	OnsetDensity         float64            `json:"onset_density,omitempty"` // onsets per second
	SectionMap           []SectionSpan      `json:"section_map,omitempty"`
	OptionalFeatures     map[string]float64 `json:"optional_features,omitempty"`
	Warnings             []string           `json:"warnings,omitempty"`
}

// Lyric evidence sources.
const (
	LyricSourceLRCLIB = "lrclib"
	LyricSourceASR    = "asr"
	LyricSourceNone   = "none"
)

// LyricEvidence is retrieved lyric text with provenance. Source "none"
// with warnings is the explicit unavailable state; it is distinct from a
// provider returning empty text, which is also treated as unavailable.
type LyricEvidence struct {
	Source     string   `json:"source"`
	Text       string   `json:"text,omitempty"`
	Language   string   `json:"language,omitempty"`
	Synced     bool     `json:"synced,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Unavailable reports whether the evidence carries no usable lyric text.
func (e *LyricEvidence) Unavailable() bool {
	return e == nil || e.Source == LyricSourceNone || strings.TrimSpace(e.Text) == ""
}

// LyricInsight is the keyword-level reading of lyric evidence used by
// synthesis. Never produced without evidence text.
type LyricInsight struct {
	Themes        []string `json:"themes,omitempty"`
	Polarity      string   `json:"polarity"` // positive, negative, mixed, neutral
	Intensity     float64  `json:"intensity"`
	Confidence    float64  `json:"confidence"`
	EvidenceLines []string `json:"evidence_lines,omitempty"`
	Summary       string   `json:"summary,omitempty"`
}

// ListenResult is the terminal output of one request. AnalysisPath is always
// set, and every degradation along the way appears in Warnings; the
// FallbackTrace records each orchestration decision in compact form.
type ListenResult struct {
	Query         Query          `json:"query"`
	Mode          Mode           `json:"mode"`
	Track         ResolvedTrack  `json:"track"`
	AnalysisPath  AnalysisPath   `json:"analysis_path"`
	Features      *FeatureResult `json:"features,omitempty"`
	Lyrics        *LyricEvidence `json:"lyrics,omitempty"`
	Insight       *LyricInsight  `json:"lyric_insight,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	FallbackTrace []string       `json:"fallback_trace,omitempty"`
}
