package synthesis

import (
	"strings"
	"testing"

	"songlisten/internal/track"
)

func audioResult(provider string, f *track.FeatureResult) *track.ListenResult {
	return &track.ListenResult{
		Mode:         track.ModeAuto,
		AnalysisPath: track.PathAudio,
		Track: track.ResolvedTrack{
			Selected: track.Candidate{Provider: provider, ID: "x", Title: "Song", Artist: "Artist", Confidence: 0.9},
		},
		Features: f,
	}
}

func TestBuildAudioPath(t *testing.T) {
	res := audioResult("ytdlp", &track.FeatureResult{
		TempoBPM:   88.0,
		Key:        "F",
		Mode:       "minor",
		EnergyMean: 0.03,
		SectionMap: []track.SectionSpan{{StartSec: 0, EndSec: 10, Energy: 0.1}},
	})

	out := Build(res)
	if !strings.Contains(out.Prompt, "Immediate feel") {
		t.Errorf("prompt missing response sections:\n%s", out.Prompt)
	}
	if joined := strings.Join(out.Highlights, " "); !strings.Contains(joined, "88.0") {
		t.Errorf("highlights missing tempo: %v", out.Highlights)
	}
	if !strings.Contains(out.NaturalObservation, "reads as reflective") {
		t.Errorf("tempo 88 at low energy should read reflective: %q", out.NaturalObservation)
	}
	if out.CombinedObservation == "" {
		t.Error("combined observation is empty")
	}
	// Lyric absence is the only open uncertainty here.
	if len(out.UncertaintyNotes) != 1 || !strings.Contains(out.UncertaintyNotes[0], "Lyrics were unavailable") {
		t.Errorf("uncertainty notes = %v", out.UncertaintyNotes)
	}
}

func TestBuildAudioDrivingMood(t *testing.T) {
	res := audioResult("ytdlp", &track.FeatureResult{
		TempoBPM:   128.0,
		Key:        "A",
		Mode:       "major",
		EnergyMean: 0.12,
		SectionMap: []track.SectionSpan{{EndSec: 10}},
	})

	out := Build(res)
	if out.Highlights[2] != "Perceived energy profile feels driving." {
		t.Errorf("highlights[2] = %q", out.Highlights[2])
	}
}

func TestBuildAudioMetadataProviderNote(t *testing.T) {
	res := audioResult("musicbrainz", &track.FeatureResult{TempoBPM: 120, Key: "C", Mode: "major"})

	out := Build(res)
	found := false
	for _, note := range out.UncertaintyNotes {
		if strings.Contains(strings.ToLower(note), "metadata") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a metadata-provider caveat, got %v", out.UncertaintyNotes)
	}
}

func TestBuildAudioWithInsight(t *testing.T) {
	res := audioResult("ytdlp", &track.FeatureResult{TempoBPM: 95.0, Key: "A", Mode: "minor"})
	res.Insight = &track.LyricInsight{
		Themes:    []string{"loss", "hope", "pain"},
		Polarity:  "mixed",
		Intensity: 0.7,
	}

	out := Build(res)
	if !strings.Contains(out.LyricObservation, "touching themes like loss, hope") {
		t.Errorf("lyric observation = %q", out.LyricObservation)
	}
	if !strings.Contains(out.CombinedObservation, "Lyrically, it leans mixed") {
		t.Errorf("combined observation = %q", out.CombinedObservation)
	}
	if !strings.Contains(out.Prompt, "Tempo BPM: 95.00") {
		t.Errorf("prompt missing formatted tempo:\n%s", out.Prompt)
	}
}

func TestBuildMetadataPath(t *testing.T) {
	res := &track.ListenResult{
		Mode:         track.ModeMetadataOnly,
		AnalysisPath: track.PathMetadata,
		Track: track.ResolvedTrack{
			Selected: track.Candidate{Provider: "spotify", ID: "sp1", Title: "Song", Artist: "Artist", DurationSec: 215, Confidence: 0.8},
		},
	}

	out := Build(res)
	if out.UncertaintyNotes[0] != "No direct audio analysis; interpretation is metadata/lyrics-based." {
		t.Errorf("uncertainty[0] = %q", out.UncertaintyNotes[0])
	}
	if !strings.Contains(strings.ToLower(out.UncertaintyNotes[1]), "tempo") {
		t.Errorf("uncertainty[1] should disclaim acoustic claims: %q", out.UncertaintyNotes[1])
	}
	if joined := strings.Join(out.Highlights, " "); !strings.Contains(joined, "Track duration: 3:35.") {
		t.Errorf("highlights = %v", out.Highlights)
	}
	if !strings.Contains(out.NaturalObservation, "metadata-led") {
		t.Errorf("natural observation = %q", out.NaturalObservation)
	}
	if !strings.Contains(out.Prompt, "Do not infer acoustic properties") {
		t.Errorf("prompt:\n%s", out.Prompt)
	}
}

func TestBuildMetadataWithInsight(t *testing.T) {
	res := &track.ListenResult{
		AnalysisPath: track.PathMetadata,
		Track:        track.ResolvedTrack{Selected: track.Candidate{Provider: "musicbrainz", Title: "Song"}},
		Insight:      &track.LyricInsight{Themes: []string{"love"}, Polarity: "positive", Intensity: 0.4},
	}

	out := Build(res)
	if !strings.Contains(out.CombinedObservation, "adds a positive emotional signal") {
		t.Errorf("combined observation = %q", out.CombinedObservation)
	}
	for _, note := range out.UncertaintyNotes {
		if strings.Contains(note, "Lyrics were unavailable") {
			t.Errorf("lyric caveat present despite insight: %v", out.UncertaintyNotes)
		}
	}
}

func TestBuildDescriptorPath(t *testing.T) {
	res := &track.ListenResult{
		AnalysisPath: track.PathDescriptor,
		Track:        track.ResolvedTrack{Selected: track.Candidate{Provider: "musicbrainz", Title: "Song"}},
		Features: &track.FeatureResult{
			TempoBPM:             98.0,
			Key:                  "F",
			Mode:                 "minor",
			SpectralCentroidMean: 1800,
			OptionalFeatures: map[string]float64{
				"descriptor_confidence":    0.72,
				"energy_proxy":             0.27,
				"spectral_complexity_mean": 12,
			},
			Warnings: []string{
				"DESCRIPTOR_FIELD_MISSING:danceability_proxy",
				"DESCRIPTOR_FIELD_MISSING:acousticness_proxy",
			},
		},
	}

	out := Build(res)
	if joined := strings.Join(out.Highlights, " "); !strings.Contains(joined, "Descriptor confidence: 0.72.") {
		t.Errorf("highlights = %v", out.Highlights)
	}
	if !strings.Contains(out.NaturalObservation, "texture leans bright and layered") {
		t.Errorf("natural observation = %q", out.NaturalObservation)
	}
	if out.UncertaintyNotes[0] != "Derived from external descriptor datasets, not direct local audio analysis." {
		t.Errorf("uncertainty[0] = %q", out.UncertaintyNotes[0])
	}
	found := false
	for _, note := range out.UncertaintyNotes {
		if strings.Contains(note, "Missing descriptor fields: danceability_proxy, acousticness_proxy.") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing-fields note absent: %v", out.UncertaintyNotes)
	}
}

func TestBuildDescriptorTexturePhrases(t *testing.T) {
	base := func(centroid float64, opt map[string]float64) *track.ListenResult {
		return &track.ListenResult{
			AnalysisPath: track.PathDescriptor,
			Track:        track.ResolvedTrack{Selected: track.Candidate{Title: "Song"}},
			Features: &track.FeatureResult{
				TempoBPM:             98.0,
				SpectralCentroidMean: centroid,
				OptionalFeatures:     opt,
			},
		}
	}

	out := Build(base(900, map[string]float64{"descriptor_confidence": 0.5}))
	if !strings.Contains(out.NaturalObservation, "texture leans warm and focused") {
		t.Errorf("low centroid: %q", out.NaturalObservation)
	}

	out = Build(base(0, map[string]float64{"descriptor_confidence": 0.5}))
	if !strings.Contains(out.NaturalObservation, "texture descriptors are limited") {
		t.Errorf("no texture data: %q", out.NaturalObservation)
	}
}

func TestBuildDescriptorWithoutTempo(t *testing.T) {
	res := &track.ListenResult{
		AnalysisPath: track.PathDescriptor,
		Track:        track.ResolvedTrack{Selected: track.Candidate{Title: "Song"}},
		Features: &track.FeatureResult{
			Key:              "C",
			Mode:             "major",
			OptionalFeatures: map[string]float64{"descriptor_confidence": 0.5},
			Warnings:         []string{"DESCRIPTOR_FIELD_MISSING:tempo_bpm"},
		},
	}

	out := Build(res)
	if out.Highlights[0] != "Tempo estimate unavailable." {
		t.Errorf("highlights[0] = %q", out.Highlights[0])
	}
	if !strings.Contains(out.Prompt, "Tempo: unknown") {
		t.Errorf("prompt:\n%s", out.Prompt)
	}
}

func TestBuildWithoutFeaturesFallsBackToMetadata(t *testing.T) {
	res := &track.ListenResult{
		AnalysisPath: track.PathAudio,
		Track:        track.ResolvedTrack{Selected: track.Candidate{Provider: "ytdlp", Title: "Song"}},
	}

	out := Build(res)
	if !strings.Contains(out.NaturalObservation, "metadata-led") {
		t.Errorf("expected metadata rendering, got %q", out.NaturalObservation)
	}
}
