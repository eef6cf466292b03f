// Package synthesis renders a ListenResult into a grounded listening
// brief: natural-language observations, highlight bullets, uncertainty
// notes and a prompt for a downstream text model. It is a read-only
// consumer of the result; every claim it makes traces back to a field
// that is actually present.
package synthesis

import (
	"fmt"
	"strings"

	"songlisten/internal/track"
	"songlisten/pkg/utils"
)

// Result is the rendered brief for one listen.
type Result struct {
	NaturalObservation  string   `json:"natural_observation"`
	LyricObservation    string   `json:"lyric_observation,omitempty"`
	CombinedObservation string   `json:"combined_observation"`
	Highlights          []string `json:"highlights"`
	UncertaintyNotes    []string `json:"uncertainty_notes,omitempty"`
	Prompt              string   `json:"prompt_for_text_model"`
}

const noLyricsNote = "Lyrics were unavailable or insufficient for textual-feeling analysis."

// Emitted by the descriptor resolver for each unresolved feature field.
const missingFieldPrefix = "DESCRIPTOR_FIELD_MISSING:"

const audioPrompt = `You are listening to a song as a careful human critic.
Use only the provided structured features.
Clearly separate direct evidence from interpretation.
Do not invent lyrics or artist intent.

Song:
- Title: %s
- Artist guess: %s
- Source confidence: %.2f

Features:
- Tempo BPM: %.2f
- Key/Mode: %s %s
- RMS loudness: %.5f
- Dynamic range: %.5f
- Energy mean: %.5f
- Spectral centroid mean: %.2f
- Onset density: %.5f
- Section count: %d

Respond with:
1) Immediate feel
2) Rhythm and energy journey
3) Harmonic color and tension/release
4) Production texture and space
5) Confidence and uncertainty notes
`

// Build renders the brief for the path the result actually took. A result
// without features falls back to the metadata rendering regardless of its
// recorded path.
func Build(res *track.ListenResult) *Result {
	switch {
	case res.AnalysisPath == track.PathAudio && res.Features != nil:
		return buildAudio(res)
	case res.AnalysisPath == track.PathDescriptor && res.Features != nil:
		return buildDescriptor(res)
	default:
		return buildMetadata(res)
	}
}

func buildAudio(res *track.ListenResult) *Result {
	src := res.Track.Selected
	f := res.Features
	tempo := f.TempoBPM
	energy := f.EnergyMean

	mood := "restrained"
	switch {
	case tempo > 120 && energy > 0.08:
		mood = "driving"
	case tempo < 90 && energy < 0.06:
		mood = "reflective"
	}

	key := orUnknown(f.Key)
	mode := orUnknown(f.Mode)

	highlights := []string{
		fmt.Sprintf("Tempo sits around %.1f BPM.", tempo),
		fmt.Sprintf("Estimated key center is %s %s.", key, mode),
		fmt.Sprintf("Perceived energy profile feels %s.", mood),
	}

	var uncertainty []string
	if src.Provider == "musicbrainz" {
		uncertainty = append(uncertainty, "Only metadata was available; no direct audio evidence from source provider.")
	}
	if len(f.SectionMap) == 0 {
		uncertainty = append(uncertainty, "Section segmentation confidence is low.")
	}
	if res.Insight == nil {
		uncertainty = append(uncertainty, noLyricsNote)
	}

	tonalKey := f.Key
	if tonalKey == "" {
		tonalKey = "an uncertain key"
	}
	natural := fmt.Sprintf(
		"This listen reads as %s, with a pulse near %.0f BPM and a tonal center around %s %s. "+
			"The energy contour suggests deliberate dynamic shaping rather than flat loudness, "+
			"and the spectral balance points to a warm-mid texture with periodic transient lift.",
		mood, tempo, tonalKey, mode)

	lyricObs := ""
	combined := natural
	if in := res.Insight; in != nil {
		lyricObs = fmt.Sprintf(
			"Lyrically, the text feels %s, touching themes like %s. The wording suggests an intensity around %.2f.",
			in.Polarity, themeList(in), in.Intensity)
		combined = fmt.Sprintf(
			"%s Lyrically, it leans %s, which either reinforces or gently contrasts the sonic mood to create a fuller emotional arc.",
			natural, in.Polarity)
	}

	prompt := fmt.Sprintf(audioPrompt,
		src.Title, orUnknown(src.Artist), src.Confidence,
		tempo, key, mode,
		f.LoudnessRMS, f.DynamicRange, f.EnergyMean, f.SpectralCentroidMean, f.OnsetDensity,
		len(f.SectionMap))

	return &Result{
		NaturalObservation:  natural,
		LyricObservation:    lyricObs,
		CombinedObservation: combined,
		Highlights:          highlights,
		UncertaintyNotes:    uncertainty,
		Prompt:              prompt,
	}
}

func buildMetadata(res *track.ListenResult) *Result {
	src := res.Track.Selected

	artist := src.Artist
	if artist == "" {
		artist = "unknown artist"
	}
	durationText := "unknown duration"
	if src.DurationSec > 0 {
		durationText = utils.FormatDuration(src.DurationSec)
	}
	sourceLabel := orUnknown(src.Provider)
	if len(src.Sources) > 0 {
		sourceLabel = strings.Join(src.Sources, ", ")
	}

	natural := fmt.Sprintf(
		"This interpretation is metadata-led for '%s' by %s. Catalog cues suggest a track length around %s, "+
			"so the observation focuses on framing and lyrical affect rather than acoustic evidence.",
		src.Title, artist, durationText)

	highlights := []string{
		fmt.Sprintf("Metadata source: %s.", sourceLabel),
		fmt.Sprintf("Track duration: %s.", durationText),
		"Acoustic feature extraction was not available.",
	}

	uncertainty := []string{
		"No direct audio analysis; interpretation is metadata/lyrics-based.",
		"Tempo/key/energy/timbre observations are intentionally omitted.",
	}

	lyricObs := ""
	combined := natural
	if in := res.Insight; in != nil {
		lyricObs = fmt.Sprintf("Lyrically, the text feels %s, touching themes like %s.", in.Polarity, themeList(in))
		combined = fmt.Sprintf("%s Lyrical evidence adds a %s emotional signal to this metadata-based reading.",
			natural, in.Polarity)
	} else {
		uncertainty = append(uncertainty, noLyricsNote)
	}

	prompt := fmt.Sprintf(
		"You are analyzing a song with metadata and optional lyric evidence only.\n"+
			"Do not infer acoustic properties (tempo, key, timbre, dynamics).\n"+
			"Song title: %s\n"+
			"Artist: %s\n"+
			"Duration: %s\n"+
			"Source confidence: %.2f\n"+
			"Respond with:\n"+
			"1) Contextual framing from metadata\n"+
			"2) Lyric emotional reading (if present)\n"+
			"3) Explicit uncertainty due to no audio analysis\n",
		src.Title, artist, durationText, src.Confidence)

	return &Result{
		NaturalObservation:  natural,
		LyricObservation:    lyricObs,
		CombinedObservation: combined,
		Highlights:          highlights,
		UncertaintyNotes:    uncertainty,
		Prompt:              prompt,
	}
}

func buildDescriptor(res *track.ListenResult) *Result {
	src := res.Track.Selected
	f := res.Features

	tempo := f.TempoBPM
	tonal := orUnknown(f.Key) + " " + orUnknown(f.Mode)
	confidence := f.OptionalFeatures["descriptor_confidence"]
	energy, hasEnergy := f.OptionalFeatures["energy_proxy"]
	_, hasComplexity := f.OptionalFeatures["spectral_complexity_mean"]
	centroid := f.SpectralCentroidMean

	tempoHighlight := "Tempo estimate unavailable."
	if tempo > 0 {
		tempoHighlight = fmt.Sprintf("Tempo estimate: %.1f BPM.", tempo)
	}
	highlights := []string{
		tempoHighlight,
		fmt.Sprintf("Key/mode estimate: %s.", tonal),
		fmt.Sprintf("Descriptor confidence: %.2f.", confidence),
	}

	texture := "texture descriptors are limited"
	if centroid > 0 || hasComplexity {
		if centroid > 1500 {
			texture = "texture leans bright and layered"
		} else {
			texture = "texture leans warm and focused"
		}
	}

	pulse := "an unconfirmed pulse"
	if tempo > 0 {
		pulse = fmt.Sprintf("a pulse near %.0f BPM", tempo)
	}
	natural := fmt.Sprintf(
		"Descriptor-level analysis suggests %s and tonal center around %s. Energy proxy sits near %.2f, and %s. "+
			"This read uses catalog-linked descriptor databases rather than direct waveform extraction.",
		pulse, tonal, energy, texture)

	uncertainty := []string{"Derived from external descriptor datasets, not direct local audio analysis."}
	if missing := missingFields(f.Warnings); len(missing) > 0 {
		if len(missing) > 4 {
			missing = missing[:4]
		}
		uncertainty = append(uncertainty, fmt.Sprintf("Missing descriptor fields: %s.", strings.Join(missing, ", ")))
	}

	lyricObs := ""
	combined := natural
	if in := res.Insight; in != nil {
		lyricObs = fmt.Sprintf("Lyrically, the text feels %s, touching themes like %s.", in.Polarity, themeList(in))
		combined = fmt.Sprintf("%s Lyrical evidence adds a %s emotional layer to the descriptor-based sonic read.",
			natural, in.Polarity)
	} else {
		uncertainty = append(uncertainty, noLyricsNote)
	}

	tempoText := "unknown"
	if tempo > 0 {
		tempoText = fmt.Sprintf("%.1f", tempo)
	}
	energyText := "unknown"
	if hasEnergy {
		energyText = fmt.Sprintf("%.2f", energy)
	}
	prompt := fmt.Sprintf(
		"You are analyzing a song from precomputed descriptors and optional lyric evidence.\n"+
			"Separate direct descriptor evidence from interpretation.\n"+
			"Title: %s\n"+
			"Tempo: %s\n"+
			"Key/Mode: %s\n"+
			"Energy proxy: %s\n"+
			"Descriptor confidence: %.2f\n"+
			"Respond with:\n"+
			"1) Rhythm/motion feel\n"+
			"2) Tonal and texture color\n"+
			"3) Confidence and missing data caveats\n",
		src.Title, tempoText, tonal, energyText, confidence)

	return &Result{
		NaturalObservation:  natural,
		LyricObservation:    lyricObs,
		CombinedObservation: combined,
		Highlights:          highlights,
		UncertaintyNotes:    uncertainty,
		Prompt:              prompt,
	}
}

// themeList joins the first two themes for inline mention.
func themeList(in *track.LyricInsight) string {
	themes := in.Themes
	if len(themes) > 2 {
		themes = themes[:2]
	}
	return strings.Join(themes, ", ")
}

func missingFields(warnings []string) []string {
	var fields []string
	for _, w := range warnings {
		if strings.HasPrefix(w, missingFieldPrefix) {
			fields = append(fields, strings.TrimPrefix(w, missingFieldPrefix))
		}
	}
	return fields
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
