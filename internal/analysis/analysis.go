// Package analysis extracts acoustic features from retrieved audio.
//
// WAV files are decoded natively; everything else is decoded through
// ffmpeg. Results are cached by track identity, so listening to the
// same track twice never recomputes.
package analysis

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

// Silence threshold for section splitting, in dB below the loudest frame.
const sectionTopDB = 28

// Engine runs feature extraction over local audio artifacts.
type Engine struct {
	store *cache.Store
	log   *logger.Logger
	cfg   config.Config
}

// New creates an analysis engine.
func New(store *cache.Store, log *logger.Logger, cfg config.Config) *Engine {
	return &Engine{store: store, log: log, cfg: cfg}
}

// Analyze extracts the feature set for the artifact, serving from cache
// when the track identity has been analyzed before.
func (e *Engine) Analyze(ctx context.Context, art track.AudioArtifact, identity string) (*track.FeatureResult, error) {
	key := cache.FeatureKey(identity)

	var cached track.FeatureResult
	if ok, err := e.store.GetJSON(cache.KindResult, key, &cached); err != nil {
		e.log.Warn("feature cache read failed: %v", err)
	} else if ok {
		e.log.Debug("analysis cache hit for %s", identity)
		return &cached, nil
	}

	samples, sr, err := e.load(ctx, art)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, track.Errf(track.StageAnalysis, track.CodeAnalysisAudioLoadFailed,
			"audio payload is empty: %s", art.Path)
	}

	feat := extract(samples, sr)
	e.log.Debug("analyzed %s: %.1f BPM, %s %s, %d sections",
		filepath.Base(art.Path), feat.TempoBPM, feat.Key, feat.Mode, len(feat.SectionMap))

	if err := e.store.PutJSON(cache.KindResult, key, feat); err != nil {
		e.log.Warn("feature cache write failed: %v", err)
	}
	return feat, nil
}

// load decodes the artifact into mono samples, converting through
// ffmpeg when the artifact is not already a wav.
func (e *Engine) load(ctx context.Context, art track.AudioArtifact) ([]float64, int, error) {
	path := art.Path
	if !strings.EqualFold(art.Format, "wav") {
		converted, err := e.convert(ctx, path)
		if err != nil {
			return nil, 0, err
		}
		defer os.Remove(converted)
		path = converted
	}

	samples, sr, err := decodeWAV(path)
	if err != nil {
		return nil, 0, track.Wrap(track.StageAnalysis, track.CodeAnalysisAudioLoadFailed, err,
			"unable to load %s", path)
	}
	return samples, sr, nil
}

// convert decodes src to a mono wav at the analysis sample rate. The
// caller removes the returned file.
func (e *Engine) convert(ctx context.Context, src string) (string, error) {
	ffmpeg, err := exec.LookPath(e.cfg.FFmpegPath)
	if err != nil {
		return "", track.Errf(track.StageAnalysis, track.CodeAnalysisDependencyMissing,
			"ffmpeg (%q) not found, required to decode %s", e.cfg.FFmpegPath, filepath.Base(src))
	}

	tmp, err := os.CreateTemp("", "songlisten-*.wav")
	if err != nil {
		return "", track.Wrap(track.StageAnalysis, track.CodeAnalysisAudioLoadFailed, err,
			"temp file for decode")
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y", "-i", src,
		"-ac", "1",
		"-ar", strconv.Itoa(e.cfg.AnalysisSampleRate),
		"-f", "wav",
		tmp.Name(),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(tmp.Name())
		return "", track.Wrap(track.StageAnalysis, track.CodeAnalysisAudioLoadFailed, err,
			"ffmpeg could not decode %s: %s", filepath.Base(src), lastLine(stderr.String()))
	}
	return tmp.Name(), nil
}

// extract computes the full feature set from mono samples.
func extract(y []float64, sr int) *track.FeatureResult {
	frames := stft(y)
	frameRMS := rmsFrames(y)
	duration := float64(len(y)) / float64(sr)

	key, mode := estimateKey(chromaMean(frames, sr))
	env := onsetEnvelope(frames)

	denom := duration
	if denom < 1 {
		denom = 1
	}

	feat := &track.FeatureResult{
		TempoBPM:             estimateTempo(env, sr),
		Key:                  key,
		Mode:                 mode,
		LoudnessRMS:          meanOf(frameRMS),
		DynamicRange:         percentile(frameRMS, 95) - percentile(frameRMS, 5),
		EnergyMean:           meanAbs(y),
		SpectralCentroidMean: meanOf(spectralCentroids(frames, sr)),
		OnsetDensity:         float64(countOnsets(env)) / denom,
		OptionalFeatures:     map[string]float64{"duration_sec": duration},
	}

	for _, span := range nonSilentSpans(y, frameRMS, sectionTopDB) {
		if len(feat.SectionMap) == 12 {
			break
		}
		feat.SectionMap = append(feat.SectionMap, track.SectionSpan{
			StartSec: float64(span[0]) / float64(sr),
			EndSec:   float64(span[1]) / float64(sr),
			Energy:   meanAbs(y[span[0]:span[1]]),
		})
	}
	return feat
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
