package lyrics

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"songlisten/internal/logger"
	"songlisten/internal/track"
	"songlisten/pkg/utils"
)

// ASR shells out to a speech recognition binary (whisper-compatible
// interface) to transcribe audio when no lyric archive has the track.
type ASR struct {
	binary string
	log    *logger.Logger
}

// NewASR creates a transcriber around the named binary.
func NewASR(binary string, log *logger.Logger) *ASR {
	return &ASR{binary: binary, log: log}
}

// Transcribe runs the recognizer over the audio file. A missing binary,
// a failed run and an empty transcript each come back as source "none"
// with a distinct warning.
func (a *ASR) Transcribe(ctx context.Context, path string) *track.LyricEvidence {
	bin, err := exec.LookPath(a.binary)
	if err != nil {
		return none("LYRICS_ASR_UNAVAILABLE")
	}

	outDir, err := utils.CreateTempDir()
	if err != nil {
		a.log.Warn("asr temp dir failed: %v", err)
		return none("LYRICS_ASR_FAILED")
	}
	defer utils.Cleanup(outDir)

	cmd := exec.CommandContext(ctx, bin, path,
		"--output_format", "txt",
		"--output_dir", outDir,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		a.log.Warn("asr run failed: %v (%s)", err, strings.TrimSpace(stderr.String()))
		return none("LYRICS_ASR_FAILED")
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	raw, err := os.ReadFile(filepath.Join(outDir, stem+".txt"))
	if err != nil {
		a.log.Warn("asr transcript missing: %v", err)
		return none("LYRICS_ASR_FAILED")
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return none("LYRICS_ASR_EMPTY")
	}
	return &track.LyricEvidence{Source: track.LyricSourceASR, Text: text}
}
