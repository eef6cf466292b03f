package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Supported audio file extensions
var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".opus": true,
	".wav":  true,
	".aac":  true,
	".ogg":  true,
}

// CheckDependencies verifies that the external commands the audio path
// shells out to are installed.
func CheckDependencies(ytdlp, ffmpeg string) error {
	if _, err := exec.LookPath(ytdlp); err != nil {
		return fmt.Errorf("required command %q not found in PATH. Install with: pip install yt-dlp", ytdlp)
	}
	if _, err := exec.LookPath(ffmpeg); err != nil {
		return fmt.Errorf("required command %q not found in PATH", ffmpeg)
	}

	return nil
}

// CreateTempDir creates a temporary folder for transient audio work
func CreateTempDir() (string, error) {
	dir, err := os.MkdirTemp("", "songlisten-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	return dir, nil
}

// Cleanup removes the temporary folder.
// Safety check: only deletes directories in /tmp
func Cleanup(dir string) error {
	if dir == "" {
		return nil
	}

	if !strings.HasPrefix(filepath.Clean(dir), filepath.Clean(os.TempDir())) {
		return fmt.Errorf("refusing to delete directory outside temp folder: %s", dir)
	}

	return os.RemoveAll(dir)
}

// IsAudioFile reports whether path carries a supported audio extension.
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// FindAudioFiles recursively finds all audio files in a directory.
func FindAudioFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory path cannot be empty")
	}

	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("directory does not exist: %s", dir)
	}

	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if !info.IsDir() && IsAudioFile(path) {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", dir, err)
	}

	return files, nil
}

// FormatDuration renders whole seconds as m:ss.
func FormatDuration(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
