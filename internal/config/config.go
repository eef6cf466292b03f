package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"songlisten/internal/track"
)

// Config contains the pipeline configuration.
// Credentials may live in the file, a .env file or the environment; the
// environment wins. A missing credential disables that provider.
type Config struct {
	Verbose bool   `yaml:"verbose"`
	Mode    string `yaml:"mode"`

	CacheDir            string `yaml:"cache_dir"`
	ParallelJobs        int    `yaml:"parallel_jobs"`
	ProviderTimeoutSec  int    `yaml:"provider_timeout_sec"`
	RetrievalTimeoutSec int    `yaml:"retrieval_timeout_sec"`
	QueryTTLSec         int    `yaml:"query_ttl_sec"`

	MinConfidence          float64 `yaml:"min_confidence"`
	ShortCircuitConfidence float64 `yaml:"short_circuit_confidence"`
	MaxSearchResults       int     `yaml:"max_search_results"`
	MaxAudioAttempts       int     `yaml:"max_audio_attempts"`

	YTDLPPath          string `yaml:"ytdlp_path"`
	FFmpegPath         string `yaml:"ffmpeg_path"`
	AudioFormat        string `yaml:"audio_format"`
	AnalysisSampleRate int    `yaml:"analysis_sample_rate"`

	YouTubeAPIKey       string `yaml:"youtube_api_key"`
	SpotifyClientID     string `yaml:"spotify_client_id"`
	SpotifyClientSecret string `yaml:"spotify_client_secret"`
	JamendoClientID     string `yaml:"jamendo_client_id"`

	DescriptorsEnabled      bool    `yaml:"descriptors_enabled"`
	DescriptorMinConfidence float64 `yaml:"descriptor_min_confidence"`

	LyricsEnabled  bool   `yaml:"lyrics_enabled"`
	LyricsMinChars int    `yaml:"lyrics_min_chars"`
	LyricsMaxChars int    `yaml:"lyrics_max_chars"`
	ASRFallback    bool   `yaml:"asr_fallback"`
	ASRBinary      string `yaml:"asr_binary"`

	WebAddr string `yaml:"web_addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Mode:                    string(track.ModeAuto),
		CacheDir:                filepath.Join(homeDir(), ".cache", "songlisten"),
		ParallelJobs:            2,
		ProviderTimeoutSec:      15,
		RetrievalTimeoutSec:     120,
		QueryTTLSec:             604800, // one week
		MinConfidence:           0.30,
		ShortCircuitConfidence:  0.90,
		MaxSearchResults:        5,
		MaxAudioAttempts:        3,
		YTDLPPath:               "yt-dlp",
		FFmpegPath:              "ffmpeg",
		AudioFormat:             "wav",
		AnalysisSampleRate:      22050,
		DescriptorsEnabled:      true,
		DescriptorMinConfidence: 0.45,
		LyricsEnabled:           true,
		LyricsMinChars:          120,
		LyricsMaxChars:          12000,
		ASRBinary:               "whisper",
		WebAddr:                 ":8080",
	}
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no
// file found. Environment credentials are applied last.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.CacheDir = ExpandHome(cfg.CacheDir)
	cfg.applyEnv()

	return cfg, nil
}

// applyEnv overlays credentials from a .env file and the process
// environment. A set environment variable beats the config file.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		c.YouTubeAPIKey = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.SpotifyClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.SpotifyClientSecret = v
	}
	if v := os.Getenv("JAMENDO_CLIENT_ID"); v != "" {
		c.JamendoClientID = v
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations.
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./songlisten.yaml",
		"./songlisten.yml",
		filepath.Join(home, ".config", "songlisten", "config.yaml"),
		filepath.Join(home, ".config", "songlisten", "config.yml"),
		filepath.Join(home, ".songlisten.yaml"),
		filepath.Join(home, ".songlisten.yml"),
	}

	for _, path := range locations {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file.
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "songlisten", "config.yaml")
}

// GetDefaultLogPath returns the default log directory path.
func GetDefaultLogPath() string {
	return filepath.Join(homeDir(), ".local", "share", "songlisten", "logs")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

// Validate checks if the configuration is valid. An invalid mode string is
// a configuration error here, never a pipeline state.
func (c *Config) Validate() error {
	if _, ok := track.ParseMode(c.Mode); !ok {
		return fmt.Errorf("invalid mode %q, valid modes: auto, full_audio, metadata_only, descriptor_only", c.Mode)
	}

	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir cannot be empty")
	}

	if c.ParallelJobs < 1 {
		return fmt.Errorf("parallel jobs must be at least 1, got %d", c.ParallelJobs)
	}
	if c.ParallelJobs > 8 {
		return fmt.Errorf("parallel jobs cannot exceed 8 (to avoid provider rate limiting), got %d", c.ParallelJobs)
	}

	if c.ProviderTimeoutSec < 1 {
		return fmt.Errorf("provider_timeout_sec must be at least 1, got %d", c.ProviderTimeoutSec)
	}
	if c.RetrievalTimeoutSec < 1 {
		return fmt.Errorf("retrieval_timeout_sec must be at least 1, got %d", c.RetrievalTimeoutSec)
	}
	if c.QueryTTLSec < 0 {
		return fmt.Errorf("query_ttl_sec cannot be negative, got %d", c.QueryTTLSec)
	}

	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0, got %.2f", c.MinConfidence)
	}
	if c.ShortCircuitConfidence < 0 || c.ShortCircuitConfidence > 1 {
		return fmt.Errorf("short_circuit_confidence must be between 0.0 and 1.0, got %.2f", c.ShortCircuitConfidence)
	}
	if c.DescriptorMinConfidence < 0 || c.DescriptorMinConfidence > 1 {
		return fmt.Errorf("descriptor_min_confidence must be between 0.0 and 1.0, got %.2f", c.DescriptorMinConfidence)
	}

	if c.MaxSearchResults < 1 {
		return fmt.Errorf("max_search_results must be at least 1, got %d", c.MaxSearchResults)
	}
	if c.MaxAudioAttempts < 1 || c.MaxAudioAttempts > 10 {
		return fmt.Errorf("max_audio_attempts must be between 1 and 10, got %d", c.MaxAudioAttempts)
	}

	validFormats := []string{"wav", "mp3", "m4a", "opus"}
	isValid := false
	for _, format := range validFormats {
		if c.AudioFormat == format {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("unsupported audio format '%s', valid formats: %v", c.AudioFormat, validFormats)
	}

	if c.AnalysisSampleRate < 8000 {
		return fmt.Errorf("analysis_sample_rate must be at least 8000, got %d", c.AnalysisSampleRate)
	}

	if c.LyricsMinChars < 0 {
		return fmt.Errorf("lyrics_min_chars cannot be negative, got %d", c.LyricsMinChars)
	}
	if c.LyricsMaxChars > 0 && c.LyricsMaxChars < c.LyricsMinChars {
		return fmt.Errorf("lyrics_max_chars (%d) cannot be below lyrics_min_chars (%d)", c.LyricsMaxChars, c.LyricsMinChars)
	}

	return nil
}

// RequestMode resolves the effective mode, preferring the override when set.
func (c *Config) RequestMode(override string) (track.Mode, error) {
	s := c.Mode
	if override != "" {
		s = override
	}
	mode, ok := track.ParseMode(s)
	if !ok {
		return "", fmt.Errorf("invalid mode %q, valid modes: auto, full_audio, metadata_only, descriptor_only", s)
	}
	return mode, nil
}
