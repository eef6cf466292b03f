// Package ytdlp wraps the yt-dlp binary as the primary discovery and
// retrieval provider. It needs no credentials; a missing binary surfaces
// as a transport failure so discovery can fall through to the other
// providers instead of aborting.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

const providerName = "ytdlp"

// Client shells out to yt-dlp. The semaphore bounds concurrent processes
// across parallel requests.
type Client struct {
	cfg config.Config
	log *logger.Logger
	sem chan struct{}
}

// New creates a yt-dlp client sized to the configured parallelism.
func New(cfg config.Config, log *logger.Logger) *Client {
	jobs := cfg.ParallelJobs
	if jobs < 1 {
		jobs = 1
	}
	return &Client{cfg: cfg, log: log, sem: make(chan struct{}, jobs)}
}

func (c *Client) Name() string { return providerName }

// searchResult is the subset of yt-dlp's JSON output we read.
type searchResult struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Creator    string  `json:"creator"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
}

// Search runs a yt-dlp ytsearch and maps each JSON line to a retrievable
// candidate.
func (c *Client) Search(ctx context.Context, q track.Query) ([]track.Candidate, error) {
	bin := c.cfg.YTDLPPath
	if _, err := exec.LookPath(bin); err != nil {
		return nil, track.Transport(providerName, "search", fmt.Errorf("missing binary %q: %w", bin, err))
	}

	spec := fmt.Sprintf("ytsearch%d:%s", c.cfg.MaxSearchResults, q.SearchText())
	cmd := exec.CommandContext(ctx, bin, "--dump-json", "--no-playlist", spec)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, track.Transport(providerName, "search",
			fmt.Errorf("yt-dlp search failed: %w: %s", err, lastLine(&stderr)))
	}

	var candidates []track.Candidate
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var res searchResult
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			c.log.Debug("ytdlp: skipping unparseable search line: %v", err)
			continue
		}
		if res.ID == "" || res.Title == "" {
			continue
		}
		candidates = append(candidates, track.Candidate{
			Provider:    providerName,
			ID:          res.ID,
			Title:       res.Title,
			Artist:      pickArtist(res),
			DurationSec: int(res.Duration),
			URL:         watchURL(res),
			Retrievable: true,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, track.Transport(providerName, "search", fmt.Errorf("reading yt-dlp output: %w", err))
	}

	return candidates, nil
}

// Fetch downloads the candidate's audio to dest (a path stem) in the
// configured format.
func (c *Client) Fetch(ctx context.Context, cand track.Candidate, dest string) (track.AudioArtifact, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return track.AudioArtifact{}, ctx.Err()
	}

	bin := c.cfg.YTDLPPath
	if _, err := exec.LookPath(bin); err != nil {
		return track.AudioArtifact{}, fmt.Errorf("missing binary %q: %w", bin, err)
	}

	url := cand.URL
	if url == "" {
		url = "https://www.youtube.com/watch?v=" + cand.ID
	}

	args := []string{
		"--extract-audio",
		"--audio-format", c.cfg.AudioFormat,
		"-f", "bestaudio[ext=m4a]/bestaudio/best",
		"--retries", "10",
		"--fragment-retries", "10",
		"--no-playlist",
		"-o", dest + ".%(ext)s",
		url,
	}
	cmd := exec.CommandContext(ctx, bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if c.cfg.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return track.AudioArtifact{}, ctx.Err()
		}
		return track.AudioArtifact{}, fmt.Errorf("yt-dlp download failed: %w: %s", err, lastLine(&stderr))
	}

	path := dest + "." + c.cfg.AudioFormat
	if _, err := os.Stat(path); err != nil {
		return track.AudioArtifact{}, fmt.Errorf("yt-dlp reported success but %s is missing: %w", path, err)
	}

	return track.AudioArtifact{
		Path:        path,
		Format:      c.cfg.AudioFormat,
		DurationSec: float64(cand.DurationSec),
		Provider:    providerName,
	}, nil
}

// pickArtist chooses the most song-like artist field yt-dlp offers.
// "Artist - Topic" channels are auto-generated and stripped to the artist.
func pickArtist(res searchResult) string {
	if res.Artist != "" {
		return res.Artist
	}
	if res.Creator != "" {
		return res.Creator
	}
	for _, name := range []string{res.Uploader, res.Channel} {
		if name == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimSuffix(name, "- Topic"))
	}
	return ""
}

func watchURL(res searchResult) string {
	if res.WebpageURL != "" {
		return res.WebpageURL
	}
	return "https://www.youtube.com/watch?v=" + res.ID
}

func lastLine(buf *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
