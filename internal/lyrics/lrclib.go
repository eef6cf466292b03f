package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"songlisten/internal/track"
)

// Scoring weights for ranking archive entries against the candidate.
const (
	titleWeight    = 0.55
	artistWeight   = 0.30
	durationWeight = 0.15
)

// Client queries the LRCLIB lyric archive.
type Client struct {
	httpClient *http.Client
	apiURL     string
}

// NewClient creates an LRCLIB client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://lrclib.net/api/search",
	}
}

// Search finds the best lyric entry for the candidate. The archive is
// searched with the artist name first and without it as a fallback;
// entries are scored against the candidate and the best one wins.
// A miss returns evidence with source "none" and a warning, not an
// error; an error means the archive could not be consulted at all.
func (c *Client) Search(ctx context.Context, cand track.Candidate) (*track.LyricEvidence, error) {
	attempts := []url.Values{
		{"track_name": {cand.Title}, "artist_name": {cand.Artist}},
		{"track_name": {cand.Title}},
	}
	if strings.TrimSpace(cand.Artist) == "" {
		attempts = attempts[1:]
	}

	var (
		entries []lyricEntry
		scores  []float64
		lastErr error
	)
	for _, params := range attempts {
		items, err := c.search(ctx, params)
		if err != nil {
			lastErr = err
			continue
		}
		for _, item := range items {
			entries = append(entries, item)
			scores = append(scores, entryScore(cand, item))
		}
		if len(entries) > 0 {
			break
		}
	}

	if len(entries) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return &track.LyricEvidence{Source: track.LyricSourceNone, Warnings: []string{"LYRICS_NOT_FOUND"}}, nil
	}

	best := 0
	for i := range scores {
		if scores[i] > scores[best] {
			best = i
		}
	}

	text, synced := entries[best].lyricsText()
	if text == "" {
		return &track.LyricEvidence{Source: track.LyricSourceNone, Warnings: []string{"LYRICS_EMPTY_PAYLOAD"}}, nil
	}

	return &track.LyricEvidence{
		Source:     track.LyricSourceLRCLIB,
		Text:       text,
		Language:   entries[best].Lang,
		Synced:     synced,
		Confidence: math.Round(scores[best]*10000) / 10000,
	}, nil
}

func (c *Client) search(ctx context.Context, params url.Values) ([]lyricEntry, error) {
	reqURL := fmt.Sprintf("%s?%s", c.apiURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lrclib request: %w", err)
	}
	req.Header.Set("User-Agent", "songlisten/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, track.Transport("lrclib", "search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, track.Transport("lrclib", "search",
			fmt.Errorf("lrclib returned status %d", resp.StatusCode))
	}

	var items []lyricEntry
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode lrclib response: %w", err)
	}
	return items, nil
}

// entryScore weighs title similarity most, artist next, and duration
// closeness as a tiebreaker. Durations within 45 seconds score
// proportionally; unknown durations are neutral.
func entryScore(cand track.Candidate, item lyricEntry) float64 {
	title := similarity(cand.Title, item.TrackName)
	artist := 0.0
	if cand.Artist != "" && item.ArtistName != "" {
		artist = similarity(cand.Artist, item.ArtistName)
	}
	duration := 0.5
	if cand.DurationSec > 0 && item.Duration > 0 {
		delta := math.Abs(float64(cand.DurationSec) - item.Duration)
		duration = math.Max(0, 1-delta/45)
	}
	return titleWeight*title + artistWeight*artist + durationWeight*duration
}

// similarity is the fraction of shared tokens after lowering and
// replacing punctuation with spaces.
func similarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(tb))
	for _, t := range tb {
		set[t] = true
	}
	matches := 0
	for _, t := range ta {
		if set[t] {
			matches++
		}
	}
	n := len(ta)
	if len(tb) > n {
		n = len(tb)
	}
	return float64(matches) / float64(n)
}

func tokens(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// LRCLIB API response entry.
type lyricEntry struct {
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	Duration     float64 `json:"duration"`
	Lang         string  `json:"lang"`
	SyncedLyrics string  `json:"syncedLyrics"`
	PlainLyrics  string  `json:"plainLyrics"`
}

// lyricsText prefers synced lyrics over plain ones.
func (e lyricEntry) lyricsText() (string, bool) {
	if s := strings.TrimSpace(e.SyncedLyrics); s != "" {
		return s, true
	}
	if p := strings.TrimSpace(e.PlainLyrics); p != "" {
		return p, false
	}
	return "", false
}
