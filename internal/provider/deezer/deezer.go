package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"songlisten/internal/track"
)

// Client is a Deezer API client. Deezer contributes metadata candidates
// to discovery and per-track tempo/loudness signals to the descriptor
// path. No credentials are required.
type Client struct {
	httpClient *http.Client
	apiURL     string
}

// New creates a new Deezer client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://api.deezer.com",
	}
}

func (c *Client) Name() string { return "deezer" }

// Search queries the Deezer search API and returns metadata candidates.
func (c *Client) Search(ctx context.Context, q track.Query) ([]track.Candidate, error) {
	text := buildQuery(q.TitleGuess, q.ArtistGuess)
	if text == "" {
		return nil, nil
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/search?q="+url.QueryEscape(text)+"&limit=5", &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("deezer API error: %s", resp.Error.Message)
	}

	return parseResults(resp.Data), nil
}

// Signals are the audio hints Deezer exposes per track. Deezer reports
// zero for unknown values, so zero means absent.
type Signals struct {
	BPM  float64
	Gain float64
}

// Signals resolves bpm/gain for a track, preferring the ISRC track
// endpoint over a text search. Returns nil when no track matches.
func (c *Client) Signals(ctx context.Context, isrc, title, artist string) (*Signals, error) {
	if isrc != "" {
		var item trackItem
		err := c.getJSON(ctx, "/track/isrc:"+url.PathEscape(isrc), &item)
		if err == nil && item.ID != 0 {
			return &Signals{BPM: item.BPM, Gain: item.Gain}, nil
		}
	}

	text := strings.TrimSpace(strings.Join([]string{title, artist}, " "))
	if text == "" {
		return nil, nil
	}

	var search searchResponse
	if err := c.getJSON(ctx, "/search?q="+url.QueryEscape(text)+"&limit=1", &search); err != nil {
		return nil, err
	}
	if search.Error != nil {
		return nil, fmt.Errorf("deezer API error: %s", search.Error.Message)
	}
	if len(search.Data) == 0 {
		return nil, nil
	}

	first := search.Data[0]
	return &Signals{BPM: first.BPM, Gain: first.Gain}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create deezer request: %w", err)
	}
	req.Header.Set("User-Agent", "songlisten/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return track.Transport("deezer", "request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return track.Transport("deezer", "request",
			fmt.Errorf("deezer returned %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode deezer response: %w", err)
	}
	return nil
}

func buildQuery(title, artist string) string {
	escape := func(s string) string {
		return strings.ReplaceAll(s, "\"", "")
	}
	var parts []string
	if title != "" {
		parts = append(parts, "track:\""+escape(title)+"\"")
	}
	if artist != "" {
		parts = append(parts, "artist:\""+escape(artist)+"\"")
	}
	return strings.Join(parts, " ")
}

func parseResults(items []trackItem) []track.Candidate {
	var results []track.Candidate
	for _, item := range items {
		results = append(results, track.Candidate{
			Provider:    "deezer",
			ID:          strconv.Itoa(item.ID),
			Title:       item.TitleShort,
			Artist:      item.Artist.Name,
			DurationSec: item.Duration,
			URL:         "https://www.deezer.com/track/" + strconv.Itoa(item.ID),
			ISRC:        item.ISRC,
		})
	}
	return results
}

// Deezer API response types

type searchResponse struct {
	Data  []trackItem `json:"data"`
	Error *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type trackItem struct {
	ID         int     `json:"id"`
	Title      string  `json:"title"`
	TitleShort string  `json:"title_short"`
	ISRC       string  `json:"isrc"`
	Duration   int     `json:"duration"`
	BPM        float64 `json:"bpm"`
	Gain       float64 `json:"gain"`
	Artist     artist  `json:"artist"`
}

type artist struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
