package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"songlisten/internal/track"
)

// Client is an iTunes Search API client. The Apple catalog contributes
// metadata candidates to discovery and needs no credentials.
type Client struct {
	httpClient *http.Client
	apiURL     string
}

// New creates a new iTunes client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://itunes.apple.com/search",
	}
}

func (c *Client) Name() string { return "itunes" }

// Search queries the iTunes Search API and returns metadata candidates.
func (c *Client) Search(ctx context.Context, q track.Query) ([]track.Candidate, error) {
	term := q.SearchText()
	if term == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("term", term)
	params.Set("media", "music")
	params.Set("entity", "song")
	params.Set("limit", "5")

	var resp searchResponse
	if err := c.getJSON(ctx, "?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	return parseResults(resp.Results), nil
}

func (c *Client) getJSON(ctx context.Context, query string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+query, nil)
	if err != nil {
		return fmt.Errorf("failed to create itunes request: %w", err)
	}
	req.Header.Set("User-Agent", "songlisten/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return track.Transport("itunes", "request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return track.Transport("itunes", "request",
			fmt.Errorf("itunes returned %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode itunes response: %w", err)
	}
	return nil
}

func parseResults(items []resultItem) []track.Candidate {
	var results []track.Candidate
	for _, item := range items {
		if item.TrackID == 0 || item.TrackName == "" {
			continue
		}
		results = append(results, track.Candidate{
			Provider:    "itunes",
			ID:          strconv.FormatInt(item.TrackID, 10),
			Title:       item.TrackName,
			Artist:      item.ArtistName,
			DurationSec: item.TrackTimeMillis / 1000,
			URL:         item.TrackViewURL,
		})
	}
	return results
}

// iTunes Search API response types

type searchResponse struct {
	ResultCount int          `json:"resultCount"`
	Results     []resultItem `json:"results"`
}

type resultItem struct {
	TrackID         int64  `json:"trackId"`
	TrackName       string `json:"trackName"`
	ArtistName      string `json:"artistName"`
	TrackViewURL    string `json:"trackViewUrl"`
	TrackTimeMillis int    `json:"trackTimeMillis"`
}
