package jamendo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"songlisten/internal/track"
)

// Client is a Jamendo API v3 client. Jamendo hosts openly licensed
// music with direct audio URLs, so its candidates are retrievable
// without an external downloader.
type Client struct {
	clientID   string
	httpClient *http.Client
	apiURL     string
}

// New creates a new Jamendo client. A client ID is required by the API.
func New(clientID string) *Client {
	return &Client{
		clientID:   clientID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     "https://api.jamendo.com/v3.0",
	}
}

func (c *Client) Name() string { return "jamendo" }

// Search queries the Jamendo tracks endpoint by name.
func (c *Client) Search(ctx context.Context, q track.Query) ([]track.Candidate, error) {
	term := q.SearchText()
	if term == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("format", "json")
	params.Set("limit", "5")
	params.Set("namesearch", term)
	params.Set("audioformat", "mp32")

	reqURL := fmt.Sprintf("%s/tracks/?%s", c.apiURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create jamendo request: %w", err)
	}
	req.Header.Set("User-Agent", "songlisten/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, track.Transport("jamendo", "search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, track.Transport("jamendo", "search",
			fmt.Errorf("jamendo search returned %d: %s", resp.StatusCode, body))
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode jamendo response: %w", err)
	}
	if searchResp.Headers.Status != "success" {
		return nil, fmt.Errorf("jamendo API error: %s", searchResp.Headers.ErrorMessage)
	}

	return parseResults(searchResp.Results), nil
}

// Fetch streams a candidate's audio URL into destStem plus an mp3
// extension. Jamendo serves mp3 regardless of the configured format;
// conversion happens downstream.
func (c *Client) Fetch(ctx context.Context, cand track.Candidate, destStem string) (track.AudioArtifact, error) {
	if cand.StreamURL == "" {
		return track.AudioArtifact{}, fmt.Errorf("candidate %s has no stream URL", cand.Identity())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.StreamURL, nil)
	if err != nil {
		return track.AudioArtifact{}, fmt.Errorf("failed to create fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return track.AudioArtifact{}, fmt.Errorf("jamendo fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return track.AudioArtifact{}, fmt.Errorf("jamendo fetch returned %d", resp.StatusCode)
	}

	dest := destStem + ".mp3"
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return track.AudioArtifact{}, fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return track.AudioArtifact{}, fmt.Errorf("jamendo stream copy failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return track.AudioArtifact{}, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return track.AudioArtifact{}, err
	}

	return track.AudioArtifact{
		Path:        dest,
		Format:      "mp3",
		DurationSec: float64(cand.DurationSec),
		Provider:    c.Name(),
	}, nil
}

func parseResults(items []resultItem) []track.Candidate {
	var results []track.Candidate
	for _, item := range items {
		results = append(results, track.Candidate{
			Provider:    "jamendo",
			ID:          item.ID,
			Title:       item.Name,
			Artist:      item.ArtistName,
			DurationSec: item.Duration,
			URL:         item.ShareURL,
			StreamURL:   item.Audio,
			Retrievable: strings.TrimSpace(item.Audio) != "",
		})
	}
	return results
}

// Jamendo API response types

type searchResponse struct {
	Headers responseHeaders `json:"headers"`
	Results []resultItem    `json:"results"`
}

type responseHeaders struct {
	Status       string `json:"status"`
	Code         int    `json:"code"`
	ErrorMessage string `json:"error_message"`
}

type resultItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Duration   int    `json:"duration"`
	ArtistName string `json:"artist_name"`
	Audio      string `json:"audio"`
	ShareURL   string `json:"shareurl"`
}
