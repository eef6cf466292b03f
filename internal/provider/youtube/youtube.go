package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"songlisten/internal/track"
)

// Client is a YouTube Data API v3 client. It is registered only when an
// API key is configured; its candidates are retrieved through yt-dlp
// using the watch URL.
type Client struct {
	apiKey     string
	httpClient *http.Client
	apiURL     string
}

// New creates a new YouTube Data API client.
func New(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://www.googleapis.com/youtube/v3",
	}
}

func (c *Client) Name() string { return "youtube" }

// Search runs a music-category video search, then a videos lookup for
// durations (the search endpoint does not return them).
func (c *Client) Search(ctx context.Context, q track.Query) ([]track.Candidate, error) {
	term := q.SearchText()
	if term == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("videoCategoryId", "10")
	params.Set("maxResults", "5")
	params.Set("q", term)
	params.Set("key", c.apiKey)

	var searchResp searchResponse
	if err := c.getJSON(ctx, "/search?"+params.Encode(), &searchResp); err != nil {
		return nil, err
	}

	var ids []string
	for _, item := range searchResp.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	durations, err := c.videoDurations(ctx, ids)
	if err != nil {
		// Durations are an enrichment; candidates are still usable.
		durations = nil
	}

	var results []track.Candidate
	for _, item := range searchResp.Items {
		id := item.ID.VideoID
		if id == "" {
			continue
		}
		results = append(results, track.Candidate{
			Provider:    "youtube",
			ID:          id,
			Title:       html.UnescapeString(item.Snippet.Title),
			Artist:      cleanChannel(item.Snippet.ChannelTitle),
			DurationSec: durations[id],
			URL:         "https://www.youtube.com/watch?v=" + id,
			Retrievable: true,
		})
	}
	return results, nil
}

// videoDurations fetches contentDetails for a batch of video IDs.
func (c *Client) videoDurations(ctx context.Context, ids []string) (map[string]int, error) {
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("id", strings.Join(ids, ","))
	params.Set("key", c.apiKey)

	var resp videosResponse
	if err := c.getJSON(ctx, "/videos?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(resp.Items))
	for _, item := range resp.Items {
		out[item.ID] = parseISODuration(item.ContentDetails.Duration)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create youtube request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return track.Transport("youtube", "search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return track.Transport("youtube", "search",
			fmt.Errorf("youtube API returned %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode youtube response: %w", err)
	}
	return nil
}

// parseISODuration converts an ISO 8601 duration like PT4M13S to seconds.
func parseISODuration(s string) int {
	s = strings.TrimPrefix(s, "PT")
	total := 0
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'H' || r == 'M' || r == 'S':
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0
			}
			switch r {
			case 'H':
				total += n * 3600
			case 'M':
				total += n * 60
			case 'S':
				total += n
			}
			num = ""
		default:
			return 0
		}
	}
	return total
}

func cleanChannel(name string) string {
	return strings.TrimSpace(strings.TrimSuffix(name, "- Topic"))
}

// YouTube Data API response types

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	ID      videoID `json:"id"`
	Snippet snippet `json:"snippet"`
}

type videoID struct {
	VideoID string `json:"videoId"`
}

type snippet struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
}

type videosResponse struct {
	Items []videoItem `json:"items"`
}

type videoItem struct {
	ID             string         `json:"id"`
	ContentDetails contentDetails `json:"contentDetails"`
}

type contentDetails struct {
	Duration string `json:"duration"`
}
