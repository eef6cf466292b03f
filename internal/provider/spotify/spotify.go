package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"songlisten/internal/track"
)

// Client is a Spotify Web API client using the client-credentials flow.
// Spotify never serves audio here; its candidates carry identity only,
// most importantly the ISRC that anchors the descriptor path.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// Overridable for testing
	tokenURL string
	apiURL   string
}

// New creates a new Spotify client.
func New(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		tokenURL:     "https://accounts.spotify.com/api/token",
		apiURL:       "https://api.spotify.com/v1",
	}
}

func (c *Client) Name() string { return "spotify" }

// Search queries the Spotify search API and returns metadata candidates.
func (c *Client) Search(ctx context.Context, q track.Query) ([]track.Candidate, error) {
	text := buildSearchQuery(q.TitleGuess, q.ArtistGuess)
	if text == "" {
		return nil, nil
	}

	token, err := c.getToken(ctx)
	if err != nil {
		return nil, track.Transport("spotify", "auth", err)
	}

	reqURL := fmt.Sprintf("%s/search?type=track&limit=5&q=%s", c.apiURL, url.QueryEscape(text))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, track.Transport("spotify", "search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, track.Transport("spotify", "search",
			fmt.Errorf("spotify search returned %d: %s", resp.StatusCode, body))
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode spotify response: %w", err)
	}

	return parseSearchResults(searchResp), nil
}

func buildSearchQuery(title, artist string) string {
	var parts []string
	if title != "" {
		parts = append(parts, "track:"+title)
	}
	if artist != "" {
		parts = append(parts, "artist:"+artist)
	}
	return strings.Join(parts, " ")
}

// getToken returns a valid access token, refreshing if necessary.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	data := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token request returned %d: %s", resp.StatusCode, body)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.accessToken = tokenResp.AccessToken
	// Refresh a bit early to avoid edge-case expiry
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)

	return c.accessToken, nil
}

// doWithRetry executes the request, retrying once on 429.
// Clones the request before retry to avoid issues with consumed bodies.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		retryAfter := 1
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if parsed, err := strconv.Atoi(ra); err == nil {
				retryAfter = parsed
			}
		}
		time.Sleep(time.Duration(retryAfter) * time.Second)

		retry := req.Clone(req.Context())
		return c.httpClient.Do(retry)
	}

	return resp, nil
}

func parseSearchResults(resp searchResponse) []track.Candidate {
	var results []track.Candidate
	for _, item := range resp.Tracks.Items {
		var artists []string
		for _, a := range item.Artists {
			artists = append(artists, a.Name)
		}

		results = append(results, track.Candidate{
			Provider:    "spotify",
			ID:          item.ID,
			Title:       item.Name,
			Artist:      strings.Join(artists, ", "),
			DurationSec: item.DurationMs / 1000,
			URL:         "https://open.spotify.com/track/" + item.ID,
			ISRC:        item.ExternalIDs.ISRC,
		})
	}
	return results
}

// Spotify API response types

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type searchResponse struct {
	Tracks struct {
		Items []trackItem `json:"items"`
	} `json:"tracks"`
}

type trackItem struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Artists     []artist   `json:"artists"`
	DurationMs  int        `json:"duration_ms"`
	ExternalIDs externalID `json:"external_ids"`
}

type artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type externalID struct {
	ISRC string `json:"isrc"`
}
