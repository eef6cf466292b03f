package musicbrainz

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

	"golang.org/x/time/rate"

	"songlisten/internal/track"
)

// Client is a MusicBrainz Web API client. It contributes metadata-only
// candidates to discovery and resolves recording MBIDs for the
// descriptor path.
type Client struct {
	httpClient *http.Client
	apiURL     string
	limiter    *rate.Limiter
}

// New creates a new MusicBrainz client honoring the API's 1 req/s limit.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://musicbrainz.org/ws/2",
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (c *Client) Name() string { return "musicbrainz" }

// Search queries the recording search API. Results are never directly
// retrievable; they anchor identity (ISRC, canonical duration) for
// candidates found elsewhere.
func (c *Client) Search(ctx context.Context, q track.Query) ([]track.Candidate, error) {
	lucene := buildQuery(q.TitleGuess, q.ArtistGuess)
	if lucene == "" {
		return nil, nil
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/recording?query="+url.QueryEscape(lucene)+"&fmt=json&limit=5", &resp); err != nil {
		return nil, err
	}

	return parseRecordings(resp.Recordings), nil
}

// LookupMBID resolves a recording MBID, preferring ISRC lookup over a
// title/artist search. An empty MBID with nil error means no match.
func (c *Client) LookupMBID(ctx context.Context, isrc, title, artist string) (string, error) {
	if isrc != "" {
		var resp searchResponse
		err := c.getJSON(ctx, "/recording?query="+url.QueryEscape("isrc:"+isrc)+"&fmt=json&limit=1", &resp)
		if err != nil {
			return "", err
		}
		if len(resp.Recordings) > 0 {
			return resp.Recordings[0].ID, nil
		}
	}

	lucene := buildQuery(title, artist)
	if lucene == "" {
		return "", nil
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/recording?query="+url.QueryEscape(lucene)+"&fmt=json&limit=1", &resp); err != nil {
		return "", err
	}
	if len(resp.Recordings) == 0 {
		return "", nil
	}
	return resp.Recordings[0].ID, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create musicbrainz request: %w", err)
	}
	req.Header.Set("User-Agent", "songlisten/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return track.Transport("musicbrainz", "search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return track.Transport("musicbrainz", "search",
			fmt.Errorf("musicbrainz returned %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode musicbrainz response: %w", err)
	}
	return nil
}

// doWithRetry executes the request, retrying once on 429/503 with backoff.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		retryAfter := 2
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if parsed, err := strconv.Atoi(ra); err == nil {
				retryAfter = parsed
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(retryAfter) * time.Second):
		}

		retry := req.Clone(ctx)
		return c.httpClient.Do(retry)
	}

	return resp, nil
}

func buildQuery(title, artist string) string {
	var parts []string
	if title != "" {
		parts = append(parts, fmt.Sprintf("recording:%q", title))
	}
	if artist != "" {
		parts = append(parts, fmt.Sprintf("artist:%q", artist))
	}
	return strings.Join(parts, " AND ")
}

func parseRecordings(recordings []recording) []track.Candidate {
	var results []track.Candidate
	for _, rec := range recordings {
		c := track.Candidate{
			Provider:    "musicbrainz",
			ID:          rec.ID,
			Title:       rec.Title,
			Artist:      joinArtistCredits(rec.ArtistCredit),
			DurationSec: rec.Length / 1000,
			URL:         "https://musicbrainz.org/recording/" + rec.ID,
		}
		if len(rec.ISRCs) > 0 {
			c.ISRC = rec.ISRCs[0]
		}
		results = append(results, c)
	}
	return results
}

func joinArtistCredits(credits []artistCredit) string {
	var parts []string
	for _, ac := range credits {
		parts = append(parts, ac.Artist.Name)
	}
	return strings.Join(parts, ", ")
}

// MusicBrainz API response types

type searchResponse struct {
	Recordings []recording `json:"recordings"`
}

type recording struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Length       int            `json:"length"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	ISRCs        []string       `json:"isrcs"`
}

type artistCredit struct {
	Artist artistInfo `json:"artist"`
}

type artistInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
