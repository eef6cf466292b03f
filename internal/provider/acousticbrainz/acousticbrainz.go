package acousticbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"songlisten/internal/track"
)

// Client reads precomputed analysis documents from the AcousticBrainz
// archive. The archive is keyed by recording MBID; many recordings have
// no document at all, which is absence rather than failure.
type Client struct {
	httpClient *http.Client
	apiURL     string
}

// New creates a new AcousticBrainz client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://acousticbrainz.org/api/v1",
	}
}

func (c *Client) Name() string { return "acousticbrainz" }

// LowLevel fetches the low-level document for a recording. A missing
// document returns (nil, nil).
func (c *Client) LowLevel(ctx context.Context, mbid string) (*LowLevel, error) {
	var doc LowLevel
	ok, err := c.getDocument(ctx, mbid, "low-level", &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc, nil
}

// HighLevel fetches the high-level classifier document for a recording.
// A missing document returns (nil, nil).
func (c *Client) HighLevel(ctx context.Context, mbid string) (*HighLevel, error) {
	var doc HighLevel
	ok, err := c.getDocument(ctx, mbid, "high-level", &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) getDocument(ctx context.Context, mbid, kind string, out interface{}) (bool, error) {
	reqURL := fmt.Sprintf("%s/%s/%s?n=0", c.apiURL, url.PathEscape(mbid), kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create acousticbrainz request: %w", err)
	}
	req.Header.Set("User-Agent", "songlisten/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, track.Transport("acousticbrainz", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, track.Transport("acousticbrainz", kind,
			fmt.Errorf("acousticbrainz returned %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode acousticbrainz %s document: %w", kind, err)
	}
	return true, nil
}

// LowLevel is the subset of a low-level document the descriptor path
// consumes. Optional numbers are pointers so absence survives decoding.
type LowLevel struct {
	Rhythm struct {
		BPM *float64 `json:"bpm"`
	} `json:"rhythm"`
	Tonal struct {
		KeyKey   string `json:"key_key"`
		KeyScale string `json:"key_scale"`
	} `json:"tonal"`
	Lowlevel struct {
		AverageLoudness *float64 `json:"average_loudness"`
		LoudnessEBU128  struct {
			Integrated *float64 `json:"integrated"`
		} `json:"loudness_ebu128"`
		SpectralCentroid   stat `json:"spectral_centroid"`
		SpectralComplexity stat `json:"spectral_complexity"`
	} `json:"lowlevel"`
}

type stat struct {
	Mean *float64 `json:"mean"`
}

// HighLevel is the subset of a high-level document the descriptor path
// consumes. Classifier outputs are probability maps keyed by class name.
type HighLevel struct {
	Highlevel struct {
		MoodParty         classifier `json:"mood_party"`
		Danceability      classifier `json:"danceability"`
		MoodAcoustic      classifier `json:"mood_acoustic"`
		VoiceInstrumental classifier `json:"voice_instrumental"`
	} `json:"highlevel"`
}

type classifier struct {
	All map[string]float64 `json:"all"`
}

// Prob returns the probability for a class, reporting presence.
func (c classifier) Prob(class string) (float64, bool) {
	v, ok := c.All[class]
	return v, ok
}
