package itunes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"songlisten/internal/track"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "songlisten/1.0" {
			t.Errorf("unexpected User-Agent: %s", r.Header.Get("User-Agent"))
		}
		q := r.URL.Query()
		if q.Get("media") != "music" || q.Get("entity") != "song" {
			t.Errorf("unexpected search params: %s", r.URL.RawQuery)
		}
		if q.Get("term") != "Mac Miller Good News" {
			t.Errorf("term = %q, want %q", q.Get("term"), "Mac Miller Good News")
		}
		json.NewEncoder(w).Encode(searchResponse{
			ResultCount: 1,
			Results: []resultItem{
				{
					TrackID:         1495709475,
					TrackName:       "Good News",
					ArtistName:      "Mac Miller",
					TrackViewURL:    "https://music.apple.com/us/album/good-news/1495709470?i=1495709475",
					TrackTimeMillis: 342133,
				},
			},
		})
	}))
	defer srv.Close()

	c := New()
	c.apiURL = srv.URL

	results, err := c.Search(context.Background(), track.Query{
		TitleGuess:  "Good News",
		ArtistGuess: "Mac Miller",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	r := results[0]
	if r.Provider != "itunes" || r.ID != "1495709475" {
		t.Errorf("identity = %q, want itunes:1495709475", r.Identity())
	}
	if r.Title != "Good News" {
		t.Errorf("Title = %q, want %q", r.Title, "Good News")
	}
	if r.Artist != "Mac Miller" {
		t.Errorf("Artist = %q, want %q", r.Artist, "Mac Miller")
	}
	if r.DurationSec != 342 {
		t.Errorf("DurationSec = %d, want 342", r.DurationSec)
	}
	if r.Retrievable {
		t.Error("itunes candidates must not be retrievable")
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	c := New()
	results, err := c.Search(context.Background(), track.Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for empty query, got %d", len(results))
	}
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{ResultCount: 0})
	}))
	defer srv.Close()

	c := New()
	c.apiURL = srv.URL

	results, err := c.Search(context.Background(), track.Query{TitleGuess: "nonexistent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New()
	c.apiURL = srv.URL

	_, err := c.Search(context.Background(), track.Query{TitleGuess: "test"})
	if err == nil {
		t.Fatal("expected error for HTTP 429 response")
	}
	if !track.IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestParseResultsSkipsIncomplete(t *testing.T) {
	items := []resultItem{
		{TrackID: 0, TrackName: "No ID"},
		{TrackID: 7, TrackName: ""},
		{TrackID: 8, TrackName: "Kept", ArtistName: "Someone"},
	}
	results := parseResults(items)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "8" {
		t.Errorf("ID = %q, want %q", results[0].ID, "8")
	}
}
