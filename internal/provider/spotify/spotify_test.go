package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"songlisten/internal/track"
)

func TestSearch(t *testing.T) {
	// Mock Spotify API
	mux := http.NewServeMux()

	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token: expected POST, got %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "test-id" || pass != "test-secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "test-token",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	})

	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, "missing q", http.StatusBadRequest)
			return
		}

		resp := searchResponse{}
		resp.Tracks.Items = []trackItem{
			{
				ID:          "0VjIjW4GlUZAMYd2vXMi3b",
				Name:        "Blinding Lights",
				Artists:     []artist{{Name: "The Weeknd"}},
				DurationMs:  200040,
				ExternalIDs: externalID{ISRC: "USUG12000497"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := New("test-id", "test-secret")
	client.tokenURL = server.URL + "/api/token"
	client.apiURL = server.URL + "/v1"

	results, err := client.Search(context.Background(), track.Query{
		TitleGuess:  "Blinding Lights",
		ArtistGuess: "The Weeknd",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	r := results[0]
	if r.Provider != "spotify" || r.ID != "0VjIjW4GlUZAMYd2vXMi3b" {
		t.Errorf("identity = %q", r.Identity())
	}
	if r.Title != "Blinding Lights" {
		t.Errorf("title = %q, want %q", r.Title, "Blinding Lights")
	}
	if r.Artist != "The Weeknd" {
		t.Errorf("artist = %q, want %q", r.Artist, "The Weeknd")
	}
	if r.DurationSec != 200 {
		t.Errorf("duration = %d, want 200", r.DurationSec)
	}
	if r.ISRC != "USUG12000497" {
		t.Errorf("isrc = %q, want %q", r.ISRC, "USUG12000497")
	}
	if r.Retrievable {
		t.Error("spotify candidates must not be retrievable")
	}
	if r.URL != "https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b" {
		t.Errorf("url = %q", r.URL)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	client := New("id", "secret")
	results, err := client.Search(context.Background(), track.Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for empty query, got %d", len(results))
	}
}

func TestSearchAuthFailureIsTransport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := New("id", "wrong")
	client.tokenURL = server.URL + "/api/token"
	client.apiURL = server.URL + "/v1"

	_, err := client.Search(context.Background(), track.Query{TitleGuess: "a"})
	if !track.IsTransport(err) {
		t.Fatalf("auth failure should be a transport failure, got %v", err)
	}
}

func TestTokenCaching(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()

	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "cached-token",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	})

	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		resp := searchResponse{}
		json.NewEncoder(w).Encode(resp)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := New("id", "secret")
	client.tokenURL = server.URL + "/api/token"
	client.apiURL = server.URL + "/v1"

	// Two searches should only call token endpoint once
	client.Search(context.Background(), track.Query{TitleGuess: "a"})
	client.Search(context.Background(), track.Query{TitleGuess: "b"})

	if tokenCalls != 1 {
		t.Errorf("expected 1 token call, got %d", tokenCalls)
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name          string
		title, artist string
		want          string
	}{
		{
			name:   "title and artist",
			title:  "Blinding Lights",
			artist: "The Weeknd",
			want:   "track:Blinding Lights artist:The Weeknd",
		},
		{
			name:  "title only",
			title: "Blinding Lights",
			want:  "track:Blinding Lights",
		},
		{
			name: "empty",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.title, tt.artist)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
