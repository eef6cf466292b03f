package discovery

import (
	"strings"
	"unicode"

	"songlisten/internal/track"
)

// Confidence weights. Duration is a plausibility check, not a match: songs
// between one and twelve minutes score full marks, everything else (and
// unknown) scores neutral.
const (
	titleWeight    = 0.50
	artistWeight   = 0.30
	durationWeight = 0.20

	plausibleMinSec = 60
	plausibleMaxSec = 720
)

// Score computes the confidence (0.0-1.0) of a candidate against the
// parsed query guesses.
func Score(q track.Query, c track.Candidate) float64 {
	titleScore := similarity(normalize(q.TitleGuess), normalize(c.Title))

	// Without an artist guess the artist term is neutral rather than a
	// penalty: "good news" alone should not punish every candidate.
	artistScore := 0.5
	if q.ArtistGuess != "" {
		artistScore = similarity(normalize(q.ArtistGuess), normalize(c.Artist))
	}

	durationScore := 0.5
	if c.DurationSec >= plausibleMinSec && c.DurationSec <= plausibleMaxSec {
		durationScore = 1.0
	}

	s := titleScore*titleWeight + artistScore*artistWeight + durationScore*durationWeight
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// similarity returns how similar two strings are (0.0-1.0).
// Uses both token overlap and compact string comparison to handle cases
// like "theweeknd" vs "the weeknd".
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	compactA := strings.ReplaceAll(a, " ", "")
	compactB := strings.ReplaceAll(b, " ", "")
	if compactA == compactB {
		return 1.0
	}

	tokensA := tokenize(a)
	tokensB := tokenize(b)

	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0.0
	}

	setB := make(map[string]bool, len(tokensB))
	for _, t := range tokensB {
		setB[t] = true
	}

	matches := 0
	for _, t := range tokensA {
		if setB[t] {
			matches++
		}
	}

	maxLen := len(tokensA)
	if len(tokensB) > maxLen {
		maxLen = len(tokensB)
	}
	return float64(matches) / float64(maxLen)
}

// normalize lowercases and strips non-alphanumeric characters for comparison.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenize splits a string into lowercase tokens.
func tokenize(s string) []string {
	fields := strings.Fields(s)
	var result []string
	for _, f := range fields {
		if f != "" {
			result = append(result, f)
		}
	}
	return result
}
