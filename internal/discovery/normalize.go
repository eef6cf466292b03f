package discovery

import (
	"regexp"
	"strings"

	"songlisten/internal/track"
)

// Leading intent phrases users type in front of the actual track.
var intentPrefixPattern = regexp.MustCompile(`(?i)^(please\s+)?(listen\s+to|play|put\s+on|queue\s+up)\s+`)

// Noise suffixes carried over from video titles pasted into queries.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*\(official\s+(music\s+)?video\)`),
	regexp.MustCompile(`(?i)\s*\(official\s+audio\)`),
	regexp.MustCompile(`(?i)\s*\(official\s+lyric\s+video\)`),
	regexp.MustCompile(`(?i)\s*\(official\s+visualizer\)`),
	regexp.MustCompile(`(?i)\s*\(lyrics?\)`),
	regexp.MustCompile(`(?i)\s*\(audio\)`),
	regexp.MustCompile(`(?i)\s*\(hd\)`),
	regexp.MustCompile(`(?i)\s*\(hq\)`),
	regexp.MustCompile(`(?i)\s*\(4k\)`),
	regexp.MustCompile(`(?i)\s*\(explicit\)`),
	regexp.MustCompile(`(?i)\s*\(clean\)`),
	regexp.MustCompile(`(?i)\s*\[official\s+(music\s+)?video\]`),
	regexp.MustCompile(`(?i)\s*\[official\s+audio\]`),
	regexp.MustCompile(`(?i)\s*\[lyrics?\]`),
	regexp.MustCompile(`(?i)\s*\[audio\]`),
	regexp.MustCompile(`(?i)\s*\[hd\]`),
	regexp.MustCompile(`(?i)\s*\[4k\]`),
	regexp.MustCompile(`(?i)\s*\[explicit\]`),
	regexp.MustCompile(`(?i)\s*\[clean\]`),
}

// Featuring credits are dropped from the title guess for cleaner matching.
var featuringPattern = regexp.MustCompile(`(?i)\s*[\(\[]?\s*(?:feat\.?|ft\.?|featuring)\s+[^\)\]]+[\)\]]?`)

// "Artist - Title" with plain, en or em dash.
var artistTitleSeparator = regexp.MustCompile(`^(.+?)\s*[-–—]\s*(.+)$`)

// "Title by Artist", the spoken form of a listen request.
var titleByArtistPattern = regexp.MustCompile(`(?i)^(.+?)\s+by\s+(.+)$`)

// ParseQuery builds a track.Query from free text: the normalized cache form
// plus heuristic title/artist guesses used for candidate scoring.
func ParseQuery(raw string) track.Query {
	q := track.Query{
		Raw:        raw,
		Normalized: strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(raw))), " "),
	}

	cleaned := strings.TrimSpace(raw)
	cleaned = intentPrefixPattern.ReplaceAllString(cleaned, "")
	for _, p := range noisePatterns {
		cleaned = p.ReplaceAllString(cleaned, "")
	}
	cleaned = featuringPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(cleaned, `"' `)

	if m := artistTitleSeparator.FindStringSubmatch(cleaned); m != nil {
		q.ArtistGuess = trimGuess(m[1])
		q.TitleGuess = trimGuess(m[2])
		return q
	}
	if m := titleByArtistPattern.FindStringSubmatch(cleaned); m != nil {
		q.TitleGuess = trimGuess(m[1])
		q.ArtistGuess = trimGuess(m[2])
		return q
	}

	q.TitleGuess = trimGuess(cleaned)
	return q
}

func trimGuess(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}
