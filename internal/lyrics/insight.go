package lyrics

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"songlisten/internal/cache"
	"songlisten/internal/logger"
	"songlisten/internal/track"
)

// Theme keywords are substring-matched against the lowercased text, in
// a fixed order so results are deterministic.
var themeKeywords = []struct {
	theme string
	keys  []string
}{
	{"love", []string{"love", "heart", "kiss", "romance", "darling"}},
	{"loss", []string{"gone", "leave", "lost", "grief", "empty", "alone"}},
	{"hope", []string{"rise", "light", "tomorrow", "heal", "hold on"}},
	{"pain", []string{"hurt", "bleed", "broken", "cry", "wound"}},
	{"freedom", []string{"free", "escape", "wings", "open road", "fly"}},
	{"identity", []string{"who am i", "myself", "name", "mirror", "be me"}},
}

var (
	positiveWords = wordSet("love", "hope", "alive", "shine", "joy", "dream", "heal", "peace", "smile")
	negativeWords = wordSet("pain", "hurt", "lost", "alone", "dark", "broken", "cry", "fear", "empty")
)

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

var wordPattern = regexp.MustCompile(`[a-z']+`)

func tokenizeWords(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// Analyzer derives insight from lyric evidence, cached by text digest.
type Analyzer struct {
	store *cache.Store
	log   *logger.Logger
}

// NewAnalyzer creates an insight analyzer.
func NewAnalyzer(store *cache.Store, log *logger.Logger) *Analyzer {
	return &Analyzer{store: store, log: log}
}

// Analyze produces insight for the evidence, or nil when there is no
// usable text.
func (a *Analyzer) Analyze(ev *track.LyricEvidence) *track.LyricInsight {
	if ev.Unavailable() {
		return nil
	}

	key := cache.InsightKey(ev.Text)
	var cached track.LyricInsight
	if ok, err := a.store.GetJSON(cache.KindResult, key, &cached); err != nil {
		a.log.Warn("insight cache read failed: %v", err)
	} else if ok {
		return &cached
	}

	insight := analyzeText(ev.Text)
	if err := a.store.PutJSON(cache.KindResult, key, insight); err != nil {
		a.log.Warn("insight cache write failed: %v", err)
	}
	return insight
}

// analyzeText runs the keyword heuristics over lyric text.
func analyzeText(text string) *track.LyricInsight {
	themes := extractThemes(text)
	polarity, intensity := polarityIntensity(text)
	evidence := pickEvidenceLines(text, 3)

	lengthFactor := math.Min(1.0, float64(utf8.RuneCountInString(text))/1200.0)
	signalFactor := 0.9
	if polarity == "neutral" || polarity == "mixed" {
		signalFactor = 0.75
	}
	confidence := round3(math.Max(0.2, math.Min(1.0, lengthFactor*signalFactor)))

	lead := themes
	if len(lead) > 2 {
		lead = lead[:2]
	}
	summary := fmt.Sprintf(
		"The lyrics feel %s, centered on %s. Emotional intensity reads around %.2f with confidence %.2f.",
		polarity, strings.Join(lead, ", "), intensity, confidence)

	return &track.LyricInsight{
		Themes:        themes,
		Polarity:      polarity,
		Intensity:     intensity,
		Confidence:    confidence,
		EvidenceLines: evidence,
		Summary:       summary,
	}
}

func extractThemes(text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, tk := range themeKeywords {
		for _, k := range tk.keys {
			if strings.Contains(lower, k) {
				hits = append(hits, tk.theme)
				break
			}
		}
	}
	if len(hits) > 0 {
		if len(hits) > 3 {
			hits = hits[:3]
		}
		return hits
	}

	// No theme keyword matched; fall back to the most frequent long words.
	words := tokenizeWords(text)
	counts := make(map[string]int, len(words))
	order := make(map[string]int, len(words))
	for i, w := range words {
		if _, seen := counts[w]; !seen {
			order[w] = i
		}
		counts[w]++
	}
	unique := make([]string, 0, len(counts))
	for w := range counts {
		unique = append(unique, w)
	}
	sort.Slice(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		return order[unique[i]] < order[unique[j]]
	})
	if len(unique) > 3 {
		unique = unique[:3]
	}
	var fallback []string
	for _, w := range unique {
		if utf8.RuneCountInString(w) > 4 {
			fallback = append(fallback, w)
		}
	}
	if len(fallback) == 0 {
		return []string{"reflection"}
	}
	return fallback
}

func polarityIntensity(text string) (string, float64) {
	words := tokenizeWords(text)
	if len(words) == 0 {
		return "neutral", 0
	}
	pos, neg := 0, 0
	for _, w := range words {
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}
	total := pos + neg
	if total < 1 {
		total = 1
	}
	intensity := round3(math.Min(1.0, float64(total)/math.Max(12.0, float64(len(words))/8.0)))

	switch {
	case pos == 0 && neg == 0:
		return "neutral", intensity
	case abs(pos-neg) <= 1:
		return "mixed", intensity
	case pos > neg:
		return "positive", intensity
	default:
		return "negative", intensity
	}
}

// pickEvidenceLines keeps the lines with the most sentiment-bearing
// words, up to limit. Lines of fewer than three words never qualify;
// if nothing qualifies, leading lines stand in.
func pickEvidenceLines(text string, limit int) []string {
	var rawLines []string
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			rawLines = append(rawLines, s)
		}
	}
	if len(rawLines) == 0 {
		return nil
	}

	type scoredLine struct {
		score int
		line  string
	}
	var lines []scoredLine
	for _, line := range rawLines {
		words := tokenizeWords(line)
		if len(words) < 3 {
			continue
		}
		s := 0
		for _, w := range words {
			if positiveWords[w] {
				s++
			}
			if negativeWords[w] {
				s++
			}
		}
		lines = append(lines, scoredLine{score: s, line: clipRunes(line, 160)})
	}
	if len(lines) == 0 {
		if len(rawLines) > limit {
			rawLines = rawLines[:limit]
		}
		return rawLines
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].score > lines[j].score })
	if len(lines) > limit {
		lines = lines[:limit]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.line
	}
	return out
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
