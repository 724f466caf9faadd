package chunk

import (
	"regexp"
	"sort"
	"strings"
)

// Keyword groups detecting each salience marker, case-insensitive and
// word-boundary anchored.
var (
	patternKeywords = []string{
		`\bpattern\b`,
		`\bdesign pattern\b`,
		`\barchitectural pattern\b`,
		`\bsolution pattern\b`,
		`\bapproach\b`,
		`\bstrategy\b`,
		`\barchitecture\b`,
	}
	workingSolutionKeywords = []string{
		`\bworking solution\b`,
		`\bproven implementation\b`,
		`\bsuccessful\b`,
		`\btested\b`,
		`\bverified\b`,
		`\bworks correctly\b`,
		`\bimplementation complete\b`,
		`\ball tests pass\b`,
	}
	waitingKeywords = []string{
		`\bwaiting\b`,
		`\bpending\b`,
		`\bto be completed\b`,
		`\bresume later\b`,
		`\bin progress\b`,
		`\bto do\b`,
		`\btodo\b`,
		`\bblocked\b`,
	}

	patternRegex         = regexp.MustCompile(`(?i)` + strings.Join(patternKeywords, "|"))
	workingSolutionRegex = regexp.MustCompile(`(?i)` + strings.Join(workingSolutionKeywords, "|"))
	waitingRegex         = regexp.MustCompile(`(?i)` + strings.Join(waitingKeywords, "|"))
)

// DetectMarkers returns the sorted set of salience markers present in
// text, per spec §4.2's "matched group names, sorted for determinism."
func DetectMarkers(text string) []Marker {
	var found []Marker
	if patternRegex.MatchString(text) {
		found = append(found, MarkerPattern)
	}
	if workingSolutionRegex.MatchString(text) {
		found = append(found, MarkerWorkingSolution)
	}
	if waitingRegex.MatchString(text) {
		found = append(found, MarkerWaiting)
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return found
}

// MarkerContext is a single occurrence of a marker with surrounding
// text, a supplemented inspection feature beyond the core chunker
// contract (see the CLI's `index info` command).
type MarkerContext struct {
	Marker   Marker
	Context  string
	Position int
}

const contextWindow = 100

// DetectMarkersWithContext returns every occurrence (not just
// presence) of each marker, with a window of surrounding text.
func DetectMarkersWithContext(text string) []MarkerContext {
	var out []MarkerContext
	collect := func(marker Marker, re *regexp.Regexp) {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			out = append(out, MarkerContext{
				Marker:   marker,
				Context:  extractContext(text, loc[0]),
				Position: loc[0],
			})
		}
	}
	collect(MarkerPattern, patternRegex)
	collect(MarkerWorkingSolution, workingSolutionRegex)
	collect(MarkerWaiting, waitingRegex)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func extractContext(text string, pos int) string {
	start := pos - contextWindow
	if start < 0 {
		start = 0
	}
	end := pos + contextWindow
	if end > len(text) {
		end = len(text)
	}
	ctx := strings.TrimSpace(text[start:end])
	if start > 0 {
		ctx = "..." + ctx
	}
	if end < len(text) {
		ctx = ctx + "..."
	}
	return ctx
}
