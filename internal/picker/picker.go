// Package picker ranks and filters release assets against the
// include/exclude pattern selection rules (§4.6), and offers "did you
// mean" suggestions when a configured pattern matches nothing.
package picker

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/meshtastic/fetchtastic/internal/fileops"
	"github.com/meshtastic/fetchtastic/internal/releases"
)

// Matches reports whether an asset's filename is selected: no include
// patterns means everything is selected; otherwise any include pattern
// must match (after version-token stripping), and no exclude pattern may
// match.
func Matches(name string, includePatterns, excludePatterns []string) bool {
	if len(excludePatterns) > 0 && fileops.MatchesAny(name, excludePatterns) {
		return false
	}
	if len(includePatterns) == 0 {
		return true
	}
	return fileops.MatchesAny(name, includePatterns)
}

// FilterAssets returns the subset of assets whose names match the
// selection rules.
func FilterAssets(assets []releases.Asset, includePatterns, excludePatterns []string) []releases.Asset {
	out := make([]releases.Asset, 0, len(assets))
	for _, a := range assets {
		if Matches(a.Name, includePatterns, excludePatterns) {
			out = append(out, a)
		}
	}
	return out
}

// Suggestion is a fuzzy-matched candidate asset name for a pattern that
// otherwise matched nothing, used to populate a "did you mean" hint in the
// CLI when a configured include pattern looks like a typo.
type Suggestion struct {
	Name  string
	Score int
}

// SuggestClosest returns up to limit asset names ranked by fuzzy closeness
// to pattern, for use when pattern matched no asset in the current
// release. Returns nil if assets is empty.
func SuggestClosest(pattern string, assets []releases.Asset, limit int) []Suggestion {
	if len(assets) == 0 {
		return nil
	}

	names := make([]string, len(assets))
	for i, a := range assets {
		names[i] = a.Name
	}

	matches := fuzzy.Find(pattern, names)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}

	out := make([]Suggestion, 0, limit)
	for _, m := range matches[:limit] {
		out = append(out, Suggestion{Name: m.Str, Score: m.Score})
	}
	return out
}

// WarnUnmatchedPatterns returns the subset of include patterns that
// matched no asset in the given set, each paired with its best fuzzy
// suggestion (if any), so callers can log a helpful warning instead of
// silently downloading nothing.
func WarnUnmatchedPatterns(patterns []string, assets []releases.Asset) map[string]string {
	unmatched := make(map[string]string)
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		matchedAny := false
		for _, a := range assets {
			if fileops.MatchesAny(a.Name, []string{p}) {
				matchedAny = true
				break
			}
		}
		if matchedAny {
			continue
		}
		suggestions := SuggestClosest(p, assets, 1)
		if len(suggestions) > 0 {
			unmatched[p] = suggestions[0].Name
		} else {
			unmatched[p] = ""
		}
	}
	return unmatched
}
