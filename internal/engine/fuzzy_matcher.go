package engine

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/scrypster/rollcall/pkg/types"
)

// Match is one scored fuzzy candidate.
type Match struct {
	Candidate string
	Index     int
	Score     float64
}

// EntryMatch is the best fuzzy score of a roster entry over its name and
// aliases.
type EntryMatch struct {
	Entry   types.RosterEntry
	Matched string
	Score   float64
}

// FuzzyMatcher scores name similarity independent of token order, case,
// punctuation and diacritics. It is stateless and safe for concurrent use.
type FuzzyMatcher struct{}

// NewFuzzyMatcher creates a new fuzzy matcher.
func NewFuzzyMatcher() *FuzzyMatcher {
	return &FuzzyMatcher{}
}

// Similarity returns a score in [0,1]: the larger of the token-sort and
// token-set ratios of the normalized inputs.
func (f *FuzzyMatcher) Similarity(a, b string) float64 {
	ta := strings.Fields(normalizeName(a))
	tb := strings.Fields(normalizeName(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	sortRatio := ratio(sortedJoin(ta), sortedJoin(tb))
	setRatio := tokenSetRatio(ta, tb)
	if setRatio > sortRatio {
		return setRatio
	}
	return sortRatio
}

// Rank scores query against every candidate, best first. Equal scores are
// ordered by candidate string, then by position.
func (f *FuzzyMatcher) Rank(query string, candidates []string) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		matches = append(matches, Match{Candidate: c, Index: i, Score: f.Similarity(query, c)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Candidate != matches[j].Candidate {
			return matches[i].Candidate < matches[j].Candidate
		}
		return matches[i].Index < matches[j].Index
	})
	return matches
}

// BestMatch returns the top-ranked candidate. ok is false when there are no
// candidates.
func (f *FuzzyMatcher) BestMatch(query string, candidates []string) (Match, bool) {
	ranked := f.Rank(query, candidates)
	if len(ranked) == 0 {
		return Match{}, false
	}
	return ranked[0], true
}

// RankEntries scores query against each roster entry's name and aliases and
// keeps the best score per entry. Entries are returned best first; equal
// scores are ordered by email.
func (f *FuzzyMatcher) RankEntries(query string, roster []types.RosterEntry) []EntryMatch {
	out := make([]EntryMatch, 0, len(roster))
	for _, entry := range roster {
		best := EntryMatch{Entry: entry}
		names := append([]string{entry.Name}, entry.Aliases...)
		if m, ok := f.BestMatch(query, names); ok {
			best.Matched = m.Candidate
			best.Score = m.Score
		}
		out = append(out, best)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return strings.ToLower(out[i].Entry.Email) < strings.ToLower(out[j].Entry.Email)
	})
	return out
}

// normalizeName folds diacritics, lower-cases, turns punctuation into spaces
// and collapses whitespace.
func normalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// ratio is 1 - levenshtein(a,b)/max(len(a),len(b)) over runes.
func ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func sortedJoin(tokens []string) string {
	cp := append([]string(nil), tokens...)
	sort.Strings(cp)
	return strings.Join(cp, " ")
}

// tokenSetRatio compares the shared tokens against each side's full token
// set, so "Smith" against "John Smith" scores on the intersection.
func tokenSetRatio(a, b []string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	var common, onlyA, onlyB []string
	for t := range setA {
		if _, ok := setB[t]; ok {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if _, ok := setA[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	if len(common) == 0 {
		return ratio(sortedJoin(a), sortedJoin(b))
	}

	base := sortedJoin(common)
	withA := strings.TrimSpace(base + " " + sortedJoin(onlyA))
	withB := strings.TrimSpace(base + " " + sortedJoin(onlyB))

	best := ratio(base, withA)
	if r := ratio(base, withB); r > best {
		best = r
	}
	if r := ratio(withA, withB); r > best {
		best = r
	}
	return best
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
