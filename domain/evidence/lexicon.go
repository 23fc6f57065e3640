package evidence

import (
	"regexp"
	"sort"
	"strings"
)

// Strength of a claim term. StrengthCausal is never allowed at any grade.
type Strength int

const (
	StrengthTentative Strength = 1
	StrengthModerate  Strength = 2
	StrengthStrong    Strength = 3
	StrengthCausal    Strength = 4
)

// Term is one lexicon entry
type Term struct {
	Phrase   string   `json:"phrase"`
	Strength Strength `json:"strength"`
}

// Lexicon is the vocabulary of claim terms the validator recognises
var Lexicon = []Term{
	{"causes", StrengthCausal},
	{"caused by", StrengthCausal},
	{"proves", StrengthCausal},
	{"guarantees", StrengthCausal},
	{"ensures", StrengthCausal},
	{"cures", StrengthCausal},
	{"definitely", StrengthCausal},

	{"improves", StrengthStrong},
	{"increases", StrengthStrong},
	{"decreases", StrengthStrong},
	{"reduces", StrengthStrong},
	{"enhances", StrengthStrong},
	{"significantly", StrengthStrong},
	{"consistently", StrengthStrong},
	{"reliably", StrengthStrong},

	{"appears to", StrengthModerate},
	{"tends to", StrengthModerate},
	{"likely", StrengthModerate},
	{"probably", StrengthModerate},
	{"suggests", StrengthModerate},
	{"is associated with", StrengthModerate},

	{"might", StrengthTentative},
	{"may", StrengthTentative},
	{"could", StrengthTentative},
	{"possibly", StrengthTentative},
	{"potentially", StrengthTentative},
}

// hedges satisfy a disclosure requirement on their own
var hedges = []string{"uncertain", "unclear", "inconclusive", "preliminary", "limited evidence"}

type matcher struct {
	term Term
	re   *regexp.Regexp
}

var matchers = buildMatchers(Lexicon)

// Longer phrases are matched first so that a multi-word term is not also
// counted through one of its words.
func buildMatchers(terms []Term) []matcher {
	sorted := make([]Term, len(terms))
	copy(sorted, terms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Phrase) > len(sorted[j].Phrase)
	})
	out := make([]matcher, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, matcher{
			term: t,
			re:   regexp.MustCompile(`\b` + regexp.QuoteMeta(t.Phrase) + `\b`),
		})
	}
	return out
}

// Scan returns the lexicon terms present in text, longest match first
func Scan(text string) []Term {
	buf := strings.ToLower(text)
	var found []Term
	for _, m := range matchers {
		locs := m.re.FindAllStringIndex(buf, -1)
		if len(locs) == 0 {
			continue
		}
		found = append(found, m.term)
		for _, loc := range locs {
			buf = buf[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + buf[loc[1]:]
		}
	}
	return found
}

func hasHedge(text string, terms []Term) bool {
	for _, t := range terms {
		if t.Strength <= StrengthModerate {
			return true
		}
	}
	lower := strings.ToLower(text)
	for _, h := range hedges {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}
