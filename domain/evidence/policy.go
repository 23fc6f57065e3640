package evidence

import (
	"fmt"
	"sort"
	"strings"

	"healthloop/domain/core"
)

// ClaimPolicy bounds the language allowed for a grade
type ClaimPolicy struct {
	Grade              Grade    `json:"grade"`
	MaxStrength        Strength `json:"max_strength"`
	AllowedVerbs       []string `json:"allowed_verbs"`
	RequiresDisclosure bool     `json:"requires_disclosure"`
	Disclosure         string   `json:"disclosure,omitempty"`
}

var maxStrength = map[Grade]Strength{
	GradeA: StrengthStrong,
	GradeB: StrengthModerate,
	GradeC: StrengthTentative,
	GradeD: StrengthTentative,
}

var disclosures = map[Grade]string{
	GradeB: "(preliminary)",
	GradeC: "(uncertain)",
	GradeD: "(limited evidence)",
}

// PolicyFor returns the claim policy for a grade. Unknown grades get the
// most restrictive policy.
func PolicyFor(g Grade) ClaimPolicy {
	if g.Rank() == 0 {
		g = GradeD
	}
	limit := maxStrength[g]
	var verbs []string
	for _, t := range Lexicon {
		if t.Strength <= limit {
			verbs = append(verbs, t.Phrase)
		}
	}
	sort.Strings(verbs)
	d, hedge := disclosures[g]
	return ClaimPolicy{
		Grade:              g,
		MaxStrength:        limit,
		AllowedVerbs:       verbs,
		RequiresDisclosure: hedge,
		Disclosure:         d,
	}
}

// ClaimViolation describes why a piece of text exceeds its grade
type ClaimViolation struct {
	Grade             Grade
	Terms             []Term
	MissingDisclosure bool
}

func (v *ClaimViolation) Error() string {
	var parts []string
	for _, t := range v.Terms {
		parts = append(parts, fmt.Sprintf("%q (strength %d)", t.Phrase, t.Strength))
	}
	msg := fmt.Sprintf("claim exceeds grade %s", v.Grade)
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, ", ")
	}
	if v.MissingDisclosure {
		msg += "; missing uncertainty disclosure"
	}
	return msg
}

func (v *ClaimViolation) Unwrap() error {
	return core.ErrClaimPolicyViolation
}

// Validate checks text against the claim policy of a grade. Text that fails
// must be discarded by the caller.
func Validate(text string, g Grade) error {
	policy := PolicyFor(g)
	terms := Scan(text)

	v := &ClaimViolation{Grade: policy.Grade}
	for _, t := range terms {
		if t.Strength > policy.MaxStrength {
			v.Terms = append(v.Terms, t)
		}
	}
	if policy.RequiresDisclosure && !hasHedge(text, terms) {
		v.MissingDisclosure = true
	}
	if len(v.Terms) == 0 && !v.MissingDisclosure {
		return nil
	}
	return v
}

// ClaimDirection is the direction of the relationship being described
type ClaimDirection string

const (
	ClaimIncrease ClaimDirection = "increase"
	ClaimDecrease ClaimDirection = "decrease"
	ClaimNeutral  ClaimDirection = "neutral"
)

// SuggestPhrase renders a deterministic phrase that fits the grade. The
// phrase is validated before it is returned.
func SuggestPhrase(direction ClaimDirection, metric core.MetricKey, g Grade) (string, error) {
	policy := PolicyFor(g)

	var verb string
	switch policy.MaxStrength {
	case StrengthStrong:
		switch direction {
		case ClaimIncrease:
			verb = "increases"
		case ClaimDecrease:
			verb = "decreases"
		default:
			verb = "is associated with"
		}
	case StrengthModerate:
		switch direction {
		case ClaimIncrease:
			verb = "appears to raise"
		case ClaimDecrease:
			verb = "appears to lower"
		default:
			verb = "is associated with"
		}
	default:
		switch direction {
		case ClaimIncrease:
			verb = "might raise"
		case ClaimDecrease:
			verb = "might lower"
		default:
			verb = "might be linked to"
		}
	}

	phrase := verb + " " + strings.ReplaceAll(metric.String(), "_", " ")
	if policy.RequiresDisclosure {
		phrase += " " + policy.Disclosure
	}
	if err := Validate(phrase, policy.Grade); err != nil {
		return "", err
	}
	return phrase, nil
}
