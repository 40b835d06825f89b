// Package matcher resolves refcodes to advertising campaigns using exact,
// pattern, and fuzzy strategies in strict priority order.
package matcher

import (
	"fmt"
	"strings"

	"github.com/groundsignal/groundsignal/internal/attribution/domain"
	"github.com/groundsignal/groundsignal/internal/refcode"
)

const (
	fuzzyFloor      = 0.5
	fuzzyWeight     = 0.8
	fuzzyCap        = 0.75
	patternYearBump = 0.10
	patternCap      = 0.95
)

// Matcher maps a refcode to a campaign belonging to the same organization.
// The similarity heuristic is pluggable via refcode.Scorer.
type Matcher struct {
	scorer refcode.Scorer
}

func New(scorer refcode.Scorer) *Matcher {
	return &Matcher{scorer: scorer}
}

// Match runs the three tiers and returns the first non-empty result.
func (m *Matcher) Match(code string, campaigns []domain.CampaignRef) domain.Match {
	code = strings.TrimSpace(code)
	if code == "" || len(campaigns) == 0 {
		return domain.NoMatch("no refcode or no campaigns")
	}

	if match, ok := m.matchExact(code, campaigns); ok {
		return match
	}
	if match, ok := m.matchPattern(code, campaigns); ok {
		return match
	}
	if match, ok := m.matchFuzzy(code, campaigns); ok {
		return match
	}
	return domain.NoMatch("no strategy matched")
}

func (m *Matcher) matchExact(code string, campaigns []domain.CampaignRef) (domain.Match, bool) {
	normalized := refcode.Normalize(code)
	if normalized == "" {
		return domain.Match{}, false
	}
	for _, c := range campaigns {
		if refcode.Normalize(c.CampaignID) == normalized {
			return domain.Match{
				Campaign:   c,
				Confidence: 1.0,
				Method:     domain.MethodDirect,
				Reason:     "refcode equals campaign id",
			}, true
		}
	}
	return domain.Match{}, false
}

func (m *Matcher) matchPattern(code string, campaigns []domain.CampaignRef) (domain.Match, bool) {
	hit, ok := refcode.MatchPattern(code)
	if !ok {
		return domain.Match{}, false
	}
	for _, c := range campaigns {
		name := strings.ToLower(c.Name)
		if !strings.Contains(name, hit.Topic) {
			continue
		}
		confidence := hit.Base
		if hit.Year != "" && strings.Contains(name, hit.Year) {
			confidence += patternYearBump
			if confidence > patternCap {
				confidence = patternCap
			}
		}
		return domain.Match{
			Campaign:   c,
			Confidence: confidence,
			Method:     domain.MethodPattern,
			Reason:     fmt.Sprintf("pattern %s topic %q", hit.Pattern, hit.Topic),
		}, true
	}
	return domain.Match{}, false
}

func (m *Matcher) matchFuzzy(code string, campaigns []domain.CampaignRef) (domain.Match, bool) {
	best := domain.Match{}
	bestSimilarity := 0.0
	for _, c := range campaigns {
		similarity := m.scorer.Similarity(code, c.Name)
		if similarity <= bestSimilarity {
			continue
		}
		bestSimilarity = similarity
		best = domain.Match{
			Campaign: c,
			Method:   domain.MethodFuzzy,
			Reason:   fmt.Sprintf("word overlap %.2f with %q", similarity, c.Name),
		}
	}
	if bestSimilarity < fuzzyFloor {
		return domain.Match{}, false
	}
	// Fuzzy confidence is deliberately capped below pattern and exact tiers.
	confidence := bestSimilarity * fuzzyWeight
	if confidence > fuzzyCap {
		confidence = fuzzyCap
	}
	best.Confidence = confidence
	return best, true
}
