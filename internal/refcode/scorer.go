package refcode

import "strings"

// Scorer measures how similar two free-text identifiers are, in [0,1].
// It is an interface so orchestration code never depends on a particular
// heuristic; swapping in an edit-distance or learned scorer only touches
// the constructor wiring.
type Scorer interface {
	Similarity(a, b string) float64
}

// WordOverlapScorer scores by shared word tokens. Exact normalized equality
// scores 1.0 and substring containment 0.8; otherwise exact word matches
// count 1 and partial word matches count 0.5, divided by the larger word
// count of the two strings. The ratio is clamped to 1.0 once at the end.
type WordOverlapScorer struct{}

func NewWordOverlapScorer() Scorer { return WordOverlapScorer{} }

func (WordOverlapScorer) Similarity(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}

	wordsA := Tokenize(a)
	wordsB := Tokenize(b)
	longer := len(wordsA)
	if len(wordsB) > longer {
		longer = len(wordsB)
	}
	if longer == 0 {
		return 0
	}

	score := 0.0
	for _, wa := range wordsA {
		for _, wb := range wordsB {
			if wa == wb {
				score += 1.0
				break
			}
			if len(wa) >= 3 && len(wb) >= 3 && (strings.Contains(wa, wb) || strings.Contains(wb, wa)) {
				score += 0.5
				break
			}
		}
	}

	similarity := score / float64(longer)
	if similarity > 1.0 {
		similarity = 1.0
	}
	return similarity
}
