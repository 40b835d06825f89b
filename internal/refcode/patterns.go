package refcode

import (
	"regexp"
	"strings"
)

// Pattern recognizes one channel's refcode naming convention and extracts
// the topic token plus an optional four-digit year.
type Pattern struct {
	Name string
	Base float64
	re   *regexp.Regexp
}

// PatternHit is the extraction result of a matched pattern.
type PatternHit struct {
	Pattern string
	Topic   string
	Year    string
	Base    float64
}

// patterns is the channel-prefix library. Base confidences sit in the
// 0.75-0.85 band so pattern matches always rank below exact matches and
// above fuzzy matches.
var patterns = []Pattern{
	{Name: "meta_topic_year", Base: 0.85, re: regexp.MustCompile(`^meta[_-]([a-z0-9]+)[_-](20\d{2})$`)},
	{Name: "meta_topic", Base: 0.80, re: regexp.MustCompile(`^meta[_-]([a-z0-9]+)$`)},
	{Name: "fb_topic", Base: 0.80, re: regexp.MustCompile(`^fb[_-]([a-z0-9]+)(?:[_-](20\d{2}))?$`)},
	{Name: "sms_topic", Base: 0.75, re: regexp.MustCompile(`^sms[_-]([a-z0-9]+)(?:[_-](20\d{2}))?$`)},
	{Name: "email_topic", Base: 0.75, re: regexp.MustCompile(`^email[_-]([a-z0-9]+)(?:[_-](20\d{2}))?$`)},
	{Name: "goog_topic", Base: 0.80, re: regexp.MustCompile(`^goog(?:le)?[_-]([a-z0-9]+)(?:[_-](20\d{2}))?$`)},
}

// MatchPattern runs the refcode against the pattern library and returns the
// first hit, if any. Input is lowercased but separators are preserved since
// the conventions are underscore-delimited.
func MatchPattern(code string) (PatternHit, bool) {
	lowered := strings.ToLower(strings.TrimSpace(code))
	for _, p := range patterns {
		groups := p.re.FindStringSubmatch(lowered)
		if groups == nil {
			continue
		}
		hit := PatternHit{Pattern: p.Name, Topic: groups[1], Base: p.Base}
		if len(groups) > 2 {
			hit.Year = groups[2]
		}
		return hit, true
	}
	return PatternHit{}, false
}
