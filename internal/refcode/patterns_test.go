package refcode

import "testing"

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		code    string
		ok      bool
		pattern string
		topic   string
		year    string
		base    float64
	}{
		{"meta_climate_2024", true, "meta_topic_year", "climate", "2024", 0.85},
		{"META-Housing", true, "meta_topic", "housing", "", 0.80},
		{"fb_gotv_2022", true, "fb_topic", "gotv", "2022", 0.80},
		{"sms_turnout", true, "sms_topic", "turnout", "", 0.75},
		{"email_pledge_2023", true, "email_topic", "pledge", "2023", 0.75},
		{"google_search", true, "goog_topic", "search", "", 0.80},
		{"goog_brand", true, "goog_topic", "brand", "", 0.80},
		{"donate-now", false, "", "", "", 0},
		{"meta_climate_24", false, "", "", "", 0},
		{"", false, "", "", "", 0},
	}

	for _, tc := range cases {
		hit, ok := MatchPattern(tc.code)
		if ok != tc.ok {
			t.Errorf("MatchPattern(%q) ok = %v, want %v", tc.code, ok, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if hit.Pattern != tc.pattern || hit.Topic != tc.topic || hit.Year != tc.year || hit.Base != tc.base {
			t.Errorf("MatchPattern(%q) = %+v, want pattern=%s topic=%s year=%s base=%.2f",
				tc.code, hit, tc.pattern, tc.topic, tc.year, tc.base)
		}
	}
}
