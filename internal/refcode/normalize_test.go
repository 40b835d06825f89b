package refcode

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"META_Climate_2024", "metaclimate2024"},
		{"  fb-housing  ", "fbhousing"},
		{"email_gotv!", "emailgotv"},
		{"___", ""},
		{"", ""},
		{"ABC123", "abc123"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Meta_Climate-2024  launch")
	want := []string{"meta", "climate", "2024", "launch"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}

	if toks := Tokenize("___"); len(toks) != 0 {
		t.Errorf("expected no tokens for separators only, got %v", toks)
	}
}
