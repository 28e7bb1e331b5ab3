package score

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  spaced   out  ", "spaced out"},
		{"well-known fact.", "well known fact"},
		{"Numbers 3 and 5", "numbers 3 and 5"},
		{"", ""},
		{"?!.,;", ""},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCompare_PerfectMatch(t *testing.T) {
	r := Compare("Hello world. How are you?", "hello world how are you")
	if r.CharErrorRate != 0 {
		t.Errorf("CharErrorRate = %f, want 0", r.CharErrorRate)
	}
	if r.Similarity != 1 {
		t.Errorf("Similarity = %f, want 1", r.Similarity)
	}
}

func TestCompare_SingleSubstitution(t *testing.T) {
	r := Compare("the cat sat", "the bat sat")
	// One substituted character over an 11-character reference.
	want := 1.0 / 11.0
	if math.Abs(r.CharErrorRate-want) > 1e-9 {
		t.Errorf("CharErrorRate = %f, want %f", r.CharErrorRate, want)
	}
	if r.Similarity <= 0.8 || r.Similarity >= 1 {
		t.Errorf("Similarity = %f, want high but below 1", r.Similarity)
	}
}

func TestCompare_EmptyReference(t *testing.T) {
	r := Compare("anything at all", "")
	if r.CharErrorRate != 0 || r.Similarity != 0 {
		t.Errorf("Report = %+v, want zero scores", r)
	}
	if r.OutChars == 0 {
		t.Error("OutChars should reflect the transcript length")
	}
}

func TestCompare_EmptyTranscript(t *testing.T) {
	r := Compare("", "hello world")
	// Every reference character is missing.
	if r.CharErrorRate != 1 {
		t.Errorf("CharErrorRate = %f, want 1", r.CharErrorRate)
	}
}
