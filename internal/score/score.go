// Package score compares a produced transcript against a reference text.
// Used by the offline harness to rank transcription strategies against a
// known recording.
//
// Both inputs are normalised before comparison — lowercased, punctuation
// stripped, whitespace collapsed — because the engine's output differs from
// a human reference in exactly those dimensions without being wrong.
package score

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Report holds the comparison results for one transcript.
type Report struct {
	// CharErrorRate is the Levenshtein distance between the normalised
	// strings divided by the reference length. Zero is a perfect match;
	// values above 1 are possible for wildly diverging lengths.
	CharErrorRate float64

	// Similarity is the Jaro-Winkler similarity of the normalised strings,
	// in [0, 1].
	Similarity float64

	// RefChars and OutChars are the normalised lengths, for context in
	// summaries.
	RefChars int
	OutChars int
}

// Compare scores transcript against reference. An empty reference yields a
// zero Report.
func Compare(transcript, reference string) Report {
	out := Normalize(transcript)
	ref := Normalize(reference)
	if len(ref) == 0 {
		return Report{OutChars: len(out)}
	}

	dist := matchr.Levenshtein(out, ref)
	return Report{
		CharErrorRate: float64(dist) / float64(len(ref)),
		Similarity:    matchr.JaroWinkler(out, ref, false),
		RefChars:      len(ref),
		OutChars:      len(out),
	}
}

// Normalize lowercases s, drops everything but letters, digits, and spaces,
// and collapses whitespace runs to single spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-':
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}
