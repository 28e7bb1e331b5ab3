// Package stabilize implements the incremental transcript stabilization
// engine.
//
// The ASR service re-transcribes the whole audio window on every call, so
// consecutive results are independent strings: earlier words may be revised,
// sentences may grow or shrink, and hallucinations differ between passes. The
// engine reconciles each new result against the previous one, decides which
// prefix is trustworthy enough to freeze permanently, and computes how far
// the audio window may slide so committed audio is never re-sent.
//
// [State.Apply] is a pure state transition with no I/O and no clock: the same
// code path drives the live session loop (internal/session) and the offline
// replay harness (cmd/dictate-sim).
package stabilize

import (
	"strings"

	"github.com/rmtew/dictate/pkg/asr"
)

const (
	// resyncMinConfirm is the number of characters two transcripts must agree
	// on past a sentence-boundary resync point before the resync is trusted.
	resyncMinConfirm = 20

	// weakMinCommit is the minimum length of a committed segment ending at a
	// weak terminator (comma or semicolon).
	weakMinCommit = 30

	// weakMinRemain is the minimum confirmed text that must remain beyond a
	// weak boundary. Committing right at the edge of the agreed region is
	// where the next pass most often disagrees.
	weakMinRemain = 15
)

// CommitEvent is one finalized line plus the audio advance it corresponds to.
// Once emitted, the text is permanent: it is never revised or reordered.
type CommitEvent struct {
	// Text is the finalized line, trailing spaces trimmed. It may be empty
	// when a window slide carried no printable text; consumers apply Advance
	// but emit nothing.
	Text string

	// Advance is the number of audio samples the committed offset moves
	// forward. Zero on the final pass, which has no further window to slide.
	Advance int
}

// Outcome is the result of applying one transcription result to the engine.
type Outcome struct {
	// Commit is the newly finalized line, or nil when nothing was committed
	// this round.
	Commit *CommitEvent

	// Interim is the unconfirmed tail of the latest transcript. It fully
	// replaces whatever interim text was displayed before; empty means the
	// interim display should be cleared.
	Interim string
}

// State is the engine's memory between transcription calls. The zero value is
// not usable; construct with [New]. Not safe for concurrent use — callers
// are expected to apply results from a single goroutine.
type State struct {
	sampleRate int

	// prev is the last call's unconfirmed tail: transcript text not yet
	// anchored to committed audio.
	prev string

	// stableLen is the offset into the current call's result already folded
	// into a commit. Reset to zero whenever the window slides.
	stableLen int

	// divergeUnconfirmed latches after a total mismatch so that a single
	// noisy pass does not discard prev. See Apply.
	divergeUnconfirmed bool
}

// New creates an engine State for audio at the given sample rate. The rate is
// only used to convert timestamp milliseconds into sample counts.
func New(sampleRate int) *State {
	return &State{sampleRate: sampleRate}
}

// Reset clears all reconciliation state. Call at the start of a session.
func (s *State) Reset() {
	s.prev = ""
	s.stableLen = 0
	s.divergeUnconfirmed = false
}

// Pending returns the transcript text not yet committed: the previous
// result's unconfirmed tail. Used by the scheduler to promote the tail
// directly when a session stops with too little new audio for a final call.
func (s *State) Pending() string {
	return s.prev
}

// Apply reconciles one transcription result against the engine state.
// windowSamples is the size of the audio window the result was transcribed
// from; it feeds the proportional advance fallback when the service reports
// no timestamps. When final is true the boundary search is skipped and
// everything unconfirmed is committed — there is no future call to wait for.
//
// A nil result (failed round trip) is treated exactly like an empty
// transcript: no progress this round, state unchanged.
func (s *State) Apply(res *asr.Result, windowSamples int, final bool) Outcome {
	var text string
	if res != nil {
		text = res.Text
	}

	if final {
		return s.applyFinal(text)
	}
	if text == "" {
		return Outcome{}
	}

	common := fuzzyCommon(text, s.prev, 0, 0, 0)

	// Sentence-boundary resync: when the service rewrote an earlier sentence
	// the plain prefix scan stops there forever. If both strings have a
	// sentence end past the divergence and agree well beyond it, realign at
	// those sentence starts so the tail can still stabilize.
	if common < len(text) && common < len(s.prev) {
		sbA := nextSentenceStart(text, common)
		if sbA >= 0 && sbA < len(text) {
			sbB := nextSentenceStart(s.prev, common)
			if sbB >= 0 && sbB < len(s.prev) {
				syncCommon := fuzzyCommon(text, s.prev, sbA, sbB, sbA)
				if syncCommon-sbA >= resyncMinConfirm && syncCommon > common {
					common = syncCommon
				}
			}
		}
	}

	newStable, ok := commitBoundary(text, common, s.stableLen)

	var commit *CommitEvent
	didCommit := false
	if ok && newStable > s.stableLen {
		line := strings.TrimRight(text[s.stableLen:newStable], " ")
		advance := s.advanceSamples(res, newStable, windowSamples)

		if line != "" {
			commit = &CommitEvent{Text: line, Advance: advance}
		}

		// The window slides: the tail of this result is the baseline the
		// next comparison starts from.
		s.stableLen = 0
		if newStable < len(text) {
			s.prev = text[newStable:]
		} else {
			s.prev = ""
		}
		didCommit = true

		// Commit without emission (all-space segment) still advances the
		// window; surface it as a zero-text event so the caller can move the
		// committed offset.
		if commit == nil && advance > 0 {
			commit = &CommitEvent{Advance: advance}
		}
	}

	if !didCommit {
		// Total divergence hysteresis: a single pass sharing no prefix with
		// prev may be a hallucinated outlier. Keep prev for exactly one more
		// round before believing the replacement.
		fullDiverge := common == 0 && len(s.prev) > 0 && s.stableLen == 0
		if fullDiverge && !s.divergeUnconfirmed {
			s.divergeUnconfirmed = true
		} else {
			if common > 0 {
				s.divergeUnconfirmed = false
			}
			s.prev = text
		}
	}

	showFrom := s.stableLen
	if didCommit {
		showFrom = newStable
	}
	var interim string
	if showFrom < len(text) {
		interim = text[showFrom:]
	}

	return Outcome{Commit: commit, Interim: interim}
}

// applyFinal commits everything past stableLen unconditionally and resets the
// engine, so a repeated final pass with no new audio emits nothing further.
func (s *State) applyFinal(text string) Outcome {
	stable := s.stableLen
	s.prev = ""
	s.stableLen = 0
	s.divergeUnconfirmed = false

	if stable > len(text) {
		stable = len(text)
	}
	line := strings.TrimRight(text[stable:], " ")
	if line == "" {
		return Outcome{}
	}
	return Outcome{Commit: &CommitEvent{Text: line}}
}

// advanceSamples computes how many samples of audio the committed offset
// should move forward for a commit boundary at newStable.
//
// Preferred source: the token timestamp with the greatest audio position
// among all tokens starting before the boundary, converted to samples. When
// the service reported no timestamps at all, fall back to assuming uniform
// speech rate across the window: windowSamples * newStable / len(text).
func (s *State) advanceSamples(res *asr.Result, newStable, windowSamples int) int {
	if res != nil && len(res.Timestamps) > 0 {
		lastMS := 0
		for _, ts := range res.Timestamps {
			if ts.ByteOffset < newStable && ts.AudioMS > lastMS {
				lastMS = ts.AudioMS
			}
		}
		return int(int64(lastMS) * int64(s.sampleRate) / 1000)
	}
	if res != nil && len(res.Text) > 0 && windowSamples > 0 {
		return int(int64(windowSamples) * int64(newStable) / int64(len(res.Text)))
	}
	return 0
}

// fuzzyCommon walks a and b in lock-step from (ia, ib), case-insensitively
// and treating '-' as a space. common starts at init and tracks the index
// into a of the last agreed position. When both cursors sit on a space the
// position counts as agreed and any run of extra spaces or hyphens on either
// side is skipped, so pure whitespace and hyphenation wobble between passes
// does not end the scan. The walk stops at the first real character mismatch.
func fuzzyCommon(a, b string, ia, ib, init int) int {
	common := init
	for ia < len(a) && ib < len(b) {
		ca := foldByte(a[ia])
		cb := foldByte(b[ib])
		if ca == ' ' && cb == ' ' {
			common = ia
			ia++
			ib++
			for ia < len(a) && (a[ia] == ' ' || a[ia] == '-') {
				ia++
			}
			for ib < len(b) && (b[ib] == ' ' || b[ib] == '-') {
				ib++
			}
			continue
		}
		if ca != cb {
			break
		}
		common = ia + 1
		ia++
		ib++
	}
	return common
}

// foldByte lowercases ASCII letters and folds '-' to ' '. Multi-byte UTF-8
// sequences pass through unchanged, which keeps the comparison exact for
// non-ASCII text.
func foldByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	if c == '-' {
		return ' '
	}
	return c
}

// nextSentenceStart returns the index just past the first "terminator + space"
// pair at or after from, i.e. the start of the following sentence. Returns -1
// when no sentence end exists in s[from:].
func nextSentenceStart(s string, from int) int {
	for i := from; i < len(s)-1; i++ {
		if isStrongTerm(s[i]) && s[i+1] == ' ' {
			return i + 2
		}
	}
	return -1
}

// commitBoundary scans backward from the agreed prefix for the best place to
// freeze text. The nearest strong sentence terminator wins immediately; a
// weak terminator (comma, semicolon) is only a fallback, and only when the
// committed segment would be substantial and well clear of the noisy edge of
// agreement. Returns the boundary (just past the terminator and one
// following space) and whether one was found.
func commitBoundary(text string, common, stableLen int) (int, bool) {
	newStable := stableLen
	bestComma := -1
	for i := common - 1; i > stableLen; i-- {
		strong := isStrongTerm(text[i])
		weak := text[i] == ',' || text[i] == ';'
		if !strong && !weak {
			continue
		}
		// A terminator mid-word ("3.5", "a,b") is not a boundary.
		if i+1 < common && text[i+1] != ' ' {
			continue
		}
		boundary := i + 1
		if boundary < len(text) && text[boundary] == ' ' {
			boundary++
		}

		if strong {
			newStable = boundary
			break
		}
		if bestComma < 0 && boundary-stableLen >= weakMinCommit && common-boundary >= weakMinRemain {
			bestComma = boundary
		}
	}
	if newStable == stableLen && bestComma > stableLen {
		newStable = bestComma
	}
	return newStable, newStable > stableLen
}

// isStrongTerm reports whether c ends a sentence outright.
func isStrongTerm(c byte) bool {
	return c == '.' || c == '!' || c == '?' || c == ':'
}
