// Package asr defines the Transcriber interface for remote speech-recognition
// backends.
//
// A Transcriber wraps a batch ASR service: given a window of audio samples it
// returns the transcript of everything in that window, plus an unordered set
// of token timestamps mapping byte offsets in the transcript to positions in
// the audio. The service re-transcribes from scratch on every call, so
// consecutive results for overlapping windows are independent strings —
// reconciling them is the caller's job (see internal/stabilize).
//
// Implementations must be safe for concurrent use, though the session
// scheduler guarantees at most one outstanding call per session.
package asr

import "context"

// TokenTimestamp maps a byte offset in the transcript text to a position in
// the transcribed audio. Entries carry no ordering guarantee: services may
// emit them out of byte order, and the audio positions themselves are not
// monotonic in practice.
type TokenTimestamp struct {
	// ByteOffset is the byte index into Result.Text where the token starts.
	// Offsets past the end of Text are possible and must be tolerated.
	ByteOffset int

	// AudioMS is the token's estimated position in the audio window, in
	// milliseconds from the start of the window.
	AudioMS int
}

// Perf carries server-side timing for one transcription call, when the
// service reports it. All fields may be zero.
type Perf struct {
	// TotalMS is the total server-side processing time in milliseconds.
	TotalMS float64

	// AudioMS is the duration of the submitted audio in milliseconds.
	AudioMS float64

	// EncodeMS and DecodeMS split TotalMS into model encode and decode time.
	EncodeMS float64
	DecodeMS float64
}

// Result is the outcome of one transcription round trip.
type Result struct {
	// Text is the UTF-8 transcript of the submitted audio window. May be
	// empty when the window contains no recognisable speech.
	Text string

	// Timestamps holds the per-token audio timestamps, unordered. May be nil
	// when the service does not report them.
	Timestamps []TokenTimestamp

	// Perf holds server-side timing, when reported.
	Perf Perf
}

// Request describes one transcription call.
type Request struct {
	// Samples is the audio window as float32 PCM in [-1, 1], mono.
	Samples []float32

	// SampleRate is the sample rate of Samples in Hz.
	SampleRate int

	// Prompt is an optional bias string — typically the last committed
	// sentence — that steers the service toward consistent continuations.
	Prompt string

	// Final marks the terminal call of a session. Services may use it to
	// disable speculative decoding shortcuts; the flag is also carried back
	// to the caller's result handling.
	Final bool
}

// Transcriber is the abstraction over the remote ASR service.
//
// Transcribe blocks for the full network round trip; the context governs
// cancellation and timeout. A nil-result, non-nil-error return means the
// round trip failed entirely (transport failure) — callers treat that the
// same as an empty transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
