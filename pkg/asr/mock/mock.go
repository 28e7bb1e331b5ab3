// Package mock provides a scripted asr.Transcriber for tests and offline
// drivers that must not touch the network.
package mock

import (
	"context"
	"sync"

	"github.com/rmtew/dictate/pkg/asr"
)

// Compile-time assertion that Transcriber implements asr.Transcriber.
var _ asr.Transcriber = (*Transcriber)(nil)

// Call records the request of one Transcribe invocation.
type Call struct {
	SampleCount int
	Prompt      string
	Final       bool
}

// Transcriber replays a scripted sequence of results. Each Transcribe call
// consumes the next script entry; when the script is exhausted the last entry
// repeats. An entry with a non-nil Err fails the call instead.
//
// Safe for concurrent use, though callers are expected to be single-flight.
type Transcriber struct {
	mu     sync.Mutex
	script []Step
	next   int
	calls  []Call
}

// Step is one scripted response.
type Step struct {
	Result *asr.Result
	Err    error
}

// New creates a Transcriber replaying the given steps in order.
func New(steps ...Step) *Transcriber {
	return &Transcriber{script: steps}
}

// Transcribe implements asr.Transcriber.
func (m *Transcriber) Transcribe(ctx context.Context, req asr.Request) (*asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{
		SampleCount: len(req.Samples),
		Prompt:      req.Prompt,
		Final:       req.Final,
	})

	if len(m.script) == 0 {
		return &asr.Result{}, nil
	}
	step := m.script[m.next]
	if m.next < len(m.script)-1 {
		m.next++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	// Copy so callers cannot mutate the script.
	res := *step.Result
	return &res, nil
}

// Calls returns a snapshot of all recorded requests.
func (m *Transcriber) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
