package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rmtew/dictate/pkg/asr"
	"github.com/rmtew/dictate/pkg/asr/mock"
)

// recordingSink captures everything the session emits.
type recordingSink struct {
	mu       sync.Mutex
	commits  []string
	interims []string
}

func (r *recordingSink) CommitLine(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, text)
}

func (r *recordingSink) SetInterim(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interims = append(r.interims, text)
}

func (r *recordingSink) Commits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commits))
	copy(out, r.commits)
	return out
}

func (r *recordingSink) LastInterim() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.interims) == 0 {
		return ""
	}
	return r.interims[len(r.interims)-1]
}

func (r *recordingSink) SawInterim(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.interims {
		if s == text {
			return true
		}
	}
	return false
}

// gated wraps a scripted transcriber so tests can hold a call in flight.
type gated struct {
	inner   *mock.Transcriber
	entered chan struct{}
	release chan struct{}
}

func newGated(steps ...mock.Step) *gated {
	return &gated{
		inner:   mock.New(steps...),
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (g *gated) Transcribe(ctx context.Context, req asr.Request) (*asr.Result, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.Transcribe(ctx, req)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startSession builds a session with test-friendly timing, starts its loop,
// and begins a recording.
func startSession(t *testing.T, tr asr.Transcriber, sink Sink) *Session {
	t.Helper()
	s, err := New(Config{
		Transcriber:          tr,
		Sink:                 sink,
		SampleRate:           16000,
		RetranscribeInterval: 3 * time.Second,
		MinWindow:            time.Second,
		Tick:                 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	t.Cleanup(func() { _ = s.Close() })
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	return s
}

func TestNew_RequiresTranscriberAndSink(t *testing.T) {
	if _, err := New(Config{Sink: &recordingSink{}}); err == nil {
		t.Error("expected error for missing Transcriber")
	}
	if _, err := New(Config{Transcriber: mock.New()}); err == nil {
		t.Error("expected error for missing Sink")
	}
}

func TestSession_CommitFlow(t *testing.T) {
	tr := mock.New(
		mock.Step{Result: &asr.Result{Text: "I went to the store. I"}},
		mock.Step{Result: &asr.Result{
			Text: "I went to the store. I bought",
			Timestamps: []asr.TokenTimestamp{
				{ByteOffset: 0, AudioMS: 150},
				{ByteOffset: 20, AudioMS: 1400},
			},
		}},
		mock.Step{Result: &asr.Result{Text: "I bought milk today"}},
	)
	sink := &recordingSink{}
	s := startSession(t, tr, sink)

	// 3 s of audio triggers the first periodic pass.
	s.PushAudio(make([]float32, 48000))
	waitFor(t, "first pass", func() bool { return len(tr.Calls()) == 1 })
	waitFor(t, "first interim", func() bool {
		return sink.SawInterim("I went to the store. I")
	})

	// 3 s more triggers the second pass, which confirms the first sentence.
	s.PushAudio(make([]float32, 48000))
	waitFor(t, "second pass commit", func() bool { return len(sink.Commits()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	wantCommits := []string{"I went to the store.", "I bought milk today"}
	got := sink.Commits()
	if len(got) != len(wantCommits) {
		t.Fatalf("commits = %q, want %q", got, wantCommits)
	}
	for i := range wantCommits {
		if got[i] != wantCommits[i] {
			t.Errorf("commit[%d] = %q, want %q", i, got[i], wantCommits[i])
		}
	}
	if sink.LastInterim() != "" {
		t.Errorf("interim after stop = %q, want empty", sink.LastInterim())
	}

	calls := tr.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if calls[1].Prompt != "" {
		t.Errorf("second call prompt = %q, want empty (nothing committed yet)", calls[1].Prompt)
	}
	if !calls[2].Final {
		t.Error("third call should be the final pass")
	}
	if calls[2].Prompt != "I went to the store." {
		t.Errorf("final call prompt = %q, want the last committed line", calls[2].Prompt)
	}
	// Committed offset advanced 1400 ms = 22400 samples, so the final window
	// is 96000-22400.
	if calls[2].SampleCount != 73600 {
		t.Errorf("final window = %d samples, want 73600", calls[2].SampleCount)
	}
}

func TestSession_ShortFinalPromotesTail(t *testing.T) {
	// Both passes return the same text; the second confirms the sentence end
	// and slides the window close to the ledger end, so the stop has too
	// little new audio for a third round trip.
	text := "One two three four five. Tail"
	tr := mock.New(
		mock.Step{Result: &asr.Result{Text: text}},
		mock.Step{Result: &asr.Result{Text: text}},
	)
	sink := &recordingSink{}
	s := startSession(t, tr, sink)

	s.PushAudio(make([]float32, 48000))
	waitFor(t, "first pass", func() bool { return len(tr.Calls()) == 1 })
	s.PushAudio(make([]float32, 48000))
	waitFor(t, "commit", func() bool { return len(sink.Commits()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	got := sink.Commits()
	if len(got) != 2 || got[0] != "One two three four five." || got[1] != "Tail" {
		t.Fatalf("commits = %q", got)
	}
	// The tail was promoted directly: no third ASR call.
	if n := len(tr.Calls()); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestSession_SingleFlightAndDeferredFinal(t *testing.T) {
	tr := newGated(
		mock.Step{Result: &asr.Result{Text: "working on it"}},
		mock.Step{Result: &asr.Result{Text: "working on it now"}},
	)
	sink := &recordingSink{}
	s := startSession(t, tr, sink)

	s.PushAudio(make([]float32, 48000))
	<-tr.entered

	// Stop while the call is in flight: the final must be deferred, not
	// issued concurrently.
	stopDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopDone <- s.StopRecording(ctx)
	}()

	select {
	case <-tr.entered:
		t.Fatal("second call issued while one was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	tr.release <- struct{}{} // first pass completes, deferred final fires
	<-tr.entered
	tr.release <- struct{}{}

	if err := <-stopDone; err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	calls := tr.inner.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].Final || !calls[1].Final {
		t.Errorf("finality = %v/%v, want false/true", calls[0].Final, calls[1].Final)
	}
	got := sink.Commits()
	if len(got) != 1 || got[0] != "working on it now" {
		t.Errorf("commits = %q, want [%q]", got, "working on it now")
	}
}

func TestSession_StaleResultDiscardedAcrossRestart(t *testing.T) {
	tr := newGated(
		mock.Step{Result: &asr.Result{Text: "ghost words from before"}},
		mock.Step{Result: &asr.Result{Text: "fresh words"}},
	)
	sink := &recordingSink{}
	s := startSession(t, tr, sink)

	s.PushAudio(make([]float32, 48000))
	<-tr.entered

	// Restart while the first call is still in flight. Its result belongs to
	// the old session and must be discarded on arrival.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	tr.release <- struct{}{}

	s.PushAudio(make([]float32, 48000))
	<-tr.entered
	tr.release <- struct{}{}
	waitFor(t, "fresh interim", func() bool { return sink.SawInterim("fresh words") })

	if sink.SawInterim("ghost words from before") {
		t.Error("stale result leaked into the new session's interim display")
	}
	if got := sink.Commits(); len(got) != 0 {
		t.Errorf("commits = %q, want none", got)
	}
}

func TestSession_StopFlushesBehindStaleResult(t *testing.T) {
	tr := newGated(
		mock.Step{Result: &asr.Result{Text: "leftover from the first take"}},
	)
	sink := &recordingSink{}
	s := startSession(t, tr, sink)

	s.PushAudio(make([]float32, 48000))
	<-tr.entered

	// Restart while the old session's call is in flight, then stop the new
	// session before that call completes. The stale result is discarded, but
	// the deferred final pass must still run so the stop returns.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	stopDone := make(chan error, 1)
	go func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		stopDone <- s.StopRecording(stopCtx)
	}()

	select {
	case err := <-stopDone:
		t.Fatalf("StopRecording returned while a call was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	tr.release <- struct{}{}

	if err := <-stopDone; err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := sink.Commits(); len(got) != 0 {
		t.Errorf("commits = %q, want none", got)
	}
	// The new session had no audio, so the final promoted an empty tail
	// without a second round trip.
	if n := len(tr.inner.Calls()); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestSession_TransportFailureAbsorbed(t *testing.T) {
	tr := mock.New(
		mock.Step{Err: errors.New("connection refused")},
		mock.Step{Result: &asr.Result{Text: "hello world today friend"}},
		mock.Step{Result: &asr.Result{Text: "hello world today friend"}},
	)
	sink := &recordingSink{}
	s := startSession(t, tr, sink)

	s.PushAudio(make([]float32, 48000))
	waitFor(t, "failed pass", func() bool { return len(tr.Calls()) == 1 })
	if got := sink.Commits(); len(got) != 0 {
		t.Fatalf("commits after failed pass = %q, want none", got)
	}

	s.PushAudio(make([]float32, 48000))
	waitFor(t, "recovered interim", func() bool {
		return sink.SawInterim("hello world today friend")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	got := sink.Commits()
	if len(got) != 1 || got[0] != "hello world today friend" {
		t.Errorf("commits = %q", got)
	}
}

func TestSession_NoKickBelowInterval(t *testing.T) {
	tr := mock.New(mock.Step{Result: &asr.Result{Text: "should not run"}})
	sink := &recordingSink{}
	s := startSession(t, tr, sink)

	// 1.5 s of audio: below the 3 s re-transcribe interval.
	s.PushAudio(make([]float32, 24000))
	time.Sleep(50 * time.Millisecond)
	if n := len(tr.Calls()); n != 0 {
		t.Errorf("calls = %d, want 0 before the interval is met", n)
	}

	s.PushAudio(make([]float32, 24000))
	waitFor(t, "pass after interval", func() bool { return len(tr.Calls()) == 1 })
}
