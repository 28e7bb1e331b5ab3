// Package session owns the live dictation lifecycle: the audio ledger, the
// scheduler that decides when to issue transcription calls, and the
// controller that feeds results through the stabilization engine and forwards
// finalized lines to the display.
//
// All scheduler and engine state is confined to a single control-loop
// goroutine. Audio arrives through [Session.PushAudio] (ledger appends are
// independently synchronised); everything else — recording start/stop,
// periodic kicks, result application — is serialised through the loop, which
// is the sole mechanism enforcing the single-flight guarantee: at most one
// transcription call is outstanding at any time.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rmtew/dictate/internal/observe"
	"github.com/rmtew/dictate/internal/stabilize"
	"github.com/rmtew/dictate/pkg/asr"
	"github.com/rmtew/dictate/pkg/audio"
)

const (
	// defaultRetranscribeInterval is how much new audio must accumulate past
	// the last issued window before the next periodic call.
	defaultRetranscribeInterval = 3 * time.Second

	// defaultMinWindow is the least uncommitted audio worth a round trip.
	defaultMinWindow = 1 * time.Second

	// defaultTick is the control-loop poll cadence.
	defaultTick = 100 * time.Millisecond
)

// ErrClosed is returned by lifecycle calls after the control loop has shut
// down.
var ErrClosed = errors.New("session: closed")

// Sink receives the engine's output. CommitLine delivers finalized text that
// will never be revised; SetInterim fully replaces the unstable tail display
// each round (empty clears it). Both are called from the control-loop
// goroutine, never concurrently.
type Sink interface {
	CommitLine(text string)
	SetInterim(text string)
}

// Config configures a [Session].
type Config struct {
	// Transcriber performs the blocking ASR round trip. Required.
	Transcriber asr.Transcriber

	// Sink receives committed lines and interim updates. Required.
	Sink Sink

	// SampleRate of pushed audio in Hz. Defaults to audio.DefaultSampleRate.
	SampleRate int

	// RetranscribeInterval is the amount of new audio, past the last issued
	// window, that triggers the next periodic call. Defaults to 3 s.
	RetranscribeInterval time.Duration

	// MinWindow is the least uncommitted audio worth a transcription call;
	// smaller windows are skipped (a final pass promotes the unconfirmed
	// tail instead). Defaults to 1 s.
	MinWindow time.Duration

	// Tick is the control-loop poll cadence. Defaults to 100 ms. Tests use
	// small values to keep wall time down.
	Tick time.Duration

	// Metrics is optional; when nil no metrics are recorded.
	Metrics *observe.Metrics
}

// Session is the dictation controller. Construct with [New], start the
// control loop with [Session.Start], then drive it with [Session.PushAudio],
// [Session.StartRecording], and [Session.StopRecording].
type Session struct {
	transcriber asr.Transcriber
	sink        Sink
	sampleRate  int
	tick        time.Duration
	metrics     *observe.Metrics

	intervalSamples  int
	minWindowSamples int

	ledger *Ledger

	cmds chan command
	// results carries worker completions back to the loop. Capacity 1 is
	// sufficient: single-flight means at most one worker exists.
	results chan passResult

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type cmdKind int

const (
	cmdStartRecording cmdKind = iota
	cmdStopRecording
)

// command is a lifecycle request. reply is closed when the command's effect
// has fully landed; for a stop that is only after the final pass flushed.
type command struct {
	kind  cmdKind
	reply chan struct{}
}

// passResult is one completed transcription round trip.
type passResult struct {
	epoch     int
	res       *asr.Result
	err       error
	final     bool
	window    int // samples in the request
	issuedLen int // ledger length when the request was issued
}

// loopState is all mutable scheduler and engine state. It lives on the run
// goroutine's stack and is never shared.
type loopState struct {
	engine *stabilize.State

	// epoch increments on every recording start; results stamped with an
	// older epoch are discarded so a stale in-flight call cannot mutate a
	// new session.
	epoch int

	active       bool
	inFlight     bool
	finalPending bool

	// committed is the sample offset of audio already folded into finalized
	// text. Non-decreasing within a session.
	committed int

	// lastIssued is the ledger length at the time of the last issued call.
	lastIssued int

	// bias is the last committed line, forwarded as the next call's prompt.
	bias string

	// stopReply, when non-nil, is the pending StopRecording waiter.
	stopReply chan struct{}
}

// New validates cfg and creates a Session. The control loop is not running
// until [Session.Start].
func New(cfg Config) (*Session, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("session: Transcriber is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("session: Sink is required")
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	interval := cfg.RetranscribeInterval
	if interval <= 0 {
		interval = defaultRetranscribeInterval
	}
	minWindow := cfg.MinWindow
	if minWindow <= 0 {
		minWindow = defaultMinWindow
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}

	return &Session{
		transcriber:      cfg.Transcriber,
		sink:             cfg.Sink,
		sampleRate:       sampleRate,
		tick:             tick,
		metrics:          cfg.Metrics,
		intervalSamples:  durationSamples(interval, sampleRate),
		minWindowSamples: durationSamples(minWindow, sampleRate),
		ledger:           NewLedger(),
		cmds:             make(chan command),
		results:          make(chan passResult, 1),
		done:             make(chan struct{}),
	}, nil
}

// Start begins the control loop in a background goroutine. The loop runs
// until [Session.Close] is called or ctx is cancelled.
func (s *Session) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Close shuts down the control loop and waits for any in-flight worker to
// finish. Safe to call multiple times.
func (s *Session) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

// PushAudio appends captured samples to the ledger. Safe to call from the
// capture goroutine at any time; samples pushed while no recording is active
// are discarded by the next [Session.StartRecording] reset.
func (s *Session) PushAudio(samples []float32) {
	s.ledger.Append(samples)
}

// Recording returns a copy of the full session audio, for saving to disk
// after a stop. Valid until the next [Session.StartRecording].
func (s *Session) Recording() []float32 {
	return s.ledger.Slice(0)
}

// StartRecording resets the ledger and all engine state and begins a new
// recording session. A result from a previous session still in flight is
// discarded when it arrives. Returns once the reset has been applied.
func (s *Session) StartRecording(ctx context.Context) error {
	return s.send(ctx, cmdStartRecording)
}

// StopRecording ends the current recording session: a final transcription
// pass is issued (or the unconfirmed tail promoted directly when too little
// new audio exists), remaining text is committed, and the interim display is
// cleared. Blocks until the final flush has landed.
func (s *Session) StopRecording(ctx context.Context) error {
	return s.send(ctx, cmdStopRecording)
}

func (s *Session) send(ctx context.Context, kind cmdKind) error {
	cmd := command{kind: kind, reply: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-cmd.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// run is the single goroutine owning all scheduler and engine state.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	st := &loopState{engine: stabilize.New(s.sampleRate)}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case cmd := <-s.cmds:
			s.handleCommand(ctx, st, cmd)
		case r := <-s.results:
			s.handleResult(ctx, st, r)
		case <-ticker.C:
			s.maybeKick(ctx, st)
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, st *loopState, cmd command) {
	switch cmd.kind {
	case cmdStartRecording:
		// A stop still waiting on a final pass is abandoned by the restart.
		if st.stopReply != nil {
			close(st.stopReply)
			st.stopReply = nil
		}
		if !st.active && s.metrics != nil {
			s.metrics.ActiveSessions.Add(ctx, 1)
		}
		st.epoch++
		st.active = true
		st.finalPending = false
		st.committed = 0
		st.lastIssued = 0
		st.bias = ""
		st.engine.Reset()
		s.ledger.Reset()
		s.sink.SetInterim("")
		slog.Info("recording started", "epoch", st.epoch)
		close(cmd.reply)

	case cmdStopRecording:
		if !st.active {
			close(cmd.reply)
			return
		}
		st.active = false
		if s.metrics != nil {
			s.metrics.ActiveSessions.Add(ctx, -1)
		}
		slog.Info("recording stopped", "epoch", st.epoch,
			"ledger_samples", s.ledger.Len(), "committed_samples", st.committed)
		st.stopReply = cmd.reply
		if st.inFlight {
			// The outstanding call completes first; the final pass is
			// issued from its result handler.
			st.finalPending = true
			return
		}
		s.kickFinal(ctx, st)
	}
}

// maybeKick issues a periodic call when enough new audio accumulated since
// the last issue and the uncommitted window is worth a round trip.
func (s *Session) maybeKick(ctx context.Context, st *loopState) {
	if !st.active || st.inFlight {
		return
	}
	n := s.ledger.Len()
	if n-st.lastIssued < s.intervalSamples {
		return
	}
	if n-st.committed < s.minWindowSamples {
		return
	}
	s.issue(ctx, st, false)
}

// kickFinal issues the terminal pass for a stopping session. A window below
// the minimum is not worth a fresh round trip: the engine's unconfirmed tail
// is promoted to a commit directly.
func (s *Session) kickFinal(ctx context.Context, st *loopState) {
	if s.ledger.Len()-st.committed < s.minWindowSamples {
		out := st.engine.Apply(&asr.Result{Text: st.engine.Pending()}, 0, true)
		s.deliver(ctx, st, out, st.committed, true)
		s.finishStop(st)
		return
	}
	s.issue(ctx, st, true)
}

// issue snapshots the uncommitted window and dispatches the round trip to a
// worker goroutine. Must only be called with no call in flight.
func (s *Session) issue(ctx context.Context, st *loopState, final bool) {
	samples := s.ledger.Slice(st.committed)
	issuedLen := st.committed + len(samples)
	st.lastIssued = issuedLen
	st.inFlight = true

	req := asr.Request{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Prompt:     st.bias,
		Final:      final,
	}
	epoch := st.epoch

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		res, err := s.transcriber.Transcribe(ctx, req)
		if s.metrics != nil {
			s.metrics.RecordPass(ctx, time.Since(start), final, err != nil)
		}
		// The loop may have exited already; never let the worker block a
		// Close waiting on wg.
		select {
		case s.results <- passResult{
			epoch:     epoch,
			res:       res,
			err:       err,
			final:     final,
			window:    len(req.Samples),
			issuedLen: issuedLen,
		}:
		case <-s.done:
		}
	}()
}

func (s *Session) handleResult(ctx context.Context, st *loopState, r passResult) {
	st.inFlight = false

	if r.epoch != st.epoch {
		slog.Debug("discarding result from a previous session",
			"result_epoch", r.epoch, "epoch", st.epoch)
		// A stop may be parked behind this stale call; its final pass still
		// has to run, against the current session's state.
		if st.finalPending {
			st.finalPending = false
			s.kickFinal(ctx, st)
		}
		return
	}

	res := r.res
	if r.err != nil {
		slog.Warn("transcription pass failed", "error", r.err, "final", r.final)
		if r.final {
			// A failed final round trip must not swallow the unconfirmed
			// tail; promote it as the terminal commit instead.
			res = &asr.Result{Text: st.engine.Pending()}
		} else {
			res = nil
		}
	}
	if s.metrics != nil && res != nil {
		s.metrics.RecordServerStage(ctx, "total", res.Perf.TotalMS)
		s.metrics.RecordServerStage(ctx, "encode", res.Perf.EncodeMS)
		s.metrics.RecordServerStage(ctx, "decode", res.Perf.DecodeMS)
	}

	out := st.engine.Apply(res, r.window, r.final)
	s.deliver(ctx, st, out, r.issuedLen, r.final)

	if r.final {
		s.finishStop(st)
		return
	}
	if st.finalPending {
		st.finalPending = false
		s.kickFinal(ctx, st)
	}
}

// deliver applies one engine outcome: advances the committed offset (clamped
// to the ledger length at issue time), forwards the finalized line, updates
// the bias prompt, and refreshes the interim display.
func (s *Session) deliver(ctx context.Context, st *loopState, out stabilize.Outcome, issuedLen int, final bool) {
	if out.Commit != nil {
		st.committed += out.Commit.Advance
		if st.committed > issuedLen {
			st.committed = issuedLen
		}
		if out.Commit.Text != "" {
			s.sink.CommitLine(out.Commit.Text)
			st.bias = out.Commit.Text
			if s.metrics != nil {
				s.metrics.RecordCommit(ctx, len(out.Commit.Text))
			}
		}
	}
	if final {
		s.sink.SetInterim("")
		return
	}
	s.sink.SetInterim(out.Interim)
}

// finishStop releases the StopRecording waiter after the final flush.
func (s *Session) finishStop(st *loopState) {
	if st.stopReply != nil {
		close(st.stopReply)
		st.stopReply = nil
	}
}

// durationSamples converts a duration to a sample count at the given rate.
func durationSamples(d time.Duration, sampleRate int) int {
	return int(d.Milliseconds() * int64(sampleRate) / 1000)
}
