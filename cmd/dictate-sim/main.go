// Command dictate-sim replays a WAV recording against an ASR server to
// exercise transcription strategies offline, without a microphone:
//
//	retranscribe  naive growing window: re-transcribe everything each step
//	vad           energy-gated segmentation, one call per utterance
//	timestamps    single call, dump the token timestamp stream
//	sim           the full stabilization engine with a simulated wall clock
//
// The sim mode drives the same engine as the live client; transcription
// latency is folded into the simulated clock so a slow server delays the next
// pass exactly as it would live. With -reference the final transcript of any
// mode is scored against a known-good text.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rmtew/dictate/internal/score"
	"github.com/rmtew/dictate/internal/stabilize"
	"github.com/rmtew/dictate/pkg/asr"
	"github.com/rmtew/dictate/pkg/asr/localai"
	"github.com/rmtew/dictate/pkg/audio"
)

const sampleRate = audio.DefaultSampleRate

// Energy-gated segmentation parameters for vad mode.
const (
	vadChunkSamples     = sampleRate / 2 // 500 ms analysis chunks
	vadSilenceLevel     = 0.010          // mean absolute amplitude below this is silence
	vadSilenceChunks    = 2              // consecutive silent chunks ending an utterance
	vadMinSpeechSamples = sampleRate     // utterances shorter than 1 s are discarded
)

func main() {
	os.Exit(run())
}

func run() int {
	serverURL := flag.String("server", "http://localhost:8090", "ASR server base URL")
	wavPath := flag.String("wav", "", "recording to replay (required)")
	mode := flag.String("mode", "sim", "strategy: retranscribe, vad, timestamps, or sim")
	intervalMs := flag.Int("interval", 3000, "re-transcribe interval in ms (retranscribe and sim modes)")
	minWindowMs := flag.Int("min-window", 1000, "minimum window in ms (sim mode)")
	language := flag.String("language", "", "language hint")
	model := flag.String("model", "", "model identifier")
	refPath := flag.String("reference", "", "reference transcript to score against")
	logLevel := flag.String("log-level", "warn", "log verbosity: debug, info, warn, error")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	})))

	if *wavPath == "" {
		fmt.Fprintln(os.Stderr, "dictate-sim: -wav is required")
		flag.Usage()
		return 2
	}

	samples, err := audio.ReadWAVFile(*wavPath, sampleRate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dictate-sim: %v\n", err)
		return 1
	}
	fmt.Printf("loaded %s: %v of audio (%d samples at %d Hz)\n",
		*wavPath, audio.Duration(len(samples), sampleRate).Round(time.Millisecond), len(samples), sampleRate)

	var clientOpts []localai.Option
	if *language != "" {
		clientOpts = append(clientOpts, localai.WithLanguage(*language))
	}
	if *model != "" {
		clientOpts = append(clientOpts, localai.WithModel(*model))
	}
	client, err := localai.New(*serverURL, clientOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dictate-sim: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tally := &perfTally{}
	tr := &tallyTranscriber{inner: client, tally: tally}

	var transcript string
	switch *mode {
	case "retranscribe":
		transcript, err = runRetranscribe(ctx, tr, samples, *intervalMs)
	case "vad":
		transcript, err = runVAD(ctx, tr, samples)
	case "timestamps":
		transcript, err = runTimestamps(ctx, tr, samples)
	case "sim":
		transcript, err = runSim(ctx, tr, samples, *intervalMs, *minWindowMs)
	default:
		fmt.Fprintf(os.Stderr, "dictate-sim: unknown mode %q\n", *mode)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dictate-sim: %s: %v\n", *mode, err)
		return 1
	}

	fmt.Printf("\n--- final transcript (%s) ---\n%s\n", *mode, transcript)
	tally.print()

	if *refPath != "" {
		ref, err := os.ReadFile(*refPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dictate-sim: read reference: %v\n", err)
			return 1
		}
		r := score.Compare(transcript, string(ref))
		fmt.Printf("\n--- accuracy vs %s ---\n", *refPath)
		fmt.Printf("char error rate: %.3f\n", r.CharErrorRate)
		fmt.Printf("similarity:      %.3f\n", r.Similarity)
		fmt.Printf("chars:           %d produced / %d reference\n", r.OutChars, r.RefChars)
	}
	return 0
}

// runRetranscribe re-transcribes the whole file from the start in growing
// steps, the way the live client would if it never committed anything.
func runRetranscribe(ctx context.Context, tr asr.Transcriber, samples []float32, intervalMs int) (string, error) {
	step := intervalMs * sampleRate / 1000
	if step <= 0 {
		step = 3 * sampleRate
	}

	var last string
	for end := step; end <= len(samples); end += step {
		res, err := tr.Transcribe(ctx, asr.Request{Samples: samples[:end], SampleRate: sampleRate})
		if err != nil {
			return "", err
		}
		fmt.Printf("[%6.1fs] %s\n", float64(end)/sampleRate, res.Text)
		last = res.Text
	}
	if len(samples)%step != 0 {
		res, err := tr.Transcribe(ctx, asr.Request{Samples: samples, SampleRate: sampleRate, Final: true})
		if err != nil {
			return "", err
		}
		fmt.Printf("[%6.1fs] %s\n", float64(len(samples))/sampleRate, res.Text)
		last = res.Text
	}
	return last, nil
}

// runVAD segments the recording on energy dips and transcribes each utterance
// once.
func runVAD(ctx context.Context, tr asr.Transcriber, samples []float32) (string, error) {
	var parts []string
	speechStart := -1
	silentRun := 0

	flush := func(end int) error {
		if speechStart < 0 || end-speechStart < vadMinSpeechSamples {
			speechStart = -1
			return nil
		}
		seg := samples[speechStart:end]
		res, err := tr.Transcribe(ctx, asr.Request{Samples: seg, SampleRate: sampleRate})
		if err != nil {
			return err
		}
		text := strings.TrimSpace(res.Text)
		fmt.Printf("[%6.1fs..%6.1fs] %s\n",
			float64(speechStart)/sampleRate, float64(end)/sampleRate, text)
		if text != "" {
			parts = append(parts, text)
		}
		speechStart = -1
		return nil
	}

	for off := 0; off < len(samples); off += vadChunkSamples {
		end := off + vadChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		if audio.MeanAbs(samples[off:end]) < vadSilenceLevel {
			silentRun++
			if speechStart >= 0 && silentRun >= vadSilenceChunks {
				if err := flush(end); err != nil {
					return "", err
				}
			}
			continue
		}
		silentRun = 0
		if speechStart < 0 {
			speechStart = off
		}
	}
	if err := flush(len(samples)); err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

// runTimestamps transcribes the whole file in one call and dumps the token
// timestamp stream, flagging entries whose audio position runs backwards.
func runTimestamps(ctx context.Context, tr asr.Transcriber, samples []float32) (string, error) {
	res, err := tr.Transcribe(ctx, asr.Request{Samples: samples, SampleRate: sampleRate, Final: true})
	if err != nil {
		return "", err
	}

	fmt.Printf("%d timestamps for %d bytes of text\n", len(res.Timestamps), len(res.Text))
	backwards := 0
	prevMS := 0
	for i, ts := range res.Timestamps {
		mark := " "
		if ts.AudioMS < prevMS {
			mark = "<"
			backwards++
		}
		prevMS = ts.AudioMS
		fmt.Printf("%4d %s byte=%5d audio=%7dms  %q\n",
			i, mark, ts.ByteOffset, ts.AudioMS, textAt(res.Text, ts.ByteOffset, 16))
	}
	fmt.Printf("non-monotonic entries: %d/%d\n", backwards, len(res.Timestamps))
	return res.Text, nil
}

// runSim drives the stabilization engine against a simulated wall clock:
// audio "arrives" in real time and each transcription call consumes simulated
// time equal to its measured latency, so a slow server pushes the next pass
// later exactly as it would live.
func runSim(ctx context.Context, tr asr.Transcriber, samples []float32, intervalMs, minWindowMs int) (string, error) {
	intervalSamples := intervalMs * sampleRate / 1000
	minWindowSamples := minWindowMs * sampleRate / 1000

	st := stabilize.New(sampleRate)
	var commits []string
	committed := 0
	lastIssued := 0
	simMS := 0
	prompt := ""

	avail := func() int {
		n := simMS * sampleRate / 1000
		if n > len(samples) {
			n = len(samples)
		}
		return n
	}

	for {
		// Wait (in simulated time) until enough new audio accumulated.
		nextKick := lastIssued + intervalSamples
		if nextKick > len(samples) {
			break
		}
		if a := avail(); a < nextKick {
			simMS = nextKick * 1000 / sampleRate
		}

		issueLen := avail()
		window := samples[committed:issueLen]
		lastIssued = issueLen
		if len(window) < minWindowSamples {
			continue
		}

		start := time.Now()
		res, err := tr.Transcribe(ctx, asr.Request{Samples: window, SampleRate: sampleRate, Prompt: prompt})
		latencyMS := int(time.Since(start).Milliseconds())
		simMS += latencyMS
		if err != nil {
			slog.Warn("pass failed", "error", err)
			continue
		}

		out := st.Apply(res, len(window), false)
		if out.Commit != nil {
			committed += out.Commit.Advance
			if committed > issueLen {
				committed = issueLen
			}
			if out.Commit.Text != "" {
				fmt.Printf("[%6.1fs] commit: %s\n", float64(simMS)/1000, out.Commit.Text)
				commits = append(commits, out.Commit.Text)
				prompt = out.Commit.Text
			}
		}
		if out.Interim != "" {
			fmt.Printf("[%6.1fs]    ... %s\n", float64(simMS)/1000, out.Interim)
		}
	}

	// Final pass over whatever remains uncommitted.
	var out stabilize.Outcome
	if tail := samples[committed:]; len(tail) >= minWindowSamples {
		res, err := tr.Transcribe(ctx, asr.Request{Samples: tail, SampleRate: sampleRate, Prompt: prompt, Final: true})
		if err != nil {
			slog.Warn("final pass failed", "error", err)
			out = st.Apply(&asr.Result{Text: st.Pending()}, 0, true)
		} else {
			out = st.Apply(res, len(tail), true)
		}
	} else {
		out = st.Apply(&asr.Result{Text: st.Pending()}, 0, true)
	}
	if out.Commit != nil && out.Commit.Text != "" {
		fmt.Printf("[ final] commit: %s\n", out.Commit.Text)
		commits = append(commits, out.Commit.Text)
	}

	return strings.Join(commits, " "), nil
}

// textAt returns up to n bytes of text starting at off, clamped into range.
func textAt(text string, off, n int) string {
	if off < 0 || off >= len(text) {
		return ""
	}
	end := off + n
	if end > len(text) {
		end = len(text)
	}
	return text[off:end]
}

// ---- perf accounting ---------------------------------------------------------

// perfTally accumulates client latency and server-reported stage timings
// across all calls of a run.
type perfTally struct {
	calls    int
	clientMS float64
	serverMS float64
	encodeMS float64
	decodeMS float64
	audioMS  float64
}

func (p *perfTally) add(elapsed time.Duration, res *asr.Result) {
	p.calls++
	p.clientMS += float64(elapsed.Milliseconds())
	if res == nil {
		return
	}
	p.serverMS += res.Perf.TotalMS
	p.encodeMS += res.Perf.EncodeMS
	p.decodeMS += res.Perf.DecodeMS
	p.audioMS += res.Perf.AudioMS
}

func (p *perfTally) print() {
	if p.calls == 0 {
		return
	}
	fmt.Printf("\n--- %d calls ---\n", p.calls)
	fmt.Printf("client latency:  %8.0f ms total, %6.0f ms avg\n", p.clientMS, p.clientMS/float64(p.calls))
	if p.serverMS > 0 {
		fmt.Printf("server total:    %8.0f ms (encode %.0f, decode %.0f)\n", p.serverMS, p.encodeMS, p.decodeMS)
	}
	if p.audioMS > 0 && p.serverMS > 0 {
		fmt.Printf("realtime factor: %8.2fx\n", p.audioMS/p.serverMS)
	}
}

// tallyTranscriber wraps a Transcriber and feeds every call into the tally.
type tallyTranscriber struct {
	inner asr.Transcriber
	tally *perfTally
}

func (t *tallyTranscriber) Transcribe(ctx context.Context, req asr.Request) (*asr.Result, error) {
	start := time.Now()
	res, err := t.inner.Transcribe(ctx, req)
	t.tally.add(time.Since(start), res)
	return res, err
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
