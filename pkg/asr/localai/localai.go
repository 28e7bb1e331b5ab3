// Package localai provides an asr.Transcriber backed by a local-ai-server
// instance (or any OpenAI-compatible speech endpoint that supports the
// verbose_json response format with per-token timestamps).
//
// Each call encodes the audio window as a 16-bit PCM WAV file and POSTs it as
// multipart/form-data to /v1/audio/transcriptions. The verbose_json response
// carries the transcript text, a words array mapping byte offsets to audio
// milliseconds, and server-side timing fields.
//
// Usage:
//
//	c, err := localai.New("http://localhost:8090",
//	    localai.WithLanguage("en"),
//	)
//	res, err := c.Transcribe(ctx, asr.Request{Samples: window, SampleRate: 16000})
package localai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rmtew/dictate/pkg/asr"
	"github.com/rmtew/dictate/pkg/audio"
)

// transcriptionsPath is the OpenAI-compatible endpoint path.
const transcriptionsPath = "/v1/audio/transcriptions"

const defaultTimeout = 120 * time.Second

// Compile-time assertion that Client implements asr.Transcriber.
var _ asr.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLanguage sets the language hint sent with every request (e.g. "en",
// "zh"). When empty the server auto-detects.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithModel sets the model identifier forwarded to the server. When empty the
// server uses whichever model it was started with — this is the default.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithTimeout sets the per-request HTTP timeout. A transcription of a long
// window on a slow machine can take tens of seconds; the default is 120 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client implements asr.Transcriber against a local-ai-server HTTP endpoint.
// It is stateless per call and safe for concurrent use.
type Client struct {
	serverURL  string
	language   string
	model      string
	httpClient *http.Client
}

// New creates a Client that connects to the ASR server at serverURL
// (e.g. "http://localhost:8090"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("localai: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// verboseResponse mirrors the server's verbose_json payload. The words array
// is the token timestamp stream; duration is the audio length in seconds.
type verboseResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`

	PerfTotalMS  float64 `json:"perf_total_ms"`
	PerfEncodeMS float64 `json:"perf_encode_ms"`
	PerfDecodeMS float64 `json:"perf_decode_ms"`

	Words []struct {
		ByteOffset int `json:"byte_offset"`
		AudioMS    int `json:"audio_ms"`
	} `json:"words"`
}

// Transcribe implements asr.Transcriber. It blocks for the full round trip;
// cancel ctx to abort early.
func (c *Client) Transcribe(ctx context.Context, req asr.Request) (*asr.Result, error) {
	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	wav := audio.EncodeWAV(req.Samples, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("localai: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("localai: write wav data: %w", err)
	}

	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("localai: write response_format field: %w", err)
	}
	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return nil, fmt.Errorf("localai: write language field: %w", err)
		}
	}
	if c.model != "" {
		if err := mw.WriteField("model", c.model); err != nil {
			return nil, fmt.Errorf("localai: write model field: %w", err)
		}
	}
	if req.Prompt != "" {
		if err := mw.WriteField("prompt", req.Prompt); err != nil {
			return nil, fmt.Errorf("localai: write prompt field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("localai: close multipart writer: %w", err)
	}

	endpoint := c.serverURL + transcriptionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("localai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("localai: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("localai: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("localai: read response body: %w", err)
	}

	var vr verboseResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("localai: parse JSON response: %w", err)
	}

	result := &asr.Result{
		Text: vr.Text,
		Perf: asr.Perf{
			TotalMS:  vr.PerfTotalMS,
			AudioMS:  vr.Duration * 1000,
			EncodeMS: vr.PerfEncodeMS,
			DecodeMS: vr.PerfDecodeMS,
		},
	}
	for _, w := range vr.Words {
		result.Timestamps = append(result.Timestamps, asr.TokenTimestamp{
			ByteOffset: w.ByteOffset,
			AudioMS:    w.AudioMS,
		})
	}
	return result, nil
}
