// Package responder forwards committed transcript lines to an
// OpenAI-compatible chat server and surfaces the replies as chat output.
//
// The responder is deliberately lossy: while a completion is in flight, newly
// committed lines overwrite each other and only the latest is asked when the
// worker becomes free. Dictation commits can outpace a local LLM by a wide
// margin, and answering every intermediate line would put the conversation
// further and further behind the speaker.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultSystemPrompt = "You are a terse voice assistant. The user dictates " +
	"lines of text; respond to each line in one or two short sentences."

const defaultHistoryLimit = 8

// Config configures a [Responder].
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint root
	// (e.g. "http://localhost:8080/v1"). Required.
	BaseURL string

	// APIKey is sent as the bearer token. Local servers usually ignore it.
	APIKey string

	// Model is the chat model identifier. Required.
	Model string

	// SystemPrompt replaces the built-in system prompt when non-empty.
	SystemPrompt string

	// HistoryLimit caps how many prior exchanges are kept as chat context.
	// Defaults to 8.
	HistoryLimit int

	// Timeout is the per-request HTTP timeout. Zero means no client timeout.
	Timeout time.Duration

	// Handler receives each completed reply. Called from the worker
	// goroutine. Required.
	Handler func(prompt, reply string)
}

// Responder is the chat worker. Construct with [New], start with
// [Responder.Start], feed lines with [Responder.Submit].
type Responder struct {
	client       oai.Client
	model        string
	systemPrompt string
	historyLimit int
	handler      func(prompt, reply string)

	// pending holds at most one prompt; Submit overwrites it while the
	// worker is busy.
	pending chan string

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// history is the worker goroutine's alone.
	history []exchange
}

// exchange is one completed prompt/reply pair.
type exchange struct {
	prompt string
	reply  string
}

// New validates cfg and creates a Responder. The worker is not running until
// [Responder.Start].
func New(cfg Config) (*Responder, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("responder: BaseURL must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("responder: Model must not be empty")
	}
	if cfg.Handler == nil {
		return nil, errors.New("responder: Handler is required")
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.Timeout,
		}))
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	return &Responder{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.Model,
		systemPrompt: systemPrompt,
		historyLimit: historyLimit,
		handler:      cfg.Handler,
		pending:      make(chan string, 1),
		done:         make(chan struct{}),
	}, nil
}

// Start begins the worker in a background goroutine. The worker runs until
// [Responder.Close] is called or ctx is cancelled.
func (r *Responder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Close stops the worker. A completion already in flight runs to its end.
// Safe to call multiple times.
func (r *Responder) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

// Submit queues prompt for the worker, replacing any prompt still waiting.
// Never blocks.
func (r *Responder) Submit(prompt string) {
	for {
		select {
		case r.pending <- prompt:
			return
		default:
		}
		select {
		case <-r.pending:
		default:
		}
	}
}

func (r *Responder) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case prompt := <-r.pending:
			reply, err := r.ask(ctx, prompt)
			if err != nil {
				slog.Warn("responder request failed", "error", err)
				continue
			}
			r.history = append(r.history, exchange{prompt: prompt, reply: reply})
			if len(r.history) > r.historyLimit {
				r.history = r.history[len(r.history)-r.historyLimit:]
			}
			r.handler(prompt, reply)
		}
	}
}

// ask performs one chat completion with the bounded history as context.
func (r *Responder) ask(ctx context.Context, prompt string) (string, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, 2+2*len(r.history))
	msgs = append(msgs, oai.SystemMessage(r.systemPrompt))
	for _, ex := range r.history {
		msgs = append(msgs, oai.UserMessage(ex.prompt), oai.AssistantMessage(ex.reply))
	}
	msgs = append(msgs, oai.UserMessage(prompt))

	resp, err := r.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(r.model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("responder: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("responder: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
