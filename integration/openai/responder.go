package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// FallbackReply is sent when no model answer can be produced.
const FallbackReply = "I'm having trouble understanding your message. Please try again or type 'help' for assistance."

const systemPrompt = "You are Pesabot, a friendly WhatsApp assistant helping Kenyan users " +
	"save money with Bitcoin. Answer in a short conversational message suitable for " +
	"WhatsApp, under 160 characters, using at most one emoji. Stay on the topic of " +
	"Bitcoin savings, balances, prices and the available commands: balance, save, " +
	"history, price, help, logout."

// Config holds responder settings.
type Config struct {
	APIKey      string  `env:"OPENAI_API_KEY"`
	BaseURL     string  `env:"OPENAI_API_URL"`
	Model       string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	MaxTokens   int64   `env:"OPENAI_MAX_TOKENS" envDefault:"200"`
	Temperature float64 `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
}

// Responder generates replies to free-form messages via the OpenAI API.
// A Responder with no API key is valid and always returns FallbackReply.
type Responder struct {
	client      *openai.Client
	model       string
	maxTokens   int64
	temperature float64
	logger      *slog.Logger
}

// Option configures a Responder.
type Option func(*Responder)

// WithLogger sets the logger for generation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResponder creates an OpenAI-backed responder.
func NewResponder(cfg Config, opts ...Option) *Responder {
	r := &Responder{
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if r.model == "" {
		r.model = "gpt-4o-mini"
	}
	if r.maxTokens <= 0 {
		r.maxTokens = 200
	}

	if cfg.APIKey != "" {
		// No retries here: a failed call degrades to FallbackReply
		// immediately instead of stalling the conversation.
		clientOpts := []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
		}
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
		}
		client := openai.NewClient(clientOpts...)
		r.client = &client
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Enabled reports whether an API key was configured.
func (r *Responder) Enabled() bool {
	return r.client != nil
}

// Generate answers a free-form user message. The userContext string
// carries session facts (name, authentication state) the model may use.
// Never returns an error to the caller's user; failures degrade to
// FallbackReply.
func (r *Responder) Generate(ctx context.Context, userContext, text string) string {
	if r.client == nil {
		return FallbackReply
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
	}
	if userContext != "" {
		messages = append(messages, openai.SystemMessage(fmt.Sprintf("User context: %s", userContext)))
	}
	messages = append(messages, openai.UserMessage(text))

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(r.model),
		Messages:    messages,
		MaxTokens:   openai.Int(r.maxTokens),
		Temperature: openai.Float(r.temperature),
	})
	if err != nil {
		r.logger.WarnContext(ctx, "reply generation failed", slog.String("error", err.Error()))
		return FallbackReply
	}

	if len(resp.Choices) == 0 {
		return FallbackReply
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return FallbackReply
	}
	return reply
}
