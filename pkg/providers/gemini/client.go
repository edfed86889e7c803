// Package gemini implements the advisor's data service, narrator and
// realtime voice transport on top of the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/genai"
)

const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultLiveModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice       = "Kore"
	DefaultMaxRetries  = 2
)

// generator is the subset of genai.Models the client calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client is safe for concurrent use.
type Client struct {
	gen  generator
	live *genai.Live

	model       string
	speechModel string
	liveModel   string
	voice       string
	grounding   bool
	maxRetries  uint64
	log         *slog.Logger

	httpClient *http.Client
	baseURL    string
}

// New creates a client for the Gemini API backend.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: missing API key")
	}
	c := newClient(opts...)
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions.BaseURL = c.baseURL
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, classify(err)
	}
	c.gen = gc.Models
	c.live = gc.Live
	return c, nil
}

func newClient(opts ...Option) *Client {
	c := &Client{
		model:       DefaultModel,
		speechModel: DefaultSpeechModel,
		liveModel:   DefaultLiveModel,
		voice:       DefaultVoice,
		grounding:   true,
		maxRetries:  DefaultMaxRetries,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
