package gemini

import (
	"log/slog"
	"net/http"
)

// Option configures the Client.
type Option func(*Client)

// WithModel sets the model used for data fetches and synthesis.
func WithModel(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.model = name
		}
	}
}

// WithSpeechModel sets the text-to-speech model used for narration.
func WithSpeechModel(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.speechModel = name
		}
	}
}

// WithLiveModel sets the realtime model used for voice sessions.
func WithLiveModel(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.liveModel = name
		}
	}
}

// WithVoice sets the prebuilt voice for narration and voice sessions.
func WithVoice(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.voice = name
		}
	}
}

// WithGrounding toggles Google Search grounding on data fetches.
// Default: on.
func WithGrounding(on bool) Option {
	return func(c *Client) {
		c.grounding = on
	}
}

// WithMaxRetries sets how often a retryable API error is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithHTTPClient sets the HTTP client for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
