// Package forecast calls a text-generation endpoint and turns its
// schema-unstable reply into an Analysis or a typed Error.
package forecast

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Credentials travel with each call. Empty Endpoint or Model fall back to
// the client's configuration.
type Credentials struct {
	APIKey   string
	Endpoint string
	Model    string
}

type Config struct {
	Provider        string
	Endpoint        string
	Model           string
	KeyIn           string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
	// Strict turns a reply without a JSON object into a json_parse_error
	// instead of a free-form summary.
	Strict bool

	ByAzure    bool
	APIVersion string
}

type Observer interface {
	ObserveForecast(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveForecast(string) {}

type reply struct {
	body []byte
	// text marks a reply that is already model text, not a response document.
	text bool
}

type backend interface {
	generate(ctx context.Context, prompt string, creds Credentials) (reply, error)
}

type Client struct {
	cfg      Config
	backend  backend
	log      zerolog.Logger
	observer Observer
	http     *http.Client
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 500
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderGemini
	}

	c := &Client{
		cfg:      cfg,
		log:      zerolog.Nop(),
		observer: nopObserver{},
		http:     &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini:
		c.backend = &geminiBackend{
			client:          c.http,
			keyIn:           strings.ToLower(cfg.KeyIn),
			temperature:     cfg.Temperature,
			maxOutputTokens: cfg.MaxOutputTokens,
		}
	case ProviderOpenAI:
		c.backend = newOpenAIBackend(cfg, c.log)
	default:
		return nil, fmt.Errorf("forecast: unknown provider %q", cfg.Provider)
	}
	return c, nil
}

// Call sends prompt to the configured endpoint. Every failure comes back as
// an *Error; a missing API key fails before any network I/O.
func (c *Client) Call(ctx context.Context, prompt string, creds Credentials) (Analysis, *Error) {
	a, ferr := c.call(ctx, prompt, creds)
	if ferr != nil {
		c.observer.ObserveForecast(string(ferr.Kind))
		level := zerolog.WarnLevel
		if ferr.Kind == KindNoCredential {
			level = zerolog.DebugLevel
		}
		c.log.WithLevel(level).Str("kind", string(ferr.Kind)).Err(ferr).Msg("forecast failed")
		return Analysis{}, ferr
	}
	c.observer.ObserveForecast("ok")
	return a, nil
}

func (c *Client) call(ctx context.Context, prompt string, creds Credentials) (Analysis, *Error) {
	if strings.TrimSpace(creds.APIKey) == "" {
		return Analysis{}, newError(KindNoCredential, nil, "no api key supplied")
	}
	if creds.Endpoint == "" {
		creds.Endpoint = c.cfg.Endpoint
	}
	if creds.Model == "" {
		creds.Model = c.cfg.Model
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	rep, err := c.backend.generate(ctx, prompt, creds)
	if err != nil {
		return Analysis{}, newError(KindNetwork, err, "request to %s failed", c.cfg.Provider)
	}
	c.logOutput(rep.body, time.Since(start))

	if rep.text {
		return DecodeText(string(rep.body), c.cfg.Strict)
	}
	return Decode(rep.body, c.cfg.Strict)
}

func (c *Client) logOutput(body []byte, took time.Duration) {
	if e := c.log.Debug(); e.Enabled() {
		e.Str("provider", c.cfg.Provider).
			Dur("took", took).
			Str("output", truncate(string(body), 800)).
			Msg("forecast reply")
	}
}
