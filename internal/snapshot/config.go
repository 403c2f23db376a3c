package snapshot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"market-snapshot/internal/forecast"
	"market-snapshot/internal/market"
	"market-snapshot/internal/news"
)

// ErrInvalidConfig is the only error Run returns. It is reported before any
// upstream is contacted.
var ErrInvalidConfig = errors.New("invalid snapshot config")

type Symbol struct {
	Name string      `json:"name"`
	Kind market.Kind `json:"kind"`
}

type ForecastSettings struct {
	Enabled     bool
	Credentials forecast.Credentials
}

// Config is a value: Run never mutates the caller's copy.
type Config struct {
	Symbols []Symbol
	FeedURL string
	MaxNews int
	Window  market.Window

	QuoteTTL   time.Duration
	HistoryTTL time.Duration
	NewsTTL    time.Duration

	RunTimeout  time.Duration
	CallTimeout time.Duration
	Concurrency int

	// PredictSteps is how many bars ahead the local trend extrapolates.
	PredictSteps int

	// RefreshInterval drives live mode only.
	RefreshInterval time.Duration

	Forecast ForecastSettings
}

const (
	defaultTTL          = 30 * time.Second
	defaultNewsTTL      = 5 * time.Minute
	defaultRunTimeout   = 60 * time.Second
	defaultCallTimeout  = 10 * time.Second
	defaultConcurrency  = 4
	defaultPredictSteps = 1
)

func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("%w: no symbols", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("%w: empty symbol", ErrInvalidConfig)
		}
		if _, err := market.ParseKind(string(s.Kind)); err != nil {
			return fmt.Errorf("%w: symbol %s: %v", ErrInvalidConfig, name, err)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidConfig, name)
		}
		seen[name] = true
	}
	switch {
	case c.MaxNews < 0, c.MaxNews > news.MaxItems:
		return fmt.Errorf("%w: max news %d", ErrInvalidConfig, c.MaxNews)
	case c.Concurrency < 0:
		return fmt.Errorf("%w: concurrency %d", ErrInvalidConfig, c.Concurrency)
	case c.PredictSteps < 0:
		return fmt.Errorf("%w: predict steps %d", ErrInvalidConfig, c.PredictSteps)
	case c.RunTimeout < 0, c.CallTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	case c.QuoteTTL < 0, c.HistoryTTL < 0, c.NewsTTL < 0:
		return fmt.Errorf("%w: negative ttl", ErrInvalidConfig)
	case c.RunTimeout > 0 && c.CallTimeout > c.RunTimeout:
		return fmt.Errorf("%w: call timeout %s exceeds run timeout %s", ErrInvalidConfig, c.CallTimeout, c.RunTimeout)
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.Symbols = append([]Symbol(nil), c.Symbols...)
	for i := range c.Symbols {
		c.Symbols[i].Name = strings.TrimSpace(c.Symbols[i].Name)
	}
	if c.MaxNews == 0 {
		c.MaxNews = news.DefaultMaxItems
	}
	if c.Window.Interval <= 0 || c.Window.Bars <= 0 {
		c.Window = market.DefaultWindow
	}
	if c.QuoteTTL == 0 {
		c.QuoteTTL = defaultTTL
	}
	if c.HistoryTTL == 0 {
		c.HistoryTTL = defaultTTL
	}
	if c.NewsTTL == 0 {
		c.NewsTTL = defaultNewsTTL
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = defaultRunTimeout
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.CallTimeout > c.RunTimeout {
		c.CallTimeout = c.RunTimeout
	}
	if c.Concurrency == 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.PredictSteps == 0 {
		c.PredictSteps = defaultPredictSteps
	}
	return c
}
