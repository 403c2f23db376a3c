package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"market-snapshot/internal/forecast"
	"market-snapshot/internal/logging"
	"market-snapshot/internal/market"
	"market-snapshot/internal/snapshot"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	News     NewsConfig     `yaml:"news"`
	Market   MarketConfig   `yaml:"market"`
	Cache    CacheConfig    `yaml:"cache"`
	Forecast ForecastConfig `yaml:"forecast"`
	Live     LiveConfig     `yaml:"live"`
}

type ServerConfig struct {
	Port int `yaml:"port" default:"8080" validate:"min=1,max=65535"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type NewsConfig struct {
	FeedURL  string        `yaml:"feed_url" default:"https://www.investing.com/rss/news_301.rss" validate:"omitempty,url"`
	MaxItems int           `yaml:"max_items" default:"8" validate:"min=1,max=100"`
	Timeout  time.Duration `yaml:"timeout" default:"10s"`
}

type SymbolsConfig struct {
	Equity    []string `yaml:"equity" default:"[\"AAPL\",\"MSFT\"]"`
	Crypto    []string `yaml:"crypto" default:"[\"BTC/USDT\",\"ETH/USDT\"]"`
	Commodity []string `yaml:"commodity" default:"[\"GC=F\"]"`
}

type YahooConfig struct {
	RatePerSec float64 `yaml:"rate_per_sec" default:"2" validate:"gte=0"`
	Burst      int     `yaml:"burst" default:"2" validate:"gte=0"`
	// Tickers maps a configured symbol to the Yahoo ticker.
	Tickers map[string]string `yaml:"tickers"`
}

type ExchangeConfig struct {
	Name       string            `yaml:"name" default:"binance"`
	BaseURL    string            `yaml:"base_url" validate:"omitempty,url"`
	RatePerSec float64           `yaml:"rate_per_sec" default:"5" validate:"gte=0"`
	Burst      int               `yaml:"burst" default:"5" validate:"gte=0"`
	Markets    map[string]string `yaml:"markets"`
	APIKey     string            `yaml:"api_key"`
}

type MarketConfig struct {
	Symbols         SymbolsConfig  `yaml:"symbols"`
	Yahoo           YahooConfig    `yaml:"yahoo"`
	Exchange        ExchangeConfig `yaml:"exchange"`
	HistoryBars     int            `yaml:"history_bars" default:"30" validate:"min=6"`
	HistoryInterval time.Duration  `yaml:"history_interval" default:"1m"`
	PredictSteps    int            `yaml:"predict_steps" default:"1" validate:"min=1"`
	Concurrency     int            `yaml:"concurrency" default:"4" validate:"min=1,max=64"`
	CallTimeout     time.Duration  `yaml:"call_timeout" default:"10s"`
	RunTimeout      time.Duration  `yaml:"run_timeout" default:"60s"`
}

type CacheConfig struct {
	QuoteTTL   time.Duration `yaml:"quote_ttl" default:"30s"`
	HistoryTTL time.Duration `yaml:"history_ttl" default:"60s"`
	NewsTTL    time.Duration `yaml:"news_ttl" default:"5m"`
}

type ForecastConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	Provider        string        `yaml:"provider" default:"gemini" validate:"oneof=gemini openai"`
	APIKey          string        `yaml:"api_key"`
	Endpoint        string        `yaml:"endpoint" validate:"omitempty,url"`
	Model           string        `yaml:"model" default:"gemini-2.5-flash"`
	KeyIn           string        `yaml:"key_in" default:"header" validate:"oneof=header query bearer"`
	Temperature     float64       `yaml:"temperature" default:"0.2" validate:"gte=0,lte=2"`
	MaxOutputTokens int           `yaml:"max_output_tokens" default:"500" validate:"min=1"`
	Timeout         time.Duration `yaml:"timeout" default:"30s"`
	Strict          bool          `yaml:"strict"`
	ByAzure         bool          `yaml:"by_azure"`
	APIVersion      string        `yaml:"api_version"`
}

type LiveConfig struct {
	AutoStart bool          `yaml:"auto_start"`
	Interval  time.Duration `yaml:"interval" default:"60s"`
}

var validate = validator.New()

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.SnapshotConfig().Validate(); err != nil {
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.News.FeedURL = v
	}
	if v := os.Getenv("SYMBOLS_EQUITY"); v != "" {
		cfg.Market.Symbols.Equity = splitList(v)
	}
	if v := os.Getenv("SYMBOLS_CRYPTO"); v != "" {
		cfg.Market.Symbols.Crypto = splitList(v)
	}
	if v := os.Getenv("SYMBOLS_COMMODITY"); v != "" {
		cfg.Market.Symbols.Commodity = splitList(v)
	}
	if v := os.Getenv("CRYPTO_EXCHANGE"); v != "" {
		cfg.Market.Exchange.Name = strings.ToLower(v)
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.Market.Exchange.APIKey = v
	}
	if v := os.Getenv("FORECAST_PROVIDER"); v != "" {
		cfg.Forecast.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("FORECAST_MODEL"); v != "" {
		cfg.Forecast.Model = v
	}
	if cfg.Forecast.Provider == forecast.ProviderOpenAI {
		if v := os.Getenv("OPENAI_BASE_URL"); v != "" && cfg.Forecast.Endpoint == "" {
			cfg.Forecast.Endpoint = v
		}
	}

	// the generic key wins over the provider-specific ones
	keyVars := []string{"FORECAST_API_KEY"}
	switch cfg.Forecast.Provider {
	case forecast.ProviderGemini:
		keyVars = append(keyVars, "GEMINI_API_KEY")
	case forecast.ProviderOpenAI:
		keyVars = append(keyVars, "OPENAI_API_KEY")
	}
	for _, name := range keyVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			cfg.Forecast.APIKey = v
			break
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Symbols() []snapshot.Symbol {
	var out []snapshot.Symbol
	add := func(names []string, kind market.Kind) {
		for _, n := range names {
			out = append(out, snapshot.Symbol{Name: n, Kind: kind})
		}
	}
	add(c.Market.Symbols.Equity, market.KindEquity)
	add(c.Market.Symbols.Crypto, market.KindCrypto)
	add(c.Market.Symbols.Commodity, market.KindCommodity)
	return out
}

func (c *Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		Symbols:         c.Symbols(),
		FeedURL:         c.News.FeedURL,
		MaxNews:         c.News.MaxItems,
		Window:          market.Window{Interval: c.Market.HistoryInterval, Bars: c.Market.HistoryBars},
		QuoteTTL:        c.Cache.QuoteTTL,
		HistoryTTL:      c.Cache.HistoryTTL,
		NewsTTL:         c.Cache.NewsTTL,
		RunTimeout:      c.Market.RunTimeout,
		CallTimeout:     c.Market.CallTimeout,
		Concurrency:     c.Market.Concurrency,
		PredictSteps:    c.Market.PredictSteps,
		RefreshInterval: c.Live.Interval,
		Forecast: snapshot.ForecastSettings{
			Enabled: c.Forecast.Enabled,
			Credentials: forecast.Credentials{
				APIKey:   c.Forecast.APIKey,
				Endpoint: c.Forecast.Endpoint,
				Model:    c.Forecast.Model,
			},
		},
	}
}

func (c *Config) ForecastClientConfig() forecast.Config {
	return forecast.Config{
		Provider:        c.Forecast.Provider,
		Endpoint:        c.Forecast.Endpoint,
		Model:           c.Forecast.Model,
		KeyIn:           c.Forecast.KeyIn,
		Temperature:     c.Forecast.Temperature,
		MaxOutputTokens: c.Forecast.MaxOutputTokens,
		Timeout:         c.Forecast.Timeout,
		Strict:          c.Forecast.Strict,
		ByAzure:         c.Forecast.ByAzure,
		APIVersion:      c.Forecast.APIVersion,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, Output: c.Log.Output}
}

func (c *Config) YahooProviderConfig(kind market.Kind) market.YahooConfig {
	return market.YahooConfig{
		Kind:       kind,
		Timeout:    c.Market.CallTimeout,
		RatePerSec: c.Market.Yahoo.RatePerSec,
		Burst:      c.Market.Yahoo.Burst,
		Tickers:    c.Market.Yahoo.Tickers,
	}
}

func (c *Config) ExchangeProviderConfig() market.ExchangeConfig {
	return market.ExchangeConfig{
		Exchange:   c.Market.Exchange.Name,
		BaseURL:    c.Market.Exchange.BaseURL,
		Timeout:    c.Market.CallTimeout,
		RatePerSec: c.Market.Exchange.RatePerSec,
		Burst:      c.Market.Exchange.Burst,
		Symbols:    c.Market.Exchange.Markets,
		APIKey:     c.Market.Exchange.APIKey,
	}
}
