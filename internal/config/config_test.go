package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-snapshot/internal/market"
	"market-snapshot/internal/snapshot"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "FEED_URL", "SYMBOLS_EQUITY", "SYMBOLS_CRYPTO", "SYMBOLS_COMMODITY",
		"FORECAST_PROVIDER", "FORECAST_MODEL", "FORECAST_API_KEY", "GEMINI_API_KEY",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "CRYPTO_EXCHANGE", "COINGECKO_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Market.Symbols.Equity)
	assert.Equal(t, 10*time.Second, cfg.Market.CallTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Cache.NewsTTL)
	assert.Equal(t, "gemini", cfg.Forecast.Provider)
	assert.True(t, cfg.Forecast.Enabled)
	assert.Empty(t, cfg.Forecast.APIKey)
}

func TestLoad_fileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  port: 9090
market:
  symbols:
    equity: [TSLA]
    crypto: []
    commodity: [gold]
  yahoo:
    tickers:
      gold: GC=F
  concurrency: 2
  call_timeout: 3s
cache:
  quote_ttl: 15s
forecast:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []snapshot.Symbol{
		{Name: "TSLA", Kind: market.KindEquity},
		{Name: "gold", Kind: market.KindCommodity},
	}, cfg.Symbols())

	sc := cfg.SnapshotConfig()
	require.NoError(t, sc.Validate())
	assert.Equal(t, 2, sc.Concurrency)
	assert.Equal(t, 3*time.Second, sc.CallTimeout)
	assert.Equal(t, 15*time.Second, sc.QuoteTTL)
	assert.Equal(t, 60*time.Second, sc.HistoryTTL)
	assert.False(t, sc.Forecast.Enabled)
	assert.Equal(t, market.Window{Interval: time.Minute, Bars: 30}, sc.Window)

	yc := cfg.YahooProviderConfig(market.KindCommodity)
	assert.Equal(t, "GC=F", yc.Tickers["gold"])
	assert.Equal(t, 3*time.Second, yc.Timeout)
}

func TestLoad_envOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7070")
	t.Setenv("SYMBOLS_CRYPTO", " SOL/USDT , ,BTC/USDT")
	t.Setenv("GEMINI_API_KEY", "gem")
	t.Setenv("FEED_URL", "https://example.com/rss")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"SOL/USDT", "BTC/USDT"}, cfg.Market.Symbols.Crypto)
	assert.Equal(t, "gem", cfg.Forecast.APIKey)
	assert.Equal(t, "https://example.com/rss", cfg.SnapshotConfig().FeedURL)

	t.Setenv("FORECAST_API_KEY", "generic")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "generic", cfg.Forecast.APIKey)
	assert.Equal(t, "generic", cfg.SnapshotConfig().Forecast.Credentials.APIKey)
}

func TestLoad_coingeckoExchange(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRYPTO_EXCHANGE", "CoinGecko")
	t.Setenv("COINGECKO_API_KEY", "cg-key")

	cfg, err := Load("")
	require.NoError(t, err)
	ex := cfg.ExchangeProviderConfig()
	assert.Equal(t, "coingecko", ex.Exchange)
	assert.Equal(t, "cg-key", ex.APIKey)

	p, err := market.NewCryptoProvider(ex)
	require.NoError(t, err)
	assert.IsType(t, &market.CoinGeckoProvider{}, p)
}

func TestLoad_openaiKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("FORECAST_PROVIDER", "OpenAI")
	t.Setenv("FORECAST_MODEL", "gpt-4o-mini")
	t.Setenv("GEMINI_API_KEY", "gem")
	t.Setenv("OPENAI_API_KEY", "oa")
	t.Setenv("OPENAI_BASE_URL", "https://llm.example.com/v1")

	cfg, err := Load("")
	require.NoError(t, err)
	fc := cfg.ForecastClientConfig()
	assert.Equal(t, "openai", fc.Provider)
	assert.Equal(t, "gpt-4o-mini", fc.Model)
	assert.Equal(t, "https://llm.example.com/v1", fc.Endpoint)
	assert.Equal(t, "oa", cfg.Forecast.APIKey)
}

func TestLoad_invalid(t *testing.T) {
	clearEnv(t)

	t.Run("port", func(t *testing.T) {
		t.Setenv("PORT", "99999")
		_, err := Load("")
		assert.ErrorContains(t, err, "invalid PORT")
	})
	t.Run("provider", func(t *testing.T) {
		_, err := Load(writeFile(t, "forecast:\n  provider: palm\n"))
		assert.ErrorContains(t, err, "Provider")
	})
	t.Run("no symbols", func(t *testing.T) {
		_, err := Load(writeFile(t, "market:\n  symbols:\n    equity: []\n    crypto: []\n    commodity: []\n"))
		assert.ErrorIs(t, err, snapshot.ErrInvalidConfig)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "server: [\n"))
		assert.ErrorContains(t, err, "parse config")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "read config")
	})
}

func TestLoad_sampleFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "configs", "app.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Symbols(), 6)
	assert.Equal(t, "CL=F", cfg.Market.Yahoo.Tickers["oil"])
}
