package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoinGecko(t *testing.T, h http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := NewCryptoProvider(ExchangeConfig{
		Exchange: "coingecko",
		BaseURL:  srv.URL,
		Timeout:  time.Second,
		APIKey:   "demo-key",
		Symbols:  map[string]string{"PEPE/USDT": "pepe"},
	})
	require.NoError(t, err)
	require.IsType(t, &CoinGeckoProvider{}, p)
	return p
}

func TestCoinGeckoProvider_Quote(t *testing.T) {
	p := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/simple/price", r.URL.Path)
		assert.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		switch r.URL.Query().Get("ids") {
		case "bitcoin":
			w.Write([]byte(`{"bitcoin":{"usd":67012.5}}`))
		case "pepe":
			w.Write([]byte(`{"pepe":{"usd":0.0000123}}`))
		default:
			w.Write([]byte(`{}`))
		}
	})

	q, err := p.Quote(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.True(t, q.Available())
	assert.Equal(t, 67012.5, *q.Price)
	assert.Equal(t, KindCrypto, q.Source)

	q, err = p.Quote(context.Background(), "PEPE/USDT")
	require.NoError(t, err)
	assert.Equal(t, 0.0000123, *q.Price)

	_, err = p.Quote(context.Background(), "NOPE/USDT")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestCoinGeckoProvider_rateLimited(t *testing.T) {
	p := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":{"error_code":429,"error_message":"You've exceeded the Rate Limit."}}`))
	})

	_, err := p.Quote(context.Background(), "ETH/USDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "exceeded the Rate Limit")
}

func TestCoinGeckoProvider_History(t *testing.T) {
	p := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/coins/ethereum/market_chart", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "1", r.URL.Query().Get("days"))
		w.Write([]byte(`{"prices":[
			[1700000000000,10.0],
			[1700000060000,11.0],
			[1700000120000,"bad"],
			[1700000180000,12.0],
			[1700000240000,13.0]
		],"total_volumes":[]}`))
	})

	h, err := p.History(context.Background(), "ETH/USDT", Window{Interval: time.Minute, Bars: 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 12, 13}, h.Prices())
	last, _ := h.Last()
	assert.Equal(t, int64(1700000240000), last.At.UnixMilli())
}

func TestCoinGeckoProvider_HistoryWithoutPrices(t *testing.T) {
	p := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"coin not found"}`))
	})
	_, err := p.History(context.Background(), "BTC/USDT", DefaultWindow)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestCoinGeckoProvider_coinMapping(t *testing.T) {
	p := NewCoinGeckoProvider(ExchangeConfig{})
	for _, tc := range []struct{ symbol, id, vs string }{
		{"BTC/USDT", "bitcoin", "usd"},
		{"eth/eur", "ethereum", "eur"},
		{"SOL", "solana", "usd"},
		{"ARB/USDC", "arb", "usd"},
	} {
		id, vs := p.coin(tc.symbol)
		assert.Equal(t, tc.id, id, tc.symbol)
		assert.Equal(t, tc.vs, vs, tc.symbol)
	}
}
