package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Binance-compatible spot REST hosts. Any exchange speaking the same
// /api/v3 ticker and klines dialect can be added through ExchangeConfig.BaseURL.
var exchangeBaseURLs = map[string]string{
	"binance":   "https://api.binance.com",
	"binanceus": "https://api.binance.us",
	"mexc":      "https://api.mexc.com",
}

type ExchangeConfig struct {
	Exchange   string
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	// Symbols maps a caller symbol such as "BTC/USDT" to the exchange's
	// market id. Unmapped symbols have the slash removed and are upper-cased.
	Symbols map[string]string
	// APIKey is sent by providers whose API takes one (coingecko).
	APIKey string
}

// NewCryptoProvider picks the crypto dialect by exchange name: "coingecko"
// uses the CoinGecko public API, anything else the Binance-style REST API.
func NewCryptoProvider(cfg ExchangeConfig) (Provider, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Exchange), "coingecko") {
		return NewCoinGeckoProvider(cfg), nil
	}
	return NewExchangeProvider(cfg)
}

type ExchangeProvider struct {
	exchange string
	rest     *restClient
	symbols  map[string]string
}

func NewExchangeProvider(cfg ExchangeConfig) (*ExchangeProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Exchange))
	if name == "" {
		name = "binance"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		known, ok := exchangeBaseURLs[name]
		if !ok {
			return nil, fmt.Errorf("unsupported exchange: %s", cfg.Exchange)
		}
		baseURL = known
	}
	return &ExchangeProvider{
		exchange: name,
		rest:     newRESTClient(name, baseURL, cfg.Timeout, cfg.RatePerSec, cfg.Burst, "msg"),
		symbols:  cfg.Symbols,
	}, nil
}

func (p *ExchangeProvider) Kind() Kind {
	return KindCrypto
}

func (p *ExchangeProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	body, err := p.rest.get(ctx, "/api/v3/ticker/price", url.Values{"symbol": {p.marketID(symbol)}})
	if err != nil {
		return Quote{}, err
	}
	price := gjson.GetBytes(body, "price")
	if !price.Exists() {
		return Quote{}, unavailable("%s ticker %s: no price field", p.exchange, symbol)
	}
	v := price.Float()
	if v <= 0 {
		return Quote{}, unavailable("%s ticker %s: invalid price %q", p.exchange, symbol, price.String())
	}
	return NewQuote(symbol, KindCrypto, v, time.Now()), nil
}

func (p *ExchangeProvider) History(ctx context.Context, symbol string, w Window) (HistorySeries, error) {
	w = w.normalize()
	interval, err := klineInterval(w.Interval)
	if err != nil {
		return HistorySeries{}, unavailable("%s klines %s: %v", p.exchange, symbol, err)
	}
	body, err := p.rest.get(ctx, "/api/v3/klines", url.Values{
		"symbol":   {p.marketID(symbol)},
		"interval": {interval},
		"limit":    {fmt.Sprintf("%d", w.Bars)},
	})
	if err != nil {
		return HistorySeries{}, err
	}
	rows := gjson.ParseBytes(body)
	if !rows.IsArray() {
		return HistorySeries{}, unavailable("%s klines %s: response is not an array", p.exchange, symbol)
	}

	samples := make([]Sample, 0, w.Bars)
	rows.ForEach(func(_, row gjson.Result) bool {
		openTime := row.Get("0")
		closePrice := row.Get("4")
		if !row.IsArray() || !openTime.Exists() || !closePrice.Exists() {
			return true
		}
		v := closePrice.Float()
		if v <= 0 {
			return true
		}
		samples = append(samples, Sample{At: time.UnixMilli(openTime.Int()).UTC(), Price: v})
		return true
	})
	return NewHistorySeries(symbol, samples), nil
}

func (p *ExchangeProvider) marketID(symbol string) string {
	if id, ok := p.symbols[symbol]; ok && id != "" {
		return id
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func klineInterval(d time.Duration) (string, error) {
	switch d {
	case time.Minute:
		return "1m", nil
	case 3 * time.Minute:
		return "3m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	case 30 * time.Minute:
		return "30m", nil
	case time.Hour:
		return "1h", nil
	case 4 * time.Hour:
		return "4h", nil
	case 24 * time.Hour:
		return "1d", nil
	}
	return "", fmt.Errorf("unsupported interval %s", d)
}

