package market

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const coinGeckoBaseURL = "https://api.coingecko.com"

// coin ids for common base assets. Other bases fall back to the lower-cased
// ticker unless ExchangeConfig.Symbols maps them.
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"DOT":  "polkadot",
	"LTC":  "litecoin",
}

type CoinGeckoProvider struct {
	rest    *restClient
	symbols map[string]string
}

func NewCoinGeckoProvider(cfg ExchangeConfig) *CoinGeckoProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = coinGeckoBaseURL
	}
	rest := newRESTClient("coingecko", baseURL, cfg.Timeout, cfg.RatePerSec, cfg.Burst, "error", "status.error_message")
	if cfg.APIKey != "" {
		rest.header.Set("x-cg-demo-api-key", cfg.APIKey)
	}
	return &CoinGeckoProvider{rest: rest, symbols: cfg.Symbols}
}

func (p *CoinGeckoProvider) Kind() Kind {
	return KindCrypto
}

func (p *CoinGeckoProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	id, vs := p.coin(symbol)
	body, err := p.rest.get(ctx, "/api/v3/simple/price", url.Values{
		"ids":           {id},
		"vs_currencies": {vs},
	})
	if err != nil {
		return Quote{}, err
	}
	price := gjson.ParseBytes(body).Map()[id].Map()[vs]
	if price.Type != gjson.Number {
		return Quote{}, unavailable("coingecko price %s: no %s price for %s", symbol, vs, id)
	}
	v := price.Float()
	if v <= 0 {
		return Quote{}, unavailable("coingecko price %s: invalid price %s", symbol, price.Raw)
	}
	return NewQuote(symbol, KindCrypto, v, time.Now()), nil
}

// History reads market_chart over enough whole days to cover the window and
// keeps the newest w.Bars points. CoinGecko picks the granularity itself.
func (p *CoinGeckoProvider) History(ctx context.Context, symbol string, w Window) (HistorySeries, error) {
	w = w.normalize()
	id, vs := p.coin(symbol)
	days := int(math.Ceil((time.Duration(w.Bars) * w.Interval).Hours() / 24))
	if days < 1 {
		days = 1
	}
	body, err := p.rest.get(ctx, "/api/v3/coins/"+url.PathEscape(id)+"/market_chart", url.Values{
		"vs_currency": {vs},
		"days":        {strconv.Itoa(days)},
	})
	if err != nil {
		return HistorySeries{}, err
	}
	prices := gjson.GetBytes(body, "prices")
	if !prices.IsArray() {
		return HistorySeries{}, unavailable("coingecko market_chart %s: no prices array", symbol)
	}

	var samples []Sample
	prices.ForEach(func(_, point gjson.Result) bool {
		at, v := point.Get("0"), point.Get("1")
		if at.Type != gjson.Number || v.Type != gjson.Number || v.Float() <= 0 {
			return true
		}
		samples = append(samples, Sample{At: time.UnixMilli(at.Int()).UTC(), Price: v.Float()})
		return true
	})
	h := NewHistorySeries(symbol, samples)
	if h.Len() > w.Bars {
		h = NewHistorySeries(symbol, h.Samples()[h.Len()-w.Bars:])
	}
	return h, nil
}

// coin maps "BTC/USDT" to ("bitcoin", "usd"). Stablecoin quotes are priced
// in usd since CoinGecko has no usdt vs_currency.
func (p *CoinGeckoProvider) coin(symbol string) (id, vs string) {
	symbol = strings.TrimSpace(symbol)
	base, quote, _ := strings.Cut(strings.ToUpper(symbol), "/")
	switch quote {
	case "", "USDT", "USDC", "BUSD":
		vs = "usd"
	default:
		vs = strings.ToLower(quote)
	}
	if mapped, ok := p.symbols[symbol]; ok && mapped != "" {
		return mapped, vs
	}
	if known, ok := coinGeckoIDs[base]; ok {
		return known, vs
	}
	return strings.ToLower(base), vs
}
