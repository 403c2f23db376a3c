package market

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type yahooQuote struct {
	Price float64
	At    time.Time
}

type yahooBar struct {
	At    time.Time
	Close decimal.Decimal
}

// yahooAPI is the slice of finance-go the provider needs.
type yahooAPI interface {
	Quote(symbol string) (yahooQuote, error)
	Bars(symbol string, start, end time.Time, interval time.Duration) ([]yahooBar, error)
}

type YahooConfig struct {
	Kind       Kind
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	// Tickers maps a caller symbol ("gold") to a Yahoo ticker ("GC=F").
	Tickers map[string]string
}

type YahooProvider struct {
	kind    Kind
	api     yahooAPI
	limiter *rate.Limiter
	tickers map[string]string
}

var setYahooClient sync.Once

func NewYahooProvider(cfg YahooConfig) (*YahooProvider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// finance-go keeps one package-level client
	setYahooClient.Do(func() {
		finance.SetHTTPClient(&http.Client{Timeout: timeout})
	})
	return newYahooProvider(cfg, financeGoAPI{})
}

func newYahooProvider(cfg YahooConfig, api yahooAPI) (*YahooProvider, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = KindEquity
	}
	if kind != KindEquity && kind != KindCommodity {
		return nil, fmt.Errorf("yahoo provider cannot serve kind %s", kind)
	}
	return &YahooProvider{
		kind:    kind,
		api:     api,
		limiter: newLimiter(cfg.RatePerSec, cfg.Burst),
		tickers: cfg.Tickers,
	}, nil
}

func (p *YahooProvider) Kind() Kind {
	return p.kind
}

func (p *YahooProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	ticker := p.ticker(symbol)
	q, err := call(ctx, p.limiter, func() (yahooQuote, error) {
		return p.api.Quote(ticker)
	})
	if err == nil && q.Price > 0 {
		at := q.At
		if at.IsZero() {
			at = time.Now()
		}
		return NewQuote(symbol, p.kind, q.Price, at), nil
	}

	// fall back to the last intraday close, as the chart endpoint is often
	// reachable when the quote endpoint is throttled
	h, herr := p.History(ctx, symbol, DefaultWindow)
	if herr == nil {
		if last, ok := h.Last(); ok {
			return NewQuote(symbol, p.kind, last.Price, last.At), nil
		}
	}
	if err == nil {
		err = fmt.Errorf("no price")
	}
	return Quote{}, unavailable("yahoo quote %s: %v", ticker, err)
}

func (p *YahooProvider) History(ctx context.Context, symbol string, w Window) (HistorySeries, error) {
	w = w.normalize()
	ticker := p.ticker(symbol)
	end := time.Now()
	start := end.Add(-time.Duration(w.Bars) * w.Interval)

	bars, err := call(ctx, p.limiter, func() ([]yahooBar, error) {
		return p.api.Bars(ticker, start, end, w.Interval)
	})
	if err != nil {
		return HistorySeries{}, unavailable("yahoo chart %s: %v", ticker, err)
	}

	samples := make([]Sample, 0, len(bars))
	for _, b := range bars {
		v, _ := b.Close.Float64()
		if v <= 0 {
			continue
		}
		samples = append(samples, Sample{At: b.At, Price: v})
	}
	if len(samples) > w.Bars {
		samples = samples[len(samples)-w.Bars:]
	}
	return NewHistorySeries(symbol, samples), nil
}

func (p *YahooProvider) ticker(symbol string) string {
	if t, ok := p.tickers[symbol]; ok && t != "" {
		return t
	}
	if t, ok := p.tickers[strings.ToLower(symbol)]; ok && t != "" {
		return t
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// call runs a blocking finance-go request so that ctx cancellation returns
// promptly; the request itself is bounded by the package client timeout.
func call[T any](ctx context.Context, limiter *rate.Limiter, fn func() (T, error)) (T, error) {
	var zero T
	if err := limiter.Wait(ctx); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

type financeGoAPI struct{}

func (financeGoAPI) Quote(symbol string) (yahooQuote, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return yahooQuote{}, err
	}
	if q == nil {
		return yahooQuote{}, fmt.Errorf("symbol not found")
	}
	out := yahooQuote{Price: q.RegularMarketPrice}
	if q.RegularMarketTime > 0 {
		out.At = time.Unix(int64(q.RegularMarketTime), 0).UTC()
	}
	return out, nil
}

func (financeGoAPI) Bars(symbol string, start, end time.Time, interval time.Duration) ([]yahooBar, error) {
	iv, err := chartInterval(interval)
	if err != nil {
		return nil, err
	}
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: iv,
	})
	var out []yahooBar
	for iter.Next() {
		b := iter.Bar()
		out = append(out, yahooBar{At: time.Unix(int64(b.Timestamp), 0).UTC(), Close: b.Close})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func chartInterval(d time.Duration) (datetime.Interval, error) {
	switch d {
	case time.Minute:
		return datetime.OneMin, nil
	case 5 * time.Minute:
		return datetime.FiveMins, nil
	case 15 * time.Minute:
		return datetime.FifteenMins, nil
	case 30 * time.Minute:
		return datetime.ThirtyMins, nil
	case time.Hour:
		return datetime.OneHour, nil
	case 24 * time.Hour:
		return datetime.OneDay, nil
	}
	return "", fmt.Errorf("unsupported interval %s", d)
}
