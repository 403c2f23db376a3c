package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-snapshot/internal/cache"
	"market-snapshot/internal/forecast"
	"market-snapshot/internal/market"
	"market-snapshot/internal/news"
	"market-snapshot/internal/prompt"
	"market-snapshot/internal/trend"
)

type Providers interface {
	Provider(kind market.Kind) (market.Provider, bool)
}

type NewsSource interface {
	FetchE(ctx context.Context, feedURL string, maxItems int) ([]news.Item, error)
}

type Forecaster interface {
	Call(ctx context.Context, prompt string, creds forecast.Credentials) (forecast.Analysis, *forecast.Error)
}

type Recorder interface {
	RecordUpstreamError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordRun(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamError(string)      {}
func (nopRecorder) RecordLastPrice(string, float64) {}
func (nopRecorder) RecordRun(time.Duration)         {}

const (
	kindNews          = "news"
	historyKindSuffix = "-history"
)

type Aggregator struct {
	providers  Providers
	feeds      NewsSource
	forecaster Forecaster
	cache      *cache.Store
	log        zerolog.Logger
	recorder   Recorder
	now        func() time.Time
	newID      func() string
}

type Option func(*Aggregator)

func WithForecaster(f Forecaster) Option {
	return func(a *Aggregator) { a.forecaster = f }
}

func WithCache(s *cache.Store) Option {
	return func(a *Aggregator) {
		if s != nil {
			a.cache = s
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.recorder = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(providers Providers, feeds NewsSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers: providers,
		feeds:     feeds,
		log:       zerolog.Nop(),
		recorder:  nopRecorder{},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache == nil {
		a.cache = cache.New()
	}
	return a
}

// Run builds one snapshot. Upstream failures degrade the affected entry to
// its sentinel value; the returned error is non-nil only for an invalid cfg.
func (a *Aggregator) Run(ctx context.Context, cfg Config) (MarketSnapshot, error) {
	if err := cfg.Validate(); err != nil {
		return MarketSnapshot{}, err
	}
	cfg = cfg.withDefaults()

	start := a.now()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	snap := MarketSnapshot{
		ID:               a.newID(),
		Symbols:          make([]string, 0, len(cfg.Symbols)),
		Quotes:           make(map[string]market.Quote, len(cfg.Symbols)),
		History:          make(map[string]market.HistorySeries, len(cfg.Symbols)),
		LocalPredictions: make(map[string]Prediction, len(cfg.Symbols)),
		FetchedAt:        start.UTC(),
	}
	for _, s := range cfg.Symbols {
		snap.Symbols = append(snap.Symbols, s.Name)
	}

	newsDone := make(chan []news.Item, 1)
	go func() { newsDone <- a.fetchNews(ctx, cfg) }()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(cfg.Concurrency)
	for _, sym := range cfg.Symbols {
		g.Go(func() error {
			q := a.fetchQuote(ctx, cfg, sym)
			mu.Lock()
			snap.Quotes[sym.Name] = q
			mu.Unlock()
			return nil
		})
		g.Go(func() error {
			h := a.fetchHistory(ctx, cfg, sym)
			mu.Lock()
			snap.History[sym.Name] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	snap.News = <-newsDone

	for _, sym := range cfg.Symbols {
		method, est := trend.PredictSeries(snap.History[sym.Name], cfg.PredictSteps)
		snap.LocalPredictions[sym.Name] = Prediction{Symbol: sym.Name, Method: method, PointEstimate: est}
		if q := snap.Quotes[sym.Name]; q.Available() {
			a.recorder.RecordLastPrice(sym.Name, *q.Price)
		}
	}

	if cfg.Forecast.Enabled && a.forecaster != nil {
		text := prompt.Build(prompt.Input{
			News:     snap.News,
			Quotes:   snap.Quotes,
			History:  snap.History,
			Metadata: a.metadata(snap),
		})
		analysis, ferr := a.forecaster.Call(ctx, text, cfg.Forecast.Credentials)
		if ferr != nil {
			snap.ModelError = ferr
		} else {
			snap.ModelAnalysis = &analysis
		}
	}

	elapsed := a.now().Sub(start)
	snap.ElapsedMs = elapsed.Milliseconds()
	a.recorder.RecordRun(elapsed)
	a.log.Info().
		Str("run_id", snap.ID).
		Int("symbols", len(cfg.Symbols)).
		Int("news", len(snap.News)).
		Int64("elapsed_ms", snap.ElapsedMs).
		Msg("snapshot built")
	return snap, nil
}

func (a *Aggregator) metadata(snap MarketSnapshot) map[string]string {
	md := map[string]string{
		"fetched_at": snap.FetchedAt.Format(time.RFC3339),
		"run_id":     snap.ID,
		"symbols":    strings.Join(snap.Symbols, ","),
	}
	if len(snap.Symbols) > 0 {
		md[prompt.MetaPrimarySymbol] = snap.Symbols[0]
	}
	return md
}

func (a *Aggregator) fetchNews(ctx context.Context, cfg Config) []news.Item {
	if cfg.FeedURL == "" || a.feeds == nil {
		return []news.Item{}
	}
	// the cached list is the feed's full head so runs with different
	// MaxNews share it
	key := cache.Key{Kind: kindNews, ID: cfg.FeedURL}
	items, res, err := cache.GetOrFetch(ctx, a.cache, key, cfg.NewsTTL, func(ctx context.Context) ([]news.Item, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
		return a.feeds.FetchE(ctx, cfg.FeedURL, news.MaxItems)
	})
	if err != nil {
		a.upstreamFailed(kindNews, cfg.FeedURL, err)
		return []news.Item{}
	}
	a.servedStale(key, res)
	if len(items) > cfg.MaxNews {
		items = items[:cfg.MaxNews]
	}
	return append([]news.Item{}, items...)
}

func (a *Aggregator) fetchQuote(ctx context.Context, cfg Config, sym Symbol) market.Quote {
	p, ok := a.providers.Provider(sym.Kind)
	if !ok {
		a.upstreamFailed(string(sym.Kind), sym.Name, fmt.Errorf("no provider for %s", sym.Kind))
		return market.Unavailable(sym.Name, sym.Kind)
	}

	key := cache.Key{Kind: string(sym.Kind), ID: sym.Name}
	q, res, err := cache.GetOrFetch(ctx, a.cache, key, cfg.QuoteTTL, func(ctx context.Context) (market.Quote, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
		q, err := p.Quote(ctx, sym.Name)
		if err == nil && !q.Available() {
			// never cache the sentinel as a fresh value
			err = fmt.Errorf("%w: %s has no price", market.ErrUpstreamUnavailable, sym.Name)
		}
		return q, err
	})
	if err != nil {
		a.upstreamFailed(string(sym.Kind), sym.Name, err)
	} else {
		a.servedStale(key, res)
	}
	return market.QuoteOrUnavailable(q, err, sym.Name, sym.Kind)
}

func (a *Aggregator) fetchHistory(ctx context.Context, cfg Config, sym Symbol) market.HistorySeries {
	p, ok := a.providers.Provider(sym.Kind)
	if !ok {
		return market.NewHistorySeries(sym.Name, nil)
	}

	key := cache.Key{Kind: string(sym.Kind) + historyKindSuffix, ID: sym.Name}
	h, res, err := cache.GetOrFetch(ctx, a.cache, key, cfg.HistoryTTL, func(ctx context.Context) (market.HistorySeries, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
		return p.History(ctx, sym.Name, cfg.Window)
	})
	if err != nil {
		a.upstreamFailed(key.Kind, sym.Name, err)
	} else {
		a.servedStale(key, res)
	}
	return market.HistoryOrEmpty(h, err, sym.Name)
}

func (a *Aggregator) upstreamFailed(kind, id string, err error) {
	a.recorder.RecordUpstreamError(kind)
	ev := a.log.Warn().Str("kind", kind).Str("id", id).Err(err)
	if errors.Is(err, context.DeadlineExceeded) {
		ev = ev.Bool("timeout", true)
	}
	ev.Msg("upstream unavailable")
}

func (a *Aggregator) servedStale(key cache.Key, res cache.Result) {
	if res.Outcome != cache.OutcomeStale {
		return
	}
	a.recorder.RecordUpstreamError(key.Kind)
	a.log.Warn().
		Str("kind", key.Kind).
		Str("id", key.ID).
		Time("fetched_at", res.FetchedAt).
		AnErr("refresh_error", res.FetchErr).
		Msg("serving stale value")
}
