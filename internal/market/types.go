package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var ErrUpstreamUnavailable = errors.New("upstream unavailable")

type Kind string

const (
	KindEquity    Kind = "equity"
	KindCrypto    Kind = "crypto"
	KindCommodity Kind = "commodity"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindEquity, KindCrypto, KindCommodity:
		return k, nil
	}
	return "", fmt.Errorf("unknown source kind: %q", s)
}

// Quote is a point-in-time price. A nil Price is the unavailable sentinel;
// it still serializes as "price": null so consumers can tell it apart from
// a symbol that was never requested.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  *float64  `json:"price"`
	AsOf   time.Time `json:"as_of"`
	Source Kind      `json:"source"`
}

func Unavailable(symbol string, kind Kind) Quote {
	return Quote{Symbol: symbol, Source: kind, AsOf: time.Now()}
}

func NewQuote(symbol string, kind Kind, price float64, asOf time.Time) Quote {
	p := price
	return Quote{Symbol: symbol, Price: &p, AsOf: asOf, Source: kind}
}

func (q Quote) Available() bool {
	return q.Price != nil
}

type Sample struct {
	At    time.Time `json:"at"`
	Price float64   `json:"price"`
}

// HistorySeries is an immutable, time-ascending list of samples. Build it
// with NewHistorySeries; accessors hand out copies.
type HistorySeries struct {
	Symbol  string
	samples []Sample
}

func NewHistorySeries(symbol string, samples []Sample) HistorySeries {
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return HistorySeries{Symbol: symbol, samples: out}
}

func (h HistorySeries) Len() int {
	return len(h.samples)
}

func (h HistorySeries) Samples() []Sample {
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

func (h HistorySeries) Prices() []float64 {
	out := make([]float64, len(h.samples))
	for i, s := range h.samples {
		out[i] = s.Price
	}
	return out
}

func (h HistorySeries) Last() (Sample, bool) {
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

func (h HistorySeries) First() (Sample, bool) {
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[0], true
}

func (h HistorySeries) MarshalJSON() ([]byte, error) {
	samples := h.samples
	if samples == nil {
		samples = []Sample{}
	}
	return json.Marshal(struct {
		Symbol  string   `json:"symbol"`
		Samples []Sample `json:"samples"`
	}{h.Symbol, samples})
}

// Window selects a recent slice of history: Bars bars of Interval each.
type Window struct {
	Interval time.Duration
	Bars     int
}

var DefaultWindow = Window{Interval: time.Minute, Bars: 30}

func (w Window) normalize() Window {
	if w.Interval <= 0 {
		w.Interval = DefaultWindow.Interval
	}
	if w.Bars <= 0 {
		w.Bars = DefaultWindow.Bars
	}
	return w
}

// Provider binds to one upstream. Failures are returned as errors wrapping
// ErrUpstreamUnavailable so a caching layer can decide whether to serve a
// stale value; QuoteOrUnavailable and HistoryOrEmpty turn them into the
// sentinel values.
type Provider interface {
	Kind() Kind
	Quote(ctx context.Context, symbol string) (Quote, error)
	History(ctx context.Context, symbol string, w Window) (HistorySeries, error)
}

func QuoteOrUnavailable(q Quote, err error, symbol string, kind Kind) Quote {
	if err != nil || !q.Available() {
		return Unavailable(symbol, kind)
	}
	return q
}

func HistoryOrEmpty(h HistorySeries, err error, symbol string) HistorySeries {
	if err != nil {
		return NewHistorySeries(symbol, nil)
	}
	return h
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, fmt.Sprintf(format, args...))
}
