package market

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHistorySeries_sortsAndFilters(t *testing.T) {
	t0 := time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)
	h := NewHistorySeries("AAPL", []Sample{
		{At: t0.Add(2 * time.Minute), Price: 3},
		{At: t0, Price: 1},
		{At: t0.Add(time.Minute), Price: math.NaN()},
		{At: t0.Add(time.Minute), Price: 2},
	})

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []float64{1, 2, 3}, h.Prices())
	first, ok := h.First()
	require.True(t, ok)
	assert.Equal(t, t0, first.At)
}

func TestHistorySeries_samplesAreCopies(t *testing.T) {
	in := []Sample{{At: time.Unix(1, 0), Price: 10}}
	h := NewHistorySeries("X", in)
	in[0].Price = 99

	out := h.Samples()
	out[0].Price = 42

	last, _ := h.Last()
	assert.Equal(t, 10.0, last.Price)
}

func TestHistorySeries_emptyJSON(t *testing.T) {
	b, err := json.Marshal(NewHistorySeries("BTC/USDT", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"BTC/USDT","samples":[]}`, string(b))
}

func TestQuote_unavailableSerializesNull(t *testing.T) {
	q := Unavailable("GC=F", KindCommodity)
	assert.False(t, q.Available())

	b, err := json.Marshal(q)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	v, ok := m["price"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestQuoteOrUnavailable(t *testing.T) {
	ok := NewQuote("AAPL", KindEquity, 150, time.Now())
	assert.Equal(t, ok, QuoteOrUnavailable(ok, nil, "AAPL", KindEquity))

	got := QuoteOrUnavailable(Quote{}, errors.New("boom"), "AAPL", KindEquity)
	assert.False(t, got.Available())
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, KindEquity, got.Source)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Crypto ")
	require.NoError(t, err)
	assert.Equal(t, KindCrypto, k)

	_, err = ParseKind("bonds")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	y, err := newYahooProvider(YahooConfig{Kind: KindEquity}, &fakeYahoo{})
	require.NoError(t, err)
	r, err := NewRegistry(y)
	require.NoError(t, err)

	p, ok := r.Provider(KindEquity)
	assert.True(t, ok)
	assert.Equal(t, KindEquity, p.Kind())

	_, ok = r.Provider(KindCrypto)
	assert.False(t, ok)

	_, err = NewRegistry(y, y)
	assert.Error(t, err)
}
