// Package snapshot assembles news, quotes, history, local trend estimates
// and an optional model forecast into one MarketSnapshot.
package snapshot

import (
	"time"

	"market-snapshot/internal/forecast"
	"market-snapshot/internal/market"
	"market-snapshot/internal/news"
	"market-snapshot/internal/trend"
)

type Prediction struct {
	Symbol        string       `json:"symbol"`
	Method        trend.Method `json:"method"`
	PointEstimate *float64     `json:"point_estimate"`
}

// MarketSnapshot is built fresh by every run. Quotes, History and
// LocalPredictions always hold exactly the requested symbols. At most one of
// ModelAnalysis and ModelError is set; both are nil when forecasting is off.
type MarketSnapshot struct {
	ID               string                          `json:"id"`
	Symbols          []string                        `json:"symbols"`
	News             []news.Item                     `json:"news"`
	Quotes           map[string]market.Quote         `json:"quotes"`
	History          map[string]market.HistorySeries `json:"history"`
	LocalPredictions map[string]Prediction           `json:"local_predictions"`
	ModelAnalysis    *forecast.Analysis              `json:"model_analysis"`
	ModelError       *forecast.Error                 `json:"model_error"`
	FetchedAt        time.Time                       `json:"fetched_at"`
	ElapsedMs        int64                           `json:"elapsed_ms"`
}
