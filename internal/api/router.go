package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"market-snapshot/internal/market"
	"market-snapshot/internal/snapshot"
)

const stopTimeout = 15 * time.Second

type Service struct {
	runner snapshot.Runner
	live   *snapshot.Live
	base   snapshot.Config
	log    zerolog.Logger

	mu     sync.RWMutex
	latest *snapshot.MarketSnapshot
}

func NewService(runner snapshot.Runner, live *snapshot.Live, base snapshot.Config, log zerolog.Logger) *Service {
	return &Service{runner: runner, live: live, base: base, log: log}
}

func RegisterRoutes(r *route.Engine, svc *Service, gatherer prometheus.Gatherer) {
	r.GET("/healthz", func(_ context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, map[string]bool{"ok": true})
	})

	r.POST("/api/v1/snapshot", func(ctx context.Context, c *app.RequestContext) {
		cfg := svc.base
		cfg.Symbols = parseSymbols(string(c.Query("symbols")), svc.base.Symbols)
		if len(cfg.Symbols) == 0 {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "symbols is empty",
			})
			return
		}
		if v := string(c.Query("forecast")); v == "false" || v == "0" {
			cfg.Forecast.Enabled = false
		}

		snap, err := svc.runner.Run(ctx, cfg)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, snapshot.ErrInvalidConfig) {
				status = http.StatusBadRequest
			}
			c.JSON(status, map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}

		svc.mu.Lock()
		svc.latest = &snap
		svc.mu.Unlock()
		c.JSON(http.StatusOK, map[string]any{
			"ok":       true,
			"snapshot": snap,
		})
	})

	r.GET("/api/v1/snapshot/latest", func(_ context.Context, c *app.RequestContext) {
		snap, source, ok := svc.newest()
		if !ok {
			c.JSON(http.StatusNotFound, map[string]any{
				"ok":    false,
				"error": "no snapshot yet",
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":       true,
			"source":   source,
			"snapshot": snap,
		})
	})

	r.POST("/api/v1/live/start", func(_ context.Context, c *app.RequestContext) {
		cfg := svc.base
		cfg.Symbols = parseSymbols(string(c.Query("symbols")), svc.base.Symbols)
		if raw := strings.TrimSpace(string(c.Query("interval"))); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, map[string]any{
					"ok":    false,
					"error": "invalid interval",
				})
				return
			}
			cfg.RefreshInterval = d
		}

		if err := svc.live.Start(cfg); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, snapshot.ErrNotIdle):
				status = http.StatusConflict
			case errors.Is(err, snapshot.ErrInvalidConfig):
				status = http.StatusBadRequest
			}
			c.JSON(status, map[string]any{
				"ok":    false,
				"error": err.Error(),
				"state": svc.live.State(),
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":       true,
			"state":    svc.live.State(),
			"interval": cfg.RefreshInterval.String(),
		})
	})

	r.POST("/api/v1/live/stop", func(ctx context.Context, c *app.RequestContext) {
		ctx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		if err := svc.live.Stop(ctx); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, snapshot.ErrNotRunning) {
				status = http.StatusConflict
			}
			c.JSON(status, map[string]any{
				"ok":    false,
				"error": err.Error(),
				"state": svc.live.State(),
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":    true,
			"state": svc.live.State(),
		})
	})

	r.GET("/api/v1/live/status", func(_ context.Context, c *app.RequestContext) {
		resp := map[string]any{
			"ok":    true,
			"state": svc.live.State(),
		}
		if f, ok := svc.live.Latest(); ok {
			resp["frame"] = f
		}
		c.JSON(http.StatusOK, resp)
	})

	if gatherer != nil {
		r.GET("/metrics", adaptor.HertzHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Service) newest() (snapshot.MarketSnapshot, string, bool) {
	s.mu.RLock()
	oneShot := s.latest
	s.mu.RUnlock()

	frame, haveLive := s.live.Latest()
	switch {
	case oneShot == nil && !haveLive:
		return snapshot.MarketSnapshot{}, "", false
	case oneShot == nil:
		return frame.Snapshot, "live", true
	case !haveLive || oneShot.FetchedAt.After(frame.Snapshot.FetchedAt):
		return *oneShot, "run", true
	default:
		return frame.Snapshot, "live", true
	}
}

// parseSymbols reads "AAPL,BTC/USDT:crypto". A bare name keeps the kind it
// has in defaults and is an equity otherwise.
func parseSymbols(raw string, defaults []snapshot.Symbol) []snapshot.Symbol {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaults
	}
	known := make(map[string]market.Kind, len(defaults))
	for _, s := range defaults {
		known[s.Name] = s.Kind
	}

	parts := strings.Split(raw, ",")
	out := make([]snapshot.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, kind := p, market.Kind("")
		if i := strings.LastIndex(p, ":"); i > 0 {
			name, kind = strings.TrimSpace(p[:i]), market.Kind(strings.ToLower(strings.TrimSpace(p[i+1:])))
		}
		if kind == "" {
			kind = known[name]
		}
		if kind == "" {
			kind = market.KindEquity
		}
		out = append(out, snapshot.Symbol{Name: name, Kind: kind})
	}
	return out
}
