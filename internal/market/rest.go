package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// restClient is the rate-limited JSON GET shared by the crypto providers.
type restClient struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	header  http.Header
	// errPaths are tried in order for an upstream error message.
	errPaths []string
}

func newRESTClient(name, baseURL string, timeout time.Duration, perSec float64, burst int, errPaths ...string) *restClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &restClient{
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		limiter:  newLimiter(perSec, burst),
		header:   http.Header{},
		errPaths: errPaths,
	}
}

func (c *restClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, unavailable("%s rate limit wait: %v", c.name, err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		body, err := c.do(ctx, u)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == 2 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, unavailable("request %s: %v", c.name, ctx.Err())
		case <-time.After(150 * time.Millisecond):
		}
	}
	return nil, unavailable("request %s: %v", c.name, lastErr)
}

func (c *restClient) do(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		for _, path := range c.errPaths {
			if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.String() != "" {
				msg = r.String()
				break
			}
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json body")
	}
	return body, nil
}

func newLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "reset by peer") {
		return true
	}
	return strings.HasPrefix(msg, "status 5") || strings.HasPrefix(msg, "status 429")
}
