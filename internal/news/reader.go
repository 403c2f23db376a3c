// Package news reads economic headlines from RSS/Atom feeds.
package news

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxItems = 8
	// MaxItems is the most items a single fetch is asked for.
	MaxItems = 100
)

type Item struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Published   string    `json:"published"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary"`
}

type Reader struct {
	client *http.Client
	log    zerolog.Logger
}

func NewReader(timeout time.Duration, log zerolog.Logger) *Reader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reader{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Fetch returns at most maxItems items in feed order. Network failures and
// unparseable feeds yield an empty list; headlines are optional context.
func (r *Reader) Fetch(ctx context.Context, feedURL string, maxItems int) []Item {
	items, err := r.FetchE(ctx, feedURL, maxItems)
	if err != nil {
		r.log.Warn().Err(err).Str("url", feedURL).Msg("news feed unavailable")
		return []Item{}
	}
	return items
}

// FetchE is Fetch with the failure reported, for callers that keep a
// fallback copy.
func (r *Reader) FetchE(ctx context.Context, feedURL string, maxItems int) ([]Item, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "market-snapshot/1.0")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request feed: status %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	out := make([]Item, 0, maxItems)
	for _, it := range feed.Items {
		if len(out) >= maxItems {
			break
		}
		item, ok := toItem(it)
		if !ok {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func toItem(it *gofeed.Item) (Item, bool) {
	if it == nil {
		return Item{}, false
	}
	title := strings.TrimSpace(it.Title)
	link := strings.TrimSpace(it.Link)
	if title == "" && link == "" {
		return Item{}, false
	}

	item := Item{
		Title:     title,
		Link:      link,
		Published: strings.TrimSpace(it.Published),
		Summary:   strings.TrimSpace(it.Description),
	}
	if item.Summary == "" {
		item.Summary = strings.TrimSpace(it.Content)
	}
	switch {
	case it.PublishedParsed != nil:
		item.PublishedAt = it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		item.PublishedAt = it.UpdatedParsed.UTC()
		if item.Published == "" {
			item.Published = strings.TrimSpace(it.Updated)
		}
	}
	return item, true
}
