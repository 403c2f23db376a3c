// Package cache memoizes upstream fetches per key with a time-to-live,
// collapses concurrent refreshes of the same key into one call and serves
// the last good value when a refresh fails.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrTypeMismatch = errors.New("cache: cached value has a different type")

type Key struct {
	Kind string
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeFetched Outcome = "fetched"
	OutcomeStale   Outcome = "stale"
	OutcomeError   Outcome = "error"
)

type Result struct {
	Outcome   Outcome
	FetchedAt time.Time
	// FetchErr is the refresh error that was absorbed when Outcome is stale.
	FetchErr error
}

type Observer interface {
	ObserveCache(kind string, outcome Outcome)
}

type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.fetchedAt) < e.ttl
}

// Store is safe for concurrent use. Entries live for the process lifetime and
// are only replaced by a successful refresh.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	group   singleflight.Group

	now      func() time.Time
	observer Observer
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[Key]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(key Key) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return e, ok
}

func (s *Store) store(key Key, value any, ttl time.Duration) time.Time {
	at := s.now()
	s.mu.Lock()
	s.entries[key] = &entry{value: value, fetchedAt: at, ttl: ttl}
	s.mu.Unlock()
	return at
}

func (s *Store) observe(kind string, outcome Outcome) {
	if s.observer != nil {
		s.observer.ObserveCache(kind, outcome)
	}
}

type flightResult struct {
	value     any
	fetchedAt time.Time
	hit       bool
	stale     bool
	fetchErr  error
}

// GetOrFetch returns the cached value for key while it is younger than ttl.
// Otherwise fetch runs once for all concurrent callers of the same key. When
// fetch fails and an older value exists, that value is returned with
// Outcome stale and a nil error; the error surfaces only when nothing was
// ever cached for key.
func GetOrFetch[T any](ctx context.Context, s *Store, key Key, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, Result, error) {
	var zero T

	if e, ok := s.lookup(key); ok && e.fresh(s.now()) {
		v, ok := e.value.(T)
		if !ok {
			return zero, Result{Outcome: OutcomeError}, fmt.Errorf("%s: %w", key, ErrTypeMismatch)
		}
		s.observe(key.Kind, OutcomeHit)
		return v, Result{Outcome: OutcomeHit, FetchedAt: e.fetchedAt}, nil
	}

	// the shared fetch outlives any one caller's cancellation; each caller
	// still stops waiting when its own ctx ends
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String(), func() (any, error) {
		// another flight may have refreshed the key while we queued
		if e, ok := s.lookup(key); ok && e.fresh(s.now()) {
			return flightResult{value: e.value, fetchedAt: e.fetchedAt, hit: true}, nil
		}

		v, fetchErr := fetch(shared)
		if fetchErr == nil {
			at := s.store(key, v, ttl)
			return flightResult{value: v, fetchedAt: at}, nil
		}

		if e, ok := s.lookup(key); ok {
			return flightResult{value: e.value, fetchedAt: e.fetchedAt, stale: true, fetchErr: fetchErr}, nil
		}
		return nil, fetchErr
	})

	var raw any
	select {
	case r := <-ch:
		if r.Err != nil {
			s.observe(key.Kind, OutcomeError)
			return zero, Result{Outcome: OutcomeError}, r.Err
		}
		raw = r.Val
	case <-ctx.Done():
		e, ok := s.lookup(key)
		if !ok {
			s.observe(key.Kind, OutcomeError)
			return zero, Result{Outcome: OutcomeError}, ctx.Err()
		}
		raw = flightResult{value: e.value, fetchedAt: e.fetchedAt, stale: true, fetchErr: ctx.Err()}
	}

	fr := raw.(flightResult)
	v, ok := fr.value.(T)
	if !ok {
		return zero, Result{Outcome: OutcomeError}, fmt.Errorf("%s: %w", key, ErrTypeMismatch)
	}
	res := Result{Outcome: OutcomeFetched, FetchedAt: fr.fetchedAt}
	switch {
	case fr.hit:
		res.Outcome = OutcomeHit
	case fr.stale:
		res.Outcome = OutcomeStale
		res.FetchErr = fr.fetchErr
	}
	s.observe(key.Kind, res.Outcome)
	return v, res, nil
}
