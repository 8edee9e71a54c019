// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/vartype"
)

const (
	accuracyEpsilon = 1e-6
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
)

const (
	AccuracyUnknown = 1000000
	TruncPrecision  = 6
)

var ErrLoggerRequired = errors.New("logger is required")

// Provider defines an interface for geolocation service providers.
// It supports retrieving streamed results for a given key.
type Provider interface {
	Name() string
	LookupStream(ctx context.Context, key string) <-chan Result
}

// GeoBus coordinates the publishing and subscribing of geolocation results between providers and consumers.
type GeoBus struct {
	mu           sync.RWMutex
	logger       *logger.Logger
	maxSampleAge time.Duration
	best         map[string]Result
	subscribers  map[string]map[chan Result]struct{}
}

// Result is a single delivery of the position stream. It either carries a position sample or, when
// Err is set, the reason a source failed to produce one.
type Result struct {
	Coordinate
	Key      string
	Accuracy vartype.VarFloat64
	Source   string
	At       time.Time
	TTL      time.Duration
	Err      *PositionError
}

// NewErrorResult returns a Result that carries err instead of a position.
func NewErrorResult(key, source string, err error) Result {
	perr := NewPositionError(source, err)
	return Result{Key: key, Source: source, At: time.Now(), Err: perr}
}

// IsError reports whether the Result carries a position error instead of a sample.
func (r Result) IsError() bool {
	return r.Err != nil
}

// AccuracyMeters returns the reported horizontal accuracy or AccuracyUnknown if the source did not report one.
func (r Result) AccuracyMeters() float64 {
	if !r.Accuracy.IsSet() || r.Accuracy.Value() <= 0 {
		return AccuracyUnknown
	}
	return r.Accuracy.Value()
}

// BetterThan reports whether r is strictly more accurate than prev.
func (r Result) BetterThan(prev Result) bool {
	if prev.Key == "" {
		return true
	}
	if r.At.Before(prev.At) {
		return false
	}
	return r.AccuracyMeters() < prev.AccuracyMeters()-accuracyEpsilon
}

// Supersedes reports whether r may replace prev as the current sample. Samples from the same source
// always supersede each other; a different source needs at least the same accuracy while prev is
// still within its TTL.
func (r Result) Supersedes(prev Result) bool {
	if prev.Key == "" || prev.IsExpired() || prev.Source == r.Source {
		return true
	}
	return r.BetterThan(prev) || r.AccuracyMeters() <= prev.AccuracyMeters()+accuracyEpsilon
}

// IsExpired checks if the Result has exceeded its time-to-live (TTL) based on the current time and the timestamp.
func (r Result) IsExpired() bool {
	return r.TTL > 0 && time.Since(r.At) > r.TTL
}

// New initializes and returns a new instance of GeoBus to handle geolocation result coordination.
// Samples older than maxSampleAge are dropped; a zero maxSampleAge disables the check.
func New(log *logger.Logger, maxSampleAge time.Duration) (*GeoBus, error) {
	if log == nil {
		return nil, ErrLoggerRequired
	}
	return &GeoBus{
		logger:       log,
		maxSampleAge: maxSampleAge,
		best:         make(map[string]Result),
		subscribers:  make(map[string]map[chan Result]struct{}),
	}, nil
}

func (b *GeoBus) NewOrchestrator(provider []Provider) *Orchestrator {
	return &Orchestrator{
		Bus:       b,
		Providers: provider,
	}
}

// Subscribe adds a subscriber for updates associated with the given key and buffer size, returning a result
// channel and an unsubscribe function.
func (b *GeoBus) Subscribe(key string, size int) (<-chan Result, func()) {
	resultChan := make(chan Result, size)
	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[chan Result]struct{})
	}

	b.subscribers[key][resultChan] = struct{}{}
	if best, ok := b.best[key]; ok && !best.IsExpired() && !b.isStale(best) {
		select {
		case resultChan <- best:
		default:
		}
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[key]; ok {
				delete(subs, resultChan)
				if len(subs) == 0 {
					delete(b.subscribers, key)
				}
			}
			b.mu.Unlock()
			close(resultChan)
		})
	}

	return resultChan, unsub
}

// Publish hands a Result to all subscribers of its key. Errors are always forwarded. Samples are
// forwarded in arrival order unless they are invalid, stale or from a less accurate source than the
// current one.
func (b *GeoBus) Publish(r Result) {
	if r.At.IsZero() {
		r.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if r.IsError() {
		b.broadcastResult(r)
		return
	}
	if !r.Valid() {
		b.logger.Debug("dropping invalid coordinate", slog.String("source", r.Source),
			logger.Position("position", r.Lat, r.Lon))
		return
	}
	if b.isStale(r) {
		b.logger.Debug("dropping stale sample", slog.String("source", r.Source),
			slog.Duration("age", time.Since(r.At)))
		return
	}

	prev := b.best[r.Key]
	if !r.Supersedes(prev) {
		b.logger.Debug("dropping less accurate sample", slog.String("source", r.Source),
			slog.String("current_source", prev.Source), logger.Meters("accuracy", r.AccuracyMeters()))
		return
	}
	b.best[r.Key] = r
	b.broadcastResult(r)
}

// broadcastResult never blocks on a slow subscriber.
func (b *GeoBus) broadcastResult(r Result) {
	subs, ok := b.subscribers[r.Key]
	if !ok {
		return
	}
	for ch := range subs {
		select {
		case ch <- r:
		default:
			b.logger.Warn("subscriber buffer full, dropping result", slog.String("key", r.Key),
				slog.String("source", r.Source))
		}
	}
}

// Forget drops the stored sample for key so that new subscribers are not handed it.
func (b *GeoBus) Forget(key string) {
	b.mu.Lock()
	delete(b.best, key)
	b.mu.Unlock()
}

// isStale reports whether r is older than the configured maximum sample age.
func (b *GeoBus) isStale(r Result) bool {
	return b.maxSampleAge > 0 && time.Since(r.At) > b.maxSampleAge
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
