// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/waybar-geofence/internal/job"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

// Orchestrator coordinates the tracking and publication of geolocation results from multiple
// providers through a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider
}

// Track initiates concurrent geolocation tracking for a given key across multiple providers in the Orchestrator.
// It blocks until ctx is cancelled and all provider loops have returned.
func (o *Orchestrator) Track(ctx context.Context, key string) {
	var wg sync.WaitGroup
	for _, p := range o.Providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			o.trackProvider(ctx, p, key)
		}(p)
	}
	<-ctx.Done()
	wg.Wait()
}

// Watch subscribes to key and starts tracking all providers. The returned Watch delivers the
// stream until it is cancelled or ctx ends.
func (o *Orchestrator) Watch(ctx context.Context, key string, buffer int) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	sub, unsub := o.Bus.Subscribe(key, buffer)
	watch := &Watch{
		samples: sub,
		unsub:   unsub,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(watch.done)
		o.Track(ctx, key)
	}()
	context.AfterFunc(ctx, watch.Cancel)
	return watch
}

// trackProvider continuously tracks a Provider for geolocation data, publishing results to
// the GeoBus and implementing backoff. A provider whose stream ends is restarted.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, key string) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lookupChan := o.safeLookup(ctx, p, key)
		if lookupChan == nil {
			o.Bus.Publish(NewErrorResult(key, p.Name(), fmt.Errorf("provider failed to start")))
			if !job.Wait(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-lookupChan:
				if !ok {
					o.Bus.logger.Debug("provider stream ended, restarting", slog.String("provider", p.Name()),
						slog.Duration("backoff", backoff))
					if !job.Wait(ctx, backoff) {
						return
					}
					backoff = nextBackoff(backoff)
					break stream
				}
				if r.Key == "" {
					r.Key = key
				}
				if r.IsError() {
					o.Bus.logger.Debug("provider reported a position error", slog.String("provider", p.Name()),
						logger.Err(r.Err))
				} else {
					backoff = initialBackoff
				}
				o.Bus.Publish(r)
			}
		}
	}
}

// safeLookup safely invokes the LookupStream method on a Provider and recovers from potential panics.
// Returns a read-only channel of Result or nil if the operation fails.
func (o *Orchestrator) safeLookup(ctx context.Context, provider Provider, key string) (ch <-chan Result) {
	defer func() {
		if r := recover(); r != nil {
			o.Bus.logger.Error("provider panicked", slog.String("provider", provider.Name()),
				slog.Any("panic", r))
			ch = nil
		}
	}()
	return provider.LookupStream(ctx, key)
}
