// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/waybar-geofence/internal/geobus"
)

// coordPrecision is the precision used to quantize coordinates (0.001 degrees ≈ 110 m)
const coordPrecision = 1e-3

type cacheKey struct {
	Provider string
	LatQ     int32
	LonQ     int32
}

type cacheEntry struct {
	Address Address
	Expiry  time.Time
}

type searchEntry struct {
	Coordinate geobus.Coordinate
	Expiry     time.Time
}

// CachedGeocoder wraps a Geocoder and caches reverse lookups per ~100 m cell and searches per
// normalized query. Misses are cached for a shorter time than hits.
type CachedGeocoder struct {
	coder   Geocoder
	ttlHit  time.Duration
	ttlMiss time.Duration

	mu       sync.RWMutex
	cache    map[cacheKey]cacheEntry
	searches map[string]searchEntry
}

func NewCachedGeocoder(coder Geocoder, ttlHit, ttlMiss time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		coder:    coder,
		ttlHit:   ttlHit,
		ttlMiss:  ttlMiss,
		cache:    make(map[cacheKey]cacheEntry),
		searches: make(map[string]searchEntry),
	}
}

func (c *CachedGeocoder) Name() string {
	return "geocoder cache using " + c.coder.Name()
}

func (c *CachedGeocoder) Reverse(ctx context.Context, coords geobus.Coordinate) (Address, error) {
	key := newKey(c.coder.Name(), coords.Lat, coords.Lon)

	c.mu.RLock()
	entry, ok := c.cache[key]
	if ok && time.Now().Before(entry.Expiry) {
		addr := entry.Address
		c.mu.RUnlock()
		addr.CacheHit = true
		return addr, nil
	}
	c.mu.RUnlock()

	addr, err := c.coder.Reverse(ctx, coords)
	if err != nil {
		return addr, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := c.ttlHit
	if !addr.AddressFound {
		ttl = c.ttlMiss
	}
	c.cache[key] = cacheEntry{
		Address: addr,
		Expiry:  time.Now().Add(ttl),
	}

	return addr, nil
}

// Search resolves address through the wrapped geocoder. Failed searches are not cached.
func (c *CachedGeocoder) Search(ctx context.Context, address string) (geobus.Coordinate, error) {
	key := c.coder.Name() + "|" + strings.ToLower(strings.Join(strings.Fields(address), " "))

	c.mu.RLock()
	entry, ok := c.searches[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.Expiry) {
		return entry.Coordinate, nil
	}

	coords, err := c.coder.Search(ctx, address)
	if err != nil {
		return coords, err
	}

	c.mu.Lock()
	c.searches[key] = searchEntry{Coordinate: coords, Expiry: time.Now().Add(c.ttlHit)}
	c.mu.Unlock()
	return coords, nil
}

func quantizeCoord(val float64) int32 {
	return int32(math.Round(val / coordPrecision))
}

func newKey(provider string, lat, lon float64) cacheKey {
	return cacheKey{
		Provider: provider,
		LatQ:     quantizeCoord(lat),
		LonQ:     quantizeCoord(lon),
	}
}
