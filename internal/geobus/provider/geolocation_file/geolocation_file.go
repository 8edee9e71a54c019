// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/vartype"
)

const (
	name = "geolocation_file"

	// DefaultAccuracy is used for lines that do not carry an accuracy value. A hand-maintained
	// coordinate is usually precise to the street.
	DefaultAccuracy = 25
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// GeolocationFileProvider reads a position from a user-maintained file and emits it via a stream.
// The file holds a single "lat,lon[,accuracy]" line; empty lines and lines starting with "#" are
// ignored. The file is re-read periodically and a sample is only emitted when the position changed.
type GeolocationFileProvider struct {
	name     string
	path     string
	period   time.Duration
	ttl      time.Duration
	locateFn func() (geobus.Coordinate, float64, error)
}

// NewGeolocationFileProvider initializes a GeolocationFileProvider with a file path and default update
// interval and TTL settings.
func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		name:   name,
		path:   path,
		period: time.Second * 30,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.readFile
	return provider
}

// Name returns the name of the GeolocationFileProvider instance.
func (p *GeolocationFileProvider) Name() string {
	return p.name
}

// LookupStream continuously streams positions read from the file. Read failures are delivered as
// error results once per distinct error, so a missing file does not flood the stream.
func (p *GeolocationFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
		lastErr := ""
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			coord, acc, err := p.locateFn()
			var r geobus.Result
			switch {
			case err != nil:
				if err.Error() == lastErr {
					continue
				}
				lastErr = err.Error()
				r = geobus.NewErrorResult(key, p.name, err)
			case !state.HasChanged(coord) && lastErr == "":
				continue
			default:
				lastErr = ""
				state.Update(coord)
				r = p.createResult(key, coord, acc)
			}

			select {
			case <-ctx.Done():
				return
			case out <- r:
			}
		}
	}()
	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationFileProvider) createResult(key string, coord geobus.Coordinate, acc float64) geobus.Result {
	return geobus.Result{
		Coordinate: coord,
		Key:        key,
		Accuracy:   vartype.NewVariable(acc),
		Source:     p.name,
		At:         time.Now(),
		TTL:        p.ttl,
	}
}

// readFile reads the first valid coordinate line from the file at the configured path.
func (p *GeolocationFileProvider) readFile() (geobus.Coordinate, float64, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return geobus.Coordinate{}, 0, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		coord, acc, ok := parseLine(line)
		if !ok {
			continue
		}
		return coord, acc, nil
	}
	return geobus.Coordinate{}, 0, fmt.Errorf("geolocation file %q: %w", p.path, ErrNoCoordinates)
}

func parseLine(line string) (geobus.Coordinate, float64, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return geobus.Coordinate{}, 0, false
	}

	var values [3]float64
	values[2] = DefaultAccuracy
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return geobus.Coordinate{}, 0, false
		}
		values[i] = v
	}

	coord := geobus.Coordinate{Lat: values[0], Lon: values[1]}
	if !coord.Valid() || values[2] <= 0 {
		return geobus.Coordinate{}, 0, false
	}
	return coord, values[2], true
}
