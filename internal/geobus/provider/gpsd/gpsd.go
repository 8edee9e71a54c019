// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/gpspoll"
	"github.com/wneessen/waybar-geofence/internal/vartype"
)

const (
	name          = "gpsd"
	DefaultHost   = "localhost"
	DefaultPort   = "2947"
	defaultPeriod = time.Second * 30
	defaultTTL    = time.Minute * 2
)

// errNoFix is reported when gpsd answers but the receiver has no 2D fix yet.
var errNoFix = errors.New("gpsd has no 2D fix")

// Mode selects how the provider talks to gpsd.
type Mode int

const (
	// ModePoll opens a short gpsd session once per period and reads a single TPV report.
	ModePoll Mode = iota
	// ModeWatch keeps a gpsd session open and forwards every TPV report with a 2D fix.
	ModeWatch
)

type GeolocationGPSDProvider struct {
	name     string
	addr     string
	mode     Mode
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (gpspoll.Fix, error)
	watchFn  func(ctx context.Context, addr string, fixes chan<- gpspoll.Fix) error
}

// NewGeolocationGPSDProvider returns a gpsd provider for host:port. Empty values fall back to
// the gpsd defaults. A period of zero selects the default polling period.
func NewGeolocationGPSDProvider(host, port string, mode Mode, period, timeout time.Duration) *GeolocationGPSDProvider {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	if period <= 0 {
		period = defaultPeriod
	}
	client := gpspoll.New(host, port)
	if timeout > 0 {
		client.Timeout = timeout
	}

	return &GeolocationGPSDProvider{
		name:     name,
		addr:     client.Addr,
		mode:     mode,
		period:   period,
		ttl:      defaultTTL,
		locateFn: client.Poll,
		watchFn:  watchSession,
	}
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	if p.mode == ModeWatch {
		return p.watchStream(ctx, key)
	}
	return p.pollStream(ctx, key)
}

// pollStream asks gpsd for a single fix once per period.
func (p *GeolocationGPSDProvider) pollStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	go func() {
		defer close(out)
		state := geobus.GeolocationState{}

		for {
			fix, err := p.locateFn(ctx)
			if ctx.Err() != nil {
				return
			}

			var res geobus.Result
			emit := true
			switch {
			case err != nil:
				res = geobus.NewErrorResult(key, p.name, err)
			case !fix.Has2DFix():
				res = geobus.NewErrorResult(key, p.name, errNoFix)
			default:
				coord := p.coordinate(fix)
				emit = state.HasChanged(coord)
				state.Update(coord)
				res = p.createResult(key, coord, fix)
			}

			if emit {
				select {
				case <-ctx.Done():
					return
				case out <- res:
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()

	return out
}

// watchStream forwards every TPV report of a long-lived gpsd session. The stream ends when the
// session is lost so the orchestrator can reconnect with backoff.
func (p *GeolocationGPSDProvider) watchStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	fixes := make(chan gpspoll.Fix)

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- p.watchFn(ctx, p.addr, fixes)
	}()

	go func() {
		defer close(out)
		for {
			var res geobus.Result
			select {
			case <-ctx.Done():
				return
			case err := <-sessionErr:
				if err == nil || ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
				case out <- geobus.NewErrorResult(key, p.name, err):
				}
				return
			case fix := <-fixes:
				if !fix.Has2DFix() {
					continue
				}
				res = p.createResult(key, p.coordinate(fix), fix)
			}

			select {
			case <-ctx.Done():
				return
			case out <- res:
			}
		}
	}()

	return out
}

func (p *GeolocationGPSDProvider) coordinate(fix gpspoll.Fix) geobus.Coordinate {
	return geobus.Coordinate{
		Lat: geobus.Truncate(fix.Lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(fix.Lon, geobus.TruncPrecision),
	}
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationGPSDProvider) createResult(key string, coord geobus.Coordinate, fix gpspoll.Fix) geobus.Result {
	at := fix.Time
	if at.IsZero() {
		at = time.Now()
	}
	return geobus.Result{
		Coordinate: coord,
		Key:        key,
		Accuracy:   vartype.NewVariable(fix.Acc),
		Source:     p.name,
		At:         at,
		TTL:        p.ttl,
	}
}

// watchSession runs a go-gpsd watch session and forwards each TPV report as a Fix. It returns
// once the session ends or ctx is cancelled.
func watchSession(ctx context.Context, addr string, fixes chan<- gpspoll.Fix) error {
	// go-gpsd does not take a context, so probe reachability first to get a classifiable error.
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", addr, err)
	}
	_ = conn.Close()

	session, err := gpsd.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", addr, err)
	}

	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok {
			return
		}
		fix := gpspoll.Fix{
			Lat:    tpv.Lat,
			Lon:    tpv.Lon,
			Alt:    tpv.Alt,
			Acc:    gpspoll.HorizontalAccuracy(0, tpv.Epx, tpv.Epy, int(tpv.Mode)),
			Mode:   int(tpv.Mode),
			Device: tpv.Device,
			Time:   time.Now(),
		}
		select {
		case <-ctx.Done():
		case fixes <- fix:
		}
	})

	done := session.Watch()
	select {
	case <-ctx.Done():
		// go-gpsd has no Close(); the session goroutine ends with the process or the connection.
		return nil
	case <-done:
		return fmt.Errorf("gpsd session at %q ended: %w", addr, geobus.ErrUnavailable)
	}
}
