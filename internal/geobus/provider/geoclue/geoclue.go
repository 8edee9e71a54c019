// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoclue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/vartype"
)

const (
	name = "geoclue"

	DefaultDesktopID = "waybar-geofence"
	defaultTimeout   = time.Second * 5
	defaultTTL       = time.Minute * 10

	geoclueService = "org.freedesktop.GeoClue2"
	managerPath    = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface   = "org.freedesktop.GeoClue2.Manager"
	clientIface    = "org.freedesktop.GeoClue2.Client"
	locationIface  = "org.freedesktop.GeoClue2.Location"
)

// GeoClue2 accuracy levels as defined by GClueAccuracyLevel.
const (
	AccuracyLevelCity  uint32 = 4
	AccuracyLevelExact uint32 = 8
)

// D-Bus error names that map to a position error kind.
const (
	errAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	errAuthFailed     = "org.freedesktop.DBus.Error.AuthFailed"
	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNoReply        = "org.freedesktop.DBus.Error.NoReply"
	errTimeout        = "org.freedesktop.DBus.Error.Timeout"
)

var ErrNoInitialFix = errors.New("geoclue did not deliver a location in time")

// fix is a single location reported by GeoClue.
type fix struct {
	Coordinate geobus.Coordinate
	Accuracy   float64
	At         time.Time
}

// session is a started GeoClue client.
type session interface {
	// Updates delivers the object path of every new location. It is closed when the session ends.
	Updates() <-chan dbus.ObjectPath
	Location(path dbus.ObjectPath) (fix, error)
	Close()
}

// GeolocationGeoClueProvider streams positions pushed by the GeoClue2 system service.
type GeolocationGeoClueProvider struct {
	name      string
	desktopID string
	level     uint32
	timeout   time.Duration
	ttl       time.Duration
	connectFn func(ctx context.Context, desktopID string, level uint32) (session, error)
}

// NewGeolocationGeoClueProvider returns a GeoClue2 provider. highAccuracy requests the EXACT accuracy
// level, otherwise CITY is requested. If no location arrives within timeout after the client was
// started, a timeout error is delivered.
func NewGeolocationGeoClueProvider(desktopID string, highAccuracy bool, timeout time.Duration) *GeolocationGeoClueProvider {
	if desktopID == "" {
		desktopID = DefaultDesktopID
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	level := AccuracyLevelCity
	if highAccuracy {
		level = AccuracyLevelExact
	}
	return &GeolocationGeoClueProvider{
		name:      name,
		desktopID: desktopID,
		level:     level,
		timeout:   timeout,
		ttl:       defaultTTL,
		connectFn: connect,
	}
}

func (p *GeolocationGeoClueProvider) Name() string {
	return p.name
}

// LookupStream starts a GeoClue client and forwards every LocationUpdated signal. The stream ends
// when the client session ends, so the orchestrator restarts it.
func (p *GeolocationGeoClueProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	go func() {
		defer close(out)
		send := func(r geobus.Result) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- r:
				return true
			}
		}

		sess, err := p.connectFn(ctx, p.desktopID, p.level)
		if err != nil {
			send(geobus.NewErrorResult(key, p.name, classify(err)))
			return
		}
		defer sess.Close()

		initial := time.NewTimer(p.timeout)
		defer initial.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-initial.C:
				if !send(geobus.NewErrorResult(key, p.name, ErrNoInitialFix)) {
					return
				}
			case path, ok := <-sess.Updates():
				if !ok {
					return
				}
				initial.Stop()
				loc, err := sess.Location(path)
				if err != nil {
					if !send(geobus.NewErrorResult(key, p.name, classify(err))) {
						return
					}
					continue
				}
				if !send(p.createResult(key, loc)) {
					return
				}
			}
		}
	}()

	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationGeoClueProvider) createResult(key string, loc fix) geobus.Result {
	at := loc.At
	if at.IsZero() {
		at = time.Now()
	}
	result := geobus.Result{
		Coordinate: geobus.Coordinate{
			Lat: geobus.Truncate(loc.Coordinate.Lat, geobus.TruncPrecision),
			Lon: geobus.Truncate(loc.Coordinate.Lon, geobus.TruncPrecision),
		},
		Key:    key,
		Source: p.name,
		At:     at,
		TTL:    p.ttl,
	}
	if loc.Accuracy > 0 {
		result.Accuracy = vartype.NewVariable(loc.Accuracy)
	}
	return result
}

// classify wraps D-Bus errors into position errors of the matching kind.
func classify(err error) error {
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	errName := ""
	switch {
	case errors.As(err, &dbusErr):
		errName = dbusErr.Name
	case errors.As(err, &dbusErrPtr):
		errName = dbusErrPtr.Name
	}

	kind := geobus.Classify(err)
	switch {
	case errName == errAccessDenied, errName == errAuthFailed:
		kind = geobus.ErrorPermissionDenied
	case errName == errNoReply, errName == errTimeout:
		kind = geobus.ErrorTimeout
	case errName == errServiceUnknown, strings.HasPrefix(errName, "org.freedesktop.DBus.Error."):
		kind = geobus.ErrorUnavailable
	}
	return &geobus.PositionError{Kind: kind, Source: name, Err: err}
}

// dbusSession is a GeoClue2 client on the system bus.
type dbusSession struct {
	conn    *dbus.Conn
	client  dbus.BusObject
	path    dbus.ObjectPath
	signals chan *dbus.Signal
	updates chan dbus.ObjectPath
	done    chan struct{}
}

func connect(ctx context.Context, desktopID string, level uint32) (session, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	var clientPath dbus.ObjectPath
	manager := conn.Object(geoclueService, managerPath)
	if err = manager.CallWithContext(ctx, managerIface+".GetClient", 0).Store(&clientPath); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create geoclue client: %w", err)
	}

	client := conn.Object(geoclueService, clientPath)
	if err = client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(desktopID)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set geoclue desktop id: %w", err)
	}
	if err = client.SetProperty(clientIface+".RequestedAccuracyLevel", dbus.MakeVariant(level)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set geoclue accuracy level: %w", err)
	}

	if err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(clientPath),
		dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember("LocationUpdated"),
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to subscribe to geoclue location updates: %w", err)
	}

	sess := &dbusSession{
		conn:    conn,
		client:  client,
		path:    clientPath,
		signals: make(chan *dbus.Signal, 10),
		updates: make(chan dbus.ObjectPath),
		done:    make(chan struct{}),
	}
	conn.Signal(sess.signals)
	go sess.forward()

	if err = client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to start geoclue client: %w", err)
	}
	return sess, nil
}

// forward turns LocationUpdated signals into location object paths.
func (s *dbusSession) forward() {
	defer close(s.updates)
	for {
		select {
		case <-s.done:
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			if sig.Path != s.path || sig.Name != clientIface+".LocationUpdated" || len(sig.Body) < 2 {
				continue
			}
			newPath, ok := sig.Body[1].(dbus.ObjectPath)
			if !ok {
				continue
			}
			select {
			case <-s.done:
				return
			case s.updates <- newPath:
			}
		}
	}
}

func (s *dbusSession) Updates() <-chan dbus.ObjectPath {
	return s.updates
}

func (s *dbusSession) Location(path dbus.ObjectPath) (fix, error) {
	var loc fix
	obj := s.conn.Object(geoclueService, path)

	lat, err := obj.GetProperty(locationIface + ".Latitude")
	if err != nil {
		return loc, fmt.Errorf("failed to read latitude: %w", err)
	}
	lon, err := obj.GetProperty(locationIface + ".Longitude")
	if err != nil {
		return loc, fmt.Errorf("failed to read longitude: %w", err)
	}
	if err = lat.Store(&loc.Coordinate.Lat); err != nil {
		return loc, fmt.Errorf("failed to decode latitude: %w", err)
	}
	if err = lon.Store(&loc.Coordinate.Lon); err != nil {
		return loc, fmt.Errorf("failed to decode longitude: %w", err)
	}

	if acc, err := obj.GetProperty(locationIface + ".Accuracy"); err == nil {
		_ = acc.Store(&loc.Accuracy)
	}
	if ts, err := obj.GetProperty(locationIface + ".Timestamp"); err == nil {
		loc.At = parseTimestamp(ts.Value())
	}
	return loc, nil
}

// Close stops the client and releases the bus connection. It is safe to call more than once.
func (s *dbusSession) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	_ = s.client.Call(clientIface+".Stop", 0).Err
	_ = s.conn.Object(geoclueService, managerPath).Call(managerIface+".DeleteClient", 0, s.path).Err
	s.conn.RemoveSignal(s.signals)
	_ = s.conn.Close()
}

// parseTimestamp converts the GeoClue (tt) timestamp of seconds and microseconds since the epoch.
func parseTimestamp(v any) time.Time {
	fields, ok := v.([]any)
	if !ok || len(fields) != 2 {
		return time.Time{}
	}
	sec, ok1 := fields[0].(uint64)
	usec, ok2 := fields[1].(uint64)
	if !ok1 || !ok2 || sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))
}
