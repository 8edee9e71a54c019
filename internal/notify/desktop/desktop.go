// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package desktop delivers notifications through org.freedesktop.Notifications on the session
// bus and tracks whether a notification daemon is available.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/notify"
)

const (
	name = "dbus"

	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod         = notificationsService + ".Notify"

	busIface            = "org.freedesktop.DBus"
	busPath             = dbus.ObjectPath("/org/freedesktop/DBus")
	getNameOwnerMethod  = busIface + ".GetNameOwner"
	listActivatableName = busIface + ".ListActivatableNames"
	nameOwnerChanged    = "NameOwnerChanged"
	errNameHasNoOwner   = "org.freedesktop.DBus.Error.NameHasNoOwner"

	signalBufferSize = 8
)

// Urgency levels of org.freedesktop.Notifications.
const (
	UrgencyLow byte = iota
	UrgencyNormal
	UrgencyCritical
)

var ErrNotConnected = errors.New("not connected to the session bus")

type Config struct {
	AppName string
	Icon    string
	Expire  time.Duration // zero leaves the timeout to the notification daemon
	Urgency byte
}

type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call
}

// Desktop is both the notification sink and the subscription registry for the session bus. The
// handle is present while the notification service has an owner or can be bus-activated.
type Desktop struct {
	config        Config
	log           *logger.Logger
	conn          *dbus.Conn
	notifications caller
	bus           caller
	lastID        atomic.Uint32

	mu          sync.RWMutex
	owner       string
	activatable bool
	changed     chan struct{}
}

// New connects to the session bus.
func New(ctx context.Context, config Config, log *logger.Logger) (*Desktop, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	desktop := newDesktop(conn.Object(notificationsService, notificationsPath), conn.BusObject(), config, log)
	desktop.conn = conn
	return desktop, nil
}

func newDesktop(notifications, bus caller, config Config, log *logger.Logger) *Desktop {
	if config.AppName == "" {
		config.AppName = "waybar-geofence"
	}
	return &Desktop{
		config:        config,
		log:           log,
		notifications: notifications,
		bus:           bus,
		changed:       make(chan struct{}),
	}
}

func (d *Desktop) Name() string {
	return name
}

// Send shows msg as a desktop notification. A new notification replaces the previous one.
func (d *Desktop) Send(ctx context.Context, msg notify.Message) error {
	expire := int32(-1)
	if d.config.Expire > 0 {
		expire = int32(d.config.Expire.Milliseconds())
	}
	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(d.config.Urgency),
		"desktop-entry": dbus.MakeVariant(d.config.AppName),
	}

	var id uint32
	call := d.notifications.CallWithContext(ctx, notifyMethod, 0, d.config.AppName, d.lastID.Load(),
		d.config.Icon, msg.Title, msg.Body, []string{}, hints, expire)
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("failed to call %s: %w", notifyMethod, err)
	}
	d.lastID.Store(id)
	return nil
}

// Current returns the handle of the notification daemon, if one is available.
func (d *Desktop) Current() (notify.Handle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch {
	case d.owner != "":
		return notify.Endpoint(d.owner), true
	case d.activatable:
		return notify.Endpoint(notificationsService), true
	}
	return nil, false
}

// Request refreshes the daemon state and waits until a handle is available or ctx is done.
func (d *Desktop) Request(ctx context.Context) (notify.Handle, error) {
	if err := d.Refresh(ctx); err != nil {
		d.log.Warn("failed to look up notification daemon", logger.Err(err))
	}
	for {
		d.mu.RLock()
		changed := d.changed
		d.mu.RUnlock()

		if handle, ok := d.Current(); ok {
			return handle, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", notify.ErrNoSubscription, ctx.Err())
		case <-changed:
		}
	}
}

// Refresh queries the bus for the current owner of the notification service and whether it can
// be activated on demand.
func (d *Desktop) Refresh(ctx context.Context) error {
	var owner string
	err := d.bus.CallWithContext(ctx, getNameOwnerMethod, 0, notificationsService).Store(&owner)
	if err != nil && !isNoOwner(err) {
		return fmt.Errorf("failed to get owner of %s: %w", notificationsService, err)
	}

	var names []string
	if err = d.bus.CallWithContext(ctx, listActivatableName, 0).Store(&names); err != nil {
		return fmt.Errorf("failed to list activatable names: %w", err)
	}
	d.setState(owner, slices.Contains(names, notificationsService))
	return nil
}

// Watch tracks NameOwnerChanged for the notification service until ctx is done or the bus
// connection is closed.
func (d *Desktop) Watch(ctx context.Context) error {
	if d.conn == nil {
		return ErrNotConnected
	}
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(busPath),
		dbus.WithMatchInterface(busIface),
		dbus.WithMatchMember(nameOwnerChanged),
		dbus.WithMatchArg(0, notificationsService),
	}
	if err := d.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nameOwnerChanged, err)
	}
	sigCh := make(chan *dbus.Signal, signalBufferSize)
	d.conn.Signal(sigCh)
	defer d.conn.RemoveSignal(sigCh)

	if err := d.Refresh(ctx); err != nil {
		d.log.Warn("failed to look up notification daemon", logger.Err(err))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigCh:
			if !ok {
				return ErrNotConnected
			}
			d.handleSignal(sig)
		}
	}
}

// Close closes the session bus connection.
func (d *Desktop) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *Desktop) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != busIface+"."+nameOwnerChanged || len(sig.Body) != 3 {
		return
	}
	service, ok := sig.Body[0].(string)
	if !ok || service != notificationsService {
		return
	}
	newOwner, ok := sig.Body[2].(string)
	if !ok {
		return
	}
	d.mu.RLock()
	activatable := d.activatable
	d.mu.RUnlock()
	d.setState(newOwner, activatable)
}

func (d *Desktop) setState(owner string, activatable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if owner == d.owner && activatable == d.activatable {
		return
	}
	d.owner, d.activatable = owner, activatable
	close(d.changed)
	d.changed = make(chan struct{})
	d.log.Debug("notification daemon changed", slog.String("owner", owner),
		slog.Bool("activatable", activatable))
}

func isNoOwner(err error) bool {
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case errors.As(err, &dbusErr):
		return dbusErr.Name == errNameHasNoOwner
	case errors.As(err, &dbusErrPtr):
		return dbusErrPtr.Name == errNameHasNoOwner
	}
	return false
}
