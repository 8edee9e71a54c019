// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-geofence/internal/job"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

const (
	logindInterface = "org.freedesktop.login1.Manager"
	logindMember    = "PrepareForSleep"

	sleepSignalBuffer = 8
	resumeDebounce    = 2 * time.Second
	busRetryDelay     = 5 * time.Second
	resumeSettleDelay = 10 * time.Second
)

// monitorSleepResume follows logind's PrepareForSleep signal on the system bus until ctx is done.
// The bus connection is re-established whenever it drops.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResume time.Time
	for {
		conn, release, ok := s.subscribeSleep(ctx)
		if !ok {
			return
		}

		signals := make(chan *dbus.Signal, sleepSignalBuffer)
		conn.Signal(signals)
		s.logger.Debug("watching for suspend and resume", slog.String("interface", logindInterface),
			slog.String("member", logindMember))
		s.followSleepSignals(ctx, signals, &lastResume)

		conn.RemoveSignal(signals)
		if release() {
			s.closeSystemBus(conn)
		}
		if !job.Wait(ctx, busRetryDelay) {
			return
		}
	}
}

// subscribeSleep connects to the system bus and adds the PrepareForSleep match rule, retrying
// every busRetryDelay. The connection is closed when ctx is done; release detaches that and reports
// whether the caller still owns the connection.
func (s *Service) subscribeSleep(ctx context.Context) (*dbus.Conn, func() bool, bool) {
	for {
		conn, err := s.systemBus()
		if err == nil {
			err = conn.AddMatchSignal(dbus.WithMatchInterface(logindInterface), dbus.WithMatchMember(logindMember))
			if err == nil {
				release := context.AfterFunc(ctx, func() { s.closeSystemBus(conn) })
				return conn, release, true
			}
			s.logger.Error("failed to subscribe to logind sleep signal", logger.Err(err))
			s.closeSystemBus(conn)
		}
		if !job.Wait(ctx, busRetryDelay) {
			return nil, nil, false
		}
	}
}

func (s *Service) closeSystemBus(conn *dbus.Conn) {
	if err := conn.Close(); err != nil {
		s.logger.Error("failed to close system bus connection", logger.Err(err))
	}
}

// followSleepSignals returns when ctx is done or the signal channel is closed by a dropped
// connection.
func (s *Service) followSleepSignals(ctx context.Context, signals <-chan *dbus.Signal, lastResume *time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			s.processSleepSignal(ctx, sig, lastResume)
		}
	}
}

// processSleepSignal dispatches a PrepareForSleep signal. Its single boolean argument is true when
// the system is about to suspend and false after it resumed.
func (s *Service) processSleepSignal(ctx context.Context, sig *dbus.Signal, lastResume *time.Time) {
	if len(sig.Body) != 1 {
		return
	}
	suspending, ok := sig.Body[0].(bool)
	if !ok {
		return
	}
	if suspending {
		s.handleSuspendEvent(ctx)
		return
	}
	s.handleResumeEvent(ctx, lastResume)
}

// handleSuspendEvent drops the held position, both in the service and on the bus, so the watch
// restarted on resume does not replay it. Where the device wakes up is unknown, so the output shows
// the waiting state until a fresh sample arrives.
func (s *Service) handleSuspendEvent(ctx context.Context) {
	s.geobus.Forget(DesktopID)
	s.stateLock.Lock()
	s.sample = nil
	s.evaluation = nil
	s.stateLock.Unlock()

	s.logger.Debug("system is suspending, dropping last position")
	s.printOutput(ctx)
}

// handleResumeEvent restarts the position watch and re-reads the target file once the network had
// time to come back up. Resume events within resumeDebounce of the previous one are ignored.
func (s *Service) handleResumeEvent(ctx context.Context, lastResume *time.Time) {
	now := time.Now()
	if now.Sub(*lastResume) < resumeDebounce {
		return
	}
	*lastResume = now

	if !job.Wait(ctx, resumeSettleDelay) {
		return
	}

	s.logger.Debug("resuming from sleep, restarting position watch")
	s.restartWatch()
	if s.targetFile != nil {
		s.targetFile.Reload()
	}
}
