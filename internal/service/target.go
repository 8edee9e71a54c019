// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geocode"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/target"
)

// applyConfiguredTarget resolves the target from the configuration. Without one the service
// waits for a target file.
func (s *Service) applyConfiguredTarget(ctx context.Context) {
	if s.config.Geofence.Target == "" {
		s.logger.Info("no target configured, waiting for a target")
		return
	}
	if err := s.setTarget(ctx, s.config.Geofence.Target); err != nil {
		s.logger.Error("failed to set configured target", logger.Err(err))
	}
}

// setTarget resolves input to a coordinate and makes it the active target.
func (s *Service) setTarget(ctx context.Context, input string) error {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	coord, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		s.setError(err)
		s.printOutput(ctx)
		return fmt.Errorf("failed to resolve target %q: %w", input, err)
	}
	return s.retarget(ctx, coord)
}

// retarget replaces the active target, which resets the notified latch. The previous distance and
// address no longer apply.
func (s *Service) retarget(ctx context.Context, coord geobus.Coordinate) error {
	if err := s.evaluator.Retarget(coord); err != nil {
		return err
	}
	s.logger.Info("target set", logger.Position("target", coord.Lat, coord.Lon),
		logger.Meters("threshold", s.evaluator.Threshold()))

	s.stateLock.Lock()
	s.evaluation = nil
	s.address = geocode.Address{}
	if errors.Is(s.lastError, target.ErrInvalidTarget) {
		s.lastError = nil
	}
	s.stateLock.Unlock()

	go s.lookupAddress(ctx, coord)
	s.printOutput(ctx)
	return nil
}

// applyTargetUpdate applies a changed target file. A removed threshold falls back to the
// configured one. An unchanged target keeps its latch.
func (s *Service) applyTargetUpdate(ctx context.Context, prev, next target.Update) {
	if prev.Target != next.Target {
		s.logger.Debug("target file moved the target", logger.Position("target", next.Target.Lat, next.Target.Lon))
	}
	threshold := next.Threshold
	if threshold == 0 {
		threshold = s.config.Geofence.Threshold
	}
	if threshold != s.evaluator.Threshold() {
		if err := s.evaluator.SetThreshold(threshold); err != nil {
			s.logger.Error("failed to set threshold from target file", logger.Err(err))
		} else {
			s.logger.Info("threshold set", logger.Meters("threshold", threshold))
		}
	}

	if current, ok := s.evaluator.Target(); ok && current == next.Target {
		s.printOutput(ctx)
		return
	}
	if err := s.retarget(ctx, next.Target); err != nil {
		s.logger.Error("failed to set target from target file", logger.Err(err))
	}
}

// lookupAddress reverse geocodes the target for display. The result is dropped if the target
// changed in the meantime.
func (s *Service) lookupAddress(ctx context.Context, coord geobus.Coordinate) {
	if s.geocoder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	address, err := s.geocoder.Reverse(ctx, coord)
	switch {
	case errors.Is(err, geocode.ErrNotFound):
		s.logger.Debug("no address found for target", logger.Position("target", coord.Lat, coord.Lon))
		return
	case err != nil:
		s.logger.Warn("failed to reverse geocode target", logger.Err(err))
		return
	}

	if current, ok := s.evaluator.Target(); !ok || current != coord {
		return
	}
	s.stateLock.Lock()
	s.address = address
	s.stateLock.Unlock()
	s.logger.Debug("target address resolved", slog.String("address", address.DisplayName))
	s.printOutput(ctx)
}
