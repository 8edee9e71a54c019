// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package target validates the user supplied geofence target and trigger threshold before they
// reach the evaluator.
package target

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wneessen/waybar-geofence/internal/geobus"
)

var (
	// ErrInvalidTarget is returned for target input that is not a valid "lat,lng" pair.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrInvalidThreshold is returned for a threshold that is not a positive number of meters.
	ErrInvalidThreshold = errors.New("invalid trigger threshold")
)

// Parse parses free text in the form "lat,lng" into a coordinate. Surrounding whitespace is
// ignored. Out of range or non-finite values are rejected with ErrInvalidTarget.
func Parse(input string) (geobus.Coordinate, error) {
	coord, numeric := parseNumeric(input)
	if !numeric {
		return geobus.Coordinate{}, fmt.Errorf("%w: %q is not a lat,lng pair", ErrInvalidTarget, input)
	}
	if err := ValidateCoordinate(coord); err != nil {
		return geobus.Coordinate{}, err
	}
	return coord, nil
}

// ValidateCoordinate checks that c lies within the valid latitude and longitude ranges.
func ValidateCoordinate(c geobus.Coordinate) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || !c.Valid() {
		return fmt.Errorf("%w: %g,%g is out of range", ErrInvalidTarget, c.Lat, c.Lon)
	}
	return nil
}

// ParseThreshold parses a positive integer number of meters.
func ParseThreshold(input string) (float64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(input), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a positive integer", ErrInvalidThreshold, input)
	}
	meters := float64(value)
	if err = ValidateThreshold(meters); err != nil {
		return 0, err
	}
	return meters, nil
}

// ValidateThreshold checks that meters is a positive, finite distance.
func ValidateThreshold(meters float64) error {
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters <= 0 {
		return fmt.Errorf("%w: %g meters", ErrInvalidThreshold, meters)
	}
	return nil
}

// LooksLikeCoordinate reports whether input has the "lat,lng" shape, regardless of range.
// Input that does not is treated as an address.
func LooksLikeCoordinate(input string) bool {
	_, numeric := parseNumeric(input)
	return numeric
}

// parseNumeric reports whether input consists of exactly two comma separated numbers.
func parseNumeric(input string) (geobus.Coordinate, bool) {
	parts := strings.Split(strings.TrimSpace(input), ",")
	if len(parts) != 2 {
		return geobus.Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geobus.Coordinate{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geobus.Coordinate{}, false
	}
	return geobus.Coordinate{Lat: lat, Lon: lon}, true
}
