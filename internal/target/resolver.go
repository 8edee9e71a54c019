// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package target

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geocode"
)

// Resolver turns target input into a coordinate. Input that does not look like a "lat,lng" pair
// is treated as an address and forward geocoded, if a geocoder is available.
type Resolver struct {
	geocoder geocode.Geocoder
}

// NewResolver returns a Resolver. A nil geocoder restricts input to coordinates.
func NewResolver(geocoder geocode.Geocoder) *Resolver {
	return &Resolver{geocoder: geocoder}
}

// Resolve validates or geocodes input. All failures wrap ErrInvalidTarget so callers can reject
// the input at the boundary; geocoder transport errors are wrapped as well.
func (r *Resolver) Resolve(ctx context.Context, input string) (geobus.Coordinate, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return geobus.Coordinate{}, fmt.Errorf("%w: empty input", ErrInvalidTarget)
	}
	if LooksLikeCoordinate(input) || r.geocoder == nil {
		return Parse(input)
	}

	coord, err := r.geocoder.Search(ctx, input)
	switch {
	case errors.Is(err, geocode.ErrNotFound):
		return geobus.Coordinate{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	case err != nil:
		return geobus.Coordinate{}, fmt.Errorf("%w: failed to geocode %q via %s: %w", ErrInvalidTarget,
			input, r.geocoder.Name(), err)
	}
	if err = ValidateCoordinate(coord); err != nil {
		return geobus.Coordinate{}, err
	}
	return coord, nil
}
