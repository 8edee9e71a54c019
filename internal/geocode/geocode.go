// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"errors"

	"github.com/wneessen/waybar-geofence/internal/geobus"
)

// ErrNotFound is returned by Search when the query matches no place.
var ErrNotFound = errors.New("no coordinates found for address")

type Address struct {
	AddressFound bool
	CacheHit     bool
	Coordinate   geobus.Coordinate
	DisplayName  string
	Country      string
	State        string
	Postcode     string
	City         string
	Suburb       string
	Street       string
	HouseNumber  string
}

// Geocoder resolves free-text addresses to coordinates and coordinates back to addresses.
type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, coords geobus.Coordinate) (Address, error)
	Search(ctx context.Context, address string) (geobus.Coordinate, error)
}
