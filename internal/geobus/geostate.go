// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState tracks the last coordinate a provider emitted so it can skip unchanged readings.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether c differs from the last stored coordinate. An empty state always changed.
func (s *GeolocationState) HasChanged(c Coordinate) bool {
	return !s.haveLast || s.last != c
}

// Update stores c as the last emitted coordinate.
func (s *GeolocationState) Update(c Coordinate) {
	s.last = c
	s.haveLast = true
}
