// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"math"
)

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371000.0

// Coordinate represents a geographic coordinate in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid checks if the coordinate is valid according to the EPSG logic
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Distance calculates the great-circle distance in meters between two coordinates using the
// Haversine formula on a sphere with the mean earth radius.
//
// The haversine term is clamped to [0, 1] so that rounding for antipodal or near-identical
// points can never push asin/sqrt out of their domain. Distinct coordinates never return zero.
func Distance(a, b Coordinate) float64 {
	if a == b {
		return 0
	}

	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	h = math.Min(math.Max(h, 0), 1)

	distance := 2 * EarthRadius * math.Asin(math.Sqrt(h))
	if distance == 0 || math.IsNaN(distance) {
		// separation below float resolution
		return math.SmallestNonzeroFloat64
	}
	return distance
}

// Truncate cuts x down to the given number of decimal places.
func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
