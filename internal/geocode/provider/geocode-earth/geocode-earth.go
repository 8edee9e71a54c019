// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocodeearth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geocode"
	"github.com/wneessen/waybar-geofence/internal/http"
)

const (
	APIBaseURL = "https://api.geocode.earth/v1"
	APITimeout = time.Second * 10
	name       = "geocode-earth"
)

var ErrAPIKeyRequired = errors.New("geocode-earth geocoder requires an API key")

type GeocodeEarth struct {
	apikey string
	http   *http.Client
	lang   language.Tag
}

// Response is a GeoJSON feature collection as returned by the Pelias API.
type Response struct {
	Features []Feature `json:"features"`
	Type     string    `json:"type"`
}

type Feature struct {
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
	Type       string     `json:"type"`
}

// Geometry holds a GeoJSON point, longitude first.
type Geometry struct {
	Coordinates []float64 `json:"coordinates"`
}

type Properties struct {
	DisplayName   string `json:"label"`
	City          string `json:"locality"`
	Borough       string `json:"borough"`
	Neighbourhood string `json:"neighbourhood"`
	Country       string `json:"country"`
	HouseNumber   string `json:"housenumber"`
	Postcode      string `json:"postalcode"`
	Road          string `json:"street"`
	State         string `json:"region"`
}

func New(client *http.Client, lang language.Tag, apikey string) (*GeocodeEarth, error) {
	if apikey == "" {
		return nil, ErrAPIKeyRequired
	}
	return &GeocodeEarth{
		apikey: apikey,
		lang:   lang,
		http:   client,
	}, nil
}

func (g *GeocodeEarth) Name() string {
	return name
}

func (g *GeocodeEarth) Reverse(ctx context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	query := url.Values{}
	query.Set("point.lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	query.Set("point.lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	query.Set("size", "1")

	response, err := g.get(ctx, "/reverse", query)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from geocode.earth API: %w", err)
	}
	if len(response.Features) < 1 {
		return geocode.Address{Coordinate: coords}, nil
	}

	feature := response.Features[0]
	props := feature.Properties
	address := geocode.Address{
		AddressFound: true,
		Coordinate:   coords,
		DisplayName:  props.DisplayName,
		Country:      props.Country,
		State:        props.State,
		Postcode:     props.Postcode,
		City:         firstNonEmpty(props.City, props.Borough),
		Suburb:       props.Neighbourhood,
		Street:       props.Road,
		HouseNumber:  props.HouseNumber,
	}
	if point, ok := feature.point(); ok {
		address.Coordinate = point
	}
	return address, nil
}

func (g *GeocodeEarth) Search(ctx context.Context, address string) (geobus.Coordinate, error) {
	query := url.Values{}
	query.Set("text", address)
	query.Set("size", "1")

	response, err := g.get(ctx, "/search", query)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to search address with geocode.earth API: %w", err)
	}
	if len(response.Features) < 1 {
		return geobus.Coordinate{}, fmt.Errorf("%w: %q", geocode.ErrNotFound, address)
	}
	point, ok := response.Features[0].point()
	if !ok {
		return geobus.Coordinate{}, fmt.Errorf("%w: %q has no point geometry", geocode.ErrNotFound, address)
	}
	return point, nil
}

func (g *GeocodeEarth) get(ctx context.Context, path string, query url.Values) (Response, error) {
	var response Response
	query.Set("api_key", g.apikey)
	query.Set("lang", g.lang.String())
	_, err := g.http.GetWithTimeout(ctx, APIBaseURL+path, &response, query, nil, APITimeout)
	return response, err
}

func (f Feature) point() (geobus.Coordinate, bool) {
	if len(f.Geometry.Coordinates) < 2 {
		return geobus.Coordinate{}, false
	}
	return geobus.Coordinate{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
