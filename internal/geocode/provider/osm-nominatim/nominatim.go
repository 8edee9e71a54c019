// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nominatim

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geocode"
	"github.com/wneessen/waybar-geofence/internal/http"
)

const (
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	APITimeout     = time.Second * 10
	name           = "osm-nominatim"
)

type Nominatim struct {
	http    *http.Client
	lang    language.Tag
	baseURL string
}

type ReverseResult struct {
	APILat      string  `json:"lat"`
	APILon      string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error"`
}

type SearchResult struct {
	APILat      string `json:"lat"`
	APILon      string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type Address struct {
	HouseNumber string `json:"house_number"`
	Road        string `json:"road"`
	Suburb      string `json:"suburb"`
	Quarter     string `json:"quarter"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	State       string `json:"state"`
	Postcode    string `json:"postcode"`
	Country     string `json:"country"`
}

// New returns a Nominatim geocoder. An empty baseURL selects the public OSM instance.
func New(client *http.Client, lang language.Tag, baseURL string) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Nominatim{
		lang:    lang,
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (n *Nominatim) Name() string {
	return name
}

func (n *Nominatim) Reverse(ctx context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	var result ReverseResult
	var err error

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	query.Set("accept-language", n.lang.String())

	if _, err = n.http.GetWithTimeout(ctx, n.baseURL+"/reverse", &result, query, nil, APITimeout); err != nil {
		return geocode.Address{}, fmt.Errorf("failed to fetch reverse address details from Nominatim API: %w", err)
	}
	// Nominatim answers unknown places with 200 and an error message.
	if result.Error != "" {
		return geocode.Address{Coordinate: coords}, nil
	}

	address := geocode.Address{
		AddressFound: true,
		DisplayName:  result.DisplayName,
		Country:      result.Address.Country,
		State:        result.Address.State,
		Postcode:     result.Address.Postcode,
		City:         firstNonEmpty(result.Address.City, result.Address.Town, result.Address.Village),
		Suburb:       firstNonEmpty(result.Address.Suburb, result.Address.Quarter),
		Street:       result.Address.Road,
		HouseNumber:  result.Address.HouseNumber,
	}
	address.Coordinate, err = parseCoordinate(result.APILat, result.APILon)
	if err != nil {
		return geocode.Address{}, err
	}

	return address, nil
}

func (n *Nominatim) Search(ctx context.Context, address string) (geobus.Coordinate, error) {
	var result []SearchResult

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("limit", "1")
	query.Set("q", address)
	query.Set("accept-language", n.lang.String())

	if _, err := n.http.GetWithTimeout(ctx, n.baseURL+"/search", &result, query, nil, APITimeout); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to fetch address details from Nominatim API: %w", err)
	}
	if len(result) < 1 {
		return geobus.Coordinate{}, fmt.Errorf("%w: %q", geocode.ErrNotFound, address)
	}
	return parseCoordinate(result[0].APILat, result[0].APILon)
}

func parseCoordinate(lat, lon string) (geobus.Coordinate, error) {
	var coords geobus.Coordinate
	var err error
	coords.Lat, err = strconv.ParseFloat(lat, 64)
	if err != nil {
		return coords, fmt.Errorf("failed to parse latitude from Nominatim API response: %w", err)
	}
	coords.Lon, err = strconv.ParseFloat(lon, 64)
	if err != nil {
		return coords, fmt.Errorf("failed to parse longitude from Nominatim API response: %w", err)
	}
	return coords, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
