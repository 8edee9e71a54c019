// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

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
	APIEndpoint = "https://api.opencagedata.com/geocode/v1/json"
	APITimeout  = time.Second * 10
	name        = "opencage"
)

var ErrAPIKeyRequired = errors.New("opencage geocoder requires an API key")

type OpenCage struct {
	apikey string
	http   *http.Client
	lang   language.Tag
}

type Response struct {
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
}

type Result struct {
	Components  Components `json:"components"`
	DisplayName string     `json:"formatted"`
	Geometry    Geometry   `json:"geometry"`
}

type Components struct {
	NormalizedCity string `json:"_normalized_city"`
	City           string `json:"city"`
	Country        string `json:"country"`
	HouseNumber    string `json:"house_number"`
	Postcode       string `json:"postcode"`
	Road           string `json:"road"`
	State          string `json:"state"`
	Suburb         string `json:"suburb"`
	Quarter        string `json:"quarter"`
	Town           string `json:"town"`
	Village        string `json:"village"`
}

type Geometry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

func New(client *http.Client, lang language.Tag, apikey string) (*OpenCage, error) {
	if apikey == "" {
		return nil, ErrAPIKeyRequired
	}
	return &OpenCage{
		apikey: apikey,
		lang:   lang,
		http:   client,
	}, nil
}

func (o *OpenCage) Name() string {
	return name
}

// Reverse looks up the address at coords. OpenCage answers forward and reverse queries on the
// same endpoint; a "lat,lng" query is a reverse lookup.
func (o *OpenCage) Reverse(ctx context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	query := strconv.FormatFloat(coords.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(coords.Lon, 'f', -1, 64)
	response, err := o.query(ctx, query)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from OpenCage API: %w", err)
	}
	if len(response.Results) < 1 {
		return geocode.Address{Coordinate: coords}, nil
	}

	result := response.Results[0]
	comp := result.Components
	return geocode.Address{
		AddressFound: true,
		Coordinate:   geobus.Coordinate{Lat: result.Geometry.Lat, Lon: result.Geometry.Lon},
		DisplayName:  result.DisplayName,
		Country:      comp.Country,
		State:        comp.State,
		Postcode:     comp.Postcode,
		City:         firstNonEmpty(comp.NormalizedCity, comp.City, comp.Town, comp.Village),
		Suburb:       firstNonEmpty(comp.Suburb, comp.Quarter),
		Street:       comp.Road,
		HouseNumber:  comp.HouseNumber,
	}, nil
}

func (o *OpenCage) Search(ctx context.Context, address string) (geobus.Coordinate, error) {
	response, err := o.query(ctx, address)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to search address with OpenCage API: %w", err)
	}
	if len(response.Results) < 1 {
		return geobus.Coordinate{}, fmt.Errorf("%w: %q", geocode.ErrNotFound, address)
	}
	geometry := response.Results[0].Geometry
	return geobus.Coordinate{Lat: geometry.Lat, Lon: geometry.Lon}, nil
}

func (o *OpenCage) query(ctx context.Context, q string) (Response, error) {
	var response Response
	query := url.Values{}
	query.Set("key", o.apikey)
	query.Set("q", q)
	query.Set("limit", "1")
	query.Set("no_annotations", "1")
	query.Set("no_record", "1")
	query.Set("language", o.lang.String())

	_, err := o.http.GetWithTimeout(ctx, APIEndpoint, &response, query, nil, APITimeout)
	return response, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
