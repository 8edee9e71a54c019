// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/http"
	"github.com/wneessen/waybar-geofence/internal/vartype"
)

const (
	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout   = time.Second * 5
	wifiScanTime    = time.Minute * 2
	name            = "ichnaea"
)

var ErrHTTPClientRequired = errors.New("http client is required")

// wifiScanner is the subset of *wifi.Client the provider needs.
type wifiScanner interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

// GeolocationICHNAEAProvider resolves the position from nearby WiFi access points through an
// ichnaea compatible geolocate API (beaconDB by default).
type GeolocationICHNAEAProvider struct {
	name     string
	endpoint string
	http     *http.Client
	wlan     wifiScanner
	period   time.Duration
	timeout  time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, float64, error)

	apLock  sync.RWMutex
	aps     []WirelessNetwork
	scanErr error
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// NewGeolocationICHNAEAProvider returns a provider that posts to endpoint (DefaultEndpoint if empty).
// A lookup taking longer than timeout (5s if zero) is reported as a timeout.
func NewGeolocationICHNAEAProvider(client *http.Client, endpoint string, timeout time.Duration) (*GeolocationICHNAEAProvider, error) {
	if client == nil {
		return nil, ErrHTTPClientRequired
	}
	wlan, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}
	return newProvider(client, wlan, endpoint, timeout), nil
}

func newProvider(client *http.Client, wlan wifiScanner, endpoint string, timeout time.Duration) *GeolocationICHNAEAProvider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = lookupTimeout
	}
	provider := &GeolocationICHNAEAProvider{
		name:     name,
		endpoint: endpoint,
		http:     client,
		wlan:     wlan,
		period:   time.Minute * 5,
		timeout:  timeout,
		ttl:      time.Hour * 1,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *GeolocationICHNAEAProvider) Name() string {
	return p.name
}

// LookupStream periodically looks up the position. Lookup failures and WiFi scan permission
// problems are delivered as error results; unchanged positions are not repeated.
func (p *GeolocationICHNAEAProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go p.monitorWifiAccessPoints(ctx)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
		var reportedScanErr error
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			var results []geobus.Result
			if scanErr := p.lastScanErr(); scanErr != nil && scanErr != reportedScanErr {
				reportedScanErr = scanErr
				results = append(results, geobus.NewErrorResult(key, p.name, scanErr))
			}

			coord, acc, err := p.locateFn(ctx)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				results = append(results, geobus.NewErrorResult(key, p.name, err))
			case state.HasChanged(coord):
				state.Update(coord)
				results = append(results, p.createResult(key, coord, acc))
			}

			for _, r := range results {
				select {
				case <-ctx.Done():
					return
				case out <- r:
				}
			}
		}
	}()
	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationICHNAEAProvider) createResult(key string, coord geobus.Coordinate, acc float64) geobus.Result {
	return geobus.Result{
		Coordinate: coord,
		Key:        key,
		Accuracy:   vartype.NewVariable(acc),
		Source:     p.name,
		At:         time.Now(),
		TTL:        p.ttl,
	}
}

func (p *GeolocationICHNAEAProvider) monitorWifiAccessPoints(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wifiScanTime):
			}
		}
		firstRun = false

		list, err := p.wifiAccessPoints()
		p.apLock.Lock()
		p.scanErr = err
		if err == nil {
			p.aps = list
		}
		p.apLock.Unlock()
	}
}

func (p *GeolocationICHNAEAProvider) lastScanErr() error {
	p.apLock.RLock()
	defer p.apLock.RUnlock()
	return p.scanErr
}

func (p *GeolocationICHNAEAProvider) wifiAccessPoints() ([]WirelessNetwork, error) {
	var list []WirelessNetwork

	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			if geobus.Classify(err) == geobus.ErrorPermissionDenied {
				return nil, fmt.Errorf("failed to scan access points on %s: %w", iface.Name, err)
			}
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

func (p *GeolocationICHNAEAProvider) locate(ctx context.Context) (geobus.Coordinate, float64, error) {
	p.apLock.RLock()
	wifiList := p.aps
	p.apLock.RUnlock()

	type request struct {
		ConsiderIP   bool              `json:"considerIp"`
		Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
	}
	req := request{
		ConsiderIP:   true,
		Accesspoints: wifiList,
	}
	bodyBuffer := bytes.NewBuffer(nil)
	if err := json.NewEncoder(bodyBuffer).Encode(req); err != nil {
		return geobus.Coordinate{}, 0, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	result := new(APIResult)
	if _, err := p.http.PostWithTimeout(ctx, p.endpoint, result, bodyBuffer,
		map[string]string{"Content-Type": "application/json"}, p.timeout); err != nil {
		return geobus.Coordinate{}, 0, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	coord := geobus.Coordinate{
		Lat: geobus.Truncate(result.Location.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(result.Location.Longitude, geobus.TruncPrecision),
	}
	return coord, geobus.Truncate(result.Accuracy, geobus.TruncPrecision), nil
}
