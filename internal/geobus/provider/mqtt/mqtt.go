// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/vartype"
)

const (
	name              = "mqtt"
	DefaultTopic      = "owntracks/+/+"
	DefaultClientID   = "waybar-geofence"
	defaultTTL        = time.Minute * 15
	connectTimeout    = time.Second * 10
	disconnectQuiesce = 250
	subscribeQoS      = 1
)

var (
	ErrBrokerRequired = errors.New("mqtt broker URL is required")
	ErrNotLocation    = errors.New("message is not a location report")
	ErrConnectionLost = errors.New("mqtt connection lost")
)

// Config holds the broker settings of the MQTT provider.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// Location is an OwnTracks location report. Only the fields needed for a position are decoded.
type Location struct {
	Type      string  `json:"_type"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Accuracy  float64 `json:"acc"`
	Timestamp int64   `json:"tst"`
	Tracker   string  `json:"tid"`
}

// GeolocationMQTTProvider subscribes to OwnTracks location reports published on an MQTT broker,
// e.g. by the OwnTracks app on the user's phone.
type GeolocationMQTTProvider struct {
	name     string
	config   Config
	ttl      time.Duration
	clientFn func(opts *paho.ClientOptions) paho.Client
}

// NewGeolocationMQTTProvider returns an MQTT provider for the given broker configuration.
func NewGeolocationMQTTProvider(config Config) (*GeolocationMQTTProvider, error) {
	if config.Broker == "" {
		return nil, ErrBrokerRequired
	}
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if config.ClientID == "" {
		config.ClientID = DefaultClientID
	}
	return &GeolocationMQTTProvider{
		name:     name,
		config:   config,
		ttl:      defaultTTL,
		clientFn: paho.NewClient,
	}, nil
}

func (p *GeolocationMQTTProvider) Name() string {
	return p.name
}

// LookupStream connects to the broker and forwards every location report of the configured topic.
// A lost connection is reported and ends the stream; the orchestrator reconnects with backoff.
func (p *GeolocationMQTTProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	msgs := make(chan geobus.Result)
	lost := make(chan error, 1)
	stop := make(chan struct{})

	// Callbacks run on paho goroutines and never touch out, which is closed by the stream goroutine.
	onMessage := func(_ paho.Client, msg paho.Message) {
		r, err := p.handleMessage(key, msg)
		if errors.Is(err, ErrNotLocation) {
			return
		}
		if err != nil {
			r = geobus.NewErrorResult(key, p.name, err)
		}
		select {
		case <-stop:
		case msgs <- r:
		}
	}

	opts := paho.NewClientOptions().
		AddBroker(p.config.Broker).
		SetClientID(p.config.ClientID).
		SetUsername(p.config.Username).
		SetPassword(p.config.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout).
		SetOrderMatters(false)
	opts.SetOnConnectHandler(func(client paho.Client) {
		client.Subscribe(p.config.Topic, subscribeQoS, onMessage)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	go func() {
		client := p.clientFn(opts)
		connected := false
		defer func() {
			close(stop)
			if connected {
				client.Disconnect(disconnectQuiesce)
			}
			close(out)
		}()
		send := func(r geobus.Result) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- r:
				return true
			}
		}

		token := client.Connect()
		select {
		case <-ctx.Done():
			client.Disconnect(disconnectQuiesce)
			return
		case <-token.Done():
		}
		if err := token.Error(); err != nil {
			send(geobus.NewErrorResult(key, p.name, classifyConnectErr(err)))
			return
		}
		connected = true

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-lost:
				send(geobus.NewErrorResult(key, p.name, fmt.Errorf("%w: %w", ErrConnectionLost, err)))
				return
			case r := <-msgs:
				if !send(r) {
					return
				}
			}
		}
	}()

	return out
}

// handleMessage decodes an OwnTracks payload into a Result.
func (p *GeolocationMQTTProvider) handleMessage(key string, msg paho.Message) (geobus.Result, error) {
	msg.Ack()

	var loc Location
	if err := json.Unmarshal(msg.Payload(), &loc); err != nil {
		return geobus.Result{}, fmt.Errorf("failed to decode message on %q: %w", msg.Topic(), err)
	}
	if loc.Type != "location" {
		return geobus.Result{}, ErrNotLocation
	}

	coord := geobus.Coordinate{
		Lat: geobus.Truncate(loc.Lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(loc.Lon, geobus.TruncPrecision),
	}
	if !coord.Valid() {
		return geobus.Result{}, fmt.Errorf("message on %q carries invalid coordinates %f,%f",
			msg.Topic(), loc.Lat, loc.Lon)
	}

	at := time.Now()
	if loc.Timestamp > 0 {
		at = time.Unix(loc.Timestamp, 0)
	}
	result := geobus.Result{
		Coordinate: coord,
		Key:        key,
		Source:     p.name,
		At:         at,
		TTL:        p.ttl,
	}
	if loc.Accuracy > 0 {
		result.Accuracy = vartype.NewVariable(loc.Accuracy)
	}
	return result, nil
}

// classifyConnectErr marks broker refusals for credentials or authorization as permission errors.
func classifyConnectErr(err error) error {
	if errors.Is(err, packets.ErrorRefusedNotAuthorised) || errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) {
		return &geobus.PositionError{Kind: geobus.ErrorPermissionDenied, Source: name, Err: err}
	}
	return fmt.Errorf("failed to connect to mqtt broker: %w", err)
}
