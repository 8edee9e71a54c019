// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/waybar-geofence/internal/config"
	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geobus/provider/geoclue"
	"github.com/wneessen/waybar-geofence/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/waybar-geofence/internal/geobus/provider/gpsd"
	"github.com/wneessen/waybar-geofence/internal/geobus/provider/ichnaea"
	"github.com/wneessen/waybar-geofence/internal/geobus/provider/mqtt"
	"github.com/wneessen/waybar-geofence/internal/geocode"
	geocodeearth "github.com/wneessen/waybar-geofence/internal/geocode/provider/geocode-earth"
	"github.com/wneessen/waybar-geofence/internal/geocode/provider/opencage"
	nominatim "github.com/wneessen/waybar-geofence/internal/geocode/provider/osm-nominatim"
	"github.com/wneessen/waybar-geofence/internal/i18n"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/notify"
	"github.com/wneessen/waybar-geofence/internal/notify/broker"
	"github.com/wneessen/waybar-geofence/internal/notify/desktop"
	"github.com/wneessen/waybar-geofence/internal/notify/webhook"
)

var urgencies = map[string]byte{
	"low":      desktop.UrgencyLow,
	"normal":   desktop.UrgencyNormal,
	"critical": desktop.UrgencyCritical,
}

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	conf := s.config.Position
	var provider []geobus.Provider

	if !conf.DisableGeolocationFile {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(conf.GeolocationFile))
	}

	if !conf.DisableGeoClue {
		provider = append(provider, geoclue.NewGeolocationGeoClueProvider(DesktopID, s.config.HighAccuracy(),
			conf.Timeout))
	}

	if !conf.DisableGPSD {
		mode := gpsd.ModePoll
		if s.config.HighAccuracy() {
			mode = gpsd.ModeWatch
		}
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(conf.GPSD.Host, conf.GPSD.Port, mode,
			conf.GPSD.Period, conf.Timeout))
	}

	if !conf.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(s.http, conf.ICHNAEA.Endpoint, conf.Timeout)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}

	if conf.MQTT.Broker != "" {
		mq, err := mqtt.NewGeolocationMQTTProvider(mqtt.Config{
			Broker:   conf.MQTT.Broker,
			Topic:    conf.MQTT.Topic,
			ClientID: conf.MQTT.ClientID,
			Username: conf.MQTT.Username,
			Password: conf.MQTT.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create MQTT provider: %w", err)
		}
		provider = append(provider, mq)
	}

	if len(provider) == 0 {
		return nil, fmt.Errorf("no geolocation providers enabled")
	}
	return provider, nil
}

// selectGeocodeProvider returns the configured geocoder. A nil geocoder disables address targets
// and the target address in the tooltip.
func (s *Service) selectGeocodeProvider() (geocode.Geocoder, error) {
	switch strings.ToLower(s.config.Geocoder.Provider) {
	case config.GeocoderNominatim:
		coder := nominatim.New(s.http, i18n.Tag(s.config.Locale), s.config.Geocoder.BaseURL)
		return geocode.NewCachedGeocoder(coder, cacheHitTTL, cacheMissTTL), nil
	case config.GeocoderOpenCage:
		coder, err := opencage.New(s.http, i18n.Tag(s.config.Locale), s.config.Geocoder.APIKey)
		if err != nil {
			return nil, err
		}
		return geocode.NewCachedGeocoder(coder, cacheHitTTL, cacheMissTTL), nil
	case config.GeocoderGeocodeEarth:
		coder, err := geocodeearth.New(s.http, i18n.Tag(s.config.Locale), s.config.Geocoder.APIKey)
		if err != nil {
			return nil, err
		}
		return geocode.NewCachedGeocoder(coder, cacheHitTTL, cacheMissTTL), nil
	case config.GeocoderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported geocoder type: %s", s.config.Geocoder.Provider)
	}
}

// selectNotifier returns the configured sink together with its subscription registry. Sinks that
// track their endpoint register a background job and a closer with the service.
func (s *Service) selectNotifier(ctx context.Context) (notify.Sink, notify.Registry, error) {
	conf := s.config.Notify
	switch strings.ToLower(conf.Sink) {
	case config.SinkDBus:
		urgency, ok := urgencies[conf.Urgency]
		if !ok {
			return nil, nil, fmt.Errorf("invalid notification urgency: %s", conf.Urgency)
		}
		desk, err := desktop.New(ctx, desktop.Config{
			AppName: conf.AppName,
			Icon:    conf.Icon,
			Expire:  conf.Expire,
			Urgency: urgency,
		}, s.logger)
		if err != nil {
			return nil, nil, err
		}
		s.jobs = append(s.jobs, func(ctx context.Context) {
			if err := desk.Watch(ctx); err != nil {
				s.logger.Error("failed to watch notification daemon", logger.Err(err))
			}
		})
		s.closers = append(s.closers, desk.Close)
		return desk, desk, nil
	case config.SinkAMQP:
		brk, err := broker.New(broker.Config{
			URL:        conf.AMQP.URL,
			Exchange:   conf.AMQP.Exchange,
			RoutingKey: conf.AMQP.RoutingKey,
		}, s.logger)
		if err != nil {
			return nil, nil, err
		}
		s.jobs = append(s.jobs, brk.Run)
		return brk, brk, nil
	case config.SinkWebhook:
		var headers map[string]string
		if conf.Webhook.Token != "" {
			headers = map[string]string{"Authorization": "Bearer " + conf.Webhook.Token}
		}
		hook, err := webhook.New(s.http, conf.Webhook.URL, headers)
		if err != nil {
			return nil, nil, err
		}
		return hook, notify.NewStaticRegistry(conf.Webhook.URL), nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", config.ErrInvalidSink, conf.Sink)
	}
}
