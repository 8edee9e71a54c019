// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/target"
)

const (
	configEnv = "WAYBARGEOFENCE"
	appName   = "waybar-geofence"

	DefaultTextTpl    = `{{iconWithSpace .Icon}}{{if .HasDistance}}{{distance .Distance}}{{else}}{{loc .Status}}{{end}}`
	DefaultAltTextTpl = `{{iconWithSpace .Icon}}{{if .Address.AddressFound}}{{.Address.City}}{{else if .HasTarget}}` +
		`{{floatFormat .Target.Lat 4}}, {{floatFormat .Target.Lon 4}}{{else}}{{loc "notarget"}}{{end}}`
	DefaultTooltipTpl = `{{if .HasTarget}}{{loc "target"}}: {{floatFormat .Target.Lat 5}}, {{floatFormat .Target.Lon 5}}` +
		`{{if .Address.AddressFound}} ({{.Address.DisplayName}}){{end}}{{else}}{{loc "notarget"}}{{end}}` +
		`{{if .HasPosition}}` + "\n" + `{{loc "position"}}: {{floatFormat .Position.Lat 5}}, {{floatFormat .Position.Lon 5}}` +
		` ({{.Source}}, ±{{distance .Accuracy}})` +
		"\n" + `{{loc "distance"}}: {{distance .Distance}} / {{distance .Threshold}}` +
		"\n" + `{{loc "updated"}}: {{localizedTime .UpdateTime}}{{end}}` +
		`{{if .Notified}}` + "\n" + `{{loc "notified"}}{{end}}` +
		`{{if .LastError}}` + "\n" + `{{loc "error"}}: {{.LastError}}{{end}}`
)

// Notification sinks.
const (
	SinkDBus    = "dbus"
	SinkAMQP    = "amqp"
	SinkWebhook = "webhook"
)

// Geocoder providers.
const (
	GeocoderNominatim    = "nominatim"
	GeocoderOpenCage     = "opencage"
	GeocoderGeocodeEarth = "geocode-earth"
	GeocoderNone         = "none"
)

var (
	ErrNoPositionSource = errors.New("all position sources are disabled")
	ErrInvalidSink      = errors.New("invalid notification sink")
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Geofence struct {
		// A "lat,lng" pair or, with a geocoder, an address
		Target    string  `fig:"target"`
		Threshold float64 `fig:"threshold" default:"1000"`
		// Allowed values: once, rearm
		LatchPolicy string  `fig:"latch_policy" default:"once"`
		RearmMargin float64 `fig:"rearm_margin" default:"100"`
		TargetFile  string  `fig:"target_file"`
	} `fig:"geofence"`

	Position struct {
		DisableHighAccuracy    bool          `fig:"disable_high_accuracy"`
		Timeout                time.Duration `fig:"timeout" default:"5s"`
		MaxSampleAge           time.Duration `fig:"max_sample_age"`
		DisableGeoClue         bool          `fig:"disable_geoclue"`
		DisableGPSD            bool          `fig:"disable_gpsd"`
		DisableGeolocationFile bool          `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool          `fig:"disable_ichnaea"`
		GeolocationFile        string        `fig:"geolocation_file"`

		GPSD struct {
			Host   string        `fig:"host" default:"localhost"`
			Port   string        `fig:"port" default:"2947"`
			Period time.Duration `fig:"period" default:"30s"`
		} `fig:"gpsd"`

		ICHNAEA struct {
			Endpoint string `fig:"endpoint"`
		} `fig:"ichnaea"`

		// The MQTT source is enabled when a broker is set
		MQTT struct {
			Broker   string `fig:"broker"`
			Topic    string `fig:"topic"`
			ClientID string `fig:"client_id"`
			Username string `fig:"username"`
			Password string `fig:"password"`
		} `fig:"mqtt"`
	} `fig:"position"`

	Notify struct {
		// Allowed values: dbus, amqp, webhook
		Sink                  string        `fig:"sink" default:"dbus"`
		DisableRollbackOnSkip bool          `fig:"disable_rollback_on_skip"`
		AppName               string        `fig:"app_name" default:"waybar-geofence"`
		Icon                  string        `fig:"icon" default:"mark-location"`
		Expire                time.Duration `fig:"expire"`
		// Allowed values: low, normal, critical
		Urgency string `fig:"urgency" default:"normal"`

		AMQP struct {
			URL        string `fig:"url"`
			Exchange   string `fig:"exchange"`
			RoutingKey string `fig:"routing_key"`
		} `fig:"amqp"`

		Webhook struct {
			URL   string `fig:"url"`
			Token string `fig:"token"`
		} `fig:"webhook"`
	} `fig:"notify"`

	Geocoder struct {
		// Allowed values: nominatim, opencage, geocode-earth, none
		Provider string `fig:"provider" default:"nominatim"`
		BaseURL  string `fig:"base_url"`
		APIKey   string `fig:"api_key"`
	} `fig:"geocoder"`

	Intervals struct {
		Output     time.Duration `fig:"output" default:"30s"`
		TargetFile time.Duration `fig:"target_file" default:"30s"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		AltText string `fig:"alt_text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// Validate checks the configuration and fills in defaults that depend on the environment.
func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if err := c.validateGeofence(); err != nil {
		return err
	}
	if err := c.validatePosition(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := c.validateGeocoder(); err != nil {
		return err
	}
	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.Intervals.TargetFile <= 0 {
		return fmt.Errorf("invalid target file interval: %s", c.Intervals.TargetFile)
	}

	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.AltText == "" {
		c.Templates.AltText = DefaultAltTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}

	return nil
}

// HighAccuracy reports whether position sources should be asked for their most precise fix.
func (c *Config) HighAccuracy() bool {
	return !c.Position.DisableHighAccuracy
}

// RollbackOnSkip reports whether a notification skipped for lack of a subscription clears the
// notified latch again.
func (c *Config) RollbackOnSkip() bool {
	return !c.Notify.DisableRollbackOnSkip
}

func (c *Config) validateGeofence() error {
	if err := target.ValidateThreshold(c.Geofence.Threshold); err != nil {
		return err
	}
	if _, err := geofence.ParsePolicy(c.Geofence.LatchPolicy); err != nil {
		return err
	}
	if c.Geofence.RearmMargin < 0 {
		return fmt.Errorf("invalid rearm margin: %g", c.Geofence.RearmMargin)
	}

	input := strings.TrimSpace(c.Geofence.Target)
	switch {
	case input == "":
	case target.LooksLikeCoordinate(input):
		if _, err := target.Parse(input); err != nil {
			return err
		}
	case c.Geocoder.Provider == GeocoderNone:
		return fmt.Errorf("%w: address %q requires a geocoder", target.ErrInvalidTarget, input)
	}
	return nil
}

func (c *Config) validatePosition() error {
	if c.Position.Timeout <= 0 {
		return fmt.Errorf("invalid position timeout: %s", c.Position.Timeout)
	}
	if c.Position.MaxSampleAge < 0 {
		return fmt.Errorf("invalid max sample age: %s", c.Position.MaxSampleAge)
	}
	if c.Position.GPSD.Period <= 0 {
		return fmt.Errorf("invalid gpsd period: %s", c.Position.GPSD.Period)
	}
	if c.Position.DisableGeoClue && c.Position.DisableGPSD && c.Position.DisableGeolocationFile &&
		c.Position.DisableICHNAEA && c.Position.MQTT.Broker == "" {
		return ErrNoPositionSource
	}
	if c.Position.GeolocationFile == "" {
		home, _ := os.UserHomeDir()
		c.Position.GeolocationFile = filepath.Join(home, ".config", appName, "geolocation")
	}
	return nil
}

func (c *Config) validateNotify() error {
	switch c.Notify.Sink {
	case SinkDBus:
	case SinkAMQP:
		if c.Notify.AMQP.URL == "" {
			return fmt.Errorf("%w: amqp sink requires notify.amqp.url", ErrInvalidSink)
		}
	case SinkWebhook:
		if c.Notify.Webhook.URL == "" {
			return fmt.Errorf("%w: webhook sink requires notify.webhook.url", ErrInvalidSink)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSink, c.Notify.Sink)
	}
	switch c.Notify.Urgency {
	case "low", "normal", "critical":
	default:
		return fmt.Errorf("invalid notification urgency: %s", c.Notify.Urgency)
	}
	if c.Notify.Expire < 0 {
		return fmt.Errorf("invalid notification expire time: %s", c.Notify.Expire)
	}
	return nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}

func (c *Config) validateGeocoder() error {
	switch c.Geocoder.Provider {
	case GeocoderNominatim, GeocoderNone:
		return nil
	case GeocoderOpenCage, GeocoderGeocodeEarth:
		if c.Geocoder.APIKey == "" {
			return fmt.Errorf("geocoder %s requires an API key", c.Geocoder.Provider)
		}
		return nil
	default:
		return fmt.Errorf("invalid geocoder provider: %s", c.Geocoder.Provider)
	}
}
