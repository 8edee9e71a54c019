// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	defaultPollTimeout    = time.Second * 2
	watchCommand          = `?WATCH={"enable":true,"json":true}`
	unwatchCommand        = `?WATCH={"enable":false}`
)

// ErrNoFix is returned when gpsd closed the session before sending a TPV report.
var ErrNoFix = errors.New("no TPV report received from gpsd")

// Client is a single-shot gpsd client. Every Poll opens a fresh session, reads the first TPV
// report and closes the session again, so the GPS receiver can power down between polls.
type Client struct {
	Addr    string
	Device  string
	Timeout time.Duration
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat    float64
	Lon    float64
	Alt    float64
	Acc    float64
	Mode   int
	Device string
	Time   time.Time
}

// tpvReport matches the subset of gpsd's TPV report we care about.
type tpvReport struct {
	Class  string    `json:"class"`
	Device string    `json:"device"`
	Time   time.Time `json:"time"`
	Lat    float64   `json:"lat"`
	Lon    float64   `json:"lon"`
	Alt    float64   `json:"alt"`
	Mode   int       `json:"mode"`
	Epx    float64   `json:"epx"`
	Epy    float64   `json:"epy"`
	Eph    float64   `json:"eph"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr:    net.JoinHostPort(host, port),
		Timeout: defaultPollTimeout,
	}
}

// Poll connects to gpsd, enables watch mode and returns the first TPV report of the configured
// device (or any device if none is configured). The connection is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return zero, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}
	defer func() {
		_, _ = fmt.Fprintln(conn, unwatchCommand)
		_ = conn.Close()
	}()

	// Abort a blocking read as soon as the context is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	deadline, ok := ctx.Deadline()
	if !ok {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultPollTimeout
		}
		deadline = time.Now().Add(timeout)
	}
	_ = conn.SetDeadline(deadline)

	if _, err = fmt.Fprintln(conn, watchCommand); err != nil {
		return zero, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		var report tpvReport
		if err = json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if report.Class != "TPV" {
			continue
		}
		if c.Device != "" && report.Device != c.Device {
			continue
		}

		fixTime := report.Time
		if fixTime.IsZero() {
			fixTime = time.Now()
		}
		return Fix{
			Lat:    report.Lat,
			Lon:    report.Lon,
			Alt:    report.Alt,
			Acc:    horizontalAccuracyMeters(report),
			Mode:   report.Mode,
			Device: report.Device,
			Time:   fixTime,
		}, nil
	}

	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if err = scanner.Err(); err != nil {
		return zero, fmt.Errorf("gpspoll: read gpsd response: %w", err)
	}
	return zero, ErrNoFix
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

// HorizontalAccuracy derives the horizontal error estimate in meters from the gpsd error fields.
// eph is preferred, then the combined epx/epy, and finally a guess based on the fix mode.
func HorizontalAccuracy(eph, epx, epy float64, mode int) float64 {
	return horizontalAccuracyMeters(tpvReport{Eph: eph, Epx: epx, Epy: epy, Mode: mode})
}

func horizontalAccuracyMeters(tpv tpvReport) float64 {
	switch {
	case tpv.Eph > 0:
		return tpv.Eph
	case tpv.Epx > 0 && tpv.Epy > 0:
		return math.Hypot(tpv.Epx, tpv.Epy)
	}

	switch tpv.Mode {
	case 3:
		return fallbackAccuracy3DFix
	case 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
