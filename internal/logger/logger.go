// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package logger

import (
	"io"
	"log/slog"
	"math"
	"os"
)

// Logger wraps a slog.Logger so that packages can share a single logging type.
type Logger struct {
	*slog.Logger
}

// New returns a Logger that writes text records to stderr at the given level.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger returns a Logger that writes text records to output at the given level.
func NewLogger(level slog.Level, output io.Writer) *Logger {
	return &Logger{slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))}
}

// Err returns a slog attribute for the given error.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Position groups a latitude/longitude pair under key.
func Position(key string, lat, lon float64) slog.Attr {
	return slog.Group(key, slog.Float64("lat", lat), slog.Float64("lon", lon))
}

// Meters returns a distance attribute rounded to decimeters.
func Meters(key string, meters float64) slog.Attr {
	return slog.Float64(key, math.Round(meters*10)/10)
}
