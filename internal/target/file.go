// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package target

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/job"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

// ErrEmptyFile is returned when a target file holds no target line.
var ErrEmptyFile = errors.New("no target found in target file")

// Update is the content of a target file.
type Update struct {
	Target    geobus.Coordinate
	Threshold float64 // zero if the file does not set one
}

// FileWatcher re-reads a target file on an interval and reports changes. The first successful
// read is always reported.
type FileWatcher struct {
	path     string
	log      *logger.Logger
	onChange func(prev, next Update)
	job      *job.Job

	loaded  bool
	last    Update
	lastErr string
}

// NewFileWatcher returns a FileWatcher for path. onChange is called from the watcher's goroutine
// with the previous and the new content whenever the file content changes.
func NewFileWatcher(path string, interval time.Duration, log *logger.Logger, onChange func(prev, next Update)) *FileWatcher {
	w := &FileWatcher{
		path:     path,
		log:      log,
		onChange: onChange,
	}
	w.job = job.New(interval, w.check)
	return w
}

// Start reads the file immediately and then on every interval until ctx is cancelled.
func (w *FileWatcher) Start(ctx context.Context) {
	w.job.Start(ctx)
}

// Reload requests an immediate re-read of the file.
func (w *FileWatcher) Reload() {
	w.job.Trigger()
}

func (w *FileWatcher) check(context.Context) {
	update, err := ReadFile(w.path)
	if err != nil {
		if err.Error() != w.lastErr {
			w.log.Warn("ignoring target file", slog.String("path", w.path), logger.Err(err))
			w.lastErr = err.Error()
		}
		return
	}
	w.lastErr = ""

	if w.loaded && update == w.last {
		return
	}
	old := w.last
	w.last, w.loaded = update, true
	w.log.Debug("target file changed", slog.String("path", w.path),
		logger.Position("target", update.Target.Lat, update.Target.Lon),
		logger.Meters("threshold", update.Threshold))
	if w.onChange != nil {
		w.onChange(old, update)
	}
}

// ReadFile parses the first target line of a target file. A target line has the form
// "lat,lng[,threshold]"; empty lines and lines starting with "#" are skipped.
func ReadFile(path string) (Update, error) {
	file, err := os.Open(path)
	if err != nil {
		return Update{}, fmt.Errorf("failed to open target file: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return parseLine(line)
	}
	if err = scanner.Err(); err != nil {
		return Update{}, fmt.Errorf("failed to read target file: %w", err)
	}
	return Update{}, ErrEmptyFile
}

func parseLine(line string) (Update, error) {
	parts := strings.Split(line, ",")
	var update Update
	switch len(parts) {
	case 3:
		threshold, err := ParseThreshold(parts[2])
		if err != nil {
			return Update{}, err
		}
		update.Threshold = threshold
	case 2:
	default:
		return Update{}, fmt.Errorf("%w: malformed target line %q", ErrInvalidTarget, line)
	}

	coord, err := Parse(parts[0] + "," + parts[1])
	if err != nil {
		return Update{}, err
	}
	update.Target = coord
	return update, nil
}
