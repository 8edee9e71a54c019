// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the waybar-geofence service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wneessen/waybar-geofence/internal/config"
	"github.com/wneessen/waybar-geofence/internal/i18n"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/service"
	"github.com/wneessen/waybar-geofence/internal/target"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type flags struct {
	config      string
	target      string
	threshold   string
	showVersion bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	// Initialize Logger
	log := logger.New(slog.LevelError)

	var opts flags
	flag.StringVar(&opts.config, "config", "", "path to the config file")
	flag.StringVar(&opts.target, "target", "", `target as "lat,lng" or address, overrides the config`)
	flag.StringVar(&opts.threshold, "threshold", "", "trigger distance in meters, overrides the config")
	flag.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if opts.showVersion {
		fmt.Printf("waybar-geofence %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	conf, err := loadConfig(opts)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}

	log = logger.New(conf.LogLevel)
	t, err := i18n.New(conf.Locale)
	if err != nil {
		log.Error("failed to initialize localizer", logger.Err(err))
		os.Exit(1)
	}

	// Initialize the service
	serv, err := service.New(conf, log, t)
	if err != nil {
		log.Error("failed to initialize waybar-geofence service", logger.Err(err))
		os.Exit(1)
	}

	// Start the service loop
	log.Info(t.Get("starting waybar-geofence service"), slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date))
	if err = serv.Run(ctx); err != nil {
		log.Error(t.Get("failed to start waybar-geofence service"), logger.Err(err))
		os.Exit(1)
	}
	log.Info(t.Get("shutting down waybar-geofence service"))
}

// loadConfig reads the config file given on the command line, the one in the default location or,
// without either, the environment only. Target and threshold flags are validated before they
// replace the configured values.
func loadConfig(opts flags) (*config.Config, error) {
	var conf *config.Config
	var err error

	path, file := findConfigFile()
	if opts.config != "" {
		path, file = filepath.Dir(opts.config), filepath.Base(opts.config)
	}
	switch {
	case file != "":
		conf, err = config.NewFromFile(path, file)
	default:
		conf, err = config.New()
	}
	if err != nil {
		return nil, err
	}

	if opts.threshold != "" {
		threshold, err := target.ParseThreshold(opts.threshold)
		if err != nil {
			return nil, err
		}
		conf.Geofence.Threshold = threshold
	}
	if opts.target != "" {
		conf.Geofence.Target = opts.target
		if err = conf.Validate(); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", "waybar-geofence", "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}
