// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/godbus/dbus/v5"
	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-geofence/internal/config"
	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geocode"
	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/http"
	"github.com/wneessen/waybar-geofence/internal/i18n"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/notify"
	"github.com/wneessen/waybar-geofence/internal/presenter"
	"github.com/wneessen/waybar-geofence/internal/target"
	"github.com/wneessen/waybar-geofence/internal/template"
)

const (
	DesktopID = "waybar-geofence"

	sampleBuffer    = 32
	dispatchTimeout = time.Second * 30
	resolveTimeout  = time.Second * 15
	cacheHitTTL     = time.Hour * 24
	cacheMissTTL    = time.Minute * 10
)

type Service struct {
	config       *config.Config
	geobus       *geobus.GeoBus
	http         *http.Client
	logger       *logger.Logger
	localizer    *spreak.Localizer
	scheduler    gocron.Scheduler
	presenter    *presenter.Presenter
	evaluator    *geofence.Evaluator
	geocoder     geocode.Geocoder
	resolver     *target.Resolver
	orchestrator *geobus.Orchestrator
	arbiter      *notify.Arbiter
	targetFile   *target.FileWatcher
	jobs         []func(context.Context)
	closers      []func() error
	output       io.Writer
	outputLock   sync.Mutex
	SignalSrc    signalSource
	systemBus    func(opts ...dbus.ConnOption) (*dbus.Conn, error)

	displayAltLock sync.RWMutex
	displayAltText bool

	stateLock  sync.RWMutex
	sample     *geobus.Result
	evaluation *geofence.Evaluation
	lastError  error
	address    geocode.Address

	watchLock sync.Mutex
	watch     *geobus.Watch
}

func New(conf *config.Config, log *logger.Logger, loc *spreak.Localizer) (*Service, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	hum, err := i18n.NewHumanizer(conf.Locale)
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer: %w", err)
	}
	tpls, err := template.New(template.Config{
		Text:    conf.Templates.Text,
		AltText: conf.Templates.AltText,
		Tooltip: conf.Templates.Tooltip,
	}, loc, hum)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	pres, err := presenter.New(tpls)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}

	policy, err := geofence.ParsePolicy(conf.Geofence.LatchPolicy)
	if err != nil {
		return nil, err
	}
	evaluator, err := geofence.New(geofence.Config{
		Threshold:   conf.Geofence.Threshold,
		Policy:      policy,
		RearmMargin: conf.Geofence.RearmMargin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create geofence evaluator: %w", err)
	}

	bus, err := geobus.New(log, conf.Position.MaxSampleAge)
	if err != nil {
		return nil, fmt.Errorf("failed to create geobus: %w", err)
	}

	service := &Service{
		config:    conf,
		geobus:    bus,
		http:      http.New(log),
		logger:    log,
		localizer: loc,
		scheduler: scheduler,
		presenter: pres,
		evaluator: evaluator,
		output:    os.Stdout,
		SignalSrc: stdLibSignalSource{},
		systemBus: dbus.ConnectSystemBus,
	}
	return service, nil
}

// Run starts all components and blocks until ctx is cancelled. Components that are already set
// up are kept.
func (s *Service) Run(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}
	defer s.close()

	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printOutput,
		"geofence_output_job"); err != nil {
		return err
	}
	s.scheduler.Start()

	for _, job := range s.jobs {
		if job != nil {
			go job(ctx)
		}
	}

	if s.config.Geofence.TargetFile != "" {
		s.targetFile = target.NewFileWatcher(s.config.Geofence.TargetFile, s.config.Intervals.TargetFile,
			s.logger, func(prev, next target.Update) { s.applyTargetUpdate(ctx, prev, next) })
	}

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go s.HandleSignals(ctx, sigChan)
	go s.monitorSleepResume(ctx)

	s.applyConfiguredTarget(ctx)
	if s.targetFile != nil {
		go s.targetFile.Start(ctx)
	}

	go s.watchPositions(ctx)

	// Wait for the context to cancel
	<-ctx.Done()
	s.SignalSrc.Stop(sigChan)
	s.restartWatch()
	return s.scheduler.Shutdown()
}

func (s *Service) setup(ctx context.Context) error {
	if s.resolver == nil {
		geocoder, err := s.selectGeocodeProvider()
		if err != nil {
			return fmt.Errorf("failed to create geocode provider: %w", err)
		}
		s.geocoder = geocoder
		s.resolver = target.NewResolver(geocoder)
	}
	if s.orchestrator == nil {
		provider, err := s.selectGeobusProviders()
		if err != nil {
			return fmt.Errorf("failed to create geobus orchestrator: %w", err)
		}
		s.orchestrator = s.geobus.NewOrchestrator(provider)
	}
	if s.arbiter == nil {
		sink, registry, err := s.selectNotifier(ctx)
		if err != nil {
			return fmt.Errorf("failed to create notification sink: %w", err)
		}
		arbiter, err := notify.NewArbiter(sink, registry, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create notification arbiter: %w", err)
		}
		s.arbiter = arbiter
	}
	return nil
}

func (s *Service) close() {
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			s.logger.Error("failed to close notification sink", logger.Err(err))
		}
	}
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// printOutput renders the current state and writes it as a single waybar JSON line.
func (s *Service) printOutput(context.Context) {
	s.displayAltLock.RLock()
	alt := s.displayAltText
	s.displayAltLock.RUnlock()

	output, err := s.presenter.Render(s.presenter.BuildContext(s.snapshot()), alt)
	if err != nil {
		s.logger.Error("failed to render output", logger.Err(err))
		return
	}

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode output", logger.Err(err))
	}
}

func (s *Service) snapshot() presenter.State {
	state := presenter.State{
		Threshold: s.evaluator.Threshold(),
		Notified:  s.evaluator.Notified(),
	}
	if coord, ok := s.evaluator.Target(); ok {
		state.Target = &coord
	}

	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	state.Sample = s.sample
	state.Evaluation = s.evaluation
	state.LastError = s.lastError
	state.Address = s.address
	return state
}

func (s *Service) setError(err error) {
	s.stateLock.Lock()
	s.lastError = err
	s.stateLock.Unlock()
}

// watchPositions keeps a position watch running until ctx is cancelled. A cancelled watch is
// replaced by a new one.
func (s *Service) watchPositions(ctx context.Context) {
	for ctx.Err() == nil {
		watch := s.orchestrator.Watch(ctx, DesktopID, sampleBuffer)
		s.watchLock.Lock()
		s.watch = watch
		s.watchLock.Unlock()

		s.processSamples(ctx, watch.Samples())
		watch.Cancel()
		<-watch.Done()
	}
}

// restartWatch cancels the running watch. watchPositions starts a new one unless the service is
// shutting down.
func (s *Service) restartWatch() {
	s.watchLock.Lock()
	defer s.watchLock.Unlock()
	if s.watch != nil {
		s.watch.Cancel()
	}
}

// processSamples is the single consumer of the position stream. Samples are evaluated one at a
// time in arrival order.
func (s *Service) processSamples(ctx context.Context, samples <-chan geobus.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-samples:
			if !ok {
				return
			}
			s.handleSample(ctx, r)
		}
	}
}

func (s *Service) handleSample(ctx context.Context, r geobus.Result) {
	if r.IsError() {
		s.logger.Warn("position source reported an error", slog.String("source", r.Source),
			logger.Err(r.Err))
		s.stateLock.Lock()
		s.lastError = r.Err
		s.stateLock.Unlock()
		s.printOutput(ctx)
		return
	}
	s.logger.Debug("received position sample", logger.Position("position", r.Lat, r.Lon),
		slog.String("source", r.Source), logger.Meters("accuracy", r.AccuracyMeters()))

	eval, err := s.evaluator.Evaluate(r.Coordinate)
	s.stateLock.Lock()
	s.sample = &r
	s.lastError = nil
	s.evaluation = nil
	if err == nil {
		s.evaluation = &eval
	}
	s.stateLock.Unlock()

	switch {
	case errors.Is(err, geofence.ErrNoTarget):
		s.logger.Debug("no target set, skipping evaluation")
	case err != nil:
		s.logger.Error("failed to evaluate position sample", logger.Err(err))
	case eval.Rearmed:
		s.logger.Info("left the target area, notification re-armed", logger.Meters("distance", eval.Distance))
	}
	if err == nil && eval.ShouldDispatch {
		go s.dispatch(ctx, eval, r.Coordinate)
	}
	s.printOutput(ctx)
}

// dispatch hands a triggered evaluation to the arbiter. A dispatch that was skipped for lack of a
// subscription clears the latch again unless that is disabled or the target changed meanwhile.
func (s *Service) dispatch(ctx context.Context, eval geofence.Evaluation, position geobus.Coordinate) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	outcome := s.arbiter.Dispatch(ctx, eval.ShouldDispatch, s.approachMessage(eval, position))
	switch outcome.Kind {
	case notify.SkippedNoSubscription:
		if s.config.RollbackOnSkip() && s.evaluator.Rollback(eval.Generation) {
			s.logger.Info("no notification endpoint available, notification re-armed")
		}
	case notify.Failed:
		s.setError(outcome.Reason)
	case notify.Skipped, notify.Sent:
	}
	s.logger.Debug("notification dispatch finished", slog.String("outcome", outcome.Kind.String()))
	s.printOutput(ctx)
}

func (s *Service) approachMessage(eval geofence.Evaluation, position geobus.Coordinate) notify.Message {
	return notify.Message{
		Title:     s.localizer.Get("Approaching destination"),
		Body:      s.localizer.Getf("You are %s away from your destination.", template.Distance(eval.Distance)),
		Target:    eval.Target,
		Position:  position,
		Distance:  eval.Distance,
		Threshold: eval.Threshold,
		At:        time.Now(),
	}
}

// sendTestNotification sends a notification that bypasses the evaluator but still needs a
// subscription.
func (s *Service) sendTestNotification(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	msg := notify.Message{
		Title:     s.localizer.Get("Test notification"),
		Body:      s.localizer.Get("Notifications from waybar-geofence are working."),
		Threshold: s.evaluator.Threshold(),
		At:        time.Now(),
		Test:      true,
	}
	if coord, ok := s.evaluator.Target(); ok {
		msg.Target = coord
	}
	outcome := s.arbiter.Dispatch(ctx, true, msg)
	s.logger.Info("test notification finished", slog.String("outcome", outcome.Kind.String()),
		slog.String("endpoint", outcome.Endpoint))
}
