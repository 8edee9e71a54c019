// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package notify forwards geofence triggers to a notification sink, at most once per approach
// and only while a deliverable endpoint exists.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

var (
	// ErrNoSubscription is the reason of a SkippedNoSubscription outcome.
	ErrNoSubscription = errors.New("no deliverable notification endpoint")

	// ErrSinkRequired is returned by NewArbiter without a sink.
	ErrSinkRequired = errors.New("notification sink is required")
)

// Message is the payload handed to a sink. Sinks that only display text use Title and Body.
type Message struct {
	Title     string
	Body      string
	Target    geobus.Coordinate
	Position  geobus.Coordinate
	Distance  float64
	Threshold float64
	At        time.Time
	Test      bool
}

// Sink delivers a message. Send is attempted once per call; there are no retries.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Handle describes a deliverable notification endpoint.
type Handle interface {
	Endpoint() string
}

// Registry reports whether a deliverable endpoint currently exists. Request blocks until one is
// acquired or ctx is done.
type Registry interface {
	Current() (Handle, bool)
	Request(ctx context.Context) (Handle, error)
}

// OutcomeKind is the result class of a dispatch.
type OutcomeKind int

const (
	Skipped OutcomeKind = iota
	SkippedNoSubscription
	Sent
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case SkippedNoSubscription:
		return "skipped (no subscription)"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	default:
		return "skipped"
	}
}

// Outcome is the result of Arbiter.Dispatch. Reason is set for every kind except Sent and a
// plain Skipped.
type Outcome struct {
	Kind     OutcomeKind
	Reason   error
	Endpoint string
}

// Arbiter gates dispatches on the evaluator's decision and on the subscription registry.
type Arbiter struct {
	sink     Sink
	registry Registry
	log      *logger.Logger
}

// NewArbiter returns an Arbiter. A nil registry is treated as one that never has a handle.
func NewArbiter(sink Sink, registry Registry, log *logger.Logger) (*Arbiter, error) {
	if sink == nil {
		return nil, ErrSinkRequired
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Arbiter{sink: sink, registry: registry, log: log}, nil
}

// Dispatch forwards msg to the sink if shouldDispatch is set and a subscription handle exists.
// Calls are independent of each other; deduplication of an approach is the evaluator's latch.
// A sink failure is reported as Failed; it is neither retried nor rolled back here.
func (a *Arbiter) Dispatch(ctx context.Context, shouldDispatch bool, msg Message) Outcome {
	if !shouldDispatch {
		return Outcome{Kind: Skipped}
	}

	var handle Handle
	ok := false
	if a.registry != nil {
		handle, ok = a.registry.Current()
	}
	if !ok || handle == nil {
		a.log.Info("notification suppressed", slog.String("sink", a.sink.Name()),
			logger.Err(ErrNoSubscription))
		return Outcome{Kind: SkippedNoSubscription, Reason: ErrNoSubscription}
	}

	if err := a.sink.Send(ctx, msg); err != nil {
		err = fmt.Errorf("failed to send notification via %s: %w", a.sink.Name(), err)
		a.log.Error("notification failed", slog.String("endpoint", handle.Endpoint()), logger.Err(err))
		return Outcome{Kind: Failed, Reason: err, Endpoint: handle.Endpoint()}
	}
	a.log.Info("notification sent", slog.String("sink", a.sink.Name()),
		slog.String("endpoint", handle.Endpoint()), logger.Meters("distance", msg.Distance),
		slog.Bool("test", msg.Test))
	return Outcome{Kind: Sent, Endpoint: handle.Endpoint()}
}
