// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geofence decides, per position sample, whether the user has come within the trigger
// threshold of the active target and whether a notification is due.
package geofence

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/target"
)

const (
	// DefaultThreshold is the trigger distance in meters.
	DefaultThreshold = 1000.0

	// DefaultRearmMargin is the distance beyond the threshold a sample must reach before the
	// rearm policy clears the latch.
	DefaultRearmMargin = 100.0
)

var (
	// ErrNoTarget is returned by Evaluate while no target is set.
	ErrNoTarget = errors.New("no geofence target set")

	// ErrInvalidSample is returned by Evaluate for a sample with an out of range coordinate.
	ErrInvalidSample = errors.New("invalid position sample")

	// ErrUnknownPolicy is returned by ParsePolicy for an unsupported latch policy name.
	ErrUnknownPolicy = errors.New("unknown latch policy")
)

// Policy controls when the notified latch is cleared apart from a target change.
type Policy int

const (
	// PolicyOnce notifies once per target. Only Retarget clears the latch.
	PolicyOnce Policy = iota

	// PolicyRearm also clears the latch once a sample lands at or beyond threshold + margin.
	PolicyRearm
)

func (p Policy) String() string {
	if p == PolicyRearm {
		return "rearm"
	}
	return "once"
}

// ParsePolicy parses "once" or "rearm".
func ParsePolicy(value string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "once":
		return PolicyOnce, nil
	case "rearm":
		return PolicyRearm, nil
	}
	return PolicyOnce, fmt.Errorf("%w: %q", ErrUnknownPolicy, value)
}

// Config sets the initial threshold and the latch policy of an Evaluator.
type Config struct {
	Threshold   float64
	Policy      Policy
	RearmMargin float64
}

// Evaluation is the outcome of evaluating a single position sample.
type Evaluation struct {
	Target         geobus.Coordinate
	Distance       float64
	Threshold      float64
	Inside         bool
	ShouldDispatch bool
	Rearmed        bool
	Generation     uint64
}

// Evaluator holds the active target, the trigger threshold and the notified latch. All methods
// are safe for concurrent use; the latch is tested and set in one critical section.
type Evaluator struct {
	mu        sync.Mutex
	target    geobus.Coordinate
	hasTarget bool
	threshold float64
	policy    Policy
	margin    float64
	notified  bool
	gen       uint64
}

// New returns an Evaluator without a target. A zero threshold selects DefaultThreshold.
func New(config Config) (*Evaluator, error) {
	if config.Threshold == 0 {
		config.Threshold = DefaultThreshold
	}
	if err := target.ValidateThreshold(config.Threshold); err != nil {
		return nil, err
	}
	if config.RearmMargin < 0 {
		return nil, fmt.Errorf("rearm margin must not be negative: %g", config.RearmMargin)
	}
	return &Evaluator{
		threshold: config.Threshold,
		policy:    config.Policy,
		margin:    config.RearmMargin,
	}, nil
}

// Evaluate computes the distance from c to the target and decides whether a notification is
// due. A due notification flips the latch before Evaluate returns, so of several concurrent
// calls at most one reports ShouldDispatch.
func (e *Evaluator) Evaluate(c geobus.Coordinate) (Evaluation, error) {
	if !c.Valid() {
		return Evaluation{}, fmt.Errorf("%w: %g,%g", ErrInvalidSample, c.Lat, c.Lon)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasTarget {
		return Evaluation{}, ErrNoTarget
	}

	eval := Evaluation{
		Target:     e.target,
		Distance:   geobus.Distance(c, e.target),
		Threshold:  e.threshold,
		Generation: e.gen,
	}
	eval.Inside = eval.Distance < e.threshold

	if e.policy == PolicyRearm && e.notified && eval.Distance >= e.threshold+e.margin {
		e.notified = false
		eval.Rearmed = true
	}
	if eval.Inside && !e.notified {
		e.notified = true
		eval.ShouldDispatch = true
	}
	return eval, nil
}

// Retarget replaces the target, resets the latch and starts a new generation.
func (e *Evaluator) Retarget(c geobus.Coordinate) error {
	if err := target.ValidateCoordinate(c); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.target = c
	e.hasTarget = true
	e.notified = false
	e.gen++
	return nil
}

// SetThreshold changes the trigger distance. The latch is kept.
func (e *Evaluator) SetThreshold(meters float64) error {
	if err := target.ValidateThreshold(meters); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.threshold = meters
	return nil
}

// Rollback clears the latch if the target has not changed since generation was evaluated. It
// reports whether the latch was cleared.
func (e *Evaluator) Rollback(generation uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasTarget || generation != e.gen || !e.notified {
		return false
	}
	e.notified = false
	return true
}

// Target returns the active target and whether one is set.
func (e *Evaluator) Target() (geobus.Coordinate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target, e.hasTarget
}

// Threshold returns the trigger distance in meters.
func (e *Evaluator) Threshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// Notified reports whether a notification was dispatched for the active target.
func (e *Evaluator) Notified() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notified
}
