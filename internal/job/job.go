// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package job

import (
	"context"
	"time"
)

// Job runs a task once on start and then at a fixed interval. Runs never overlap (singleton
// mode). Additional runs can be requested out of band with Trigger.
type Job struct {
	interval time.Duration
	task     func(context.Context)
	trigger  chan struct{}
}

// New creates a new Job with the given interval and task.
func New(interval time.Duration, task func(context.Context)) *Job {
	return &Job{
		interval: interval,
		task:     task,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an extra run as soon as possible. Requests made while one is already pending
// are coalesced. It never blocks.
func (j *Job) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// Start runs the task immediately and then on every tick until the context is cancelled. If a
// tick or trigger fires while a previous run is still executing, it is skipped.
func (j *Job) Start(ctx context.Context) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// 1-slot semaphore: "is a run in progress?"
	sem := make(chan struct{}, 1)
	run := func() {
		select {
		case sem <- struct{}{}:
			go func() {
				defer func() { <-sem }()
				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				j.task(runCtx)
			}()
		default:
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		case <-j.trigger:
			run()
		}
	}
}

// Wait blocks for d or until ctx is done. It reports whether the full duration elapsed.
func Wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
