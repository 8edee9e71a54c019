// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"sync"
)

// Watch is the cancellation handle of a running position stream.
type Watch struct {
	samples <-chan Result
	unsub   func()
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Samples returns the ordered stream of results. The channel is closed once the watch is cancelled.
func (w *Watch) Samples() <-chan Result {
	return w.samples
}

// Cancel stops all providers and closes the sample channel. It is safe to call more than once.
// Results already received by the consumer are unaffected.
func (w *Watch) Cancel() {
	w.once.Do(func() {
		w.cancel()
		w.unsub()
	})
}

// Done is closed once all providers of the watch have stopped.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}
