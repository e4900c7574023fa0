// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roof

import (
	"sync"
	"time"
)

// watchdog is a one-shot monotonic timer, armed (reset, not accumulated) on
// every genuine motion transition — see SPEC_FULL.md's open question
// decisions for why this module resolves spec.md's P4/§4.6 tension by never
// rearming on an idempotent repeat of the current motion command.
type watchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	active   bool
	onExpire func()
}

func newWatchdog(onExpire func()) *watchdog {
	return &watchdog{onExpire: onExpire}
}

// Arm starts (or restarts) the timer for d. Any previously pending expiry
// is cancelled first.
func (w *watchdog) Arm(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.active = true
	w.timer = time.AfterFunc(d, func() {
		w.mu.Lock()
		w.active = false
		w.mu.Unlock()
		w.onExpire()
	})
}

// Cancel stops a pending expiry, if any.
func (w *watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.active = false
}

// IsActive reports whether an expiry is currently pending.
func (w *watchdog) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
