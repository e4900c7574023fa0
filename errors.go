// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roof

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. Wrapped with fmt.Errorf's
// %w so callers can use errors.Is.
var (
	// ErrInvalidConfiguration is returned by UpdateConfiguration (and New)
	// when a configuration fails Config.Validate.
	ErrInvalidConfiguration = errors.New("roof: invalid configuration")

	// ErrCommandRejected is returned when the command acceptance matrix
	// (spec.md §4.5) rejects a command for the current status, or when
	// Initialize is called a second time.
	ErrCommandRejected = errors.New("roof: command rejected")

	// ErrInvalidOperation is returned by UpdateConfiguration when the roof
	// is moving or the watchdog is armed.
	ErrInvalidOperation = errors.New("roof: invalid operation")

	// ErrNotInitialized is returned by any command issued before
	// Initialize has completed.
	ErrNotInitialized = errors.New("roof: controller not initialized")

	// ErrCancellationRequested is returned by ClearFault when ctx is
	// cancelled after the release-side write has already succeeded.
	ErrCancellationRequested = errors.New("roof: cancellation requested")
)
