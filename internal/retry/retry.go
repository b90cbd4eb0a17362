// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package retry runs fallible operations a bounded number of times.
package retry

// Do calls op until it returns a nil error or maxAttempts calls have been
// made, and returns the value and error of the last call. attempt counts
// from 1. maxAttempts below 1 is treated as 1.
func Do[T any](maxAttempts int, op func(attempt int) (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var (
		v   T
		err error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err = op(attempt)
		if err == nil {
			return v, nil
		}
	}
	return v, err
}
