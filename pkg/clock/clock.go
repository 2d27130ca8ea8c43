// Copyright 2026 The lpwr Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clock defines the time source used by the callback scheduler.
package clock

import "time"

// Clock provides the current time and timer functionality.
//
// Timer callbacks must be delivered on the task that owns the scheduler; the
// low-power engine does no locking of its own.
type Clock interface {
	// NowNanoseconds returns the current time in nanoseconds.
	NowNanoseconds() int64

	// AfterFunc waits for the duration to elapse and then calls f. It
	// returns a Timer that can be used to cancel the call using its Stop
	// method.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a single event. A Timer must be created with
// Clock.AfterFunc.
type Timer interface {
	// Stop prevents the Timer from firing. It returns true if the call
	// stops the timer, false if the timer has already expired or been
	// stopped.
	Stop() bool

	// Reset changes the timer to expire after duration d. Reset should be
	// invoked only on stopped or expired timers.
	Reset(d time.Duration)
}
