// Copyright 2020 The gVisor Authors.
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

package faketime

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"lpwr.dev/lpwr/pkg/clock"
)

func TestManualClockAdvance(t *testing.T) {
	mc := NewManualClock()
	var fired []string
	mc.AfterFunc(2*time.Millisecond, func() { fired = append(fired, "b") })
	mc.AfterFunc(time.Millisecond, func() { fired = append(fired, "a") })
	stopped := mc.AfterFunc(time.Millisecond, func() { fired = append(fired, "never") })
	if !stopped.Stop() {
		t.Fatalf("Stop() on armed timer = false")
	}
	if stopped.Stop() {
		t.Fatalf("second Stop() = true")
	}

	mc.Advance(1500 * time.Microsecond)
	if diff := cmp.Diff([]string{"a"}, fired); diff != "" {
		t.Errorf("fired after 1.5ms (-want +got):\n%s", diff)
	}
	if got, want := mc.NowNanoseconds(), int64(1500*time.Microsecond); got != want {
		t.Errorf("NowNanoseconds() = %d, want %d", got, want)
	}

	mc.Advance(time.Millisecond)
	if diff := cmp.Diff([]string{"a", "b"}, fired); diff != "" {
		t.Errorf("fired after 2.5ms (-want +got):\n%s", diff)
	}
	if got := mc.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestManualClockPeriodic(t *testing.T) {
	mc := NewManualClock()
	count := 0
	var tm clock.Timer
	tm = mc.AfterFunc(10*time.Millisecond, func() {
		count++
		tm.Reset(10 * time.Millisecond)
	})
	mc.Advance(55 * time.Millisecond)
	if count != 5 {
		t.Errorf("periodic timer fired %d times in 55ms, want 5", count)
	}
	tm.Stop()
	mc.Advance(time.Second)
	if count != 5 {
		t.Errorf("stopped timer fired: count = %d", count)
	}
}
