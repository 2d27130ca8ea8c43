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

// Package faketime provides a fake clock that implements clock.Clock.
//
// Timer callbacks run synchronously on the goroutine calling Advance, which
// is what the single-task low-power engine expects.
package faketime

import (
	"container/heap"
	"sync"
	"time"

	"lpwr.dev/lpwr/pkg/clock"
)

// NullClock implements a clock that never advances.
type NullClock struct{}

var _ clock.Clock = (*NullClock)(nil)

// NowNanoseconds implements clock.Clock.NowNanoseconds.
func (*NullClock) NowNanoseconds() int64 {
	return 0
}

// AfterFunc implements clock.Clock.AfterFunc.
func (*NullClock) AfterFunc(time.Duration, func()) clock.Timer {
	return nullTimer{}
}

type nullTimer struct{}

func (nullTimer) Stop() bool            { return false }
func (nullTimer) Reset(d time.Duration) {}

// ManualClock implements clock.Clock and only advances manually with Advance
// method.
type ManualClock struct {
	// mu protects the fields below.
	mu sync.Mutex

	// now is the time elapsed since the clock was created.
	now time.Duration

	// timers is a min-heap of armed timers ordered by expiry. Timers with
	// the same expiry fire in the order they were armed.
	timers timerHeap

	// seq breaks expiry ties.
	seq uint64
}

// NewManualClock creates a new ManualClock instance.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

var _ clock.Clock = (*ManualClock)(nil)

// NowNanoseconds implements clock.Clock.NowNanoseconds.
func (mc *ManualClock) NowNanoseconds() int64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return int64(mc.now)
}

// AfterFunc implements clock.Clock.AfterFunc.
func (mc *ManualClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	t := &manualTimer{clock: mc, f: f, index: -1}
	mc.mu.Lock()
	mc.armLocked(t, d)
	mc.mu.Unlock()
	return t
}

// Pending returns the number of armed timers.
func (mc *ManualClock) Pending() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.timers.Len()
}

func (mc *ManualClock) armLocked(t *manualTimer, d time.Duration) {
	mc.seq++
	t.until = mc.now + d
	t.seq = mc.seq
	heap.Push(&mc.timers, t)
}

// Advance executes all work that have been scheduled to execute within d from
// the current time. Callbacks run in expiry order on the calling goroutine,
// and timers re-armed by a callback fire again within the same Advance if
// their new expiry is still within d.
func (mc *ManualClock) Advance(d time.Duration) {
	mc.mu.Lock()
	until := mc.now + d
	for mc.timers.Len() > 0 && mc.timers[0].until <= until {
		t := heap.Pop(&mc.timers).(*manualTimer)
		mc.now = t.until
		mc.mu.Unlock()
		t.f()
		mc.mu.Lock()
	}
	mc.now = until
	mc.mu.Unlock()
}

type manualTimer struct {
	clock *ManualClock
	f     func()

	// The fields below are protected by clock.mu.
	until time.Duration
	seq   uint64
	index int
}

var _ clock.Timer = (*manualTimer)(nil)

// Reset implements clock.Timer.Reset.
func (t *manualTimer) Reset(d time.Duration) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.index >= 0 {
		heap.Remove(&t.clock.timers, t.index)
	}
	t.clock.armLocked(t, d)
}

// Stop implements clock.Timer.Stop.
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.clock.timers, t.index)
	return true
}

type timerHeap []*manualTimer

var _ heap.Interface = (*timerHeap)(nil)

func (h timerHeap) Len() int {
	return len(h)
}

func (h timerHeap) Less(i, j int) bool {
	if h[i].until != h[j].until {
		return h[i].until < h[j].until
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*manualTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
