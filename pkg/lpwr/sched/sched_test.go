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

package sched

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"lpwr.dev/lpwr/pkg/clock"
	"lpwr.dev/lpwr/pkg/errors/lpwrerr"
	"lpwr.dev/lpwr/pkg/faketime"
)

// countingClock wraps a ManualClock and counts timer arm and cancel events.
type countingClock struct {
	*faketime.ManualClock
	creates int
	resets  int
	stops   int
}

func (c *countingClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.creates++
	return &countingTimer{Timer: c.ManualClock.AfterFunc(d, f), c: c}
}

type countingTimer struct {
	clock.Timer
	c *countingClock
}

func (t *countingTimer) Reset(d time.Duration) {
	t.c.resets++
	t.Timer.Reset(d)
}

func (t *countingTimer) Stop() bool {
	t.c.stops++
	return t.Timer.Stop()
}

type fakeClient struct {
	name  string
	log   *[]string
	err   error
	onRun func()
}

func (f *fakeClient) Execute() error {
	*f.log = append(*f.log, f.name)
	if f.onRun != nil {
		f.onRun()
	}
	return f.err
}

type fakeGate struct {
	full  bool
	wakes int
}

func (g *fakeGate) IsFullPower() bool { return g.full }
func (g *fakeGate) RequestWake()      { g.wakes++ }

const period = 100 * time.Microsecond

func newTestScheduler(t *testing.T, gate Gate) (*Scheduler, *countingClock) {
	t.Helper()
	c := &countingClock{ManualClock: faketime.NewManualClock()}
	s, err := New(c, uint32(period/time.Microsecond), gate, PolicyNone)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, c
}

func TestScheduleIsReferenceCountedByMask(t *testing.T) {
	s, c := newTestScheduler(t, nil)
	var ran []string
	if err := s.Register(CallbackAPGR, &fakeClient{name: "gr", log: &ran}, 1, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.Schedule(CallbackAPGR)
	s.Schedule(CallbackAPGR)
	s.Deschedule(CallbackAPGR)
	s.Deschedule(CallbackAPGR)

	st := s.State()
	if st.Arms != 1 || st.Cancels != 1 {
		t.Errorf("arms = %d, cancels = %d, want 1 and 1", st.Arms, st.Cancels)
	}
	if c.creates != 1 || c.resets != 0 || c.stops != 1 {
		t.Errorf("timer creates/resets/stops = %d/%d/%d, want 1/0/1", c.creates, c.resets, c.stops)
	}

	// Re-arming reuses the timer.
	s.Schedule(CallbackAPGR)
	if c.creates != 1 || c.resets != 1 {
		t.Errorf("re-arm: creates/resets = %d/%d, want 1/1", c.creates, c.resets)
	}
}

func TestTimerArmedOnlyOnTransitions(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var ran []string
	s.Register(CallbackAPGR, &fakeClient{name: "gr", log: &ran}, 1, false)
	s.Register(CallbackAPDI, &fakeClient{name: "di", log: &ran}, 1, false)

	s.Schedule(CallbackAPGR)
	s.Schedule(CallbackAPDI)
	s.Deschedule(CallbackAPGR)
	if st := s.State(); st.Arms != 1 || st.Cancels != 0 || !st.Armed {
		t.Errorf("after partial deschedule: %+v", st)
	}
	s.Deschedule(CallbackAPDI)
	if st := s.State(); st.Arms != 1 || st.Cancels != 1 || st.Armed {
		t.Errorf("after full deschedule: %+v", st)
	}
}

func TestMultiplier(t *testing.T) {
	s, c := newTestScheduler(t, nil)
	var ran []string
	s.Register(CallbackAPGR, &fakeClient{name: "gr", log: &ran}, 1, false)
	s.Register(CallbackAPMSCG, &fakeClient{name: "mscg", log: &ran}, 3, false)
	s.Schedule(CallbackAPGR)
	s.Schedule(CallbackAPMSCG)

	c.Advance(6 * period)
	want := []string{"gr", "gr", "gr", "mscg", "gr", "gr", "gr", "mscg"}
	if diff := cmp.Diff(want, ran); diff != "" {
		t.Errorf("executions (-want +got):\n%s", diff)
	}
	if got := s.State().Ticks; got != 6 {
		t.Errorf("ticks = %d, want 6", got)
	}
	if got := s.PeriodUs(CallbackAPMSCG); got != 300 {
		t.Errorf("PeriodUs = %d, want 300", got)
	}
}

func TestDeferredUntilFullPower(t *testing.T) {
	g := &fakeGate{}
	s, _ := newTestScheduler(t, g)
	var ran []string
	s.Register(CallbackAPGR, &fakeClient{name: "gr", log: &ran}, 1, false)
	s.Register(CallbackAPDI, &fakeClient{name: "di", log: &ran}, 1, false)
	s.Register(CallbackAPMSCG, &fakeClient{name: "mscg", log: &ran}, 1, true)
	s.Schedule(CallbackAPMSCG)
	s.Schedule(CallbackAPDI)
	s.Schedule(CallbackAPGR)

	s.Tick()
	if diff := cmp.Diff([]string{"mscg"}, ran); diff != "" {
		t.Errorf("immediate executions (-want +got):\n%s", diff)
	}
	st := s.State()
	if st.PendingMask != 0b011 || !st.WakeInProgress || g.wakes != 1 {
		t.Errorf("pending = %#b, wake = %v, wakes = %d", st.PendingMask, st.WakeInProgress, g.wakes)
	}

	// A second tick while the wake is in flight does not request again.
	s.Tick()
	if g.wakes != 1 {
		t.Errorf("wakes = %d, want 1", g.wakes)
	}

	s.GateFullPower()
	if diff := cmp.Diff([]string{"mscg", "mscg", "gr", "di"}, ran); diff != "" {
		t.Errorf("executions (-want +got):\n%s", diff)
	}
	st = s.State()
	if st.PendingMask != 0 || st.WakeInProgress {
		t.Errorf("after full power: pending = %#b, wake = %v", st.PendingMask, st.WakeInProgress)
	}

	// Once ungated, callbacks run directly.
	g.full = true
	ran = nil
	s.Tick()
	if diff := cmp.Diff([]string{"gr", "di", "mscg"}, ran); diff != "" {
		t.Errorf("ungated executions (-want +got):\n%s", diff)
	}
}

func TestDescheduleDropsPending(t *testing.T) {
	g := &fakeGate{}
	s, _ := newTestScheduler(t, g)
	var ran []string
	s.Register(CallbackAPGR, &fakeClient{name: "gr", log: &ran}, 1, false)
	s.Schedule(CallbackAPGR)
	s.Tick()
	s.Deschedule(CallbackAPGR)
	s.GateFullPower()
	if len(ran) != 0 {
		t.Errorf("descheduled callback ran: %v", ran)
	}
}

func TestDescheduleDuringTick(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var ran []string
	s.Register(CallbackAPDI, &fakeClient{name: "di", log: &ran}, 1, false)
	s.Register(CallbackAPGR, &fakeClient{name: "gr", log: &ran, onRun: func() { s.Deschedule(CallbackAPDI) }}, 1, false)
	s.Schedule(CallbackAPGR)
	s.Schedule(CallbackAPDI)
	s.Tick()
	if diff := cmp.Diff([]string{"gr"}, ran); diff != "" {
		t.Errorf("executions (-want +got):\n%s", diff)
	}
}

func TestExecuteFailureKeepsScheduling(t *testing.T) {
	s, c := newTestScheduler(t, nil)
	var ran []string
	s.Register(CallbackAPGR, &fakeClient{name: "gr", log: &ran, err: lpwrerr.Error}, 1, false)
	s.Schedule(CallbackAPGR)
	c.Advance(3 * period)
	if len(ran) != 3 {
		t.Errorf("ran %d times, want 3", len(ran))
	}
	if got := s.State().Callbacks[0].Failures; got != 3 {
		t.Errorf("failures = %d, want 3", got)
	}
}

func TestRegisterErrors(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var ran []string
	cl := &fakeClient{name: "gr", log: &ran}
	if err := s.Register(NumCallbacks, cl, 1, false); !errors.Is(err, lpwrerr.InvalidArgument) {
		t.Errorf("Register(out of range) = %v, want InvalidArgument", err)
	}
	if err := s.Register(CallbackAPGR, cl, 0, false); !errors.Is(err, lpwrerr.InvalidArgument) {
		t.Errorf("Register(multiplier 0) = %v, want InvalidArgument", err)
	}
	if err := s.Register(CallbackAPGR, cl, 1, false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(CallbackAPGR, cl, 1, false); !errors.Is(err, lpwrerr.InvalidState) {
		t.Errorf("Register(twice) = %v, want InvalidState", err)
	}
	if _, err := New(faketime.NewManualClock(), 0, nil, PolicyNone); !errors.Is(err, lpwrerr.InvalidArgument) {
		t.Errorf("New(period 0) = %v, want InvalidArgument", err)
	}
}
