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

// Package sched implements the centralized callback scheduler.
//
// A single recurring timer ticks every basePeriod. Each registered callback
// runs once every baseMultiplier ticks while it is scheduled. Callbacks that
// must not run while the gating subsystem is power gated are deferred: the
// scheduler records them as pending, requests a wake, and runs them once the
// subsystem reports full power.
//
// The scheduler is owned by a single task. None of its methods may be called
// concurrently, and timer callbacks must be delivered on the owning task.
package sched

import (
	"fmt"
	"time"

	"lpwr.dev/lpwr/pkg/bits"
	"lpwr.dev/lpwr/pkg/clock"
	"lpwr.dev/lpwr/pkg/errors/lpwrerr"
	"lpwr.dev/lpwr/pkg/log"
)

// CallbackID identifies a scheduler client.
type CallbackID uint8

// Callback identifiers.
const (
	CallbackAPGR CallbackID = iota
	CallbackAPDI
	CallbackAPMSCG

	// NumCallbacks is the number of callback slots.
	NumCallbacks
)

var callbackNames = [NumCallbacks]string{
	CallbackAPGR:   "ap-gr",
	CallbackAPDI:   "ap-di",
	CallbackAPMSCG: "ap-mscg",
}

func (id CallbackID) String() string {
	if id < NumCallbacks {
		return callbackNames[id]
	}
	return fmt.Sprintf("CallbackID(%d)", uint8(id))
}

// Client is a callback run by the scheduler.
type Client interface {
	// Execute runs one period of the client's work. It must not block.
	Execute() error
}

// Gate is the gating subsystem that deferred callbacks wait on.
type Gate interface {
	// IsFullPower returns true if the subsystem is ungated.
	IsFullPower() bool

	// RequestWake asks the subsystem to ungate. Completion is reported
	// through Scheduler.GateFullPower.
	RequestWake()
}

// record is the per-callback state.
type record struct {
	client Client

	// baseMultiplier is the number of ticks between executions.
	baseMultiplier uint32

	// baseCount is the number of ticks since the last execution.
	baseCount uint32

	// immediate requests execution without waiting for the gating
	// subsystem.
	immediate bool

	executions uint64
	deferrals  uint64
	failures   uint64
}

// Scheduler is the callback scheduler state.
type Scheduler struct {
	clock        clock.Clock
	basePeriodUs uint32
	gate         Gate

	// timer is created on the first schedule and reused afterwards.
	timer clock.Timer
	armed bool

	records [NumCallbacks]record

	// scheduledMask has a bit set per callback requesting scheduling.
	scheduledMask uint32

	// pendingMask has a bit set per callback whose execution is deferred
	// until the gating subsystem reaches full power.
	pendingMask uint32

	// wakeInProgress is set while a wake request is outstanding.
	wakeInProgress bool

	arbiter SleepArbiter

	ticks   uint64
	arms    uint64
	cancels uint64

	// warn throttles per-tick failure reports.
	warn log.Logger
}

// New returns a scheduler ticking every basePeriodUs microseconds. gate may
// be nil if the chip has no gating subsystem, in which case callbacks always
// run immediately.
func New(c clock.Clock, basePeriodUs uint32, gate Gate, policy Policy) (*Scheduler, error) {
	if basePeriodUs == 0 {
		return nil, fmt.Errorf("base period must be non-zero: %w", lpwrerr.InvalidArgument)
	}
	return &Scheduler{
		clock:        c,
		basePeriodUs: basePeriodUs,
		gate:         gate,
		arbiter:      SleepArbiter{policy: policy},
		warn:         log.RateLimitedBurstLogger(log.Log(), time.Second, 4),
	}, nil
}

// BasePeriodUs returns the tick period in microseconds.
func (s *Scheduler) BasePeriodUs() uint32 {
	return s.basePeriodUs
}

// Register installs client in slot id. The callback is not scheduled until
// Schedule is called.
func (s *Scheduler) Register(id CallbackID, client Client, baseMultiplier uint32, immediate bool) error {
	if id >= NumCallbacks {
		return fmt.Errorf("callback %v: %w", id, lpwrerr.InvalidArgument)
	}
	if baseMultiplier == 0 {
		return fmt.Errorf("callback %v: base multiplier must be non-zero: %w", id, lpwrerr.InvalidArgument)
	}
	r := &s.records[id]
	if r.client != nil {
		return fmt.Errorf("callback %v already registered: %w", id, lpwrerr.InvalidState)
	}
	*r = record{
		client:         client,
		baseMultiplier: baseMultiplier,
		immediate:      immediate,
	}
	return nil
}

// PeriodUs returns the execution period of callback id in microseconds.
func (s *Scheduler) PeriodUs(id CallbackID) uint32 {
	return s.basePeriodUs * s.records[id].baseMultiplier
}

// Schedule requests periodic execution of callback id. Scheduling an already
// scheduled callback is a no-op.
func (s *Scheduler) Schedule(id CallbackID) {
	if s.records[id].client == nil {
		panic(fmt.Sprintf("scheduling unregistered callback %v", id))
	}
	bit := bits.MaskOf32(int(id))
	if bits.IsOn32(s.scheduledMask, bit) {
		return
	}
	s.records[id].baseCount = 0
	wasIdle := s.scheduledMask == 0
	s.scheduledMask |= bit
	if wasIdle {
		s.arm()
	}
}

// Deschedule stops periodic execution of callback id from the next tick on.
// Descheduling an unscheduled callback is a no-op.
func (s *Scheduler) Deschedule(id CallbackID) {
	bit := bits.MaskOf32(int(id))
	if !bits.IsOn32(s.scheduledMask, bit) {
		return
	}
	s.scheduledMask &^= bit
	s.pendingMask &^= bit
	if s.scheduledMask == 0 {
		s.cancel()
	}
}

// IsScheduled returns true if callback id is scheduled.
func (s *Scheduler) IsScheduled(id CallbackID) bool {
	return bits.IsOn32(s.scheduledMask, bits.MaskOf32(int(id)))
}

func (s *Scheduler) arm() {
	period := time.Duration(s.basePeriodUs) * time.Microsecond
	if s.timer == nil {
		s.timer = s.clock.AfterFunc(period, s.fire)
	} else {
		s.timer.Reset(period)
	}
	s.armed = true
	s.arms++
	log.Debugf("Callback timer armed, period %dus", s.basePeriodUs)
}

func (s *Scheduler) cancel() {
	s.timer.Stop()
	s.armed = false
	s.cancels++
	log.Debugf("Callback timer canceled")
}

// fire is the timer callback.
func (s *Scheduler) fire() {
	if !s.armed {
		return
	}
	s.timer.Reset(time.Duration(s.basePeriodUs) * time.Microsecond)
	s.Tick()
}

// Tick processes one base period.
func (s *Scheduler) Tick() {
	s.ticks++
	bits.ForEachSetBit32(s.scheduledMask, func(i int) {
		// An earlier callback in this tick may have descheduled i.
		if !bits.IsOn32(s.scheduledMask, bits.MaskOf32(i)) {
			return
		}
		r := &s.records[i]
		r.baseCount++
		if r.baseCount < r.baseMultiplier {
			return
		}
		r.baseCount = 0

		if r.immediate || s.gate == nil || s.gate.IsFullPower() {
			s.execute(CallbackID(i))
			return
		}

		r.deferrals++
		s.pendingMask |= bits.MaskOf32(i)
		if !s.wakeInProgress {
			s.wakeInProgress = true
			s.gate.RequestWake()
		}
	})
}

// GateFullPower is called when the gating subsystem has reached full power.
// Every pending callback runs, lowest id first.
func (s *Scheduler) GateFullPower() {
	pending := s.pendingMask
	s.pendingMask = 0
	s.wakeInProgress = false
	bits.ForEachSetBit32(pending, func(i int) {
		if bits.IsOn32(s.scheduledMask, bits.MaskOf32(i)) {
			s.execute(CallbackID(i))
		}
	})
}

func (s *Scheduler) execute(id CallbackID) {
	r := &s.records[id]
	r.executions++
	if err := r.client.Execute(); err != nil {
		r.failures++
		s.warn.Warningf("Callback %v failed: %v", id, err)
	}
}

// Vote records a sleep vote and re-arbitrates the timer's sleep mode.
func (s *Scheduler) Vote(v Voter, sleep bool) SleepMode {
	mode, changed := s.arbiter.Vote(v, sleep)
	if changed {
		log.Infof("Callback timer sleep mode: %v", mode)
	}
	return mode
}

// SleepMode returns the arbitrated sleep mode of the timer.
func (s *Scheduler) SleepMode() SleepMode {
	return s.arbiter.Mode()
}

// State is a copy of the scheduler's bookkeeping.
type State struct {
	BasePeriodUs   uint32
	ScheduledMask  uint32
	PendingMask    uint32
	WakeInProgress bool
	Armed          bool
	SleepMode      SleepMode
	Ticks          uint64
	Arms           uint64
	Cancels        uint64
	Callbacks      []CallbackState
}

// CallbackState is the bookkeeping of one registered callback.
type CallbackState struct {
	ID             CallbackID
	BaseMultiplier uint32
	BaseCount      uint32
	Immediate      bool
	Executions     uint64
	Deferrals      uint64
	Failures       uint64
}

// State returns a copy of the scheduler's bookkeeping.
func (s *Scheduler) State() State {
	st := State{
		BasePeriodUs:   s.basePeriodUs,
		ScheduledMask:  s.scheduledMask,
		PendingMask:    s.pendingMask,
		WakeInProgress: s.wakeInProgress,
		Armed:          s.armed,
		SleepMode:      s.arbiter.Mode(),
		Ticks:          s.ticks,
		Arms:           s.arms,
		Cancels:        s.cancels,
	}
	for i := range s.records {
		r := &s.records[i]
		if r.client == nil {
			continue
		}
		st.Callbacks = append(st.Callbacks, CallbackState{
			ID:             CallbackID(i),
			BaseMultiplier: r.baseMultiplier,
			BaseCount:      r.baseCount,
			Immediate:      r.immediate,
			Executions:     r.executions,
			Deferrals:      r.deferrals,
			Failures:       r.failures,
		})
	}
	return st
}
