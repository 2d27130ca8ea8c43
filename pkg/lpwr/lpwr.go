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

// Package lpwr is the low-power context: it owns the adaptive power
// controllers and the callback scheduler that drives them, and exposes the
// commands the host driver sends.
//
// A LowPower is owned by a single task. None of its methods may be called
// concurrently, and the clock must invoke timer callbacks on the owning task.
// Separate LowPower values share nothing and may run on separate goroutines.
package lpwr

import (
	"fmt"

	"lpwr.dev/lpwr/pkg/clock"
	"lpwr.dev/lpwr/pkg/errors/lpwrerr"
	"lpwr.dev/lpwr/pkg/log"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
	"lpwr.dev/lpwr/pkg/lpwr/pg"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
)

// Features are the build-time feature switches, resolved once at startup.
type Features struct {
	// APGraphics, APDisplay and APMemStutter make the corresponding
	// controllers available.
	APGraphics   bool `toml:"ap_graphics"`
	APDisplay    bool `toml:"ap_display"`
	APMemStutter bool `toml:"ap_mem_stutter"`

	// ShadowBins enables the unobserved idle correction.
	ShadowBins bool `toml:"shadow_bins"`

	// LazyThreshold defers threshold writes while the parent feature is
	// power gated.
	LazyThreshold bool `toml:"lazy_threshold"`

	// PowerSourceTables enables per power source tunables.
	PowerSourceTables bool `toml:"power_source_tables"`

	// KickOnPowerSource restarts controllers whose tunables change with
	// the power source.
	KickOnPowerSource bool `toml:"kick_on_power_source"`

	// SACPolicy is the sleep-aware callback arbitration policy.
	SACPolicy sched.Policy `toml:"-"`
}

// DefaultFeatures returns every feature enabled with SAC policy v2.
func DefaultFeatures() Features {
	return Features{
		APGraphics:        true,
		APDisplay:         true,
		APMemStutter:      true,
		ShadowBins:        true,
		LazyThreshold:     true,
		PowerSourceTables: true,
		KickOnPowerSource: true,
		SACPolicy:         sched.PolicyV2,
	}
}

// Controller returns true if controller id is available.
func (f *Features) Controller(id ap.ID) bool {
	switch id {
	case ap.GR:
		return f.APGraphics
	case ap.DI:
		return f.APDisplay
	case ap.MSCG:
		return f.APMemStutter
	default:
		return false
	}
}

// Options configure a LowPower.
type Options struct {
	// ClockMHz is the rate of the monitored clock.
	ClockMHz uint32

	// BasePeriodUs is the scheduler tick.
	BasePeriodUs uint32

	// AllocBudget bounds controller allocations in bytes. Zero is
	// unlimited.
	AllocBudget int

	Features Features

	// Clock drives the scheduler timer.
	Clock clock.Clock

	// Gate is the power-gate controller.
	Gate pg.Gate

	// Devices holds the histogram of each controller. A controller
	// without a device is not supported.
	Devices [ap.NumIDs]histogram.Device

	// Trap is called with every command failure. The default logs a
	// warning.
	Trap func(err error)
}

// LowPower is the low-power context.
type LowPower struct {
	features Features
	gate     pg.Gate
	devices  [ap.NumIDs]histogram.Device
	registry *ap.Registry
	sched    *sched.Scheduler
	trapFn   func(err error)
}

// msGate presents the memory stutter feature as the scheduler's gating
// subsystem.
type msGate struct {
	gate pg.Gate
}

func (g msGate) IsFullPower() bool { return g.gate.IsFullPower(pg.FeatureMS) }
func (g msGate) RequestWake()      { g.gate.RequestWake(pg.FeatureMS) }

// New returns a LowPower with no controllers.
func New(opts Options) (*LowPower, error) {
	if opts.Clock == nil || opts.Gate == nil {
		return nil, fmt.Errorf("clock and power gate are required: %w", lpwrerr.InvalidArgument)
	}
	r, err := ap.NewRegistry(opts.ClockMHz, opts.AllocBudget)
	if err != nil {
		return nil, err
	}
	var gate sched.Gate
	if opts.Gate.Supported(pg.FeatureMS) {
		gate = msGate{opts.Gate}
	}
	s, err := sched.New(opts.Clock, opts.BasePeriodUs, gate, opts.Features.SACPolicy)
	if err != nil {
		return nil, err
	}
	lp := &LowPower{
		features: opts.Features,
		gate:     opts.Gate,
		devices:  opts.Devices,
		registry: r,
		sched:    s,
		trapFn:   opts.Trap,
	}
	if lp.trapFn == nil {
		lp.trapFn = func(err error) { log.Warningf("lpwr trap: %v", err) }
	}
	return lp, nil
}

// Features returns the feature switches.
func (lp *LowPower) Features() Features {
	return lp.features
}

// Registry returns the controller registry.
func (lp *LowPower) Registry() *ap.Registry {
	return lp.registry
}

// Scheduler returns the callback scheduler.
func (lp *LowPower) Scheduler() *sched.Scheduler {
	return lp.sched
}

func (lp *LowPower) trap(err error) error {
	lp.trapFn(err)
	return err
}

func (lp *LowPower) controller(id ap.ID) (*ap.Controller, error) {
	c, err := lp.registry.Controller(id)
	if err != nil {
		return nil, lp.trap(err)
	}
	return c, nil
}

// InitAndEnable allocates controller id, registers its callback and enables
// it.
func (lp *LowPower) InitAndEnable(id ap.ID, cfg ap.Config) error {
	if !lp.features.Controller(id) {
		return lp.trap(fmt.Errorf("controller %v disabled: %w", id, lpwrerr.NotSupported))
	}
	dev := lp.devices[id]
	if dev == nil {
		return lp.trap(fmt.Errorf("controller %v has no histogram: %w", id, lpwrerr.NotSupported))
	}
	if !lp.features.PowerSourceTables {
		cfg.Table = nil
	}
	c, err := lp.registry.Init(id, cfg, ap.Deps{
		Device:            dev,
		Gate:              lp.gate,
		Scheduler:         lp.sched,
		SamplingPeriodUs:  lp.sched.BasePeriodUs() * cfg.BaseMultiplier,
		ShadowBins:        lp.features.ShadowBins,
		LazyThreshold:     lp.features.LazyThreshold,
		KickOnPowerSource: lp.features.KickOnPowerSource,
	})
	if err != nil {
		return lp.trap(err)
	}
	if err := lp.sched.Register(id.Callback(), c, cfg.BaseMultiplier, cfg.ImmediateExecution); err != nil {
		return lp.trap(err)
	}
	c.Enable(ap.ReasonInit)
	return nil
}

// Enable clears disable reasons of controller id.
func (lp *LowPower) Enable(id ap.ID, reasons uint32) error {
	c, err := lp.controller(id)
	if err != nil {
		return err
	}
	c.Enable(reasons)
	return nil
}

// Disable sets disable reasons of controller id.
func (lp *LowPower) Disable(id ap.ID, reasons uint32) error {
	c, err := lp.controller(id)
	if err != nil {
		return err
	}
	c.Disable(reasons)
	return nil
}

// Kick restarts controller id after an activity pattern change.
func (lp *LowPower) Kick(id ap.ID, skipCount uint8) error {
	c, err := lp.controller(id)
	if err != nil {
		return err
	}
	if !c.Enabled() {
		return lp.trap(fmt.Errorf("kick of disabled controller %v: %w", id, lpwrerr.InvalidState))
	}
	c.Kick(skipCount)
	return nil
}

func powerSource(battery bool) ap.PowerSource {
	if battery {
		return ap.Battery
	}
	return ap.AC
}

// PowerSourceChanged applies a power source change to controller id. It
// returns true if the controller's tunables changed.
func (lp *LowPower) PowerSourceChanged(id ap.ID, battery bool) (bool, error) {
	c, err := lp.controller(id)
	if err != nil {
		return false, err
	}
	if !lp.features.PowerSourceTables {
		return false, nil
	}
	return c.PowerSourceChanged(powerSource(battery)), nil
}

// PowerSourceChangedAll applies a power source change to every controller
// and returns how many changed.
func (lp *LowPower) PowerSourceChangedAll(battery bool) int {
	if !lp.features.PowerSourceTables {
		return 0
	}
	n := 0
	lp.registry.ForEach(func(c *ap.Controller) {
		if c.PowerSourceChanged(powerSource(battery)) {
			n++
		}
	})
	return n
}

// GateWoke is called when power-gated feature f reaches full power. Deferred
// thresholds of its controllers are written, and when f is the gating
// subsystem deferred callbacks run.
func (lp *LowPower) GateWoke(f pg.Feature) {
	if lp.gate.PendingAction(f) {
		lp.gate.ClearPendingAction(f)
	}
	lp.registry.ForEach(func(c *ap.Controller) {
		if c.ID().Parent() == f && c.ApplyPendingThreshold() {
			log.Debugf("ap %v: deferred threshold %d written", c.ID(), c.IdleThresholdCycles())
		}
	})
	if f == pg.FeatureMS {
		lp.sched.GateFullPower()
	}
}

// GateFullPower runs deferred callbacks.
func (lp *LowPower) GateFullPower() {
	lp.sched.GateFullPower()
}

// Vote records a sleep-aware callback vote.
func (lp *LowPower) Vote(v sched.Voter, sleep bool) sched.SleepMode {
	return lp.sched.Vote(v, sleep)
}

// AccountUnobservedIdle corrects controller id's histogram for idle time it
// could not observe.
func (lp *LowPower) AccountUnobservedIdle(id ap.ID, cycles uint64) error {
	c, err := lp.controller(id)
	if err != nil {
		return err
	}
	if err := c.AccountUnobservedIdle(cycles); err != nil {
		return lp.trap(fmt.Errorf("controller %v: %w", id, err))
	}
	return nil
}
