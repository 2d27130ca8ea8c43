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

package ap

import (
	"fmt"

	"lpwr.dev/lpwr/pkg/errors/lpwrerr"
	"lpwr.dev/lpwr/pkg/log"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
	"lpwr.dev/lpwr/pkg/lpwr/pg"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
)

// Scheduler is the part of the callback scheduler a controller drives.
type Scheduler interface {
	Schedule(id sched.CallbackID)
	Deschedule(id sched.CallbackID)
}

// Deps are the collaborators of a controller.
type Deps struct {
	// Device is the controller's histogram.
	Device histogram.Device

	// Gate is the power-gate controller of the parent feature.
	Gate pg.Gate

	// Scheduler runs the controller's callback.
	Scheduler Scheduler

	// SamplingPeriodUs is the callback period.
	SamplingPeriodUs uint32

	// ShadowBins allocates a shadow histogram for unobserved idle time.
	ShadowBins bool

	// LazyThreshold defers threshold writes until the parent feature is
	// at full power.
	LazyThreshold bool

	// KickOnPowerSource restarts an enabled controller when a power
	// source change selects a new table row.
	KickOnPowerSource bool
}

// Controller is one adaptive power controller.
//
// Controller is not safe for concurrent use. All methods must be called from
// the task that owns the controller.
type Controller struct {
	id   ID
	info featureInfo
	cfg  Config

	dev   histogram.Device
	gate  pg.Gate
	sched Scheduler

	clockMHz         uint32
	samplingPeriodUs uint32
	lazy             bool
	kickOnSource     bool

	// row is the active set of tunables and tableIdx its Table index, or
	// -1 when Config.ModeRow is used.
	row      ModeRow
	tableIdx int

	disableReasonMask uint32

	idleThresholdMinCycles uint64
	idleThresholdMaxCycles uint64
	powerBreakEvenHCycles  uint64
	overheadHCycles        uint64

	shift      uint
	bin0Cycles uint64

	idleThresholdCycles uint64
	programmedCycles    uint64
	thresholdPending    bool

	active            bool
	idleFilterX       int
	prevPowerSavingUs int64
	prevResidency     uint8
	skipCount         uint8

	badDecisionCount        uint32
	thresholdCounter        [histogram.NumBins]uint32
	defaultThresholdCounter uint32
	executions              uint32
	kicks                   uint32

	shadow   *histogram.Shadow
	lastBins histogram.Bins
}

func newController(id ID, clockMHz uint32, cfg Config, deps Deps) *Controller {
	c := &Controller{
		id:                id,
		info:              features[id],
		cfg:               cfg,
		dev:               deps.Device,
		gate:              deps.Gate,
		sched:             deps.Scheduler,
		clockMHz:          clockMHz,
		samplingPeriodUs:  deps.SamplingPeriodUs,
		lazy:              deps.LazyThreshold,
		kickOnSource:      deps.KickOnPowerSource,
		row:               cfg.ModeRow,
		tableIdx:          -1,
		disableReasonMask: ReasonInit,
		idleFilterX:       filterNone,
	}
	if len(cfg.Table) > 0 {
		c.tableIdx = cfg.TableIndex[AC]
		c.row = cfg.Table[c.tableIdx]
	}
	if deps.ShadowBins {
		c.shadow = &histogram.Shadow{}
	}
	c.recompute()
	c.idleThresholdCycles = c.idleThresholdMaxCycles
	return c
}

// ID returns the controller identifier.
func (c *Controller) ID() ID {
	return c.id
}

// IdleMask returns the idle signals that feed the controller's histogram.
func (c *Controller) IdleMask() uint32 {
	return c.info.idleMask
}

// Enabled returns true if no disable reason is set.
func (c *Controller) Enabled() bool {
	return c.disableReasonMask == 0
}

// IdleThresholdCycles returns the current threshold.
func (c *Controller) IdleThresholdCycles() uint64 {
	return c.idleThresholdCycles
}

// recompute derives the cycle-domain parameters from the active row.
func (c *Controller) recompute() {
	clk := uint64(c.clockMHz)
	c.idleThresholdMinCycles = uint64(c.row.IdleThresholdMinUs) * clk
	c.idleThresholdMaxCycles = uint64(c.row.IdleThresholdMaxUs) * clk
	c.powerBreakEvenHCycles = uint64(c.row.BreakEvenUs) * clk / 100
	c.overheadHCycles = uint64(c.info.overheadUs) * clk / 100
	c.idleThresholdCycles = min(max(c.idleThresholdCycles, c.idleThresholdMinCycles), c.idleThresholdMaxCycles)
}

// params returns the inputs of the next prediction.
func (c *Controller) params() Params {
	return Params{
		Bin0Cycles:         c.bin0Cycles,
		MinCycles:          c.idleThresholdMinCycles,
		MaxCycles:          c.idleThresholdMaxCycles,
		BreakEvenHCycles:   c.powerBreakEvenHCycles,
		OverheadHCycles:    c.overheadHCycles,
		CyclesPerSampleMax: c.row.CyclesPerSampleMax,
		MinResidency:       c.row.MinResidency,
		ClockMHz:           c.clockMHz,
		SamplingPeriodUs:   c.samplingPeriodUs,
	}
}

// Kick restarts the controller from a clean state. At least
// DefaultSkipCount samples are discarded after a kick.
func (c *Controller) Kick(skipCount uint8) {
	c.recompute()
	c.idleFilterX = filterNone
	c.prevPowerSavingUs = 0
	c.skipCount = max(skipCount, DefaultSkipCount)
	c.shift = histogram.SelectShift(c.dev.MaxShift(), c.idleThresholdMinCycles)
	c.bin0Cycles = uint64(1) << c.shift
	if c.shadow != nil {
		*c.shadow = histogram.Shadow{}
	}
	c.dev.Start(c.shift)
	c.kicks++
	log.Debugf("ap %v: kick, shift %d, skip %d", c.id, c.shift, c.skipCount)
}

// Enable clears reasons from the disable mask. When the mask reaches zero
// the controller is kicked and its callback scheduled. Enabling an enabled
// controller does nothing.
func (c *Controller) Enable(reasons uint32) {
	if c.Enabled() {
		return
	}
	c.disableReasonMask &^= reasons
	if !c.Enabled() {
		return
	}
	c.Kick(DefaultSkipCount)
	c.sched.Schedule(c.info.callback)
	log.Infof("ap %v: enabled", c.id)
}

// Disable adds reasons to the disable mask. When the controller goes from
// enabled to disabled its callback is descheduled, its histogram stopped and
// the default threshold restored.
func (c *Controller) Disable(reasons uint32) {
	wasEnabled := c.Enabled()
	c.disableReasonMask |= reasons
	if !wasEnabled || c.Enabled() {
		return
	}
	c.sched.Deschedule(c.info.callback)
	c.dev.Stop()
	c.active = false
	c.setThreshold(c.restoreThresholdCycles(), true)
	log.Infof("ap %v: disabled, reasons %#x", c.id, c.disableReasonMask)
}

func (c *Controller) restoreThresholdCycles() uint64 {
	if c.cfg.DefaultThresholdUs == 0 {
		return c.idleThresholdMaxCycles
	}
	t := uint64(c.cfg.DefaultThresholdUs) * uint64(c.clockMHz)
	return min(max(t, c.idleThresholdMinCycles), c.idleThresholdMaxCycles)
}

// setThreshold records the threshold and pushes it to the power-gate
// controller. Unless immediate is set, the push is deferred while the parent
// feature is power gated and lazy updates are on.
func (c *Controller) setThreshold(cycles uint64, immediate bool) {
	c.idleThresholdCycles = cycles
	if !immediate && !c.thresholdPending && cycles == c.programmedCycles {
		return
	}
	if immediate || !c.lazy || c.gate.IsFullPower(c.info.parent) {
		c.program()
		return
	}
	c.thresholdPending = true
	c.gate.SetPendingAction(c.info.parent)
}

func (c *Controller) program() {
	c.gate.SetThreshold(c.info.parent, c.idleThresholdCycles, c.idleThresholdCycles)
	c.programmedCycles = c.idleThresholdCycles
	c.thresholdPending = false
}

// ApplyPendingThreshold pushes a deferred threshold. It returns true if a
// threshold was pending.
func (c *Controller) ApplyPendingThreshold() bool {
	if !c.thresholdPending {
		return false
	}
	c.program()
	return true
}

// ThresholdPending returns true if a threshold push is deferred.
func (c *Controller) ThresholdPending() bool {
	return c.thresholdPending
}

// PowerSourceChanged selects the power-mode table row for src. It returns
// true if the active row changed, in which case an enabled controller is
// kicked unless kicks on power source changes are off.
func (c *Controller) PowerSourceChanged(src PowerSource) bool {
	if len(c.cfg.Table) == 0 || src >= NumPowerSources {
		return false
	}
	idx := c.cfg.TableIndex[src]
	if idx == c.tableIdx {
		return false
	}
	c.tableIdx = idx
	c.row = c.cfg.Table[idx]
	if c.Enabled() && c.kickOnSource {
		c.Kick(DefaultSkipCount)
	} else {
		c.recompute()
	}
	log.Infof("ap %v: power source %v, table row %d", c.id, src, idx)
	return true
}

// Execute runs one sampling step. It implements sched.Client.
func (c *Controller) Execute() error {
	if !c.Enabled() {
		return fmt.Errorf("ap %v: execute while disabled (reasons %#x): %w", c.id, c.disableReasonMask, lpwrerr.Error)
	}
	hw, shift := c.dev.Read()
	c.dev.Start(c.shift)
	if shift != c.shift {
		// Bins logged with another bin 0 width cannot be scored.
		if c.shadow != nil {
			*c.shadow = histogram.Shadow{}
		}
		c.goInactive()
		return fmt.Errorf("ap %v: histogram ran with shift %d, want %d: %w", c.id, shift, c.shift, lpwrerr.InvalidState)
	}
	bins := hw
	if c.shadow != nil {
		bins = histogram.Merge(hw, c.shadow)
	}
	c.lastBins = bins
	c.executions++

	if c.skipCount > 0 {
		c.skipCount--
		c.goInactive()
		return nil
	}
	if bins.IsZero() {
		c.goInactive()
		return nil
	}

	p := c.params()
	prevOK := true
	if c.idleFilterX != filterNone {
		saving := PowerSavingUs(&bins, &p, c.idleFilterX)
		residency := Residency(&bins, &p, c.idleFilterX)
		if saving <= 0 || residency < p.MinResidency {
			prevOK = false
			if c.active {
				c.badDecisionCount++
				log.Debugf("ap %v: bad decision at bin %d, saving %dus, residency %d%%", c.id, c.idleFilterX, saving, residency)
			}
		}
	}

	pred := Predict(&bins, &p)
	// The next sample scores this sample's candidate, so a failed filter is
	// judged only once.
	if pred.OK {
		c.idleFilterX = pred.FilterX
	} else {
		c.idleFilterX = filterNone
	}
	if !prevOK || !pred.OK {
		c.goInactive()
		return nil
	}
	c.active = true
	c.prevPowerSavingUs = pred.PowerSavingUs
	c.prevResidency = pred.Residency
	c.thresholdCounter[pred.FilterX]++
	c.setThreshold(pred.ThresholdCycles, false)
	return nil
}

// goInactive falls back to the maximum threshold.
func (c *Controller) goInactive() {
	c.active = false
	c.defaultThresholdCounter++
	c.setThreshold(c.idleThresholdMaxCycles, false)
}

// AccountUnobservedIdle adds idle time the histogram could not observe to
// the period in progress and moves the period between shadow bins if the
// addition crosses a bin edge.
//
// The raw count and the increment are not atomic with the hardware's own
// binning, so a period that ends between the two may be corrected into the
// wrong bin. Such errors are bounded to one period per call.
func (c *Controller) AccountUnobservedIdle(cycles uint64) error {
	if c.shadow == nil {
		return lpwrerr.NotSupported
	}
	if cycles == 0 {
		return nil
	}
	g := histogram.ForceMode(c.dev, histogram.ModeForceIdle)
	defer g.Release()

	before := histogram.BinIndex(c.dev.IdleCount(), c.shift)
	c.dev.Increment(cycles)
	// The count is read back so that a counter wrap lands the period in
	// the same bin as the hardware.
	after := histogram.BinIndex(c.dev.IdleCount(), c.shift)
	if before != after {
		c.shadow[before]--
		c.shadow[after]++
	}
	return nil
}

// Stats is a snapshot of a controller's state and counters.
type Stats struct {
	ID                ID
	Enabled           bool
	DisableReasonMask uint32
	Active            bool

	Shift      uint
	Bin0Cycles uint64

	IdleThresholdMinCycles uint64
	IdleThresholdMaxCycles uint64
	IdleThresholdCycles    uint64
	ThresholdPending       bool
	PowerBreakEvenHCycles  uint64
	CyclesPerSampleMax     uint32
	MinResidency           uint8
	TableIndex             int

	IdleFilterX       int
	PrevPowerSavingUs int64
	PrevResidency     uint8
	SkipCount         uint8

	BadDecisionCount uint32

	// ThresholdCounter counts predictions per filter bin. It refers to
	// the controller's own counters; use stats.Take for a stable copy.
	ThresholdCounter        []uint32
	DefaultThresholdCounter uint32

	Executions uint32
	Kicks      uint32
	LastBins   histogram.Bins
}

// Stats returns the controller's state.
func (c *Controller) Stats() Stats {
	return Stats{
		ID:                      c.id,
		Enabled:                 c.Enabled(),
		DisableReasonMask:       c.disableReasonMask,
		Active:                  c.active,
		Shift:                   c.shift,
		Bin0Cycles:              c.bin0Cycles,
		IdleThresholdMinCycles:  c.idleThresholdMinCycles,
		IdleThresholdMaxCycles:  c.idleThresholdMaxCycles,
		IdleThresholdCycles:     c.idleThresholdCycles,
		ThresholdPending:        c.thresholdPending,
		PowerBreakEvenHCycles:   c.powerBreakEvenHCycles,
		CyclesPerSampleMax:      c.row.CyclesPerSampleMax,
		MinResidency:            c.row.MinResidency,
		TableIndex:              c.tableIdx,
		IdleFilterX:             c.idleFilterX,
		PrevPowerSavingUs:       c.prevPowerSavingUs,
		PrevResidency:           c.prevResidency,
		SkipCount:               c.skipCount,
		BadDecisionCount:        c.badDecisionCount,
		ThresholdCounter:        c.thresholdCounter[:],
		DefaultThresholdCounter: c.defaultThresholdCounter,
		Executions:              c.executions,
		Kicks:                   c.kicks,
		LastBins:                c.lastBins,
	}
}
