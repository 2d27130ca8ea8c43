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

// Package ap implements adaptive power controllers.
//
// An adaptive power controller watches the idle-duration histogram of one
// power-gated feature and, once per sampling period, predicts the idle
// threshold that maximizes the power saved without gating the feature more
// often than allowed. The prediction is pushed to the feature's power-gate
// controller.
//
// Time inputs are configured in microseconds and converted to cycles of the
// monitored clock with the registry's clock rate. Saving and residency
// arithmetic is carried out in units of hundred cycles ("HCycles") to keep
// intermediate products small.
package ap

import (
	"fmt"
	"strings"

	"lpwr.dev/lpwr/pkg/lpwr/pg"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
)

// ID identifies an adaptive power controller.
type ID uint8

// Controller identifiers.
const (
	// GR adapts the graphics engine power-gating threshold.
	GR ID = iota

	// DI adapts the display-link deep idle threshold.
	DI

	// MSCG adapts the memory-controller stutter threshold.
	MSCG

	// NumIDs is the number of controllers.
	NumIDs
)

var idNames = [NumIDs]string{
	GR:   "gr",
	DI:   "di",
	MSCG: "mscg",
}

func (id ID) String() string {
	if id < NumIDs {
		return idNames[id]
	}
	return fmt.Sprintf("ID(%d)", uint8(id))
}

// ParseID parses the name produced by ID.String.
func ParseID(s string) (ID, error) {
	for id, name := range idNames {
		if strings.EqualFold(s, name) {
			return ID(id), nil
		}
	}
	return 0, fmt.Errorf("unknown adaptive power controller %q", s)
}

// Idle signals that feed the histogram counters.
const (
	IdleSignalGR uint32 = 1 << iota
	IdleSignalCE
	IdleSignalNVDEC
	IdleSignalDisplay
	IdleSignalLinkL1
	IdleSignalFB
	IdleSignalHost
)

// Disable reasons. A controller runs only while no reason is set.
const (
	// ReasonInit is set at allocation and cleared by init-and-enable.
	ReasonInit uint32 = 1 << iota

	// ReasonRM is requested by the host driver.
	ReasonRM

	// ReasonPerf is set while a performance-critical workload runs.
	ReasonPerf

	// ReasonThermal is set while thermal slowdown is engaged.
	ReasonThermal
)

var reasonNames = []struct {
	name   string
	reason uint32
}{
	{"init", ReasonInit},
	{"rm", ReasonRM},
	{"perf", ReasonPerf},
	{"thermal", ReasonThermal},
}

// ParseReasons returns the disable reason mask for the given reason names.
func ParseReasons(names []string) (uint32, error) {
	var mask uint32
outer:
	for _, n := range names {
		for _, r := range reasonNames {
			if strings.EqualFold(n, r.name) {
				mask |= r.reason
				continue outer
			}
		}
		return 0, fmt.Errorf("unknown disable reason %q", n)
	}
	return mask, nil
}

const (
	// DefaultSkipCount is the minimum number of samples discarded after a
	// kick. The first sample may span the kick.
	DefaultSkipCount = 1

	// filterNone marks that no filter has been chosen since the last kick.
	filterNone = -1
)

// featureInfo is the fixed per-controller description.
type featureInfo struct {
	parent   pg.Feature
	callback sched.CallbackID
	idleMask uint32

	// overheadUs is the entry and exit time that does not count as
	// residency.
	overheadUs uint32
}

var features = [NumIDs]featureInfo{
	GR: {
		parent:     pg.FeatureGR,
		callback:   sched.CallbackAPGR,
		idleMask:   IdleSignalGR | IdleSignalCE | IdleSignalNVDEC,
		overheadUs: 10,
	},
	DI: {
		parent:     pg.FeatureDI,
		callback:   sched.CallbackAPDI,
		idleMask:   IdleSignalDisplay | IdleSignalLinkL1 | IdleSignalHost,
		overheadUs: 10,
	},
	MSCG: {
		parent:     pg.FeatureMS,
		callback:   sched.CallbackAPMSCG,
		idleMask:   IdleSignalFB | IdleSignalGR | IdleSignalDisplay | IdleSignalHost,
		overheadUs: 50,
	},
}

// Parent returns the power-gated feature that controller id adapts.
func (id ID) Parent() pg.Feature {
	return features[id].parent
}

// Callback returns the scheduler callback that drives controller id.
func (id ID) Callback() sched.CallbackID {
	return features[id].callback
}

// PowerSource is the board power source.
type PowerSource uint8

// Power sources.
const (
	AC PowerSource = iota
	Battery

	// NumPowerSources is the number of power sources.
	NumPowerSources
)

func (p PowerSource) String() string {
	switch p {
	case AC:
		return "ac"
	case Battery:
		return "battery"
	default:
		return fmt.Sprintf("PowerSource(%d)", uint8(p))
	}
}

// ModeRow is the set of tunables that can vary with the power source.
type ModeRow struct {
	// IdleThresholdMinUs is the smallest threshold the controller may
	// predict. It must be at least 1.
	IdleThresholdMinUs uint32

	// IdleThresholdMaxUs is the largest threshold, used whenever the
	// controller is inactive.
	IdleThresholdMaxUs uint32

	// BreakEvenUs is the residency needed to recoup one gating cycle.
	BreakEvenUs uint32

	// CyclesPerSampleMax bounds the number of gating cycles per sample.
	CyclesPerSampleMax uint32

	// MinResidency is the minimum predicted residency in percent.
	MinResidency uint8
}

func (r *ModeRow) validate() error {
	if r.IdleThresholdMinUs == 0 {
		return fmt.Errorf("minimum idle threshold must be at least 1us")
	}
	if r.IdleThresholdMaxUs < r.IdleThresholdMinUs {
		return fmt.Errorf("maximum idle threshold %dus below minimum %dus", r.IdleThresholdMaxUs, r.IdleThresholdMinUs)
	}
	if r.MinResidency > 100 {
		return fmt.Errorf("minimum residency %d%% above 100%%", r.MinResidency)
	}
	return nil
}

// Config is the configuration of one controller.
type Config struct {
	// ModeRow holds the tunables used when no power-mode table is
	// configured.
	ModeRow

	// DefaultThresholdUs is restored on disable. Zero restores the
	// maximum.
	DefaultThresholdUs uint32

	// BaseMultiplier is the sampling period in scheduler ticks.
	BaseMultiplier uint32

	// ImmediateExecution lets the callback run while the gating
	// subsystem is power gated.
	ImmediateExecution bool

	// Table optionally overrides ModeRow per power source.
	Table []ModeRow

	// TableIndex selects the Table row for each power source.
	TableIndex [NumPowerSources]int
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.ModeRow.validate(); err != nil {
		return err
	}
	if c.BaseMultiplier == 0 {
		return fmt.Errorf("base multiplier must be non-zero")
	}
	for i := range c.Table {
		if err := c.Table[i].validate(); err != nil {
			return fmt.Errorf("table row %d: %v", i, err)
		}
	}
	if len(c.Table) > 0 {
		for src, idx := range c.TableIndex {
			if idx < 0 || idx >= len(c.Table) {
				return fmt.Errorf("table index %d for %v out of range [0, %d)", idx, PowerSource(src), len(c.Table))
			}
		}
	}
	return nil
}
