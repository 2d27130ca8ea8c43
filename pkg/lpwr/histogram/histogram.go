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

// Package histogram models the idle-duration histogram counters that feed the
// adaptive power controllers.
//
// A histogram has NumBins exponentially sized bins. Bin i counts idle periods
// lasting [bin0Cycles<<i, bin0Cycles<<(i+1)) cycles of the monitored clock,
// where bin0Cycles is 1<<shift. Periods shorter than bin0Cycles land in bin 0
// and periods past the top edge land in the last bin.
package histogram

import (
	"fmt"

	"lpwr.dev/lpwr/pkg/bits"
)

const (
	// NumBins is the number of histogram bins.
	NumBins = 16

	// BinMax is the saturation value of a single bin.
	BinMax = 0xFFFF
)

// Bins holds one histogram sample. Every entry is within [0, BinMax].
type Bins [NumBins]uint32

// Total returns the sum of all bins.
func (b *Bins) Total() uint64 {
	var t uint64
	for _, v := range b {
		t += uint64(v)
	}
	return t
}

// IsZero returns true if every bin is zero, i.e. the feature never idled
// long enough to be counted during the sample.
func (b *Bins) IsZero() bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Shadow holds software corrections that are folded into the next hardware
// read. Entries may be negative.
type Shadow [NumBins]int32

// Merge returns hw with the shadow corrections applied and clamped to
// [0, BinMax], and zeroes shadow.
func Merge(hw Bins, shadow *Shadow) Bins {
	var out Bins
	for i := range hw {
		v := int64(hw[i]) + int64(shadow[i])
		switch {
		case v < 0:
			v = 0
		case v > BinMax:
			v = BinMax
		}
		out[i] = uint32(v)
		shadow[i] = 0
	}
	return out
}

// SelectShift returns the largest shift up to maxShift whose bin 0 lower
// edge does not exceed minCycles.
func SelectShift(maxShift uint, minCycles uint64) uint {
	for s := maxShift; s > 0; s-- {
		if uint64(1)<<s <= minCycles {
			return s
		}
	}
	return 0
}

// BinIndex returns the bin that an idle period of the given length falls in
// when bin 0 starts at 1<<shift cycles.
func BinIndex(idleCycles uint64, shift uint) int {
	v := idleCycles >> shift
	if v == 0 {
		return 0
	}
	i := bits.MostSignificantOne64(v)
	if i >= NumBins {
		return NumBins - 1
	}
	return i
}

// Mode is the counter mode of a histogram device.
type Mode uint8

// Counter modes.
const (
	// ModeAutoIdle counts according to the feature's idle signal.
	ModeAutoIdle Mode = iota

	// ModeForceBusy treats the feature as busy regardless of its idle
	// signal.
	ModeForceBusy

	// ModeForceIdle treats the feature as idle regardless of its idle
	// signal.
	ModeForceIdle
)

func (m Mode) String() string {
	switch m {
	case ModeAutoIdle:
		return "auto-idle"
	case ModeForceBusy:
		return "force-busy"
	case ModeForceIdle:
		return "force-idle"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Forced returns true for the modes that override the idle signal.
func (m Mode) Forced() bool {
	return m == ModeForceBusy || m == ModeForceIdle
}

// Device is the hardware interface of one idle histogram.
type Device interface {
	// Read returns the current bins and the active shift window.
	Read() (Bins, uint)

	// Start clears the bins and starts logging with the given shift
	// window.
	Start(shift uint)

	// Stop stops logging. Bins are retained until the next Start.
	Stop()

	// SetMode sets the counter mode.
	SetMode(m Mode)

	// Mode returns the counter mode.
	Mode() Mode

	// IdleCount returns the raw cycle count of the idle period in
	// progress.
	IdleCount() uint64

	// Increment adds cycles to the raw idle counter without re-binning
	// the period in progress. Hardware honors it only in a forced mode.
	Increment(cycles uint64)

	// MaxShift returns the largest supported shift window.
	MaxShift() uint
}
