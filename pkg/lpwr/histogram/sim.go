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

package histogram

import (
	"fmt"
	"strings"
)

// Generation selects the histogram hardware variant.
type Generation uint8

// Supported generations.
const (
	// Gen1 has a 32-bit idle counter and shift windows up to 15.
	Gen1 Generation = iota + 1

	// Gen2 has a 64-bit idle counter and shift windows up to 20.
	Gen2
)

func (g Generation) String() string {
	switch g {
	case Gen1:
		return "gen1"
	case Gen2:
		return "gen2"
	default:
		return fmt.Sprintf("Generation(%d)", uint8(g))
	}
}

// ParseGeneration parses the name produced by Generation.String.
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(s) {
	case "gen1":
		return Gen1, nil
	case "gen2":
		return Gen2, nil
	}
	return 0, fmt.Errorf("unknown histogram generation %q, must be 'gen1' or 'gen2'", s)
}

type genSpec struct {
	maxShift    uint
	counterMask uint64
}

var genSpecs = map[Generation]genSpec{
	Gen1: {maxShift: 15, counterMask: 0xFFFFFFFF},
	Gen2: {maxShift: 20, counterMask: ^uint64(0)},
}

// Sim is a host model of the histogram hardware.
//
// The model bins the idle period in progress live: when a period starts it
// is counted in bin 0, and each time its length crosses a bin edge the count
// moves to the next bin. Increment bypasses that move, which is why
// controllers keep shadow corrections.
type Sim struct {
	spec genSpec

	bins    Bins
	shift   uint
	running bool
	mode    Mode

	// idle is true while an idle period is in progress.
	idle bool

	// count is the raw length of the idle period in progress.
	count uint64

	// cur is the bin currently holding the period in progress, or -1 if
	// the period is not counted in the current log.
	cur int

	starts int
}

var _ Device = (*Sim)(nil)

// New returns a simulated device of the given generation.
func New(gen Generation) (*Sim, error) {
	spec, ok := genSpecs[gen]
	if !ok {
		return nil, fmt.Errorf("unsupported histogram generation %v", gen)
	}
	return &Sim{spec: spec, cur: -1}, nil
}

// Read implements Device.Read.
func (s *Sim) Read() (Bins, uint) {
	return s.bins, s.shift
}

// Start implements Device.Start. An idle period in progress is re-counted in
// the new log at its current bin.
func (s *Sim) Start(shift uint) {
	if shift > s.spec.maxShift {
		panic(fmt.Sprintf("shift %d exceeds maximum %d", shift, s.spec.maxShift))
	}
	s.bins = Bins{}
	s.shift = shift
	s.running = true
	s.starts++
	s.cur = -1
	if s.idle {
		s.place(BinIndex(s.count, s.shift))
	}
}

// Stop implements Device.Stop.
func (s *Sim) Stop() {
	s.running = false
	s.cur = -1
}

// SetMode implements Device.SetMode.
func (s *Sim) SetMode(m Mode) {
	s.mode = m
}

// Mode implements Device.Mode.
func (s *Sim) Mode() Mode {
	return s.mode
}

// IdleCount implements Device.IdleCount.
func (s *Sim) IdleCount() uint64 {
	return s.count
}

// Increment implements Device.Increment. It is ignored outside a forced mode.
func (s *Sim) Increment(cycles uint64) {
	if !s.mode.Forced() {
		return
	}
	s.count = (s.count + cycles) & s.spec.counterMask
}

// MaxShift implements Device.MaxShift.
func (s *Sim) MaxShift() uint {
	return s.spec.maxShift
}

// Running returns true while the device is logging.
func (s *Sim) Running() bool {
	return s.running
}

// Shift returns the active shift window.
func (s *Sim) Shift() uint {
	return s.shift
}

// Starts returns the number of Start calls.
func (s *Sim) Starts() int {
	return s.starts
}

// BeginIdle starts an idle period.
func (s *Sim) BeginIdle() {
	if s.idle || s.mode == ModeForceBusy {
		return
	}
	s.idle = true
	s.count = 0
	s.place(0)
}

// AdvanceIdle extends the idle period in progress by cycles, moving it to
// later bins as it crosses bin edges.
func (s *Sim) AdvanceIdle(cycles uint64) {
	if !s.idle || s.mode == ModeForceBusy {
		return
	}
	s.count = (s.count + cycles) & s.spec.counterMask
	s.place(BinIndex(s.count, s.shift))
}

// EndIdle completes the idle period in progress.
func (s *Sim) EndIdle() {
	if s.mode == ModeForceIdle {
		return
	}
	s.idle = false
	s.count = 0
	s.cur = -1
}

// RecordIdle records one complete idle period of the given length.
func (s *Sim) RecordIdle(cycles uint64) {
	s.BeginIdle()
	s.AdvanceIdle(cycles)
	s.EndIdle()
}

// place moves the period in progress to bin i.
func (s *Sim) place(i int) {
	if !s.running || s.cur == i {
		return
	}
	if s.cur >= 0 && s.bins[s.cur] > 0 {
		s.bins[s.cur]--
	}
	if s.bins[i] < BinMax {
		s.bins[i]++
	}
	s.cur = i
}
