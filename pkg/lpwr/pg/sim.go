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

package pg

// Threshold is a programmed threshold pair.
type Threshold struct {
	IdleCycles uint64
	PPUCycles  uint64
}

type simFeature struct {
	supported     bool
	fullPower     bool
	pending       bool
	wakeRequested bool
	threshold     Threshold
	writes        int
	wakes         int
}

// Sim is a host model of the power-gate controllers. It records every
// request; wakes complete only when the owner calls Wake.
type Sim struct {
	features [NumFeatures]simFeature
}

var _ Gate = (*Sim)(nil)

// NewSim returns a Sim with the given features supported. Supported
// features start gated.
func NewSim(supported ...Feature) *Sim {
	s := &Sim{}
	for _, f := range supported {
		s.features[f].supported = true
	}
	return s
}

// Supported implements Gate.Supported.
func (s *Sim) Supported(f Feature) bool {
	return f < NumFeatures && s.features[f].supported
}

// IsFullPower implements Gate.IsFullPower.
func (s *Sim) IsFullPower(f Feature) bool {
	return s.features[f].fullPower
}

// SetThreshold implements Gate.SetThreshold.
func (s *Sim) SetThreshold(f Feature, idleCycles, ppuCycles uint64) {
	s.features[f].threshold = Threshold{IdleCycles: idleCycles, PPUCycles: ppuCycles}
	s.features[f].writes++
}

// PendingAction implements Gate.PendingAction.
func (s *Sim) PendingAction(f Feature) bool {
	return s.features[f].pending
}

// SetPendingAction implements Gate.SetPendingAction.
func (s *Sim) SetPendingAction(f Feature) {
	s.features[f].pending = true
}

// ClearPendingAction implements Gate.ClearPendingAction.
func (s *Sim) ClearPendingAction(f Feature) {
	s.features[f].pending = false
}

// RequestWake implements Gate.RequestWake.
func (s *Sim) RequestWake(f Feature) {
	s.features[f].wakeRequested = true
}

// WakeRequested returns true if a wake was requested and not yet completed.
func (s *Sim) WakeRequested(f Feature) bool {
	return s.features[f].wakeRequested
}

// Wake completes a wake: the feature reaches full power.
func (s *Sim) Wake(f Feature) {
	s.features[f].fullPower = true
	s.features[f].wakeRequested = false
	s.features[f].wakes++
}

// Gate puts the feature back into the power-gated state.
func (s *Sim) Gate(f Feature) {
	s.features[f].fullPower = false
}

// SetFullPower sets the power state directly.
func (s *Sim) SetFullPower(f Feature, full bool) {
	s.features[f].fullPower = full
}

// Threshold returns the last programmed threshold pair.
func (s *Sim) Threshold(f Feature) Threshold {
	return s.features[f].threshold
}

// ThresholdWrites returns how many times the threshold was programmed.
func (s *Sim) ThresholdWrites(f Feature) int {
	return s.features[f].writes
}

// Wakes returns how many wakes completed.
func (s *Sim) Wakes(f Feature) int {
	return s.features[f].wakes
}
