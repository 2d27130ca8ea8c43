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
	"fmt"
	"strings"

	"lpwr.dev/lpwr/pkg/bits"
)

// Policy selects the sleep-aware callback arbitration scheme.
type Policy uint8

// Arbitration policies. V1 and V2 are mutually exclusive.
const (
	// PolicyNone keeps the timer in normal mode.
	PolicyNone Policy = iota

	// PolicyV1 sleeps if RM or graphics votes sleep.
	PolicyV1

	// PolicyV2 gives engine-idle votes priority over graphics votes.
	PolicyV2
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyV1:
		return "v1"
	case PolicyV2:
		return "v2"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// ParsePolicy parses the name produced by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return PolicyNone, nil
	case "v1":
		return PolicyV1, nil
	case "v2":
		return PolicyV2, nil
	}
	return 0, fmt.Errorf("unknown sleep-aware callback policy %q, must be 'none', 'v1' or 'v2'", s)
}

// Voter is a client allowed to vote on the timer's sleep mode.
type Voter uint8

// Voters.
const (
	VoterRM Voter = iota
	VoterGR
	VoterEI
	VoterGRPstate
	VoterEIPstate

	// NumVoters is the number of voters.
	NumVoters
)

var voterNames = [NumVoters]string{
	VoterRM:       "rm",
	VoterGR:       "gr",
	VoterEI:       "ei",
	VoterGRPstate: "gr-pstate",
	VoterEIPstate: "ei-pstate",
}

func (v Voter) String() string {
	if v < NumVoters {
		return voterNames[v]
	}
	return fmt.Sprintf("Voter(%d)", uint8(v))
}

// ParseVoter parses the name produced by Voter.String.
func ParseVoter(s string) (Voter, error) {
	for v, name := range voterNames {
		if strings.EqualFold(s, name) {
			return Voter(v), nil
		}
	}
	return 0, fmt.Errorf("unknown sleep voter %q", s)
}

// SleepMode is the timer behavior while the microcontroller sleeps.
type SleepMode uint8

// Sleep modes.
const (
	// SleepNormal wakes the microcontroller for every tick.
	SleepNormal SleepMode = iota

	// SleepAlways lets ticks be skipped while sleeping.
	SleepAlways

	// SleepRelaxed lets ticks be coalesced while sleeping.
	SleepRelaxed
)

func (m SleepMode) String() string {
	switch m {
	case SleepNormal:
		return "normal"
	case SleepAlways:
		return "sleep-always"
	case SleepRelaxed:
		return "sleep-relaxed"
	default:
		return fmt.Sprintf("SleepMode(%d)", uint8(m))
	}
}

// SleepArbiter combines sleep votes into a SleepMode.
type SleepArbiter struct {
	policy Policy
	votes  uint32
	mode   SleepMode
}

// NewSleepArbiter returns an arbiter using policy p.
func NewSleepArbiter(p Policy) *SleepArbiter {
	return &SleepArbiter{policy: p}
}

// Vote records v's vote and returns the arbitrated mode and whether it
// changed.
func (a *SleepArbiter) Vote(v Voter, sleep bool) (SleepMode, bool) {
	bit := bits.MaskOf32(int(v))
	if sleep {
		a.votes |= bit
	} else {
		a.votes &^= bit
	}
	mode := a.arbitrate()
	changed := mode != a.mode
	a.mode = mode
	return mode, changed
}

// Mode returns the current arbitrated mode.
func (a *SleepArbiter) Mode() SleepMode {
	return a.mode
}

func (a *SleepArbiter) arbitrate() SleepMode {
	switch a.policy {
	case PolicyV1:
		if bits.IsAnyOn32(a.votes, bits.Mask32(int(VoterRM), int(VoterGR))) {
			return SleepAlways
		}
	case PolicyV2:
		if bits.IsOn32(a.votes, bits.Mask32(int(VoterEI), int(VoterEIPstate))) {
			return SleepAlways
		}
		if bits.IsOn32(a.votes, bits.Mask32(int(VoterGR), int(VoterGRPstate))) {
			return SleepRelaxed
		}
	}
	return SleepNormal
}
