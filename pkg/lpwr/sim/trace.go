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

// Package sim replays idle traces against a low-power context running on a
// manual clock.
//
// A trace is a YAML document:
//
//	name: video-playback
//	steps:
//	  - repeat: 20
//	    idle:
//	      gr: [{us: 400, count: 12}, {us: 15, count: 200}]
//	  - power_source: battery
//	    gate: {ms: gated}
//	    votes: {ei: true, ei-pstate: true}
//
// Each step is applied once per repetition and is followed by one scheduler
// tick.
package sim

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
	"lpwr.dev/lpwr/pkg/lpwr/pg"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
)

// Trace is a sequence of steps.
type Trace struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Period is a run of idle periods of one length.
type Period struct {
	Us    uint32 `yaml:"us"`
	Count int    `yaml:"count"`
}

// Unobserved is an idle period part of which the histogram could not see.
type Unobserved struct {
	ObservedUs uint32 `yaml:"observed_us"`
	HiddenUs   uint32 `yaml:"hidden_us"`
}

// Step is one tick's worth of events. Map keys are controller, feature or
// voter names.
type Step struct {
	// Repeat applies the step this many times. Zero means once.
	Repeat int `yaml:"repeat"`

	// Idle lists the idle periods completed before the tick.
	Idle map[string][]Period `yaml:"idle"`

	// Unobserved lists idle periods with a hidden part.
	Unobserved map[string]Unobserved `yaml:"unobserved"`

	// PowerSource is "ac" or "battery".
	PowerSource string `yaml:"power_source"`

	// Gate sets power-gated features to "full" or "gated".
	Gate map[string]string `yaml:"gate"`

	// Votes are sleep-aware callback votes.
	Votes map[string]bool `yaml:"votes"`

	// Enable and Disable clear and set disable reasons.
	Enable  map[string][]string `yaml:"enable"`
	Disable map[string][]string `yaml:"disable"`

	// Kick restarts controllers.
	Kick []string `yaml:"kick"`

	// HoldWake keeps wake requests outstanding past the tick.
	HoldWake bool `yaml:"hold_wake"`
}

// Parse decodes a trace. Unknown fields are rejected.
func Parse(r io.Reader) (*Trace, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var t Trace
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decoding trace: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTrace reads a trace file. A trace without a name is named after the
// file.
func LoadTrace(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return t, nil
}

// Validate checks every name in the trace.
func (t *Trace) Validate() error {
	for i := range t.Steps {
		if err := t.Steps[i].validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (s *Step) validate() error {
	if s.Repeat < 0 {
		return fmt.Errorf("negative repeat %d", s.Repeat)
	}
	for name, periods := range s.Idle {
		if _, err := ap.ParseID(name); err != nil {
			return err
		}
		for _, p := range periods {
			if p.Count < 0 {
				return fmt.Errorf("negative idle period count %d", p.Count)
			}
		}
	}
	for name := range s.Unobserved {
		if _, err := ap.ParseID(name); err != nil {
			return err
		}
	}
	switch s.PowerSource {
	case "", "ac", "battery":
	default:
		return fmt.Errorf("unknown power source %q, must be 'ac' or 'battery'", s.PowerSource)
	}
	for name, state := range s.Gate {
		if _, err := pg.ParseFeature(name); err != nil {
			return err
		}
		if state != "full" && state != "gated" {
			return fmt.Errorf("unknown gate state %q for %s, must be 'full' or 'gated'", state, name)
		}
	}
	for name := range s.Votes {
		if _, err := sched.ParseVoter(name); err != nil {
			return err
		}
	}
	for _, m := range []map[string][]string{s.Enable, s.Disable} {
		for name, reasons := range m {
			if _, err := ap.ParseID(name); err != nil {
				return err
			}
			if _, err := ap.ParseReasons(reasons); err != nil {
				return err
			}
		}
	}
	for _, name := range s.Kick {
		if _, err := ap.ParseID(name); err != nil {
			return err
		}
	}
	return nil
}

// Ticks returns the number of ticks the trace spans.
func (t *Trace) Ticks() int {
	n := 0
	for _, s := range t.Steps {
		n += max(s.Repeat, 1)
	}
	return n
}
