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

package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"lpwr.dev/lpwr/pkg/lpwr"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
)

// Row is one power-mode table row.
type Row struct {
	IdleThresholdMinUs uint32 `toml:"idle_threshold_min_us"`
	IdleThresholdMaxUs uint32 `toml:"idle_threshold_max_us"`
	BreakEvenUs        uint32 `toml:"break_even_us"`
	CyclesPerSampleMax uint32 `toml:"cycles_per_sample_max"`
	MinResidency       uint8  `toml:"min_residency"`
}

func (r Row) modeRow() ap.ModeRow {
	return ap.ModeRow{
		IdleThresholdMinUs: r.IdleThresholdMinUs,
		IdleThresholdMaxUs: r.IdleThresholdMaxUs,
		BreakEvenUs:        r.BreakEvenUs,
		CyclesPerSampleMax: r.CyclesPerSampleMax,
		MinResidency:       r.MinResidency,
	}
}

// Controller is the file form of ap.Config.
type Controller struct {
	Row

	DefaultThresholdUs uint32 `toml:"default_threshold_us"`
	BaseMultiplier     uint32 `toml:"base_multiplier"`
	ImmediateExecution bool   `toml:"immediate_execution"`

	// Table rows are selected by TableAC and TableBattery.
	Table        []Row `toml:"table"`
	TableAC      int   `toml:"table_ac"`
	TableBattery int   `toml:"table_battery"`
}

// File is the TOML configuration file:
//
//	[features]
//	ap_display = false
//
//	[controllers.gr]
//	idle_threshold_min_us = 20
//	idle_threshold_max_us = 10000
//	break_even_us = 50
//	cycles_per_sample_max = 1000
//	base_multiplier = 1
type File struct {
	Features    lpwr.Features         `toml:"features"`
	Controllers map[string]Controller `toml:"controllers"`
}

// DefaultFile returns the built-in configuration: every feature on and a
// graphics controller.
func DefaultFile() *File {
	return &File{
		Features: lpwr.DefaultFeatures(),
		Controllers: map[string]Controller{
			ap.GR.String(): {
				Row: Row{
					IdleThresholdMinUs: 20,
					IdleThresholdMaxUs: 10000,
					BreakEvenUs:        50,
					CyclesPerSampleMax: 1000,
				},
				BaseMultiplier: 1,
			},
		},
	}
}

// LoadFile reads a TOML configuration. Features missing from the file keep
// their defaults. Unknown keys are rejected.
func LoadFile(path string) (*File, error) {
	f := &File{Features: lpwr.DefaultFeatures()}
	md, err := toml.DecodeFile(path, f)
	if err != nil {
		return nil, fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config file %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if _, err := f.ControllerConfigs(); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return f, nil
}

// ControllerConfigs converts and validates the controller sections.
func (f *File) ControllerConfigs() (map[ap.ID]ap.Config, error) {
	out := make(map[ap.ID]ap.Config, len(f.Controllers))
	for _, name := range f.controllerNames() {
		id, err := ap.ParseID(name)
		if err != nil {
			return nil, err
		}
		c := f.Controllers[name]
		cfg := ap.Config{
			ModeRow:            c.modeRow(),
			DefaultThresholdUs: c.DefaultThresholdUs,
			BaseMultiplier:     c.BaseMultiplier,
			ImmediateExecution: c.ImmediateExecution,
		}
		for _, r := range c.Table {
			cfg.Table = append(cfg.Table, r.modeRow())
		}
		cfg.TableIndex[ap.AC] = c.TableAC
		cfg.TableIndex[ap.Battery] = c.TableBattery
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("controller %s: %w", id, err)
		}
		out[id] = cfg
	}
	return out, nil
}

func (f *File) controllerNames() []string {
	names := make([]string, 0, len(f.Controllers))
	for name := range f.Controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
