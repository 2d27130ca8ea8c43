// Copyright 2020 The gVisor Authors.
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
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
)

func newFlagSet() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	flags := c.ToFlags()
	if len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if c.SACPolicy != sched.PolicyV2 || c.Generation != histogram.Gen2 {
		t.Errorf("SACPolicy=%v Generation=%v, want v2, gen2", c.SACPolicy, c.Generation)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	for name, val := range map[string]string{
		"debug":      "true",
		"clock-mhz":  "405",
		"sac-policy": "v1",
		"generation": "gen1",
	} {
		if err := testFlags.Set(name, val); err != nil {
			t.Errorf("Flag set %q: %v", name, err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := uint(405); c.ClockMHz != want {
		t.Errorf("ClockMHz=%v, want: %v", c.ClockMHz, want)
	}
	if want := sched.PolicyV1; c.SACPolicy != want {
		t.Errorf("SACPolicy=%v, want: %v", c.SACPolicy, want)
	}
	if want := histogram.Gen1; c.Generation != want {
		t.Errorf("Generation=%v, want: %v", c.Generation, want)
	}

	got := c.ToFlags()
	want := []string{"--debug=true", "--clock-mhz=405", "--sac-policy=v1", "--generation=gen1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidFlags(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flag  string
		value string
	}{
		{name: "log format", flag: "log-format", value: "xml"},
		{name: "zero clock", flag: "clock-mhz", value: "0"},
		{name: "zero period", flag: "base-period-us", value: "0"},
		{name: "negative budget", flag: "alloc-budget", value: "-1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet()
			if err := testFlags.Set(tc.flag, tc.value); err != nil {
				t.Fatalf("Flag set: %v", err)
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags() succeeded with --%s=%s", tc.flag, tc.value)
			}
		})
	}
	if err := newFlagSet().Set("sac-policy", "v3"); err == nil {
		t.Errorf("--sac-policy=v3 accepted")
	}
}

func TestLoadFile(t *testing.T) {
	f, err := LoadFile("../testdata/lpwr.toml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if f.Features.APDisplay {
		t.Errorf("APDisplay enabled, want disabled by the file")
	}
	if !f.Features.APGraphics || !f.Features.LazyThreshold {
		t.Errorf("features missing from the file lost their defaults: %+v", f.Features)
	}
	got, err := f.ControllerConfigs()
	if err != nil {
		t.Fatalf("ControllerConfigs: %v", err)
	}
	row := ap.ModeRow{IdleThresholdMinUs: 20, IdleThresholdMaxUs: 10000, BreakEvenUs: 50, CyclesPerSampleMax: 1000}
	want := map[ap.ID]ap.Config{
		ap.GR: {
			ModeRow:        row,
			BaseMultiplier: 1,
			Table: []ap.ModeRow{
				row,
				{IdleThresholdMinUs: 100, IdleThresholdMaxUs: 20000, BreakEvenUs: 80, CyclesPerSampleMax: 500},
			},
			TableIndex: [ap.NumPowerSources]int{ap.AC: 0, ap.Battery: 1},
		},
		ap.DI: {
			ModeRow:        ap.ModeRow{IdleThresholdMinUs: 50, IdleThresholdMaxUs: 5000, BreakEvenUs: 100, CyclesPerSampleMax: 200, MinResidency: 10},
			BaseMultiplier: 2,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ControllerConfigs mismatch (-want +got):\n%s", diff)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lpwr.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "syntax",
			content: "[controllers.gr\n",
			want:    "decode config file",
		},
		{
			name:    "unknown key",
			content: "[features]\nap_video = true\n",
			want:    "unknown keys features.ap_video",
		},
		{
			name:    "unknown controller",
			content: "[controllers.nvenc]\nidle_threshold_min_us = 1\nidle_threshold_max_us = 1\nbase_multiplier = 1\n",
			want:    "nvenc",
		},
		{
			name:    "invalid row",
			content: "[controllers.gr]\nidle_threshold_min_us = 0\nbase_multiplier = 1\n",
			want:    "controller gr",
		},
		{
			name:    "table index",
			content: "[controllers.gr]\nidle_threshold_min_us = 1\nidle_threshold_max_us = 1\nbase_multiplier = 1\ntable_battery = 1\n[[controllers.gr.table]]\nidle_threshold_min_us = 1\nidle_threshold_max_us = 1\n",
			want:    "out of range",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, tc.content))
			if err == nil {
				t.Fatalf("LoadFile() succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("LoadFile() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestSimConfig(t *testing.T) {
	testFlags := newFlagSet()
	if err := testFlags.Set("config", "../testdata/lpwr.toml"); err != nil {
		t.Fatal(err)
	}
	if err := testFlags.Set("sac-policy", "none"); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := c.SimConfig()
	if err != nil {
		t.Fatalf("SimConfig: %v", err)
	}
	if sc.Features.SACPolicy != sched.PolicyNone {
		t.Errorf("SACPolicy = %v, want none", sc.Features.SACPolicy)
	}
	// The display controller is configured but its feature is off.
	if _, ok := sc.Controllers[ap.DI]; ok {
		t.Errorf("disabled display controller kept")
	}
	if _, ok := sc.Controllers[ap.GR]; !ok {
		t.Errorf("graphics controller dropped")
	}
	if sc.ClockMHz != 100 || sc.BasePeriodUs != 100000 {
		t.Errorf("ClockMHz %d BasePeriodUs %d, want 100, 100000", sc.ClockMHz, sc.BasePeriodUs)
	}
}

func TestDefaultFile(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	f, err := c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := f.ControllerConfigs()
	if err != nil {
		t.Fatalf("ControllerConfigs: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d default controllers, want 1", len(got))
	}
}
