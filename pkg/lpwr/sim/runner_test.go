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

package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"lpwr.dev/lpwr/pkg/log"
	"lpwr.dev/lpwr/pkg/lpwr"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
)

func testConfig() Config {
	row := ap.ModeRow{
		IdleThresholdMinUs: 20,
		IdleThresholdMaxUs: 10000,
		BreakEvenUs:        50,
		CyclesPerSampleMax: 1000,
	}
	return Config{
		ClockMHz:     100,
		BasePeriodUs: 100000,
		Generation:   histogram.Gen2,
		Features:     lpwr.DefaultFeatures(),
		Controllers: map[ap.ID]ap.Config{
			ap.GR: {
				ModeRow:        row,
				BaseMultiplier: 1,
				Table: []ap.ModeRow{
					row,
					{IdleThresholdMinUs: 100, IdleThresholdMaxUs: 20000, BreakEvenUs: 80, CyclesPerSampleMax: 500},
				},
				TableIndex: [ap.NumPowerSources]int{ap.AC: 0, ap.Battery: 1},
			},
		},
	}
}

func load(t *testing.T, path string) *Trace {
	t.Helper()
	tr, err := LoadTrace(path)
	if err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	return tr
}

// logToTest routes the global log to t for the duration of the test.
func logToTest(t *testing.T) {
	prev := log.Log().Emitter
	log.SetTarget(&log.TestEmitter{TestLogger: t})
	t.Cleanup(func() { log.SetTarget(prev) })
}

func TestRunLongIdle(t *testing.T) {
	logToTest(t)
	res, err := Run(context.Background(), testConfig(), load(t, "testdata/long_idle.yaml"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Trace != "long-idle" || res.Ticks != 6 {
		t.Errorf("Trace %q Ticks %d, want long-idle, 6", res.Trace, res.Ticks)
	}
	want := []uint64{1000000, 2000, 2000, 1000000, 2000, 2000}
	if diff := cmp.Diff(want, res.Thresholds[ap.GR]); diff != "" {
		t.Errorf("thresholds mismatch (-want +got):\n%s", diff)
	}
	st := res.Snapshot.Controllers[0]
	if st.BadDecisionCount != 1 {
		t.Errorf("BadDecisionCount = %d, want 1", st.BadDecisionCount)
	}
	if st.ThresholdCounter[0] != 4 {
		t.Errorf("ThresholdCounter[0] = %d, want 4", st.ThresholdCounter[0])
	}
}

func TestRunPowerSource(t *testing.T) {
	res, err := Run(context.Background(), testConfig(), load(t, "testdata/power_source.yaml"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []uint64{1000000, 2000, 2000000, 10000, 10000, 2000000, 2000000}
	if diff := cmp.Diff(want, res.Thresholds[ap.GR]); diff != "" {
		t.Errorf("thresholds mismatch (-want +got):\n%s", diff)
	}
	s := res.Snapshot
	if s.Controllers[0].TableIndex != 1 {
		t.Errorf("TableIndex = %d, want 1", s.Controllers[0].TableIndex)
	}
	if s.Controllers[0].Executions != 6 {
		t.Errorf("Executions = %d, want 6", s.Controllers[0].Executions)
	}
	if s.Scheduler.SleepMode != sched.SleepAlways {
		t.Errorf("SleepMode = %v, want %v", s.Scheduler.SleepMode, sched.SleepAlways)
	}
	if len(s.Scheduler.Callbacks) != 1 || s.Scheduler.Callbacks[0].Deferrals != 2 {
		t.Errorf("callbacks = %+v, want 2 deferrals", s.Scheduler.Callbacks)
	}
}

func TestRunInitFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Features.APGraphics = false
	if _, err := Run(context.Background(), cfg, &Trace{Name: "x"}); err == nil {
		t.Errorf("Run with the controller feature off succeeded")
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, testConfig(), load(t, "testdata/long_idle.yaml"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want %v", err, context.Canceled)
	}
}

func TestRunAll(t *testing.T) {
	traces := []*Trace{
		load(t, "testdata/long_idle.yaml"),
		load(t, "testdata/power_source.yaml"),
		load(t, "testdata/long_idle.yaml"),
	}
	results, err := RunAll(context.Background(), testConfig(), traces)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	var names []string
	for _, r := range results {
		names = append(names, r.Trace)
	}
	if diff := cmp.Diff([]string{"long-idle", "power_source", "long-idle"}, names); diff != "" {
		t.Errorf("result order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(results[0].Thresholds, results[2].Thresholds); diff != "" {
		t.Errorf("identical traces diverged (-first +third):\n%s", diff)
	}
}
