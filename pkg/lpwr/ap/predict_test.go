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
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
)

// testParams uses a 100 MHz clock, a [20us, 10ms] threshold range and a
// 50us break-even over a 100ms sample.
func testParams() Params {
	return Params{
		Bin0Cycles:         1024,
		MinCycles:          2000,
		MaxCycles:          1000000,
		BreakEvenHCycles:   50,
		OverheadHCycles:    10,
		CyclesPerSampleMax: 1000,
		ClockMHz:           100,
		SamplingPeriodUs:   100000,
	}
}

func TestPowerSaving(t *testing.T) {
	p := testParams()
	var bins histogram.Bins
	bins[15] = 10
	// (335544 - 10 - 50) HCycles per period at 1 HCycle per us.
	if got, want := PowerSavingUs(&bins, &p, 0), int64(10*(335544-10-50)); got != want {
		t.Errorf("PowerSavingUs(0) = %d, want %d", got, want)
	}
	bins = histogram.Bins{}
	bins[0] = 100
	if got := PowerSavingUs(&bins, &p, 0); got >= 0 {
		t.Errorf("PowerSavingUs over short periods = %d, want negative", got)
	}
}

func TestResidency(t *testing.T) {
	p := testParams()
	for _, tc := range []struct {
		name   string
		bin    int
		count  uint32
		filter int
		want   uint8
	}{
		{name: "saturates", bin: 15, count: 10, filter: 0, want: 100},
		{name: "short", bin: 5, count: 1, filter: 0, want: 0},
		{name: "overhead only", bin: 0, count: 100, filter: 0, want: 0},
		// (10485 - 10 - 10) HCycles for each of 5 periods over 100ms.
		{name: "partial", bin: 10, count: 5, filter: 0, want: 52},
		{name: "below filter", bin: 3, count: 1000, filter: 4, want: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var bins histogram.Bins
			bins[tc.bin] = tc.count
			if got := Residency(&bins, &p, tc.filter); got != tc.want {
				t.Errorf("Residency = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPredictLongIdle(t *testing.T) {
	p := testParams()
	var bins histogram.Bins
	bins[15] = 10
	got := Predict(&bins, &p)
	want := Prediction{
		OK:              true,
		FilterX:         0,
		ThresholdCycles: 2000,
		PowerSavingUs:   PowerSavingUs(&bins, &p, 0),
		Residency:       100,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Predict mismatch (-want +got):\n%s", diff)
	}
}

func TestPredictThresholdAboveBreakEven(t *testing.T) {
	p := testParams()
	var bins histogram.Bins
	// Many short periods that cost more than they save, and a few long
	// ones worth gating.
	bins[1] = 400
	bins[12] = 20
	got := Predict(&bins, &p)
	if !got.OK {
		t.Fatalf("Predict found no filter")
	}
	if got.FilterX <= 1 {
		t.Errorf("FilterX = %d, want above the short periods", got.FilterX)
	}
	if got.PowerSavingUs != PowerSavingUs(&bins, &p, got.FilterX) {
		t.Errorf("PowerSavingUs = %d, want %d", got.PowerSavingUs, PowerSavingUs(&bins, &p, got.FilterX))
	}
	if want := p.Bin0Cycles << uint(got.FilterX); got.ThresholdCycles != want {
		t.Errorf("ThresholdCycles = %d, want %d", got.ThresholdCycles, want)
	}
}

func TestPredictNoFilter(t *testing.T) {
	for _, tc := range []struct {
		name   string
		bins   func(*histogram.Bins)
		params func(*Params)
	}{
		{
			name: "empty",
			bins: func(*histogram.Bins) {},
		},
		{
			name: "short periods",
			bins: func(b *histogram.Bins) { b[0] = 500 },
		},
		{
			name: "too many cycles",
			bins: func(b *histogram.Bins) { b[15] = 2000 },
		},
		{
			name:   "low residency",
			bins:   func(b *histogram.Bins) { b[5] = 1 },
			params: func(p *Params) { p.MinResidency = 50 },
		},
		{
			name:   "no clock",
			bins:   func(b *histogram.Bins) { b[15] = 10 },
			params: func(p *Params) { p.ClockMHz = 0 },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			if tc.params != nil {
				tc.params(&p)
			}
			var bins histogram.Bins
			tc.bins(&bins)
			if got := Predict(&bins, &p); got.OK {
				t.Errorf("Predict = %+v, want no filter", got)
			}
		})
	}
}

func TestPredictSkipsBinsAboveMax(t *testing.T) {
	p := testParams()
	p.MaxCycles = 100000
	var bins histogram.Bins
	bins[14] = 5
	got := Predict(&bins, &p)
	if !got.OK {
		t.Fatalf("Predict found no filter")
	}
	if lower := p.Bin0Cycles << uint(got.FilterX); lower > p.MaxCycles {
		t.Errorf("filter bin %d lower edge %d above maximum %d", got.FilterX, lower, p.MaxCycles)
	}
}

func TestPredictComparesHCycles(t *testing.T) {
	// At 1620 MHz the savings of bins 1 and 0 truncate to the same 5175us
	// while bin 0 saves 10 HCycles more.
	p := testParams()
	p.ClockMHz = 1620
	p.BreakEvenHCycles = 30
	var bins histogram.Bins
	bins[13] = 1
	got := Predict(&bins, &p)
	want := Prediction{
		OK:              true,
		FilterX:         0,
		ThresholdCycles: 2000,
		PowerSavingUs:   5175,
		Residency:       5,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Predict mismatch (-want +got):\n%s", diff)
	}
	if saving := PowerSavingUs(&bins, &p, got.FilterX); saving != got.PowerSavingUs {
		t.Errorf("PowerSavingUs(%d) = %d, prediction has %d", got.FilterX, saving, got.PowerSavingUs)
	}
}

func TestPredictBounds(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		p := testParams()
		p.MinCycles = uint64(1 + r.Intn(100000))
		p.MaxCycles = p.MinCycles + uint64(r.Intn(10000000))
		shift := uint(0)
		for uint64(1)<<(shift+1) <= p.MinCycles {
			shift++
		}
		p.Bin0Cycles = uint64(1) << shift
		p.BreakEvenHCycles = uint64(r.Intn(1000))
		p.CyclesPerSampleMax = uint32(r.Intn(5000))
		p.MinResidency = uint8(r.Intn(50))
		var bins histogram.Bins
		for j := range bins {
			if r.Intn(3) == 0 {
				bins[j] = uint32(r.Intn(histogram.BinMax + 1))
			}
		}
		got := Predict(&bins, &p)
		if !got.OK {
			continue
		}
		if got.ThresholdCycles < p.MinCycles || got.ThresholdCycles > p.MaxCycles {
			t.Fatalf("params %+v bins %v: threshold %d outside [%d, %d]", p, bins, got.ThresholdCycles, p.MinCycles, p.MaxCycles)
		}
		if got.PowerSavingUs <= 0 {
			t.Fatalf("params %+v bins %v: non-positive saving %d", p, bins, got.PowerSavingUs)
		}
		if got.Residency < p.MinResidency {
			t.Fatalf("params %+v bins %v: residency %d below %d", p, bins, got.Residency, p.MinResidency)
		}
	}
}
