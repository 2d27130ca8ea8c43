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

import "lpwr.dev/lpwr/pkg/lpwr/histogram"

// Params are the cycle-domain inputs of a prediction.
type Params struct {
	// Bin0Cycles is the lower edge of bin 0. It is a power of two.
	Bin0Cycles uint64

	// MinCycles and MaxCycles bound the predicted threshold.
	MinCycles uint64
	MaxCycles uint64

	// BreakEvenHCycles is the per-entry cost, in hundred cycles.
	BreakEvenHCycles uint64

	// OverheadHCycles is the per-entry time that does not count as
	// residency, in hundred cycles.
	OverheadHCycles uint64

	// CyclesPerSampleMax bounds the idle periods gated per sample.
	CyclesPerSampleMax uint32

	// MinResidency is the minimum residency in percent.
	MinResidency uint8

	// ClockMHz is the monitored clock rate.
	ClockMHz uint32

	// SamplingPeriodUs is the period covered by one sample.
	SamplingPeriodUs uint32
}

// ParamsFor returns the prediction inputs of controller id running row with
// bin 0 at 1<<shift cycles.
func ParamsFor(id ID, row *ModeRow, clockMHz, samplingPeriodUs uint32, shift uint) Params {
	clk := uint64(clockMHz)
	return Params{
		Bin0Cycles:         uint64(1) << shift,
		MinCycles:          uint64(row.IdleThresholdMinUs) * clk,
		MaxCycles:          uint64(row.IdleThresholdMaxUs) * clk,
		BreakEvenHCycles:   uint64(row.BreakEvenUs) * clk / 100,
		OverheadHCycles:    uint64(features[id].overheadUs) * clk / 100,
		CyclesPerSampleMax: row.CyclesPerSampleMax,
		MinResidency:       row.MinResidency,
		ClockMHz:           clockMHz,
		SamplingPeriodUs:   samplingPeriodUs,
	}
}

// binLowerCycles returns the lower edge of bin i.
func (p *Params) binLowerCycles(i int) uint64 {
	return p.Bin0Cycles << uint(i)
}

// binHCycles returns the lower edge of bin i in hundred cycles.
func (p *Params) binHCycles(i int) int64 {
	return int64(p.binLowerCycles(i) / 100)
}

// Prediction is the outcome of Predict.
type Prediction struct {
	// OK is set when a filter bin was selected.
	OK bool

	// FilterX is the selected bin.
	FilterX int

	// ThresholdCycles is the lower edge of FilterX raised to the minimum
	// threshold.
	ThresholdCycles uint64

	// PowerSavingUs and Residency are evaluated at FilterX.
	PowerSavingUs int64
	Residency     uint8
}

// PowerSavingUs returns the power saved, in microseconds, over the sample if
// idle periods in bins at or above filter are gated. The result is negative
// when the entry cost exceeds the idle time won.
func PowerSavingUs(bins *histogram.Bins, p *Params, filter int) int64 {
	if p.ClockMHz == 0 {
		return 0
	}
	filterH := p.binHCycles(filter)
	var savingH int64
	for j := filter; j < histogram.NumBins; j++ {
		savingH += int64(bins[j]) * (p.binHCycles(j) - filterH - int64(p.BreakEvenHCycles))
	}
	return savingH * 100 / int64(p.ClockMHz)
}

// Residency returns the share of the sampling period, in percent, spent
// gated if idle periods in bins at or above filter are gated.
func Residency(bins *histogram.Bins, p *Params, filter int) uint8 {
	if p.ClockMHz == 0 || p.SamplingPeriodUs == 0 {
		return 0
	}
	filterH := p.binHCycles(filter)
	var residencyH int64
	for j := filter; j < histogram.NumBins; j++ {
		gated := p.binHCycles(j) - filterH - int64(p.OverheadHCycles)
		if gated <= 0 {
			continue
		}
		residencyH += int64(bins[j]) * gated
	}
	us := residencyH * 100 / int64(p.ClockMHz)
	pct := us * 100 / int64(p.SamplingPeriodUs)
	if pct > 100 {
		pct = 100
	}
	return uint8(pct)
}

// Predict selects the filter bin that maximizes the power saving.
//
// Bins are scanned from the top down while the gated idle periods are
// accumulated. Bins whose lower edge is above MaxCycles only contribute to
// the accumulation. The scan stops once more than CyclesPerSampleMax periods
// would be gated, and after evaluating the first bin whose lower edge
// reaches MinCycles.
func Predict(bins *histogram.Bins, p *Params) Prediction {
	if p.ClockMHz == 0 {
		return Prediction{}
	}
	var (
		best        Prediction
		bestSavingH int64
		sum         uint64
		savingH     int64
	)
	for i := histogram.NumBins - 1; i >= 0; i-- {
		count := uint64(bins[i])
		sum += count
		// Lowering the filter from bin i+1 to bin i gains the distance
		// between their edges for every period already accumulated, and
		// costs one break-even for each period of bin i.
		if i < histogram.NumBins-1 {
			savingH += int64(sum-count) * (p.binHCycles(i+1) - p.binHCycles(i))
		}
		savingH -= int64(count) * int64(p.BreakEvenHCycles)

		lower := p.binLowerCycles(i)
		if lower > p.MaxCycles {
			continue
		}
		if sum > uint64(p.CyclesPerSampleMax) {
			break
		}
		// Candidates are compared in hundred cycles so that a saving lost
		// to microsecond truncation still counts.
		if savingH > 0 && (!best.OK || savingH > bestSavingH) {
			if res := Residency(bins, p, i); res >= p.MinResidency {
				bestSavingH = savingH
				best = Prediction{
					OK:              true,
					FilterX:         i,
					ThresholdCycles: max(lower, p.MinCycles),
					PowerSavingUs:   savingH * 100 / int64(p.ClockMHz),
					Residency:       res,
				}
			}
		}
		if lower <= p.MinCycles {
			break
		}
	}
	return best
}
