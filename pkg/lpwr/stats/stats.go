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

// Package stats snapshots the counters of a low-power context and exports
// them in the Prometheus text format.
package stats

import (
	"fmt"
	"io"
	"strconv"

	"github.com/mohae/deepcopy"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"lpwr.dev/lpwr/pkg/lpwr"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
)

// Label names.
const (
	ControllerLabel = "controller"
	BinLabel        = "bin"
	CallbackLabel   = "callback"
	TraceLabel      = "trace"
)

// Snapshot is a point-in-time copy of a low-power context's counters. It
// shares no memory with the context.
type Snapshot struct {
	Controllers []ap.Stats
	Scheduler   sched.State
}

// Take snapshots lp.
func Take(lp *lpwr.LowPower) *Snapshot {
	s := &Snapshot{Scheduler: lp.Scheduler().State()}
	lp.Registry().ForEach(func(c *ap.Controller) {
		s.Controllers = append(s.Controllers, c.Stats())
	})
	// Controller stats refer to live counters.
	return deepcopy.Copy(s).(*Snapshot)
}

// family accumulates the samples of one metric.
type family struct {
	mf *dto.MetricFamily
}

func newFamily(name, help string, typ dto.MetricType) *family {
	return &family{mf: &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}}
}

func labelPairs(labels []string) []*dto.LabelPair {
	if len(labels)%2 != 0 {
		panic(fmt.Sprintf("odd label list %v", labels))
	}
	var pairs []*dto.LabelPair
	for i := 0; i < len(labels); i += 2 {
		pairs = append(pairs, &dto.LabelPair{Name: proto.String(labels[i]), Value: proto.String(labels[i+1])})
	}
	return pairs
}

// add appends a sample with the given label name and value pairs.
func (f *family) add(v float64, labels ...string) {
	m := &dto.Metric{Label: labelPairs(labels)}
	switch f.mf.GetType() {
	case dto.MetricType_COUNTER:
		m.Counter = &dto.Counter{Value: proto.Float64(v)}
	case dto.MetricType_GAUGE:
		m.Gauge = &dto.Gauge{Value: proto.Float64(v)}
	default:
		panic(fmt.Sprintf("unsupported metric type %v", f.mf.GetType()))
	}
	f.mf.Metric = append(f.mf.Metric, m)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Families converts s to metric families. extra label name and value pairs
// are added to every sample.
func (s *Snapshot) Families(extra ...string) []*dto.MetricFamily {
	var (
		enabled     = newFamily("lpwr_ap_enabled", "Whether the adaptive power controller is enabled.", dto.MetricType_GAUGE)
		active      = newFamily("lpwr_ap_active", "Whether the last prediction selected a filter.", dto.MetricType_GAUGE)
		threshold   = newFamily("lpwr_ap_idle_threshold_cycles", "Current idle threshold.", dto.MetricType_GAUGE)
		bin0        = newFamily("lpwr_ap_bin0_cycles", "Lower edge of histogram bin 0.", dto.MetricType_GAUGE)
		saving      = newFamily("lpwr_ap_power_saving_us", "Predicted power saving of the last filter.", dto.MetricType_GAUGE)
		residency   = newFamily("lpwr_ap_residency_percent", "Predicted residency of the last filter.", dto.MetricType_GAUGE)
		bad         = newFamily("lpwr_ap_bad_decisions_total", "Filters that stopped paying off while active.", dto.MetricType_COUNTER)
		defaults    = newFamily("lpwr_ap_default_threshold_total", "Samples that fell back to the maximum threshold.", dto.MetricType_COUNTER)
		perBin      = newFamily("lpwr_ap_threshold_total", "Predictions per filter bin.", dto.MetricType_COUNTER)
		executions  = newFamily("lpwr_ap_executions_total", "Sampling steps run.", dto.MetricType_COUNTER)
		kicks       = newFamily("lpwr_ap_kicks_total", "Controller restarts.", dto.MetricType_COUNTER)
		ticks       = newFamily("lpwr_sched_ticks_total", "Scheduler ticks.", dto.MetricType_COUNTER)
		armed       = newFamily("lpwr_sched_armed", "Whether the scheduler timer is armed.", dto.MetricType_GAUGE)
		sleepMode   = newFamily("lpwr_sched_sleep_mode", "Arbitrated timer sleep mode.", dto.MetricType_GAUGE)
		cbExecs     = newFamily("lpwr_sched_callback_executions_total", "Callback executions.", dto.MetricType_COUNTER)
		cbDeferrals = newFamily("lpwr_sched_callback_deferrals_total", "Callback executions deferred to a wake.", dto.MetricType_COUNTER)
		cbFailures  = newFamily("lpwr_sched_callback_failures_total", "Callback executions that returned an error.", dto.MetricType_COUNTER)
	)
	for i := range s.Controllers {
		c := &s.Controllers[i]
		l := append([]string{ControllerLabel, c.ID.String()}, extra...)
		enabled.add(boolValue(c.Enabled), l...)
		active.add(boolValue(c.Active), l...)
		threshold.add(float64(c.IdleThresholdCycles), l...)
		bin0.add(float64(c.Bin0Cycles), l...)
		saving.add(float64(c.PrevPowerSavingUs), l...)
		residency.add(float64(c.PrevResidency), l...)
		bad.add(float64(c.BadDecisionCount), l...)
		defaults.add(float64(c.DefaultThresholdCounter), l...)
		executions.add(float64(c.Executions), l...)
		kicks.add(float64(c.Kicks), l...)
		for bin, n := range c.ThresholdCounter {
			perBin.add(float64(n), append([]string{ControllerLabel, c.ID.String(), BinLabel, strconv.Itoa(bin)}, extra...)...)
		}
	}
	ticks.add(float64(s.Scheduler.Ticks), extra...)
	armed.add(boolValue(s.Scheduler.Armed), extra...)
	sleepMode.add(float64(s.Scheduler.SleepMode), extra...)
	for _, cb := range s.Scheduler.Callbacks {
		l := append([]string{CallbackLabel, cb.ID.String()}, extra...)
		cbExecs.add(float64(cb.Executions), l...)
		cbDeferrals.add(float64(cb.Deferrals), l...)
		cbFailures.add(float64(cb.Failures), l...)
	}

	var out []*dto.MetricFamily
	for _, f := range []*family{
		enabled, active, threshold, bin0, saving, residency, bad, defaults, perBin, executions, kicks,
		ticks, armed, sleepMode, cbExecs, cbDeferrals, cbFailures,
	} {
		if len(f.mf.Metric) > 0 {
			out = append(out, f.mf)
		}
	}
	return out
}

// WriteText writes families in the Prometheus text format and returns the
// number of bytes written.
func WriteText(w io.Writer, families []*dto.MetricFamily) (int, error) {
	written := 0
	for _, mf := range families {
		n, err := expfmt.MetricFamilyToText(w, mf)
		written += n
		if err != nil {
			return written, fmt.Errorf("writing %s: %w", mf.GetName(), err)
		}
	}
	return written, nil
}

// Merge combines the families of several snapshots. Families with the same
// name are concatenated, so samples must be told apart by extra labels.
func Merge(sets ...[]*dto.MetricFamily) []*dto.MetricFamily {
	var (
		out    []*dto.MetricFamily
		byName = make(map[string]*dto.MetricFamily)
	)
	for _, set := range sets {
		for _, mf := range set {
			if prev, ok := byName[mf.GetName()]; ok {
				prev.Metric = append(prev.Metric, mf.Metric...)
				continue
			}
			cp := &dto.MetricFamily{
				Name:   mf.Name,
				Help:   mf.Help,
				Type:   mf.Type,
				Metric: append([]*dto.Metric(nil), mf.Metric...),
			}
			byName[mf.GetName()] = cp
			out = append(out, cp)
		}
	}
	return out
}
