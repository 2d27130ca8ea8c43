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
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"lpwr.dev/lpwr/pkg/faketime"
	"lpwr.dev/lpwr/pkg/log"
	"lpwr.dev/lpwr/pkg/lpwr"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
	"lpwr.dev/lpwr/pkg/lpwr/pg"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
	"lpwr.dev/lpwr/pkg/lpwr/stats"
)

// Config describes the simulated chip.
type Config struct {
	ClockMHz     uint32
	BasePeriodUs uint32
	AllocBudget  int
	Generation   histogram.Generation
	Features     lpwr.Features

	// Controllers are initialized and enabled in id order.
	Controllers map[ap.ID]ap.Config
}

// Result is the outcome of one replay.
type Result struct {
	Trace string
	Ticks int

	// Thresholds holds the programmed idle threshold of each controller
	// after every tick.
	Thresholds map[ap.ID][]uint64

	Snapshot *stats.Snapshot
}

type runner struct {
	cfg     Config
	clock   *faketime.ManualClock
	gate    *pg.Sim
	devices [ap.NumIDs]*histogram.Sim
	lp      *lpwr.LowPower
	res     *Result
}

// Run replays t. It stops early if ctx is canceled.
func Run(ctx context.Context, cfg Config, t *Trace) (*Result, error) {
	r := &runner{
		cfg:   cfg,
		clock: faketime.NewManualClock(),
		gate:  pg.NewSim(pg.FeatureGR, pg.FeatureDI, pg.FeatureMS),
		res: &Result{
			Trace:      t.Name,
			Thresholds: make(map[ap.ID][]uint64),
		},
	}
	for f := pg.Feature(0); f < pg.NumFeatures; f++ {
		r.gate.SetFullPower(f, true)
	}
	opts := lpwr.Options{
		ClockMHz:     cfg.ClockMHz,
		BasePeriodUs: cfg.BasePeriodUs,
		AllocBudget:  cfg.AllocBudget,
		Features:     cfg.Features,
		Clock:        r.clock,
		Gate:         r.gate,
		Trap: func(err error) {
			log.Warningf("trace %s: %v", t.Name, err)
		},
	}
	for id := range cfg.Controllers {
		dev, err := histogram.New(cfg.Generation)
		if err != nil {
			return nil, err
		}
		r.devices[id] = dev
		opts.Devices[id] = dev
	}
	lp, err := lpwr.New(opts)
	if err != nil {
		return nil, err
	}
	r.lp = lp
	for id := ap.ID(0); id < ap.NumIDs; id++ {
		c, ok := cfg.Controllers[id]
		if !ok {
			continue
		}
		if err := lp.InitAndEnable(id, c); err != nil {
			return nil, fmt.Errorf("trace %s: %w", t.Name, err)
		}
	}

	period := time.Duration(cfg.BasePeriodUs) * time.Microsecond
	for i := range t.Steps {
		s := &t.Steps[i]
		for n := 0; n < max(s.Repeat, 1); n++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := r.apply(s); err != nil {
				return nil, fmt.Errorf("trace %s: step %d: %w", t.Name, i, err)
			}
			r.clock.Advance(period)
			if !s.HoldWake {
				r.completeWakes()
			}
			r.record()
		}
	}
	r.res.Snapshot = stats.Take(lp)
	log.Infof("trace %s: %d ticks replayed", t.Name, r.res.Ticks)
	return r.res, nil
}

// cycles converts microseconds of the monitored clock to cycles.
func (r *runner) cycles(us uint32) uint64 {
	return uint64(us) * uint64(r.cfg.ClockMHz)
}

// apply performs the events of one step.
func (r *runner) apply(s *Step) error {
	for f := pg.Feature(0); f < pg.NumFeatures; f++ {
		state, _ := lookup(s.Gate, f.String())
		switch state {
		case "gated":
			r.gate.Gate(f)
		case "full":
			if !r.gate.IsFullPower(f) {
				r.gate.Wake(f)
				r.lp.GateWoke(f)
			}
		}
	}
	if s.PowerSource != "" {
		r.lp.PowerSourceChangedAll(s.PowerSource == "battery")
	}
	for v := sched.Voter(0); v < sched.NumVoters; v++ {
		if sleep, ok := lookup(s.Votes, v.String()); ok {
			r.lp.Vote(v, sleep)
		}
	}
	for id := ap.ID(0); id < ap.NumIDs; id++ {
		if reasons, ok := lookup(s.Disable, id.String()); ok {
			mask, _ := ap.ParseReasons(reasons)
			if err := r.lp.Disable(id, mask); err != nil {
				return err
			}
		}
		if reasons, ok := lookup(s.Enable, id.String()); ok {
			mask, _ := ap.ParseReasons(reasons)
			if err := r.lp.Enable(id, mask); err != nil {
				return err
			}
		}
	}
	for _, name := range s.Kick {
		id, _ := ap.ParseID(name)
		if err := r.lp.Kick(id, ap.DefaultSkipCount); err != nil {
			return err
		}
	}
	for id := ap.ID(0); id < ap.NumIDs; id++ {
		dev := r.devices[id]
		if dev == nil {
			continue
		}
		if u, ok := lookup(s.Unobserved, id.String()); ok {
			dev.BeginIdle()
			dev.AdvanceIdle(r.cycles(u.ObservedUs))
			if err := r.lp.AccountUnobservedIdle(id, r.cycles(u.HiddenUs)); err != nil {
				return err
			}
			dev.EndIdle()
		}
		periods, _ := lookup(s.Idle, id.String())
		for _, p := range periods {
			for k := 0; k < p.Count; k++ {
				dev.RecordIdle(r.cycles(p.Us))
			}
		}
	}
	return nil
}

// completeWakes models wakes that finish within one tick.
func (r *runner) completeWakes() {
	for f := pg.Feature(0); f < pg.NumFeatures; f++ {
		if r.gate.WakeRequested(f) {
			r.gate.Wake(f)
			r.lp.GateWoke(f)
		}
	}
}

func (r *runner) record() {
	r.res.Ticks++
	for id := ap.ID(0); id < ap.NumIDs; id++ {
		if r.lp.Registry().Get(id) == nil {
			continue
		}
		r.res.Thresholds[id] = append(r.res.Thresholds[id], r.gate.Threshold(id.Parent()).IdleCycles)
	}
}

// lookup finds key in m ignoring case.
func lookup[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// RunAll replays every trace on its own low-power context, concurrently.
// Results are returned in trace order.
func RunAll(ctx context.Context, cfg Config, traces []*Trace) ([]*Result, error) {
	results := make([]*Result, len(traces))
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range traces {
		g.Go(func() error {
			res, err := Run(ctx, cfg, t)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
