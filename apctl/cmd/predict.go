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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/subcommands"
	"lpwr.dev/lpwr/apctl/cmd/util"
	"lpwr.dev/lpwr/apctl/config"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
)

// Predict implements subcommands.Command for the "predict" command.
type Predict struct {
	controller  string
	powerSource string
	shift       int
	bins        binsFlag

	// stdout defaults to os.Stdout.
	stdout io.Writer
}

// Name implements subcommands.Command.Name.
func (*Predict) Name() string {
	return "predict"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Predict) Synopsis() string {
	return "run one prediction over a histogram sample"
}

// Usage implements subcommands.Command.Usage.
func (*Predict) Usage() string {
	return `predict [options] -bins=<count>,<count>,... - prints the filter bin and threshold the controller would pick for the sample.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Predict) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.controller, "controller", "gr", "Controller whose configuration is used: gr, di, mscg.")
	f.StringVar(&p.powerSource, "power-source", "ac", "Power source selecting the table row: ac, battery.")
	f.IntVar(&p.shift, "shift", -1, "Shift window of bin 0. Negative picks it the way the controller does.")
	f.Var(&p.bins, "bins", "Comma-separated bin counts starting at bin 0.")
}

// Execute implements subcommands.Command.Execute.
func (p *Predict) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	id, err := ap.ParseID(p.controller)
	if err != nil {
		return util.Errorf("%v", err)
	}
	file, err := conf.Load()
	if err != nil {
		return util.Errorf("%v", err)
	}
	controllers, err := file.ControllerConfigs()
	if err != nil {
		return util.Errorf("%v", err)
	}
	cfg, ok := controllers[id]
	if !ok {
		return util.Errorf("controller %v is not configured", id)
	}
	row, err := selectRow(&cfg, p.powerSource, file.Features.PowerSourceTables)
	if err != nil {
		return util.Errorf("%v", err)
	}
	clk := uint32(conf.ClockMHz)
	shift, err := p.selectShift(conf.Generation, uint64(row.IdleThresholdMinUs)*uint64(clk))
	if err != nil {
		return util.Errorf("%v", err)
	}
	params := ap.ParamsFor(id, &row, clk, uint32(conf.BasePeriodUs)*cfg.BaseMultiplier, shift)
	bins := histogram.Bins(p.bins)
	if err := writePrediction(stdoutOr(p.stdout), &bins, &params); err != nil {
		return util.Errorf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// selectRow returns the tunables in force on the named power source.
func selectRow(cfg *ap.Config, source string, tables bool) (ap.ModeRow, error) {
	var src ap.PowerSource
	switch source {
	case "ac":
		src = ap.AC
	case "battery":
		src = ap.Battery
	default:
		return ap.ModeRow{}, fmt.Errorf("unknown power source %q, must be 'ac' or 'battery'", source)
	}
	if !tables || len(cfg.Table) == 0 {
		return cfg.ModeRow, nil
	}
	return cfg.Table[cfg.TableIndex[src]], nil
}

// selectShift returns the requested shift, or the largest one the
// generation supports whose bin 0 does not exceed minCycles.
func (p *Predict) selectShift(gen histogram.Generation, minCycles uint64) (uint, error) {
	dev, err := histogram.New(gen)
	if err != nil {
		return 0, err
	}
	if p.shift >= 0 {
		if uint(p.shift) > dev.MaxShift() {
			return 0, fmt.Errorf("shift %d above the %v maximum %d", p.shift, gen, dev.MaxShift())
		}
		return uint(p.shift), nil
	}
	return histogram.SelectShift(dev.MaxShift(), minCycles), nil
}

func writePrediction(w io.Writer, bins *histogram.Bins, params *ap.Params) error {
	pred := ap.Predict(bins, params)
	if pred.OK {
		fmt.Fprintf(w, "filter bin %d, threshold %d cycles, saving %dus, residency %d%%\n",
			pred.FilterX, pred.ThresholdCycles, pred.PowerSavingUs, pred.Residency)
	} else {
		fmt.Fprintf(w, "no filter, threshold %d cycles\n", params.MaxCycles)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BIN\tLOWER_CYCLES\tCOUNT\tSAVING_US\tRESIDENCY\t")
	for i := 0; i < histogram.NumBins; i++ {
		if bins[i] == 0 && !(pred.OK && pred.FilterX == i) {
			continue
		}
		mark := ""
		if pred.OK && pred.FilterX == i {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d%%\t%s\n", i, params.Bin0Cycles<<uint(i), bins[i],
			ap.PowerSavingUs(bins, params, i), ap.Residency(bins, params, i), mark)
	}
	return tw.Flush()
}
