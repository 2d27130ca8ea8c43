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
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"
	"lpwr.dev/lpwr/apctl/cmd/util"
	"lpwr.dev/lpwr/apctl/config"
	"lpwr.dev/lpwr/pkg/lpwr/sim"
)

// Simulate implements subcommands.Command for the "simulate" command.
type Simulate struct {
	output     string
	thresholds bool

	// stdout defaults to os.Stdout.
	stdout io.Writer
}

// Summary is the outcome of one controller over one trace.
type Summary struct {
	Trace      string `json:"trace"`
	Controller string `json:"controller"`
	Ticks      int    `json:"ticks"`

	FinalThresholdCycles uint64 `json:"final_threshold_cycles"`
	MinThresholdCycles   uint64 `json:"min_threshold_cycles"`

	Predictions       uint64 `json:"predictions"`
	DefaultThresholds uint32 `json:"default_thresholds"`
	BadDecisions      uint32 `json:"bad_decisions"`
	Executions        uint32 `json:"executions"`

	// Thresholds is the programmed threshold after every tick.
	Thresholds []uint64 `json:"thresholds,omitempty"`
}

type summaryFunc func(io.Writer, []Summary) error

var summaryOutputs = map[string]summaryFunc{
	"table": summaryTable,
	"json":  summaryJSON,
	"csv":   summaryCSV,
}

// Name implements subcommands.Command.Name.
func (*Simulate) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Simulate) Synopsis() string {
	return "replay idle traces through the adaptive power controllers"
}

// Usage implements subcommands.Command.Usage.
func (*Simulate) Usage() string {
	return `simulate [options] <trace.yaml>... - replays each trace on its own simulated chip and summarizes the thresholds picked.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Simulate) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, csv, json).")
	f.BoolVar(&s.thresholds, "thresholds", false, "Include the threshold programmed after every tick.")
}

// Execute implements subcommands.Command.Execute.
func (s *Simulate) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out, ok := summaryOutputs[s.output]
	if !ok {
		return util.Errorf("Unsupported output format %q", s.output)
	}
	conf := args[0].(*config.Config)

	sc, err := conf.SimConfig()
	if err != nil {
		return util.Errorf("%v", err)
	}
	traces, err := loadTraces(f.Args())
	if err != nil {
		return util.Errorf("%v", err)
	}
	results, err := sim.RunAll(ctx, sc, traces)
	if err != nil {
		return util.Errorf("simulation failed: %v", err)
	}
	if err := out(stdoutOr(s.stdout), summarize(results, s.thresholds)); err != nil {
		return util.Errorf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// summarize flattens results to one row per trace and controller.
func summarize(results []*sim.Result, thresholds bool) []Summary {
	var rows []Summary
	for _, res := range results {
		for _, st := range res.Snapshot.Controllers {
			row := Summary{
				Trace:             res.Trace,
				Controller:        st.ID.String(),
				Ticks:             res.Ticks,
				DefaultThresholds: st.DefaultThresholdCounter,
				BadDecisions:      st.BadDecisionCount,
				Executions:        st.Executions,
			}
			for _, n := range st.ThresholdCounter {
				row.Predictions += uint64(n)
			}
			ts := res.Thresholds[st.ID]
			if len(ts) > 0 {
				row.FinalThresholdCycles = ts[len(ts)-1]
				row.MinThresholdCycles = ts[0]
				for _, v := range ts {
					row.MinThresholdCycles = min(row.MinThresholdCycles, v)
				}
			}
			if thresholds {
				row.Thresholds = ts
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func summaryTable(w io.Writer, rows []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACE\tCONTROLLER\tTICKS\tFINAL\tMIN\tPREDICTIONS\tDEFAULTS\tBAD\tEXECUTIONS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Trace, r.Controller, r.Ticks, r.FinalThresholdCycles, r.MinThresholdCycles,
			r.Predictions, r.DefaultThresholds, r.BadDecisions, r.Executions)
		if len(r.Thresholds) > 0 {
			fmt.Fprintf(tw, "\t\tthresholds: %v\n", r.Thresholds)
		}
	}
	return tw.Flush()
}

func summaryJSON(w io.Writer, rows []Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func summaryCSV(w io.Writer, rows []Summary) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write([]string{"trace", "controller", "ticks", "final_threshold_cycles", "min_threshold_cycles", "predictions", "default_thresholds", "bad_decisions", "executions"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := csvWriter.Write([]string{
			r.Trace,
			r.Controller,
			strconv.Itoa(r.Ticks),
			strconv.FormatUint(r.FinalThresholdCycles, 10),
			strconv.FormatUint(r.MinThresholdCycles, 10),
			strconv.FormatUint(r.Predictions, 10),
			strconv.FormatUint(uint64(r.DefaultThresholds), 10),
			strconv.FormatUint(uint64(r.BadDecisions), 10),
			strconv.FormatUint(uint64(r.Executions), 10),
		}); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
