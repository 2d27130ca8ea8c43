// Copyright 2022 The gVisor Authors.
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
	"io"
	"regexp"

	"github.com/google/subcommands"
	dto "github.com/prometheus/client_model/go"
	"lpwr.dev/lpwr/apctl/cmd/util"
	"lpwr.dev/lpwr/apctl/config"
	"lpwr.dev/lpwr/pkg/lpwr/sim"
	"lpwr.dev/lpwr/pkg/lpwr/stats"
)

// MetricExport implements subcommands.Command for the "export-metrics" command.
type MetricExport struct {
	metricsFilter string

	// stdout defaults to os.Stdout.
	stdout io.Writer
}

// Name implements subcommands.Command.Name.
func (*MetricExport) Name() string {
	return "export-metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MetricExport) Synopsis() string {
	return "replay traces and export the controller counters"
}

// Usage implements subcommands.Command.Usage.
func (*MetricExport) Usage() string {
	return `export-metrics [-metrics-filter=<regexp>] <trace.yaml>... - prints the counters left by each replay in Prometheus metric format
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *MetricExport) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.metricsFilter, "metrics-filter", "", "If set, only export metrics whose name matches the specified regular expression.")
}

// Execute implements subcommands.Command.Execute.
func (m *MetricExport) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var filter *regexp.Regexp
	if m.metricsFilter != "" {
		var err error
		if filter, err = regexp.Compile(m.metricsFilter); err != nil {
			return util.Errorf("invalid metrics filter %q: %v", m.metricsFilter, err)
		}
	}
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

	sets := make([][]*dto.MetricFamily, 0, len(results))
	for _, res := range results {
		sets = append(sets, res.Snapshot.Families(stats.TraceLabel, res.Trace))
	}
	families := stats.Merge(sets...)
	if filter != nil {
		kept := families[:0]
		for _, mf := range families {
			if filter.MatchString(mf.GetName()) {
				kept = append(kept, mf)
			}
		}
		families = kept
	}
	if _, err := stats.WriteText(stdoutOr(m.stdout), families); err != nil {
		return util.Errorf("writing metrics: %v", err)
	}
	return subcommands.ExitSuccess
}
