// Copyright 2018 The gVisor Authors.
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

// Package cmd holds implementations of the apctl commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"lpwr.dev/lpwr/pkg/lpwr/histogram"
	"lpwr.dev/lpwr/pkg/lpwr/sim"
)

// binsFlag parses a comma-separated list of bin counts. Missing trailing
// bins are zero.
type binsFlag histogram.Bins

// String implements flag.Value.
func (b *binsFlag) String() string {
	last := -1
	for i, n := range b {
		if n != 0 {
			last = i
		}
	}
	parts := make([]string, 0, last+1)
	for _, n := range b[:last+1] {
		parts = append(parts, strconv.FormatUint(uint64(n), 10))
	}
	return strings.Join(parts, ",")
}

// Get implements flag.Getter.
func (b *binsFlag) Get() any {
	return histogram.Bins(*b)
}

// Set implements flag.Value.
func (b *binsFlag) Set(s string) error {
	var bins histogram.Bins
	if s != "" {
		parts := strings.Split(s, ",")
		if len(parts) > histogram.NumBins {
			return fmt.Errorf("%d bins given, the histogram has %d", len(parts), histogram.NumBins)
		}
		for i, p := range parts {
			// Counts saturate at BinMax, which is 16 bits.
			n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
			if err != nil {
				return fmt.Errorf("invalid count for bin %d: %v", i, err)
			}
			bins[i] = uint32(n)
		}
	}
	*b = binsFlag(bins)
	return nil
}

// loadTraces reads every trace named on the command line.
func loadTraces(paths []string) ([]*sim.Trace, error) {
	traces := make([]*sim.Trace, 0, len(paths))
	for _, p := range paths {
		t, err := sim.LoadTrace(p)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, nil
}

func stdoutOr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
