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

// Package pg defines the interface to the power-gate controllers that
// consume adaptive thresholds, and a host simulation of them.
package pg

import (
	"fmt"
	"strings"
)

// Feature identifies a power-gated feature.
type Feature uint8

// Power-gated features.
const (
	// FeatureGR is graphics engine power gating.
	FeatureGR Feature = iota

	// FeatureDI is the display-link deep idle state.
	FeatureDI

	// FeatureMS is memory-controller stutter. It is also the gating
	// subsystem that the callback scheduler waits on.
	FeatureMS

	// NumFeatures is the number of features.
	NumFeatures
)

var featureNames = [NumFeatures]string{
	FeatureGR: "gr",
	FeatureDI: "di",
	FeatureMS: "ms",
}

func (f Feature) String() string {
	if f < NumFeatures {
		return featureNames[f]
	}
	return fmt.Sprintf("Feature(%d)", uint8(f))
}

// ParseFeature parses the name produced by Feature.String.
func ParseFeature(s string) (Feature, error) {
	for f, name := range featureNames {
		if strings.EqualFold(s, name) {
			return Feature(f), nil
		}
	}
	return 0, fmt.Errorf("unknown power-gated feature %q", s)
}

// Gate is the power-gate controller as seen by the adaptive power engine.
type Gate interface {
	// Supported returns true if the feature is supported on this chip.
	Supported(f Feature) bool

	// IsFullPower returns true if the feature is currently ungated.
	IsFullPower(f Feature) bool

	// SetThreshold programs the idle and post-power-up thresholds in
	// cycles. Programming a gated feature can wake it.
	SetThreshold(f Feature, idleCycles, ppuCycles uint64)

	// PendingAction returns true if a deferred threshold update is
	// recorded for the feature.
	PendingAction(f Feature) bool

	// SetPendingAction records a deferred threshold update.
	SetPendingAction(f Feature)

	// ClearPendingAction clears the deferred threshold update flag.
	ClearPendingAction(f Feature)

	// RequestWake asks the feature to exit the power-gated state. The
	// wake completes asynchronously.
	RequestWake(f Feature)
}
