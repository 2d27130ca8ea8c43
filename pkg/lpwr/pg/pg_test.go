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

package pg

import "testing"

func TestSim(t *testing.T) {
	s := NewSim(FeatureGR, FeatureMS)
	if !s.Supported(FeatureGR) || s.Supported(FeatureDI) {
		t.Fatalf("Supported mismatch")
	}
	if s.IsFullPower(FeatureGR) {
		t.Errorf("supported features must start gated")
	}
	s.RequestWake(FeatureMS)
	if !s.WakeRequested(FeatureMS) || s.IsFullPower(FeatureMS) {
		t.Errorf("RequestWake must not complete the wake")
	}
	s.Wake(FeatureMS)
	if s.WakeRequested(FeatureMS) || !s.IsFullPower(FeatureMS) || s.Wakes(FeatureMS) != 1 {
		t.Errorf("Wake did not complete")
	}
	s.SetThreshold(FeatureGR, 100, 100)
	if got := s.Threshold(FeatureGR); got != (Threshold{100, 100}) || s.ThresholdWrites(FeatureGR) != 1 {
		t.Errorf("Threshold = %+v", got)
	}
}

func TestParseFeature(t *testing.T) {
	for f := Feature(0); f < NumFeatures; f++ {
		got, err := ParseFeature(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFeature(%q) = %v, %v", f.String(), got, err)
		}
	}
	if _, err := ParseFeature("nvlink"); err == nil {
		t.Errorf("ParseFeature(nvlink) succeeded")
	}
}
