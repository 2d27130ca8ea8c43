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
	"fmt"

	"lpwr.dev/lpwr/pkg/errors/lpwrerr"
	"lpwr.dev/lpwr/pkg/log"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
)

// Allocation sizes charged against the registry budget.
const (
	ControllerBytes = 256
	ShadowBytes     = histogram.NumBins * 4
)

// Registry holds the controllers of one low-power context.
type Registry struct {
	clockMHz uint32

	// budget is the allocation budget in bytes, zero for unlimited.
	budget int
	used   int

	controllers [NumIDs]*Controller
}

// NewRegistry returns an empty registry for a monitored clock of clockMHz.
func NewRegistry(clockMHz uint32, budgetBytes int) (*Registry, error) {
	if clockMHz == 0 {
		return nil, fmt.Errorf("clock rate must be non-zero: %w", lpwrerr.InvalidArgument)
	}
	if budgetBytes < 0 {
		return nil, fmt.Errorf("negative allocation budget %d: %w", budgetBytes, lpwrerr.InvalidArgument)
	}
	return &Registry{clockMHz: clockMHz, budget: budgetBytes}, nil
}

// ClockMHz returns the monitored clock rate.
func (r *Registry) ClockMHz() uint32 {
	return r.clockMHz
}

// Used returns the bytes allocated so far.
func (r *Registry) Used() int {
	return r.used
}

// Init allocates controller id. The controller starts disabled with
// ReasonInit set.
func (r *Registry) Init(id ID, cfg Config, deps Deps) (*Controller, error) {
	if id >= NumIDs {
		return nil, fmt.Errorf("controller %v: %w", id, lpwrerr.NotSupported)
	}
	if r.controllers[id] != nil {
		return nil, fmt.Errorf("controller %v already initialized: %w", id, lpwrerr.InvalidState)
	}
	parent := features[id].parent
	if deps.Gate == nil || !deps.Gate.Supported(parent) {
		return nil, fmt.Errorf("controller %v: power gate feature %v: %w", id, parent, lpwrerr.NotSupported)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller %v: %v: %w", id, err, lpwrerr.InvalidArgument)
	}
	if deps.Device == nil || deps.Scheduler == nil {
		return nil, fmt.Errorf("controller %v: missing device or scheduler: %w", id, lpwrerr.InvalidArgument)
	}
	if deps.SamplingPeriodUs == 0 {
		return nil, fmt.Errorf("controller %v: sampling period must be non-zero: %w", id, lpwrerr.InvalidArgument)
	}
	size := ControllerBytes
	if deps.ShadowBins {
		size += ShadowBytes
	}
	if r.budget > 0 && r.used+size > r.budget {
		return nil, fmt.Errorf("controller %v needs %d bytes, %d of %d in use: %w", id, size, r.used, r.budget, lpwrerr.OutOfMemory)
	}
	r.used += size

	c := newController(id, r.clockMHz, cfg, deps)
	r.controllers[id] = c
	log.Infof("ap %v: initialized, threshold [%d, %d] cycles, sampling period %dus", id, c.idleThresholdMinCycles, c.idleThresholdMaxCycles, deps.SamplingPeriodUs)
	return c, nil
}

// Get returns controller id, or nil if it is not initialized.
func (r *Registry) Get(id ID) *Controller {
	if id >= NumIDs {
		return nil
	}
	return r.controllers[id]
}

// Controller returns controller id or an error if it is not initialized.
func (r *Registry) Controller(id ID) (*Controller, error) {
	c := r.Get(id)
	if c == nil {
		return nil, fmt.Errorf("controller %v not initialized: %w", id, lpwrerr.InvalidState)
	}
	return c, nil
}

// ForEach calls fn for every initialized controller in id order.
func (r *Registry) ForEach(fn func(c *Controller)) {
	for _, c := range r.controllers {
		if c != nil {
			fn(c)
		}
	}
}
