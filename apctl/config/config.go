// Copyright 2020 The gVisor Authors.
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

// Package config provides basic infrastructure to set configuration settings
// for apctl. Each setting that can be changed from the command line must have
// a corresponding flag. Controller tables and feature flags come from a TOML
// file.
package config

import (
	"fmt"

	"lpwr.dev/lpwr/pkg/log"
	"lpwr.dev/lpwr/pkg/lpwr"
	"lpwr.dev/lpwr/pkg/lpwr/ap"
	"lpwr.dev/lpwr/pkg/lpwr/histogram"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
	"lpwr.dev/lpwr/pkg/lpwr/sim"
)

// Config holds configuration that is not part of the trace files.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text, json or logrus.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// ClockMHz is the rate of the clock the histograms count.
	ClockMHz uint `flag:"clock-mhz"`

	// BasePeriodUs is the scheduler tick.
	BasePeriodUs uint `flag:"base-period-us"`

	// SACPolicy is the sleep-aware callback arbitration policy.
	SACPolicy sched.Policy `flag:"sac-policy"`

	// Generation is the simulated histogram hardware.
	Generation histogram.Generation `flag:"generation"`

	// AllocBudget is the controller heap in bytes. Zero is unlimited.
	AllocBudget int `flag:"alloc-budget"`

	// ConfigFile is the TOML file holding controller tables and feature
	// flags. Built-in defaults are used when it is empty.
	ConfigFile string `flag:"config"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'logrus'", c.LogFormat)
	}
	if c.ClockMHz == 0 || c.ClockMHz > 1<<32-1 {
		return fmt.Errorf("clock rate %dMHz out of range", c.ClockMHz)
	}
	if c.BasePeriodUs == 0 || c.BasePeriodUs > 1<<32-1 {
		return fmt.Errorf("base period %dus out of range", c.BasePeriodUs)
	}
	if c.AllocBudget < 0 {
		return fmt.Errorf("negative allocation budget %d", c.AllocBudget)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("ClockMHz: %d", c.ClockMHz)
	log.Infof("BasePeriodUs: %d", c.BasePeriodUs)
	log.Infof("SACPolicy: %v", c.SACPolicy)
	log.Infof("Generation: %v", c.Generation)
	log.Infof("AllocBudget: %d", c.AllocBudget)
	log.Infof("ConfigFile: %q", c.ConfigFile)
	log.Infof("Debug: %t", c.Debug)
	log.Infof("LogFormat: %s", c.LogFormat)
}

// Load resolves the controller tables and feature flags. The SAC policy
// always comes from the flags.
func (c *Config) Load() (*File, error) {
	f := DefaultFile()
	if c.ConfigFile != "" {
		var err error
		if f, err = LoadFile(c.ConfigFile); err != nil {
			return nil, err
		}
	}
	f.Features.SACPolicy = c.SACPolicy
	return f, nil
}

// SimConfig builds the replay configuration.
func (c *Config) SimConfig() (sim.Config, error) {
	f, err := c.Load()
	if err != nil {
		return sim.Config{}, err
	}
	controllers, err := f.ControllerConfigs()
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		ClockMHz:     uint32(c.ClockMHz),
		BasePeriodUs: uint32(c.BasePeriodUs),
		AllocBudget:  c.AllocBudget,
		Generation:   c.Generation,
		Features:     f.Features,
		Controllers:  enabledControllers(&f.Features, controllers),
	}, nil
}

// enabledControllers drops controllers whose feature flag is off.
func enabledControllers(features *lpwr.Features, in map[ap.ID]ap.Config) map[ap.ID]ap.Config {
	out := make(map[ap.ID]ap.Config, len(in))
	for id, cfg := range in {
		if features.Controller(id) {
			out[id] = cfg
		}
	}
	return out
}
