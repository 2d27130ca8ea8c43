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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"

	"lpwr.dev/lpwr/pkg/lpwr/histogram"
	"lpwr.dev/lpwr/pkg/lpwr/sched"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, or logrus.")
	flagSet.Bool("debug", false, "enable debug logging.")

	// Flags that describe the simulated chip.
	flagSet.Uint("clock-mhz", 100, "rate of the clock counted by the idle histograms, in MHz.")
	flagSet.Uint("base-period-us", 100000, "scheduler tick, in microseconds.")
	flagSet.Var(policyPtr(sched.PolicyV2), "sac-policy", "sleep-aware callback policy: none, v1, v2 (default).")
	flagSet.Var(generationPtr(histogram.Gen2), "generation", "idle histogram hardware: gen1, gen2 (default).")
	flagSet.Int("alloc-budget", 0, "controller heap in bytes. Zero means unlimited.")
	flagSet.String("config", "", "TOML file with controller tables and feature flags. Built-in defaults are used if unset.")
}

// NewFromFlags creates a new Config with values coming from command line flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}

type policyValue sched.Policy

func policyPtr(p sched.Policy) *policyValue {
	v := policyValue(p)
	return &v
}

// Set implements flag.Value.
func (p *policyValue) Set(v string) error {
	policy, err := sched.ParsePolicy(v)
	if err != nil {
		return err
	}
	*p = policyValue(policy)
	return nil
}

// Get implements flag.Getter.
func (p *policyValue) Get() any {
	return sched.Policy(*p)
}

// String implements flag.Value.
func (p *policyValue) String() string {
	return sched.Policy(*p).String()
}

type generationValue histogram.Generation

func generationPtr(g histogram.Generation) *generationValue {
	v := generationValue(g)
	return &v
}

// Set implements flag.Value.
func (g *generationValue) Set(v string) error {
	gen, err := histogram.ParseGeneration(v)
	if err != nil {
		return err
	}
	*g = generationValue(gen)
	return nil
}

// Get implements flag.Getter.
func (g *generationValue) Get() any {
	return histogram.Generation(*g)
}

// String implements flag.Value.
func (g *generationValue) String() string {
	return histogram.Generation(*g).String()
}
