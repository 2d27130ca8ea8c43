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

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"lpwr.dev/lpwr/apctl/cmd/util"
	"lpwr.dev/lpwr/apctl/config"
)

// Config implements subcommands.Command for the "config" command.
type Config struct {
	// stdout defaults to os.Stdout.
	stdout io.Writer
}

// Name implements subcommands.Command.Name.
func (*Config) Name() string {
	return "config"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Config) Synopsis() string {
	return "print the resolved controller configuration"
}

// Usage implements subcommands.Command.Usage.
func (*Config) Usage() string {
	return `config - prints the controller tables and feature flags in TOML, after defaults are applied.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Config) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *Config) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	file, err := conf.Load()
	if err != nil {
		return util.Errorf("%v", err)
	}
	w := stdoutOr(c.stdout)
	fmt.Fprintf(w, "# sac-policy: %v\n", file.Features.SACPolicy)
	for _, fl := range conf.ToFlags() {
		fmt.Fprintf(w, "# %s\n", fl)
	}
	if err := toml.NewEncoder(w).Encode(file); err != nil {
		return util.Errorf("encoding configuration: %v", err)
	}
	return subcommands.ExitSuccess
}
