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

// Package util groups a bunch of common helper functions used by commands.
package util

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"lpwr.dev/lpwr/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages are
// consumed by the caller. Stderr is used when it is nil.
var ErrorLogger io.Writer

// Errorf logs error to the log and to ErrorLogger, and returns
// subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	writeError(format, args...)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	writeError(format, args...)
	// Return an error that is unlikely to be used by the application.
	os.Exit(128)
}

func writeError(format string, args ...any) {
	log.Warningf(format, args...)

	w := ErrorLogger
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "%s: %s\n", time.Now().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
}
