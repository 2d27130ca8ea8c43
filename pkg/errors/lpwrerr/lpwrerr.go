// Copyright 2021 The gVisor Authors.
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

// Package lpwrerr contains the status errors returned by the low-power
// engine. Callers wrap them with context using fmt.Errorf("...: %w", ...), and
// the command layer recovers the status with KindOf.
package lpwrerr

import (
	goerrors "errors"

	"lpwr.dev/lpwr/pkg/errors"
)

var (
	// Error is the generic failure status, e.g. executing a disabled
	// controller.
	Error = errors.New(errors.KindError, "generic error")

	// InvalidArgument is returned for unrecognized identifiers.
	InvalidArgument = errors.New(errors.KindInvalidArgument, "invalid argument")

	// InvalidState is returned when an object is initialized twice.
	InvalidState = errors.New(errors.KindInvalidState, "invalid state")

	// NotSupported is returned when a feature or its required sibling is
	// absent.
	NotSupported = errors.New(errors.KindNotSupported, "not supported")

	// OutOfMemory is returned when a one-time allocation does not fit the
	// allocation budget.
	OutOfMemory = errors.New(errors.KindOutOfMemory, "out of memory")
)

// KindOf returns the status kind carried by err. A nil error is KindOK and an
// error that does not wrap any *errors.Error is KindError.
func KindOf(err error) errors.Kind {
	if err == nil {
		return errors.KindOK
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Kind()
	}
	return errors.KindError
}
