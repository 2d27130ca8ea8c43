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

// Package errors holds the standardized error definition for the low-power
// engine.
package errors

import "fmt"

// Kind is the status class reported back to the command layer.
type Kind uint8

// Status classes. The values mirror the status codes returned to the host
// driver and must not be renumbered.
const (
	KindOK Kind = iota
	KindError
	KindInvalidArgument
	KindInvalidState
	KindNotSupported
	KindOutOfMemory
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindError:
		return "ERROR"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindNotSupported:
		return "NOT_SUPPORTED"
	case KindOutOfMemory:
		return "OUT_OF_MEMORY"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Error represents a status kind with a descriptive message.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:    kind,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Kind returns the underlying status kind.
func (e *Error) Kind() Kind { return e.kind }
