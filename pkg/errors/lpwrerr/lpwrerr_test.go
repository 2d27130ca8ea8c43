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

package lpwrerr

import (
	goerrors "errors"
	"fmt"
	"testing"

	"lpwr.dev/lpwr/pkg/errors"
)

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want errors.Kind
	}{
		{"nil", nil, errors.KindOK},
		{"plain", goerrors.New("boom"), errors.KindError},
		{"sentinel", NotSupported, errors.KindNotSupported},
		{"wrapped", fmt.Errorf("controller 2: %w", InvalidState), errors.KindInvalidState},
		{"double wrapped", fmt.Errorf("init: %w", fmt.Errorf("alloc: %w", OutOfMemory)), errors.KindOutOfMemory},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("controller 1: %w", InvalidArgument)
	if !goerrors.Is(err, InvalidArgument) {
		t.Errorf("errors.Is(%v, InvalidArgument) = false", err)
	}
	if goerrors.Is(err, NotSupported) {
		t.Errorf("errors.Is(%v, NotSupported) = true", err)
	}
}
