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

package histogram

import "lpwr.dev/lpwr/pkg/cleanup"

// ModeGuard holds a device in a forced counter mode until Release.
type ModeGuard struct {
	cu cleanup.Cleanup
}

// ForceMode puts d in mode m unless d is already in a forced mode, and
// returns a guard that restores the previous mode. Callers must defer
// Release.
func ForceMode(d Device, m Mode) *ModeGuard {
	g := &ModeGuard{}
	prev := d.Mode()
	if prev.Forced() {
		return g
	}
	d.SetMode(m)
	g.cu = cleanup.Make(func() { d.SetMode(prev) })
	return g
}

// Release restores the mode captured by ForceMode. It is safe to call more
// than once.
func (g *ModeGuard) Release() {
	g.cu.Clean()
}
