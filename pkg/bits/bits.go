// Copyright 2018 The gVisor Authors.
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

// Package bits includes all bit related types and operations used by the
// low-power engine: callback masks, disable-reason masks and histogram bin
// arithmetic.
package bits

import "math/bits"

// IsOn32 returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn32(mask, bits uint32) bool {
	return mask&bits == bits
}

// IsAnyOn32 returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn32(mask, bits uint32) bool {
	return mask&bits != 0
}

// Mask32 returns a uint32 with all of the given bits set.
func Mask32(is ...int) uint32 {
	ret := uint32(0)
	for _, i := range is {
		ret |= MaskOf32(i)
	}
	return ret
}

// MaskOf32 is like Mask32, but sets only a single bit (more efficiently).
func MaskOf32(i int) uint32 {
	return uint32(1) << uint32(i)
}

// TrailingZeros32 returns the number of trailing zero bits in x; the result is
// 32 for x == 0.
func TrailingZeros32(x uint32) int {
	return bits.TrailingZeros32(x)
}

// MostSignificantOne64 returns the index of the most significant 1 bit in
// x. If x is 0, MostSignificantOne64 returns 64.
func MostSignificantOne64(x uint64) int {
	if x == 0 {
		return 64
	}
	return 63 - bits.LeadingZeros64(x)
}

// ForEachSetBit32 calls f once for each set bit in x, with argument i equal to
// the set bit's index, lowest index first.
func ForEachSetBit32(x uint32, f func(i int)) {
	for x != 0 {
		i := TrailingZeros32(x)
		f(i)
		x &^= MaskOf32(i)
	}
}

// IsPowerOfTwo64 returns true if x is a power of two.
func IsPowerOfTwo64(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}
