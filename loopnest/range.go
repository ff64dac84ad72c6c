// Copyright 2025 go-highway Authors
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

package loopnest

import "fmt"

// Range is the half-open interval [Begin, End) visited with step Increment.
type Range struct {
	Begin     int
	End       int
	Increment int
}

// NewRange returns [begin, end) with increment 1.
func NewRange(begin, end int) Range {
	return Range{Begin: begin, End: end, Increment: 1}
}

// Size returns End - Begin.
func (r Range) Size() int { return r.End - r.Begin }

// NumIterations returns how many values the range visits, or 0 for an empty
// or malformed range.
func (r Range) NumIterations() int {
	if r.Increment <= 0 || r.Size() <= 0 {
		return 0
	}
	return ceilDiv(r.Size(), r.Increment)
}

// Remainder returns Size mod Increment: the length of the trailing partial
// step, or 0 when the increment divides the size.
func (r Range) Remainder() int {
	if r.Increment <= 0 {
		return 0
	}
	return r.Size() % r.Increment
}

// Last returns the final value the range visits.
func (r Range) Last() int {
	return r.Begin + (r.NumIterations()-1)*r.Increment
}

// Contains reports whether v is one of the values the range visits.
func (r Range) Contains(v int) bool {
	if r.NumIterations() == 0 || v < r.Begin || v >= r.End {
		return false
	}
	return (v-r.Begin)%r.Increment == 0
}

// Intersects reports whether the spans covered by the visited values of r
// and other overlap.
func (r Range) Intersects(other Range) bool {
	if r.NumIterations() == 0 || other.NumIterations() == 0 {
		return false
	}
	return r.Begin <= other.Last() && other.Begin <= r.Last()
}

// Validate checks that the range is well formed.
func (r Range) Validate() error {
	if r.Increment < 1 {
		return inputErrorf("range %v has increment %d, must be >= 1", r, r.Increment)
	}
	if r.End < r.Begin {
		return inputErrorf("range %v ends before it begins", r)
	}
	return nil
}

// String formats the range as [begin,end:increment).
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d:%d)", r.Begin, r.End, r.Increment)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
