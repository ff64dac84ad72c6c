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

// Package target describes the vector capabilities of the host, so that
// schedules can split loops by "vector" instead of a fixed size.
package target

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Level is a SIMD instruction set level.
type Level int

const (
	// Scalar indicates no SIMD.
	Scalar Level = iota

	// SSE2 is the x86-64 baseline (128-bit).
	SSE2

	// AVX2 has 256-bit vectors.
	AVX2

	// AVX512 has 512-bit vectors.
	AVX512

	// NEON is ARM Advanced SIMD (128-bit).
	NEON

	// SVE is ARM's scalable vector extension.
	SVE
)

func (l Level) String() string {
	switch l {
	case Scalar:
		return "scalar"
	case SSE2:
		return "sse2"
	case AVX2:
		return "avx2"
	case AVX512:
		return "avx512"
	case NEON:
		return "neon"
	case SVE:
		return "sve"
	default:
		return "unknown"
	}
}

// Target is a SIMD level and its vector width in bytes.
type Target struct {
	Level Level
	Width int
}

// ScalarTarget is used when SIMD is disabled. Widths stay at 16 bytes so
// split sizes derived from it remain reasonable.
var ScalarTarget = Target{Level: Scalar, Width: 16}

var host Target

func init() {
	if NoSimdEnv() {
		host = ScalarTarget
		return
	}
	host = detect()
}

// Host returns the target detected for the running machine.
func Host() Target { return host }

// NoSimdEnv reports whether LOOPNEST_NO_SIMD requests scalar code.
func NoSimdEnv() bool {
	val := os.Getenv("LOOPNEST_NO_SIMD")
	if val == "" {
		return false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return true
}

func (t Target) String() string {
	return fmt.Sprintf("%s (%d-bit)", t.Level, t.Width*8)
}

// VectorLanes returns how many elements of elemSize bytes fit in a vector.
func (t Target) VectorLanes(elemSize int) int {
	if elemSize <= 0 {
		return 0
	}
	return max(1, t.Width/elemSize)
}

// ResolveSize turns a split size from a schedule into a number. It accepts
// a positive integer, "vector" (the lane count for elemSize) or "vector*N".
func (t Target) ResolveSize(size string, elemSize int) (int, error) {
	size = strings.TrimSpace(size)
	if n, err := strconv.Atoi(size); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("target: split size %d must be positive", n)
		}
		return n, nil
	}
	rest, ok := strings.CutPrefix(size, "vector")
	if !ok {
		return 0, fmt.Errorf("target: invalid split size %q", size)
	}
	lanes := t.VectorLanes(elemSize)
	if lanes == 0 {
		return 0, fmt.Errorf("target: invalid element size %d", elemSize)
	}
	if rest == "" {
		return lanes, nil
	}
	factor, ok := strings.CutPrefix(strings.TrimSpace(rest), "*")
	if !ok {
		return 0, fmt.Errorf("target: invalid split size %q", size)
	}
	n, err := strconv.Atoi(strings.TrimSpace(factor))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("target: invalid vector multiple in %q", size)
	}
	return lanes * n, nil
}

var widths = map[Level]int{Scalar: 16, SSE2: 16, AVX2: 32, AVX512: 64, NEON: 16, SVE: 16}

// Parse returns the target for a level name as printed by Level.String,
// or the host target for "host" or "".
func Parse(name string) (Target, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "host" {
		return Host(), nil
	}
	for l, w := range widths {
		if l.String() == name {
			return Target{Level: l, Width: w}, nil
		}
	}
	return Target{}, fmt.Errorf("target: unknown level %q", name)
}
