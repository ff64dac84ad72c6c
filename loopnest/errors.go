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

// Package loopnest schedules nested loops over an iteration domain and drives
// a code-emission backend through them.
//
// A LoopNest owns a SplitIterationDomain (one binary split tree per
// dimension), the kernels scheduled into it and the loop order. Kernel
// placement is described with a small Predicate algebra. A Visitor walks the
// loop schedule, partitions each loop so every kernel predicate is constant
// within a partition, and hands loops, index expressions and kernel
// invocations to a Backend.
//
// Usage:
//
//	ix := loopnest.NewIndexIssuer()
//	i, j := ix.New("i"), ix.New("j")
//	nest, _ := loopnest.New(ix, loopnest.NewIterationDomain(
//	    loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 64)},
//	    loopnest.IndexRange{Index: j, Range: loopnest.NewRange(0, 64)},
//	))
//	nest.Split(i, 8)
//	nest.AddKernel(kernel)
//	err := loopnest.NewVisitor(backend).Visit(nest)
package loopnest

import (
	"errors"
	"fmt"
)

var (
	// ErrInput reports misuse of the scheduling API: bad split sizes,
	// invalid loop orders, incompatible fused ranges and similar.
	ErrInput = errors.New("loopnest: invalid input")

	// ErrLogic reports an internal invariant violation or an operation that
	// is declared but not implemented.
	ErrLogic = errors.New("loopnest: logic error")
)

func inputErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}

func logicErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLogic, fmt.Sprintf(format, args...))
}
