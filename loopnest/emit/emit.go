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

// Package emit defines what a code generation target must provide to the
// loop nest code generator: scalar arithmetic, loops, a data-parallel
// fan-out, conditionals and kernel calls.
//
// Implementations live in the subpackages: interp executes the nest
// directly, gosrc writes Go source and llvmir builds LLVM IR. Every
// operation must accept loopnest.Const operands alongside the target's own
// scalars.
package emit

import (
	"github.com/ajroetker/go-loopnest/loopnest"
)

// Context is an emission target.
type Context interface {
	// Add returns a + b.
	Add(a, b loopnest.Scalar) loopnest.Scalar

	// Mul returns a * b.
	Mul(a, b loopnest.Scalar) loopnest.Scalar

	// Equal returns a == b as a boolean scalar.
	Equal(a, b loopnest.Scalar) loopnest.Scalar

	// NotEqual returns a != b as a boolean scalar.
	NotEqual(a, b loopnest.Scalar) loopnest.Scalar

	// And returns the conjunction of two boolean scalars.
	And(a, b loopnest.Scalar) loopnest.Scalar

	// Or returns the disjunction of two boolean scalars.
	Or(a, b loopnest.Scalar) loopnest.Scalar

	// ForRange emits a sequential loop over [start, stop) by step, calling
	// body with the loop variable.
	ForRange(name string, start, stop, step int, body func(index loopnest.Scalar) error) error

	// Parallelize emits count parallel tasks. Each task receives its
	// worker number in [0, count) and its own copies of captured.
	Parallelize(name string, count int, captured []loopnest.Value, body func(worker loopnest.Scalar, captured []loopnest.Value) error) error

	// If starts a conditional cascade; body runs (or is emitted) under
	// cond. The cascade must be finished with Else or End.
	If(cond loopnest.Scalar, body func() error) IfContext

	// Call invokes a kernel.
	Call(k loopnest.Kernel, args []loopnest.Value, indices []loopnest.Scalar) error
}

// IfContext continues a conditional cascade started by Context.If.
type IfContext interface {
	// ElseIf adds a branch taken when no earlier branch was.
	ElseIf(cond loopnest.Scalar, body func() error) IfContext

	// Else adds the final branch and closes the cascade.
	Else(body func() error) error

	// End closes the cascade without a final branch.
	End() error
}

// ConstValue returns the value of s if it is a compile-time constant.
func ConstValue(s loopnest.Scalar) (int, bool) {
	c, ok := s.(loopnest.Const)
	return int(c), ok
}

// Bool returns the boolean constant b as a scalar.
func Bool(b bool) loopnest.Const {
	if b {
		return 1
	}
	return 0
}
