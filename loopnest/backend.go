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

// LoopRange is one loop the visitor asks a backend to generate: a partition
// of the current loop's active range.
type LoopRange struct {
	// Index is the loop index.
	Index Index

	// Start, Stop and Step describe the partition [Start, Stop).
	Start int
	Stop  int
	Step  int

	// Parallel is set when the loop is parallelized and the partition has
	// at least two iterations.
	Parallel bool

	// Unrolled is set when the loop is unrolled.
	Unrolled bool

	// Captured holds the arguments of every kernel still pending at this
	// loop, for backends that privatize them per parallel worker.
	Captured []Value
}

// Range returns the partition as a Range.
func (r LoopRange) Range() Range {
	return Range{Begin: r.Start, End: r.Stop, Increment: r.Step}
}

// NumIterations returns the number of iterations of the partition.
func (r LoopRange) NumIterations() int { return r.Range().NumIterations() }

// LoopBody is the body of one generated loop. The backend calls it once per
// iteration with its handle for the loop value. Renames passed along apply
// only to kernels invoked within that iteration, which is how a parallel
// worker substitutes its private copies of the captured values.
type LoopBody func(index Scalar, renames ...RenameAction)

// Backend emits what the Visitor decides. Implementations include code
// generators and printers.
type Backend interface {
	// GenerateLoopRange emits a loop over r and calls body once per
	// iteration with the backend's handle for the loop value. Each call of
	// body may run concurrently when r.Parallel is set.
	GenerateLoopRange(r LoopRange, schedule LoopVisitSchedule, body LoopBody) error

	// EmitIndexExpression emits the computation of a computed index from
	// the loop indices in symbols and returns a handle to its value.
	EmitIndexExpression(index Index, expr IndexExpression, symbols SymbolTable) Scalar

	// InvokeKernel emits a call to k, guarded by predicate unless it is
	// always true.
	InvokeKernel(k ScheduledKernel, predicate Predicate, symbols SymbolTable, schedule LoopVisitSchedule) error

	// InvokeKernelGroup emits the alternatives in valid (the members of g
	// that may run here) as a first-true-wins cascade. It reports whether
	// anything was emitted.
	InvokeKernelGroup(g ScheduledKernelGroup, valid []ScheduledKernel, symbols SymbolTable, schedule LoopVisitSchedule) (bool, error)
}
