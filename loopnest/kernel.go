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

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is an opaque handle to a kernel argument (a buffer, a scalar
// variable, ...). Rename actions match arguments with Equal, so
// implementations must provide identity or structural equality.
type Value interface {
	Name() string
	Equal(other Value) bool
}

// Symbol is a Value identified by its name.
type Symbol string

// Name implements Value.
func (s Symbol) Name() string { return string(s) }

// Equal implements Value.
func (s Symbol) Equal(other Value) bool {
	o, ok := other.(Symbol)
	return ok && o == s
}

// Scalar is a backend-defined handle to a loop or index value: a constant,
// an SSA register, a source expression.
type Scalar interface {
	String() string
}

// Const is a Scalar known at schedule time. Every backend accepts it.
type Const int

// String implements Scalar.
func (c Const) String() string { return strconv.Itoa(int(c)) }

// KernelFunc is the body of a kernel. It receives the kernel's arguments
// after renaming and the values of its indices, in declaration order.
type KernelFunc func(args []Value, indices []Scalar)

// Kernel is a unit of work keyed to a subset of loop indices. Kernels that
// share an ID are alternative bodies for the same operation.
type Kernel struct {
	// ID groups alternative bodies.
	ID string

	// Name is used when printing or emitting a call. Defaults to ID.
	Name string

	// Args are the values the kernel reads and writes.
	Args []Value

	// Indices are the indices whose values the kernel receives.
	Indices []Index

	// Body runs the kernel. Backends that only emit code may leave it nil.
	Body KernelFunc
}

// NewKernel returns a kernel named after its id.
func NewKernel(id string, args []Value, indices []Index, body KernelFunc) Kernel {
	return Kernel{ID: id, Name: id, Args: args, Indices: indices, Body: body}
}

// DisplayName returns Name, or ID when Name is empty.
func (k Kernel) DisplayName() string {
	if k.Name != "" {
		return k.Name
	}
	return k.ID
}

// String formats the kernel as a call, e.g. "matmul(A, B, C; i, j, k)".
func (k Kernel) String() string {
	var sb strings.Builder
	sb.WriteString(k.DisplayName())
	sb.WriteString("(")
	for n, a := range k.Args {
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Name())
	}
	sb.WriteString("; ")
	for n, i := range k.Indices {
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(i.Name())
	}
	sb.WriteString(")")
	return sb.String()
}

// FragmentType is the legacy way of positioning a kernel within its loops.
type FragmentType int

const (
	FragmentPrologue FragmentType = iota
	FragmentBody
	FragmentBoundary
	FragmentEpilogue
)

// String implements fmt.Stringer.
func (f FragmentType) String() string {
	switch f {
	case FragmentPrologue:
		return "prologue"
	case FragmentBody:
		return "body"
	case FragmentBoundary:
		return "boundary"
	case FragmentEpilogue:
		return "epilogue"
	default:
		return fmt.Sprintf("FragmentType(%d)", int(f))
	}
}

// CodePositionConstraints is the legacy kernel placement model. It is
// converted into a Predicate by LoopVisitSchedule.KernelPredicate.
type CodePositionConstraints struct {
	// Placement selects prologue (first), body (first), boundary or
	// epilogue (last) iterations of the boundary indices.
	Placement FragmentType

	// RequiredIndices must be iterated in full around the kernel.
	RequiredIndices []Index

	// BoundaryIndices get the Placement condition. Empty means every loop
	// index not otherwise mentioned.
	BoundaryIndices []Index
}

// ScheduledKernel is a kernel together with where it may run.
type ScheduledKernel struct {
	Kernel Kernel

	// Legacy is set for kernels placed with CodePositionConstraints.
	Legacy bool

	Constraints CodePositionConstraints
	Predicate   Predicate
	Placement   Predicate
}

// ScheduledKernelGroup holds the alternative bodies sharing one kernel id,
// in the order they were added. At most one of them runs at any loop point.
type ScheduledKernelGroup struct {
	ID      string
	Kernels []ScheduledKernel
}

// RenameAction substitutes New for Old in the arguments of every kernel not
// listed in ExcludedKernels, once all Where indices are fully defined.
type RenameAction struct {
	Old             Value
	New             Value
	Where           []Index
	ExcludedKernels []string
}

// ScaledIndex is one term of an IndexExpression.
type ScaledIndex struct {
	Index Index
	Scale int
}

// IndexExpression computes an index as Begin + sum(Scale*Index).
type IndexExpression struct {
	Indices []ScaledIndex
	Begin   int
}

// String implements fmt.Stringer.
func (e IndexExpression) String() string {
	var sb strings.Builder
	for _, t := range e.Indices {
		sb.WriteString(t.Index.Name())
		if t.Scale != 1 {
			fmt.Fprintf(&sb, "*%d", t.Scale)
		}
		sb.WriteString(" + ")
	}
	sb.WriteString(strconv.Itoa(e.Begin))
	return sb.String()
}
