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
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// LoopNest is a scheduled loop nest: a split iteration domain, the kernels
// to run in it and the order, parallelization and unrolling of its loops.
type LoopNest struct {
	name   string
	issuer *IndexIssuer
	domain *SplitIterationDomain

	// loopSequence is the loop order, outermost first.
	loopSequence []Index

	kernels      []ScheduledKernel
	parallelized []Index
	unrolled     []Index

	// renames is appended to by code generators while visiting parallel
	// loops, possibly from several workers.
	renamesMu sync.Mutex
	renames   []RenameAction
}

// Option configures a LoopNest.
type Option func(*LoopNest)

// WithName sets the name used for generated loops and debug output.
func WithName(name string) Option {
	return func(n *LoopNest) {
		n.name = name
	}
}

// New returns a loop nest over domain. Every index in domain must have been
// issued by issuer, which also names the indices created by splits.
func New(issuer *IndexIssuer, domain IterationDomain, opts ...Option) (*LoopNest, error) {
	if issuer == nil {
		return nil, inputErrorf("nil IndexIssuer")
	}
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	for _, ir := range domain.dimensions {
		if ir.Index.ID() > issuer.Issued() {
			return nil, inputErrorf("index %s was not issued by this IndexIssuer", ir.Index)
		}
	}
	n := &LoopNest{
		name:   "loopnest",
		issuer: issuer,
		domain: NewSplitIterationDomain(issuer, domain),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.initLoopSequence()
	return n, nil
}

// initLoopSequence interleaves the loop indices of every dimension round
// robin: the first loop of each dimension, then the second, and so on.
func (n *LoopNest) initLoopSequence() {
	queues := lo.Map(n.domain.dimensions, func(s *SplitIndexRange, _ int) []Index {
		return s.LoopIndices()
	})
	n.loopSequence = nil
	for {
		done := true
		for d := range queues {
			if len(queues[d]) == 0 {
				continue
			}
			n.loopSequence = append(n.loopSequence, queues[d][0])
			queues[d] = queues[d][1:]
			done = false
		}
		if done {
			return
		}
	}
}

// Name returns the nest's name.
func (n *LoopNest) Name() string { return n.name }

// Issuer returns the IndexIssuer the nest's indices come from.
func (n *LoopNest) Issuer() *IndexIssuer { return n.issuer }

// Domain returns the split iteration domain. Callers must not split it
// directly; use LoopNest.Split so the loop order stays in sync.
func (n *LoopNest) Domain() *SplitIterationDomain { return n.domain }

// NumDimensions returns the number of dimensions.
func (n *LoopNest) NumDimensions() int { return n.domain.NumDimensions() }

// KernelOption configures how AddKernel schedules a kernel.
type KernelOption func(*ScheduledKernel)

// WithFragment places the kernel with legacy constraints: the kernel's own
// indices are required and every other loop index gets the fragment's
// condition.
func WithFragment(ft FragmentType) KernelOption {
	return func(sk *ScheduledKernel) {
		sk.Legacy = true
		sk.Constraints = CodePositionConstraints{
			Placement:       ft,
			RequiredIndices: slices.Clone(sk.Kernel.Indices),
		}
	}
}

// WithConstraints places the kernel with explicit legacy constraints.
func WithConstraints(c CodePositionConstraints) KernelOption {
	return func(sk *ScheduledKernel) {
		sk.Legacy = true
		sk.Constraints = c
	}
}

// WithPredicate sets the condition under which the kernel runs.
func WithPredicate(p Predicate) KernelOption {
	return func(sk *ScheduledKernel) {
		sk.Predicate = p
	}
}

// WithPlacement sets where, relative to the surrounding loops, the kernel
// runs. Only placement and IsDefined predicates are valid here.
func WithPlacement(p Predicate) KernelOption {
	return func(sk *ScheduledKernel) {
		sk.Placement = p
	}
}

// AddKernel schedules k. Without options the kernel is unconstrained: it
// runs once per combination of the loops that define its indices.
func (n *LoopNest) AddKernel(k Kernel, opts ...KernelOption) error {
	if k.ID == "" {
		return inputErrorf("kernel has no id")
	}
	for _, i := range k.Indices {
		if !n.domain.Contains(i) {
			return inputErrorf("kernel %s uses index %s, which is not part of the loop nest", k.ID, i)
		}
	}
	sk := ScheduledKernel{Kernel: k}
	for _, opt := range opts {
		opt(&sk)
	}
	for _, p := range []Predicate{sk.Predicate, sk.Placement} {
		for _, i := range p.Indices() {
			if !n.domain.Contains(i) {
				return inputErrorf("kernel %s has a predicate on index %s, which is not part of the loop nest", k.ID, i)
			}
		}
	}
	for _, i := range slices.Concat(sk.Constraints.RequiredIndices, sk.Constraints.BoundaryIndices) {
		if !n.domain.Contains(i) {
			return inputErrorf("kernel %s is constrained on index %s, which is not part of the loop nest", k.ID, i)
		}
	}
	n.kernels = append(n.kernels, sk)
	return nil
}

// Kernels returns the scheduled kernels in the order they were added.
func (n *LoopNest) Kernels() []ScheduledKernel { return slices.Clone(n.kernels) }

// KernelGroups groups the scheduled kernels by id, in order of first
// appearance.
func (n *LoopNest) KernelGroups() []ScheduledKernelGroup {
	var groups []ScheduledKernelGroup
	for _, k := range n.kernels {
		pos := slices.IndexFunc(groups, func(g ScheduledKernelGroup) bool { return g.ID == k.Kernel.ID })
		if pos < 0 {
			groups = append(groups, ScheduledKernelGroup{ID: k.Kernel.ID})
			pos = len(groups) - 1
		}
		groups[pos].Kernels = append(groups[pos].Kernels, k)
	}
	return groups
}

// Split tiles index by size and returns the new outer and inner indices.
// If index was already split, its right-most leaf is split. In the loop
// order the split leaf is replaced by the outer index and the inner index
// is appended innermost.
func (n *LoopNest) Split(index Index, size int) (SplitIndex, error) {
	dim, err := n.domain.DimensionRange(index)
	if err != nil {
		return SplitIndex{}, err
	}
	target, err := dim.SplitTarget(index)
	if err != nil {
		return SplitIndex{}, err
	}
	split, err := n.domain.Split(index, size)
	if err != nil {
		return SplitIndex{}, fmt.Errorf("splitting %s by %d: %w", index, size, err)
	}
	pos := slices.IndexFunc(n.loopSequence, target.Equal)
	if pos < 0 {
		return SplitIndex{}, logicErrorf("split index %s is missing from the loop order", target)
	}
	n.loopSequence[pos] = split.Outer
	n.loopSequence = append(n.loopSequence, split.Inner)

	// Scheduling marks follow the outer half.
	n.parallelized = replaceIndex(n.parallelized, target, split.Outer)
	n.unrolled = replaceIndex(n.unrolled, target, split.Outer)
	return split, nil
}

func replaceIndex(list []Index, old, replacement Index) []Index {
	return lo.Map(list, func(i Index, _ int) Index {
		if i.Equal(old) {
			return replacement
		}
		return i
	})
}

// Parallelize marks the loop over index as parallel.
func (n *LoopNest) Parallelize(index Index) error {
	if !n.domain.IsLoopIndex(index) {
		return inputErrorf("cannot parallelize %s: not a loop index", index)
	}
	if n.IsUnrolled(index) {
		return inputErrorf("cannot parallelize %s: already unrolled", index)
	}
	if !n.IsParallelized(index) {
		n.parallelized = append(n.parallelized, index)
	}
	return nil
}

// ParallelizeBy splits index by factor and parallelizes the outer loop.
func (n *LoopNest) ParallelizeBy(index Index, factor int) (SplitIndex, error) {
	split, err := n.Split(index, factor)
	if err != nil {
		return SplitIndex{}, err
	}
	return split, n.Parallelize(split.Outer)
}

// Unroll marks the loop over index as unrolled.
func (n *LoopNest) Unroll(index Index) error {
	if !n.domain.IsLoopIndex(index) {
		return inputErrorf("cannot unroll %s: not a loop index", index)
	}
	if n.IsParallelized(index) {
		return inputErrorf("cannot unroll %s: already parallelized", index)
	}
	if !n.IsUnrolled(index) {
		n.unrolled = append(n.unrolled, index)
	}
	return nil
}

// UnrollBy splits index by factor and unrolls the outer loop.
func (n *LoopNest) UnrollBy(index Index, factor int) (SplitIndex, error) {
	split, err := n.Split(index, factor)
	if err != nil {
		return SplitIndex{}, err
	}
	return split, n.Unroll(split.Outer)
}

// IsParallelized reports whether the loop over index is parallel.
func (n *LoopNest) IsParallelized(index Index) bool {
	return slices.ContainsFunc(n.parallelized, index.Equal)
}

// IsUnrolled reports whether the loop over index is unrolled.
func (n *LoopNest) IsUnrolled(index Index) bool {
	return slices.ContainsFunc(n.unrolled, index.Equal)
}

// SetLoopOrder reorders the loops. order must have one entry per loop;
// each entry claims the next unclaimed loop index among the leaves it
// determines, so a dimension index may be repeated once per split. The
// outer half of a split must stay outside its inner half.
func (n *LoopNest) SetLoopOrder(order []Index) error {
	if len(order) != len(n.loopSequence) {
		return inputErrorf("loop order has %d entries, the nest has %d loops", len(order), len(n.loopSequence))
	}
	claimed := make(map[int]bool, len(order))
	sequence := make([]Index, 0, len(order))
	for _, index := range order {
		candidates, err := n.domain.DependentLoopIndices(index, true)
		if err != nil {
			return fmt.Errorf("loop order: %w", err)
		}
		next, ok := lo.Find(candidates, func(c Index) bool { return !claimed[c.ID()] })
		if !ok {
			return inputErrorf("loop order: no loop index left for %s", index)
		}
		claimed[next.ID()] = true
		sequence = append(sequence, next)
	}

	position := make(map[int]int, len(sequence))
	for pos, index := range sequence {
		position[index.ID()] = pos
	}
	for pos, index := range sequence {
		dim, err := n.domain.DimensionRange(index)
		if err != nil {
			return err
		}
		chain, _ := dim.AllParentIndices(index)
		chain = append([]Index{index}, chain...)
		for _, node := range chain {
			if !dim.IsInnerSplitIndex(node) {
				continue
			}
			parent, _ := dim.ParentIndex(node)
			outer, _ := dim.OuterSplitIndex(parent)
			outerLoops, _ := dim.DependentLoopIndices(outer, true)
			for _, ol := range outerLoops {
				if position[ol.ID()] > pos {
					return inputErrorf("loop order: %s must be outside %s", ol, index)
				}
			}
		}
	}
	n.loopSequence = sequence
	return nil
}

// LoopSequence returns the loop order, outermost first.
func (n *LoopNest) LoopSequence() []Index { return slices.Clone(n.loopSequence) }

// LoopIndexRanges returns the loop indices in loop order with their ranges.
func (n *LoopNest) LoopIndexRanges() []IndexRange {
	return lo.Map(n.loopSequence, func(i Index, _ int) IndexRange {
		r, _ := n.domain.IndexRange(i)
		return IndexRange{Index: i, Range: r}
	})
}

// IndexRange returns the range iterated by index.
func (n *LoopNest) IndexRange(index Index) (Range, error) {
	return n.domain.IndexRange(index)
}

// NumSplits returns the number of loop indices of the dimension index
// belongs to.
func (n *LoopNest) NumSplits(index Index) (int, error) {
	dim, err := n.domain.DimensionRange(index)
	if err != nil {
		return 0, err
	}
	return dim.NumSplits(), nil
}

// LoopIndex returns the level'th loop (in loop order) belonging to
// dimension.
func (n *LoopNest) LoopIndex(dimension Index, level int) (Index, error) {
	var loops []Index
	for _, i := range n.loopSequence {
		if n.domain.SameDimension(i, dimension) {
			loops = append(loops, i)
		}
	}
	if level < 0 || level >= len(loops) {
		return Index{}, inputErrorf("dimension %s has no loop at level %d", dimension, level)
	}
	return loops[level], nil
}

// LoopIndexScale returns the factor a loop index contributes to the
// indices computed from it. Split ranges already iterate in units of the
// dimension, so this is always 1.
func (n *LoopNest) LoopIndexScale(Index) int { return 1 }

// IndexExpression returns how index is computed from loop indices.
func (n *LoopNest) IndexExpression(index Index) (IndexExpression, error) {
	dim, err := n.domain.DimensionRange(index)
	if err != nil {
		return IndexExpression{}, err
	}
	loops, err := dim.DependentLoopIndices(index, true)
	if err != nil {
		return IndexExpression{}, err
	}
	expr := IndexExpression{
		Indices: lo.Map(loops, func(i Index, _ int) ScaledIndex {
			return ScaledIndex{Index: i, Scale: n.LoopIndexScale(i)}
		}),
	}
	if dim.IsDimension(index) && dim.IsComputedIndex(index) {
		expr.Begin = dim.DimensionRange().Begin
	}
	return expr, nil
}

// IsUsed reports whether any of kernels needs index, directly or through an
// index computed from it.
func (n *LoopNest) IsUsed(index Index, kernels []ScheduledKernel) bool {
	return lo.ContainsBy(kernels, func(k ScheduledKernel) bool {
		return lo.ContainsBy(k.Kernel.Indices, func(ki Index) bool {
			return ki.Equal(index) || n.domain.DependsOn(ki, index)
		})
	})
}

// RenameVariable substitutes newValue for oldValue in the arguments of every
// kernel not named in excluded, from the point where all of where are
// fully defined. Identical actions are recorded once and self renames are
// ignored. Safe for concurrent use.
func (n *LoopNest) RenameVariable(oldValue, newValue Value, where []Index, excluded []string) {
	if oldValue.Equal(newValue) {
		return
	}
	action := RenameAction{
		Old:             oldValue,
		New:             newValue,
		Where:           slices.Clone(where),
		ExcludedKernels: slices.Clone(excluded),
	}
	n.renamesMu.Lock()
	defer n.renamesMu.Unlock()
	if lo.ContainsBy(n.renames, func(a RenameAction) bool { return sameRename(a, action) }) {
		return
	}
	n.renames = append(n.renames, action)
}

func sameRename(a, b RenameAction) bool {
	return a.Old.Equal(b.Old) && a.New.Equal(b.New) &&
		slices.EqualFunc(a.Where, b.Where, Index.Equal) &&
		slices.Equal(a.ExcludedKernels, b.ExcludedKernels)
}

// RenameActions returns a snapshot of the registered rename actions.
func (n *LoopNest) RenameActions() []RenameAction {
	n.renamesMu.Lock()
	defer n.renamesMu.Unlock()
	return slices.Clone(n.renames)
}

// LoopSchedule returns a cursor at the outermost loop.
func (n *LoopNest) LoopSchedule() LoopVisitSchedule {
	loops := make([]LoopInfo, 0, len(n.loopSequence))
	for _, i := range n.loopSequence {
		r, _ := n.domain.IndexRange(i)
		loops = append(loops, LoopInfo{
			Dimension:    n.domain.BaseIndex(i),
			IndexRange:   IndexRange{Index: i, Range: r},
			BoundarySize: r.Remainder(),
			Scale:        n.LoopIndexScale(i),
		})
	}
	return LoopVisitSchedule{nest: n, loops: loops}
}

// Dump writes the domain, loop order and kernels for debugging.
func (n *LoopNest) Dump(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "LoopNest %s\n", n.name)
	if err := n.domain.Print(&sb); err != nil {
		return err
	}
	sb.WriteString("Loop order:")
	for _, i := range n.loopSequence {
		sb.WriteString(" " + i.Name())
		switch {
		case n.IsParallelized(i):
			sb.WriteString("(parallel)")
		case n.IsUnrolled(i):
			sb.WriteString("(unrolled)")
		}
	}
	sb.WriteString("\n")
	for _, k := range n.kernels {
		fmt.Fprintf(&sb, "Kernel %s", k.Kernel)
		if k.Legacy {
			fmt.Fprintf(&sb, " %s", k.Constraints.Placement)
		}
		if !k.Predicate.IsEmpty() {
			fmt.Fprintf(&sb, " if %s", k.Predicate)
		}
		if !k.Placement.IsEmpty() {
			fmt.Fprintf(&sb, " at %s", k.Placement)
		}
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
