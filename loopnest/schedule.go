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
	"slices"

	"github.com/samber/lo"
)

// LoopInfo describes one loop of the schedule.
type LoopInfo struct {
	// Dimension is the dimension the loop belongs to.
	Dimension Index

	// IndexRange is the loop index and its full range.
	IndexRange IndexRange

	// BoundarySize is the size of the trailing partial iteration, or 0.
	BoundarySize int

	// Scale is the loop index's scale in computed indices.
	Scale int
}

// LoopVisitSchedule is a read-only cursor over a nest's loops, outermost
// first. Next and Prev return new cursors; a cursor is never modified.
type LoopVisitSchedule struct {
	nest  *LoopNest
	level int
	loops []LoopInfo
}

// Nest returns the loop nest being visited.
func (s LoopVisitSchedule) Nest() *LoopNest { return s.nest }

// Domain returns the nest's split iteration domain.
func (s LoopVisitSchedule) Domain() *SplitIterationDomain { return s.nest.domain }

// Level returns the nesting depth of the current loop, 0 outermost.
func (s LoopVisitSchedule) Level() int { return s.level }

// NumLoops returns the total number of loops.
func (s LoopVisitSchedule) NumLoops() int { return len(s.loops) }

// IsDone reports whether the cursor is past the innermost loop.
func (s LoopVisitSchedule) IsDone() bool { return s.level >= len(s.loops) }

// IsInnermostLoop reports whether the current loop is the innermost one.
func (s LoopVisitSchedule) IsInnermostLoop() bool { return s.level == len(s.loops)-1 }

// Front returns the current loop.
func (s LoopVisitSchedule) Front() LoopInfo { return s.loops[s.level] }

// CurrentLoopIndex returns the index of the current loop.
func (s LoopVisitSchedule) CurrentLoopIndex() Index { return s.Front().IndexRange.Index }

// CurrentDimension returns the dimension of the current loop.
func (s LoopVisitSchedule) CurrentDimension() Index { return s.Front().Dimension }

// DimensionSize returns the size of the current loop's dimension.
func (s LoopVisitSchedule) DimensionSize() int {
	r, _ := s.nest.domain.IndexRange(s.CurrentDimension())
	return r.Size()
}

// LoopRange returns the full range of the current loop.
func (s LoopVisitSchedule) LoopRange() Range { return s.Front().IndexRange.Range }

// LoopSize returns the size of the current loop's range.
func (s LoopVisitSchedule) LoopSize() int { return s.LoopRange().Size() }

// LoopIncrement returns the step of the current loop.
func (s LoopVisitSchedule) LoopIncrement() int { return s.LoopRange().Increment }

// LoopIndexScale returns the scale of the current loop index.
func (s LoopVisitSchedule) LoopIndexScale() int { return s.Front().Scale }

// EndBoundarySize returns the size of the current loop's trailing partial
// iteration, or 0 when the increment divides the loop size.
func (s LoopVisitSchedule) EndBoundarySize() int { return s.Front().BoundarySize }

// NonBoundaryEnd returns where the current loop's full iterations end.
func (s LoopVisitSchedule) NonBoundaryEnd() int {
	r := s.LoopRange()
	return r.End - r.Remainder()
}

// Next returns a cursor one loop further in. It fails once the cursor is
// done.
func (s LoopVisitSchedule) Next() (LoopVisitSchedule, error) {
	if s.IsDone() {
		return s, logicErrorf("schedule: Next called past the innermost loop")
	}
	s.level++
	return s, nil
}

// Prev returns a cursor one loop further out. It fails at the outermost
// loop.
func (s LoopVisitSchedule) Prev() (LoopVisitSchedule, error) {
	if s.level == 0 {
		return s, logicErrorf("schedule: Prev called at the outermost loop")
	}
	s.level--
	return s, nil
}

func (s LoopVisitSchedule) position(index Index) int {
	return slices.IndexFunc(s.loops, func(l LoopInfo) bool { return l.IndexRange.Index.Equal(index) })
}

// WillVisitIndex reports whether index is the current loop or a loop
// further in.
func (s LoopVisitSchedule) WillVisitIndex(index Index) bool {
	pos := s.position(index)
	return pos >= s.level
}

// WasIterationVariableDefined reports whether the loop over index encloses
// the current loop.
func (s LoopVisitSchedule) WasIterationVariableDefined(index Index) bool {
	pos := s.position(index)
	return pos >= 0 && pos < s.level
}

// IsFullyDefined reports whether every loop index that index depends on is
// the current loop or encloses it.
func (s LoopVisitSchedule) IsFullyDefined(index Index) bool {
	if !s.IsDone() && index.Equal(s.CurrentLoopIndex()) {
		return true
	}
	loops, err := s.nest.domain.DependentLoopIndices(index, true)
	if err != nil || len(loops) == 0 {
		return false
	}
	return lo.EveryBy(loops, func(l Index) bool {
		pos := s.position(l)
		return pos >= 0 && pos <= s.level
	})
}

// IsFullyDefinedByThisLoop reports whether index becomes fully defined at
// the current loop.
func (s LoopVisitSchedule) IsFullyDefinedByThisLoop(index Index) bool {
	if !s.IsFullyDefined(index) {
		return false
	}
	if s.level == 0 {
		return true
	}
	prev, _ := s.Prev()
	return !prev.IsFullyDefined(index)
}

// KernelPredicate returns the full condition under which k may run. It is
// the one place where legacy CodePositionConstraints are turned into
// predicates: required indices become All conjuncts, boundary indices (by
// default every loop index not otherwise mentioned) become First for
// prologue and body kernels and Last otherwise, and any loop index still
// unmentioned becomes First.
func (s LoopVisitSchedule) KernelPredicate(k ScheduledKernel) (Predicate, error) {
	domain := s.nest.domain

	mentioned := make(map[int]bool)
	var visitErr error
	k.Predicate.Visit(func(p Predicate) {
		switch p.kind {
		case KindFragment:
			loops, err := domain.DependentLoopIndices(p.index, true)
			if err != nil && visitErr == nil {
				visitErr = err
			}
			for _, l := range loops {
				mentioned[l.ID()] = true
			}
		case KindIndexDefined:
			if visitErr == nil {
				visitErr = logicErrorf("kernel %s: IsDefined predicate not implemented in kernel predicates", k.Kernel.ID)
			}
		}
	})
	if visitErr != nil {
		return Predicate{}, visitErr
	}
	if !k.Legacy {
		return k.Predicate.Simplify(), nil
	}

	terms := []Predicate{k.Predicate}
	constrained := make(map[int]bool)
	addCondition := func(index Index, f Fragment) error {
		loops, err := domain.DependentLoopIndices(index, true)
		if err != nil {
			return err
		}
		for _, l := range loops {
			terms = append(terms, FragmentOf(l, f))
			constrained[l.ID()] = true
		}
		return nil
	}

	for _, required := range k.Constraints.RequiredIndices {
		loops, err := domain.DependentLoopIndices(required, true)
		if err != nil {
			return Predicate{}, err
		}
		for _, l := range loops {
			if mentioned[l.ID()] {
				return Predicate{}, inputErrorf("kernel %s: constraint applied to index %s, which already has a predicate", k.Kernel.ID, l)
			}
		}
		if err := addCondition(required, FragmentAll); err != nil {
			return Predicate{}, err
		}
	}

	condition := FragmentLast
	if p := k.Constraints.Placement; p == FragmentPrologue || p == FragmentBody {
		condition = FragmentFirst
	}
	boundary := k.Constraints.BoundaryIndices
	if len(boundary) == 0 {
		boundary = lo.Filter(s.nest.loopSequence, func(l Index, _ int) bool {
			return !constrained[l.ID()] && !mentioned[l.ID()]
		})
	}
	for _, b := range boundary {
		if err := addCondition(b, condition); err != nil {
			return Predicate{}, err
		}
	}
	for _, l := range s.nest.loopSequence {
		if !constrained[l.ID()] && !mentioned[l.ID()] {
			terms = append(terms, First(l))
		}
	}
	return And(terms...).Simplify(), nil
}
