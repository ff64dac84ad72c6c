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

package nest

import (
	"github.com/ajroetker/go-loopnest/loopnest"
)

// Schedule shapes the loops of a Nest. Every operation creates the loop
// nest if needed and records its error on the Nest.
type Schedule struct {
	n *Nest
}

// Schedule returns the Nest's schedule.
func (n *Nest) Schedule() *Schedule { return &Schedule{n: n} }

func (s *Schedule) do(op string, index loopnest.Index, fn func(*loopnest.LoopNest) error) error {
	nest, err := s.n.LoopNest()
	if err != nil {
		return err
	}
	if err := fn(nest); err != nil {
		s.n.err = err
		return err
	}
	s.n.logger.Debug("schedule", "nest", nest.Name(), "op", op, "index", index.Name())
	return nil
}

// Split tiles index by factor. Splitting a dimension again splits its
// inner-most loop; pass the returned Inner to split the tile instead.
func (s *Schedule) Split(index loopnest.Index, factor int) (loopnest.SplitIndex, error) {
	var split loopnest.SplitIndex
	err := s.do("split", index, func(nest *loopnest.LoopNest) (err error) {
		split, err = nest.Split(index, factor)
		return err
	})
	return split, err
}

// Parallelize runs the loop of index in parallel.
func (s *Schedule) Parallelize(index loopnest.Index) error {
	return s.do("parallelize", index, func(nest *loopnest.LoopNest) error {
		return nest.Parallelize(index)
	})
}

// ParallelizeBy splits index by factor and parallelizes the outer loop.
func (s *Schedule) ParallelizeBy(index loopnest.Index, factor int) (loopnest.SplitIndex, error) {
	split, err := s.Split(index, factor)
	if err != nil {
		return loopnest.SplitIndex{}, err
	}
	return split, s.Parallelize(split.Outer)
}

// Unroll unrolls the loop of index.
func (s *Schedule) Unroll(index loopnest.Index) error {
	return s.do("unroll", index, func(nest *loopnest.LoopNest) error {
		return nest.Unroll(index)
	})
}

// UnrollBy splits index by factor and unrolls the outer loop.
func (s *Schedule) UnrollBy(index loopnest.Index, factor int) (loopnest.SplitIndex, error) {
	split, err := s.Split(index, factor)
	if err != nil {
		return loopnest.SplitIndex{}, err
	}
	return split, s.Unroll(split.Outer)
}

// SetOrder sets the loop order, outermost first. A dimension stands for
// its next loop not already claimed.
func (s *Schedule) SetOrder(indices ...loopnest.Index) error {
	var first loopnest.Index
	if len(indices) > 0 {
		first = indices[0]
	}
	return s.do("order", first, func(nest *loopnest.LoopNest) error {
		return nest.SetLoopOrder(indices)
	})
}

// Rename substitutes newValue for oldValue in the arguments of kernels
// other than excluded once every index of where is defined.
func (s *Schedule) Rename(oldValue, newValue loopnest.Value, where []loopnest.Index, excluded ...string) error {
	var first loopnest.Index
	if len(where) > 0 {
		first = where[0]
	}
	return s.do("rename", first, func(nest *loopnest.LoopNest) error {
		nest.RenameVariable(oldValue, newValue, where, excluded)
		return nil
	})
}
