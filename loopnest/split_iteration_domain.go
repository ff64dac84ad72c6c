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
	"io"

	"github.com/samber/lo"
)

// SplitIterationDomain is an IterationDomain whose dimensions may have been
// split. It keeps one SplitIndexRange per dimension and maps every index of
// every tree back to its dimension.
type SplitIterationDomain struct {
	dimensions []*SplitIndexRange

	// dimensionOf maps an index id to its position in dimensions.
	dimensionOf map[int]int
}

// NewSplitIterationDomain returns an unsplit domain over d.
func NewSplitIterationDomain(issuer *IndexIssuer, d IterationDomain) *SplitIterationDomain {
	sd := &SplitIterationDomain{dimensionOf: make(map[int]int)}
	for n, ir := range d.dimensions {
		sd.dimensions = append(sd.dimensions, NewSplitIndexRange(issuer, ir))
		sd.dimensionOf[ir.Index.ID()] = n
	}
	return sd
}

// Clone returns a deep copy.
func (d *SplitIterationDomain) Clone() *SplitIterationDomain {
	c := &SplitIterationDomain{dimensionOf: make(map[int]int, len(d.dimensionOf))}
	for _, dim := range d.dimensions {
		c.dimensions = append(c.dimensions, dim.Clone())
	}
	for id, n := range d.dimensionOf {
		c.dimensionOf[id] = n
	}
	return c
}

// NumDimensions returns the number of dimensions.
func (d *SplitIterationDomain) NumDimensions() int { return len(d.dimensions) }

// DimensionIndex returns the root index of dimension n.
func (d *SplitIterationDomain) DimensionIndex(n int) Index {
	return d.dimensions[n].DimensionIndex()
}

// Dimensions returns the unsplit dimensions in order.
func (d *SplitIterationDomain) Dimensions() []IndexRange {
	return lo.Map(d.dimensions, func(s *SplitIndexRange, _ int) IndexRange {
		return IndexRange{Index: s.DimensionIndex(), Range: s.DimensionRange()}
	})
}

// Contains reports whether index belongs to any dimension.
func (d *SplitIterationDomain) Contains(index Index) bool {
	_, ok := d.dimensionOf[index.ID()]
	return ok
}

// Dimension returns the position of the dimension index belongs to.
func (d *SplitIterationDomain) Dimension(index Index) (int, error) {
	n, ok := d.dimensionOf[index.ID()]
	if !ok {
		return -1, inputErrorf("index %s is not part of the domain", index)
	}
	return n, nil
}

// DimensionRange returns the split tree index belongs to.
func (d *SplitIterationDomain) DimensionRange(index Index) (*SplitIndexRange, error) {
	n, err := d.Dimension(index)
	if err != nil {
		return nil, err
	}
	return d.dimensions[n], nil
}

// BaseIndex returns the dimension index that index was derived from. An
// index outside the domain is returned unchanged.
func (d *SplitIterationDomain) BaseIndex(index Index) Index {
	n, ok := d.dimensionOf[index.ID()]
	if !ok {
		return index
	}
	return d.dimensions[n].DimensionIndex()
}

// SameDimension reports whether a and b belong to the same dimension.
func (d *SplitIterationDomain) SameDimension(a, b Index) bool {
	na, oka := d.dimensionOf[a.ID()]
	nb, okb := d.dimensionOf[b.ID()]
	return oka && okb && na == nb
}

// Split splits index (or its right-most leaf, if index was already split)
// and registers the new indices.
func (d *SplitIterationDomain) Split(index Index, size int) (SplitIndex, error) {
	n, err := d.Dimension(index)
	if err != nil {
		return SplitIndex{}, err
	}
	split, err := d.dimensions[n].SplitIndex(index, size)
	if err != nil {
		return SplitIndex{}, err
	}
	d.dimensionOf[split.Outer.ID()] = n
	d.dimensionOf[split.Inner.ID()] = n
	return split, nil
}

// IndexRange returns the range iterated by index.
func (d *SplitIterationDomain) IndexRange(index Index) (Range, error) {
	dim, err := d.DimensionRange(index)
	if err != nil {
		return Range{}, err
	}
	return dim.IndexRange(index)
}

// IsLoopIndex reports whether index is a leaf of its tree.
func (d *SplitIterationDomain) IsLoopIndex(index Index) bool {
	dim, err := d.DimensionRange(index)
	return err == nil && dim.IsLoopIndex(index)
}

// IsComputedIndex reports whether index is an interior node of its tree.
func (d *SplitIterationDomain) IsComputedIndex(index Index) bool {
	dim, err := d.DimensionRange(index)
	return err == nil && dim.IsComputedIndex(index)
}

// IsDimension reports whether index is the root of its tree.
func (d *SplitIterationDomain) IsDimension(index Index) bool {
	dim, err := d.DimensionRange(index)
	return err == nil && dim.IsDimension(index)
}

// AllLoopIndices returns the leaves of every dimension, dimension by
// dimension.
func (d *SplitIterationDomain) AllLoopIndices() []Index {
	return lo.FlatMap(d.dimensions, func(s *SplitIndexRange, _ int) []Index {
		return s.LoopIndices()
	})
}

// AllIndices returns every node of every dimension.
func (d *SplitIterationDomain) AllIndices() []Index {
	return lo.FlatMap(d.dimensions, func(s *SplitIndexRange, _ int) []Index {
		return s.AllIndices()
	})
}

// LoopIndicesForDimension returns the leaves of the tree rooted at dimension.
func (d *SplitIterationDomain) LoopIndicesForDimension(dimension Index) ([]Index, error) {
	dim, err := d.DimensionRange(dimension)
	if err != nil {
		return nil, err
	}
	return dim.LoopIndices(), nil
}

// ComputedIndicesForDimension returns the interior nodes of the tree rooted
// at dimension.
func (d *SplitIterationDomain) ComputedIndicesForDimension(dimension Index) ([]Index, error) {
	dim, err := d.DimensionRange(dimension)
	if err != nil {
		return nil, err
	}
	return dim.ComputedIndices(), nil
}

// DependentIndices forwards to the index's tree.
func (d *SplitIterationDomain) DependentIndices(index Index, includeSelf bool) ([]Index, error) {
	dim, err := d.DimensionRange(index)
	if err != nil {
		return nil, err
	}
	return dim.DependentIndices(index, includeSelf)
}

// DependentLoopIndices forwards to the index's tree.
func (d *SplitIterationDomain) DependentLoopIndices(index Index, includeSelf bool) ([]Index, error) {
	dim, err := d.DimensionRange(index)
	if err != nil {
		return nil, err
	}
	return dim.DependentLoopIndices(index, includeSelf)
}

// DependsOn reports whether a is computed from b. Indices of different
// dimensions never depend on each other.
func (d *SplitIterationDomain) DependsOn(a, b Index) bool {
	if !d.SameDimension(a, b) {
		return false
	}
	dim, _ := d.DimensionRange(a)
	return dim.DependsOn(a, b)
}

// HasParentIndex reports whether index is a non-root node.
func (d *SplitIterationDomain) HasParentIndex(index Index) bool {
	dim, err := d.DimensionRange(index)
	return err == nil && dim.HasParentIndex(index)
}

// ParentIndex forwards to the index's tree.
func (d *SplitIterationDomain) ParentIndex(index Index) (Index, error) {
	dim, err := d.DimensionRange(index)
	if err != nil {
		return Index{}, err
	}
	return dim.ParentIndex(index)
}

// OuterSplitIndex forwards to the index's tree.
func (d *SplitIterationDomain) OuterSplitIndex(parent Index) (Index, error) {
	dim, err := d.DimensionRange(parent)
	if err != nil {
		return Index{}, err
	}
	return dim.OuterSplitIndex(parent)
}

// InnerSplitIndex forwards to the index's tree.
func (d *SplitIterationDomain) InnerSplitIndex(parent Index) (Index, error) {
	dim, err := d.DimensionRange(parent)
	if err != nil {
		return Index{}, err
	}
	return dim.InnerSplitIndex(parent)
}

// IsOuterSplitIndex forwards to the index's tree.
func (d *SplitIterationDomain) IsOuterSplitIndex(index Index) bool {
	dim, err := d.DimensionRange(index)
	return err == nil && dim.IsOuterSplitIndex(index)
}

// IsInnerSplitIndex forwards to the index's tree.
func (d *SplitIterationDomain) IsInnerSplitIndex(index Index) bool {
	dim, err := d.DimensionRange(index)
	return err == nil && dim.IsInnerSplitIndex(index)
}

// Print writes one line per dimension.
func (d *SplitIterationDomain) Print(w io.Writer) error {
	for _, dim := range d.dimensions {
		if err := dim.Print(w); err != nil {
			return err
		}
	}
	return nil
}
