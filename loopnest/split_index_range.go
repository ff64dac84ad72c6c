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
	"strings"
)

// SplitIndex names the two halves produced by a split.
type SplitIndex struct {
	Outer Index
	Inner Index
}

// SplitIndexRange records every split applied to one dimension as a binary
// tree stored in parallel slices. Node 0 is the dimension's own index; the
// right child of node n is leftChild[n]+1. Leaves are the concrete loop
// indices, interior nodes are computed from the leaves below them.
type SplitIndexRange struct {
	issuer *IndexIssuer

	// indices[n] is the index at node n.
	indices []Index

	// ranges[n] is the range iterated by node n.
	ranges []Range

	// parent[n] is the parent node of n, or -1 for the root.
	parent []int

	// leftChild[n] is the outer child of n, or -1 for a leaf.
	leftChild []int
}

// NewSplitIndexRange returns an unsplit tree for the given dimension.
func NewSplitIndexRange(issuer *IndexIssuer, dimension IndexRange) *SplitIndexRange {
	return &SplitIndexRange{
		issuer:    issuer,
		indices:   []Index{dimension.Index},
		ranges:    []Range{dimension.Range},
		parent:    []int{-1},
		leftChild: []int{-1},
	}
}

// Clone returns a deep copy sharing the same issuer.
func (s *SplitIndexRange) Clone() *SplitIndexRange {
	return &SplitIndexRange{
		issuer:    s.issuer,
		indices:   append([]Index(nil), s.indices...),
		ranges:    append([]Range(nil), s.ranges...),
		parent:    append([]int(nil), s.parent...),
		leftChild: append([]int(nil), s.leftChild...),
	}
}

// DimensionIndex returns the index at the root of the tree.
func (s *SplitIndexRange) DimensionIndex() Index { return s.indices[0] }

// DimensionRange returns the range of the unsplit dimension.
func (s *SplitIndexRange) DimensionRange() Range { return s.ranges[0] }

// NumSplits returns the number of loop indices the dimension currently has:
// 1 for an unsplit dimension, growing by one with each split.
func (s *SplitIndexRange) NumSplits() int { return (len(s.indices) + 1) / 2 }

// Contains reports whether index is a node of this tree.
func (s *SplitIndexRange) Contains(index Index) bool { return s.node(index) >= 0 }

// IsLoopIndex reports whether index is a leaf.
func (s *SplitIndexRange) IsLoopIndex(index Index) bool {
	n := s.node(index)
	return n >= 0 && s.isLeaf(n)
}

// IsComputedIndex reports whether index is an interior node.
func (s *SplitIndexRange) IsComputedIndex(index Index) bool {
	n := s.node(index)
	return n >= 0 && !s.isLeaf(n)
}

// IsDimension reports whether index is the root of the tree.
func (s *SplitIndexRange) IsDimension(index Index) bool {
	return s.indices[0].Equal(index)
}

// IndexRange returns the range iterated by index.
func (s *SplitIndexRange) IndexRange(index Index) (Range, error) {
	n, err := s.mustNode(index)
	if err != nil {
		return Range{}, err
	}
	return s.ranges[n], nil
}

// AllIndices returns every node's index in node order.
func (s *SplitIndexRange) AllIndices() []Index {
	return append([]Index(nil), s.indices...)
}

// LoopIndices returns the leaves in node order.
func (s *SplitIndexRange) LoopIndices() []Index {
	var result []Index
	for n := range s.indices {
		if s.isLeaf(n) {
			result = append(result, s.indices[n])
		}
	}
	return result
}

// ComputedIndices returns the interior nodes in node order.
func (s *SplitIndexRange) ComputedIndices() []Index {
	var result []Index
	for n := range s.indices {
		if !s.isLeaf(n) {
			result = append(result, s.indices[n])
		}
	}
	return result
}

// Split splits the right-most leaf of the tree by size.
func (s *SplitIndexRange) Split(size int) (SplitIndex, error) {
	return s.splitNode(0, size)
}

// SplitIndex splits index by size. If index has already been split, its
// right-most leaf descendant is split instead.
func (s *SplitIndexRange) SplitIndex(index Index, size int) (SplitIndex, error) {
	n, err := s.mustNode(index)
	if err != nil {
		return SplitIndex{}, err
	}
	return s.splitNode(n, size)
}

// SplitTarget returns the leaf that SplitIndex(index, ...) would split.
func (s *SplitIndexRange) SplitTarget(index Index) (Index, error) {
	n, err := s.mustNode(index)
	if err != nil {
		return Index{}, err
	}
	return s.indices[s.rightmostLeaf(n)], nil
}

func (s *SplitIndexRange) splitNode(n int, size int) (SplitIndex, error) {
	target := s.rightmostLeaf(n)
	parentRange := s.ranges[target]
	if size < 1 {
		return SplitIndex{}, inputErrorf("split size %d for index %s must be positive", size, s.indices[target])
	}
	if size > parentRange.Size() {
		return SplitIndex{}, inputErrorf("split size %d exceeds the size %d of index %s", size, parentRange.Size(), s.indices[target])
	}

	dim := s.indices[0].Name()
	outer := s.issuer.New(fmt.Sprintf("%s_%d", dim, len(s.indices)))
	inner := s.issuer.New(fmt.Sprintf("%s_%d", dim, len(s.indices)+1))

	s.leftChild[target] = len(s.indices)
	s.indices = append(s.indices, outer, inner)
	s.ranges = append(s.ranges,
		Range{Begin: 0, End: parentRange.Size(), Increment: size},
		Range{Begin: 0, End: min(parentRange.Size(), size), Increment: parentRange.Increment},
	)
	s.parent = append(s.parent, target, target)
	s.leftChild = append(s.leftChild, -1, -1)
	return SplitIndex{Outer: outer, Inner: inner}, nil
}

// DependentIndices returns index (if includeSelf) and every index below it
// in breadth-first order.
func (s *SplitIndexRange) DependentIndices(index Index, includeSelf bool) ([]Index, error) {
	n, err := s.mustNode(index)
	if err != nil {
		return nil, err
	}
	var result []Index
	if includeSelf {
		result = append(result, index)
	}
	queue := s.children(n)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		result = append(result, s.indices[c])
		queue = append(queue, s.children(c)...)
	}
	return result, nil
}

// DependentLoopIndices returns the leaves that jointly determine index, in
// breadth-first order. A leaf determines itself when includeSelf is set.
func (s *SplitIndexRange) DependentLoopIndices(index Index, includeSelf bool) ([]Index, error) {
	n, err := s.mustNode(index)
	if err != nil {
		return nil, err
	}
	if s.isLeaf(n) {
		if includeSelf {
			return []Index{index}, nil
		}
		return nil, nil
	}
	var result []Index
	queue := s.children(n)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if s.isLeaf(c) {
			result = append(result, s.indices[c])
			continue
		}
		queue = append(queue, s.children(c)...)
	}
	return result, nil
}

// DependsOn reports whether the value of a is computed from b, that is,
// whether a is an ancestor of b. The dimension index depends on every
// index in the tree and no index depends on the dimension index.
func (s *SplitIndexRange) DependsOn(a, b Index) bool {
	if s.IsDimension(a) {
		return true
	}
	if s.IsDimension(b) {
		return false
	}
	na, nb := s.node(a), s.node(b)
	if na < 0 || nb < 0 {
		return false
	}
	for p := s.parent[nb]; p >= 0; p = s.parent[p] {
		if p == na {
			return true
		}
	}
	return false
}

// IsParentOf reports whether parent is the immediate parent of child.
func (s *SplitIndexRange) IsParentOf(parent, child Index) bool {
	np, nc := s.node(parent), s.node(child)
	return np >= 0 && nc > 0 && s.parent[nc] == np
}

// IsChildOf reports whether child is an immediate child of parent.
func (s *SplitIndexRange) IsChildOf(child, parent Index) bool {
	return s.IsParentOf(parent, child)
}

// HasParentIndex reports whether index is a known, non-root node.
func (s *SplitIndexRange) HasParentIndex(index Index) bool {
	return s.node(index) > 0
}

// ParentIndex returns the index that index was split from.
func (s *SplitIndexRange) ParentIndex(index Index) (Index, error) {
	n, err := s.mustNode(index)
	if err != nil {
		return Index{}, err
	}
	if n == 0 {
		return Index{}, inputErrorf("dimension index %s has no parent", index)
	}
	return s.indices[s.parent[n]], nil
}

// AllParentIndices returns the ancestors of index, nearest first.
func (s *SplitIndexRange) AllParentIndices(index Index) ([]Index, error) {
	n, err := s.mustNode(index)
	if err != nil {
		return nil, err
	}
	var result []Index
	for p := s.parent[n]; p >= 0; p = s.parent[p] {
		result = append(result, s.indices[p])
	}
	return result, nil
}

// ChildIndices returns the outer and inner index produced by splitting
// index.
func (s *SplitIndexRange) ChildIndices(index Index) ([]Index, error) {
	n, err := s.mustSplitNode(index)
	if err != nil {
		return nil, err
	}
	return []Index{s.indices[s.leftChild[n]], s.indices[s.leftChild[n]+1]}, nil
}

// OuterSplitIndex returns the outer index produced by splitting parent.
func (s *SplitIndexRange) OuterSplitIndex(parent Index) (Index, error) {
	n, err := s.mustSplitNode(parent)
	if err != nil {
		return Index{}, err
	}
	return s.indices[s.leftChild[n]], nil
}

// InnerSplitIndex returns the inner index produced by splitting parent.
func (s *SplitIndexRange) InnerSplitIndex(parent Index) (Index, error) {
	n, err := s.mustSplitNode(parent)
	if err != nil {
		return Index{}, err
	}
	return s.indices[s.leftChild[n]+1], nil
}

// IsOuterSplitIndex reports whether index is the outer half of a split.
func (s *SplitIndexRange) IsOuterSplitIndex(index Index) bool {
	n := s.node(index)
	return n > 0 && s.leftChild[s.parent[n]] == n
}

// IsInnerSplitIndex reports whether index is the inner half of a split.
func (s *SplitIndexRange) IsInnerSplitIndex(index Index) bool {
	n := s.node(index)
	return n > 0 && s.leftChild[s.parent[n]]+1 == n
}

// Print writes a one-line dump of the tree's computed indices.
func (s *SplitIndexRange) Print(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %v", s.indices[0], s.ranges[0])
	for n := range s.indices {
		if s.isLeaf(n) {
			continue
		}
		left := s.leftChild[n]
		fmt.Fprintf(&sb, "; %s = %s + %s", s.indices[n], s.indices[left], s.indices[left+1])
	}
	for n := range s.indices {
		if s.isLeaf(n) {
			fmt.Fprintf(&sb, "; %s: %v", s.indices[n], s.ranges[n])
		}
	}
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func (s *SplitIndexRange) node(index Index) int {
	for n, i := range s.indices {
		if i.Equal(index) {
			return n
		}
	}
	return -1
}

func (s *SplitIndexRange) mustNode(index Index) (int, error) {
	n := s.node(index)
	if n < 0 {
		return -1, inputErrorf("index %s is not part of dimension %s", index, s.indices[0])
	}
	return n, nil
}

func (s *SplitIndexRange) mustSplitNode(index Index) (int, error) {
	n, err := s.mustNode(index)
	if err != nil {
		return -1, err
	}
	if s.isLeaf(n) {
		return -1, inputErrorf("index %s has not been split", index)
	}
	return n, nil
}

func (s *SplitIndexRange) isLeaf(n int) bool { return s.leftChild[n] < 0 }

func (s *SplitIndexRange) children(n int) []int {
	if s.isLeaf(n) {
		return nil
	}
	return []int{s.leftChild[n], s.leftChild[n] + 1}
}

// rightmostLeaf follows inner children down from n.
func (s *SplitIndexRange) rightmostLeaf(n int) int {
	for !s.isLeaf(n) {
		n = s.leftChild[n] + 1
	}
	return n
}
