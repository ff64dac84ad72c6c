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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(indices []Index) []string {
	result := make([]string, len(indices))
	for n, i := range indices {
		result[n] = i.Name()
	}
	return result
}

func TestSplitIndexRangeNumSplits(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		sizes []int
	}{
		{name: "unsplit", size: 16},
		{name: "once", size: 16, sizes: []int{4}},
		{name: "twice", size: 64, sizes: []int{16, 4}},
		{name: "three times", size: 100, sizes: []int{32, 8, 2}},
		{name: "split by one", size: 7, sizes: []int{1}},
		{name: "split by full size", size: 7, sizes: []int{7, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := NewIndexIssuer()
			i := issuer.New("i")
			s := NewSplitIndexRange(issuer, IndexRange{Index: i, Range: NewRange(0, tt.size)})
			for _, size := range tt.sizes {
				_, err := s.Split(size)
				require.NoError(t, err)
			}
			assert.Equal(t, len(tt.sizes)+1, s.NumSplits())
			assert.Len(t, s.LoopIndices(), s.NumSplits())
			assert.Len(t, s.ComputedIndices(), len(tt.sizes))
			assert.Len(t, s.AllIndices(), 2*len(tt.sizes)+1)
			for _, l := range s.LoopIndices() {
				assert.True(t, s.IsLoopIndex(l), l.Name())
				assert.False(t, s.IsComputedIndex(l), l.Name())
			}
		})
	}
}

func TestSplitIndexRangeRanges(t *testing.T) {
	issuer := NewIndexIssuer()
	i := issuer.New("i")
	s := NewSplitIndexRange(issuer, IndexRange{Index: i, Range: NewRange(0, 10)})

	split, err := s.Split(4)
	require.NoError(t, err)
	assert.Equal(t, "i_1", split.Outer.Name())
	assert.Equal(t, "i_2", split.Inner.Name())

	outer, err := s.IndexRange(split.Outer)
	require.NoError(t, err)
	inner, err := s.IndexRange(split.Inner)
	require.NoError(t, err)
	assert.Equal(t, Range{Begin: 0, End: 10, Increment: 4}, outer)
	assert.Equal(t, Range{Begin: 0, End: 4, Increment: 1}, inner)

	// Splitting the dimension again splits its right-most leaf.
	split2, err := s.Split(2)
	require.NoError(t, err)
	parent, err := s.ParentIndex(split2.Outer)
	require.NoError(t, err)
	assert.True(t, parent.Equal(split.Inner))
	r, err := s.IndexRange(split2.Outer)
	require.NoError(t, err)
	assert.Equal(t, Range{Begin: 0, End: 4, Increment: 2}, r)
	r, err = s.IndexRange(split2.Inner)
	require.NoError(t, err)
	assert.Equal(t, Range{Begin: 0, End: 2, Increment: 1}, r)

	if diff := cmp.Diff([]string{"i_1", "i_3", "i_4"}, names(s.LoopIndices())); diff != "" {
		t.Errorf("LoopIndices mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"i", "i_2"}, names(s.ComputedIndices())); diff != "" {
		t.Errorf("ComputedIndices mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitIndexRangeErrors(t *testing.T) {
	issuer := NewIndexIssuer()
	i := issuer.New("i")
	other := issuer.New("other")
	s := NewSplitIndexRange(issuer, IndexRange{Index: i, Range: NewRange(0, 8)})

	tests := []struct {
		name string
		fn   func() error
	}{
		{"zero size", func() error { _, err := s.Split(0); return err }},
		{"negative size", func() error { _, err := s.Split(-2); return err }},
		{"size exceeds range", func() error { _, err := s.Split(9); return err }},
		{"unknown index", func() error { _, err := s.SplitIndex(other, 2); return err }},
		{"parent of root", func() error { _, err := s.ParentIndex(i); return err }},
		{"outer of unsplit", func() error { _, err := s.OuterSplitIndex(i); return err }},
		{"inner of unsplit", func() error { _, err := s.InnerSplitIndex(i); return err }},
		{"range of unknown", func() error { _, err := s.IndexRange(other); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.fn(), ErrInput)
		})
	}
	assert.Equal(t, 1, s.NumSplits(), "failed splits must not change the tree")
}

func TestSplitIndexRangeSplitTooLargeForLeaf(t *testing.T) {
	issuer := NewIndexIssuer()
	i := issuer.New("i")
	s := NewSplitIndexRange(issuer, IndexRange{Index: i, Range: NewRange(0, 64)})
	_, err := s.Split(16)
	require.NoError(t, err)

	// The right-most leaf is the inner index, of size 16.
	_, err = s.SplitIndex(i, 32)
	assert.ErrorIs(t, err, ErrInput)
	_, err = s.SplitIndex(i, 8)
	assert.NoError(t, err)
}

func TestSplitIndexRangeNavigation(t *testing.T) {
	issuer := NewIndexIssuer()
	i := issuer.New("i")
	s := NewSplitIndexRange(issuer, IndexRange{Index: i, Range: NewRange(0, 64)})
	first, err := s.Split(16)
	require.NoError(t, err)
	second, err := s.SplitIndex(first.Inner, 4)
	require.NoError(t, err)

	deps, err := s.DependentLoopIndices(i, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"i_1", "i_3", "i_4"}, names(deps))

	deps, err = s.DependentLoopIndices(first.Inner, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"i_3", "i_4"}, names(deps))

	deps, err = s.DependentLoopIndices(second.Inner, false)
	require.NoError(t, err)
	assert.Empty(t, deps)

	all, err := s.DependentIndices(i, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"i_1", "i_2", "i_3", "i_4"}, names(all))

	assert.True(t, s.DependsOn(i, second.Inner))
	assert.True(t, s.DependsOn(first.Inner, second.Outer))
	assert.False(t, s.DependsOn(second.Outer, first.Inner))
	assert.False(t, s.DependsOn(first.Outer, i))
	assert.False(t, s.DependsOn(first.Outer, second.Inner))

	assert.True(t, s.IsParentOf(first.Inner, second.Outer))
	assert.True(t, s.IsChildOf(second.Inner, first.Inner))
	assert.False(t, s.IsParentOf(i, second.Outer))

	assert.True(t, s.IsOuterSplitIndex(first.Outer))
	assert.True(t, s.IsInnerSplitIndex(first.Inner))
	assert.False(t, s.IsInnerSplitIndex(i))
	assert.False(t, s.HasParentIndex(i))
	assert.True(t, s.HasParentIndex(second.Inner))

	parents, err := s.AllParentIndices(second.Inner)
	require.NoError(t, err)
	assert.Equal(t, []string{"i_2", "i"}, names(parents))

	children, err := s.ChildIndices(first.Inner)
	require.NoError(t, err)
	assert.Equal(t, []string{"i_3", "i_4"}, names(children))

	outer, err := s.OuterSplitIndex(i)
	require.NoError(t, err)
	assert.True(t, outer.Equal(first.Outer))
	inner, err := s.InnerSplitIndex(first.Inner)
	require.NoError(t, err)
	assert.True(t, inner.Equal(second.Inner))
}

func TestSplitIterationDomain(t *testing.T) {
	issuer := NewIndexIssuer()
	i, j := issuer.New("i"), issuer.New("j")
	d := NewSplitIterationDomain(issuer, NewIterationDomain(
		IndexRange{Index: i, Range: NewRange(0, 8)},
		IndexRange{Index: j, Range: NewRange(0, 6)},
	))
	split, err := d.Split(j, 3)
	require.NoError(t, err)

	assert.Equal(t, 2, d.NumDimensions())
	assert.True(t, d.BaseIndex(split.Inner).Equal(j))
	assert.True(t, d.SameDimension(split.Outer, j))
	assert.False(t, d.SameDimension(i, split.Outer))
	assert.False(t, d.DependsOn(i, split.Outer))
	assert.True(t, d.DependsOn(j, split.Outer))
	assert.True(t, d.IsComputedIndex(j))
	assert.True(t, d.IsLoopIndex(i))
	assert.Equal(t, []string{"i", "j_1", "j_2"}, names(d.AllLoopIndices()))

	dim, err := d.Dimension(split.Inner)
	require.NoError(t, err)
	assert.Equal(t, 1, dim)

	computed, err := d.ComputedIndicesForDimension(j)
	require.NoError(t, err)
	assert.Equal(t, []string{"j"}, names(computed))

	clone := d.Clone()
	_, err = clone.Split(i, 2)
	require.NoError(t, err)
	assert.Len(t, d.AllLoopIndices(), 3, "splitting a clone must not change the original")
	assert.Len(t, clone.AllLoopIndices(), 4)

	_, err = d.Dimension(issuer.New("k"))
	assert.ErrorIs(t, err, ErrInput)
}

func TestIterationDomainValidate(t *testing.T) {
	issuer := NewIndexIssuer()
	i := issuer.New("i")
	tests := []struct {
		name    string
		domain  IterationDomain
		wantErr bool
	}{
		{"valid", NewIterationDomain(IndexRange{Index: i, Range: NewRange(0, 4)}), false},
		{"duplicate", NewIterationDomain(
			IndexRange{Index: i, Range: NewRange(0, 4)},
			IndexRange{Index: i, Range: NewRange(0, 4)}), true},
		{"invalid index", NewIterationDomain(IndexRange{Range: NewRange(0, 4)}), true},
		{"zero increment", NewIterationDomain(IndexRange{Index: i, Range: Range{End: 4}}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.domain.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRange(t *testing.T) {
	r := Range{Begin: 0, End: 10, Increment: 4}
	assert.Equal(t, 10, r.Size())
	assert.Equal(t, 3, r.NumIterations())
	assert.Equal(t, 2, r.Remainder())
	assert.Equal(t, 8, r.Last())
	assert.True(t, r.Contains(4))
	assert.False(t, r.Contains(5))
	assert.True(t, r.Intersects(NewRange(8, 12)))
	assert.False(t, r.Intersects(NewRange(9, 12)))
	assert.False(t, r.Intersects(NewRange(10, 12)))
	assert.Equal(t, "[0,10:4)", r.String())
	assert.Equal(t, 0, Range{Begin: 3, End: 3, Increment: 1}.NumIterations())
}
