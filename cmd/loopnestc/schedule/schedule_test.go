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

package schedule

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/target"
)

const tiled = `
name: tiled
domain: [{index: i, begin: 0, end: 10}, {index: j, begin: 0, end: 8}]
splits: [{index: i, size: 4}, {index: j, size: vector}]
order: [i, j, i, j]
parallel: [i_1]
kernels:
  - {id: init, indices: [i, j], args: [C], predicate: "first(j)"}
  - {id: body, indices: [i, j], args: [A, C]}
renames:
  - {old: C, new: C_local, where: [i_1], excluded: [init]}
`

var neon = target.Target{Level: target.NEON, Width: 16}

func TestParseAndBuild(t *testing.T) {
	docs, err := Parse(strings.NewReader(tiled))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(t, "tiled", doc.Name)
	assert.Equal(t, []Split{{Index: "i", Size: "4"}, {Index: "j", Size: "vector"}}, doc.Splits)

	sched, err := doc.Build(neon, nil)
	require.NoError(t, err)
	nest := sched.Nest
	assert.Equal(t, "tiled", nest.Name())

	names := func(indices []loopnest.Index) []string {
		result := make([]string, len(indices))
		for n, i := range indices {
			result[n] = i.Name()
		}
		return result
	}
	// j is split by the 4 float32 lanes of a 128-bit vector.
	assert.Equal(t, []string{"i_1", "j_1", "i_2", "j_2"}, names(nest.LoopSequence()))
	jInner, err := nest.IndexRange(nest.LoopSequence()[3])
	require.NoError(t, err)
	assert.Equal(t, 4, jInner.Size())
	assert.True(t, nest.IsParallelized(nest.LoopSequence()[0]))

	assert.Equal(t, []string{"C", "A"}, valueNames(sched.Args))
	kernels := nest.Kernels()
	require.Len(t, kernels, 2)
	assert.Equal(t, "first(j)", kernels[0].Predicate.String())

	renames := nest.RenameActions()
	require.Len(t, renames, 1)
	assert.Equal(t, "C_local", renames[0].New.Name())
	assert.Equal(t, []string{"init"}, renames[0].ExcludedKernels)
}

func valueNames(values []loopnest.Value) []string {
	result := make([]string, len(values))
	for n, v := range values {
		result[n] = v.Name()
	}
	return result
}

func TestBuildWithBody(t *testing.T) {
	docs, err := Parse(strings.NewReader(tiled))
	require.NoError(t, err)
	var ids []string
	_, err = docs[0].Build(neon, func(k loopnest.Kernel) loopnest.KernelFunc {
		ids = append(ids, k.ID)
		return func([]loopnest.Value, []loopnest.Scalar) {}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "body"}, ids)
}

func TestParseMultipleDocuments(t *testing.T) {
	docs, err := Parse(strings.NewReader(`
name: a
domain: [{index: i, begin: 0, end: 4}]
kernels: [{id: k, indices: [i]}]
---
name: b
domain: [{index: i, begin: 0, end: 4}]
kernels: [{id: k, indices: [i], fragment: epilogue}]
`))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].Name)

	sched, err := docs[1].Build(neon, nil)
	require.NoError(t, err)
	k := sched.Nest.Kernels()[0]
	assert.True(t, k.Legacy)
	assert.Equal(t, loopnest.FragmentEpilogue, k.Constraints.Placement)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "name: x\ndomain: []\nkernels: []\nbogus: 1\n"},
		{"unknown split index", "domain: [{index: i, begin: 0, end: 4}]\nsplits: [{index: k, size: 2}]\nkernels: []\n"},
		{"bad split size", "domain: [{index: i, begin: 0, end: 4}]\nsplits: [{index: i, size: big}]\nkernels: []\n"},
		{"oversized split", "domain: [{index: i, begin: 0, end: 4}]\nsplits: [{index: i, size: 8}]\nkernels: []\n"},
		{"bad order", "domain: [{index: i, begin: 0, end: 4}, {index: j, begin: 0, end: 4}]\norder: [i]\nkernels: []\n"},
		{"parallel and unrolled", "domain: [{index: i, begin: 0, end: 4}]\nparallel: [i]\nunroll: [i]\nkernels: []\n"},
		{"bad predicate", "domain: [{index: i, begin: 0, end: 4}]\nkernels: [{id: k, indices: [i], predicate: 'first(q)'}]\n"},
		{"bad fragment", "domain: [{index: i, begin: 0, end: 4}]\nkernels: [{id: k, indices: [i], fragment: middle}]\n"},
		{"kernel without id", "domain: [{index: i, begin: 0, end: 4}]\nkernels: [{indices: [i]}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := Parse(strings.NewReader(tt.doc))
			if err != nil {
				return
			}
			_, err = docs[0].Build(neon, nil)
			assert.Error(t, err)
		})
	}

	_, err := Parse(strings.NewReader(""))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	docs, err := Parse(strings.NewReader(tiled))
	require.NoError(t, err)
	data, err := docs[0].Marshal()
	require.NoError(t, err)
	again, err := Parse(strings.NewReader(string(data)))
	require.NoError(t, err)
	if diff := cmp.Diff(docs[0], again[0]); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePredicate(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i, j := issuer.New("i"), issuer.New("j_1")
	lookup := func(name string) (loopnest.Index, bool) {
		switch name {
		case "i":
			return i, true
		case "j_1":
			return j, true
		}
		return loopnest.Index{}, false
	}

	tests := []struct {
		src  string
		want loopnest.Predicate
	}{
		{"first(i)", loopnest.First(i)},
		{"last(j_1)", loopnest.Last(j)},
		{"endBoundary(i)", loopnest.EndBoundary(i)},
		{"all(i)", loopnest.All(i)},
		{"IsDefined(i)", loopnest.IsDefined(i)},
		{"before(i)", loopnest.Before(i)},
		{"after()", loopnest.AfterNext()},
		{"before( )", loopnest.BeforeNext()},
		{"true", loopnest.True()},
		{"false", loopnest.False()},
		{"{}", loopnest.Empty()},
		{"first(i) && last(j_1)", loopnest.And(loopnest.First(i), loopnest.Last(j))},
		{"first(i) || last(j_1) && all(i)", loopnest.Or(loopnest.First(i), loopnest.And(loopnest.Last(j), loopnest.All(i)))},
		{"(first(i) || last(j_1)) && all(i)", loopnest.And(loopnest.Or(loopnest.First(i), loopnest.Last(j)), loopnest.All(i))},
		{"first(i) && last(j_1) && all(i)", loopnest.And(loopnest.First(i), loopnest.Last(j), loopnest.All(i))},
	}
	equal := cmp.Comparer(loopnest.Predicate.Equal)
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := ParsePredicate(tt.src, lookup)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, equal); diff != "" {
				t.Errorf("ParsePredicate(%q) mismatch:\n%s", tt.src, diff)
			}

			// Printing and parsing again gives the same predicate.
			again, err := ParsePredicate(got.String(), lookup)
			require.NoError(t, err)
			assert.True(t, got.Equal(again), "%s reparsed as %s", got, again)
		})
	}

	for _, src := range []string{"", "first(k)", "first()", "middle(i)", "first(i) &", "first(i) | last(i)", "(first(i)", "first(i))", "first(i) last(i)", "3"} {
		t.Run("error "+src, func(t *testing.T) {
			_, err := ParsePredicate(src, lookup)
			assert.Error(t, err)
		})
	}
}
