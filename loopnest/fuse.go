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

// Fuse merges two loop nests into one whose domain is the union of their
// dimensions. Dimensions present in both must iterate the same range.
//
// nest1's kernels run during the first iteration of every dimension they do
// not share with nest2's kernels, and nest2's kernels during the last one:
// each nest1 kernel gains First(i) for every index in deps1, every dimension
// only nest2 has and every dimension none of nest1's kernels use; nest2's
// kernels gain Last(i) symmetrically. Splits and scheduling marks are not
// carried over; schedule the fused nest afterwards.
func Fuse(nest1, nest2 *LoopNest, deps1, deps2 []Index, opts ...Option) (*LoopNest, error) {
	if nest1.issuer != nest2.issuer {
		return nil, inputErrorf("fusing %s and %s: nests use different IndexIssuers", nest1.name, nest2.name)
	}

	dims1 := nest1.domain.Dimensions()
	dims2 := nest2.domain.Dimensions()
	fused := slices.Clone(dims1)
	for _, d2 := range dims2 {
		d1, found := lo.Find(dims1, func(d IndexRange) bool { return d.Index.Equal(d2.Index) })
		if !found {
			fused = append(fused, d2)
			continue
		}
		if d1.Range != d2.Range {
			return nil, inputErrorf("fusing %s and %s: index %s has ranges %v and %v", nest1.name, nest2.name, d2.Index, d1.Range, d2.Range)
		}
	}

	opts = append([]Option{WithName(nest1.name + "_" + nest2.name)}, opts...)
	result, err := New(nest1.issuer, NewIterationDomain(fused...), opts...)
	if err != nil {
		return nil, err
	}
	for _, d := range slices.Concat(deps1, deps2) {
		if !result.domain.Contains(d) {
			return nil, inputErrorf("fusing %s and %s: dependent index %s is not a dimension of either nest", nest1.name, nest2.name, d)
		}
	}

	tags1 := fuseTags(fused, dims2, nest1, deps1)
	tags2 := fuseTags(fused, dims1, nest2, deps2)
	if err := addFusedKernels(result, nest1, tags1, First); err != nil {
		return nil, err
	}
	if err := addFusedKernels(result, nest2, tags2, Last); err != nil {
		return nil, err
	}
	return result, nil
}

// fuseTags returns the fused dimensions that nest's kernels must be pinned
// to, in fused order.
func fuseTags(fused, other []IndexRange, nest *LoopNest, deps []Index) []Index {
	used := make(map[int]bool)
	for _, k := range nest.kernels {
		for _, i := range k.Kernel.Indices {
			used[nest.domain.BaseIndex(i).ID()] = true
		}
	}
	var tags []Index
	for _, d := range fused {
		i := d.Index
		onlyOther := !nest.domain.Contains(i) && lo.ContainsBy(other, func(o IndexRange) bool { return o.Index.Equal(i) })
		if onlyOther || !used[i.ID()] || slices.ContainsFunc(deps, i.Equal) {
			tags = append(tags, i)
		}
	}
	return tags
}

func addFusedKernels(result, nest *LoopNest, tags []Index, pin func(Index) Predicate) error {
	for _, k := range nest.kernels {
		terms := []Predicate{k.Predicate}
		for _, t := range tags {
			terms = append(terms, pin(t))
		}
		opts := []KernelOption{WithPredicate(And(terms...)), WithPlacement(k.Placement)}
		if k.Legacy {
			opts = append(opts, WithConstraints(k.Constraints))
		}
		if err := result.AddKernel(k.Kernel, opts...); err != nil {
			return err
		}
	}
	return nil
}
