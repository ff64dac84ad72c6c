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
	"strings"
)

// IndexRange pairs an index with the range it iterates over.
type IndexRange struct {
	Index Index
	Range Range
}

// String implements fmt.Stringer.
func (ir IndexRange) String() string {
	return fmt.Sprintf("%s: %v", ir.Index, ir.Range)
}

// IterationDomain is an ordered list of dimensions, one IndexRange each.
type IterationDomain struct {
	dimensions []IndexRange
}

// NewIterationDomain returns a domain over the given dimensions, in order.
func NewIterationDomain(dimensions ...IndexRange) IterationDomain {
	return IterationDomain{dimensions: append([]IndexRange(nil), dimensions...)}
}

// NumDimensions returns the number of dimensions.
func (d IterationDomain) NumDimensions() int { return len(d.dimensions) }

// Dimensions returns a copy of the dimension list.
func (d IterationDomain) Dimensions() []IndexRange {
	return append([]IndexRange(nil), d.dimensions...)
}

// DimensionIndex returns the index of dimension n.
func (d IterationDomain) DimensionIndex(n int) Index { return d.dimensions[n].Index }

// DimensionRange returns the range of dimension n.
func (d IterationDomain) DimensionRange(n int) Range { return d.dimensions[n].Range }

// Dimension returns the position of index in the domain, or -1.
func (d IterationDomain) Dimension(index Index) int {
	for n, ir := range d.dimensions {
		if ir.Index.Equal(index) {
			return n
		}
	}
	return -1
}

// Contains reports whether index is one of the domain's dimensions.
func (d IterationDomain) Contains(index Index) bool { return d.Dimension(index) >= 0 }

// Validate checks every dimension's range and rejects invalid or repeated
// indices.
func (d IterationDomain) Validate() error {
	seen := make(map[int]bool, len(d.dimensions))
	for _, ir := range d.dimensions {
		if !ir.Index.IsValid() {
			return inputErrorf("dimension %q has an index that was not issued by an IndexIssuer", ir.Index.Name())
		}
		if seen[ir.Index.ID()] {
			return inputErrorf("index %s appears in more than one dimension", ir.Index)
		}
		seen[ir.Index.ID()] = true
		if err := ir.Range.Validate(); err != nil {
			return fmt.Errorf("dimension %s: %w", ir.Index, err)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (d IterationDomain) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for n, ir := range d.dimensions {
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(ir.String())
	}
	sb.WriteString("}")
	return sb.String()
}
