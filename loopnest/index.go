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
	"cmp"
	"sync/atomic"
)

// Index is a symbolic loop variable. Two indices are the same variable iff
// they have the same id; the name is only used for printing.
type Index struct {
	id   int
	name string
}

// ID returns the index's unique id. The zero Index has id 0.
func (i Index) ID() int { return i.id }

// Name returns the index's display name.
func (i Index) Name() string { return i.name }

// String implements fmt.Stringer.
func (i Index) String() string { return i.name }

// IsValid reports whether i was issued by an IndexIssuer.
func (i Index) IsValid() bool { return i.id > 0 }

// Equal reports whether i and other are the same variable.
func (i Index) Equal(other Index) bool { return i.id == other.id }

// Compare orders indices by id.
func (i Index) Compare(other Index) int { return cmp.Compare(i.id, other.id) }

// Less reports whether i was issued before other.
func (i Index) Less(other Index) bool { return i.id < other.id }

// IndexIssuer hands out indices with monotonically increasing ids. All
// indices that end up in one LoopNest (including the ones created by
// splitting) must come from the same issuer.
type IndexIssuer struct {
	last atomic.Int64
}

// NewIndexIssuer returns an issuer whose first index has id 1.
func NewIndexIssuer() *IndexIssuer {
	return &IndexIssuer{}
}

// New issues a fresh index with the given name.
func (x *IndexIssuer) New(name string) Index {
	return Index{id: int(x.last.Add(1)), name: name}
}

// Issued returns how many indices have been issued so far.
func (x *IndexIssuer) Issued() int {
	return int(x.last.Load())
}
