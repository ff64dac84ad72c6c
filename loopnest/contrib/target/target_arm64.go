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

package target

import "golang.org/x/sys/cpu"

// SVE vector length is implementation defined; 128 bits is the minimum
// and what current cores mostly ship.
func detect() Target {
	switch {
	case cpu.ARM64.HasSVE:
		return Target{Level: SVE, Width: 16}
	case cpu.ARM64.HasASIMD:
		return Target{Level: NEON, Width: 16}
	default:
		return ScalarTarget
	}
}
