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

func detect() Target {
	switch {
	case cpu.X86.HasAVX512F:
		return Target{Level: AVX512, Width: 64}
	case cpu.X86.HasAVX2:
		return Target{Level: AVX2, Width: 32}
	case cpu.X86.HasSSE2:
		return Target{Level: SSE2, Width: 16}
	default:
		return ScalarTarget
	}
}
