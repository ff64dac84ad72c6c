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

// Command loopnestc builds loop nests from YAML schedules and prints,
// generates or runs them.
//
// Usage:
//
//	loopnestc print matmul.yaml              # pseudo-code listing
//	loopnestc emit -b go -p kernels -o . matmul.yaml
//	loopnestc emit -b llvm matmul.yaml       # LLVM IR on stdout
//	loopnestc run -w 8 --batch 4 matmul.yaml # interpret and count kernel calls
//	loopnestc target                         # detected SIMD target
//
// Several files are processed concurrently; output follows argument order.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
