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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorLanes(t *testing.T) {
	avx2 := Target{Level: AVX2, Width: 32}
	assert.Equal(t, 8, avx2.VectorLanes(4))
	assert.Equal(t, 4, avx2.VectorLanes(8))
	assert.Equal(t, 1, avx2.VectorLanes(64))
	assert.Equal(t, 0, avx2.VectorLanes(0))
}

func TestResolveSize(t *testing.T) {
	neon := Target{Level: NEON, Width: 16}
	tests := []struct {
		size    string
		want    int
		wantErr bool
	}{
		{size: "4", want: 4},
		{size: " 12 ", want: 12},
		{size: "vector", want: 4},
		{size: "vector*2", want: 8},
		{size: "vector * 3", want: 12},
		{size: "0", wantErr: true},
		{size: "-2", wantErr: true},
		{size: "vec", wantErr: true},
		{size: "vector2", wantErr: true},
		{size: "vector*0", wantErr: true},
		{size: "vector*x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.size, func(t *testing.T) {
			got, err := neon.ResolveSize(tt.size, 4)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHost(t *testing.T) {
	h := Host()
	assert.GreaterOrEqual(t, h.Width, 16)
	assert.NotEqual(t, "unknown", h.Level.String())
	if NoSimdEnv() {
		assert.Equal(t, ScalarTarget, h)
	}
}

func TestNoSimdEnv(t *testing.T) {
	t.Setenv("LOOPNEST_NO_SIMD", "")
	assert.False(t, NoSimdEnv())
	t.Setenv("LOOPNEST_NO_SIMD", "1")
	assert.True(t, NoSimdEnv())
	t.Setenv("LOOPNEST_NO_SIMD", "false")
	assert.False(t, NoSimdEnv())
	t.Setenv("LOOPNEST_NO_SIMD", "yes")
	assert.True(t, NoSimdEnv())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		want Target
	}{
		{"avx2", Target{Level: AVX2, Width: 32}},
		{" AVX512 ", Target{Level: AVX512, Width: 64}},
		{"neon", Target{Level: NEON, Width: 16}},
		{"scalar", ScalarTarget},
		{"host", Host()},
		{"", Host()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := Parse("mmx")
	assert.Error(t, err)
}
