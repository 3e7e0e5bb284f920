// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorArithmetic(t *testing.T) {
	a := Vector{CPU: 4, GPU: 1, Memory: 8}
	b := Vector{CPU: 2, GPU: 0, Memory: 4}

	assert.Equal(t, Vector{CPU: 6, GPU: 1, Memory: 12}, a.Add(b))
	assert.Equal(t, Vector{CPU: 2, GPU: 1, Memory: 4}, a.Sub(b))
}

func TestFits(t *testing.T) {
	capacity := Vector{CPU: 4, GPU: 1, Memory: 8}

	tests := []struct {
		name string
		req  Vector
		want bool
	}{
		{"exact fit", Vector{CPU: 4, GPU: 1, Memory: 8}, true},
		{"smaller", Vector{CPU: 1, GPU: 0, Memory: 0.5}, true},
		{"cpu over", Vector{CPU: 5, GPU: 0, Memory: 1}, false},
		{"gpu over", Vector{CPU: 1, GPU: 2, Memory: 1}, false},
		{"memory over", Vector{CPU: 1, GPU: 0, Memory: 8.1}, false},
		{"memory within epsilon", Vector{CPU: 1, GPU: 0, Memory: 8 + 1e-9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Fits(capacity))
		})
	}
}

func TestNonNegative(t *testing.T) {
	assert.True(t, Vector{}.NonNegative())
	assert.True(t, Vector{CPU: 1, Memory: 0.5}.NonNegative())
	assert.False(t, Vector{CPU: -1}.NonNegative())
	assert.False(t, Vector{Memory: -0.1}.NonNegative())
}

func TestPickPartitionsByWeight(t *testing.T) {
	const n = 100
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		counts[Pick(HeterogeneousMix, i, n).Name]++
	}
	assert.Equal(t, 50, counts["small"])
	assert.Equal(t, 30, counts["medium"])
	assert.Equal(t, 15, counts["large"])
	assert.Equal(t, 5, counts["gpu"])
}
