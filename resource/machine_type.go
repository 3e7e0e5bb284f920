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

// MachineType is an immutable machine-type descriptor: a name, a
// capacity vector, and the relative weight it carries in the
// heterogeneous cluster mix.
type MachineType struct {
	Name     string
	Capacity Vector
	Weight   float64
}

// StandardType is used when cluster.heterogeneous is false: every
// machine shares this single profile.
var StandardType = MachineType{
	Name:     "standard",
	Capacity: Vector{CPU: 8, GPU: 0, Memory: 32},
	Weight:   1.0,
}

// HeterogeneousMix is the default 50/30/15/5 type mix, ordered
// small-to-large with the last tier carrying GPUs.
var HeterogeneousMix = []MachineType{
	{Name: "small", Capacity: Vector{CPU: 4, GPU: 0, Memory: 8}, Weight: 0.50},
	{Name: "medium", Capacity: Vector{CPU: 8, GPU: 0, Memory: 32}, Weight: 0.30},
	{Name: "large", Capacity: Vector{CPU: 16, GPU: 0, Memory: 64}, Weight: 0.15},
	{Name: "gpu", Capacity: Vector{CPU: 16, GPU: 2, Memory: 128}, Weight: 0.05},
}

// Pick selects a MachineType for the i-th machine (0-indexed) out of n
// total machines, deterministically partitioning indices according to
// each type's weight so that repeated runs with the same n produce the
// same assignment regardless of PRNG draws.
func Pick(mix []MachineType, i, n int) MachineType {
	if n <= 0 {
		return mix[0]
	}
	var cumulative float64
	for _, t := range mix {
		cumulative += t.Weight
		// Summed float weights drift (0.8+0.15 lands just above 0.95);
		// the epsilon slack keeps that drift from moving a boundary
		// index by one machine.
		if float64(i) < cumulative*float64(n)-epsilon {
			return t
		}
	}
	return mix[len(mix)-1]
}
