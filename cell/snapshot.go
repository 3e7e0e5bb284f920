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

package cell

// Snapshot is a consistent, read-only view of the cell taken
// atomically at a point in time. Once captured it is never mutated by
// later commits: callers hold a plain value built entirely from
// copies.
type Snapshot struct {
	CellVersion int64
	Machines    map[MachineID]MachineView
}

// Machine returns the machine view for id, and whether it was present.
func (s Snapshot) Machine(id MachineID) (MachineView, bool) {
	m, ok := s.Machines[id]
	return m, ok
}

// HealthyMachines returns the ids of every machine in the snapshot whose
// state is healthy, in no particular order.
func (s Snapshot) HealthyMachines() []MachineID {
	out := make([]MachineID, 0, len(s.Machines))
	for id, m := range s.Machines {
		if m.State == MachineHealthy {
			out = append(out, id)
		}
	}
	return out
}
