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

import (
	"github.com/Warrafeeq/omega-scheduler/resource"
)

// machine is the cell's internal, mutable record of a machine. Only
// the cell touches it directly; everyone else sees a Snapshot copy.
type machine struct {
	id             MachineID
	machineType    string
	failureDomain  string
	capacity       resource.Vector
	allocated      resource.Vector
	tasks          map[TaskID]struct{}
	version        int64
	state          MachineState
}

func newMachine(id MachineID, machineType, failureDomain string, capacity resource.Vector) *machine {
	return &machine{
		id:            id,
		machineType:   machineType,
		failureDomain: failureDomain,
		capacity:      capacity,
		tasks:         make(map[TaskID]struct{}),
		state:         MachineHealthy,
	}
}

// remaining returns capacity - allocated.
func (m *machine) remaining() resource.Vector {
	return m.capacity.Sub(m.allocated)
}

// place records req as allocated to the machine on behalf of taskID and
// bumps the version by one. Caller must have already validated fit.
func (m *machine) place(taskID TaskID, req resource.Vector) {
	m.tasks[taskID] = struct{}{}
	m.allocated = m.allocated.Add(req)
	m.version++
}

// release removes taskID from the machine and subtracts req from
// allocated, bumping the version by one. No-op if taskID is not
// present, which makes release idempotent per task id.
func (m *machine) release(taskID TaskID, req resource.Vector) {
	if _, ok := m.tasks[taskID]; !ok {
		return
	}
	delete(m.tasks, taskID)
	m.allocated = m.allocated.Sub(req)
	m.version++
}

// fail marks the machine failed and bumps its version. Tasks on it are
// released by the caller (cell.FailMachine), which knows their
// requirements.
func (m *machine) fail() {
	m.state = MachineFailed
	m.version++
}

// recover restores the machine to healthy with zero allocation. The
// version stays monotonic across the failure: bumped forward, never
// reset.
func (m *machine) recover() {
	m.state = MachineHealthy
	m.allocated = resource.Vector{}
	m.tasks = make(map[TaskID]struct{})
	m.version++
}

// snapshot copies the machine's observable fields into a MachineView.
func (m *machine) snapshot() MachineView {
	taskIDs := make([]TaskID, 0, len(m.tasks))
	for t := range m.tasks {
		taskIDs = append(taskIDs, t)
	}
	return MachineView{
		ID:            m.id,
		MachineType:   m.machineType,
		FailureDomain: m.failureDomain,
		Capacity:      m.capacity,
		Allocated:     m.allocated,
		Version:       m.version,
		State:         m.state,
		Tasks:         taskIDs,
	}
}

// MachineView is the immutable, observable view of a machine carried
// in a Snapshot. Copying it out of the cell under lock is what makes
// snapshots independent of later mutations.
type MachineView struct {
	ID            MachineID
	MachineType   string
	FailureDomain string
	Capacity      resource.Vector
	Allocated     resource.Vector
	Version       int64
	State         MachineState
	Tasks         []TaskID
}

// Remaining returns Capacity - Allocated for this view.
func (v MachineView) Remaining() resource.Vector {
	return v.Capacity.Sub(v.Allocated)
}
