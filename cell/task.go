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

// Task is the cell's record of a task. Tasks back-reference their job
// by id, and machines reference placed tasks by id: no cyclic object
// ownership, so results serialize trivially.
type Task struct {
	ID           TaskID
	JobID        JobID
	Requirement  resource.Vector
	Duration     float64
	State        TaskState
	MachineID    MachineID // empty when not scheduled
	StartTime    float64
	EndTime      float64
	Dependencies []TaskID
}

// readyAt returns the earliest virtual time at which the task may
// transition to running, given the completion times of its
// dependencies (keyed by task id). A task with no dependencies is
// ready immediately; otherwise
// start = max(scheduled_time, max(predecessor end times)).
func (t *Task) readyAt(scheduledTime float64, predecessorEnds map[TaskID]float64) float64 {
	ready := scheduledTime
	for _, dep := range t.Dependencies {
		if end, ok := predecessorEnds[dep]; ok && end > ready {
			ready = end
		}
	}
	return ready
}

// Clone returns a deep copy of the task, used when Cell.Job copies a
// job's task list or when the MapReduce scheduler clones the base task
// template for opportunistic extras.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = append([]TaskID(nil), t.Dependencies...)
	}
	return &cp
}
