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

// Job is the cell's record of a job.
type Job struct {
	ID         JobID
	Type       JobType
	Priority   int
	SubmitTime float64
	Tasks      []*Task
	// RequireGang marks a job (typically a Service job) that must not
	// partially succeed: its transaction is committed in Gang mode.
	RequireGang bool
	// NoSameMachine is a hard anti-affinity constraint: when set, no
	// two of this job's tasks may land on the same machine.
	NoSameMachine bool
}

// AntiAffinity reports whether this job forbids co-locating two of its
// own tasks on the same machine.
func (j *Job) AntiAffinity() bool {
	return j.NoSameMachine
}

// State derives the job's aggregate state from its tasks' states.
func (j *Job) State() JobState {
	allCompleted := true
	allScheduled := true
	anyFailed := false
	anyRunning := false
	for _, t := range j.Tasks {
		switch t.State {
		case TaskCompleted:
		case TaskFailed:
			anyFailed = true
			allCompleted = false
			allScheduled = false
		case TaskRunning:
			anyRunning = true
			allCompleted = false
		case TaskScheduled:
			allCompleted = false
		default: // TaskPending
			allCompleted = false
			allScheduled = false
		}
	}
	switch {
	case anyFailed:
		return JobFailed
	case allCompleted:
		return JobCompleted
	case anyRunning:
		return JobRunning
	case allScheduled:
		return JobScheduled
	default:
		return JobPending
	}
}

// TaskByID returns the job's task with the given id, or nil.
func (j *Job) TaskByID(id TaskID) *Task {
	for _, t := range j.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
