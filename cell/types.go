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

// Package cell implements the authoritative cluster-state registry. It
// holds machines, jobs and tasks, serves consistent snapshots, and
// validates/applies transactions under optimistic concurrency control
// with per-machine versioning.
package cell

// MachineState is the health of a machine.
type MachineState int

const (
	// MachineHealthy machines accept placements.
	MachineHealthy MachineState = iota
	// MachineFailed machines reject every placement with RejectMachineFailed.
	MachineFailed
)

func (s MachineState) String() string {
	if s == MachineFailed {
		return "failed"
	}
	return "healthy"
}

// TaskState is the lifecycle state of a task.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskScheduled
	TaskRunning
	TaskCompleted
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskScheduled:
		return "scheduled"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// JobType selects which scheduler a job is routed to.
type JobType int

const (
	JobBatch JobType = iota
	JobService
	JobMapReduce
)

func (t JobType) String() string {
	switch t {
	case JobBatch:
		return "batch"
	case JobService:
		return "service"
	case JobMapReduce:
		return "mapreduce"
	default:
		return "unknown"
	}
}

// JobState aggregates a job's task states: a job is Scheduled when all
// its tasks are scheduled, Completed when all its tasks are completed.
type JobState int

const (
	JobPending JobState = iota
	JobScheduled
	JobRunning
	JobCompleted
	JobFailed
)

// CommitMode selects all-or-nothing vs. best-effort transaction
// application.
type CommitMode int

const (
	// Incremental applies every tentatively accepted placement.
	Incremental CommitMode = iota
	// Gang discards all tentative acceptances if any placement failed.
	Gang
)

func (m CommitMode) String() string {
	if m == Gang {
		return "gang"
	}
	return "incremental"
}

// RejectReason enumerates why a placement was rejected.
type RejectReason int

const (
	// RejectNone marks an accepted placement (zero value).
	RejectNone RejectReason = iota
	RejectVersionStale
	RejectInsufficientResources
	RejectMachineFailed
	RejectDuplicateTask
	// RejectGangAborted marks a placement that individually validated
	// but was discarded because a sibling placement in the same gang
	// transaction failed.
	RejectGangAborted
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "accepted"
	case RejectVersionStale:
		return "version_stale"
	case RejectInsufficientResources:
		return "insufficient_resources"
	case RejectMachineFailed:
		return "machine_failed"
	case RejectDuplicateTask:
		return "duplicate_task"
	case RejectGangAborted:
		return "gang_aborted"
	default:
		return "unknown"
	}
}

// MachineID identifies a machine. TaskID and JobID are opaque strings
// too: entities reference each other by id, never by object handle, so
// there is no cyclic ownership to untangle when serializing results.
type MachineID = string
type TaskID = string
type JobID = string
type SchedulerID = string
