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

// Package sim implements the discrete-event simulation kernel: a
// virtual-time loop that interleaves workload arrivals, scheduler
// activations, transaction commits, task completions and machine
// failures against a shared cell.Cell.
package sim

import "github.com/Warrafeeq/omega-scheduler/cell"

// EventKind tags the dispatch handler an Event carries.
type EventKind int

const (
	EventMachineFailure EventKind = iota
	EventMachineRecovery
	EventTaskCompletion
	EventJobArrival
	EventCommit
	EventSchedulerActivation
)

// priority orders events with equal timestamps: machine-health
// transitions land first so nothing reasons about a machine that is
// about to disappear in the same instant, completions free resources
// before the next scheduler cycle observes them, and arrivals are
// queued before any activation or commit runs. Recovery shares
// failure's tier since both change machine health.
func (k EventKind) priority() int {
	switch k {
	case EventMachineFailure, EventMachineRecovery:
		return 0
	case EventTaskCompletion:
		return 1
	case EventJobArrival:
		return 2
	case EventCommit:
		return 3
	case EventSchedulerActivation:
		return 4
	default:
		return 5
	}
}

// JobArrivalPayload carries a newly arrived job.
type JobArrivalPayload struct {
	Job *cell.Job
}

// TaskCompletionPayload names the task whose duration has elapsed.
// Start pins the run the event belongs to: if the task was failed and
// re-placed in the meantime, the stale completion no longer matches
// the task's recorded start time and is dropped.
type TaskCompletionPayload struct {
	TaskID cell.TaskID
	Start  float64
}

// MachineFailurePayload names the machine to fail. An empty MachineID
// marks an injector tick: the victim is drawn at dispatch time from
// the machines that are healthy then.
type MachineFailurePayload struct {
	MachineID cell.MachineID
}

// MachineRecoveryPayload names the machine to restore to healthy.
type MachineRecoveryPayload struct {
	MachineID cell.MachineID
}

// SchedulerActivationPayload names the scheduler actor to run one
// plan cycle for.
type SchedulerActivationPayload struct {
	SchedulerID string
}

// CommitPayload carries a planned transaction from its activation to
// the moment the decision latency has elapsed and the transaction
// reaches the cell. Between the two, commits from other schedulers may
// land and stale the recorded machine versions; that window is the
// whole point of the optimistic protocol.
type CommitPayload struct {
	SchedulerID string
	Job         *cell.Job
	Tx          cell.Transaction
	Extras      []cell.TaskID
	Infeasible  []cell.TaskID
}

// Event is one entry in the eventQueue: a virtual timestamp, a kind
// that selects both dispatch priority and payload type, and a
// monotonic sequence number that breaks ties deterministically when
// timestamp and priority both match.
type Event struct {
	Time    float64
	Kind    EventKind
	Seq     int64
	Payload interface{}

	index int // heap.Interface bookkeeping
}
