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

// Package scheduler implements the scheduler actors: independent
// planners that read a cell snapshot, build a transaction off-line,
// and submit it for commit. Only the commit touches the cell; planning
// never mutates shared state.
package scheduler

import (
	"sort"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/resource"
)

// PlanResult is what a Policy produces for one job: a transaction
// ready for commit, plus the ids of tasks the policy could not place
// this round, recorded rather than silently dropped.
type PlanResult struct {
	Transaction cell.Transaction
	Infeasible  []cell.TaskID
}

// SchedulerActor is the uniform capability set the simulator drives:
// the batch, service, mapreduce, priority and weighted-round-robin
// variants all plug into the same event-loop code through it.
type SchedulerActor interface {
	SchedulerID() string
	Accepts(cell.JobType) bool
	Enqueue(job *cell.Job)
	Dequeue() (*cell.Job, bool)
	Len() int
	DecisionTime(job *cell.Job) float64
	Plan(snap cell.Snapshot, job *cell.Job) ExtraPlanResult
	ObserveUtilization(cpu float64)
	RecordAttempt(result cell.TransactionResult)
	RecordJobScheduled(waitTime float64)
	RecordBusy(busyTime float64)
	NextBackoff(jobID cell.JobID) (float64, bool)
	ResetRetries(jobID cell.JobID)
	Statistics() Stats
}

// utilizationObserver is implemented by policies whose placement
// decisions depend on cluster-wide utilization.
type utilizationObserver interface {
	ObserveUtilization(cpu float64)
}

// Policy is the placement strategy of one scheduler kind. It is pure:
// given a job and a snapshot, it returns a transaction to submit. It
// never touches the cell.
type Policy interface {
	// Name identifies the policy for logging/metrics.
	Name() string
	// Mode returns the commit mode to use for this job.
	Mode(job *cell.Job) cell.CommitMode
	// Plan builds a transaction placing as many of job's tasks as
	// possible given snap, respecting intra-job dependencies: a task
	// with unsatisfied dependencies (predecessors not yet Completed in
	// the snapshot-time cell view) is left for a later round.
	Plan(job *cell.Job, snap cell.Snapshot, schedulerID string) PlanResult
}

// overlay tracks resources tentatively committed to machines within
// one planning pass, on top of the immutable snapshot, so that
// multiple tasks from the same job don't over-commit a single machine
// within one transaction. Discarded after the transaction is built; it
// never touches the cell.
type overlay struct {
	snap      cell.Snapshot
	tentative map[cell.MachineID]resource.Vector
}

func newOverlay(snap cell.Snapshot) *overlay {
	return &overlay{snap: snap, tentative: make(map[cell.MachineID]resource.Vector)}
}

// remaining returns the machine's remaining capacity after accounting
// for both the snapshot's allocation and this pass's tentative ones.
func (o *overlay) remaining(id cell.MachineID) (resource.Vector, bool) {
	mv, ok := o.snap.Machine(id)
	if !ok || mv.State != cell.MachineHealthy {
		return resource.Vector{}, false
	}
	return mv.Remaining().Sub(o.tentative[id]), true
}

// commit records a tentative placement of req onto id.
func (o *overlay) commit(id cell.MachineID, req resource.Vector) {
	o.tentative[id] = o.tentative[id].Add(req)
}

// readyTasks returns job's pending tasks whose dependencies have all
// completed. Tasks already scheduled/running/completed/failed are
// never placement candidates.
func readyTasks(job *cell.Job, completed map[cell.TaskID]bool) []*cell.Task {
	var out []*cell.Task
	for _, t := range job.Tasks {
		if t.State != cell.TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t)
		}
	}
	return out
}

// sortedMachineIDs returns snap's healthy machine ids sorted
// ascending. Every policy iterates machines in this order, which is
// what makes tie-breaking (lowest machine id wins) and whole-run
// reproducibility hold.
func sortedMachineIDs(snap cell.Snapshot) []cell.MachineID {
	ids := snap.HealthyMachines()
	sort.Strings(ids)
	return ids
}
