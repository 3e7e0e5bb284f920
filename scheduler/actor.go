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

package scheduler

import (
	"time"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/metrics"
)

// Stats is one scheduler's observable counters. Owned entirely by the
// Actor; the simulator only reads it when aggregating results.
type Stats struct {
	JobsScheduled  int64
	TasksScheduled int64
	Conflicts      int64
	BusyTime       float64
	WaitTimeSum    float64
}

// ConflictRate returns Conflicts / TasksScheduled+Conflicts, 0 if
// nothing has been attempted yet.
func (s Stats) ConflictRate() float64 {
	total := s.TasksScheduled + s.Conflicts
	if total == 0 {
		return 0
	}
	return float64(s.Conflicts) / float64(total)
}

// AvgWaitTime returns WaitTimeSum / JobsScheduled, 0 if none scheduled.
func (s Stats) AvgWaitTime() float64 {
	if s.JobsScheduled == 0 {
		return 0
	}
	return s.WaitTimeSum / float64(s.JobsScheduled)
}

// Actor is the common scheduler chassis: a job queue, a
// decision-latency budget, a retry policy and stats counters, shared
// by every scheduler kind. The placement brain is the pluggable
// Policy; the simulator owns virtual time and drives the actor through
// the SchedulerActor interface.
type Actor struct {
	ID               string
	JobType          cell.JobType
	Policy           Policy
	DecisionTimeJob  float64
	DecisionTimeTask float64
	MaxRetries       int
	Backoff          BackoffPolicy

	metrics *metrics.SchedulerMetrics

	queue         []*cell.Job
	retryAttempts map[cell.JobID]int
	stats         Stats
}

// NewActor constructs an Actor. m may be nil.
func NewActor(id string, jobType cell.JobType, policy Policy, decisionTimeJob, decisionTimeTask float64, backoff BackoffPolicy, m *metrics.SchedulerMetrics) *Actor {
	if m == nil {
		m = metrics.NewSchedulerMetrics(nil, id)
	}
	return &Actor{
		ID:               id,
		JobType:          jobType,
		Policy:           policy,
		DecisionTimeJob:  decisionTimeJob,
		DecisionTimeTask: decisionTimeTask,
		Backoff:          backoff,
		metrics:          m,
		retryAttempts:    make(map[cell.JobID]int),
	}
}

// SchedulerID returns the actor's id. Named to avoid colliding with the
// exported ID field (a method and field cannot share a name on one
// type), so that Actor and its wrappers (PriorityActor,
// WeightedRoundRobinActor) can all satisfy SchedulerActor uniformly.
func (a *Actor) SchedulerID() string {
	return a.ID
}

// Accepts reports whether this actor's queue handles jobs of type t;
// the simulator routes each arriving job to the first actor that
// accepts it.
func (a *Actor) Accepts(t cell.JobType) bool {
	return a.JobType == t
}

// Enqueue adds job to the actor's queue.
func (a *Actor) Enqueue(job *cell.Job) {
	a.queue = append(a.queue, job)
}

// Dequeue pops the earliest-enqueued job, FIFO.
func (a *Actor) Dequeue() (*cell.Job, bool) {
	if len(a.queue) == 0 {
		return nil, false
	}
	job := a.queue[0]
	a.queue = a.queue[1:]
	return job, true
}

// Len reports the number of jobs currently queued.
func (a *Actor) Len() int {
	return len(a.queue)
}

// DecisionTime returns the virtual-time cost of one planning pass over
// job: a fixed per-job charge plus a per-task charge.
func (a *Actor) DecisionTime(job *cell.Job) float64 {
	return a.DecisionTimeJob + a.DecisionTimeTask*float64(len(job.Tasks))
}

// Plan builds a transaction for job from snap. It never mutates the
// cell. Returns any newly synthesized tasks (MapReduce opportunistic
// clones) that the caller must register with the cell before
// committing the transaction.
func (a *Actor) Plan(snap cell.Snapshot, job *cell.Job) ExtraPlanResult {
	if mr, ok := a.Policy.(*MapReducePolicy); ok {
		return mr.PlanWithExtras(job, snap, a.ID)
	}
	return ExtraPlanResult{PlanResult: a.Policy.Plan(job, snap, a.ID)}
}

// RecordAttempt updates stats after one commit attempt for job.
func (a *Actor) RecordAttempt(result cell.TransactionResult) {
	accepted := result.Accepted()
	rejected := result.Rejected()
	a.stats.TasksScheduled += int64(len(accepted))
	a.stats.Conflicts += int64(len(rejected))
	a.metrics.TasksScheduled.Inc(int64(len(accepted)))
	a.metrics.Conflicts.Inc(int64(len(rejected)))
}

// RecordJobScheduled marks one job as fully scheduled: every one of
// its tasks has been placed.
func (a *Actor) RecordJobScheduled(waitTime float64) {
	a.stats.JobsScheduled++
	a.stats.WaitTimeSum += waitTime
	a.metrics.JobsScheduled.Inc(1)
	a.metrics.WaitTime.Record(durationOf(waitTime))
}

// RecordBusy accrues virtual decision-latency time spent planning.
func (a *Actor) RecordBusy(busyTime float64) {
	a.stats.BusyTime += busyTime
	a.metrics.BusyTime.Record(durationOf(busyTime))
}

// ObserveUtilization hands the actor the cluster-wide CPU utilization
// sampled just before planning. Only policies that scale against
// global utilization care; everyone else ignores it.
func (a *Actor) ObserveUtilization(cpu float64) {
	if o, ok := a.Policy.(utilizationObserver); ok {
		o.ObserveUtilization(cpu)
	}
}

// NextBackoff returns the backoff delay for jobID's next retry attempt
// (incrementing its attempt counter), or ok=false once the retry
// budget is exhausted.
func (a *Actor) NextBackoff(jobID cell.JobID) (float64, bool) {
	a.retryAttempts[jobID]++
	return a.Backoff.NextDelay(a.retryAttempts[jobID])
}

// ResetRetries clears jobID's retry counter, called once it's either
// scheduled or permanently failed.
func (a *Actor) ResetRetries(jobID cell.JobID) {
	delete(a.retryAttempts, jobID)
}

// Statistics returns a copy of the actor's current stats.
func (a *Actor) Statistics() Stats {
	return a.stats
}

func durationOf(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
