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

// Package metrics wraps tally scopes into typed metric bundles for the
// cell, schedulers and simulator: one struct of named
// Counter/Gauge/Timer fields per component.
package metrics

import "github.com/uber-go/tally"

// CellMetrics holds the cell's observability surface.
type CellMetrics struct {
	TotalTransactions tally.Counter
	TotalCommits      tally.Counter
	TotalConflicts    tally.Counter
	CommitLatency     tally.Timer
	CPUUtilization    tally.Gauge
	GPUUtilization    tally.Gauge
	MemUtilization    tally.Gauge
}

// NewCellMetrics builds a CellMetrics from scope. scope may be nil, in
// which case a tally.NoopScope is used so callers (notably tests) never
// need to special-case metrics wiring.
func NewCellMetrics(scope tally.Scope) *CellMetrics {
	scope = orNoop(scope).SubScope("cell")
	return &CellMetrics{
		TotalTransactions: scope.Counter("total_transactions"),
		TotalCommits:      scope.Counter("total_commits"),
		TotalConflicts:    scope.Counter("total_conflicts"),
		CommitLatency:     scope.Timer("commit_latency"),
		CPUUtilization:    scope.Gauge("cpu_utilization"),
		GPUUtilization:    scope.Gauge("gpu_utilization"),
		MemUtilization:    scope.Gauge("mem_utilization"),
	}
}

// SchedulerMetrics holds one scheduler actor's observability surface.
type SchedulerMetrics struct {
	JobsScheduled  tally.Counter
	TasksScheduled tally.Counter
	Conflicts      tally.Counter
	BusyTime       tally.Timer
	WaitTime       tally.Timer
}

// NewSchedulerMetrics builds a SchedulerMetrics scoped under the
// scheduler's id.
func NewSchedulerMetrics(scope tally.Scope, schedulerID string) *SchedulerMetrics {
	scope = orNoop(scope).SubScope("scheduler").Tagged(map[string]string{"scheduler_id": schedulerID})
	return &SchedulerMetrics{
		JobsScheduled:  scope.Counter("jobs_scheduled"),
		TasksScheduled: scope.Counter("tasks_scheduled"),
		Conflicts:      scope.Counter("conflicts"),
		BusyTime:       scope.Timer("busy_time"),
		WaitTime:       scope.Timer("wait_time"),
	}
}

// SimMetrics holds the simulator's observability surface.
type SimMetrics struct {
	JobArrivals      tally.Counter
	TaskCompletions  tally.Counter
	MachineFailures  tally.Counter
	MachineRecovered tally.Counter
	QueueDepth       tally.Gauge
}

// NewSimMetrics builds a SimMetrics from scope.
func NewSimMetrics(scope tally.Scope) *SimMetrics {
	scope = orNoop(scope).SubScope("sim")
	return &SimMetrics{
		JobArrivals:      scope.Counter("job_arrivals"),
		TaskCompletions:  scope.Counter("task_completions"),
		MachineFailures:  scope.Counter("machine_failures"),
		MachineRecovered: scope.Counter("machine_recovered"),
		QueueDepth:       scope.Gauge("queue_depth"),
	}
}

func orNoop(scope tally.Scope) tally.Scope {
	if scope == nil {
		return tally.NoopScope
	}
	return scope
}
