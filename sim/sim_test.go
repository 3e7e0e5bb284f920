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

package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/resource"
	"github.com/Warrafeeq/omega-scheduler/scheduler"
	"github.com/Warrafeeq/omega-scheduler/workload"
)

type SimTestSuite struct {
	suite.Suite
}

func TestSimTestSuite(t *testing.T) {
	suite.Run(t, new(SimTestSuite))
}

func batchJob(id string, n int, req resource.Vector, duration float64) *cell.Job {
	job := &cell.Job{ID: id, Type: cell.JobBatch}
	for i := 0; i < n; i++ {
		job.Tasks = append(job.Tasks, &cell.Task{
			ID:          id + "-t" + string(rune('0'+i)),
			JobID:       id,
			Requirement: req,
			Duration:    duration,
		})
	}
	return job
}

// One machine, one job, exact fit: both tasks run to completion and
// the machine ends fully released.
func (s *SimTestSuite) TestSingleJobExactFit() {
	c := cell.New(nil)
	c.AddMachine("m0", "standard", "rack-0", resource.Vector{CPU: 4, Memory: 8})

	actor := scheduler.NewBatchActor("batch-0", scheduler.BestFit, false, 0, 0, 0, nil)
	simulator := New(c, []scheduler.SchedulerActor{actor}, nil, nil)
	simulator.AddArrival(0, batchJob("j0", 2, resource.Vector{CPU: 2, Memory: 4}, 10))

	results, err := simulator.Run(100)
	s.Require().NoError(err)

	s.Equal(1, results.CompletedJobs)
	s.Equal(0, results.FailedJobs)
	s.Require().Len(results.Schedulers, 1)
	s.EqualValues(1, results.Schedulers[0].JobsScheduled)
	s.EqualValues(2, results.Schedulers[0].TasksScheduled)
	s.EqualValues(0, results.Schedulers[0].Conflicts)

	// Two placements and two releases, one version bump each.
	snap := c.Snapshot()
	s.Equal(int64(4), snap.Machines["m0"].Version)
	s.Equal(resource.Vector{}, snap.Machines["m0"].Allocated)

	// Both tasks held the full machine for ~10s of the 100s window.
	s.InDelta(0.10, results.CellState.Utilization.CPU, 0.01)

	task, ok := c.Task("j0-t0")
	s.Require().True(ok)
	s.Equal(cell.TaskCompleted, task.State)
	s.InDelta(task.StartTime+task.Duration, task.EndTime, 1e-9)
}

// A machine failure mid-run fails the task on it; the job is requeued
// and the replacement lands on the surviving machine.
func (s *SimTestSuite) TestMachineFailureRecovery() {
	c := cell.New(nil)
	c.AddMachine("m0", "standard", "rack-0", resource.Vector{CPU: 4, Memory: 8})
	c.AddMachine("m1", "standard", "rack-1", resource.Vector{CPU: 4, Memory: 8})

	// Worst-fit spreads the two tasks across both machines.
	actor := scheduler.NewBatchActor("batch-0", scheduler.WorstFit, false, 0, 0, 0, nil)
	simulator := New(c, []scheduler.SchedulerActor{actor}, nil, nil)
	simulator.AddArrival(0, batchJob("j0", 2, resource.Vector{CPU: 2, Memory: 4}, 100))
	simulator.ScheduleFailure(50, "m0")

	results, err := simulator.Run(300)
	s.Require().NoError(err)

	s.Equal(1, results.CompletedJobs)
	s.Equal(0, results.FailedJobs)

	snap := c.Snapshot()
	s.Equal(cell.MachineFailed, snap.Machines["m0"].State)
	s.Equal(resource.Vector{}, snap.Machines["m1"].Allocated)

	// Both tasks finished, the re-placed one after the failure.
	for _, id := range []cell.TaskID{"j0-t0", "j0-t1"} {
		task, ok := c.Task(id)
		s.Require().True(ok)
		s.Equal(cell.TaskCompleted, task.State)
	}
}

// With no machines every arriving job fails cleanly.
func (s *SimTestSuite) TestZeroMachinesFailsJobs() {
	c := cell.New(nil)
	actor := scheduler.NewBatchActor("batch-0", scheduler.BestFit, false, 0, 0, 0, nil)
	simulator := New(c, []scheduler.SchedulerActor{actor}, nil, nil)
	simulator.AddArrival(0, batchJob("j0", 1, resource.Vector{CPU: 1, Memory: 1}, 10))
	simulator.AddArrival(1, batchJob("j1", 2, resource.Vector{CPU: 1, Memory: 1}, 10))

	results, err := simulator.Run(100)
	s.Require().NoError(err)
	s.Equal(0, results.CompletedJobs)
	s.Equal(2, results.FailedJobs)
}

// A job whose requirement exceeds every machine's total capacity is
// failed after one planning pass, not retried forever.
func (s *SimTestSuite) TestInfeasibleJobFailsFast() {
	c := cell.New(nil)
	c.AddMachine("m0", "standard", "rack-0", resource.Vector{CPU: 2, Memory: 4})

	actor := scheduler.NewBatchActor("batch-0", scheduler.BestFit, false, 0, 0, 0, nil)
	simulator := New(c, []scheduler.SchedulerActor{actor}, nil, nil)
	simulator.AddArrival(0, batchJob("j0", 1, resource.Vector{CPU: 64, Memory: 512}, 10))

	results, err := simulator.Run(100)
	s.Require().NoError(err)
	s.Equal(1, results.FailedJobs)
	// The transaction was empty, so nothing ever reached the cell.
	s.EqualValues(0, results.CellState.TotalTransactions)
}

// Two-stage job: the reduce task is only placed once every map task
// has completed, and starts no earlier than the last map's end.
func (s *SimTestSuite) TestTwoStageDependencies() {
	c := cell.New(nil)
	c.AddMachine("m0", "standard", "rack-0", resource.Vector{CPU: 4, Memory: 8})
	c.AddMachine("m1", "standard", "rack-1", resource.Vector{CPU: 4, Memory: 8})

	job := &cell.Job{ID: "mr0", Type: cell.JobMapReduce}
	var mapIDs []cell.TaskID
	for i := 0; i < 2; i++ {
		t := &cell.Task{
			ID:          "mr0-map" + string(rune('0'+i)),
			JobID:       "mr0",
			Requirement: resource.Vector{CPU: 1, Memory: 1},
			Duration:    10,
		}
		mapIDs = append(mapIDs, t.ID)
		job.Tasks = append(job.Tasks, t)
	}
	job.Tasks = append(job.Tasks, &cell.Task{
		ID:           "mr0-reduce0",
		JobID:        "mr0",
		Requirement:  resource.Vector{CPU: 1, Memory: 1},
		Duration:     5,
		Dependencies: mapIDs,
	})

	// Hard cap at the base count: no opportunistic clones in this test.
	actor := scheduler.NewMapReduceActor("mr-0", scheduler.MaxParallelism, 2, 0, 0, 0, 0, nil)
	simulator := New(c, []scheduler.SchedulerActor{actor}, nil, nil)
	simulator.AddArrival(0, job)

	results, err := simulator.Run(100)
	s.Require().NoError(err)
	s.Equal(1, results.CompletedJobs)

	reduce, ok := c.Task("mr0-reduce0")
	s.Require().True(ok)
	s.Equal(cell.TaskCompleted, reduce.State)
	for _, id := range mapIDs {
		m, ok := c.Task(id)
		s.Require().True(ok)
		s.GreaterOrEqual(reduce.StartTime, m.EndTime)
	}
}

// The slow service scheduler snapshots the machine before the fast
// batch scheduler commits onto it; when the service commit finally
// lands, its recorded version is stale and the placement is rejected.
// The service job succeeds on a later retry once the machine frees up.
func (s *SimTestSuite) TestStaleSnapshotConflictThenRetry() {
	c := cell.New(nil)
	c.AddMachine("m0", "standard", "rack-0", resource.Vector{CPU: 4, Memory: 8})

	batch := scheduler.NewBatchActor("batch-0", scheduler.BestFit, false, 0, 0, 0, nil)
	service := scheduler.NewServiceActor("service-0", false, 0, 0, 0, nil)
	simulator := New(c, []scheduler.SchedulerActor{batch, service}, nil, nil)

	svcJob := &cell.Job{ID: "svc0", Type: cell.JobService}
	svcJob.Tasks = append(svcJob.Tasks, &cell.Task{
		ID: "svc0-t0", JobID: "svc0",
		Requirement: resource.Vector{CPU: 4, Memory: 8}, Duration: 5,
	})
	// Service plans over [0, ~1.05]; batch arrives inside that window
	// and commits within ~11ms, claiming the whole machine.
	simulator.AddArrival(0, svcJob)
	simulator.AddArrival(0.5, batchJob("b0", 1, resource.Vector{CPU: 4, Memory: 8}, 2))

	results, err := simulator.Run(60)
	s.Require().NoError(err)

	s.Equal(2, results.CompletedJobs)
	s.Equal(0, results.FailedJobs)
	for _, sr := range results.Schedulers {
		if sr.ID == "service-0" {
			s.GreaterOrEqual(sr.Conflicts, int64(1))
		}
		if sr.ID == "batch-0" {
			s.EqualValues(0, sr.Conflicts)
		}
	}
	s.GreaterOrEqual(results.CellState.TotalConflicts, int64(1))
}

// Identical seeds and configuration produce identical results records.
func (s *SimTestSuite) TestDeterministicForSeed() {
	run := func() Results {
		c := cell.New(nil)
		for i := 0; i < 20; i++ {
			mt := resource.Pick(resource.HeterogeneousMix, i, 20)
			c.AddMachine(cell.MachineID("m-"+string(rune('a'+i))), mt.Name, "rack-"+string(rune('0'+i%4)), mt.Capacity)
		}
		actors := []scheduler.SchedulerActor{
			scheduler.NewBatchActor("batch-0", scheduler.BestFit, false, 0, 0, 0, nil),
			scheduler.NewServiceActor("service-0", false, 0, 0, 0, nil),
		}
		injector := NewFailureInjector(0.00002, 120, rand.New(rand.NewSource(43)))
		simulator := New(c, actors, injector, nil)
		gen := workload.New(workload.Config{Seed: 42})
		for _, a := range gen.Generate(2000) {
			simulator.AddArrival(a.Time, a.Job)
		}
		results, err := simulator.Run(2000)
		s.Require().NoError(err)
		return results
	}

	first := run()
	second := run()
	s.Equal(first, second)
}

func (s *SimTestSuite) TestEventOrderingAtEqualTimestamps() {
	q := newEventQueue()
	q.push(&Event{Time: 5, Kind: EventSchedulerActivation, Seq: 1})
	q.push(&Event{Time: 5, Kind: EventJobArrival, Seq: 2})
	q.push(&Event{Time: 5, Kind: EventTaskCompletion, Seq: 3})
	q.push(&Event{Time: 5, Kind: EventMachineFailure, Seq: 4})
	q.push(&Event{Time: 5, Kind: EventCommit, Seq: 5})
	q.push(&Event{Time: 1, Kind: EventSchedulerActivation, Seq: 6})

	var kinds []EventKind
	for e := q.pop(); e != nil; e = q.pop() {
		kinds = append(kinds, e.Kind)
	}
	s.Equal([]EventKind{
		EventSchedulerActivation, // t=1 beats everything at t=5
		EventMachineFailure,
		EventTaskCompletion,
		EventJobArrival,
		EventCommit,
		EventSchedulerActivation,
	}, kinds)
}
