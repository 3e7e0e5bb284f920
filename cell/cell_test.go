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
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/Warrafeeq/omega-scheduler/resource"
)

type CellTestSuite struct {
	suite.Suite
}

func TestCellTestSuite(t *testing.T) {
	suite.Run(t, new(CellTestSuite))
}

func (s *CellTestSuite) newJobWithTasks(jobID string, reqs ...resource.Vector) *Job {
	job := &Job{ID: jobID, Type: JobBatch}
	for i, r := range reqs {
		job.Tasks = append(job.Tasks, &Task{
			ID:          jobID + "-t" + string(rune('0'+i)),
			JobID:       jobID,
			Requirement: r,
			Duration:    10,
		})
	}
	return job
}

// Scenario 1: single job, single machine, exact fit.
func (s *CellTestSuite) TestExactFitTwoPlacementsBumpVersionTwice() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})

	job := s.newJobWithTasks("j0", resource.Vector{CPU: 2, Memory: 4}, resource.Vector{CPU: 2, Memory: 4})
	c.AddJob(job)

	snap := c.Snapshot()
	mv, ok := snap.Machine("m0")
	s.Require().True(ok)
	s.Equal(int64(0), mv.Version)

	tx := Transaction{
		SchedulerID: "batch-0",
		Mode:        Incremental,
		Placements: []Placement{
			{TaskID: job.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: 0},
			{TaskID: job.Tasks[1].ID, MachineID: "m0", ExpectedMachineVersion: 0},
		},
	}
	result, err := c.Commit(tx)
	s.Require().NoError(err)
	s.True(result.Applied)
	for _, o := range result.Outcomes {
		s.True(o.Accepted())
	}

	snap2 := c.Snapshot()
	mv2, _ := snap2.Machine("m0")
	// Per-placement version bumps: two accepted placements on one
	// machine in one commit bump its version by 2.
	s.Equal(int64(2), mv2.Version)
	s.Equal(resource.Vector{CPU: 4, Memory: 8}, mv2.Allocated)
	s.True(mv2.Allocated.Equal(mv2.Capacity))
}

// Scenario 2: two schedulers, one conflict.
func (s *CellTestSuite) TestVersionStaleThenInsufficientResources() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})

	jobA := s.newJobWithTasks("jA", resource.Vector{CPU: 4, Memory: 8})
	jobB := s.newJobWithTasks("jB", resource.Vector{CPU: 4, Memory: 8})
	c.AddJob(jobA)
	c.AddJob(jobB)

	snap := c.Snapshot() // both schedulers read version 0

	resA, err := c.Commit(Transaction{
		SchedulerID: "A",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: jobA.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: snap.Machines["m0"].Version}},
	})
	s.Require().NoError(err)
	s.True(resA.Outcomes[0].Accepted())

	resB, err := c.Commit(Transaction{
		SchedulerID: "B",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: jobB.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: snap.Machines["m0"].Version}},
	})
	s.Require().NoError(err)
	s.Equal(RejectVersionStale, resB.Outcomes[0].Reason)

	// B retries with a fresh snapshot: now insufficient_resources.
	fresh := c.Snapshot()
	resB2, err := c.Commit(Transaction{
		SchedulerID: "B",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: jobB.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: fresh.Machines["m0"].Version}},
	})
	s.Require().NoError(err)
	s.Equal(RejectInsufficientResources, resB2.Outcomes[0].Reason)
}

// Scenario 3: gang atomicity.
func (s *CellTestSuite) TestGangAtomicity() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 2, Memory: 4})
	c.AddMachine("m1", "standard", "dc1", resource.Vector{CPU: 2, Memory: 4})

	job := s.newJobWithTasks("j0",
		resource.Vector{CPU: 2, Memory: 4},
		resource.Vector{CPU: 2, Memory: 4},
		resource.Vector{CPU: 2, Memory: 4}, // third task can't fit anywhere
	)
	c.AddJob(job)

	tx := Transaction{
		SchedulerID: "svc-0",
		Mode:        Gang,
		Placements: []Placement{
			{TaskID: job.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: 0},
			{TaskID: job.Tasks[1].ID, MachineID: "m1", ExpectedMachineVersion: 0},
			{TaskID: job.Tasks[2].ID, MachineID: "m0", ExpectedMachineVersion: 0},
		},
	}
	result, err := c.Commit(tx)
	s.Require().NoError(err)
	s.False(result.Applied)
	for _, o := range result.Outcomes {
		s.False(o.Accepted())
	}

	snap := c.Snapshot()
	s.Equal(int64(0), snap.Machines["m0"].Version)
	s.Equal(int64(0), snap.Machines["m1"].Version)

	stats := c.Statistics()
	s.EqualValues(1, stats.TotalTransactions)
	s.EqualValues(0, stats.TotalCommits)
	s.EqualValues(3, stats.TotalConflicts)
}

// Idempotent release law.
func (s *CellTestSuite) TestReleaseIsIdempotent() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})
	job := s.newJobWithTasks("j0", resource.Vector{CPU: 2, Memory: 4})
	c.AddJob(job)

	_, err := c.Commit(Transaction{
		SchedulerID: "b",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: job.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: 0}},
	})
	s.Require().NoError(err)

	s.Require().NoError(c.Release(job.Tasks[0].ID, TaskCompleted, 10))
	snapAfterFirst := c.Snapshot()

	s.Require().NoError(c.Release(job.Tasks[0].ID, TaskCompleted, 10))
	snapAfterSecond := c.Snapshot()

	s.Equal(snapAfterFirst.Machines["m0"].Version, snapAfterSecond.Machines["m0"].Version)
	s.Equal(resource.Vector{}, snapAfterSecond.Machines["m0"].Allocated)
}

// Boundary: a version bump from an unrelated mutation must not itself
// invalidate a placement targeting a different machine.
func (s *CellTestSuite) TestVersionIsPerMachine() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})
	c.AddMachine("m1", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})

	job := s.newJobWithTasks("j0", resource.Vector{CPU: 2, Memory: 4}, resource.Vector{CPU: 2, Memory: 4})
	c.AddJob(job)

	snap := c.Snapshot()

	_, err := c.Commit(Transaction{
		SchedulerID: "a",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: job.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: snap.Machines["m0"].Version}},
	})
	s.Require().NoError(err)

	// m1's version is untouched; a placement still using the original
	// snapshot's expected version for m1 must succeed.
	result, err := c.Commit(Transaction{
		SchedulerID: "b",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: job.Tasks[1].ID, MachineID: "m1", ExpectedMachineVersion: snap.Machines["m1"].Version}},
	})
	s.Require().NoError(err)
	s.True(result.Outcomes[0].Accepted())
}

// Snapshot consistency law: a captured snapshot never changes, no
// matter what commits land afterwards.
func (s *CellTestSuite) TestSnapshotIsImmutable() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})
	job := s.newJobWithTasks("j0", resource.Vector{CPU: 2, Memory: 4})
	c.AddJob(job)

	snap := c.Snapshot()
	before := snap.Machines["m0"]

	_, err := c.Commit(Transaction{
		SchedulerID: "b",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: job.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: 0}},
	})
	s.Require().NoError(err)

	after := snap.Machines["m0"]
	s.Equal(before.Version, after.Version)
	s.Equal(before.Allocated, after.Allocated)
	s.Equal(int64(0), after.Version)
}

func (s *CellTestSuite) TestPrepareRetryReturnsFailedTaskToPending() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})
	job := s.newJobWithTasks("j0", resource.Vector{CPU: 2, Memory: 4})
	c.AddJob(job)

	_, err := c.Commit(Transaction{
		SchedulerID: "b",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: job.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: 0}},
	})
	s.Require().NoError(err)
	_, err = c.FailMachine("m0", 5)
	s.Require().NoError(err)

	c.PrepareRetry(job.Tasks[0].ID)
	task, ok := c.Task(job.Tasks[0].ID)
	s.Require().True(ok)
	s.Equal(TaskPending, task.State)
	s.Empty(task.MachineID)

	// A task that is not failed (it is pending now) is left alone.
	c.PrepareRetry(job.Tasks[0].ID)
	task, _ = c.Task(job.Tasks[0].ID)
	s.Equal(TaskPending, task.State)
}

func (s *CellTestSuite) TestRemoveTaskPrunesUnplacedClone() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})
	job := s.newJobWithTasks("j0", resource.Vector{CPU: 2, Memory: 4})
	c.AddJob(job)

	extra := &Task{ID: "j0-extra", JobID: "j0", Requirement: resource.Vector{CPU: 1, Memory: 1}}
	c.AddExtraTask("j0", extra)
	got, ok := c.Job("j0")
	s.Require().True(ok)
	s.Len(got.Tasks, 2)

	c.RemoveTask("j0-extra")
	got, _ = c.Job("j0")
	s.Len(got.Tasks, 1)
	_, ok = c.Task("j0-extra")
	s.False(ok)
}

func (s *CellTestSuite) TestMachineFailureReleasesTasks() {
	c := New(nil)
	c.AddMachine("m0", "standard", "dc1", resource.Vector{CPU: 4, Memory: 8})
	job := s.newJobWithTasks("j0", resource.Vector{CPU: 2, Memory: 4})
	c.AddJob(job)

	_, err := c.Commit(Transaction{
		SchedulerID: "b",
		Mode:        Incremental,
		Placements:  []Placement{{TaskID: job.Tasks[0].ID, MachineID: "m0", ExpectedMachineVersion: 0}},
	})
	s.Require().NoError(err)

	affected, err := c.FailMachine("m0", 5)
	s.Require().NoError(err)
	s.Equal([]TaskID{job.Tasks[0].ID}, affected)

	task, ok := c.Task(job.Tasks[0].ID)
	s.Require().True(ok)
	s.Equal(TaskFailed, task.State)
	s.Empty(task.MachineID)

	snap := c.Snapshot()
	s.Equal(MachineFailed, snap.Machines["m0"].State)
}
