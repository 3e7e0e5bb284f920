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
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/resource"
)

type SchedulerTestSuite struct {
	suite.Suite
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func snapshotFromCell(c *cell.Cell) cell.Snapshot {
	return c.Snapshot()
}

// Scenario 4: service scheduler failure-domain spreading.
func (s *SchedulerTestSuite) TestServiceSpreadsAcrossFailureDomains() {
	c := cell.New(nil)
	c.AddMachine("m0", "standard", "dc-a", resource.Vector{CPU: 4, Memory: 8})
	c.AddMachine("m1", "standard", "dc-a", resource.Vector{CPU: 4, Memory: 8})
	c.AddMachine("m2", "standard", "dc-b", resource.Vector{CPU: 4, Memory: 8})
	c.AddMachine("m3", "standard", "dc-b", resource.Vector{CPU: 4, Memory: 8})

	job := &cell.Job{ID: "svc0", Type: cell.JobService}
	for i := 0; i < 4; i++ {
		job.Tasks = append(job.Tasks, &cell.Task{
			ID:          "t" + string(rune('0'+i)),
			JobID:       job.ID,
			Requirement: resource.Vector{CPU: 1, Memory: 1},
			Duration:    10,
		})
	}
	c.AddJob(job)

	policy := NewServicePolicy()
	snap := snapshotFromCell(c)
	result := policy.Plan(job, snap, "svc-sched")
	s.Require().Empty(result.Infeasible)
	s.Require().Len(result.Transaction.Placements, 4)

	domainCount := map[string]int{}
	machineToDomain := map[cell.MachineID]string{"m0": "dc-a", "m1": "dc-a", "m2": "dc-b", "m3": "dc-b"}
	for _, p := range result.Transaction.Placements {
		domainCount[machineToDomain[p.MachineID]]++
	}
	s.Equal(2, domainCount["dc-a"])
	s.Equal(2, domainCount["dc-b"])
}

// Scenario 6: MapReduce opportunistic scale-up.
func (s *SchedulerTestSuite) TestMapReduceScalesToAvailableSlots() {
	c := cell.New(nil)
	// 10 slots of (1,0,1) available.
	for i := 0; i < 10; i++ {
		c.AddMachine(machineID(i), "standard", "dc1", resource.Vector{CPU: 1, Memory: 1})
	}

	job := &cell.Job{ID: "mr0", Type: cell.JobMapReduce}
	for i := 0; i < 4; i++ {
		job.Tasks = append(job.Tasks, &cell.Task{
			ID:          "base" + string(rune('0'+i)),
			JobID:       job.ID,
			Requirement: resource.Vector{CPU: 1, Memory: 1},
			Duration:    300,
		})
	}
	c.AddJob(job)

	policy := NewMapReducePolicy(MaxParallelism, 0, 0)
	snap := snapshotFromCell(c)
	result := policy.PlanWithExtras(job, snap, "mr-sched")

	s.Len(result.ExtraTasks, 6) // N=4 -> N'=10, 6 extras
	s.Len(result.Transaction.Placements, 10)
	// Every placement targets a distinct machine and a distinct task.
	machines := map[cell.MachineID]bool{}
	tasks := map[cell.TaskID]bool{}
	for _, p := range result.Transaction.Placements {
		s.False(machines[p.MachineID])
		s.False(tasks[p.TaskID])
		machines[p.MachineID] = true
		tasks[p.TaskID] = true
	}
}

// A retry round must not re-issue the ids of clones accepted in an
// earlier round: those are still live on the job, and aliasing them
// would put one task id on two machines.
func (s *SchedulerTestSuite) TestMapReduceCloneIDsUniqueAcrossRounds() {
	c := cell.New(nil)
	for i := 0; i < 6; i++ {
		c.AddMachine(machineID(i), "standard", "dc1", resource.Vector{CPU: 1, Memory: 1})
	}

	job := &cell.Job{ID: "mr0", Type: cell.JobMapReduce}
	for i := 0; i < 2; i++ {
		job.Tasks = append(job.Tasks, &cell.Task{
			ID:          "base" + string(rune('0'+i)),
			JobID:       job.ID,
			Requirement: resource.Vector{CPU: 1, Memory: 1},
			Duration:    300,
		})
	}
	c.AddJob(job)

	policy := NewMapReducePolicy(MaxParallelism, 0, 0)
	first := policy.PlanWithExtras(job, c.Snapshot(), "mr-sched")
	s.Require().NotEmpty(first.ExtraTasks)

	// Round 1's clones were accepted: register them and mark everything
	// placed except one base task, which conflicted and retries.
	seen := map[cell.TaskID]bool{}
	for _, extra := range first.ExtraTasks {
		c.AddExtraTask(job.ID, extra)
		extra.State = cell.TaskScheduled
		extra.MachineID = machineID(5)
		seen[extra.ID] = true
	}
	job.Tasks[1].State = cell.TaskScheduled
	job.Tasks[1].MachineID = machineID(4)

	second := policy.PlanWithExtras(job, c.Snapshot(), "mr-sched")
	for _, extra := range second.ExtraTasks {
		s.False(seen[extra.ID], "clone id %s reused across rounds", extra.ID)
	}
}

func machineID(i int) string {
	return string(rune('a'+i)) + "-m"
}

func (s *SchedulerTestSuite) TestBatchBestFitPicksTightestMachine() {
	c := cell.New(nil)
	c.AddMachine("small", "small", "dc1", resource.Vector{CPU: 2, Memory: 4})
	c.AddMachine("large", "large", "dc1", resource.Vector{CPU: 8, Memory: 32})

	job := &cell.Job{ID: "b0", Type: cell.JobBatch}
	job.Tasks = append(job.Tasks, &cell.Task{ID: "t0", JobID: "b0", Requirement: resource.Vector{CPU: 2, Memory: 4}, Duration: 10})
	c.AddJob(job)

	policy := NewBatchPolicy(BestFit)
	snap := snapshotFromCell(c)
	result := policy.Plan(job, snap, "batch-sched")
	s.Require().Len(result.Transaction.Placements, 1)
	s.Equal(cell.MachineID("small"), result.Transaction.Placements[0].MachineID)
}
