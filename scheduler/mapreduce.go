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
	"fmt"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/resource"
)

// ScalePolicy selects the elastic target task count for a mapreduce
// job.
type ScalePolicy int

const (
	MaxParallelism ScalePolicy = iota
	GlobalCap
	RelativeJobSize
)

// MapReducePolicy places a job's base tasks and, when spare capacity
// exists, opportunistically clones the map-stage template up to the
// scale rule's target.
type MapReducePolicy struct {
	Scale ScalePolicy
	// HardCap bounds N' under MaxParallelism.
	HardCap int
	// UtilizationThreshold is the ceiling under GlobalCap (e.g. 0.8).
	UtilizationThreshold float64
	// CurrentUtilization is sampled by the caller (the simulator, from
	// cell.Statistics()) once per planning round, since the policy
	// itself never touches the cell.
	CurrentUtilization float64
}

func NewMapReducePolicy(scale ScalePolicy, hardCap int, utilizationThreshold float64) *MapReducePolicy {
	return &MapReducePolicy{Scale: scale, HardCap: hardCap, UtilizationThreshold: utilizationThreshold}
}

func (p *MapReducePolicy) Name() string { return "mapreduce" }

// ObserveUtilization records the cluster-wide CPU utilization sampled
// by the caller just before planning; the GlobalCap scale rule reads it.
func (p *MapReducePolicy) ObserveUtilization(cpu float64) {
	p.CurrentUtilization = cpu
}

func (p *MapReducePolicy) Mode(job *cell.Job) cell.CommitMode {
	// All placements for the job, base and opportunistic extras alike,
	// go into one incremental transaction; conflicts on the extras are
	// tolerated without retry.
	return cell.Incremental
}

// targetCount computes N' given base N and available healthy-machine
// slots (a crude count of machines with room for one more base task).
func (p *MapReducePolicy) targetCount(n, availableSlots int) int {
	switch p.Scale {
	case MaxParallelism:
		target := n + availableSlots
		if p.HardCap > 0 && target > p.HardCap {
			target = p.HardCap
		}
		if target < n {
			target = n
		}
		return target
	case GlobalCap:
		if p.CurrentUtilization >= p.UtilizationThreshold {
			return n
		}
		target := n + availableSlots
		if p.HardCap > 0 && target > p.HardCap {
			target = p.HardCap
		}
		if target < n {
			target = n
		}
		return target
	case RelativeJobSize:
		target := n + availableSlots
		if max := 4 * n; target > max {
			target = max
		}
		return target
	default:
		return n
	}
}

// ExtraPlanResult extends PlanResult with newly synthesized clone tasks
// that the caller must register in the cell (cell.Cell.AddExtraTask)
// before committing the transaction.
type ExtraPlanResult struct {
	PlanResult
	ExtraTasks []*cell.Task
}

// Plan implements Policy. MapReducePolicy additionally exposes PlanWithExtras
// since it is the only policy that synthesizes new tasks; the common
// Actor type checks for that richer interface.
func (p *MapReducePolicy) Plan(job *cell.Job, snap cell.Snapshot, schedulerID string) PlanResult {
	return p.PlanWithExtras(job, snap, schedulerID).PlanResult
}

// PlanWithExtras is the MapReduce-specific planning entry point.
func (p *MapReducePolicy) PlanWithExtras(job *cell.Job, snap cell.Snapshot, schedulerID string) ExtraPlanResult {
	ov := newOverlay(snap)
	completed := completedDeps(job)

	ready := readyTasks(job, completed)
	if len(ready) == 0 {
		return ExtraPlanResult{PlanResult: PlanResult{Transaction: cell.Transaction{SchedulerID: schedulerID, Mode: p.Mode(job)}}}
	}

	// Stage-1 (map) tasks have no dependency and are eligible for
	// opportunistic cloning; stage-2 (reduce) tasks depend on every
	// stage-1 task and are placed as-is, never cloned.
	var stage1, stage2 []*cell.Task
	for _, t := range ready {
		if len(t.Dependencies) == 0 {
			stage1 = append(stage1, t)
		} else {
			stage2 = append(stage2, t)
		}
	}

	var placements []cell.Placement
	var infeasible []cell.TaskID
	var extraTasks []*cell.Task

	placeOne := func(t *cell.Task) bool {
		for _, id := range sortedMachineIDs(snap) {
			remaining, ok := ov.remaining(id)
			if !ok || !t.Requirement.Fits(remaining) {
				continue
			}
			mv, _ := snap.Machine(id)
			placements = append(placements, cell.Placement{
				TaskID:                 t.ID,
				MachineID:              id,
				ExpectedMachineVersion: mv.Version,
			})
			ov.commit(id, t.Requirement)
			return true
		}
		return false
	}

	for _, t := range stage2 {
		if !placeOne(t) {
			infeasible = append(infeasible, t.ID)
		}
	}

	if len(stage1) > 0 {
		template := stage1[0]
		availableSlots := countFeasibleSlots(snap, ov, template.Requirement)
		target := p.targetCount(len(stage1), availableSlots)

		for _, t := range stage1 {
			if !placeOne(t) {
				infeasible = append(infeasible, t.ID)
			}
		}

		// Clone ids must stay unique across planning rounds: a retry
		// re-plans while clones accepted in an earlier round are still
		// live on the job, and colliding with one of those would alias
		// two placed tasks under one id. Skip past every id the job
		// already carries.
		used := make(map[cell.TaskID]bool, len(job.Tasks))
		for _, t := range job.Tasks {
			used[t.ID] = true
		}
		seq := 0
		for i := 0; i < target-len(stage1); i++ {
			clone := template.Clone()
			for {
				clone.ID = cell.TaskID(fmt.Sprintf("%s-clone-%03d", job.ID, seq))
				seq++
				if !used[clone.ID] {
					break
				}
			}
			used[clone.ID] = true
			clone.State = cell.TaskPending
			clone.MachineID = ""
			// Opportunistic extras are best-effort: a clone that finds
			// no room is dropped on the floor, not reported infeasible.
			if placeOne(clone) {
				extraTasks = append(extraTasks, clone)
			}
		}
	}

	return ExtraPlanResult{
		PlanResult: PlanResult{
			Transaction: cell.Transaction{SchedulerID: schedulerID, Mode: p.Mode(job), Placements: placements},
			Infeasible:  infeasible,
		},
		ExtraTasks: extraTasks,
	}
}

func countFeasibleSlots(snap cell.Snapshot, ov *overlay, req resource.Vector) int {
	count := 0
	for _, id := range sortedMachineIDs(snap) {
		remaining, ok := ov.remaining(id)
		if ok && req.Fits(remaining) {
			count++
		}
	}
	return count
}
