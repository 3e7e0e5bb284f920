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
	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/resource"
)

// PlacementStrategy selects among feasible machines for one task.
type PlacementStrategy int

const (
	FirstFit PlacementStrategy = iota
	BestFit
	WorstFit
)

// BatchPolicy is the fast-path placement policy: a single greedy pass
// over the job's tasks with a configurable fit rule.
type BatchPolicy struct {
	Strategy PlacementStrategy
	// ForceGang commits every job from this scheduler all-or-nothing,
	// regardless of the job's own flag.
	ForceGang bool
}

// NewBatchPolicy returns a BatchPolicy using strategy.
func NewBatchPolicy(strategy PlacementStrategy) *BatchPolicy {
	return &BatchPolicy{Strategy: strategy}
}

func (p *BatchPolicy) Name() string { return "batch" }

func (p *BatchPolicy) Mode(job *cell.Job) cell.CommitMode {
	if p.ForceGang || job.RequireGang {
		return cell.Gang
	}
	return cell.Incremental
}

func (p *BatchPolicy) Plan(job *cell.Job, snap cell.Snapshot, schedulerID string) PlanResult {
	ov := newOverlay(snap)
	completed := completedDeps(job)

	var placements []cell.Placement
	var infeasible []cell.TaskID

	for _, t := range readyTasks(job, completed) {
		machineID, ok := p.selectMachine(t.Requirement, ov)
		if !ok {
			infeasible = append(infeasible, t.ID)
			continue
		}
		mv, _ := snap.Machine(machineID)
		placements = append(placements, cell.Placement{
			TaskID:                 t.ID,
			MachineID:              machineID,
			ExpectedMachineVersion: mv.Version,
		})
		ov.commit(machineID, t.Requirement)
	}

	return PlanResult{
		Transaction: cell.Transaction{SchedulerID: schedulerID, Mode: p.Mode(job), Placements: placements},
		Infeasible:  infeasible,
	}
}

func (p *BatchPolicy) selectMachine(req resource.Vector, ov *overlay) (cell.MachineID, bool) {
	var best cell.MachineID
	var bestLeftover float64
	found := false

	for _, id := range sortedMachineIDs(ov.snap) {
		remaining, ok := ov.remaining(id)
		if !ok || !req.Fits(remaining) {
			continue
		}
		if p.Strategy == FirstFit {
			return id, true
		}

		leftover := remaining.Sub(req).Magnitude()
		switch {
		case !found:
			best, bestLeftover, found = id, leftover, true
		case p.Strategy == BestFit && leftover < bestLeftover:
			best, bestLeftover = id, leftover
		case p.Strategy == WorstFit && leftover > bestLeftover:
			best, bestLeftover = id, leftover
		}
	}
	return best, found
}

// completedDeps returns the set of the job's task ids that are in
// TaskCompleted state, used to decide which Pending tasks are ready.
func completedDeps(job *cell.Job) map[cell.TaskID]bool {
	out := make(map[cell.TaskID]bool, len(job.Tasks))
	for _, t := range job.Tasks {
		if t.State == cell.TaskCompleted {
			out[t.ID] = true
		}
	}
	return out
}
