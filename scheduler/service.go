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
	"math"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/resource"
)

// ServicePolicy scores every feasible machine for each task and takes
// the maximum, preferring resource headroom, light load, failure-domain
// diversity and GPU affinity; ties break toward the lowest machine id.
type ServicePolicy struct {
	// ForceGang commits every job from this scheduler all-or-nothing,
	// regardless of the job's own flag.
	ForceGang bool
}

func NewServicePolicy() *ServicePolicy { return &ServicePolicy{} }

func (p *ServicePolicy) Name() string { return "service" }

func (p *ServicePolicy) Mode(job *cell.Job) cell.CommitMode {
	if p.ForceGang || job.RequireGang {
		return cell.Gang
	}
	return cell.Incremental
}

func (p *ServicePolicy) Plan(job *cell.Job, snap cell.Snapshot, schedulerID string) PlanResult {
	ov := newOverlay(snap)
	completed := completedDeps(job)

	jobTaskIDs := make(map[cell.TaskID]bool, len(job.Tasks))
	for _, t := range job.Tasks {
		jobTaskIDs[t.ID] = true
	}

	domainCounts := p.initialDomainCounts(job, snap, jobTaskIDs)
	tentativeTaskCount := map[cell.MachineID]int{}
	tentativeSameJob := map[cell.MachineID]bool{}

	var placements []cell.Placement
	var infeasible []cell.TaskID

	for _, t := range readyTasks(job, completed) {
		machineID, ok := p.selectMachine(t, ov, snap, jobTaskIDs, domainCounts, tentativeTaskCount, tentativeSameJob, job.AntiAffinity())
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
		tentativeTaskCount[machineID]++
		tentativeSameJob[machineID] = true
		domainCounts[mv.FailureDomain]++
	}

	return PlanResult{
		Transaction: cell.Transaction{SchedulerID: schedulerID, Mode: p.Mode(job), Placements: placements},
		Infeasible:  infeasible,
	}
}

// initialDomainCounts seeds the per-failure-domain placement count from
// tasks of this job already present on machines in the snapshot (e.g.
// from an earlier planning round for the same job).
func (p *ServicePolicy) initialDomainCounts(job *cell.Job, snap cell.Snapshot, jobTaskIDs map[cell.TaskID]bool) map[string]int {
	counts := map[string]int{}
	for _, mv := range snap.Machines {
		for _, taskID := range mv.Tasks {
			if jobTaskIDs[taskID] {
				counts[mv.FailureDomain]++
			}
		}
	}
	return counts
}

func (p *ServicePolicy) selectMachine(
	t *cell.Task,
	ov *overlay,
	snap cell.Snapshot,
	jobTaskIDs map[cell.TaskID]bool,
	domainCounts map[string]int,
	tentativeTaskCount map[cell.MachineID]int,
	tentativeSameJob map[cell.MachineID]bool,
	antiAffinity bool,
) (cell.MachineID, bool) {
	var best cell.MachineID
	bestScore := math.Inf(-1)
	found := false

	for _, id := range sortedMachineIDs(snap) {
		mv, _ := snap.Machine(id)
		remaining, ok := ov.remaining(id)
		if !ok || !t.Requirement.Fits(remaining) {
			continue
		}

		if antiAffinity {
			hasSameJob := tentativeSameJob[id]
			if !hasSameJob {
				for _, taskID := range mv.Tasks {
					if jobTaskIDs[taskID] {
						hasSameJob = true
						break
					}
				}
			}
			if hasSameJob {
				continue // hard anti-affinity violated: -inf, excluded outright
			}
		}

		score := p.score(t, mv, remaining, domainCounts, tentativeTaskCount[id])
		if !found || score > bestScore {
			best, bestScore, found = id, score, true
		}
	}
	return best, found
}

// score rates one feasible machine for t. remaining is the overlay's
// view, so headroom reflects placements made earlier in the same pass
// the same way the feasibility check and load term already do.
func (p *ServicePolicy) score(t *cell.Task, mv cell.MachineView, remaining resource.Vector, domainCounts map[string]int, tentativeTasks int) float64 {
	var s float64

	if mv.Capacity.CPU > 0 {
		s += 100 * (float64(remaining.CPU) / float64(mv.Capacity.CPU))
	}

	s -= 5 * float64(len(mv.Tasks)+tentativeTasks)

	domainCount := domainCounts[mv.FailureDomain]
	if domainCount == 0 {
		s += 20
	} else {
		s += 20 / float64(domainCount)
	}

	if t.Requirement.HasGPU() && mv.Capacity.GPU > 0 {
		s += 50
	}

	return s
}
