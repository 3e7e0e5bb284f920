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
	"math/rand"
	"sort"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/metrics"
)

// RandomPolicy places each task on a uniformly random feasible
// machine. Useful as a conflict-heavy baseline in experiments.
type RandomPolicy struct {
	rng *rand.Rand
}

// NewRandomPolicy returns a RandomPolicy drawing from rng, which callers
// seed deterministically alongside the rest of the simulation's PRNG.
func NewRandomPolicy(rng *rand.Rand) *RandomPolicy {
	return &RandomPolicy{rng: rng}
}

func (p *RandomPolicy) Name() string { return "random" }

func (p *RandomPolicy) Mode(job *cell.Job) cell.CommitMode {
	return cell.Incremental
}

func (p *RandomPolicy) Plan(job *cell.Job, snap cell.Snapshot, schedulerID string) PlanResult {
	ov := newOverlay(snap)
	completed := completedDeps(job)

	var placements []cell.Placement
	var infeasible []cell.TaskID

	for _, t := range readyTasks(job, completed) {
		var feasible []cell.MachineID
		for _, id := range sortedMachineIDs(snap) {
			if remaining, ok := ov.remaining(id); ok && t.Requirement.Fits(remaining) {
				feasible = append(feasible, id)
			}
		}
		if len(feasible) == 0 {
			infeasible = append(infeasible, t.ID)
			continue
		}
		id := feasible[p.rng.Intn(len(feasible))]
		mv, _ := snap.Machine(id)
		placements = append(placements, cell.Placement{
			TaskID:                 t.ID,
			MachineID:              id,
			ExpectedMachineVersion: mv.Version,
		})
		ov.commit(id, t.Requirement)
	}

	return PlanResult{
		Transaction: cell.Transaction{SchedulerID: schedulerID, Mode: p.Mode(job), Placements: placements},
		Infeasible:  infeasible,
	}
}

// NewFirstFitPolicy returns a BatchPolicy with the FirstFit strategy,
// the placement rule behind the `first_fit` scheduler type.
func NewFirstFitPolicy() *BatchPolicy {
	return NewBatchPolicy(FirstFit)
}

// PriorityActor wraps Actor with a priority-ordered queue: Dequeue
// always returns the highest-priority job, ties broken FIFO.
type PriorityActor struct {
	*Actor
}

// NewPriorityActor builds a PriorityActor using policy for placement.
func NewPriorityActor(id string, jobType cell.JobType, policy Policy, decisionTimeJob, decisionTimeTask float64, backoff BackoffPolicy, m *metrics.SchedulerMetrics) *PriorityActor {
	return &PriorityActor{Actor: NewActor(id, jobType, policy, decisionTimeJob, decisionTimeTask, backoff, m)}
}

// Enqueue inserts job keeping the queue sorted by descending priority,
// stable for equal priorities (insertion order preserved).
func (a *PriorityActor) Enqueue(job *cell.Job) {
	a.queue = append(a.queue, job)
	sort.SliceStable(a.queue, func(i, j int) bool {
		return a.queue[i].Priority > a.queue[j].Priority
	})
}

// WeightedRoundRobinActor cycles deterministically among N independent
// sub-actors by integer weight, used for the `weighted_round_robin`
// scheduler type: each sub-actor gets `weight` consecutive activations
// before control passes to the next, matching a classic WRR discipline.
type WeightedRoundRobinActor struct {
	ID      string
	JobType cell.JobType
	subs    []*Actor
	weights []int
	cursor  int
	budget  int
}

// NewWeightedRoundRobinActor builds a WeightedRoundRobinActor over subs,
// each paired with its weight (subs[i] gets weights[i] consecutive
// turns). All subs must accept the same job type.
func NewWeightedRoundRobinActor(id string, jobType cell.JobType, subs []*Actor, weights []int) *WeightedRoundRobinActor {
	return &WeightedRoundRobinActor{ID: id, JobType: jobType, subs: subs, weights: weights}
}

func (w *WeightedRoundRobinActor) Accepts(t cell.JobType) bool { return w.JobType == t }

// SchedulerID returns the actor's id, satisfying SchedulerActor.
func (w *WeightedRoundRobinActor) SchedulerID() string { return w.ID }

// Dequeue, DecisionTime, Plan, RecordAttempt, RecordJobScheduled,
// RecordBusy, NextBackoff and ResetRetries all delegate to whichever
// sub-actor currently holds the weighted turn (Active), so one
// WeightedRoundRobinActor satisfies SchedulerActor by forwarding a
// single activation to the sub that should run it.
func (w *WeightedRoundRobinActor) Dequeue() (*cell.Job, bool) { return w.Active().Dequeue() }

func (w *WeightedRoundRobinActor) Len() int {
	total := 0
	for _, s := range w.subs {
		total += s.Len()
	}
	return total
}

func (w *WeightedRoundRobinActor) DecisionTime(job *cell.Job) float64 {
	return w.Active().DecisionTime(job)
}

func (w *WeightedRoundRobinActor) Plan(snap cell.Snapshot, job *cell.Job) ExtraPlanResult {
	return w.Active().Plan(snap, job)
}

func (w *WeightedRoundRobinActor) RecordAttempt(result cell.TransactionResult) {
	w.Active().RecordAttempt(result)
	w.ConsumeTurn()
}

func (w *WeightedRoundRobinActor) RecordJobScheduled(waitTime float64) {
	w.Active().RecordJobScheduled(waitTime)
}

func (w *WeightedRoundRobinActor) RecordBusy(busyTime float64) { w.Active().RecordBusy(busyTime) }

func (w *WeightedRoundRobinActor) ObserveUtilization(cpu float64) {
	for _, s := range w.subs {
		s.ObserveUtilization(cpu)
	}
}

func (w *WeightedRoundRobinActor) NextBackoff(jobID cell.JobID) (float64, bool) {
	return w.Active().NextBackoff(jobID)
}

func (w *WeightedRoundRobinActor) ResetRetries(jobID cell.JobID) { w.Active().ResetRetries(jobID) }

// Statistics aggregates every sub-actor's counters, since the weighted
// actor as a whole is what the results record reports on.
func (w *WeightedRoundRobinActor) Statistics() Stats {
	var agg Stats
	for _, s := range w.subs {
		st := s.Statistics()
		agg.JobsScheduled += st.JobsScheduled
		agg.TasksScheduled += st.TasksScheduled
		agg.Conflicts += st.Conflicts
		agg.BusyTime += st.BusyTime
		agg.WaitTimeSum += st.WaitTimeSum
	}
	return agg
}

// Enqueue routes job to the sub-actor with the shortest queue, a simple
// load-spreading rule consistent with "weighted" round robin giving
// heavier-weighted subs more turns to drain a naturally larger share.
func (w *WeightedRoundRobinActor) Enqueue(job *cell.Job) {
	w.subs[w.nextForEnqueue()].Enqueue(job)
}

func (w *WeightedRoundRobinActor) nextForEnqueue() int {
	shortest := 0
	for i, s := range w.subs {
		if s.Len() < w.subs[shortest].Len() {
			shortest = i
		}
	}
	return shortest
}

// Active returns the sub-actor whose turn it currently is, advancing
// the weighted cursor when its budget is exhausted or it has no work.
func (w *WeightedRoundRobinActor) Active() *Actor {
	for range w.subs {
		if w.budget <= 0 {
			w.cursor = (w.cursor + 1) % len(w.subs)
			w.budget = w.weights[w.cursor]
		}
		sub := w.subs[w.cursor]
		if sub.Len() > 0 {
			return sub
		}
		w.budget = 0
	}
	return w.subs[w.cursor]
}

// ConsumeTurn decrements the active sub-actor's remaining budget after
// one activation.
func (w *WeightedRoundRobinActor) ConsumeTurn() {
	w.budget--
}

// Subs returns the underlying sub-actors, for stats aggregation.
func (w *WeightedRoundRobinActor) Subs() []*Actor {
	return w.subs
}
