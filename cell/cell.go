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
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/atomic"

	"github.com/Warrafeeq/omega-scheduler/metrics"
	"github.com/Warrafeeq/omega-scheduler/resource"
)

// Cell is the authoritative registry of machines, jobs and tasks. It
// is the only shared mutable state in the system: schedulers read
// Snapshots and submit Transactions, but never mutate cell state
// directly.
//
// A single mutex guards the whole commit critical section, so
// validation plus application is atomic with respect to other commits.
// Snapshot reads take the same lock to copy data out, so a snapshot
// waits for any commit in progress to finish and never observes a
// partial one.
type Cell struct {
	mu sync.Mutex

	machines map[MachineID]*machine
	jobs     map[JobID]*Job
	tasks    map[TaskID]*Task

	// cellVersion is atomic so observers can poll it without taking
	// the commit lock.
	cellVersion *atomic.Int64

	totalTransactions int64
	totalCommits      int64
	totalConflicts    int64

	metrics *metrics.CellMetrics
}

// New constructs an empty Cell. m may be nil.
func New(m *metrics.CellMetrics) *Cell {
	if m == nil {
		m = metrics.NewCellMetrics(nil)
	}
	return &Cell{
		machines:    make(map[MachineID]*machine),
		jobs:        make(map[JobID]*Job),
		tasks:       make(map[TaskID]*Task),
		cellVersion: atomic.NewInt64(0),
		metrics:     m,
	}
}

// AddMachine registers a new machine at initialization. Not safe to
// call concurrently with Commit/Snapshot in a way that races on the
// same id; callers add all machines during setup, before the
// simulation loop starts.
func (c *Cell) AddMachine(id MachineID, machineType, failureDomain string, capacity resource.Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machines[id] = newMachine(id, machineType, failureDomain, capacity)
}

// AddJob registers a job and its tasks in the cell. Tasks start in
// TaskPending state.
func (c *Cell) AddJob(job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[job.ID] = job
	for _, t := range job.Tasks {
		c.tasks[t.ID] = t
	}
}

// AddExtraTask registers a task synthesized after its job's initial
// creation (the mapreduce scheduler's opportunistic clones) and
// appends it to the job's task list. An id that is already registered
// is refused: overwriting a live task's record would alias two tasks
// under one id and strand whatever the old one had allocated.
func (c *Cell) AddExtraTask(jobID JobID, task *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tasks[task.ID]; exists {
		log.WithFields(log.Fields{
			"job":  jobID,
			"task": task.ID,
		}).Warn("refusing extra task with duplicate id")
		return
	}
	if job, ok := c.jobs[jobID]; ok {
		job.Tasks = append(job.Tasks, task)
	}
	c.tasks[task.ID] = task
}

// Snapshot returns a consistent, independent copy of every machine
// plus the current cell version. Safe to call concurrently with other
// Snapshot calls and with Commit.
func (c *Cell) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	views := make(map[MachineID]MachineView, len(c.machines))
	for id, m := range c.machines {
		views[id] = m.snapshot()
	}
	return Snapshot{
		CellVersion: c.cellVersion.Load(),
		Machines:    views,
	}
}

// Task returns a copy of the cell's current record for id, for
// read-only inspection (e.g. the simulator checking completion state).
func (c *Cell) Task(id TaskID) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Job returns a copy of the cell's current record for id.
func (c *Cell) Job(id JobID) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return Job{}, false
	}
	cp := *j
	cp.Tasks = make([]*Task, len(j.Tasks))
	for i, t := range j.Tasks {
		cp.Tasks[i] = t.Clone()
	}
	return cp, true
}

// Commit validates every placement in tx against current state, then
// applies per the transaction's mode: gang transactions mutate nothing
// unless every placement validated, incremental ones apply whatever
// passed. Rejections come back in the result; only invariant
// violations surface as errors.
func (c *Cell) Commit(tx Transaction) (TransactionResult, error) {
	sw := c.metrics.CommitLatency.Start()
	defer sw.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalTransactions++
	c.metrics.TotalTransactions.Inc(1)

	outcomes := make([]PlacementOutcome, len(tx.Placements))
	tentative := make([]int, 0, len(tx.Placements))
	// pending sums, per machine, the requirements of placements already
	// accepted earlier in this transaction, so two placements cannot
	// both claim the same remaining capacity.
	pending := make(map[MachineID]resource.Vector)

	for i, p := range tx.Placements {
		reason, err := c.validate(p, pending[p.MachineID])
		if err != nil {
			return TransactionResult{}, err
		}
		outcomes[i] = PlacementOutcome{TaskID: p.TaskID, MachineID: p.MachineID, Reason: reason}
		if reason == RejectNone {
			tentative = append(tentative, i)
			pending[p.MachineID] = pending[p.MachineID].Add(c.tasks[p.TaskID].Requirement)
		}
	}

	rejectedCount := len(tx.Placements) - len(tentative)

	if tx.Mode == Gang && rejectedCount > 0 {
		// Gang atomicity: discard every tentative acceptance, mark
		// everything rejected in the result we hand back, mutate nothing.
		for i := range outcomes {
			if outcomes[i].Reason == RejectNone {
				outcomes[i].Reason = RejectGangAborted
			}
		}
		c.totalConflicts += int64(len(tx.Placements))
		c.metrics.TotalConflicts.Inc(int64(len(tx.Placements)))
		log.WithFields(log.Fields{
			"scheduler": tx.SchedulerID,
			"placements": len(tx.Placements),
		}).Debug("gang transaction rejected")
		return TransactionResult{Outcomes: outcomes, Applied: false}, nil
	}

	applied := false
	for _, i := range tentative {
		p := tx.Placements[i]
		if err := c.apply(p); err != nil {
			return TransactionResult{}, err
		}
		applied = true
	}

	if applied {
		c.cellVersion.Inc()
		c.totalCommits++
		c.metrics.TotalCommits.Inc(1)
	}

	if rejectedCount > 0 {
		c.totalConflicts += int64(rejectedCount)
		c.metrics.TotalConflicts.Inc(int64(rejectedCount))
	}

	return TransactionResult{Outcomes: outcomes, Applied: applied}, nil
}

// validate checks one placement against current cell state: machine
// exists and is healthy, version matches, task not already placed,
// requirement fits in the machine's remaining capacity minus pending
// (what earlier accepted placements of the same transaction claim on
// it). It does not mutate state.
func (c *Cell) validate(p Placement, pending resource.Vector) (RejectReason, error) {
	m, ok := c.machines[p.MachineID]
	if !ok || m.state == MachineFailed {
		return RejectMachineFailed, nil
	}
	if m.version != p.ExpectedMachineVersion {
		return RejectVersionStale, nil
	}
	task, ok := c.tasks[p.TaskID]
	if !ok {
		return RejectDuplicateTask, nil
	}
	if task.MachineID != "" {
		return RejectDuplicateTask, nil
	}
	if !task.Requirement.Fits(m.remaining().Sub(pending)) {
		return RejectInsufficientResources, nil
	}
	return RejectNone, nil
}

// apply mutates state for one already-validated, accepted placement.
func (c *Cell) apply(p Placement) error {
	m := c.machines[p.MachineID]
	task := c.tasks[p.TaskID]

	before := m.allocated
	m.place(p.TaskID, task.Requirement)
	if !m.allocated.NonNegative() || !m.allocated.Fits(m.capacity) {
		m.allocated = before
		return newInvariantViolation(m.id, p.TaskID, "allocation exceeded capacity or went negative on placement")
	}

	task.MachineID = p.MachineID
	task.State = TaskScheduled
	return nil
}

// MarkRunning transitions a scheduled task to running and records its
// start time. The simulator calls this once a task's dependencies
// clear; tasks with no dependencies are marked running immediately at
// scheduling time.
func (c *Cell) MarkRunning(taskID TaskID, startTime float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok || task.State != TaskScheduled {
		return nil
	}
	task.State = TaskRunning
	task.StartTime = startTime
	return nil
}

// Release removes the task from its machine, subtracts its
// requirement from the machine's allocation, bumps the machine's
// version, and sets the task's final state and end time. Idempotent
// per task id.
func (c *Cell) Release(taskID TaskID, final TaskState, endTime float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked(taskID, final, endTime)
}

func (c *Cell) releaseLocked(taskID TaskID, final TaskState, endTime float64) error {
	task, ok := c.tasks[taskID]
	if !ok {
		return nil
	}
	if task.MachineID == "" {
		// Already released: idempotent no-op.
		return nil
	}
	m, ok := c.machines[task.MachineID]
	if !ok {
		return newInvariantViolation(task.MachineID, taskID, "task references nonexistent machine on release")
	}
	m.release(taskID, task.Requirement)
	if !m.allocated.NonNegative() {
		return newInvariantViolation(m.id, taskID, "allocation went negative on release")
	}
	task.MachineID = ""
	task.State = final
	task.EndTime = endTime
	return nil
}

// PrepareRetry returns a failed, unplaced task to TaskPending so a
// scheduler can place it again after its machine failed. No-op for
// tasks in any other state.
func (c *Cell) PrepareRetry(taskID TaskID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok || task.State != TaskFailed || task.MachineID != "" {
		return
	}
	task.State = TaskPending
	task.StartTime = 0
	task.EndTime = 0
}

// MarkTaskFailed marks a task failed whether or not it is placed: a
// placed task is released first, an unplaced one just transitions.
// Used when a job is abandoned (infeasible requirement or exhausted
// retries).
func (c *Cell) MarkTaskFailed(taskID TaskID, now float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return nil
	}
	if task.MachineID != "" {
		return c.releaseLocked(taskID, TaskFailed, now)
	}
	if task.State == TaskCompleted || task.State == TaskFailed {
		return nil
	}
	task.State = TaskFailed
	task.EndTime = now
	return nil
}

// RemoveTask deletes an unplaced task from the cell and from its job's
// task list. Used to prune opportunistic clone tasks whose placements
// were rejected, so they don't hold their job open forever. No-op for
// placed tasks.
func (c *Cell) RemoveTask(taskID TaskID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok || task.MachineID != "" {
		return
	}
	delete(c.tasks, taskID)
	if job, ok := c.jobs[task.JobID]; ok {
		for i, t := range job.Tasks {
			if t.ID == taskID {
				job.Tasks = append(job.Tasks[:i], job.Tasks[i+1:]...)
				break
			}
		}
	}
}

// FailMachine marks a machine failed, releases every task running on
// it (marking each TaskFailed), and returns the ids of the tasks that
// were affected so the caller (the simulator) can re-queue their jobs.
func (c *Cell) FailMachine(id MachineID, now float64) ([]TaskID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.machines[id]
	if !ok || m.state == MachineFailed {
		return nil, nil
	}

	affected := make([]TaskID, 0, len(m.tasks))
	for taskID := range m.tasks {
		affected = append(affected, taskID)
	}

	m.fail()

	for _, taskID := range affected {
		task := c.tasks[taskID]
		delete(m.tasks, taskID)
		task.MachineID = ""
		task.State = TaskFailed
		task.EndTime = now
	}
	m.allocated = resource.Vector{}

	log.WithFields(log.Fields{
		"machine": id,
		"tasks":   len(affected),
	}).Warn("machine failed")

	return affected, nil
}

// RecoverMachine restores a failed machine to healthy with zero
// allocation.
func (c *Cell) RecoverMachine(id MachineID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.machines[id]
	if !ok {
		return nil
	}
	m.recover()
	log.WithField("machine", id).Info("machine recovered")
	return nil
}

// Stats is the cell's block of the results record.
type Stats struct {
	TotalTransactions int64
	TotalCommits      int64
	TotalConflicts    int64
	ConflictRate      float64
	CPUUtilization    float64
	GPUUtilization    float64
	MemUtilization    float64
}

// Statistics computes the cell_state results block.
func (c *Cell) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if c.totalTransactions > 0 {
		rate = float64(c.totalConflicts) / float64(c.totalTransactions)
	}

	// Iterate machines in sorted id order: float accumulation order
	// must not depend on map iteration, or repeated runs of the same
	// seed could drift in the last ulp.
	ids := make([]string, 0, len(c.machines))
	for id := range c.machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var capCPU, capGPU, capMem, allocCPU, allocGPU, allocMem float64
	for _, id := range ids {
		m := c.machines[id]
		capCPU += float64(m.capacity.CPU)
		capGPU += float64(m.capacity.GPU)
		capMem += m.capacity.Memory
		allocCPU += float64(m.allocated.CPU)
		allocGPU += float64(m.allocated.GPU)
		allocMem += m.allocated.Memory
	}

	util := func(alloc, cap float64) float64 {
		if cap == 0 {
			return 0
		}
		return alloc / cap
	}

	cpuUtil := util(allocCPU, capCPU)
	gpuUtil := util(allocGPU, capGPU)
	memUtil := util(allocMem, capMem)
	c.metrics.CPUUtilization.Update(cpuUtil)
	c.metrics.GPUUtilization.Update(gpuUtil)
	c.metrics.MemUtilization.Update(memUtil)

	return Stats{
		TotalTransactions: c.totalTransactions,
		TotalCommits:      c.totalCommits,
		TotalConflicts:    c.totalConflicts,
		ConflictRate:      rate,
		CPUUtilization:    cpuUtil,
		GPUUtilization:    gpuUtil,
		MemUtilization:    memUtil,
	}
}

// CellVersion returns the current cell version without taking the
// commit lock.
func (c *Cell) CellVersion() int64 {
	return c.cellVersion.Load()
}

// MachineCount returns the number of machines registered in the cell.
func (c *Cell) MachineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.machines)
}
