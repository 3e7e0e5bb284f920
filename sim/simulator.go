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
	"math"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/metrics"
	"github.com/Warrafeeq/omega-scheduler/scheduler"
)

// Simulator is the discrete-event kernel. It owns virtual time: the
// clock only moves when the next event is dispatched. Scheduler actors
// plan against snapshots taken at activation time, and their
// transactions reach the cell one decision latency later, so commits
// from other actors may land in between and stale the plan.
type Simulator struct {
	cell       *cell.Cell
	schedulers []scheduler.SchedulerActor
	injector   *FailureInjector
	metrics    *metrics.SimMetrics

	queue *eventQueue
	now   float64
	seq   int64

	jobs      map[cell.JobID]*cell.Job
	busyUntil map[string]float64
	// waiting maps a predecessor task id to the scheduled dependents
	// blocked on its completion.
	waiting map[cell.TaskID][]cell.TaskID

	exhausted    map[cell.JobID]bool
	scheduledRec map[cell.JobID]bool
	doneJobs     map[cell.JobID]bool

	completedJobs int
	failedJobs    int

	// time-weighted allocation integrals, in utilization-seconds.
	cpuSeconds float64
	gpuSeconds float64
	memSeconds float64
}

// New constructs a Simulator over c driving actors. injector and m may
// be nil (no failure injection, no-op metrics).
func New(c *cell.Cell, actors []scheduler.SchedulerActor, injector *FailureInjector, m *metrics.SimMetrics) *Simulator {
	if m == nil {
		m = metrics.NewSimMetrics(nil)
	}
	return &Simulator{
		cell:         c,
		schedulers:   actors,
		injector:     injector,
		metrics:      m,
		queue:        newEventQueue(),
		jobs:         make(map[cell.JobID]*cell.Job),
		busyUntil:    make(map[string]float64),
		waiting:      make(map[cell.TaskID][]cell.TaskID),
		exhausted:    make(map[cell.JobID]bool),
		scheduledRec: make(map[cell.JobID]bool),
		doneJobs:     make(map[cell.JobID]bool),
	}
}

// AddArrival schedules job to arrive at virtual time t. Call before
// Run; arrivals pushed after Run returns are never dispatched.
func (s *Simulator) AddArrival(t float64, job *cell.Job) {
	s.push(t, EventJobArrival, JobArrivalPayload{Job: job})
}

// ScheduleFailure schedules an explicit failure of machine id at t, in
// addition to whatever the injector produces.
func (s *Simulator) ScheduleFailure(t float64, id cell.MachineID) {
	s.push(t, EventMachineFailure, MachineFailurePayload{MachineID: id})
}

// Run drives the event loop until virtual time reaches duration, then
// finalizes and returns the results record. An invariant violation
// inside the cell aborts the run with a diagnostic naming the event
// being dispatched.
func (s *Simulator) Run(duration float64) (Results, error) {
	if s.injector.Enabled() {
		if d := s.injector.NextFailureDelay(s.cell.MachineCount()); !math.IsInf(d, 1) {
			s.push(d, EventMachineFailure, MachineFailurePayload{})
		}
	}

	for {
		e := s.queue.pop()
		if e == nil || e.Time > duration {
			break
		}
		s.advance(e.Time)
		if err := s.dispatch(e); err != nil {
			return Results{}, errors.Wrapf(err, "sim: aborting at t=%.6f dispatching event kind=%d seq=%d", e.Time, e.Kind, e.Seq)
		}
	}
	s.advance(duration)

	log.WithFields(log.Fields{
		"duration":       duration,
		"completed_jobs": s.completedJobs,
		"failed_jobs":    s.failedJobs,
		"cell_version":   s.cell.CellVersion(),
	}).Info("simulation finished")

	return s.results(duration), nil
}

// Now returns the current virtual time.
func (s *Simulator) Now() float64 {
	return s.now
}

func (s *Simulator) push(t float64, kind EventKind, payload interface{}) {
	s.seq++
	s.queue.push(&Event{Time: t, Kind: kind, Seq: s.seq, Payload: payload})
	s.metrics.QueueDepth.Update(float64(s.queue.Len()))
}

// advance moves virtual time forward to t, accumulating the
// time-weighted utilization integral over the interval just skipped.
func (s *Simulator) advance(t float64) {
	if t <= s.now {
		return
	}
	st := s.cell.Statistics()
	dt := t - s.now
	s.cpuSeconds += st.CPUUtilization * dt
	s.gpuSeconds += st.GPUUtilization * dt
	s.memSeconds += st.MemUtilization * dt
	s.now = t
}

func (s *Simulator) dispatch(e *Event) error {
	switch e.Kind {
	case EventJobArrival:
		return s.onArrival(e.Payload.(JobArrivalPayload))
	case EventSchedulerActivation:
		return s.onActivation(e.Payload.(SchedulerActivationPayload))
	case EventCommit:
		return s.onCommit(e.Payload.(CommitPayload))
	case EventTaskCompletion:
		return s.onCompletion(e.Payload.(TaskCompletionPayload))
	case EventMachineFailure:
		return s.onMachineFailure(e.Payload.(MachineFailurePayload))
	case EventMachineRecovery:
		return s.onMachineRecovery(e.Payload.(MachineRecoveryPayload))
	default:
		return errors.Errorf("sim: unknown event kind %d", e.Kind)
	}
}

// route returns the first actor accepting jobs of type t, or nil.
func (s *Simulator) route(t cell.JobType) scheduler.SchedulerActor {
	for _, a := range s.schedulers {
		if a.Accepts(t) {
			return a
		}
	}
	return nil
}

func (s *Simulator) actor(id string) scheduler.SchedulerActor {
	for _, a := range s.schedulers {
		if a.SchedulerID() == id {
			return a
		}
	}
	return nil
}

func (s *Simulator) onArrival(p JobArrivalPayload) error {
	job := p.Job
	s.metrics.JobArrivals.Inc(1)
	s.cell.AddJob(job)
	s.jobs[job.ID] = job

	a := s.route(job.Type)
	if a == nil {
		log.WithFields(log.Fields{
			"job":  job.ID,
			"type": job.Type.String(),
		}).Warn("no scheduler accepts job type")
		return s.failJob(nil, job)
	}
	a.Enqueue(job)
	s.push(s.now, EventSchedulerActivation, SchedulerActivationPayload{SchedulerID: a.SchedulerID()})
	return nil
}

// onActivation runs one plan phase for one job: take a snapshot,
// charge the decision latency, and park the resulting transaction on
// the queue to commit once the latency has elapsed.
func (s *Simulator) onActivation(p SchedulerActivationPayload) error {
	a := s.actor(p.SchedulerID)
	if a == nil {
		return nil
	}
	if until := s.busyUntil[p.SchedulerID]; until > s.now {
		s.push(until, EventSchedulerActivation, p)
		return nil
	}
	job, ok := a.Dequeue()
	if !ok {
		return nil
	}

	st := s.cell.Statistics()
	a.ObserveUtilization(st.CPUUtilization)

	snap := s.cell.Snapshot()
	latency := a.DecisionTime(job)
	a.RecordBusy(latency)
	s.busyUntil[p.SchedulerID] = s.now + latency

	plan := a.Plan(snap, job)
	extras := make([]cell.TaskID, 0, len(plan.ExtraTasks))
	for _, extra := range plan.ExtraTasks {
		s.cell.AddExtraTask(job.ID, extra)
		extras = append(extras, extra.ID)
	}

	s.push(s.now+latency, EventCommit, CommitPayload{
		SchedulerID: p.SchedulerID,
		Job:         job,
		Tx:          plan.Transaction,
		Extras:      extras,
		Infeasible:  plan.Infeasible,
	})
	return nil
}

func (s *Simulator) onCommit(p CommitPayload) error {
	a := s.actor(p.SchedulerID)
	if a == nil {
		return nil
	}

	var result cell.TransactionResult
	if len(p.Tx.Placements) > 0 {
		r, err := s.cell.Commit(p.Tx)
		if err != nil {
			return err
		}
		result = r
	}
	a.RecordAttempt(result)

	extras := make(map[cell.TaskID]bool, len(p.Extras))
	for _, id := range p.Extras {
		extras[id] = true
	}

	var retry []cell.TaskID
	for _, o := range result.Outcomes {
		if o.Accepted() {
			if err := s.startOrWait(o.TaskID); err != nil {
				return err
			}
			continue
		}
		if extras[o.TaskID] {
			// Opportunistic clones are best-effort: a rejected one is
			// pruned, never retried.
			s.cell.RemoveTask(o.TaskID)
			continue
		}
		retry = append(retry, o.TaskID)
	}

	snap := s.cell.Snapshot()
	permanent := false
	for _, tid := range p.Infeasible {
		t, ok := s.cell.Task(tid)
		if !ok {
			continue
		}
		if fitsAnyCapacity(snap, t) {
			retry = append(retry, tid)
		} else {
			permanent = true
		}
	}

	job := p.Job
	switch {
	case permanent:
		log.WithField("job", job.ID).Warn("job infeasible: requirement exceeds every machine capacity")
		if err := s.failJob(a, job); err != nil {
			return err
		}
	case len(retry) > 0:
		if delay, ok := a.NextBackoff(job.ID); ok {
			a.Enqueue(job)
			s.push(s.now+delay, EventSchedulerActivation, SchedulerActivationPayload{SchedulerID: p.SchedulerID})
			log.WithFields(log.Fields{
				"scheduler": p.SchedulerID,
				"job":       job.ID,
				"tasks":     len(retry),
				"delay":     delay,
			}).Debug("placement rejected, retrying")
		} else if !s.exhausted[job.ID] {
			// One second wind: requeue with a fresh retry budget.
			s.exhausted[job.ID] = true
			a.ResetRetries(job.ID)
			a.Enqueue(job)
			s.push(s.now, EventSchedulerActivation, SchedulerActivationPayload{SchedulerID: p.SchedulerID})
		} else {
			log.WithFields(log.Fields{
				"scheduler": p.SchedulerID,
				"job":       job.ID,
			}).Warn("retries exhausted, failing job")
			if err := s.failJob(a, job); err != nil {
				return err
			}
		}
	default:
		a.ResetRetries(job.ID)
	}

	s.maybeRecordScheduled(a, job)

	if a.Len() > 0 {
		s.push(s.now, EventSchedulerActivation, SchedulerActivationPayload{SchedulerID: p.SchedulerID})
	}
	return nil
}

// startOrWait transitions an accepted task to running if its
// dependencies are complete, otherwise registers it to be started when
// the last predecessor finishes.
func (s *Simulator) startOrWait(taskID cell.TaskID) error {
	t, ok := s.cell.Task(taskID)
	if !ok || t.State != cell.TaskScheduled {
		return nil
	}
	var blocked []cell.TaskID
	for _, dep := range t.Dependencies {
		if d, ok := s.cell.Task(dep); ok && d.State != cell.TaskCompleted {
			blocked = append(blocked, dep)
		}
	}
	if len(blocked) == 0 {
		return s.startTask(t)
	}
	for _, dep := range blocked {
		s.waiting[dep] = append(s.waiting[dep], taskID)
	}
	return nil
}

func (s *Simulator) startTask(t cell.Task) error {
	if err := s.cell.MarkRunning(t.ID, s.now); err != nil {
		return err
	}
	s.push(s.now+t.Duration, EventTaskCompletion, TaskCompletionPayload{TaskID: t.ID, Start: s.now})
	return nil
}

func (s *Simulator) onCompletion(p TaskCompletionPayload) error {
	t, ok := s.cell.Task(p.TaskID)
	if !ok || t.State != cell.TaskRunning || t.StartTime != p.Start {
		// The task was failed and possibly re-placed since this event
		// was scheduled; drop the stale completion.
		return nil
	}
	if err := s.cell.Release(p.TaskID, cell.TaskCompleted, s.now); err != nil {
		return err
	}
	s.metrics.TaskCompletions.Inc(1)

	dependents := s.waiting[p.TaskID]
	delete(s.waiting, p.TaskID)
	for _, dep := range dependents {
		if err := s.startOrWait(dep); err != nil {
			return err
		}
	}

	job, ok := s.cell.Job(t.JobID)
	if !ok {
		return nil
	}
	if job.State() == cell.JobCompleted {
		if !s.doneJobs[job.ID] {
			s.doneJobs[job.ID] = true
			s.completedJobs++
			log.WithField("job", job.ID).Debug("job completed")
		}
		return nil
	}
	// A completion can unblock pending tasks that were not plannable
	// before (a reduce stage waiting on its maps): hand the job back
	// to its scheduler.
	if hasReadyPending(&job) {
		if a := s.route(job.Type); a != nil {
			if live := s.jobs[job.ID]; live != nil {
				a.Enqueue(live)
				s.push(s.now, EventSchedulerActivation, SchedulerActivationPayload{SchedulerID: a.SchedulerID()})
			}
		}
	}
	return nil
}

func (s *Simulator) onMachineFailure(p MachineFailurePayload) error {
	id := p.MachineID
	if id == "" {
		// Injector tick: pick a victim now, then arm the next tick.
		snap := s.cell.Snapshot()
		healthy := snap.HealthyMachines()
		sort.Strings(healthy)
		if d := s.injector.NextFailureDelay(s.cell.MachineCount()); !math.IsInf(d, 1) {
			s.push(s.now+d, EventMachineFailure, MachineFailurePayload{})
		}
		victim, ok := s.injector.PickVictim(healthy)
		if !ok {
			return nil
		}
		id = victim
	}
	return s.failMachine(id)
}

func (s *Simulator) failMachine(id cell.MachineID) error {
	affected, err := s.cell.FailMachine(id, s.now)
	if err != nil {
		return err
	}
	s.metrics.MachineFailures.Inc(1)

	jobIDs := make(map[cell.JobID]bool)
	for _, tid := range affected {
		t, ok := s.cell.Task(tid)
		if !ok {
			continue
		}
		s.cell.PrepareRetry(tid)
		jobIDs[t.JobID] = true
	}

	ids := make([]cell.JobID, 0, len(jobIDs))
	for jid := range jobIDs {
		ids = append(ids, jid)
	}
	sort.Strings(ids)
	for _, jid := range ids {
		job := s.jobs[jid]
		if job == nil || s.doneJobs[jid] {
			continue
		}
		a := s.route(job.Type)
		if a == nil {
			continue
		}
		a.ResetRetries(jid)
		a.Enqueue(job)
		s.push(s.now, EventSchedulerActivation, SchedulerActivationPayload{SchedulerID: a.SchedulerID()})
	}

	if s.injector.Enabled() {
		if d, ok := s.injector.RecoversAfter(); ok {
			s.push(s.now+d, EventMachineRecovery, MachineRecoveryPayload{MachineID: id})
		}
	}
	return nil
}

func (s *Simulator) onMachineRecovery(p MachineRecoveryPayload) error {
	if err := s.cell.RecoverMachine(p.MachineID); err != nil {
		return err
	}
	s.metrics.MachineRecovered.Inc(1)
	// Capacity came back; kick every scheduler with queued work.
	for _, a := range s.schedulers {
		if a.Len() > 0 {
			s.push(s.now, EventSchedulerActivation, SchedulerActivationPayload{SchedulerID: a.SchedulerID()})
		}
	}
	return nil
}

// failJob marks every unfinished task of job failed (releasing placed
// ones) and counts the job as failed. a may be nil when no scheduler
// accepted the job in the first place.
func (s *Simulator) failJob(a scheduler.SchedulerActor, job *cell.Job) error {
	cp, ok := s.cell.Job(job.ID)
	if ok {
		for _, t := range cp.Tasks {
			if t.State == cell.TaskCompleted {
				continue
			}
			if err := s.cell.MarkTaskFailed(t.ID, s.now); err != nil {
				return err
			}
		}
	}
	if !s.doneJobs[job.ID] {
		s.doneJobs[job.ID] = true
		s.failedJobs++
	}
	if a != nil {
		a.ResetRetries(job.ID)
	}
	return nil
}

// maybeRecordScheduled records the job's scheduling wait time once,
// the first time every one of its tasks has been placed.
func (s *Simulator) maybeRecordScheduled(a scheduler.SchedulerActor, job *cell.Job) {
	if s.scheduledRec[job.ID] {
		return
	}
	cp, ok := s.cell.Job(job.ID)
	if !ok || len(cp.Tasks) == 0 {
		return
	}
	for _, t := range cp.Tasks {
		switch t.State {
		case cell.TaskScheduled, cell.TaskRunning, cell.TaskCompleted:
		default:
			return
		}
	}
	s.scheduledRec[job.ID] = true
	a.RecordJobScheduled(s.now - cp.SubmitTime)
}

// hasReadyPending reports whether job has a pending task whose
// dependencies are all complete.
func hasReadyPending(job *cell.Job) bool {
	completed := make(map[cell.TaskID]bool, len(job.Tasks))
	for _, t := range job.Tasks {
		if t.State == cell.TaskCompleted {
			completed[t.ID] = true
		}
	}
	for _, t := range job.Tasks {
		if t.State != cell.TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			return true
		}
	}
	return false
}

// fitsAnyCapacity reports whether any machine in snap, healthy or not,
// could ever hold t's requirement. Used to distinguish "retry later"
// from "permanently infeasible".
func fitsAnyCapacity(snap cell.Snapshot, t cell.Task) bool {
	for _, mv := range snap.Machines {
		if t.Requirement.Fits(mv.Capacity) {
			return true
		}
	}
	return false
}
