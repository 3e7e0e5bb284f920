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

// Results is the record emitted when a run ends. Field tags pick the
// key names the surrounding CLI serializes under.
type Results struct {
	SimulationTime float64            `yaml:"simulation_time"`
	CompletedJobs  int                `yaml:"completed_jobs"`
	FailedJobs     int                `yaml:"failed_jobs"`
	Schedulers     []SchedulerResults `yaml:"schedulers"`
	CellState      CellResults        `yaml:"cell_state"`
}

// SchedulerResults is one scheduler actor's block of the results record.
type SchedulerResults struct {
	ID             string  `yaml:"id"`
	JobsScheduled  int64   `yaml:"jobs_scheduled"`
	TasksScheduled int64   `yaml:"tasks_scheduled"`
	Conflicts      int64   `yaml:"conflicts"`
	ConflictRate   float64 `yaml:"conflict_rate"`
	BusyTime       float64 `yaml:"busy_time"`
	AvgWaitTime    float64 `yaml:"avg_wait_time"`
}

// CellResults is the cell's block of the results record.
type CellResults struct {
	TotalTransactions int64       `yaml:"total_transactions"`
	TotalCommits      int64       `yaml:"total_commits"`
	TotalConflicts    int64       `yaml:"total_conflicts"`
	ConflictRate      float64     `yaml:"conflict_rate"`
	Utilization       Utilization `yaml:"utilization"`
}

// Utilization is the time-averaged share of each resource dimension
// that was allocated over the run.
type Utilization struct {
	CPU    float64 `yaml:"cpu"`
	GPU    float64 `yaml:"gpu"`
	Memory float64 `yaml:"memory"`
}

func (s *Simulator) results(duration float64) Results {
	res := Results{
		SimulationTime: duration,
		CompletedJobs:  s.completedJobs,
		FailedJobs:     s.failedJobs,
	}
	for _, a := range s.schedulers {
		st := a.Statistics()
		res.Schedulers = append(res.Schedulers, SchedulerResults{
			ID:             a.SchedulerID(),
			JobsScheduled:  st.JobsScheduled,
			TasksScheduled: st.TasksScheduled,
			Conflicts:      st.Conflicts,
			ConflictRate:   st.ConflictRate(),
			BusyTime:       st.BusyTime,
			AvgWaitTime:    st.AvgWaitTime(),
		})
	}
	cs := s.cell.Statistics()
	res.CellState = CellResults{
		TotalTransactions: cs.TotalTransactions,
		TotalCommits:      cs.TotalCommits,
		TotalConflicts:    cs.TotalConflicts,
		ConflictRate:      cs.ConflictRate,
	}
	if duration > 0 {
		res.CellState.Utilization = Utilization{
			CPU:    s.cpuSeconds / duration,
			GPU:    s.gpuSeconds / duration,
			Memory: s.memSeconds / duration,
		}
	}
	return res
}
