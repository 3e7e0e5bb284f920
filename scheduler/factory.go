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
	"github.com/Warrafeeq/omega-scheduler/metrics"
)

// Default decision latencies per scheduler kind, in virtual seconds.
// Batch is the fast path; the service scheduler pays for its scoring
// pass; mapreduce sits in between.
const (
	BatchDecisionTimeJob      = 0.010
	BatchDecisionTimeTask     = 0.001
	ServiceDecisionTimeJob    = 1.0
	ServiceDecisionTimeTask   = 0.05
	MapReduceDecisionTimeJob  = 0.2
	MapReduceDecisionTimeTask = 0.01

	// DefaultMaxRetries is the per-job retry budget when none is
	// configured.
	DefaultMaxRetries = 3
)

// NewBatchActor builds a batch scheduler actor. Zero decision times
// and retry budget pick the defaults above.
func NewBatchActor(id string, strategy PlacementStrategy, requireGang bool, decisionTimeJob, decisionTimeTask float64, maxRetries int, m *metrics.SchedulerMetrics) *Actor {
	decisionTimeJob = orDefault(decisionTimeJob, BatchDecisionTimeJob)
	decisionTimeTask = orDefault(decisionTimeTask, BatchDecisionTimeTask)
	maxRetries = orDefaultInt(maxRetries, DefaultMaxRetries)
	policy := NewBatchPolicy(strategy)
	policy.ForceGang = requireGang
	return NewActor(id, cell.JobBatch, policy, decisionTimeJob, decisionTimeTask,
		NewExponentialBackoff(0.05, maxRetries), m)
}

// NewServiceActor builds a service scheduler actor.
func NewServiceActor(id string, requireGang bool, decisionTimeJob, decisionTimeTask float64, maxRetries int, m *metrics.SchedulerMetrics) *Actor {
	decisionTimeJob = orDefault(decisionTimeJob, ServiceDecisionTimeJob)
	decisionTimeTask = orDefault(decisionTimeTask, ServiceDecisionTimeTask)
	maxRetries = orDefaultInt(maxRetries, DefaultMaxRetries)
	policy := NewServicePolicy()
	policy.ForceGang = requireGang
	return NewActor(id, cell.JobService, policy, decisionTimeJob, decisionTimeTask,
		NewExponentialBackoff(0.5, maxRetries), m)
}

// NewMapReduceActor builds a mapreduce scheduler actor with the given
// elastic-scaling rule.
func NewMapReduceActor(id string, scale ScalePolicy, hardCap int, utilizationThreshold float64, decisionTimeJob, decisionTimeTask float64, maxRetries int, m *metrics.SchedulerMetrics) *Actor {
	decisionTimeJob = orDefault(decisionTimeJob, MapReduceDecisionTimeJob)
	decisionTimeTask = orDefault(decisionTimeTask, MapReduceDecisionTimeTask)
	maxRetries = orDefaultInt(maxRetries, DefaultMaxRetries)
	return NewActor(id, cell.JobMapReduce, NewMapReducePolicy(scale, hardCap, utilizationThreshold), decisionTimeJob, decisionTimeTask,
		NewExponentialBackoff(0.1, maxRetries), m)
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
