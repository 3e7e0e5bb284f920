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

// Package workload produces synthetic job streams: Poisson arrivals
// per job type, log-normal task counts and durations, clamped normal
// resource draws. A Generator with a given seed always emits the same
// sequence.
package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/resource"
)

// Config parameterizes the generator. Zero values fall back to the
// defaults below.
type Config struct {
	Seed int64

	// BatchRatio is the share of single-stream arrivals that are batch
	// jobs when per-type rates are not set explicitly.
	BatchRatio float64

	// MeanInterArrivalBatch and friends are the mean gaps, in virtual
	// seconds, between consecutive arrivals of each type. Zero picks the
	// default gap; for service, a BatchRatio strictly between 0 and 1
	// derives the gap from the batch gap instead (see New).
	MeanInterArrivalBatch     float64
	MeanInterArrivalService   float64
	MeanInterArrivalMapReduce float64

	IncludeMapReduce bool

	// Distribution overrides. Zero picks the default.
	MeanTaskCountBatch   float64
	MeanTaskCountService float64
	MeanDurationBatch    float64
	MeanDurationService  float64
}

// Defaults: batch every 10s, service every 60s, batch tasks ~5min,
// service tasks ~24h.
const (
	DefaultBatchRatio            = 0.8
	DefaultInterArrivalBatch     = 10
	DefaultInterArrivalService   = 60
	DefaultInterArrivalMapReduce = 120
	DefaultTaskCountBatch        = 8
	DefaultTaskCountService      = 4
	DefaultDurationBatch         = 300
	DefaultDurationService       = 86400
	DefaultDurationMapReduce     = 600
)

// Arrival pairs a job with its arrival timestamp.
type Arrival struct {
	Time float64
	Job  *cell.Job
}

// Generator emits a deterministic arrival sequence for its seed. Each
// job type draws from its own PRNG stream so adding or removing one
// stream does not perturb the others.
type Generator struct {
	cfg        Config
	batchRNG   *rand.Rand
	serviceRNG *rand.Rand
	mrRNG      *rand.Rand
}

// New constructs a Generator, filling cfg defaults in place.
func New(cfg Config) *Generator {
	if cfg.MeanInterArrivalBatch <= 0 {
		cfg.MeanInterArrivalBatch = DefaultInterArrivalBatch
	}
	if cfg.MeanInterArrivalService <= 0 {
		// An explicit batch ratio fixes the arrival mix instead: a
		// ratio r means batch arrives r/(1-r) times as often.
		if cfg.BatchRatio > 0 && cfg.BatchRatio < 1 {
			cfg.MeanInterArrivalService = cfg.MeanInterArrivalBatch * cfg.BatchRatio / (1 - cfg.BatchRatio)
		} else {
			cfg.MeanInterArrivalService = DefaultInterArrivalService
		}
	}
	if cfg.BatchRatio <= 0 {
		cfg.BatchRatio = DefaultBatchRatio
	}
	if cfg.MeanInterArrivalMapReduce <= 0 {
		cfg.MeanInterArrivalMapReduce = DefaultInterArrivalMapReduce
	}
	if cfg.MeanTaskCountBatch <= 0 {
		cfg.MeanTaskCountBatch = DefaultTaskCountBatch
	}
	if cfg.MeanTaskCountService <= 0 {
		cfg.MeanTaskCountService = DefaultTaskCountService
	}
	if cfg.MeanDurationBatch <= 0 {
		cfg.MeanDurationBatch = DefaultDurationBatch
	}
	if cfg.MeanDurationService <= 0 {
		cfg.MeanDurationService = DefaultDurationService
	}
	return &Generator{
		cfg:        cfg,
		batchRNG:   rand.New(rand.NewSource(cfg.Seed)),
		serviceRNG: rand.New(rand.NewSource(cfg.Seed + 1)),
		mrRNG:      rand.New(rand.NewSource(cfg.Seed + 2)),
	}
}

// Generate returns every arrival with a timestamp inside [0, horizon),
// sorted by time with ties broken by job id so the sequence is stable.
func (g *Generator) Generate(horizon float64) []Arrival {
	var out []Arrival
	out = append(out, g.stream(cell.JobBatch, g.batchRNG, g.cfg.MeanInterArrivalBatch, horizon)...)
	out = append(out, g.stream(cell.JobService, g.serviceRNG, g.cfg.MeanInterArrivalService, horizon)...)
	if g.cfg.IncludeMapReduce {
		out = append(out, g.stream(cell.JobMapReduce, g.mrRNG, g.cfg.MeanInterArrivalMapReduce, horizon)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].Job.ID < out[j].Job.ID
	})
	return out
}

func (g *Generator) stream(jt cell.JobType, rng *rand.Rand, meanGap, horizon float64) []Arrival {
	var out []Arrival
	t := expDraw(rng, 1/meanGap)
	for i := 0; t < horizon; i++ {
		job := g.makeJob(jt, rng, i, t)
		out = append(out, Arrival{Time: t, Job: job})
		t += expDraw(rng, 1/meanGap)
	}
	return out
}

func (g *Generator) makeJob(jt cell.JobType, rng *rand.Rand, seq int, submit float64) *cell.Job {
	jobID := fmt.Sprintf("%s-%05d", jt.String(), seq)
	job := &cell.Job{
		ID:         jobID,
		Type:       jt,
		Priority:   priorityFor(jt, rng),
		SubmitTime: submit,
	}
	switch jt {
	case cell.JobMapReduce:
		g.addMapReduceTasks(job, rng)
	default:
		n := taskCount(rng, g.meanTaskCount(jt))
		for i := 0; i < n; i++ {
			job.Tasks = append(job.Tasks, g.makeTask(job, rng, i, nil))
		}
	}
	return job
}

// addMapReduceTasks builds the two-stage task graph: every reduce task
// depends on every map task.
func (g *Generator) addMapReduceTasks(job *cell.Job, rng *rand.Rand) {
	maps := taskCount(rng, DefaultTaskCountBatch)
	reduces := maps / 2
	if reduces < 1 {
		reduces = 1
	}
	var mapIDs []cell.TaskID
	for i := 0; i < maps; i++ {
		t := g.makeTask(job, rng, i, nil)
		mapIDs = append(mapIDs, t.ID)
		job.Tasks = append(job.Tasks, t)
	}
	for i := 0; i < reduces; i++ {
		t := g.makeTask(job, rng, maps+i, mapIDs)
		job.Tasks = append(job.Tasks, t)
	}
}

func (g *Generator) makeTask(job *cell.Job, rng *rand.Rand, i int, deps []cell.TaskID) *cell.Task {
	return &cell.Task{
		ID:           fmt.Sprintf("%s-t%03d", job.ID, i),
		JobID:        job.ID,
		Requirement:  g.requirement(job.Type, rng),
		Duration:     duration(rng, g.meanDuration(job.Type)),
		State:        cell.TaskPending,
		Dependencies: append([]cell.TaskID(nil), deps...),
	}
}

func (g *Generator) meanTaskCount(jt cell.JobType) float64 {
	if jt == cell.JobService {
		return g.cfg.MeanTaskCountService
	}
	return g.cfg.MeanTaskCountBatch
}

func (g *Generator) meanDuration(jt cell.JobType) float64 {
	switch jt {
	case cell.JobService:
		return g.cfg.MeanDurationService
	case cell.JobMapReduce:
		return DefaultDurationMapReduce
	default:
		return g.cfg.MeanDurationBatch
	}
}

// requirement draws a clamped normal resource vector. A slice of batch
// tasks demand one GPU, a smaller slice of service tasks one or two.
func (g *Generator) requirement(jt cell.JobType, rng *rand.Rand) resource.Vector {
	cpu := int(math.Round(rng.NormFloat64()*1.5 + 2))
	if cpu < 1 {
		cpu = 1
	}
	mem := rng.NormFloat64()*2 + 4
	if mem < 0.5 {
		mem = 0.5
	}
	gpu := 0
	switch jt {
	case cell.JobBatch, cell.JobMapReduce:
		if rng.Float64() < 0.10 {
			gpu = 1
		}
	case cell.JobService:
		if rng.Float64() < 0.05 {
			gpu = 1 + rng.Intn(2)
		}
	}
	return resource.Vector{CPU: cpu, GPU: gpu, Memory: mem}
}

func priorityFor(jt cell.JobType, rng *rand.Rand) int {
	base := 0
	if jt == cell.JobService {
		base = 100
	}
	return base + rng.Intn(10)
}

// taskCount draws a log-normal count truncated to >= 1.
func taskCount(rng *rand.Rand, mean float64) int {
	n := int(math.Round(logNormal(rng, mean, 0.5)))
	if n < 1 {
		n = 1
	}
	return n
}

func duration(rng *rand.Rand, mean float64) float64 {
	d := logNormal(rng, mean, 0.5)
	if d < 1 {
		d = 1
	}
	return d
}

// logNormal draws from a log-normal with the given arithmetic mean and
// log-space sigma.
func logNormal(rng *rand.Rand, mean, sigma float64) float64 {
	mu := math.Log(mean) - sigma*sigma/2
	return math.Exp(mu + sigma*rng.NormFloat64())
}

// expDraw draws from Exp(lambda) off rng rather than the generator's
// internal exponential stream, keeping every draw tied to the seed.
func expDraw(rng *rand.Rand, lambda float64) float64 {
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	return -math.Log(u) / lambda
}
