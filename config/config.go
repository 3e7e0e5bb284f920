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

// Package config defines the experiment configuration record and its
// YAML loader. Multiple files merge in order, later files overriding
// earlier ones, and the merged result is validated before the
// simulation loop starts.
package config

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// Scheduler types recognized in SchedulerConfig.Type.
const (
	TypeBatch              = "batch"
	TypeService            = "service"
	TypeMapReduce          = "mapreduce"
	TypePriority           = "priority"
	TypeWeightedRoundRobin = "weighted_round_robin"
	TypeFirstFit           = "first_fit"
	TypeRandom             = "random"
)

// Placement strategies recognized in SchedulerConfig.PlacementStrategy.
const (
	StrategyFirstFit = "first_fit"
	StrategyBestFit  = "best_fit"
	StrategyWorstFit = "worst_fit"
)

// Config is the root configuration record.
type Config struct {
	ExperimentName string `yaml:"experiment_name"`
	Seed           int64  `yaml:"seed"`
	OutputDir      string `yaml:"output_dir"`

	Cluster    ClusterConfig     `yaml:"cluster"`
	Schedulers []SchedulerConfig `yaml:"schedulers"`
	Simulation SimulationConfig  `yaml:"simulation"`
	Workload   WorkloadConfig    `yaml:"workload"`
	Failures   FailureConfig     `yaml:"failures"`
}

// ClusterConfig sizes the machine pool.
type ClusterConfig struct {
	NumMachines   int  `yaml:"num_machines" validate:"min=1"`
	Heterogeneous bool `yaml:"heterogeneous"`
}

// SchedulerConfig declares one scheduler actor.
type SchedulerConfig struct {
	ID                string  `yaml:"id" validate:"nonzero"`
	Type              string  `yaml:"type" validate:"nonzero"`
	DecisionTimeJob   float64 `yaml:"decision_time_job"`
	DecisionTimeTask  float64 `yaml:"decision_time_task"`
	PlacementStrategy string  `yaml:"placement_strategy"`
	MaxRetries        int     `yaml:"max_retries"`
	RequireGang       bool    `yaml:"require_gang"`

	Policy PolicyConfig `yaml:"policy"`
}

// PolicyConfig carries type-specific knobs. Scale selects the
// mapreduce elastic-scaling rule; Weights drives weighted_round_robin.
type PolicyConfig struct {
	Scale                string  `yaml:"scale"`
	HardCap              int     `yaml:"hard_cap"`
	UtilizationThreshold float64 `yaml:"utilization_threshold"`
	Weights              []int   `yaml:"weights"`
}

// SimulationConfig bounds the run.
type SimulationConfig struct {
	Duration float64 `yaml:"duration"`
}

// WorkloadConfig parameterizes the job generator. Arrival rates are
// mean inter-arrival gaps in seconds.
type WorkloadConfig struct {
	BatchRatio           float64 `yaml:"batch_ratio"`
	ArrivalRateBatch     float64 `yaml:"arrival_rate_batch"`
	ArrivalRateService   float64 `yaml:"arrival_rate_service"`
	ArrivalRateMapReduce float64 `yaml:"arrival_rate_mapreduce"`
	IncludeMapReduce     bool    `yaml:"include_mapreduce"`

	MeanTaskCountBatch   float64 `yaml:"mean_task_count_batch"`
	MeanTaskCountService float64 `yaml:"mean_task_count_service"`
	MeanDurationBatch    float64 `yaml:"mean_duration_batch"`
	MeanDurationService  float64 `yaml:"mean_duration_service"`
}

// FailureConfig controls the failure injector.
type FailureConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Rate         float64 `yaml:"rate"`
	RecoveryMean float64 `yaml:"recovery_mean"`
}

// ValidationError aggregates per-field validation failures.
type ValidationError struct {
	errorMap validator.ErrorMap
}

// ErrForField returns the validation error for the given field.
func (e ValidationError) ErrForField(name string) error {
	return e.errorMap[name]
}

func (e ValidationError) Error() string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "validation failed")
	for f, err := range e.errorMap {
		fmt.Fprintf(&w, "   %s: %v\n", f, err)
	}
	return w.String()
}

// Parse loads the given configFiles in order, merges them together,
// and validates the merged result into cfg.
func Parse(cfg *Config, configFiles ...string) error {
	if len(configFiles) == 0 {
		return errors.New("no files to load")
	}
	for _, fname := range configFiles {
		data, err := ioutil.ReadFile(fname)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return err
		}
	}

	if err := validator.Validate(cfg); err != nil {
		return ValidationError{errorMap: err.(validator.ErrorMap)}
	}
	return cfg.Validate()
}

var knownTypes = map[string]bool{
	TypeBatch:              true,
	TypeService:            true,
	TypeMapReduce:          true,
	TypePriority:           true,
	TypeWeightedRoundRobin: true,
	TypeFirstFit:           true,
	TypeRandom:             true,
}

var knownStrategies = map[string]bool{
	"":               true,
	StrategyFirstFit: true,
	StrategyBestFit:  true,
	StrategyWorstFit: true,
}

// Validate performs the cross-field checks struct tags cannot express:
// duration positive, scheduler types and strategies known, ids unique,
// at least one scheduler when jobs will arrive.
func (c *Config) Validate() error {
	if c.Simulation.Duration <= 0 {
		return errors.Errorf("config: simulation.duration must be > 0, got %v", c.Simulation.Duration)
	}
	if len(c.Schedulers) == 0 {
		return errors.New("config: scheduler list is empty but jobs would arrive")
	}
	seen := make(map[string]bool, len(c.Schedulers))
	for _, sc := range c.Schedulers {
		if !knownTypes[sc.Type] {
			return errors.Errorf("config: unknown scheduler type %q for scheduler %q", sc.Type, sc.ID)
		}
		if !knownStrategies[sc.PlacementStrategy] {
			return errors.Errorf("config: unknown placement strategy %q for scheduler %q", sc.PlacementStrategy, sc.ID)
		}
		if seen[sc.ID] {
			return errors.Errorf("config: duplicate scheduler id %q", sc.ID)
		}
		seen[sc.ID] = true
		if sc.MaxRetries < 0 {
			return errors.Errorf("config: negative max_retries for scheduler %q", sc.ID)
		}
	}
	if c.Workload.BatchRatio < 0 || c.Workload.BatchRatio > 1 {
		return errors.Errorf("config: workload.batch_ratio must be in [0,1], got %v", c.Workload.BatchRatio)
	}
	if c.Failures.Enabled && c.Failures.Rate <= 0 {
		return errors.New("config: failures enabled but failures.rate is not positive")
	}
	return nil
}
