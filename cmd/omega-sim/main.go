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

package main

import (
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v2"

	"github.com/Warrafeeq/omega-scheduler/cell"
	"github.com/Warrafeeq/omega-scheduler/config"
	"github.com/Warrafeeq/omega-scheduler/metrics"
	"github.com/Warrafeeq/omega-scheduler/resource"
	"github.com/Warrafeeq/omega-scheduler/scheduler"
	"github.com/Warrafeeq/omega-scheduler/sim"
	"github.com/Warrafeeq/omega-scheduler/workload"
)

var (
	version string
	app     = kingpin.New("omega-sim", "Shared-state cluster scheduling simulator")

	debug = app.Flag(
		"debug", "enable debug logging").
		Short('d').
		Default("false").
		Bool()

	cfgFiles = app.Flag(
		"config",
		"YAML config files (can be provided multiple times to merge configs)").
		Short('c').
		Required().
		ExistingFiles()

	seedOverride = app.Flag(
		"seed", "override the configured PRNG seed").
		Default("-1").
		Int64()
)

func main() {
	app.Version(version)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetFormatter(&log.JSONFormatter{})
	if *debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	var cfg config.Config
	if err := config.Parse(&cfg, *cfgFiles...); err != nil {
		log.WithField("error", err).Fatal("cannot parse experiment config")
	}
	if *seedOverride >= 0 {
		cfg.Seed = *seedOverride
	}

	log.WithFields(log.Fields{
		"experiment": cfg.ExperimentName,
		"seed":       cfg.Seed,
		"machines":   cfg.Cluster.NumMachines,
		"schedulers": len(cfg.Schedulers),
		"duration":   cfg.Simulation.Duration,
	}).Info("starting simulation")

	scope, closer := tally.NewRootScope(tally.ScopeOptions{Prefix: "omega_sim"}, time.Second)
	defer closer.Close()

	c := cell.New(metrics.NewCellMetrics(scope))
	buildMachines(c, cfg.Cluster)

	actors, err := buildSchedulers(cfg.Schedulers, rand.New(rand.NewSource(cfg.Seed)), scope)
	if err != nil {
		log.WithField("error", err).Fatal("cannot build schedulers")
	}

	var injector *sim.FailureInjector
	if cfg.Failures.Enabled {
		injector = sim.NewFailureInjector(
			cfg.Failures.Rate,
			cfg.Failures.RecoveryMean,
			rand.New(rand.NewSource(cfg.Seed+1)))
	}

	gen := workload.New(workload.Config{
		Seed:                      cfg.Seed + 2,
		BatchRatio:                cfg.Workload.BatchRatio,
		MeanInterArrivalBatch:     cfg.Workload.ArrivalRateBatch,
		MeanInterArrivalService:   cfg.Workload.ArrivalRateService,
		MeanInterArrivalMapReduce: cfg.Workload.ArrivalRateMapReduce,
		IncludeMapReduce:          cfg.Workload.IncludeMapReduce,
		MeanTaskCountBatch:        cfg.Workload.MeanTaskCountBatch,
		MeanTaskCountService:      cfg.Workload.MeanTaskCountService,
		MeanDurationBatch:         cfg.Workload.MeanDurationBatch,
		MeanDurationService:       cfg.Workload.MeanDurationService,
	})

	simulator := sim.New(c, actors, injector, metrics.NewSimMetrics(scope))
	for _, a := range gen.Generate(cfg.Simulation.Duration) {
		simulator.AddArrival(a.Time, a.Job)
	}

	results, err := simulator.Run(cfg.Simulation.Duration)
	if err != nil {
		log.WithField("error", err).Fatal("simulation aborted")
	}

	if err := emit(results, cfg.OutputDir); err != nil {
		log.WithField("error", err).Fatal("cannot write results")
	}
}

func buildMachines(c *cell.Cell, cl config.ClusterConfig) {
	const failureDomains = 4
	for i := 0; i < cl.NumMachines; i++ {
		mt := resource.StandardType
		if cl.Heterogeneous {
			mt = resource.Pick(resource.HeterogeneousMix, i, cl.NumMachines)
		}
		c.AddMachine(
			fmt.Sprintf("m-%04d", i),
			mt.Name,
			"rack-"+strconv.Itoa(i%failureDomains),
			mt.Capacity)
	}
}

func buildSchedulers(cfgs []config.SchedulerConfig, rng *rand.Rand, scope tally.Scope) ([]scheduler.SchedulerActor, error) {
	var actors []scheduler.SchedulerActor
	for _, sc := range cfgs {
		m := metrics.NewSchedulerMetrics(scope, sc.ID)
		switch sc.Type {
		case config.TypeBatch:
			actors = append(actors, scheduler.NewBatchActor(
				sc.ID, strategyOf(sc.PlacementStrategy), sc.RequireGang,
				sc.DecisionTimeJob, sc.DecisionTimeTask, sc.MaxRetries, m))
		case config.TypeService:
			actors = append(actors, scheduler.NewServiceActor(
				sc.ID, sc.RequireGang,
				sc.DecisionTimeJob, sc.DecisionTimeTask, sc.MaxRetries, m))
		case config.TypeMapReduce:
			actors = append(actors, scheduler.NewMapReduceActor(
				sc.ID, scaleOf(sc.Policy.Scale), sc.Policy.HardCap, sc.Policy.UtilizationThreshold,
				sc.DecisionTimeJob, sc.DecisionTimeTask, sc.MaxRetries, m))
		case config.TypeFirstFit:
			actors = append(actors, scheduler.NewBatchActor(
				sc.ID, scheduler.FirstFit, sc.RequireGang,
				sc.DecisionTimeJob, sc.DecisionTimeTask, sc.MaxRetries, m))
		case config.TypeRandom:
			policy := scheduler.NewRandomPolicy(rng)
			actors = append(actors, scheduler.NewActor(
				sc.ID, cell.JobBatch, policy,
				orDefault(sc.DecisionTimeJob, scheduler.BatchDecisionTimeJob),
				orDefault(sc.DecisionTimeTask, scheduler.BatchDecisionTimeTask),
				scheduler.NewExponentialBackoff(0.05, sc.MaxRetries), m))
		case config.TypePriority:
			policy := scheduler.NewBatchPolicy(strategyOf(sc.PlacementStrategy))
			policy.ForceGang = sc.RequireGang
			actors = append(actors, scheduler.NewPriorityActor(
				sc.ID, cell.JobBatch, policy,
				orDefault(sc.DecisionTimeJob, scheduler.BatchDecisionTimeJob),
				orDefault(sc.DecisionTimeTask, scheduler.BatchDecisionTimeTask),
				scheduler.NewExponentialBackoff(0.05, sc.MaxRetries), m))
		case config.TypeWeightedRoundRobin:
			weights := sc.Policy.Weights
			if len(weights) == 0 {
				weights = []int{2, 1}
			}
			subs := make([]*scheduler.Actor, len(weights))
			for i := range weights {
				subID := sc.ID + "-" + strconv.Itoa(i)
				subs[i] = scheduler.NewBatchActor(
					subID, strategyOf(sc.PlacementStrategy), sc.RequireGang,
					sc.DecisionTimeJob, sc.DecisionTimeTask, sc.MaxRetries,
					metrics.NewSchedulerMetrics(scope, subID))
			}
			actors = append(actors, scheduler.NewWeightedRoundRobinActor(sc.ID, cell.JobBatch, subs, weights))
		default:
			return nil, fmt.Errorf("unknown scheduler type %q", sc.Type)
		}
	}
	return actors, nil
}

func strategyOf(name string) scheduler.PlacementStrategy {
	switch name {
	case config.StrategyFirstFit:
		return scheduler.FirstFit
	case config.StrategyWorstFit:
		return scheduler.WorstFit
	default:
		return scheduler.BestFit
	}
}

func scaleOf(name string) scheduler.ScalePolicy {
	switch name {
	case "global_cap":
		return scheduler.GlobalCap
	case "relative_job_size":
		return scheduler.RelativeJobSize
	default:
		return scheduler.MaxParallelism
	}
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func emit(results sim.Results, outputDir string) error {
	out, err := yaml.Marshal(&results)
	if err != nil {
		return err
	}
	if outputDir == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(outputDir, "results.yaml"), out, 0644)
}
