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
	"math/rand"

	"github.com/Warrafeeq/omega-scheduler/cell"
)

// FailureInjector draws the timing of machine failures and recoveries:
// exponential inter-failure gaps scaled by fleet size, uniform victim
// selection, exponentially distributed downtime. It only computes
// delays and picks victims; the Simulator turns those into events.
type FailureInjector struct {
	// Rate is failures per machine-second.
	Rate float64
	// RecoveryMean is the mean downtime in seconds before a failed
	// machine recovers. Zero disables recovery: failed machines stay
	// failed for the rest of the run.
	RecoveryMean float64

	rng *rand.Rand
}

// NewFailureInjector returns a FailureInjector drawing from rng, which
// callers seed deterministically alongside the rest of the
// simulation's PRNG.
func NewFailureInjector(rate, recoveryMean float64, rng *rand.Rand) *FailureInjector {
	return &FailureInjector{Rate: rate, RecoveryMean: recoveryMean, rng: rng}
}

// Enabled reports whether failure injection should run at all.
func (f *FailureInjector) Enabled() bool {
	return f != nil && f.Rate > 0
}

// NextFailureDelay draws the virtual-time gap until the next
// cluster-wide failure tick. The rate is per machine-second over the
// whole fleet, healthy or not.
func (f *FailureInjector) NextFailureDelay(numMachines int) float64 {
	if numMachines <= 0 || f.Rate <= 0 {
		return math.Inf(1)
	}
	return exponential(f.rng, f.Rate*float64(numMachines))
}

// RecoversAfter reports the downtime before a failed machine recovers,
// or ok=false if recovery is disabled.
func (f *FailureInjector) RecoversAfter() (float64, bool) {
	if f.RecoveryMean <= 0 {
		return 0, false
	}
	return exponential(f.rng, 1/f.RecoveryMean), true
}

// PickVictim selects uniformly at random among healthy, using the
// injector's own PRNG stream so victim selection stays reproducible
// under the simulation's seed. healthy must be in a deterministic
// order; callers sort it.
func (f *FailureInjector) PickVictim(healthy []cell.MachineID) (cell.MachineID, bool) {
	if len(healthy) == 0 {
		return "", false
	}
	return healthy[f.rng.Intn(len(healthy))], true
}

// exponential draws from Exp(lambda) by inverse-CDF sampling off rng.
// rand.ExpFloat64 draws from the generator's own Exp(1) stream, which
// would decouple failure timing from the run's seed.
func exponential(rng *rand.Rand, lambda float64) float64 {
	if lambda <= 0 {
		return math.Inf(1)
	}
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	return -math.Log(u) / lambda
}
