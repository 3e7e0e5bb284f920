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

package workload

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/Warrafeeq/omega-scheduler/cell"
)

type GeneratorTestSuite struct {
	suite.Suite
}

func TestGeneratorTestSuite(t *testing.T) {
	suite.Run(t, new(GeneratorTestSuite))
}

func (s *GeneratorTestSuite) TestSameSeedSameSequence() {
	cfg := Config{Seed: 42, IncludeMapReduce: true}
	a := New(cfg).Generate(1000)
	b := New(cfg).Generate(1000)

	s.Require().Equal(len(a), len(b))
	for i := range a {
		s.Equal(a[i].Time, b[i].Time)
		s.Equal(a[i].Job.ID, b[i].Job.ID)
		s.Require().Equal(len(a[i].Job.Tasks), len(b[i].Job.Tasks))
		for j := range a[i].Job.Tasks {
			s.Equal(a[i].Job.Tasks[j].Requirement, b[i].Job.Tasks[j].Requirement)
			s.Equal(a[i].Job.Tasks[j].Duration, b[i].Job.Tasks[j].Duration)
		}
	}
}

func (s *GeneratorTestSuite) TestArrivalsSortedAndInsideHorizon() {
	arrivals := New(Config{Seed: 7}).Generate(500)
	s.Require().NotEmpty(arrivals)
	for i, a := range arrivals {
		s.Less(a.Time, 500.0)
		s.GreaterOrEqual(a.Time, 0.0)
		if i > 0 {
			s.LessOrEqual(arrivals[i-1].Time, a.Time)
		}
	}
}

func (s *GeneratorTestSuite) TestTaskInvariants() {
	arrivals := New(Config{Seed: 1, IncludeMapReduce: true}).Generate(2000)
	for _, a := range arrivals {
		job := a.Job
		s.Require().NotEmpty(job.Tasks, "job %s has no tasks", job.ID)
		for _, t := range job.Tasks {
			s.GreaterOrEqual(t.Requirement.CPU, 1)
			s.GreaterOrEqual(t.Requirement.Memory, 0.5)
			s.Greater(t.Duration, 0.0)
			s.Equal(job.ID, t.JobID)
			s.Equal(cell.TaskPending, t.State)
		}
	}
}

func (s *GeneratorTestSuite) TestMapReduceHasTwoStages() {
	arrivals := New(Config{Seed: 3, IncludeMapReduce: true}).Generate(3000)
	sawMR := false
	for _, a := range arrivals {
		if a.Job.Type != cell.JobMapReduce {
			continue
		}
		sawMR = true
		var maps, reduces int
		mapIDs := map[cell.TaskID]bool{}
		for _, t := range a.Job.Tasks {
			if len(t.Dependencies) == 0 {
				maps++
				mapIDs[t.ID] = true
			} else {
				reduces++
			}
		}
		s.GreaterOrEqual(maps, 1)
		s.GreaterOrEqual(reduces, 1)
		// Every reduce depends on every map.
		for _, t := range a.Job.Tasks {
			if len(t.Dependencies) == 0 {
				continue
			}
			s.Len(t.Dependencies, maps)
			for _, dep := range t.Dependencies {
				s.True(mapIDs[dep])
			}
		}
	}
	s.True(sawMR, "no mapreduce job generated inside horizon")
}

func (s *GeneratorTestSuite) TestMapReduceStreamOffByDefault() {
	arrivals := New(Config{Seed: 5}).Generate(5000)
	for _, a := range arrivals {
		s.NotEqual(cell.JobMapReduce, a.Job.Type)
	}
}
