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

import "github.com/pkg/errors"

// InvariantViolation is a fatal error: resource accounting went wrong,
// a task was scheduled twice, or a machine version moved backwards. It
// is raised to the simulator top level and terminates the run with a
// non-zero outcome.
type InvariantViolation struct {
	Machine MachineID
	Task    TaskID
	Detail  string
}

func (e *InvariantViolation) Error() string {
	return "cell: invariant violation: " + e.Detail
}

func newInvariantViolation(machineID MachineID, taskID TaskID, detail string) error {
	return errors.WithStack(&InvariantViolation{
		Machine: machineID,
		Task:    taskID,
		Detail:  detail,
	})
}
