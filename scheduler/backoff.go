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

// BackoffPolicy computes the next retry delay, in virtual seconds, for
// a job whose transaction had at least one rejected placement. The
// policy only ever returns a duration; the simulator is the one that
// advances virtual time by scheduling the retry at now+delay.
type BackoffPolicy interface {
	// NextDelay returns the backoff for the given 1-indexed attempt
	// number, or ok=false once attempts are exhausted.
	NextDelay(attempt int) (delay float64, ok bool)
}

// ExponentialBackoff doubles an initial delay on each attempt up to
// maxAttempts, capped at maxDelay.
type ExponentialBackoff struct {
	InitialDelay float64
	MaxDelay     float64
	MaxAttempts  int
}

// NewExponentialBackoff returns an ExponentialBackoff with the given
// initial delay and a retry budget of maxAttempts (default 3 if
// maxAttempts <= 0).
func NewExponentialBackoff(initialDelay float64, maxAttempts int) *ExponentialBackoff {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ExponentialBackoff{
		InitialDelay: initialDelay,
		MaxDelay:     initialDelay * 32,
		MaxAttempts:  maxAttempts,
	}
}

// NextDelay implements BackoffPolicy.
func (b *ExponentialBackoff) NextDelay(attempt int) (float64, bool) {
	if attempt > b.MaxAttempts {
		return 0, false
	}
	delay := b.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	return delay, true
}
