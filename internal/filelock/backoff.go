// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filelock

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultInitialBackoff is the first wait after finding a live holder.
	DefaultInitialBackoff = 10 * time.Millisecond

	// DefaultMaxBackoff caps the wait between contention checks.
	DefaultMaxBackoff = 250 * time.Millisecond

	backoffMultiplier = 2.0
	backoffJitter     = 0.2
)

// backoff produces exponentially growing waits with proportional jitter.
// It is not safe for concurrent use; each Acquire call owns one.
type backoff struct {
	interval time.Duration
	max      time.Duration
	jitter   func() float64
}

func newBackoff(initial, max time.Duration) *backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max < initial {
		max = initial
	}
	return &backoff{
		interval: initial,
		max:      max,
		jitter:   rand.Float64,
	}
}

// Next returns the wait before the next attempt and advances the schedule.
func (b *backoff) Next() time.Duration {
	current := b.interval

	next := time.Duration(float64(b.interval) * backoffMultiplier)
	if next > b.max {
		next = b.max
	}
	b.interval = next

	// Spread contenders apart: current * [1-jitter, 1+jitter)
	delta := (b.jitter()*2 - 1) * backoffJitter * float64(current)
	wait := time.Duration(float64(current) + delta)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// clip bounds wait by the time left before the deadline.
func clip(wait, remaining time.Duration) time.Duration {
	if wait > remaining {
		return remaining
	}
	return wait
}
