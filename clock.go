/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vxm

import (
	"math"
	"math/bits"
	"time"
)

// DefaultTimestampFrequency is the tick rate of the media engines' timestamp counter.
const DefaultTimestampFrequency = 12_000_000

// TimeSource is the monotonic counter hardware writes into timestamps.
type TimeSource interface {
	Ticks() uint64
	TicksToNanoseconds(ticks uint64) uint64
}

type MonotonicClock struct {
	base      time.Time
	frequency uint64
}

var _ TimeSource = (*MonotonicClock)(nil)

func NewMonotonicClock(frequency uint64) *MonotonicClock {
	if frequency == 0 {
		abort("Clock frequency must be > 0")
	}
	return &MonotonicClock{base: time.Now(), frequency: frequency}
}

func (c *MonotonicClock) Frequency() uint64 {
	return c.frequency
}

func (c *MonotonicClock) Ticks() uint64 {
	return scale(uint64(time.Since(c.base)), c.frequency, uint64(time.Second))
}

func (c *MonotonicClock) TicksToNanoseconds(ticks uint64) uint64 {
	return scale(ticks, uint64(time.Second), c.frequency)
}

// scale returns v*mul/div saturating at MaxUint64.
func scale(v, mul, div uint64) uint64 {
	hi, lo := bits.Mul64(v, mul)
	if hi >= div {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, div)
	return q
}
