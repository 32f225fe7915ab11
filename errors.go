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
	"fmt"
	"time"
)

/*
The error types below classify the failures callers are expected to branch on,
they compare equal through errors.Is regardless of their fields.
*/

// ErrorAllocation is fatal to whatever was being constructed, it is never retried.
type ErrorAllocation struct {
	Name string
	Size uint64
}

func (ErrorAllocation) Is(target error) bool {
	_, ok := target.(ErrorAllocation)
	return ok
}

func (e ErrorAllocation) Error() string {
	return fmt.Sprintf("Failed to allocate %d bytes for %q", e.Size, e.Name)
}

// ErrorExhausted is recoverable, the caller either waits for an event to finish or submits untracked.
type ErrorExhausted struct {
	Capacity uint32
}

func (ErrorExhausted) Is(target error) bool {
	_, ok := target.(ErrorExhausted)
	return ok
}

func (e ErrorExhausted) Error() string {
	return fmt.Sprintf("All %d tracking slots are in flight", e.Capacity)
}

type ErrorTimeoutExceeded struct {
	Timeout time.Duration
	Pending int
}

func (ErrorTimeoutExceeded) Is(target error) bool {
	_, ok := target.(ErrorTimeoutExceeded)
	return ok
}

func (e ErrorTimeoutExceeded) Error() string {
	if e.Pending > 0 {
		return fmt.Sprintf("Timeout of %v exceeded with %d queue(s) still pending", e.Timeout, e.Pending)
	}
	return fmt.Sprintf("Timeout of %v exceeded", e.Timeout)
}

/*
ErrorDevice means the hardware context was lost, nothing at this layer recovers from it
and it must be surfaced to whoever is able to recreate the context.
*/
type ErrorDevice struct {
	Queue   uint32
	Tracker uint32
	Reason  string
}

func (ErrorDevice) Is(target error) bool {
	_, ok := target.(ErrorDevice)
	return ok
}

func (e ErrorDevice) Error() string {
	return fmt.Sprintf("Device error on queue %d tracker %d: %s", e.Queue, e.Tracker, e.Reason)
}

type ErrorNotFinished struct {
	State TaskState
}

func (ErrorNotFinished) Is(target error) bool {
	_, ok := target.(ErrorNotFinished)
	return ok
}

func (e ErrorNotFinished) Error() string {
	return fmt.Sprintf("Task not finished, state: %s", e.State)
}

type ErrorUnsupportedPipeCount struct {
	PipeCount uint8
}

func (ErrorUnsupportedPipeCount) Is(target error) bool {
	_, ok := target.(ErrorUnsupportedPipeCount)
	return ok
}

func (e ErrorUnsupportedPipeCount) Error() string {
	return fmt.Sprintf("Multi pipe barrier supports at most 2 pipes, got %d", e.PipeCount)
}
