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
	"errors"
	"fmt"
	"sync"
	"time"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxm/internal/util"
)

/*
Event is the completion handle of one tracked submission. It never blocks on its own,
state only moves forward when Query observes the tracking slot or a queue reset.
*/
type Event struct {
	noCopy     util.NoCopy
	table      *FrameTracker
	resets     ResetReporter
	clock      TimeSource
	completion CompletionObject

	slot      SlotID
	queue     uint32
	tracker   uint32
	resetBase uint64

	mtx       sync.Mutex
	state     TaskState
	start     uint64
	end       uint64
	notified  bool
	listeners []func(*Event, TaskState)
}

func newEvent(table *FrameTracker, resets ResetReporter, clock TimeSource, slot SlotID, queue, tracker uint32) *Event {
	e := Event{
		table:   table,
		resets:  resets,
		clock:   clock,
		slot:    slot,
		queue:   queue,
		tracker: tracker,
		state:   TaskStateQueued,
		start:   TimestampUnset,
		end:     TimestampUnset,
	}
	e.noCopy.Init()
	return &e
}

// attach must run before the event is handed out, resets only count from the generation the buffer was accepted under.
func (e *Event) attach(completion CompletionObject) {
	e.completion = completion
	e.resetBase = completion.ResetGeneration()
}

func (e *Event) Slot() SlotID {
	e.noCopy.Check()
	return e.slot
}

func (e *Event) Queue() uint32 {
	e.noCopy.Check()
	return e.queue
}

func (e *Event) Tracker() uint32 {
	e.noCopy.Check()
	return e.tracker
}

// State returns the last observed state without touching the tracking slot.
func (e *Event) State() TaskState {
	e.noCopy.Check()
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.state
}

// terminate is called by the table with its lock held, it reports whether this call made the event terminal.
func (e *Event) terminate(state TaskState, start, end uint64) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.state.Terminal() {
		return false
	}
	e.state = state
	if state == TaskStateFinished {
		e.start, e.end = start, end
	}
	return true
}

func (e *Event) notify() {
	e.mtx.Lock()
	if e.notified {
		e.mtx.Unlock()
		return
	}
	e.notified = true
	state := e.state
	listeners := e.listeners
	e.listeners = nil
	e.mtx.Unlock()

	for _, fn := range listeners {
		fn(e, state)
	}
}

/*
OnComplete registers fn to run once the event reaches Finished or Reset. Listeners run on the
goroutine whose Query observed the transition, or immediately if the event already completed.
*/
func (e *Event) OnComplete(fn func(*Event, TaskState)) {
	e.noCopy.Check()
	e.mtx.Lock()
	if e.notified {
		state := e.state
		e.mtx.Unlock()
		fn(e, state)
		return
	}
	e.listeners = append(e.listeners, fn)
	e.mtx.Unlock()
}

func (e *Event) wasReset() bool {
	return e.resets.ResetCount(e.queue) != e.resetBase
}

/*
Query returns the current state of the submission. Once Finished or Reset is returned
every later call returns the same state without touching hardware memory.
*/
func (e *Event) Query() TaskState {
	e.noCopy.Check()
	if state := e.State(); state.Terminal() {
		return state
	}
	state := e.table.queryEvent(e, e.wasReset)
	if !state.Terminal() {
		e.mtx.Lock()
		if !e.state.Terminal() {
			e.state = state
		}
		e.mtx.Unlock()
	}
	return e.State()
}

/*
WaitWithTimeout blocks on the completion object of the submission for at most timeout.
A wait that returns without the task having finished means the queue was reset and is reported as ErrorDevice.
*/
func (e *Event) WaitWithTimeout(timeout time.Duration) error {
	e.noCopy.Check()
	switch e.Query() {
	case TaskStateFinished:
		return nil
	case TaskStateReset:
		return e.deviceError(TaskStateReset)
	}

	if err := e.completion.WaitBounded(timeout); err != nil {
		if errors.Is(err, ErrorTimeoutExceeded{}) {
			return ErrorTimeoutExceeded{Timeout: timeout}
		}
		return debug.ErrorWrapf(err, "Failed to wait on queue %d tracker %d", e.queue, e.tracker)
	}

	if state := e.Query(); state != TaskStateFinished {
		return e.deviceError(state)
	}
	return nil
}

func (e *Event) deviceError(state TaskState) error {
	err := ErrorDevice{
		Queue:   e.queue,
		Tracker: e.tracker,
		Reason:  fmt.Sprintf("completion signaled but task is %s", state),
	}
	instance.logger.EPrintf("%s", err)
	return err
}

// Timestamps returns the raw engine timestamps, ok is false until the event has finished.
func (e *Event) Timestamps() (start, end uint64, ok bool) {
	e.noCopy.Check()
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.state != TaskStateFinished {
		return TimestampUnset, TimestampUnset, false
	}
	return e.start, e.end, true
}

// ElapsedTime queries the event once and returns the engine time spent between the start and end timestamps.
func (e *Event) ElapsedTime() (time.Duration, error) {
	e.noCopy.Check()
	if state := e.Query(); state != TaskStateFinished {
		return 0, ErrorNotFinished{State: state}
	}
	start, end, _ := e.Timestamps()
	if end < start {
		return 0, debug.Errorf("End timestamp %d is before start timestamp %d", end, start)
	}
	return time.Duration(e.clock.TicksToNanoseconds(end - start)), nil
}

func (e *Event) String() string {
	return fmt.Sprintf("{queue: %d, tracker: %d, slot: %d, state: %s}", e.queue, e.tracker, e.slot, e.State())
}
