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
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxm/internal/util"
)

type SlotID uint32

// TimestampUnset marks a slot timestamp hardware has not written yet.
const TimestampUnset = ^uint64(0)

/*
Slot layout inside the tracking buffer. The CPU owns valid, tracker and queue,
hardware only ever writes the timestamps, so the two never share a word.
*/
const (
	slotStride        = 32
	slotValidOffset   = 0
	slotTrackerOffset = 4
	slotQueueOffset   = 8
	slotStartOffset   = 16
	slotEndOffset     = 24
)

type TaskState uint32

const (
	TaskStateUntracked TaskState = iota
	TaskStateQueued
	TaskStateInProgress
	TaskStateFinished
	TaskStateReset
)

func (s TaskState) Terminal() bool {
	return s == TaskStateFinished || s == TaskStateReset
}

func (s TaskState) String() string {
	switch s {
	case TaskStateUntracked:
		return "Untracked"
	case TaskStateQueued:
		return "Queued"
	case TaskStateInProgress:
		return "InProgress"
	case TaskStateFinished:
		return "Finished"
	case TaskStateReset:
		return "Reset"
	}
	return fmt.Sprintf("TaskState(%d)", uint32(s))
}

type FrameTrackerStats struct {
	Capacity  uint32
	InUse     uint32
	Assigned  uint64
	Untracked uint64
	Finished  uint64
	Exhausted uint64
	Resets    uint64
	Timeouts  uint64
}

/*
FrameTracker is a ring of tracking slots living in one GPU visible allocation.
Every tracked submission owns one slot until its completion is observed, slot capacity
is the overflow slot handed out to untracked submissions.
*/
type FrameTracker struct {
	noCopy       util.NoCopy
	mtx          sync.Mutex
	producer     *TrackerProducer
	capacity     uint32
	memory       Memory
	mem          []byte
	lastAssigned uint32
	events       []*Event

	assigned  atomic.Uint64
	untracked atomic.Uint64
	finished  atomic.Uint64
	exhausted atomic.Uint64
	resets    atomic.Uint64
	timeouts  atomic.Uint64
}

func NewFrameTracker(alloc Allocator, producer *TrackerProducer, capacity uint32) (*FrameTracker, error) {
	if capacity == 0 {
		return nil, debug.Errorf("FrameTracker capacity must be >= 1")
	}
	size := uint64(capacity+1) * slotStride
	memory, err := alloc.Allocate("frame_tracker", size)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to allocate frame tracker with %d slots", capacity)
	}
	mem, err := memory.Lock()
	if err != nil {
		memory.Free()
		return nil, debug.ErrorWrapf(err, "Failed to lock frame tracker memory")
	}
	clear(mem)

	t := FrameTracker{
		producer:     producer,
		capacity:     capacity,
		memory:       memory,
		mem:          mem,
		lastAssigned: capacity - 1,
		events:       make([]*Event, capacity),
	}
	t.noCopy.Init()
	instance.logger.IPrintf("FrameTracker initialized with %d slots (%d bytes)", capacity, size)
	return &t, nil
}

func slotOffset(slot SlotID) uint64 {
	return uint64(slot) * slotStride
}

func (t *FrameTracker) Capacity() uint32 {
	t.noCopy.Check()
	return t.capacity
}

func (t *FrameTracker) OverflowSlot() SlotID {
	t.noCopy.Check()
	return SlotID(t.capacity)
}

func (t *FrameTracker) Producer() *TrackerProducer {
	t.noCopy.Check()
	return t.producer
}

func (t *FrameTracker) StartTimestampAddress(slot SlotID) MemoryRef {
	t.noCopy.Check()
	t.checkSlot(slot)
	return MemoryRef{Memory: t.memory, Offset: slotOffset(slot) + slotStartOffset}
}

func (t *FrameTracker) EndTimestampAddress(slot SlotID) MemoryRef {
	t.noCopy.Check()
	t.checkSlot(slot)
	return MemoryRef{Memory: t.memory, Offset: slotOffset(slot) + slotEndOffset}
}

func (t *FrameTracker) checkSlot(slot SlotID) {
	if uint32(slot) > t.capacity {
		abort("Slot %d out of range [0, %d]", slot, t.capacity)
	}
}

// stampSlot must be called with t.mtx held.
func (t *FrameTracker) stampSlot(slot SlotID, queue, tracker uint32, valid bool) {
	off := slotOffset(slot)
	util.StoreUint64(t.mem, off+slotStartOffset, TimestampUnset)
	util.StoreUint64(t.mem, off+slotEndOffset, TimestampUnset)
	util.StoreUint32(t.mem, off+slotTrackerOffset, tracker)
	util.StoreUint32(t.mem, off+slotQueueOffset, queue)
	if valid {
		util.StoreUint32(t.mem, off+slotValidOffset, 1)
	}
}

/*
AssignSlot claims a slot for the next submission on queue and returns it together with the
tracker value the submission must publish on completion.

Tracked submissions scan the ring starting after the last assigned slot so a slot is revisited
as late as possible. When every slot is in flight the overflow slot is returned with ErrorExhausted
and no tracker is consumed. Untracked submissions always get the overflow slot.
*/
func (t *FrameTracker) AssignSlot(queue uint32, hasEvent bool) (SlotID, uint32, error) {
	t.noCopy.Check()
	t.producer.checkQueue(queue)

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if !hasEvent {
		tracker := t.producer.NextTracker(queue)
		t.stampSlot(SlotID(t.capacity), queue, tracker, false)
		t.producer.StepForward(queue)
		t.untracked.Add(1)
		return SlotID(t.capacity), tracker, nil
	}

	for i := uint32(1); i <= t.capacity; i++ {
		slot := SlotID((t.lastAssigned + i) % t.capacity)
		if util.LoadUint32(t.mem, slotOffset(slot)+slotValidOffset) != 0 {
			continue
		}
		tracker := t.producer.NextTracker(queue)
		t.stampSlot(slot, queue, tracker, true)
		t.producer.StepForward(queue)
		t.lastAssigned = uint32(slot)
		t.assigned.Add(1)
		instance.logger.VPrintf("Assigned slot %d tracker %d on queue %d", slot, tracker, queue)
		return slot, tracker, nil
	}

	t.exhausted.Add(1)
	instance.logger.WPrintf("FrameTracker exhausted, all %d slots in flight", t.capacity)
	return SlotID(t.capacity), t.producer.NextTracker(queue), ErrorExhausted{Capacity: t.capacity}
}

// slotState must be called with t.mtx held.
func (t *FrameTracker) slotState(slot SlotID) TaskState {
	if uint32(slot) >= t.capacity {
		return TaskStateUntracked
	}
	off := slotOffset(slot)
	if util.LoadUint32(t.mem, off+slotValidOffset) == 0 {
		return TaskStateUntracked
	}
	tracker := util.LoadUint32(t.mem, off+slotTrackerOffset)
	queue := util.LoadUint32(t.mem, off+slotQueueOffset)
	if TrackerNotLater(tracker, t.producer.LatestTracker(queue)) &&
		util.LoadUint64(t.mem, off+slotEndOffset) != TimestampUnset {
		return TaskStateFinished
	}
	if util.LoadUint64(t.mem, off+slotStartOffset) != TimestampUnset {
		return TaskStateInProgress
	}
	return TaskStateQueued
}

// retire must be called with t.mtx held, it returns the detached event that must be notified once unlocked.
func (t *FrameTracker) retire(slot SlotID, state TaskState) *Event {
	off := slotOffset(slot)
	start := util.LoadUint64(t.mem, off+slotStartOffset)
	end := util.LoadUint64(t.mem, off+slotEndOffset)
	util.StoreUint32(t.mem, off+slotValidOffset, 0)

	ev := t.events[slot]
	t.events[slot] = nil
	switch state {
	case TaskStateFinished:
		t.finished.Add(1)
	case TaskStateReset:
		t.resets.Add(1)
	}
	if ev != nil && ev.terminate(state, start, end) {
		return ev
	}
	return nil
}

/*
QueryState derives the state of slot from the hardware written fields. The first query that
observes Finished releases the slot and completes the event bound to it, later queries of the
same assignment report Untracked.
*/
func (t *FrameTracker) QueryState(slot SlotID) TaskState {
	t.noCopy.Check()
	t.checkSlot(slot)

	t.mtx.Lock()
	state := t.slotState(slot)
	var ev *Event
	if state == TaskStateFinished {
		ev = t.retire(slot, state)
	}
	t.mtx.Unlock()

	if ev != nil {
		ev.notify()
	}
	return state
}

func (t *FrameTracker) bind(slot SlotID, ev *Event) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.events[slot] != nil {
		abort("Slot %d is already bound to an event", slot)
	}
	t.events[slot] = ev
}

// queryEvent is Event.Query's view of the table, the slot is only consulted while still bound to ev.
func (t *FrameTracker) queryEvent(ev *Event, reset func() bool) TaskState {
	t.mtx.Lock()
	if t.events[ev.slot] != ev {
		t.mtx.Unlock()
		return ev.State()
	}
	state := t.slotState(ev.slot)
	var notify *Event
	switch {
	case state == TaskStateFinished:
		notify = t.retire(ev.slot, state)
	case reset():
		state = TaskStateReset
		notify = t.retire(ev.slot, state)
	}
	t.mtx.Unlock()

	if notify != nil {
		notify.notify()
	}
	return state
}

// Release invalidates slot without waiting for hardware, used to roll back a submission that never reached an engine.
func (t *FrameTracker) Release(slot SlotID) {
	t.noCopy.Check()
	t.checkSlot(slot)
	if uint32(slot) == t.capacity {
		return
	}
	t.mtx.Lock()
	util.StoreUint32(t.mem, slotOffset(slot)+slotValidOffset, 0)
	t.events[slot] = nil
	t.mtx.Unlock()
}

/*
WaitForAllFinished busy polls until every tracked submission has finished. Only the highest
tracker of each queue is polled since completion within a queue is in order. The deadline is
timeoutPerTask times the number of submissions in flight when the call started.
It is meant for teardown and diagnostics, not the steady state completion path.
*/
func (t *FrameTracker) WaitForAllFinished(timeoutPerTask time.Duration) error {
	t.noCopy.Check()
	start := time.Now()

	type pending struct {
		slot    SlotID
		tracker uint32
	}
	highest := map[uint32]pending{}
	inFlight := 0

	t.mtx.Lock()
	for i := uint32(0); i < t.capacity; i++ {
		off := slotOffset(SlotID(i))
		if util.LoadUint32(t.mem, off+slotValidOffset) == 0 {
			continue
		}
		inFlight++
		queue := util.LoadUint32(t.mem, off+slotQueueOffset)
		tracker := util.LoadUint32(t.mem, off+slotTrackerOffset)
		if p, ok := highest[queue]; !ok || TrackerNotLater(p.tracker, tracker) {
			highest[queue] = pending{slot: SlotID(i), tracker: tracker}
		}
	}
	t.mtx.Unlock()

	if inFlight == 0 {
		return nil
	}

	timeout := timeoutPerTask * time.Duration(inFlight)
	deadline := start.Add(timeout)
	for {
		for queue, p := range highest {
			t.mtx.Lock()
			off := slotOffset(p.slot)
			done := util.LoadUint32(t.mem, off+slotValidOffset) == 0 ||
				util.LoadUint32(t.mem, off+slotTrackerOffset) != p.tracker ||
				t.slotState(p.slot) == TaskStateFinished
			t.mtx.Unlock()
			if done {
				delete(highest, queue)
			}
		}
		if len(highest) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.timeouts.Add(1)
			instance.logger.WPrintf("WaitForAllFinished timed out after %v with %d queue(s) pending", timeout, len(highest))
			return ErrorTimeoutExceeded{Timeout: timeout, Pending: len(highest)}
		}
		runtime.Gosched()
	}

	for i := uint32(0); i < t.capacity; i++ {
		t.QueryState(SlotID(i))
	}
	return nil
}

func (t *FrameTracker) Stats() FrameTrackerStats {
	t.noCopy.Check()
	inUse := uint32(0)
	t.mtx.Lock()
	for i := uint32(0); i < t.capacity; i++ {
		if util.LoadUint32(t.mem, slotOffset(SlotID(i))+slotValidOffset) != 0 {
			inUse++
		}
	}
	t.mtx.Unlock()
	return FrameTrackerStats{
		Capacity:  t.capacity,
		InUse:     inUse,
		Assigned:  t.assigned.Load(),
		Untracked: t.untracked.Load(),
		Finished:  t.finished.Load(),
		Exhausted: t.exhausted.Load(),
		Resets:    t.resets.Load(),
		Timeouts:  t.timeouts.Load(),
	}
}

func (t *FrameTracker) Destroy() {
	t.noCopy.Check()
	t.memory.Unlock()
	t.memory.Free()
	t.mem = nil
	t.noCopy.Close()
}
