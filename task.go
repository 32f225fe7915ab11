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

	"goarrg.com/debug"
	"goarrg.com/gmath"

	"goarrg.com/rhi/vxm/internal/util"
)

const (
	MaxKernelsPerTask    = 16
	MaxThreadSpaceWidth  = 511
	MaxThreadSpaceHeight = 511
	MaxThreadsPerGroup   = 1024
)

type WalkerPattern uint32

const (
	WalkerRaster WalkerPattern = iota
	Walker26Degree
	Walker45Degree
)

func (p WalkerPattern) String() string {
	switch p {
	case WalkerRaster:
		return "Raster"
	case Walker26Degree:
		return "26Degree"
	case Walker45Degree:
		return "45Degree"
	}
	return fmt.Sprintf("WalkerPattern(%d)", uint32(p))
}

// ThreadSpace launches one thread per block, walked in Pattern order.
type ThreadSpace struct {
	Width   uint32
	Height  uint32
	Pattern WalkerPattern
}

func (s ThreadSpace) validate() error {
	if !gmath.InRange(s.Width, 1, MaxThreadSpaceWidth) || !gmath.InRange(s.Height, 1, MaxThreadSpaceHeight) {
		return debug.Errorf("ThreadSpace %dx%d is outside of [1x1, %dx%d]", s.Width, s.Height, MaxThreadSpaceWidth, MaxThreadSpaceHeight)
	}
	if s.Pattern > Walker45Degree {
		return debug.Errorf("Invalid walker pattern: %s", s.Pattern)
	}
	return nil
}

func (s ThreadSpace) Threads() uint64 {
	return uint64(s.Width) * uint64(s.Height)
}

// ThreadGroupSpace launches GroupCount groups of GroupSize threads.
type ThreadGroupSpace struct {
	GroupCount gmath.Extent3u32
	GroupSize  gmath.Extent3u32
}

func (s ThreadGroupSpace) validate() error {
	if s.GroupCount.X == 0 || s.GroupCount.Y == 0 || s.GroupCount.Z == 0 {
		return debug.Errorf("ThreadGroupSpace.GroupCount %+v has a zero dimension", s.GroupCount)
	}
	size := uint64(s.GroupSize.X) * uint64(s.GroupSize.Y) * uint64(s.GroupSize.Z)
	if !gmath.InRange(size, 1, MaxThreadsPerGroup) {
		return debug.Errorf("ThreadGroupSpace.GroupSize %+v is outside of [1, %d] threads", s.GroupSize, MaxThreadsPerGroup)
	}
	return nil
}

func (s ThreadGroupSpace) Threads() uint64 {
	return uint64(s.GroupCount.X) * uint64(s.GroupCount.Y) * uint64(s.GroupCount.Z) *
		uint64(s.GroupSize.X) * uint64(s.GroupSize.Y) * uint64(s.GroupSize.Z)
}

/*
KernelDispatch is one kernel invocation. A kernel without its own shape uses the
task's thread space or thread group space.
*/
type KernelDispatch struct {
	Name             string
	Constants        []byte
	ThreadSpace      *ThreadSpace
	ThreadGroupSpace *ThreadGroupSpace
}

func (k KernelDispatch) Threads() uint64 {
	switch {
	case k.ThreadSpace != nil:
		return k.ThreadSpace.Threads()
	case k.ThreadGroupSpace != nil:
		return k.ThreadGroupSpace.Threads()
	}
	return 0
}

// ConditionalEnd ends the remaining work of a command buffer when "*Addr Compare Value" holds.
type ConditionalEnd struct {
	Addr    MemoryRef
	Value   uint32
	Compare CompareOp
}

type taskConditionalEnd struct {
	after int
	end   ConditionalEnd
}

type taskBarrier struct {
	after     int
	barrier   *MultiPipeBarrier
	pipeIndex uint8
	pipeCount uint8
}

/*
Task collects the kernels of one submission together with their shape, the inter kernel
sync points and the resources whose lifetime ends with the submission. A Task is
mutable until Submit, after which every mutation fails.
*/
type Task struct {
	noCopy           util.NoCopy
	ctx              *Context
	name             string
	kernels          []KernelDispatch
	threadSpace      *ThreadSpace
	threadGroupSpace *ThreadGroupSpace
	syncBitmap       uint32
	conditionalEnds  []taskConditionalEnd
	barriers         []taskBarrier
	resources        []*Resource
	submitted        bool
}

func (c *Context) NewTask(name string) *Task {
	c.noCopy.Check()
	t := Task{ctx: c, name: name}
	t.noCopy.Init()
	return &t
}

func (t *Task) Name() string {
	t.noCopy.Check()
	return t.name
}

func (t *Task) Submitted() bool {
	t.noCopy.Check()
	return t.submitted
}

func (t *Task) checkMutable() error {
	t.noCopy.Check()
	if t.submitted {
		return debug.Errorf("Task %q has already been submitted", t.name)
	}
	return nil
}

func (t *Task) AddKernelDispatch(k KernelDispatch) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	if len(t.kernels) >= MaxKernelsPerTask {
		return debug.Errorf("Task %q already has the maximum of %d kernels", t.name, MaxKernelsPerTask)
	}
	if k.ThreadSpace != nil && k.ThreadGroupSpace != nil {
		return debug.Errorf("Kernel %q sets both a thread space and a thread group space", k.Name)
	}
	if k.ThreadSpace != nil {
		if err := k.ThreadSpace.validate(); err != nil {
			return debug.ErrorWrapf(err, "Invalid thread space for kernel %q", k.Name)
		}
	}
	if k.ThreadGroupSpace != nil {
		if err := k.ThreadGroupSpace.validate(); err != nil {
			return debug.ErrorWrapf(err, "Invalid thread group space for kernel %q", k.Name)
		}
	}
	t.kernels = append(t.kernels, k)
	return nil
}

// SetThreadSpace replaces the task wide shape, clearing any thread group space.
func (t *Task) SetThreadSpace(s ThreadSpace) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}
	t.threadSpace = &s
	t.threadGroupSpace = nil
	return nil
}

// SetThreadGroupSpace replaces the task wide shape, clearing any thread space.
func (t *Task) SetThreadGroupSpace(s ThreadGroupSpace) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}
	t.threadGroupSpace = &s
	t.threadSpace = nil
	return nil
}

// AddSync makes the next kernel wait for the last added kernel to retire.
func (t *Task) AddSync() error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	if len(t.kernels) == 0 {
		return debug.Errorf("AddSync called on task %q without kernels", t.name)
	}
	t.syncBitmap |= 1 << (len(t.kernels) - 1)
	return nil
}

func (t *Task) SyncBitmap() uint32 {
	t.noCopy.Check()
	return t.syncBitmap
}

// AddConditionalEnd records a conditional end after the last added kernel.
func (t *Task) AddConditionalEnd(c ConditionalEnd) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	if c.Addr.Memory == nil {
		return debug.Errorf("ConditionalEnd on task %q has no memory", t.name)
	}
	t.conditionalEnds = append(t.conditionalEnds, taskConditionalEnd{after: len(t.kernels) - 1, end: c})
	return nil
}

// AddPipeBarrier records a rendezvous of all pipes after the last added kernel.
func (t *Task) AddPipeBarrier(b *MultiPipeBarrier, pipeIndex, pipeCount uint8) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	if err := b.check(pipeIndex, pipeCount); err != nil {
		return err
	}
	t.barriers = append(t.barriers, taskBarrier{after: len(t.kernels) - 1, barrier: b, pipeIndex: pipeIndex, pipeCount: pipeCount})
	return nil
}

func (t *Task) AddResource(r *Resource) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	r.noCopy.Check()
	for _, have := range t.resources {
		if have == r {
			return nil
		}
	}
	t.resources = append(t.resources, r)
	return nil
}

func (t *Task) record(slot SlotID, queue, tracker uint32) (*CommandBuffer, error) {
	table := t.ctx.tracker
	cb := NewCommandBuffer(fmt.Sprintf("%s_q%d_t%d", t.name, queue, tracker))

	cb.BeginNamedRegion(t.name)
	cb.AppendStoreTimestamp(table.StartTimestampAddress(slot))

	emit := func(after int) error {
		for _, c := range t.conditionalEnds {
			if c.after == after {
				cb.AppendConditionalEnd(c.end)
			}
		}
		for _, b := range t.barriers {
			if b.after == after {
				if err := b.barrier.Execute(b.pipeIndex, b.pipeCount, cb); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := emit(-1); err != nil {
		return nil, err
	}
	for i, k := range t.kernels {
		if k.ThreadSpace == nil && k.ThreadGroupSpace == nil {
			k.ThreadSpace = t.threadSpace
			k.ThreadGroupSpace = t.threadGroupSpace
		}
		if k.ThreadSpace == nil && k.ThreadGroupSpace == nil {
			return nil, debug.Errorf("Kernel %q of task %q has no thread space", k.Name, t.name)
		}
		cb.AppendDispatch(k)
		if hasBits(t.syncBitmap, uint32(1)<<i) {
			cb.AppendPipeFlush()
		}
		if err := emit(i); err != nil {
			return nil, err
		}
	}
	cb.EndNamedRegion()

	cb.BeginEpilogue()
	cb.AppendPipeFlush()
	cb.AppendStoreTimestamp(table.EndTimestampAddress(slot))
	table.Producer().AppendTrackerUpdate(cb, queue, tracker)
	return cb, nil
}

// taskSubmission is a task with a claimed slot and recorded commands that has not reached hardware yet.
type taskSubmission struct {
	task    *Task
	queue   uint32
	slot    SlotID
	tracker uint32
	cb      *CommandBuffer
	ev      *Event
}

/*
prepare claims a slot and records the task. With hasEvent the event is bound to the slot and the
resources are marked in use before anything reaches hardware, so a fast completion cannot be missed.
*/
func (t *Task) prepare(queue uint32, hasEvent bool) (*taskSubmission, error) {
	if err := t.checkMutable(); err != nil {
		return nil, err
	}
	if !hasEvent && len(t.resources) > 0 {
		return nil, debug.Errorf("Task %q references %d resource(s) and cannot be submitted without an event", t.name, len(t.resources))
	}

	ctx := t.ctx
	ctx.noCopy.Check()
	slot, tracker, err := ctx.tracker.AssignSlot(queue, hasEvent)
	if err != nil {
		return nil, err
	}

	cb, err := t.record(slot, queue, tracker)
	if err != nil {
		ctx.tracker.Release(slot)
		return nil, debug.ErrorWrapf(err, "Failed to record task %q", t.name)
	}

	s := taskSubmission{task: t, queue: queue, slot: slot, tracker: tracker, cb: cb}
	if hasEvent {
		s.ev = newEvent(ctx.tracker, ctx.hw, ctx.hw, slot, queue, tracker)
		for _, r := range t.resources {
			r.acquire(slot)
		}
		resources := t.resources
		s.ev.OnComplete(func(_ *Event, _ TaskState) {
			for _, r := range resources {
				r.retire(slot)
			}
		})
		ctx.tracker.bind(slot, s.ev)
	}
	return &s, nil
}

// rollback returns the slot and resources of a submission that never reached hardware.
func (s *taskSubmission) rollback() {
	s.task.ctx.tracker.Release(s.slot)
	if s.ev != nil {
		for _, r := range s.task.resources {
			r.retire(s.slot)
		}
	}
}

// commit hands the recorded buffer to hardware, on error the submission is rolled back.
func (s *taskSubmission) commit() (*Event, error) {
	t := s.task
	ctx := t.ctx
	completion, err := ctx.hw.Submit(s.queue, s.cb)
	if err != nil {
		s.rollback()
		return nil, debug.ErrorWrapf(err, "Failed to submit task %q to queue %d", t.name, s.queue)
	}
	if completion == nil {
		abort("Submitter returned a nil completion object for task %q", t.name)
	}

	t.submitted = true
	ctx.submitted.Add(1)
	instance.logger.VPrintf("Submitted task %q to queue %d with tracker %d in slot %d", t.name, s.queue, s.tracker, s.slot)
	if s.ev == nil {
		return nil, nil
	}
	s.ev.attach(completion)
	return s.ev, nil
}

/*
Submit records the task and hands it to the hardware queue. With hasEvent the returned
Event tracks completion and releases the task's resources once it completes, ErrorExhausted
means every tracking slot is in flight and the caller should retry after an event completes.
Without hasEvent the task is fire and forget and nil is returned.
*/
func (t *Task) Submit(queue uint32, hasEvent bool) (*Event, error) {
	s, err := t.prepare(queue, hasEvent)
	if err != nil {
		return nil, err
	}
	return s.commit()
}
