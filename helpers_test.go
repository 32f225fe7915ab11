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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goarrg.com/rhi/vxm/internal/util"
)

type fakeCompletion struct {
	done       chan struct{}
	generation uint64
}

func (c *fakeCompletion) ResetGeneration() uint64 {
	return c.generation
}

func (c *fakeCompletion) WaitBounded(timeout time.Duration) error {
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return ErrorTimeoutExceeded{Timeout: timeout}
	}
}

/*
fakeHardware records submitted command buffers per queue and only executes them when
the test asks, which lets tests observe every intermediate state of a submission.
*/
type fakeHardware struct {
	*HeapAllocator
	t        *testing.T
	mtx      sync.Mutex
	ticks    uint64
	queues   [][]*pendingSubmit
	resets   []uint64
	submitFn func(queue uint32, cb *CommandBuffer) error
}

type pendingSubmit struct {
	cb         *CommandBuffer
	completion *fakeCompletion
}

var _ Hardware = (*fakeHardware)(nil)

func newFakeHardware(t *testing.T, numQueues int) *fakeHardware {
	return &fakeHardware{
		HeapAllocator: NewHeapAllocator(0),
		t:             t,
		queues:        make([][]*pendingSubmit, numQueues),
		resets:        make([]uint64, numQueues),
	}
}

func (h *fakeHardware) Properties() Properties {
	return Properties{Name: "fake", NumEngines: uint8(len(h.queues)), TimestampFrequency: 1_000_000_000}
}

// Ticks advances by 10 on every read so start and end timestamps always differ.
func (h *fakeHardware) Ticks() uint64 {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.ticks += 10
	return h.ticks
}

func (h *fakeHardware) TicksToNanoseconds(ticks uint64) uint64 {
	return ticks * 100
}

func (h *fakeHardware) ResetCount(queue uint32) uint64 {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.resets[queue]
}

func (h *fakeHardware) Submit(queue uint32, cb *CommandBuffer) (CompletionObject, error) {
	if h.submitFn != nil {
		if err := h.submitFn(queue, cb); err != nil {
			return nil, err
		}
	}
	h.mtx.Lock()
	c := &fakeCompletion{done: make(chan struct{}), generation: h.resets[queue]}
	h.queues[queue] = append(h.queues[queue], &pendingSubmit{cb: cb, completion: c})
	h.mtx.Unlock()
	return c, nil
}

func (h *fakeHardware) pending(queue uint32) int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return len(h.queues[queue])
}

// executeUntil runs the next command buffer of queue up to, not including, command index stop.
func (h *fakeHardware) executeUntil(queue uint32, stop int) {
	h.executeRange(queue, 0, stop)
}

// executeRange runs commands [start, stop) of the next command buffer of queue.
func (h *fakeHardware) executeRange(queue uint32, start, stop int) {
	h.mtx.Lock()
	require.NotEmpty(h.t, h.queues[queue], "queue %d has nothing to execute", queue)
	p := h.queues[queue][0]
	h.mtx.Unlock()
	cmds := p.cb.Commands()
	epilogue := p.cb.EpilogueStart()
	for i := start; i < len(cmds) && i < stop; i++ {
		if skip := executeCommand(h, cmds[i]); skip && i < epilogue {
			i = epilogue - 1
		}
	}
}

// executeNext runs the next command buffer of queue to completion and signals it.
func (h *fakeHardware) executeNext(queue uint32) {
	h.executeUntil(queue, int(^uint(0)>>1))
	h.signalNext(queue)
}

// signalNext signals the next command buffer of queue without executing anything else.
func (h *fakeHardware) signalNext(queue uint32) {
	h.mtx.Lock()
	p := h.queues[queue][0]
	h.queues[queue] = h.queues[queue][1:]
	h.mtx.Unlock()
	close(p.completion.done)
}

// reset drops everything queued on queue, signaling completions as an OS would after a reset.
func (h *fakeHardware) reset(queue uint32) {
	h.mtx.Lock()
	h.resets[queue]++
	dropped := h.queues[queue]
	h.queues[queue] = nil
	h.mtx.Unlock()
	for _, p := range dropped {
		close(p.completion.done)
	}
}

// executeCommand runs c against memory and reports whether a conditional end was satisfied. Semaphore waits must already hold.
func executeCommand(h *fakeHardware, c Command) bool {
	var mem []byte
	if c.Addr.Memory != nil {
		var err error
		mem, err = c.Addr.Memory.Lock()
		require.NoError(h.t, err)
		defer c.Addr.Memory.Unlock()
	}
	switch c.Op {
	case OpAtomicIncrement:
		util.AddUint32(mem, c.Addr.Offset, 1)
	case OpSemaphoreWait:
		require.True(h.t, c.Compare.Compare(util.LoadUint32(mem, c.Addr.Offset), c.Value), "semaphore wait would block: %s", c)
	case OpStoreImmediate:
		util.StoreUint32(mem, c.Addr.Offset, c.Value)
	case OpStoreTimestamp:
		util.StoreUint64(mem, c.Addr.Offset, h.Ticks())
	case OpConditionalEnd:
		return c.Compare.Compare(util.LoadUint32(mem, c.Addr.Offset), c.Value)
	}
	return false
}

func newTestContext(t *testing.T, numQueues int, slots uint32) (*Context, *fakeHardware) {
	hw := newFakeHardware(t, numQueues)
	ctx, err := NewContext(hw, Config{MaxTasksInFlight: slots, TeardownTimeoutPerTask: time.Millisecond})
	require.NoError(t, err)
	return ctx, hw
}

func submitSimpleTask(t *testing.T, ctx *Context, name string, queue uint32) *Event {
	task := ctx.NewTask(name)
	require.NoError(t, task.SetThreadSpace(ThreadSpace{Width: 4, Height: 4}))
	require.NoError(t, task.AddKernelDispatch(KernelDispatch{Name: name}))
	ev, err := task.Submit(queue, true)
	require.NoError(t, err)
	require.NotNil(t, ev)
	return ev
}
