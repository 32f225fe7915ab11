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
	"goarrg.com/debug"

	"goarrg.com/rhi/vxm/internal/util"
)

const (
	maxBarrierPipes = 2

	barrierChildSignalOffset = 0
	barrierParentGoOffset    = 8
	barrierSize              = 16
)

/*
MultiPipeBarrier makes every pipe of a scalable submission wait for the others using
only command stream primitives. Pipe 0 is the parent, it waits for all children to
signal, then releases them. Both counters are back at zero once every pipe has left
the barrier so the same counters can be reused within one submission.

The barrier has no timeout. If a pipe never reaches its half the other pipes block
in their semaphore wait until the engine is reset from outside.

Only one child resets the release counter, so at most 2 pipes are supported.
*/
type MultiPipeBarrier struct {
	noCopy util.NoCopy
	memory Memory
	mem    []byte
}

func NewMultiPipeBarrier(alloc Allocator) (*MultiPipeBarrier, error) {
	memory, err := alloc.Allocate("multi_pipe_barrier", barrierSize)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to allocate multi pipe barrier")
	}
	mem, err := memory.Lock()
	if err != nil {
		memory.Free()
		return nil, debug.ErrorWrapf(err, "Failed to lock multi pipe barrier memory")
	}
	clear(mem)

	b := MultiPipeBarrier{memory: memory, mem: mem}
	b.noCopy.Init()
	return &b, nil
}

func (b *MultiPipeBarrier) ChildSignalAddress() MemoryRef {
	b.noCopy.Check()
	return MemoryRef{Memory: b.memory, Offset: barrierChildSignalOffset}
}

func (b *MultiPipeBarrier) ParentGoAddress() MemoryRef {
	b.noCopy.Check()
	return MemoryRef{Memory: b.memory, Offset: barrierParentGoOffset}
}

func (b *MultiPipeBarrier) check(pipeIndex, pipeCount uint8) error {
	b.noCopy.Check()
	if pipeCount == 0 {
		return debug.Errorf("Pipe count must be >= 1")
	}
	if pipeCount > maxBarrierPipes {
		return ErrorUnsupportedPipeCount{PipeCount: pipeCount}
	}
	if pipeIndex >= pipeCount {
		return debug.Errorf("Pipe index %d out of range [0, %d)", pipeIndex, pipeCount)
	}
	return nil
}

// Execute appends pipeIndex's half of the rendezvous to cs. A single pipe needs no barrier and appends nothing.
func (b *MultiPipeBarrier) Execute(pipeIndex, pipeCount uint8, cs CommandStream) error {
	if err := b.check(pipeIndex, pipeCount); err != nil {
		return err
	}
	if pipeCount == 1 {
		return nil
	}

	childSignal := b.ChildSignalAddress()
	parentGo := b.ParentGoAddress()

	if pipeIndex == 0 {
		cs.AppendSemaphoreWait(childSignal, uint32(pipeCount-1), CompareEqual)
		cs.AppendStoreImmediate(childSignal, 0)
		cs.AppendAtomicIncrement(parentGo)
		return nil
	}

	cs.AppendAtomicIncrement(childSignal)
	cs.AppendSemaphoreWait(parentGo, 1, CompareEqual)
	if pipeIndex == 1 {
		cs.AppendStoreImmediate(parentGo, 0)
	}
	return nil
}

// Reset zeroes both counters from the CPU, only valid while no engine executes the barrier.
func (b *MultiPipeBarrier) Reset() {
	b.noCopy.Check()
	util.StoreUint32(b.mem, barrierChildSignalOffset, 0)
	util.StoreUint32(b.mem, barrierParentGoOffset, 0)
}

func (b *MultiPipeBarrier) Counters() (childSignal, parentGo uint32) {
	b.noCopy.Check()
	return util.LoadUint32(b.mem, barrierChildSignalOffset), util.LoadUint32(b.mem, barrierParentGoOffset)
}

func (b *MultiPipeBarrier) Destroy() {
	b.noCopy.Check()
	b.memory.Unlock()
	b.memory.Free()
	b.mem = nil
	b.noCopy.Close()
}
