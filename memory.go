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
	"sync"
	"unsafe"

	"goarrg.com/debug"
)

/*
Memory is a GPU visible allocation that the CPU can lock to obtain a mapping.
Mappings stay valid until the matching Unlock, locks nest.
*/
type Memory interface {
	Name() string
	Size() uint64
	Lock() ([]byte, error)
	Unlock()
	Free()
}

type Allocator interface {
	Allocate(name string, size uint64) (Memory, error)
}

// MemoryRef is a GPU address: an allocation plus a byte offset into it.
type MemoryRef struct {
	Memory Memory
	Offset uint64
}

func (r MemoryRef) Add(offset uint64) MemoryRef {
	return MemoryRef{Memory: r.Memory, Offset: r.Offset + offset}
}

func (r MemoryRef) String() string {
	if r.Memory == nil {
		return fmt.Sprintf("<nil>+0x%X", r.Offset)
	}
	return fmt.Sprintf("%s+0x%X", r.Memory.Name(), r.Offset)
}

type memoryBudget struct {
	mtx    sync.Mutex
	budget uint64
	used   uint64
}

func (b *memoryBudget) reserve(name string, size uint64) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.budget != 0 && b.used+size > b.budget {
		return ErrorAllocation{Name: name, Size: size}
	}
	b.used += size
	return nil
}

func (b *memoryBudget) release(size uint64) {
	b.mtx.Lock()
	b.used -= size
	b.mtx.Unlock()
}

func (b *memoryBudget) Used() uint64 {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.used
}

/*
HeapAllocator hands out Go heap memory, a budget of 0 means unlimited.
Allocations are 8 byte aligned so every naturally aligned word can be accessed atomically.
*/
type HeapAllocator struct {
	memoryBudget
}

var _ Allocator = (*HeapAllocator)(nil)

func NewHeapAllocator(budget uint64) *HeapAllocator {
	return &HeapAllocator{memoryBudget: memoryBudget{budget: budget}}
}

func (a *HeapAllocator) Allocate(name string, size uint64) (Memory, error) {
	if size == 0 {
		return nil, debug.Errorf("Allocation %q has zero size", name)
	}
	if err := a.reserve(name, size); err != nil {
		return nil, err
	}
	words := make([]uint64, (size+7)/8)
	return &heapMemory{
		name:      name,
		mem:       unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), size),
		allocator: a,
	}, nil
}

type heapMemory struct {
	mtx       sync.Mutex
	name      string
	mem       []byte
	locks     int
	freed     bool
	allocator *HeapAllocator
}

func (m *heapMemory) Name() string {
	return m.name
}

func (m *heapMemory) Size() uint64 {
	return uint64(len(m.mem))
}

func (m *heapMemory) Lock() ([]byte, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.freed {
		return nil, debug.Errorf("Lock called on freed allocation %q", m.name)
	}
	m.locks++
	return m.mem, nil
}

func (m *heapMemory) Unlock() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.locks == 0 {
		abort("Unlock called on unlocked allocation %q", m.name)
	}
	m.locks--
}

func (m *heapMemory) Free() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.freed {
		return
	}
	if m.locks != 0 {
		instance.logger.WPrintf("Freeing allocation %q with %d outstanding lock(s)", m.name, m.locks)
	}
	m.freed = true
	m.allocator.release(uint64(len(m.mem)))
}
