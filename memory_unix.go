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

//go:build unix

package vxm

import (
	"sync"

	"goarrg.com/debug"
	"golang.org/x/sys/unix"
)

/*
MmapAllocator backs every allocation with its own shared anonymous mapping,
the same kind of page aligned memory a kernel driver exposes for CPU access to GPU buffers.
*/
type MmapAllocator struct {
	memoryBudget
}

var _ Allocator = (*MmapAllocator)(nil)

func NewMmapAllocator(budget uint64) *MmapAllocator {
	return &MmapAllocator{memoryBudget: memoryBudget{budget: budget}}
}

func (a *MmapAllocator) Allocate(name string, size uint64) (Memory, error) {
	if size == 0 {
		return nil, debug.Errorf("Allocation %q has zero size", name)
	}
	pageSize := uint64(unix.Getpagesize())
	mapped := (size + pageSize - 1) / pageSize * pageSize
	if err := a.reserve(name, mapped); err != nil {
		return nil, err
	}
	mem, err := unix.Mmap(-1, 0, int(mapped), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		a.release(mapped)
		return nil, debug.ErrorWrapf(ErrorAllocation{Name: name, Size: size}, "mmap: %v", err)
	}
	return &mmapMemory{name: name, size: size, mem: mem, allocator: a}, nil
}

type mmapMemory struct {
	mtx       sync.Mutex
	name      string
	size      uint64
	mem       []byte
	locks     int
	allocator *MmapAllocator
}

func (m *mmapMemory) Name() string {
	return m.name
}

func (m *mmapMemory) Size() uint64 {
	return m.size
}

func (m *mmapMemory) Lock() ([]byte, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.mem == nil {
		return nil, debug.Errorf("Lock called on freed allocation %q", m.name)
	}
	m.locks++
	return m.mem[:m.size:m.size], nil
}

func (m *mmapMemory) Unlock() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.locks == 0 {
		abort("Unlock called on unlocked allocation %q", m.name)
	}
	m.locks--
}

func (m *mmapMemory) Free() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.mem == nil {
		return
	}
	if m.locks != 0 {
		instance.logger.WPrintf("Freeing allocation %q with %d outstanding lock(s)", m.name, m.locks)
	}
	mapped := uint64(len(m.mem))
	if err := unix.Munmap(m.mem); err != nil {
		instance.logger.EPrintf("munmap %q: %v", m.name, err)
	}
	m.mem = nil
	m.allocator.release(mapped)
}
