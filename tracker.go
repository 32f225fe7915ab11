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

	"goarrg.com/debug"

	"goarrg.com/rhi/vxm/internal/util"
)

/*
TrackerNotLater reports whether tracker a was issued no later than tracker b.
Trackers wrap at 2^32 so the comparison is done on the signed difference,
which stays correct as long as the two values are less than 2^31 apart.
*/
func TrackerNotLater(a, b uint32) bool {
	return int32(a-b) <= 0
}

const trackerStride = 8

/*
TrackerProducer issues per queue tracker values and owns the GPU visible words
the engines update with the latest completed tracker of each queue.
*/
type TrackerProducer struct {
	noCopy    util.NoCopy
	mtx       sync.Mutex
	numQueues uint32
	next      []uint32
	memory    Memory
	mem       []byte
}

func NewTrackerProducer(alloc Allocator, numQueues uint32) (*TrackerProducer, error) {
	if numQueues == 0 {
		return nil, debug.Errorf("TrackerProducer needs at least 1 queue")
	}
	memory, err := alloc.Allocate("latest_tracker", uint64(numQueues)*trackerStride)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to allocate latest tracker memory for %d queue(s)", numQueues)
	}
	mem, err := memory.Lock()
	if err != nil {
		memory.Free()
		return nil, debug.ErrorWrapf(err, "Failed to lock latest tracker memory")
	}
	clear(mem)

	p := TrackerProducer{
		numQueues: numQueues,
		next:      make([]uint32, numQueues),
		memory:    memory,
		mem:       mem,
	}
	p.noCopy.Init()
	for i := range p.next {
		p.next[i] = 1
	}
	return &p, nil
}

func (p *TrackerProducer) checkQueue(queue uint32) {
	if queue >= p.numQueues {
		abort("Queue index %d out of range [0, %d)", queue, p.numQueues)
	}
}

func (p *TrackerProducer) NumQueues() uint32 {
	p.noCopy.Check()
	return p.numQueues
}

// NextTracker returns the value the next submission on queue will be assigned without consuming it.
func (p *TrackerProducer) NextTracker(queue uint32) uint32 {
	p.noCopy.Check()
	p.checkQueue(queue)
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.next[queue]
}

func (p *TrackerProducer) StepForward(queue uint32) {
	p.noCopy.Check()
	p.checkQueue(queue)
	p.mtx.Lock()
	p.next[queue]++
	p.mtx.Unlock()
}

func (p *TrackerProducer) LatestTrackerAddress(queue uint32) MemoryRef {
	p.noCopy.Check()
	p.checkQueue(queue)
	return MemoryRef{Memory: p.memory, Offset: uint64(queue) * trackerStride}
}

// LatestTracker reads the latest completed tracker of queue as last written by hardware.
func (p *TrackerProducer) LatestTracker(queue uint32) uint32 {
	p.noCopy.Check()
	p.checkQueue(queue)
	return util.LoadUint32(p.mem, uint64(queue)*trackerStride)
}

// AppendTrackerUpdate records the completion marker that publishes value as the latest tracker of queue.
func (p *TrackerProducer) AppendTrackerUpdate(cs CommandStream, queue, value uint32) {
	cs.AppendStoreImmediate(p.LatestTrackerAddress(queue), value)
}

func (p *TrackerProducer) Destroy() {
	p.noCopy.Check()
	p.memory.Unlock()
	p.memory.Free()
	p.mem = nil
	p.noCopy.Close()
}
