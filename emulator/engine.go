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

package emulator

import (
	"context"
	"sync/atomic"
	"time"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxm"
	"goarrg.com/rhi/vxm/internal/util"
)

type job struct {
	cb         *vxm.CommandBuffer
	fence      *Fence
	generation uint64
}

/*
Engine executes command buffers in submission order on its own goroutine.
Reset abandons the running buffer and every buffer queued before the reset.
*/
type Engine struct {
	index      uint32
	device     *Device
	jobs       chan job
	generation atomic.Uint64
	executed   atomic.Uint64
	abandoned  atomic.Uint64
	busy       atomic.Bool
}

func newEngine(d *Device, index uint32, depth int) *Engine {
	return &Engine{index: index, device: d, jobs: make(chan job, depth)}
}

func (e *Engine) Index() uint32 {
	return e.index
}

// ResetCount returns the number of resets so far.
func (e *Engine) ResetCount() uint64 {
	return e.generation.Load()
}

func (e *Engine) Executed() uint64 {
	return e.executed.Load()
}

func (e *Engine) Abandoned() uint64 {
	return e.abandoned.Load()
}

func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Reset models a hardware engine reset: work submitted before it never completes.
func (e *Engine) Reset() {
	g := e.generation.Add(1)
	e.device.logger.WPrintf("Engine %d reset, generation %d", e.index, g)
}

func (e *Engine) submit(ctx context.Context, cb *vxm.CommandBuffer) (*Fence, error) {
	g := e.generation.Load()
	j := job{cb: cb, fence: newFence(g), generation: g}
	select {
	case e.jobs <- j:
		return j.fence, nil
	case <-ctx.Done():
		return nil, debug.Errorf("Engine %d is closed", e.index)
	}
}

func (e *Engine) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.drain()
			return nil
		case j := <-e.jobs:
			e.busy.Store(true)
			ok := e.execute(ctx, j)
			e.busy.Store(false)
			if ok {
				e.executed.Add(1)
			} else {
				e.abandoned.Add(1)
			}
			j.fence.signal(!ok)
		}
	}
}

func (e *Engine) drain() {
	for {
		select {
		case j := <-e.jobs:
			e.abandoned.Add(1)
			j.fence.signal(true)
		default:
			return
		}
	}
}

type mappings map[vxm.Memory][]byte

func (m mappings) get(ref vxm.MemoryRef) ([]byte, error) {
	if mem, ok := m[ref.Memory]; ok {
		return mem, nil
	}
	mem, err := ref.Memory.Lock()
	if err != nil {
		return nil, err
	}
	m[ref.Memory] = mem
	return mem, nil
}

func (m mappings) release() {
	for k := range m {
		k.Unlock()
	}
}

// execute reports false when the buffer was abandoned.
func (e *Engine) execute(ctx context.Context, j job) bool {
	alive := func() bool {
		return e.generation.Load() == j.generation && ctx.Err() == nil
	}

	mapped := mappings{}
	defer mapped.release()

	cfg := &e.device.config
	cmds := j.cb.Commands()
	epilogue := j.cb.EpilogueStart()
	e.device.logger.VPrintf("Engine %d executing %s", e.index, j.cb.Name())

	for i := 0; i < len(cmds); i++ {
		if !alive() {
			return false
		}
		c := cmds[i]

		var mem []byte
		if c.Addr.Memory != nil {
			var err error
			if mem, err = mapped.get(c.Addr); err != nil {
				e.device.logger.EPrintf("Engine %d failed to map %s: %v", e.index, c.Addr, err)
				return false
			}
		}

		switch c.Op {
		case vxm.OpAtomicIncrement:
			util.AddUint32(mem, c.Addr.Offset, 1)

		case vxm.OpSemaphoreWait:
			for !c.Compare.Compare(util.LoadUint32(mem, c.Addr.Offset), c.Value) {
				if !alive() {
					return false
				}
				time.Sleep(cfg.PollInterval)
			}

		case vxm.OpStoreImmediate:
			util.StoreUint32(mem, c.Addr.Offset, c.Value)

		case vxm.OpStoreTimestamp:
			util.StoreUint64(mem, c.Addr.Offset, e.device.clock.Ticks())

		case vxm.OpDispatch:
			if cfg.KernelLatency > 0 {
				select {
				case <-time.After(cfg.KernelLatency):
				case <-ctx.Done():
					return false
				}
			}

		case vxm.OpPipeFlush:

		case vxm.OpConditionalEnd:
			if i < epilogue && c.Compare.Compare(util.LoadUint32(mem, c.Addr.Offset), c.Value) {
				e.device.logger.VPrintf("Engine %d: %s satisfied, skipping to epilogue", e.index, c)
				i = epilogue - 1
			}
		}
	}
	return true
}
