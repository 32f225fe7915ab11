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
	"sync"
	"time"

	"goarrg.com/debug"
	"golang.org/x/sync/errgroup"

	"goarrg.com/rhi/vxm"
)

type Config struct {
	Name                string
	NumEngines          uint8
	TimestampFrequency  uint64
	KernelLatency       time.Duration
	PollInterval        time.Duration
	QueueDepth          int
	MemoryBudget        uint64
	UseMmap             bool
	SFCSupported        bool
	SlimEngineSupported bool
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "vxm-emulator"
	}
	if c.NumEngines == 0 {
		c.NumEngines = 2
	}
	if c.TimestampFrequency == 0 {
		c.TimestampFrequency = vxm.DefaultTimestampFrequency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Microsecond
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
}

/*
Device is a software model of a media device. It implements vxm.Hardware with one
Engine per queue, every engine running on its own goroutine until Close.
*/
type Device struct {
	config  Config
	logger  *debug.Logger
	alloc   vxm.Allocator
	clock   *vxm.MonotonicClock
	engines []*Engine

	mtx    sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	closed bool
}

var _ vxm.Hardware = (*Device)(nil)

func New(config Config) *Device {
	config.setDefaults()
	d := Device{
		config: config,
		logger: debug.NewLogger("vxm", "emulator"),
		clock:  vxm.NewMonotonicClock(config.TimestampFrequency),
	}
	if config.UseMmap {
		d.alloc = vxm.NewMmapAllocator(config.MemoryBudget)
	} else {
		d.alloc = vxm.NewHeapAllocator(config.MemoryBudget)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.ctx, d.cancel = ctx, cancel
	d.group, ctx = errgroup.WithContext(ctx)
	for i := range config.NumEngines {
		e := newEngine(&d, uint32(i), config.QueueDepth)
		d.engines = append(d.engines, e)
		d.group.Go(func() error {
			return e.run(ctx)
		})
	}
	d.logger.IPrintf("Started %q with %d engine(s)", config.Name, config.NumEngines)
	return &d
}

func (d *Device) Properties() vxm.Properties {
	return vxm.Properties{
		VendorID:            vxm.VendorIntel,
		Name:                d.config.Name,
		NumEngines:          d.config.NumEngines,
		TimestampFrequency:  d.config.TimestampFrequency,
		SFCSupported:        d.config.SFCSupported,
		SlimEngineSupported: d.config.SlimEngineSupported,
	}
}

func (d *Device) Allocate(name string, size uint64) (vxm.Memory, error) {
	return d.alloc.Allocate(name, size)
}

func (d *Device) Ticks() uint64 {
	return d.clock.Ticks()
}

func (d *Device) TicksToNanoseconds(ticks uint64) uint64 {
	return d.clock.TicksToNanoseconds(ticks)
}

func (d *Device) Engine(queue uint32) *Engine {
	if queue >= uint32(len(d.engines)) {
		return nil
	}
	return d.engines[queue]
}

func (d *Device) ResetCount(queue uint32) uint64 {
	e := d.Engine(queue)
	if e == nil {
		return 0
	}
	return e.ResetCount()
}

func (d *Device) Submit(queue uint32, cb *vxm.CommandBuffer) (vxm.CompletionObject, error) {
	e := d.Engine(queue)
	if e == nil {
		return nil, debug.Errorf("Queue %d out of range [0, %d)", queue, len(d.engines))
	}
	d.mtx.Lock()
	closed := d.closed
	d.mtx.Unlock()
	if closed {
		return nil, debug.Errorf("Submit on closed device %q", d.config.Name)
	}
	return e.submit(d.ctx, cb)
}

// Close stops every engine, command buffers still queued are abandoned.
func (d *Device) Close() error {
	d.mtx.Lock()
	if d.closed {
		d.mtx.Unlock()
		return nil
	}
	d.closed = true
	d.mtx.Unlock()

	d.cancel()
	if err := d.group.Wait(); err != nil {
		return debug.ErrorWrapf(err, "Engine failed")
	}
	for _, e := range d.engines {
		d.logger.IPrintf("Engine %d: executed %d, abandoned %d, resets %d", e.index, e.Executed(), e.Abandoned(), e.ResetCount())
	}
	return nil
}
