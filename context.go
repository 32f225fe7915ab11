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
	"sync/atomic"
	"time"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxm/internal/util"
)

// CompletionObject is the OS level handle signaled once an engine retires a command buffer.
type CompletionObject interface {
	// WaitBounded returns nil once signaled or ErrorTimeoutExceeded if timeout elapsed first.
	WaitBounded(timeout time.Duration) error
	// ResetGeneration is the reset count of the queue at the moment the buffer was accepted.
	ResetGeneration() uint64
}

type Submitter interface {
	Submit(queue uint32, cb *CommandBuffer) (CompletionObject, error)
}

// ResetReporter counts engine resets per queue, a submission made before a reset never finishes.
type ResetReporter interface {
	ResetCount(queue uint32) uint64
}

type Hardware interface {
	Allocator
	Submitter
	TimeSource
	ResetReporter
	Properties() Properties
}

type destroyFunc struct {
	f func()
}

func (d destroyFunc) Destroy() {
	d.f()
}

/*
Context owns the tracking state of one hardware device: the tracker producer, the frame tracker,
the multi pipe contexts and everything subscribed to its teardown.
*/
type Context struct {
	noCopy     util.NoCopy
	mtx        sync.Mutex
	hw         Hardware
	config     Config
	properties Properties
	producer   *TrackerProducer
	tracker    *FrameTracker
	multiPipe  multiPipeCache
	submitted  atomic.Uint64
	destroyers []Destroyer
}

func NewContext(hw Hardware, config Config) (*Context, error) {
	properties := hw.Properties()
	properties.validate()
	instance.logger.IPrintf("Device properties: %s", prettyString(&properties))

	config.validate(&properties)
	instance.logger.IPrintf("User requested config: %s", prettyString(&config))

	producer, err := NewTrackerProducer(hw, config.NumQueues)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to create tracker producer")
	}
	tracker, err := NewFrameTracker(hw, producer, config.MaxTasksInFlight)
	if err != nil {
		producer.Destroy()
		return nil, debug.ErrorWrapf(err, "Failed to create frame tracker")
	}

	c := Context{
		hw:         hw,
		config:     config,
		properties: properties,
		producer:   producer,
		tracker:    tracker,
		multiPipe:  multiPipeCache{cache: map[string]*MultiPipeContext{}},
	}
	c.noCopy.Init()
	instance.logger.IPrintf("Initialization Completed")
	return &c, nil
}

func (c *Context) Properties() Properties {
	c.noCopy.Check()
	return c.properties
}

func (c *Context) Config() Config {
	c.noCopy.Check()
	return c.config
}

func (c *Context) NumQueues() uint32 {
	c.noCopy.Check()
	return c.config.NumQueues
}

func (c *Context) FrameTracker() *FrameTracker {
	c.noCopy.Check()
	return c.tracker
}

func (c *Context) Hardware() Hardware {
	c.noCopy.Check()
	return c.hw
}

// Submitted returns the number of tasks handed to the hardware so far.
func (c *Context) Submitted() uint64 {
	c.noCopy.Check()
	return c.submitted.Load()
}

// NewScalabilityParams returns parameters prefilled from the device properties and the configured user features.
func (c *Context) NewScalabilityParams(direction Direction, codec Codec) ScalabilityParams {
	c.noCopy.Check()
	return ScalabilityParams{
		Direction:           direction,
		Codec:               codec,
		NumEngines:          uint8(min(uint32(c.properties.NumEngines), c.config.NumQueues)),
		SlimEngineSupported: c.properties.SlimEngineSupported,
		Features:            c.config.Features,
	}
}

// OnDestroy registers d to be destroyed during Destroy, after all submissions have finished. Destroyers run in reverse order.
func (c *Context) OnDestroy(d Destroyer) {
	c.noCopy.Check()
	c.mtx.Lock()
	c.destroyers = append(c.destroyers, d)
	c.mtx.Unlock()
}

func (c *Context) OnDestroyFunc(f func()) {
	c.OnDestroy(destroyFunc{f: f})
}

// WaitIdle waits for every tracked submission with the configured teardown timeout.
func (c *Context) WaitIdle() error {
	c.noCopy.Check()
	return c.tracker.WaitForAllFinished(c.config.TeardownTimeoutPerTask)
}

/*
Destroy waits for all tracked submissions before freeing anything hardware may still write to.
On timeout the error is returned and the tracking memory is intentionally left allocated.
*/
func (c *Context) Destroy() error {
	c.noCopy.Check()
	start := time.Now()
	if err := c.WaitIdle(); err != nil {
		instance.logger.EPrintf("Failed to destroy context, submissions still in flight: %s", err)
		return err
	}

	c.mtx.Lock()
	destroyers := c.destroyers
	c.destroyers = nil
	c.mtx.Unlock()
	for i := len(destroyers) - 1; i >= 0; i-- {
		destroyers[i].Destroy()
	}

	instance.logger.VPrintf("multiPipeCache: %s", prettyString(&c.multiPipe))
	c.multiPipe.destroy()

	instance.logger.VPrintf("Frame tracker stats: %s", jsonString(c.tracker.Stats()))
	c.tracker.Destroy()
	c.producer.Destroy()
	c.noCopy.Close()
	instance.logger.IPrintf("Destroy took: %v", time.Since(start))
	return nil
}
