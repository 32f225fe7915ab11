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

	"goarrg.com/rhi/vxm/internal/container"
	"goarrg.com/rhi/vxm/internal/util"
)

type Destroyer interface {
	Destroy()
}

/*
Resource ties an externally owned object to the submissions referencing it.
Each tracked submission marks the resource in use under its slot, Destroy only
runs the release function once no submission still holds it.
*/
type Resource struct {
	noCopy    util.NoCopy
	mtx       sync.Mutex
	name      string
	release   func()
	inUse     container.Bitset
	destroyed bool
	released  bool
}

var _ Destroyer = (*Resource)(nil)

func (c *Context) NewResource(name string, release func()) *Resource {
	c.noCopy.Check()
	r := Resource{name: name, release: release}
	r.noCopy.Init()
	return &r
}

func (r *Resource) Name() string {
	r.noCopy.Check()
	return r.name
}

// InUse reports whether any tracked submission that has not completed references the resource.
func (r *Resource) InUse() bool {
	r.noCopy.Check()
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return !r.inUse.Empty()
}

func (r *Resource) Released() bool {
	r.noCopy.Check()
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.released
}

func (r *Resource) acquire(slot SlotID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.destroyed {
		abort("Resource %q used after Destroy", r.name)
	}
	r.inUse.Set(uint32(slot))
}

func (r *Resource) retire(slot SlotID) {
	r.mtx.Lock()
	r.inUse.Clear(uint32(slot))
	run := r.takeRelease()
	r.mtx.Unlock()
	if run != nil {
		instance.logger.VPrintf("Releasing resource %q", r.name)
		run()
	}
}

// takeRelease must be called with r.mtx held.
func (r *Resource) takeRelease() func() {
	if !r.destroyed || r.released || !r.inUse.Empty() {
		return nil
	}
	r.released = true
	if r.release == nil {
		return func() {}
	}
	return r.release
}

func (r *Resource) Destroy() {
	r.noCopy.Check()
	r.mtx.Lock()
	if r.destroyed {
		r.mtx.Unlock()
		return
	}
	r.destroyed = true
	run := r.takeRelease()
	r.mtx.Unlock()
	if run != nil {
		instance.logger.VPrintf("Releasing resource %q", r.name)
		run()
	}
}
