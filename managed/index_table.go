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

package managed

import (
	"sync"
	"sync/atomic"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxm"
	"goarrg.com/rhi/vxm/internal/container"
	"goarrg.com/rhi/vxm/internal/util"
)

type indexTable[K comparable] struct {
	noCopy    util.NoCopy
	mtx       sync.Mutex
	capacity  int
	index     int
	freeStack container.Stack[int]
	indices   map[K]int
	retiring  map[K]uint64
	pops      uint64
}

// push returns the index of key, fresh is true when key had no index before this call.
func (t *indexTable[K]) push(key K) (i int, fresh bool, err error) {
	t.noCopy.Check()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if i, found := t.indices[key]; found {
		delete(t.retiring, key)
		return i, false, nil
	}
	if t.freeStack.Empty() {
		if t.index >= t.capacity {
			return -1, false, debug.Errorf("Index table is full with %d entries", t.capacity)
		}
		i = t.index
		t.index++
	} else {
		i = t.freeStack.Pop()
	}
	t.indices[key] = i
	return i, true, nil
}

func (t *indexTable[K]) retire(key K, pop uint64) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if p, ok := t.retiring[key]; !ok || p != pop {
		return
	}
	delete(t.retiring, key)
	i := t.indices[key]
	delete(t.indices, key)
	t.freeStack.Push(i)
}

/*
Pop marks the index holding target as unused. The index only becomes available again
once every event in events completed, without events it is released immediately.
Pushing target again before that cancels the pop and keeps the same index.
*/
func (t *indexTable[K]) Pop(target K, events ...*vxm.Event) {
	t.noCopy.Check()
	t.mtx.Lock()
	if _, found := t.indices[target]; !found {
		t.mtx.Unlock()
		return
	}
	t.pops++
	pop := t.pops
	t.retiring[target] = pop
	t.mtx.Unlock()

	if len(events) == 0 {
		t.retire(target, pop)
		return
	}
	var remaining atomic.Int32
	remaining.Store(int32(len(events)))
	for _, ev := range events {
		ev.OnComplete(func(*vxm.Event, vxm.TaskState) {
			if remaining.Add(-1) == 0 {
				t.retire(target, pop)
			}
		})
	}
}

func (t *indexTable[K]) Len() int {
	t.noCopy.Check()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.indices)
}

func (t *indexTable[K]) Lookup(key K) (int, bool) {
	t.noCopy.Check()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	i, found := t.indices[key]
	return i, found
}

/*
IndexTable hands out small stable indices for keys, for example binding table
entries, recycling an index only after the last submission using it completed.
*/
type IndexTable[K comparable] struct {
	indexTable[K]
}

func NewIndexTable[K comparable](capacity int) *IndexTable[K] {
	if capacity <= 0 {
		abort("IndexTable capacity must be >= 1")
	}
	ret := IndexTable[K]{
		indexTable: indexTable[K]{
			capacity: capacity,
			indices:  map[K]int{},
			retiring: map[K]uint64{},
		},
	}
	ret.noCopy.Init()
	return &ret
}

func (t *IndexTable[K]) Push(key K) (int, error) {
	i, _, err := t.push(key)
	return i, err
}

/*
BindingTable assigns binding table indices to resources and makes the task
using a binding keep the resource alive until it completes.
*/
type BindingTable struct {
	indexTable[*vxm.Resource]
}

func NewBindingTable(capacity int) *BindingTable {
	if capacity <= 0 {
		abort("BindingTable capacity must be >= 1")
	}
	ret := BindingTable{
		indexTable: indexTable[*vxm.Resource]{
			capacity: capacity,
			indices:  map[*vxm.Resource]int{},
			retiring: map[*vxm.Resource]uint64{},
		},
	}
	ret.noCopy.Init()
	return &ret
}

/*
Bind returns the binding index of r and adds r to the resources of task. If task no longer
accepts resources an index pushed by this call is released again.
*/
func (t *BindingTable) Bind(task *vxm.Task, r *vxm.Resource) (int, error) {
	if task.Submitted() {
		return -1, debug.Errorf("Failed to bind %q, task %q has already been submitted", r.Name(), task.Name())
	}
	i, fresh, err := t.push(r)
	if err != nil {
		return -1, debug.ErrorWrapf(err, "Failed to bind %q", r.Name())
	}
	if err := task.AddResource(r); err != nil {
		if fresh {
			t.Pop(r)
		}
		return -1, err
	}
	return i, nil
}
