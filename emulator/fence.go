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
	"sync"
	"sync/atomic"
	"time"

	"goarrg.com/rhi/vxm"
)

/*
Fence is signaled once an engine is done with a command buffer, whether it ran to
completion or was abandoned by a reset.
*/
type Fence struct {
	once       sync.Once
	done       chan struct{}
	abandoned  atomic.Bool
	generation uint64
}

var _ vxm.CompletionObject = (*Fence)(nil)

func newFence(generation uint64) *Fence {
	return &Fence{done: make(chan struct{}), generation: generation}
}

func (f *Fence) signal(abandoned bool) {
	f.once.Do(func() {
		f.abandoned.Store(abandoned)
		close(f.done)
	})
}

func (f *Fence) Signaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Abandoned reports whether the command buffer was dropped by an engine reset.
func (f *Fence) Abandoned() bool {
	return f.Signaled() && f.abandoned.Load()
}

// ResetGeneration is the engine generation the command buffer was queued under.
func (f *Fence) ResetGeneration() uint64 {
	return f.generation
}

func (f *Fence) Done() <-chan struct{} {
	return f.done
}

func (f *Fence) WaitBounded(timeout time.Duration) error {
	if f.Signaled() {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return nil
	case <-timer.C:
		return vxm.ErrorTimeoutExceeded{Timeout: timeout}
	}
}
