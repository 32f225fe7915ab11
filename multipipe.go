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

	"goarrg.com/debug"

	"goarrg.com/rhi/vxm/internal/util"
)

/*
MultiPipeContext is the execution context built for one ScalabilityOption. Pipe i
always runs on queue i and all pipes share one barrier.
*/
type MultiPipeContext struct {
	noCopy  util.NoCopy
	ctx     *Context
	id      string
	option  ScalabilityOption
	barrier *MultiPipeBarrier
}

func newMultiPipeContext(ctx *Context, id string, option ScalabilityOption) (*MultiPipeContext, error) {
	if option.pipeCount > maxBarrierPipes {
		instance.logger.WPrintf("Option %s has more pipes than a barrier can synchronize", option)
		return nil, ErrorUnsupportedPipeCount{PipeCount: option.pipeCount}
	}
	if uint32(option.pipeCount) > ctx.config.NumQueues {
		return nil, debug.Errorf("Option %s needs %d pipes but only %d queue(s) are configured", option, option.pipeCount, ctx.config.NumQueues)
	}
	m := MultiPipeContext{ctx: ctx, id: id, option: option}
	if option.pipeCount > 1 {
		b, err := NewMultiPipeBarrier(ctx.hw)
		if err != nil {
			return nil, debug.ErrorWrapf(err, "Failed to create multi pipe context %s", id)
		}
		m.barrier = b
	}
	m.noCopy.Init()
	instance.logger.IPrintf("Created multi pipe context %s: %s", id, option)
	return &m, nil
}

/*
AcquireMultiPipe decides the scalability option for p and returns an execution context for it.
reused is true when an already built context was returned.
*/
func (c *Context) AcquireMultiPipe(p *ScalabilityParams) (m *MultiPipeContext, reused bool, err error) {
	c.noCopy.Check()
	option, err := NewScalabilityOption(p)
	if err != nil {
		return nil, false, err
	}
	return c.multiPipe.createOrRetrieve(c, option)
}

func (c *Context) MultiPipeStats() MultiPipeCacheStats {
	c.noCopy.Check()
	return c.multiPipe.stats()
}

func (m *MultiPipeContext) ID() string {
	m.noCopy.Check()
	return m.id
}

func (m *MultiPipeContext) Option() ScalabilityOption {
	m.noCopy.Check()
	return m.option
}

func (m *MultiPipeContext) PipeCount() uint8 {
	m.noCopy.Check()
	return m.option.pipeCount
}

// Barrier returns nil for single pipe contexts.
func (m *MultiPipeContext) Barrier() *MultiPipeBarrier {
	m.noCopy.Check()
	return m.barrier
}

func (m *MultiPipeContext) NewPipeTasks(name string) []*Task {
	m.noCopy.Check()
	tasks := make([]*Task, m.option.pipeCount)
	for i := range tasks {
		tasks[i] = m.ctx.NewTask(fmt.Sprintf("%s_pipe%d", name, i))
	}
	return tasks
}

// AddBarrier inserts a rendezvous after the last kernel added to each pipe task.
func (m *MultiPipeContext) AddBarrier(tasks []*Task) error {
	m.noCopy.Check()
	if err := m.checkTasks(tasks); err != nil {
		return err
	}
	if m.barrier == nil {
		return nil
	}
	for i, t := range tasks {
		if err := t.AddPipeBarrier(m.barrier, uint8(i), m.option.pipeCount); err != nil {
			return err
		}
	}
	return nil
}

/*
Submit submits pipe task i to queue i, every task gets an event. Every pipe's slot is claimed
before the first buffer reaches hardware, so ErrorExhausted leaves all tasks unsubmitted and
the whole set can be retried.
*/
func (m *MultiPipeContext) Submit(tasks []*Task) ([]*Event, error) {
	m.noCopy.Check()
	if err := m.checkTasks(tasks); err != nil {
		return nil, err
	}

	prepared := make([]*taskSubmission, 0, len(tasks))
	for i, t := range tasks {
		s, err := t.prepare(uint32(i), true)
		if err != nil {
			for _, p := range prepared {
				p.rollback()
			}
			return nil, err
		}
		prepared = append(prepared, s)
	}

	events := make([]*Event, 0, len(tasks))
	for i, s := range prepared {
		ev, err := s.commit()
		if err != nil {
			for _, p := range prepared[i+1:] {
				p.rollback()
			}
			if i > 0 {
				instance.logger.WPrintf("Pipe %d of %s failed to submit after %d pipe(s) were submitted, submitted pipes may block on the barrier until reset",
					i, m.id, i)
			}
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (m *MultiPipeContext) checkTasks(tasks []*Task) error {
	if len(tasks) != int(m.option.pipeCount) {
		return debug.Errorf("Got %d task(s) for %d pipe(s)", len(tasks), m.option.pipeCount)
	}
	return nil
}

func (m *MultiPipeContext) destroy() {
	m.noCopy.Check()
	if m.barrier != nil {
		m.barrier.Destroy()
	}
	m.noCopy.Close()
}
