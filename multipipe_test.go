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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameParams(ctx *Context, width, height uint32) *ScalabilityParams {
	p := ctx.NewScalabilityParams(DirectionDecode, CodecVP9)
	p.TileColumns = 2
	p.FrameWidth = width
	p.FrameHeight = height
	return &p
}

func TestAcquireMultiPipeCache(t *testing.T) {
	ctx, _ := newTestContext(t, 2, 8)

	eightK, reused, err := ctx.AcquireMultiPipe(frameParams(ctx, 7680, 4320))
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, uint8(2), eightK.PipeCount())
	assert.NotNil(t, eightK.Barrier())

	again, reused, err := ctx.AcquireMultiPipe(frameParams(ctx, 8192, 4320))
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Same(t, eightK, again)

	hd, reused, err := ctx.AcquireMultiPipe(frameParams(ctx, 1920, 1080))
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, uint8(1), hd.PipeCount())
	assert.Nil(t, hd.Barrier())
	assert.NotEqual(t, eightK.ID(), hd.ID())

	back, reused, err := ctx.AcquireMultiPipe(frameParams(ctx, 7680, 4320))
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Same(t, eightK, back)

	assert.Equal(t, MultiPipeCacheStats{Contexts: 2, Reused: 1, Hits: 1, Misses: 2}, ctx.MultiPipeStats())

	var dump map[string]any
	require.NoError(t, json.Unmarshal([]byte(prettyString(&ctx.multiPipe)), &dump))
	assert.Len(t, dump["cache"], 2)
}

func TestAcquireMultiPipeErrors(t *testing.T) {
	ctx, _ := newTestContext(t, 2, 8)

	p := frameParams(ctx, 7680, 4320)
	p.NumEngines = 4
	p.TileColumns = 4
	_, _, err := ctx.AcquireMultiPipe(p)
	assert.Error(t, err, "more pipes than queues")

	_, _, err = ctx.AcquireMultiPipe(frameParams(ctx, 0, 0))
	assert.Error(t, err)
	assert.Equal(t, MultiPipeCacheStats{}, ctx.MultiPipeStats())
}

func TestAcquireMultiPipeTooManyPipes(t *testing.T) {
	ctx, _ := newTestContext(t, 4, 8)

	p := frameParams(ctx, 7680, 4320)
	p.TileColumns = 4
	option, err := NewScalabilityOption(p)
	require.NoError(t, err)
	require.Equal(t, uint8(4), option.PipeCount())

	_, _, err = ctx.AcquireMultiPipe(p)
	var unsupported ErrorUnsupportedPipeCount
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, uint8(4), unsupported.PipeCount)
	assert.Zero(t, ctx.MultiPipeStats().Contexts, "nothing is cached for an option a barrier cannot serve")

	_, _, err = ctx.AcquireMultiPipe(p)
	require.ErrorIs(t, err, ErrorUnsupportedPipeCount{})
	assert.Zero(t, ctx.MultiPipeStats().Contexts)
}

func TestMultiPipeSubmit(t *testing.T) {
	ctx, hw := newTestContext(t, 2, 8)
	m, _, err := ctx.AcquireMultiPipe(frameParams(ctx, 7680, 4320))
	require.NoError(t, err)

	tasks := m.NewPipeTasks("frame")
	require.Len(t, tasks, 2)
	assert.Equal(t, "frame_pipe0", tasks[0].Name())
	assert.Equal(t, "frame_pipe1", tasks[1].Name())

	for _, task := range tasks {
		require.NoError(t, task.SetThreadSpace(ThreadSpace{Width: 16, Height: 16}))
		require.NoError(t, task.AddKernelDispatch(KernelDispatch{Name: "decode"}))
	}
	require.NoError(t, m.AddBarrier(tasks))
	for _, task := range tasks {
		require.NoError(t, task.AddKernelDispatch(KernelDispatch{Name: "loop_filter"}))
	}

	assert.Error(t, m.AddBarrier(tasks[:1]))
	_, err = m.Submit(tasks[:1])
	assert.Error(t, err)

	events, err := m.Submit(tasks)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i, ev := range events {
		assert.Equal(t, uint32(i), ev.Queue())
		assert.Equal(t, TaskStateQueued, ev.Query())
	}

	// Pipe 1 signals the barrier and would block on the release, pipe 0 then runs to completion.
	hw.executeUntil(1, 3)
	childSignal, _ := m.Barrier().Counters()
	assert.Equal(t, uint32(1), childSignal)
	assert.Equal(t, TaskStateInProgress, events[1].Query())

	hw.executeNext(0)
	assert.Equal(t, TaskStateFinished, events[0].Query())
	_, parentGo := m.Barrier().Counters()
	assert.Equal(t, uint32(1), parentGo)

	hw.executeRange(1, 3, int(^uint(0)>>1))
	hw.signalNext(1)
	assert.Equal(t, TaskStateFinished, events[1].Query())

	childSignal, parentGo = m.Barrier().Counters()
	assert.Zero(t, childSignal)
	assert.Zero(t, parentGo)
}

func newBarrierTasks(t *testing.T, m *MultiPipeContext, name string) []*Task {
	tasks := m.NewPipeTasks(name)
	for _, task := range tasks {
		require.NoError(t, task.SetThreadSpace(ThreadSpace{Width: 1, Height: 1}))
		require.NoError(t, task.AddKernelDispatch(KernelDispatch{Name: "decode"}))
	}
	require.NoError(t, m.AddBarrier(tasks))
	return tasks
}

func TestMultiPipeSubmitExhaustedIsRetryable(t *testing.T) {
	ctx, hw := newTestContext(t, 2, 2)
	m, _, err := ctx.AcquireMultiPipe(frameParams(ctx, 7680, 4320))
	require.NoError(t, err)

	busy := submitSimpleTask(t, ctx, "busy", 0)
	tasks := newBarrierTasks(t, m, "frame")

	events, err := m.Submit(tasks)
	require.ErrorIs(t, err, ErrorExhausted{})
	assert.Empty(t, events)
	for _, task := range tasks {
		assert.False(t, task.Submitted())
	}
	assert.Equal(t, 1, hw.pending(0), "only the busy task reached hardware")
	assert.Zero(t, hw.pending(1))
	assert.Equal(t, uint32(1), ctx.FrameTracker().Stats().InUse)
	assert.Equal(t, uint64(1), ctx.Submitted())

	hw.executeNext(0)
	require.Equal(t, TaskStateFinished, busy.Query())

	events, err = m.Submit(tasks)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i, ev := range events {
		assert.Equal(t, uint32(i), ev.Queue())
		assert.Equal(t, TaskStateQueued, ev.Query())
	}
	assert.Equal(t, uint32(2), ctx.FrameTracker().Stats().InUse)
}

func TestMultiPipeSubmitHardwareFailure(t *testing.T) {
	ctx, hw := newTestContext(t, 2, 4)
	m, _, err := ctx.AcquireMultiPipe(frameParams(ctx, 7680, 4320))
	require.NoError(t, err)

	hw.submitFn = func(queue uint32, _ *CommandBuffer) error {
		if queue == 1 {
			return errors.New("engine 1 offline")
		}
		return nil
	}
	events, err := m.Submit(newBarrierTasks(t, m, "frame"))
	require.Error(t, err)
	require.Len(t, events, 1, "pipes that reached hardware are returned")
	assert.Equal(t, 1, hw.pending(0))
	assert.Zero(t, hw.pending(1))
	assert.Equal(t, uint32(1), ctx.FrameTracker().Stats().InUse, "the failed pipe's slot is released")
}

func TestMultiPipeSinglePipe(t *testing.T) {
	ctx, hw := newTestContext(t, 2, 8)
	m, _, err := ctx.AcquireMultiPipe(frameParams(ctx, 1280, 720))
	require.NoError(t, err)

	tasks := m.NewPipeTasks("small")
	require.Len(t, tasks, 1)
	require.NoError(t, tasks[0].SetThreadSpace(ThreadSpace{Width: 4, Height: 4}))
	require.NoError(t, tasks[0].AddKernelDispatch(KernelDispatch{Name: "decode"}))
	require.NoError(t, m.AddBarrier(tasks))

	events, err := m.Submit(tasks)
	require.NoError(t, err)
	hw.executeNext(0)
	assert.Equal(t, TaskStateFinished, events[0].Query())
	assert.Equal(t, 0, hw.pending(1))
}
