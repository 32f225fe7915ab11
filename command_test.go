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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareOp(t *testing.T) {
	tests := []struct {
		op         CompareOp
		mem, value uint32
		want       bool
	}{
		{CompareEqual, 1, 1, true},
		{CompareEqual, 1, 2, false},
		{CompareNotEqual, 1, 2, true},
		{CompareGreaterOrEqual, 2, 2, true},
		{CompareGreater, 2, 2, false},
		{CompareLessOrEqual, 2, 2, true},
		{CompareLess, 1, 2, true},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.op.Compare(test.mem, test.value), "%d %s %d", test.mem, test.op, test.value)
	}
	assert.Panics(t, func() { CompareOp(99).Compare(0, 0) })
}

func TestCommandBuffer(t *testing.T) {
	m, err := NewHeapAllocator(0).Allocate("cb", 16)
	require.NoError(t, err)
	ref := MemoryRef{Memory: m}

	cb := NewCommandBuffer("test")
	assert.Equal(t, 0, cb.EpilogueStart())

	cb.BeginNamedRegion("outer")
	cb.AppendStoreImmediate(ref, 3)
	cb.BeginNamedRegion("inner")
	cb.AppendSemaphoreWait(ref.Add(4), 1, CompareGreater)
	cb.EndNamedRegion()
	cb.AppendDispatch(KernelDispatch{Name: "k"})
	cb.EndNamedRegion()
	cb.BeginEpilogue()
	cb.AppendStoreTimestamp(ref.Add(8))

	cmds := cb.Commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, "outer", cmds[0].Region)
	assert.Equal(t, "outer/inner", cmds[1].Region)
	assert.Equal(t, "outer", cmds[2].Region)
	assert.Equal(t, "", cmds[3].Region)
	assert.Equal(t, 3, cb.EpilogueStart())

	s := cb.String()
	assert.True(t, strings.HasPrefix(s, "test:"))
	assert.Contains(t, s, "SemaphoreWait(cb+0x4 > 1)")
	assert.Contains(t, s, "-- epilogue --")

	assert.Panics(t, cb.BeginEpilogue)
	assert.Panics(t, cb.EndNamedRegion)
	assert.Panics(t, func() { cb.AppendStoreImmediate(ref.Add(14), 0) }, "out of bounds")
	assert.Panics(t, func() { cb.AppendAtomicIncrement(ref.Add(2)) }, "unaligned")
	assert.Panics(t, func() { cb.AppendStoreTimestamp(ref.Add(4)) }, "timestamps are 8 byte aligned")
	assert.Panics(t, func() { cb.AppendStoreImmediate(MemoryRef{}, 0) })
}
