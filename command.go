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
	"slices"
	"strings"

	"goarrg.com/rhi/vxm/internal/container"
	"goarrg.com/rhi/vxm/internal/util"
)

type CompareOp uint32

const (
	CompareEqual CompareOp = iota
	CompareNotEqual
	CompareGreaterOrEqual
	CompareGreater
	CompareLessOrEqual
	CompareLess
)

// Compare evaluates "mem op value".
func (op CompareOp) Compare(mem, value uint32) bool {
	switch op {
	case CompareEqual:
		return mem == value
	case CompareNotEqual:
		return mem != value
	case CompareGreaterOrEqual:
		return mem >= value
	case CompareGreater:
		return mem > value
	case CompareLessOrEqual:
		return mem <= value
	case CompareLess:
		return mem < value
	}
	abort("Unknown CompareOp: %d", op)
	return false
}

func (op CompareOp) String() string {
	switch op {
	case CompareEqual:
		return "=="
	case CompareNotEqual:
		return "!="
	case CompareGreaterOrEqual:
		return ">="
	case CompareGreater:
		return ">"
	case CompareLessOrEqual:
		return "<="
	case CompareLess:
		return "<"
	}
	return fmt.Sprintf("CompareOp(%d)", uint32(op))
}

/*
CommandStream is the append side of a hardware command buffer, the primitives
are the only way this package talks to an engine once work is recorded.
*/
type CommandStream interface {
	AppendAtomicIncrement(addr MemoryRef)
	AppendSemaphoreWait(addr MemoryRef, value uint32, op CompareOp)
	AppendStoreImmediate(addr MemoryRef, value uint32)
	AppendStoreTimestamp(addr MemoryRef)
}

type Opcode uint32

const (
	OpAtomicIncrement Opcode = iota
	OpSemaphoreWait
	OpStoreImmediate
	OpStoreTimestamp
	OpDispatch
	OpPipeFlush
	OpConditionalEnd
)

func (op Opcode) String() string {
	switch op {
	case OpAtomicIncrement:
		return "AtomicIncrement"
	case OpSemaphoreWait:
		return "SemaphoreWait"
	case OpStoreImmediate:
		return "StoreImmediate"
	case OpStoreTimestamp:
		return "StoreTimestamp"
	case OpDispatch:
		return "Dispatch"
	case OpPipeFlush:
		return "PipeFlush"
	case OpConditionalEnd:
		return "ConditionalEnd"
	}
	return fmt.Sprintf("Opcode(%d)", uint32(op))
}

type Command struct {
	Op      Opcode
	Addr    MemoryRef
	Value   uint32
	Compare CompareOp
	Kernel  *KernelDispatch
	Region  string
}

func (c Command) String() string {
	str := ""
	if c.Region != "" {
		str = "[" + c.Region + "] "
	}
	switch c.Op {
	case OpAtomicIncrement, OpStoreTimestamp:
		return str + fmt.Sprintf("%s(%s)", c.Op, c.Addr)
	case OpStoreImmediate:
		return str + fmt.Sprintf("%s(%s = %d)", c.Op, c.Addr, c.Value)
	case OpSemaphoreWait, OpConditionalEnd:
		return str + fmt.Sprintf("%s(%s %s %d)", c.Op, c.Addr, c.Compare, c.Value)
	case OpDispatch:
		return str + fmt.Sprintf("%s(%s)", c.Op, c.Kernel.Name)
	}
	return str + c.Op.String()
}

/*
CommandBuffer records commands for one engine. Commands recorded after BeginEpilogue
always execute, a satisfied conditional end skips forward to the epilogue.
*/
type CommandBuffer struct {
	noCopy   util.NoCopy
	name     string
	commands []Command
	regions  container.Stack[string]
	epilogue int
}

var _ CommandStream = (*CommandBuffer)(nil)

func NewCommandBuffer(name string) *CommandBuffer {
	cb := CommandBuffer{name: name, epilogue: -1}
	cb.noCopy.Init()
	return &cb
}

func (cb *CommandBuffer) Name() string {
	cb.noCopy.Check()
	return cb.name
}

func (cb *CommandBuffer) Len() int {
	cb.noCopy.Check()
	return len(cb.commands)
}

func (cb *CommandBuffer) Commands() []Command {
	cb.noCopy.Check()
	return slices.Clone(cb.commands)
}

// EpilogueStart returns the index of the first epilogue command or Len() if there is none.
func (cb *CommandBuffer) EpilogueStart() int {
	cb.noCopy.Check()
	if cb.epilogue < 0 {
		return len(cb.commands)
	}
	return cb.epilogue
}

func (cb *CommandBuffer) BeginEpilogue() {
	cb.noCopy.Check()
	if cb.epilogue >= 0 {
		abort("BeginEpilogue called twice on %q", cb.name)
	}
	cb.epilogue = len(cb.commands)
}

func (cb *CommandBuffer) BeginNamedRegion(name string) {
	cb.noCopy.Check()
	if !cb.regions.Empty() {
		name = cb.regions.Peek() + "/" + name
	}
	cb.regions.Push(name)
}

func (cb *CommandBuffer) EndNamedRegion() {
	cb.noCopy.Check()
	if cb.regions.Empty() {
		abort("EndNamedRegion called without a matching BeginNamedRegion on %q", cb.name)
	}
	cb.regions.Pop()
}

func (cb *CommandBuffer) append(c Command) {
	cb.noCopy.Check()
	if !cb.regions.Empty() {
		c.Region = cb.regions.Peek()
	}
	cb.commands = append(cb.commands, c)
}

func checkAddr(addr MemoryRef) {
	if addr.Memory == nil {
		abort("Command recorded with nil memory")
	}
	if addr.Offset%4 != 0 || addr.Offset+4 > addr.Memory.Size() {
		abort("Command address %s is unaligned or out of bounds", addr)
	}
}

func (cb *CommandBuffer) AppendAtomicIncrement(addr MemoryRef) {
	checkAddr(addr)
	cb.append(Command{Op: OpAtomicIncrement, Addr: addr})
}

func (cb *CommandBuffer) AppendSemaphoreWait(addr MemoryRef, value uint32, op CompareOp) {
	checkAddr(addr)
	cb.append(Command{Op: OpSemaphoreWait, Addr: addr, Value: value, Compare: op})
}

func (cb *CommandBuffer) AppendStoreImmediate(addr MemoryRef, value uint32) {
	checkAddr(addr)
	cb.append(Command{Op: OpStoreImmediate, Addr: addr, Value: value})
}

// AppendStoreTimestamp writes the engine's 64bit timestamp, addr must be 8 byte aligned.
func (cb *CommandBuffer) AppendStoreTimestamp(addr MemoryRef) {
	checkAddr(addr)
	if addr.Offset%8 != 0 {
		abort("Timestamp address %s is not 8 byte aligned", addr)
	}
	cb.append(Command{Op: OpStoreTimestamp, Addr: addr})
}

func (cb *CommandBuffer) AppendDispatch(k KernelDispatch) {
	cb.append(Command{Op: OpDispatch, Kernel: &k})
}

func (cb *CommandBuffer) AppendPipeFlush() {
	cb.append(Command{Op: OpPipeFlush})
}

// AppendConditionalEnd skips to the epilogue when "mem op value" holds at execution time.
func (cb *CommandBuffer) AppendConditionalEnd(c ConditionalEnd) {
	checkAddr(c.Addr)
	cb.append(Command{Op: OpConditionalEnd, Addr: c.Addr, Value: c.Value, Compare: c.Compare})
}

func (cb *CommandBuffer) String() string {
	cb.noCopy.Check()
	sb := strings.Builder{}
	sb.WriteString(cb.name)
	sb.WriteString(":")
	for i, c := range cb.commands {
		if i == cb.epilogue {
			sb.WriteString("\n  -- epilogue --")
		}
		sb.WriteString(fmt.Sprintf("\n  %3d %s", i, c))
	}
	return sb.String()
}
