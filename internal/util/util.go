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

package util

import (
	"sync/atomic"
	"unsafe"

	"goarrg.com"
	"goarrg.com/debug"
)

type platform struct{}

func (platform) Abort()                           { panic("Fatal Error") }
func (platform) AbortPopup(f string, args ...any) { panic("Fatal Error") }

var instance = struct {
	platform goarrg.PlatformInterface
	logger   *debug.Logger
}{
	platform: platform{},
	logger:   debug.NewLogger("vxm", "internal", "util"),
}

func abort(fmt string, args ...any) {
	instance.logger.EPrintf(fmt, args...)
	instance.platform.Abort()
}

func Init(platform goarrg.PlatformInterface) {
	instance.platform = platform
}

/*
The word accessors below operate on memory that is also written by hardware,
every access is atomic so CPU reads observe complete hardware writes.
Offsets must be naturally aligned and the backing memory must be at least 8 byte aligned.
*/

func word32(mem []byte, offset uint64) *uint32 {
	if offset%4 != 0 || offset+4 > uint64(len(mem)) {
		abort("Unaligned or out of bounds 32bit access at offset %d of %d bytes", offset, len(mem))
	}
	return (*uint32)(unsafe.Pointer(&mem[offset]))
}

func word64(mem []byte, offset uint64) *uint64 {
	if offset%8 != 0 || offset+8 > uint64(len(mem)) {
		abort("Unaligned or out of bounds 64bit access at offset %d of %d bytes", offset, len(mem))
	}
	return (*uint64)(unsafe.Pointer(&mem[offset]))
}

func LoadUint32(mem []byte, offset uint64) uint32 {
	return atomic.LoadUint32(word32(mem, offset))
}

func StoreUint32(mem []byte, offset uint64, v uint32) {
	atomic.StoreUint32(word32(mem, offset), v)
}

func AddUint32(mem []byte, offset uint64, delta uint32) uint32 {
	return atomic.AddUint32(word32(mem, offset), delta)
}

func LoadUint64(mem []byte, offset uint64) uint64 {
	return atomic.LoadUint64(word64(mem, offset))
}

func StoreUint64(mem []byte, offset uint64, v uint64) {
	atomic.StoreUint64(word64(mem, offset), v)
}
