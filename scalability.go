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
	"fmt"
	"sync"

	"goarrg.com/debug"
)

type Direction uint8

const (
	DirectionDecode Direction = iota
	DirectionEncode
)

func (d Direction) String() string {
	switch d {
	case DirectionDecode:
		return "Decode"
	case DirectionEncode:
		return "Encode"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

type Codec uint32

const (
	CodecAVC Codec = iota
	CodecHEVC
	CodecVP9
	CodecAV1
	CodecMPEG2
	CodecJPEG
)

func (c Codec) String() string {
	switch c {
	case CodecAVC:
		return "AVC"
	case CodecHEVC:
		return "HEVC"
	case CodecVP9:
		return "VP9"
	case CodecAV1:
		return "AV1"
	case CodecMPEG2:
		return "MPEG2"
	case CodecJPEG:
		return "JPEG"
	}
	return fmt.Sprintf("Codec(%d)", uint32(c))
}

type Format uint32

const (
	FormatNV12 Format = iota
	FormatYUY2
	FormatAYUV
	FormatP010
	FormatY210
	FormatY410
	FormatP016
	FormatY216
	FormatY416
)

func (f Format) String() string {
	switch f {
	case FormatNV12:
		return "NV12"
	case FormatYUY2:
		return "YUY2"
	case FormatAYUV:
		return "AYUV"
	case FormatP010:
		return "P010"
	case FormatY210:
		return "Y210"
	case FormatY410:
		return "Y410"
	case FormatP016:
		return "P016"
	case FormatY216:
		return "Y216"
	case FormatY416:
		return "Y416"
	}
	return fmt.Sprintf("Format(%d)", uint32(f))
}

// ExtendedRange reports whether the format carries more than 8 bits per component.
func (f Format) ExtendedRange() bool {
	switch f {
	case FormatP010, FormatY210, FormatY410, FormatP016, FormatY216, FormatY416:
		return true
	}
	return false
}

type ScalabilityMode uint8

const (
	ScalabilitySingle ScalabilityMode = iota
	ScalabilityVirtualTile
	ScalabilityRealTile
)

func (m ScalabilityMode) String() string {
	switch m {
	case ScalabilitySingle:
		return "Single"
	case ScalabilityVirtualTile:
		return "VirtualTile"
	case ScalabilityRealTile:
		return "RealTile"
	}
	return fmt.Sprintf("ScalabilityMode(%d)", uint8(m))
}

type resolution struct {
	width, height uint32
}

var scalabilityThresholds = [2]struct {
	res4K, res5K resolution
}{
	DirectionDecode: {res4K: resolution{3840, 2160}, res5K: resolution{5120, 2880}},
	DirectionEncode: {res4K: resolution{4096, 2304}, res5K: resolution{5120, 2880}},
}

const maxScalablePipes = 4

type ScalabilityParams struct {
	Direction           Direction
	Codec               Codec
	Format              Format
	NumEngines          uint8
	TileColumns         uint32
	FrameWidth          uint32
	FrameHeight         uint32
	ScreenContentCoding bool
	UsingSFC            bool
	SlimEngineSupported bool
	Features            UserFeatures
}

func (p *ScalabilityParams) validate() error {
	if p.Direction > DirectionEncode {
		return debug.Errorf("Invalid direction: %s", p.Direction)
	}
	if p.NumEngines == 0 {
		return debug.Errorf("ScalabilityParams.NumEngines must be >= 1")
	}
	if p.FrameWidth == 0 || p.FrameHeight == 0 {
		return debug.Errorf("Invalid frame size %dx%d", p.FrameWidth, p.FrameHeight)
	}
	return nil
}

/*
ScalabilityOption is the pipe layout chosen for one frame. Options are immutable,
two options with equal fields are interchangeable so the execution context built
for one can be reused for the other.
*/
type ScalabilityOption struct {
	pipeCount       uint8
	mode            ScalabilityMode
	usingSFC        bool
	usingSlimEngine bool
	raMode          uint32
}

func (o ScalabilityOption) PipeCount() uint8 {
	return o.pipeCount
}

func (o ScalabilityOption) Mode() ScalabilityMode {
	return o.mode
}

func (o ScalabilityOption) UsingSFC() bool {
	return o.usingSFC
}

func (o ScalabilityOption) UsingSlimEngine() bool {
	return o.usingSlimEngine
}

func (o ScalabilityOption) RAMode() uint32 {
	return o.raMode
}

func (o ScalabilityOption) IsMatched(other ScalabilityOption) bool {
	return o == other
}

func (o ScalabilityOption) id() string {
	return genID(uint64(o.pipeCount), o.mode, boolID(o.usingSFC), boolID(o.usingSlimEngine), uint64(o.raMode))
}

func (o ScalabilityOption) String() string {
	return jsonString(o)
}

func (o ScalabilityOption) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PipeCount       uint8
		Mode            string
		UsingSFC        bool
		UsingSlimEngine bool
		RAMode          uint32
	}{o.pipeCount, o.mode.String(), o.usingSFC, o.usingSlimEngine, o.raMode})
}

// ScalabilityRefinement adjusts a decision for codec specific conflicts, it runs after the generic rules.
type ScalabilityRefinement func(p *ScalabilityParams, o *ScalabilityOption)

var scalabilityRefinements = struct {
	mtx sync.RWMutex
	m   map[Codec]ScalabilityRefinement
}{
	m: map[Codec]ScalabilityRefinement{
		CodecHEVC: func(p *ScalabilityParams, o *ScalabilityOption) {
			if p.ScreenContentCoding && o.mode == ScalabilityVirtualTile {
				o.forceSingle()
			}
		},
		CodecAVC: func(_ *ScalabilityParams, o *ScalabilityOption) {
			o.forceSingle()
		},
		CodecMPEG2: func(_ *ScalabilityParams, o *ScalabilityOption) {
			o.forceSingle()
		},
	},
}

// RegisterScalabilityRefinement replaces the refinement used for codec, nil removes it.
func RegisterScalabilityRefinement(codec Codec, fn ScalabilityRefinement) {
	scalabilityRefinements.mtx.Lock()
	defer scalabilityRefinements.mtx.Unlock()
	if fn == nil {
		delete(scalabilityRefinements.m, codec)
		return
	}
	scalabilityRefinements.m[codec] = fn
}

func scalabilityRefinement(codec Codec) ScalabilityRefinement {
	scalabilityRefinements.mtx.RLock()
	defer scalabilityRefinements.mtx.RUnlock()
	return scalabilityRefinements.m[codec]
}

func (o *ScalabilityOption) forceSingle() {
	o.pipeCount = 1
	o.mode = ScalabilitySingle
}

func scalablePipeCount(p *ScalabilityParams) uint8 {
	f := p.Features
	if f.DisableScalability || (f.DisableVirtualTile && f.DisableRealTile) {
		return 1
	}

	pipeCount := p.NumEngines
	if uint32(pipeCount) != p.TileColumns {
		if p.TileColumns >= 1 && p.TileColumns < uint32(p.NumEngines) && p.NumEngines <= maxScalablePipes {
			pipeCount = uint8(p.TileColumns)
		} else {
			pipeCount = 1
		}
	}

	if !f.ForceMultiPipe && pipeCount > 1 {
		threshold := scalabilityThresholds[p.Direction].res4K
		if p.Format.ExtendedRange() {
			threshold = scalabilityThresholds[p.Direction].res5K
		}
		if p.FrameWidth <= threshold.width && p.FrameHeight <= threshold.height {
			pipeCount = 1
		}
	}
	return pipeCount
}

func NewScalabilityOption(p *ScalabilityParams) (ScalabilityOption, error) {
	o := ScalabilityOption{}
	if err := o.SetScalabilityOption(p); err != nil {
		return ScalabilityOption{}, err
	}
	return o, nil
}

// SetScalabilityOption decides the pipe count and mode for the frame described by p.
func (o *ScalabilityOption) SetScalabilityOption(p *ScalabilityParams) error {
	if err := p.validate(); err != nil {
		return debug.ErrorWrapf(err, "Invalid ScalabilityParams")
	}

	d := ScalabilityOption{
		pipeCount:       scalablePipeCount(p),
		usingSFC:        p.UsingSFC,
		usingSlimEngine: p.Features.EnableSlimEngine && p.SlimEngineSupported,
		raMode:          p.Features.RAMode,
	}

	switch {
	case d.pipeCount == 1:
		d.mode = ScalabilitySingle
	case p.Features.DisableVirtualTile, p.Features.PreferRealTile && !p.Features.DisableRealTile:
		d.mode = ScalabilityRealTile
	default:
		d.mode = ScalabilityVirtualTile
	}

	if fn := scalabilityRefinement(p.Codec); fn != nil {
		fn(p, &d)
	}

	*o = d
	instance.logger.VPrintf("%s %s %dx%d %s on %d engine(s) with %d tile column(s): %s",
		p.Direction, p.Codec, p.FrameWidth, p.FrameHeight, p.Format, p.NumEngines, p.TileColumns, o)
	return nil
}
