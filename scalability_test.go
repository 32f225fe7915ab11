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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeParams(codec Codec, engines uint8, tileColumns, width, height uint32) *ScalabilityParams {
	return &ScalabilityParams{
		Direction:   DirectionDecode,
		Codec:       codec,
		Format:      FormatNV12,
		NumEngines:  engines,
		TileColumns: tileColumns,
		FrameWidth:  width,
		FrameHeight: height,
	}
}

func TestScalabilityPipeCount(t *testing.T) {
	tests := []struct {
		name   string
		params *ScalabilityParams
		pipes  uint8
		mode   ScalabilityMode
	}{
		{"4K stays single", decodeParams(CodecHEVC, 2, 2, 3840, 2160), 1, ScalabilitySingle},
		{"8K splits", decodeParams(CodecHEVC, 2, 2, 7680, 4320), 2, ScalabilityVirtualTile},
		{"one tile column", decodeParams(CodecHEVC, 2, 1, 7680, 4320), 1, ScalabilitySingle},
		{"wider than 4K only", decodeParams(CodecVP9, 2, 2, 4096, 2160), 2, ScalabilityVirtualTile},
		{"taller than 4K only", decodeParams(CodecVP9, 2, 2, 3840, 2304), 2, ScalabilityVirtualTile},
		{"fewer columns than engines", decodeParams(CodecVP9, 4, 3, 7680, 4320), 3, ScalabilityVirtualTile},
		{"more columns than engines", decodeParams(CodecVP9, 2, 4, 7680, 4320), 1, ScalabilitySingle},
		{"no tile columns", decodeParams(CodecVP9, 2, 0, 7680, 4320), 1, ScalabilitySingle},
		{"too many engines", decodeParams(CodecVP9, 8, 2, 7680, 4320), 1, ScalabilitySingle},
		{"single engine", decodeParams(CodecVP9, 1, 1, 7680, 4320), 1, ScalabilitySingle},
		{"AV1 splits", decodeParams(CodecAV1, 2, 2, 7680, 4320), 2, ScalabilityVirtualTile},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			o, err := NewScalabilityOption(test.params)
			require.NoError(t, err)
			assert.Equal(t, test.pipes, o.PipeCount())
			assert.Equal(t, test.mode, o.Mode())
		})
	}
}

func TestScalabilityExtendedRangeThreshold(t *testing.T) {
	p := decodeParams(CodecHEVC, 2, 2, 5120, 2880)
	p.Format = FormatP010
	o, err := NewScalabilityOption(p)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), o.PipeCount(), "extended range formats use the 5K threshold")

	p.FrameWidth = 5121
	o, err = NewScalabilityOption(p)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), o.PipeCount())

	p.Format = FormatNV12
	p.FrameWidth, p.FrameHeight = 4096, 2304
	o, err = NewScalabilityOption(p)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), o.PipeCount())
}

func TestScalabilityEncodeThreshold(t *testing.T) {
	p := decodeParams(CodecHEVC, 2, 2, 4096, 2304)
	p.Direction = DirectionEncode
	o, err := NewScalabilityOption(p)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), o.PipeCount())

	p.FrameHeight = 2305
	o, err = NewScalabilityOption(p)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), o.PipeCount())
}

func TestScalabilityFeatures(t *testing.T) {
	tests := []struct {
		name     string
		features UserFeatures
		width    uint32
		height   uint32
		pipes    uint8
		mode     ScalabilityMode
	}{
		{"disabled", UserFeatures{DisableScalability: true}, 7680, 4320, 1, ScalabilitySingle},
		{"both tile modes disabled", UserFeatures{DisableVirtualTile: true, DisableRealTile: true}, 7680, 4320, 1, ScalabilitySingle},
		{"forced below threshold", UserFeatures{ForceMultiPipe: true}, 1920, 1080, 2, ScalabilityVirtualTile},
		{"disable wins over force", UserFeatures{ForceMultiPipe: true, DisableScalability: true}, 1920, 1080, 1, ScalabilitySingle},
		{"virtual tile disabled", UserFeatures{DisableVirtualTile: true}, 7680, 4320, 2, ScalabilityRealTile},
		{"real tile preferred", UserFeatures{PreferRealTile: true}, 7680, 4320, 2, ScalabilityRealTile},
		{"preferred real tile disabled", UserFeatures{PreferRealTile: true, DisableRealTile: true}, 7680, 4320, 2, ScalabilityVirtualTile},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := decodeParams(CodecVP9, 2, 2, test.width, test.height)
			p.Features = test.features
			o, err := NewScalabilityOption(p)
			require.NoError(t, err)
			assert.Equal(t, test.pipes, o.PipeCount())
			assert.Equal(t, test.mode, o.Mode())
		})
	}
}

func TestScalabilityCodecRefinements(t *testing.T) {
	for _, codec := range []Codec{CodecAVC, CodecMPEG2} {
		o, err := NewScalabilityOption(decodeParams(codec, 2, 2, 7680, 4320))
		require.NoError(t, err)
		assert.Equal(t, uint8(1), o.PipeCount(), codec.String())
		assert.Equal(t, ScalabilitySingle, o.Mode(), codec.String())
	}

	scc := decodeParams(CodecHEVC, 2, 2, 7680, 4320)
	scc.ScreenContentCoding = true
	o, err := NewScalabilityOption(scc)
	require.NoError(t, err)
	assert.Equal(t, ScalabilitySingle, o.Mode(), "screen content coding cannot use virtual tiles")

	scc.Features.PreferRealTile = true
	o, err = NewScalabilityOption(scc)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), o.PipeCount())
	assert.Equal(t, ScalabilityRealTile, o.Mode())
}

func TestRegisterScalabilityRefinement(t *testing.T) {
	prev := scalabilityRefinement(CodecVP9)
	t.Cleanup(func() { RegisterScalabilityRefinement(CodecVP9, prev) })

	RegisterScalabilityRefinement(CodecVP9, func(_ *ScalabilityParams, o *ScalabilityOption) {
		o.forceSingle()
	})
	o, err := NewScalabilityOption(decodeParams(CodecVP9, 2, 2, 7680, 4320))
	require.NoError(t, err)
	assert.Equal(t, uint8(1), o.PipeCount())

	RegisterScalabilityRefinement(CodecVP9, nil)
	assert.Nil(t, scalabilityRefinement(CodecVP9))
	o, err = NewScalabilityOption(decodeParams(CodecVP9, 2, 2, 7680, 4320))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), o.PipeCount())
}

func TestScalabilityOptionFields(t *testing.T) {
	p := decodeParams(CodecVP9, 2, 2, 7680, 4320)
	p.UsingSFC = true
	p.Features.EnableSlimEngine = true
	p.Features.RAMode = 3
	o, err := NewScalabilityOption(p)
	require.NoError(t, err)
	assert.True(t, o.UsingSFC())
	assert.False(t, o.UsingSlimEngine(), "slim engine needs hardware support")
	assert.Equal(t, uint32(3), o.RAMode())

	p.SlimEngineSupported = true
	o, err = NewScalabilityOption(p)
	require.NoError(t, err)
	assert.True(t, o.UsingSlimEngine())

	var decoded struct {
		PipeCount uint8
		Mode      string
	}
	require.NoError(t, json.Unmarshal([]byte(o.String()), &decoded))
	assert.Equal(t, uint8(2), decoded.PipeCount)
	assert.Equal(t, "VirtualTile", decoded.Mode)
}

func TestScalabilityIsMatched(t *testing.T) {
	a, err := NewScalabilityOption(decodeParams(CodecVP9, 2, 2, 7680, 4320))
	require.NoError(t, err)
	b, err := NewScalabilityOption(decodeParams(CodecAV1, 2, 2, 8192, 4320))
	require.NoError(t, err)
	single, err := NewScalabilityOption(decodeParams(CodecVP9, 2, 2, 1920, 1080))
	require.NoError(t, err)

	assert.True(t, a.IsMatched(a))
	assert.True(t, a.IsMatched(b))
	assert.True(t, b.IsMatched(a))
	assert.Equal(t, a.id(), b.id())
	assert.False(t, a.IsMatched(single))
	assert.NotEqual(t, a.id(), single.id())

	p := decodeParams(CodecVP9, 2, 2, 7680, 4320)
	p.Features.PreferRealTile = true
	realTile, err := NewScalabilityOption(p)
	require.NoError(t, err)
	assert.Equal(t, a.PipeCount(), realTile.PipeCount())
	assert.False(t, a.IsMatched(realTile), "options with different modes are not interchangeable")

	p = decodeParams(CodecVP9, 2, 2, 7680, 4320)
	p.UsingSFC = true
	sfc, err := NewScalabilityOption(p)
	require.NoError(t, err)
	assert.False(t, a.IsMatched(sfc))
}

func TestSetScalabilityOptionInvalid(t *testing.T) {
	o, err := NewScalabilityOption(decodeParams(CodecVP9, 2, 2, 7680, 4320))
	require.NoError(t, err)

	assert.Error(t, o.SetScalabilityOption(decodeParams(CodecVP9, 0, 2, 7680, 4320)))
	assert.Error(t, o.SetScalabilityOption(decodeParams(CodecVP9, 2, 2, 0, 4320)))
	bad := decodeParams(CodecVP9, 2, 2, 7680, 4320)
	bad.Direction = 7
	assert.Error(t, o.SetScalabilityOption(bad))
	assert.Equal(t, uint8(2), o.PipeCount(), "a failed update leaves the option untouched")
}
