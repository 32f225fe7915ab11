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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserFeatures(t *testing.T) {
	f, err := ParseUserFeatures([]byte(`
disable_virtual_tile = true
prefer_real_tile = true
ra_mode = 2
`))
	require.NoError(t, err)
	assert.Equal(t, UserFeatures{DisableVirtualTile: true, PreferRealTile: true, RAMode: 2}, f)

	f, err = ParseUserFeatures(nil)
	require.NoError(t, err)
	assert.Equal(t, UserFeatures{}, f)

	_, err = ParseUserFeatures([]byte("force_multipipe = true\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = ParseUserFeatures([]byte("ra_mode = \"fast\"\n"))
	assert.Error(t, err)
}

func TestUserFeaturesRoundTrip(t *testing.T) {
	want := UserFeatures{ForceMultiPipe: true, EnableSlimEngine: true, RAMode: 1}
	buff := bytes.Buffer{}
	require.NoError(t, want.Encode(&buff))
	assert.Contains(t, buff.String(), "force_multi_pipe = true")

	path := filepath.Join(t.TempDir(), "features.toml")
	require.NoError(t, os.WriteFile(path, buff.Bytes(), 0o600))
	got, err := LoadUserFeatures(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadUserFeatures(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestConfigMarshal(t *testing.T) {
	c := Config{MaxTasksInFlight: 8, NumQueues: 2, TeardownTimeoutPerTask: DefaultTeardownTimeoutPerTask}
	s := prettyString(&c)
	assert.Contains(t, s, `"MaxTasksInFlight": 8`)
	assert.Contains(t, s, `"TeardownTimeoutPerTask": "50ms"`)
}
