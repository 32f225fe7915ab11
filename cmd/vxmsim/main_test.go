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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	stdout := bytes.Buffer{}
	stderr := bytes.Buffer{}
	rc := NewRootCommand(strings.NewReader(stdin), &stdout, &stderr)
	rc.SetArgs(args)
	err := rc.Execute()
	return stdout.String(), err
}

func TestFeaturesCommand(t *testing.T) {
	out, err := execute(t, "", "features")
	require.NoError(t, err)
	assert.Contains(t, out, "disable_scalability = false")

	out, err = execute(t, "prefer_real_tile = true\n", "features", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "prefer_real_tile = true")

	path := filepath.Join(t.TempDir(), "features.toml")
	require.NoError(t, os.WriteFile(path, []byte("ra_mode = 4\n"), 0o600))
	out, err = execute(t, "", "features", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ra_mode = 4")

	_, err = execute(t, "bogus = 1\n", "features", "-")
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "", "run", "--frames", "3", "--in-flight", "1", "--kernel-latency", "0", "--metrics")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "pipes 2 mode VirtualTile"))
	assert.Contains(t, out, `vxm_frame_tracker_finished_total{device="vxm-emulator"} 6`)
	assert.Contains(t, out, `vxm_multi_pipe_lookups_total{device="vxm-emulator",result="reused"} 2`)
	assert.Contains(t, out, `vxm_submitted_tasks_total{device="vxm-emulator"} 6`)
}

func TestRunCommandSinglePipe(t *testing.T) {
	out, err := execute(t, "", "run", "--frames", "2", "--width", "1920", "--height", "1080", "--kernel-latency", "0", "--codec", "vp9")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "pipes 1 mode Single"))
}

func TestRunCommandErrors(t *testing.T) {
	_, err := execute(t, "", "run", "--codec", "h266")
	assert.Error(t, err)
	_, err = execute(t, "", "run", "--in-flight", "0")
	assert.Error(t, err)
	_, err = execute(t, "", "run", "--features", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
	_, err = execute(t, "", "--log-level", "loud", "features")
	assert.Error(t, err)
}
