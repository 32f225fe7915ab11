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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"goarrg.com/debug"
	"goarrg.com/gmath"
)

const (
	DefaultTeardownTimeoutPerTask = 50 * time.Millisecond
	MaxTasksInFlightLimit         = 1 << 16
)

/*
UserFeatures are the policy overrides normally read from the user feature file.
The zero value lets every decision follow the frame parameters.
*/
type UserFeatures struct {
	DisableScalability bool   `toml:"disable_scalability"`
	ForceMultiPipe     bool   `toml:"force_multi_pipe"`
	DisableVirtualTile bool   `toml:"disable_virtual_tile"`
	DisableRealTile    bool   `toml:"disable_real_tile"`
	PreferRealTile     bool   `toml:"prefer_real_tile"`
	EnableSlimEngine   bool   `toml:"enable_slim_engine"`
	RAMode             uint32 `toml:"ra_mode"`
}

// ParseUserFeatures decodes a TOML user feature document, unknown keys are an error.
func ParseUserFeatures(data []byte) (UserFeatures, error) {
	f := UserFeatures{}
	if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&f); err != nil {
		return UserFeatures{}, debug.ErrorWrapf(err, "Failed to parse user features")
	}
	return f, nil
}

func LoadUserFeatures(path string) (UserFeatures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UserFeatures{}, debug.ErrorWrapf(err, "Failed to read user feature file")
	}
	f, err := ParseUserFeatures(data)
	if err != nil {
		return UserFeatures{}, debug.ErrorWrapf(err, "Failed to load %q", path)
	}
	return f, nil
}

// Encode writes f as a user feature document.
func (f UserFeatures) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(f)
}

type Config struct {
	// MaxTasksInFlight is the number of tracking slots.
	MaxTasksInFlight uint32
	// NumQueues defaults to the number of engines of the hardware.
	NumQueues              uint32
	TeardownTimeoutPerTask time.Duration
	Features               UserFeatures
}

func (c *Config) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"MaxTasksInFlight\": %d,", c.MaxTasksInFlight))
	buff.WriteString(fmt.Sprintf("\"NumQueues\": %d,", c.NumQueues))
	buff.WriteString(fmt.Sprintf("\"TeardownTimeoutPerTask\": %q,", c.TeardownTimeoutPerTask.String()))
	buff.WriteString(fmt.Sprintf("\"Features\": %s,", jsonString(c.Features)))

	buff.Truncate(buff.Len() - 1)
	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Config) validate(props *Properties) {
	if !gmath.InRange(c.MaxTasksInFlight, 1, MaxTasksInFlightLimit) {
		abort("Config.MaxTasksInFlight is outside of valid range [1, %d]", MaxTasksInFlightLimit)
	}
	if c.NumQueues == 0 {
		c.NumQueues = uint32(props.NumEngines)
	} else if c.NumQueues > uint32(props.NumEngines) {
		abort("Config.NumQueues [%d] exceeds the number of engines [%d]", c.NumQueues, props.NumEngines)
	}
	if c.TeardownTimeoutPerTask == 0 {
		c.TeardownTimeoutPerTask = DefaultTeardownTimeoutPerTask
	} else if c.TeardownTimeoutPerTask < 0 {
		abort("Config.TeardownTimeoutPerTask must be >= 0")
	}
	if c.Features.ForceMultiPipe && c.Features.DisableScalability {
		instance.logger.WPrintf("Config.Features.ForceMultiPipe has no effect with DisableScalability")
	}
}
