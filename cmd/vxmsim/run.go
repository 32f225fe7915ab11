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
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"goarrg.com/debug"
	"goarrg.com/gmath"

	"goarrg.com/rhi/vxm"
	"goarrg.com/rhi/vxm/emulator"
	"goarrg.com/rhi/vxm/managed"
	"goarrg.com/rhi/vxm/metrics"
)

type runOptions struct {
	engines       uint8
	slots         uint32
	frames        int
	inFlight      int
	width         uint32
	height        uint32
	tileColumns   uint32
	direction     string
	codec         string
	format        string
	featureFile   string
	kernelLatency time.Duration
	waitTimeout   time.Duration
	useMmap       bool
	dumpMetrics   bool
}

func parseEnum[T fmt.Stringer](kind, s string, values ...T) (T, error) {
	for _, v := range values {
		if strings.EqualFold(v.String(), s) {
			return v, nil
		}
	}
	var zero T
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.String()
	}
	return zero, debug.Errorf("Unknown %s %q, expected one of %s", kind, s, strings.Join(names, ", "))
}

func newRunCommand(stdout io.Writer) *cobra.Command {
	o := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decode or encode a sequence of frames on the emulator and report per frame engine time.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(stdout, o)
		},
	}
	flags := cmd.Flags()
	flags.Uint8Var(&o.engines, "engines", 2, "Number of emulated engines.")
	flags.Uint32Var(&o.slots, "slots", 16, "Number of tracking slots.")
	flags.IntVar(&o.frames, "frames", 8, "Number of frames to process.")
	flags.IntVar(&o.inFlight, "in-flight", 2, "Frames allowed in flight before waiting on the oldest.")
	flags.Uint32Var(&o.width, "width", 7680, "Frame width.")
	flags.Uint32Var(&o.height, "height", 4320, "Frame height.")
	flags.Uint32Var(&o.tileColumns, "tile-columns", 2, "Tile columns per frame.")
	flags.StringVar(&o.direction, "direction", "decode", "decode or encode.")
	flags.StringVar(&o.codec, "codec", "HEVC", "Codec of the session.")
	flags.StringVar(&o.format, "format", "NV12", "Surface format of the session.")
	flags.StringVar(&o.featureFile, "features", "", "User feature file (TOML).")
	flags.DurationVar(&o.kernelLatency, "kernel-latency", time.Millisecond, "Emulated time spent per kernel dispatch.")
	flags.DurationVar(&o.waitTimeout, "wait-timeout", time.Second, "Bounded wait per pipe.")
	flags.BoolVar(&o.useMmap, "mmap", false, "Back tracking memory with shared anonymous mappings.")
	flags.BoolVar(&o.dumpMetrics, "metrics", false, "Print the context metrics in prometheus text format when done.")
	return cmd
}

type frameInFlight struct {
	index  int
	option vxm.ScalabilityOption
	events []*vxm.Event
}

func run(stdout io.Writer, o runOptions) (err error) {
	direction, err := parseEnum("direction", o.direction, vxm.DirectionDecode, vxm.DirectionEncode)
	if err != nil {
		return err
	}
	codec, err := parseEnum("codec", o.codec, vxm.CodecAVC, vxm.CodecHEVC, vxm.CodecVP9, vxm.CodecAV1, vxm.CodecMPEG2, vxm.CodecJPEG)
	if err != nil {
		return err
	}
	format, err := parseEnum("format", o.format, vxm.FormatNV12, vxm.FormatYUY2, vxm.FormatAYUV,
		vxm.FormatP010, vxm.FormatY210, vxm.FormatY410, vxm.FormatP016, vxm.FormatY216, vxm.FormatY416)
	if err != nil {
		return err
	}
	if o.inFlight < 1 {
		return debug.Errorf("--in-flight must be >= 1")
	}

	features := vxm.UserFeatures{}
	if o.featureFile != "" {
		if features, err = vxm.LoadUserFeatures(o.featureFile); err != nil {
			return err
		}
	}

	device := emulator.New(emulator.Config{
		NumEngines:          o.engines,
		KernelLatency:       o.kernelLatency,
		UseMmap:             o.useMmap,
		SlimEngineSupported: true,
	})
	defer func() {
		if closeErr := device.Close(); err == nil {
			err = closeErr
		}
	}()

	ctx, err := vxm.NewContext(device, vxm.Config{
		MaxTasksInFlight: o.slots,
		Features:         features,
	})
	if err != nil {
		return err
	}
	defer func() {
		if destroyErr := ctx.Destroy(); err == nil {
			err = destroyErr
		}
	}()

	bindings := managed.NewBindingTable(64)
	var window []frameInFlight

	retire := func(f frameInFlight) error {
		var total time.Duration
		for pipe, ev := range f.events {
			if err := ev.WaitWithTimeout(o.waitTimeout); err != nil {
				return debug.ErrorWrapf(err, "Frame %d pipe %d", f.index, pipe)
			}
			elapsed, err := ev.ElapsedTime()
			if err != nil {
				return err
			}
			total = max(total, elapsed)
		}
		fmt.Fprintf(stdout, "frame %3d: pipes %d mode %-11s engine time %v\n", f.index, f.option.PipeCount(), f.option.Mode(), total)
		return nil
	}

	for i := 0; i < o.frames; i++ {
		params := ctx.NewScalabilityParams(direction, codec)
		params.Format = format
		params.FrameWidth = o.width
		params.FrameHeight = o.height
		params.TileColumns = o.tileColumns

		mp, _, err := ctx.AcquireMultiPipe(&params)
		if err != nil {
			return err
		}

		surface := ctx.NewResource(fmt.Sprintf("frame%d_surface", i), nil)
		tasks := mp.NewPipeTasks(fmt.Sprintf("frame%d", i))
		for pipe, t := range tasks {
			if _, err := bindings.Bind(t, surface); err != nil {
				return err
			}
			if err := buildPipeTask(t, pipe, mp.PipeCount(), o.width, o.height); err != nil {
				return err
			}
		}
		if err := mp.AddBarrier(tasks); err != nil {
			return err
		}
		for _, t := range tasks {
			if err := t.AddKernelDispatch(vxm.KernelDispatch{Name: "loop_filter"}); err != nil {
				return err
			}
		}

		for len(window) >= o.inFlight || ctx.FrameTracker().Stats().InUse+uint32(mp.PipeCount()) > o.slots {
			if len(window) == 0 {
				return vxm.ErrorExhausted{Capacity: o.slots}
			}
			if err := retire(window[0]); err != nil {
				return err
			}
			window = window[1:]
		}

		events, err := mp.Submit(tasks)
		if err != nil {
			if errors.Is(err, vxm.ErrorExhausted{}) {
				return debug.ErrorWrapf(err, "Frame %d", i)
			}
			return err
		}
		bindings.Pop(surface, events...)
		surface.Destroy()
		window = append(window, frameInFlight{index: i, option: mp.Option(), events: events})
	}

	for _, f := range window {
		if err := retire(f); err != nil {
			return err
		}
	}

	if o.dumpMetrics {
		return dumpMetrics(stdout, ctx)
	}
	return nil
}

func buildPipeTask(t *vxm.Task, pipe int, pipeCount uint8, width, height uint32) error {
	columns := (width + 63) / 64 / uint32(pipeCount)
	rows := (height + 63) / 64
	if err := t.SetThreadGroupSpace(vxm.ThreadGroupSpace{
		GroupCount: gmath.Extent3u32{X: max(columns, 1), Y: max(rows, 1), Z: 1},
		GroupSize:  gmath.Extent3u32{X: 8, Y: 8, Z: 1},
	}); err != nil {
		return err
	}
	if err := t.AddKernelDispatch(vxm.KernelDispatch{Name: fmt.Sprintf("tile_decode_%d", pipe)}); err != nil {
		return err
	}
	return t.AddSync()
}

func dumpMetrics(w io.Writer, ctx *vxm.Context) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics.NewContextCollector(ctx)); err != nil {
		return err
	}
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
