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

package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"goarrg.com/rhi/vxm"
)

const (
	vxmNS            = "vxm"
	trackerSubsystem = "frame_tracker"
	pipeSubsystem    = "multi_pipe"
)

// Source is the part of a vxm.Context the collector reads, every read is a snapshot.
type Source interface {
	Properties() vxm.Properties
	Submitted() uint64
	FrameTracker() *vxm.FrameTracker
	MultiPipeStats() vxm.MultiPipeCacheStats
}

var _ Source = (*vxm.Context)(nil)

type ContextCollector struct {
	source Source

	slots       *prom.Desc
	slotsInUse  *prom.Desc
	assigned    *prom.Desc
	untracked   *prom.Desc
	finished    *prom.Desc
	exhausted   *prom.Desc
	resets      *prom.Desc
	timeouts    *prom.Desc
	submitted   *prom.Desc
	pipeCtx     *prom.Desc
	pipeLookups *prom.Desc
}

var _ prom.Collector = (*ContextCollector)(nil)

func NewContextCollector(source Source) *ContextCollector {
	labels := []string{"device"}
	desc := func(subsystem, name, help string, extra ...string) *prom.Desc {
		return prom.NewDesc(prom.BuildFQName(vxmNS, subsystem, name), help, append(labels, extra...), nil)
	}
	return &ContextCollector{
		source: source,

		slots:       desc(trackerSubsystem, "slots", "Number of tracking slots"),
		slotsInUse:  desc(trackerSubsystem, "slots_in_use", "Number of tracking slots owned by an unfinished submission"),
		assigned:    desc(trackerSubsystem, "assigned_total", "Tracked submissions assigned a slot"),
		untracked:   desc(trackerSubsystem, "untracked_total", "Submissions made without an event"),
		finished:    desc(trackerSubsystem, "finished_total", "Tracked submissions observed finished"),
		exhausted:   desc(trackerSubsystem, "exhausted_total", "Slot assignments that found every slot in flight"),
		resets:      desc(trackerSubsystem, "resets_total", "Tracked submissions lost to an engine reset"),
		timeouts:    desc(trackerSubsystem, "wait_timeouts_total", "WaitForAllFinished calls that timed out"),
		submitted:   desc("", "submitted_tasks_total", "Tasks handed to the hardware"),
		pipeCtx:     desc(pipeSubsystem, "contexts", "Multi pipe contexts built"),
		pipeLookups: desc(pipeSubsystem, "lookups_total", "Multi pipe context lookups by result", "result"),
	}
}

func (c *ContextCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.slots
	ch <- c.slotsInUse
	ch <- c.assigned
	ch <- c.untracked
	ch <- c.finished
	ch <- c.exhausted
	ch <- c.resets
	ch <- c.timeouts
	ch <- c.submitted
	ch <- c.pipeCtx
	ch <- c.pipeLookups
}

func (c *ContextCollector) Collect(ch chan<- prom.Metric) {
	props := c.source.Properties()
	device := props.Name
	stats := c.source.FrameTracker().Stats()
	pipe := c.source.MultiPipeStats()

	ch <- prom.MustNewConstMetric(c.slots, prom.GaugeValue, float64(stats.Capacity), device)
	ch <- prom.MustNewConstMetric(c.slotsInUse, prom.GaugeValue, float64(stats.InUse), device)
	ch <- prom.MustNewConstMetric(c.assigned, prom.CounterValue, float64(stats.Assigned), device)
	ch <- prom.MustNewConstMetric(c.untracked, prom.CounterValue, float64(stats.Untracked), device)
	ch <- prom.MustNewConstMetric(c.finished, prom.CounterValue, float64(stats.Finished), device)
	ch <- prom.MustNewConstMetric(c.exhausted, prom.CounterValue, float64(stats.Exhausted), device)
	ch <- prom.MustNewConstMetric(c.resets, prom.CounterValue, float64(stats.Resets), device)
	ch <- prom.MustNewConstMetric(c.timeouts, prom.CounterValue, float64(stats.Timeouts), device)
	ch <- prom.MustNewConstMetric(c.submitted, prom.CounterValue, float64(c.source.Submitted()), device)
	ch <- prom.MustNewConstMetric(c.pipeCtx, prom.GaugeValue, float64(pipe.Contexts), device)
	ch <- prom.MustNewConstMetric(c.pipeLookups, prom.CounterValue, float64(pipe.Reused), device, "reused")
	ch <- prom.MustNewConstMetric(c.pipeLookups, prom.CounterValue, float64(pipe.Hits), device, "cached")
	ch <- prom.MustNewConstMetric(c.pipeLookups, prom.CounterValue, float64(pipe.Misses), device, "built")
}
