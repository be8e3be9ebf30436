/**
# Copyright (c) Advanced Micro Devices, Inc. All rights reserved.
#
# Licensed under the Apache License, Version 2.0 (the \"License\");
# you may not use this file except in compliance with the License.
# You may obtain a copy of the License at
#
#     http://www.apache.org/licenses/LICENSE-2.0
#
# Unless required by applicable law or agreed to in writing, software
# distributed under the License is distributed on an \"AS IS\" BASIS,
# WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
# See the License for the specific language governing permissions and
# limitations under the License.
**/

package agent

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/ROCm/device-health-probe/pkg/healthprobe"
)

// BandwidthSample is the rolling summary of one transfer direction
type BandwidthSample struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"meanGBps"`
	StdDev  float64 `json:"stddevGBps"`
}

// BandwidthSummary of a device
type BandwidthSummary struct {
	H2D BandwidthSample `json:"hostToDevice"`
	D2H BandwidthSample `json:"deviceToHost"`
}

type window struct {
	size   int
	values []float64
}

func (w *window) add(v float64) {
	w.values = append(w.values, v)
	if over := len(w.values) - w.size; over > 0 {
		w.values = append(w.values[:0], w.values[over:]...)
	}
}

func (w *window) sample() BandwidthSample {
	s := BandwidthSample{Samples: len(w.values)}
	switch len(w.values) {
	case 0:
	case 1:
		s.Mean = w.values[0]
	default:
		s.Mean, s.StdDev = stat.MeanStdDev(w.values, nil)
	}
	return s
}

// BandwidthStats keeps the last n bandwidth readings of every device
type BandwidthStats struct {
	sync.Mutex
	size    int
	devices map[int]*[2]window
}

func NewBandwidthStats(size int) *BandwidthStats {
	if size < 1 {
		size = 1
	}
	return &BandwidthStats{
		size:    size,
		devices: make(map[int]*[2]window),
	}
}

// Add records the bandwidth of a run, runs without a usable reading are ignored
func (b *BandwidthStats) Add(device int, res *healthprobe.BandwidthResult) (BandwidthSummary, bool) {
	if res == nil || !usable(res.H2DGBps) || !usable(res.D2HGBps) {
		return BandwidthSummary{}, false
	}
	b.Lock()
	defer b.Unlock()
	w, ok := b.devices[device]
	if !ok {
		w = &[2]window{{size: b.size}, {size: b.size}}
		b.devices[device] = w
	}
	w[0].add(res.H2DGBps)
	w[1].add(res.D2HGBps)
	return BandwidthSummary{H2D: w[0].sample(), D2H: w[1].sample()}, true
}

// Summary returns the current summary of device
func (b *BandwidthStats) Summary(device int) (BandwidthSummary, bool) {
	b.Lock()
	defer b.Unlock()
	w, ok := b.devices[device]
	if !ok {
		return BandwidthSummary{}, false
	}
	return BandwidthSummary{H2D: w[0].sample(), D2H: w[1].sample()}, true
}

// Resize changes the window length, older samples beyond it are dropped
func (b *BandwidthStats) Resize(size int) {
	if size < 1 {
		size = 1
	}
	b.Lock()
	defer b.Unlock()
	b.size = size
	for _, w := range b.devices {
		for i := range w {
			w[i].size = size
			if over := len(w[i].values) - size; over > 0 {
				w[i].values = append(w[i].values[:0], w[i].values[over:]...)
			}
		}
	}
}

func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
