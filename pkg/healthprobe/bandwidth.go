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

package healthprobe

import (
	"time"

	"github.com/zeebo/xxh3"

	"github.com/ROCm/device-health-probe/pkg/accel"
	"github.com/ROCm/device-health-probe/pkg/globals"
)

// BandwidthProbe times one synchronous transfer in each direction
type BandwidthProbe struct {
	Bytes     int
	Fill      byte
	Threshold float64
	// Clock defaults to time.Now
	Clock func() time.Time
}

// BandwidthResult measured throughput of one bandwidth probe
type BandwidthResult struct {
	Bytes         int     `json:"bytes"`
	H2DSeconds    float64 `json:"h2dSeconds"`
	D2HSeconds    float64 `json:"d2hSeconds"`
	H2DGBps       float64 `json:"h2dGBps"`
	D2HGBps       float64 `json:"d2hGBps"`
	ThresholdGBps float64 `json:"thresholdGBps"`
}

// Low reports whether either direction is below the threshold
func (r *BandwidthResult) Low() bool {
	return r.H2DGBps < r.ThresholdGBps || r.D2HGBps < r.ThresholdGBps
}

// DefaultBandwidthProbe returns the 64 MiB probe
func DefaultBandwidthProbe() BandwidthProbe {
	return BandwidthProbe{
		Bytes:     globals.PCIeTransferBytes,
		Fill:      globals.PCIeFillByte,
		Threshold: globals.PCIeMinBandwidthGBps,
	}
}

// GBps converts a transfer of size bytes in d to GiB per second
func GBps(size int, d time.Duration) float64 {
	if d < time.Nanosecond {
		d = time.Nanosecond
	}
	return float64(size) / (1 << 30) / d.Seconds()
}

func (p BandwidthProbe) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// Run fills a pinned host buffer with the pattern, copies it to the device
// and back with the host buffer cleared in between, and checks the
// returned bytes. The result is returned whenever both transfers ran.
func (p BandwidthProbe) Run(s *Session) (*BandwidthResult, error) {
	if err := s.expect(ContextOpen); err != nil {
		return nil, err
	}
	rt := s.Runtime()
	n := p.Bytes

	scope := s.Scope()
	defer scope.Close()

	host, err := s.AllocHost(n, StagePCIeMemoryAlloc)
	if err != nil {
		return nil, err
	}
	dev, err := s.AllocDevice(n, StagePCIeMemoryAlloc)
	if err != nil {
		return nil, err
	}
	buf := host.Bytes()
	for i := range buf {
		buf[i] = p.Fill
	}
	sum := xxh3.Hash(buf)
	if err := s.Checkpoint(StagePCIeMemoryAlloc); err != nil {
		return nil, err
	}

	start := p.now()
	if err := rt.Copy(dev, host, n, accel.HostToDevice, nil); err != nil {
		return nil, &RuntimeError{Stage: StageHostToDeviceTransfer, Err: err}
	}
	if err := rt.Synchronize(nil); err != nil {
		return nil, &RuntimeError{Stage: StageHostToDeviceTransfer, Err: err}
	}
	h2d := p.now().Sub(start)
	if err := s.Checkpoint(StageHostToDeviceTransfer); err != nil {
		return nil, err
	}

	clear(buf)
	start = p.now()
	if err := rt.Copy(host, dev, n, accel.DeviceToHost, nil); err != nil {
		return nil, &RuntimeError{Stage: StageDeviceToHostTransfer, Err: err}
	}
	if err := rt.Synchronize(nil); err != nil {
		return nil, &RuntimeError{Stage: StageDeviceToHostTransfer, Err: err}
	}
	d2h := p.now().Sub(start)
	if err := s.Checkpoint(StageDeviceToHostTransfer); err != nil {
		return nil, err
	}

	res := &BandwidthResult{
		Bytes:         n,
		H2DSeconds:    h2d.Seconds(),
		D2HSeconds:    d2h.Seconds(),
		H2DGBps:       GBps(n, h2d),
		D2HGBps:       GBps(n, d2h),
		ThresholdGBps: p.Threshold,
	}

	if xxh3.Hash(buf) != sum {
		for i, b := range buf {
			if b != p.Fill {
				return res, &VerificationError{
					Stage:    StageBandwidthCheck,
					Index:    i,
					Expected: float64(p.Fill),
					Got:      float64(b),
				}
			}
		}
	}
	if res.Low() {
		return res, &BandwidthWarning{H2DGBps: res.H2DGBps, D2HGBps: res.D2HGBps, Threshold: p.Threshold}
	}
	return res, nil
}
