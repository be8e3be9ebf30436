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
	"encoding/binary"
	"math"

	"github.com/ROCm/device-health-probe/pkg/accel"
	"github.com/ROCm/device-health-probe/pkg/globals"
)

// MemoryProbe round-trips a square float32 matrix through device memory
type MemoryProbe struct {
	Size      int
	Sentinel  float32
	Tolerance float32
}

// DefaultMemoryProbe returns the 128x128 probe
func DefaultMemoryProbe() MemoryProbe {
	return MemoryProbe{
		Size:      globals.MatrixSize,
		Sentinel:  globals.MatrixSentinel,
		Tolerance: globals.MatrixTolerance,
	}
}

// Bytes is the size of one matrix buffer
func (p MemoryProbe) Bytes() int {
	return p.Size * p.Size * 4
}

// Run copies host A to device A, device A to device B and device B back
// to host B on the session stream, then compares host B to the sentinel.
// Buffers are released before Run returns.
func (p MemoryProbe) Run(s *Session) error {
	if err := s.expect(StreamOpen); err != nil {
		return err
	}
	rt := s.Runtime()
	st := s.Stream()
	n := p.Bytes()

	scope := s.Scope()
	defer scope.Close()

	hostA, err := s.AllocHost(n, StageHostMemorySetup)
	if err != nil {
		return err
	}
	hostB, err := s.AllocHost(n, StageHostMemorySetup)
	if err != nil {
		return err
	}
	fill(hostA.Bytes(), p.Sentinel)
	clear(hostB.Bytes())
	if err := s.Checkpoint(StageHostMemorySetup); err != nil {
		return err
	}

	devA, err := s.AllocDevice(n, StageDeviceMemoryAlloc)
	if err != nil {
		return err
	}
	devB, err := s.AllocDevice(n, StageDeviceMemoryAlloc)
	if err != nil {
		return err
	}
	if err := s.Checkpoint(StageDeviceMemoryAlloc); err != nil {
		return err
	}

	if err := rt.Copy(devA, hostA, n, accel.HostToDevice, st); err != nil {
		return &RuntimeError{Stage: StageDeviceOperations, Err: err}
	}
	if err := rt.Copy(devB, devA, n, accel.DeviceToDevice, st); err != nil {
		return &RuntimeError{Stage: StageDeviceOperations, Err: err}
	}
	if err := rt.Synchronize(st); err != nil {
		return &RuntimeError{Stage: StageDeviceOperations, Err: err}
	}
	if err := s.Checkpoint(StageDeviceOperations); err != nil {
		return err
	}

	if err := rt.Copy(hostB, devB, n, accel.DeviceToHost, st); err != nil {
		return &RuntimeError{Stage: StageResultCopy, Err: err}
	}
	if err := rt.Synchronize(st); err != nil {
		return &RuntimeError{Stage: StageResultCopy, Err: err}
	}
	if err := s.Checkpoint(StageResultCopy); err != nil {
		return err
	}

	return p.verify(hostB.Bytes())
}

func (p MemoryProbe) verify(b []byte) error {
	for i := 0; i < len(b)/4; i++ {
		got := math.Float32frombits(binary.NativeEndian.Uint32(b[i*4:]))
		// NaN never compares within tolerance
		if !(float32(math.Abs(float64(got-p.Sentinel))) <= p.Tolerance) {
			return &VerificationError{
				Stage:    StageVerification,
				Index:    i,
				Expected: float64(p.Sentinel),
				Got:      float64(got),
			}
		}
	}
	return nil
}

func fill(b []byte, v float32) {
	bits := math.Float32bits(v)
	for i := 0; i+4 <= len(b); i += 4 {
		binary.NativeEndian.PutUint32(b[i:], bits)
	}
}
