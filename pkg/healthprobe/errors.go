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
	"errors"
	"fmt"
)

// Process exit codes
const (
	ExitHealthy          = 0
	ExitRuntimeError     = 1
	ExitVerificationFail = 2
	ExitDeadlineExceeded = 3
)

// Stage names a sequencing point of a probe run
type Stage string

const (
	StageInitialization       Stage = "initialization"
	StageDeviceEnumeration    Stage = "device enumeration"
	StageDeviceSelection      Stage = "device selection"
	StageContextCreation      Stage = "context creation"
	StageStreamCreation       Stage = "stream creation"
	StageHostMemorySetup      Stage = "host memory setup"
	StageDeviceMemoryAlloc    Stage = "device memory allocation"
	StageDeviceOperations     Stage = "device operations"
	StageResultCopy           Stage = "result copy"
	StageVerification         Stage = "verification"
	StagePCIeMemoryAlloc      Stage = "pcie memory allocation"
	StageHostToDeviceTransfer Stage = "host to device transfer"
	StageDeviceToHostTransfer Stage = "device to host transfer"
	StageBandwidthCheck       Stage = "bandwidth check"
)

// Outcome is the terminal condition of a run. Outcomes sharing an exit
// code stay distinct in machine-readable output.
type Outcome string

const (
	OutcomeHealthy            Outcome = "healthy"
	OutcomeRuntimeError       Outcome = "runtime_error"
	OutcomeDeviceNotFound     Outcome = "device_not_found"
	OutcomeVerificationFailed Outcome = "verification_failed"
	OutcomeLowBandwidth       Outcome = "low_bandwidth"
	OutcomeDeadlineExceeded   Outcome = "deadline_exceeded"
)

// Outcomes lists every outcome in exit code order
var Outcomes = []Outcome{
	OutcomeHealthy,
	OutcomeRuntimeError,
	OutcomeDeviceNotFound,
	OutcomeVerificationFailed,
	OutcomeLowBandwidth,
	OutcomeDeadlineExceeded,
}

// ExitCode maps an outcome to the process exit code
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeHealthy:
		return ExitHealthy
	case OutcomeVerificationFailed, OutcomeLowBandwidth:
		return ExitVerificationFail
	case OutcomeDeadlineExceeded:
		return ExitDeadlineExceeded
	}
	return ExitRuntimeError
}

// RuntimeError wraps a failed runtime call
type RuntimeError struct {
	Stage Stage
	Err   error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// DeviceNotFoundError requested device index is not below the device count
type DeviceNotFoundError struct {
	ID    int
	Count int
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("Device %d not found (only %d devices available)", e.ID, e.Count)
}

// VerificationError data read back differs from what was written
type VerificationError struct {
	Stage    Stage
	Index    int
	Expected float64
	Got      float64
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("Verification failed at index %d: expected %f, got %f", e.Index, e.Expected, e.Got)
}

// BandwidthWarning transfer completed correctly but slower than the threshold
type BandwidthWarning struct {
	H2DGBps   float64
	D2HGBps   float64
	Threshold float64
}

func (e *BandwidthWarning) Error() string {
	return fmt.Sprintf("Low PCIe bandwidth detected (host to device %.2f GB/s, device to host %.2f GB/s, threshold %.2f GB/s)",
		e.H2DGBps, e.D2HGBps, e.Threshold)
}

// DeadlineExceededError the deadline was observed at a stage boundary
type DeadlineExceededError struct {
	Stage Stage
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("Timeout during %s", e.Stage)
}

// Classify maps a run error to its outcome, nil is healthy
func Classify(err error) Outcome {
	var (
		rerr *RuntimeError
		nerr *DeviceNotFoundError
		verr *VerificationError
		berr *BandwidthWarning
		derr *DeadlineExceededError
	)
	switch {
	case err == nil:
		return OutcomeHealthy
	case errors.As(err, &derr):
		return OutcomeDeadlineExceeded
	case errors.As(err, &nerr):
		return OutcomeDeviceNotFound
	case errors.As(err, &verr):
		return OutcomeVerificationFailed
	case errors.As(err, &berr):
		return OutcomeLowBandwidth
	case errors.As(err, &rerr):
		return OutcomeRuntimeError
	}
	return OutcomeRuntimeError
}

// StageOf returns the stage an error was raised at, empty if unknown
func StageOf(err error) Stage {
	var (
		rerr *RuntimeError
		verr *VerificationError
		derr *DeadlineExceededError
		nerr *DeviceNotFoundError
		berr *BandwidthWarning
	)
	switch {
	case errors.As(err, &derr):
		return derr.Stage
	case errors.As(err, &rerr):
		return rerr.Stage
	case errors.As(err, &verr):
		return verr.Stage
	case errors.As(err, &nerr):
		return StageDeviceSelection
	case errors.As(err, &berr):
		return StageBandwidthCheck
	}
	return ""
}
