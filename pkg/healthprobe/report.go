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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Reporter prints the result of a run. Diagnostics always go to Err,
// status lines go to Out only in verbose mode and are replaced by a
// single JSON document in JSON mode.
type Reporter struct {
	Out     io.Writer
	Err     io.Writer
	Verbose bool
	JSON    bool
}

func (r *Reporter) statusf(format string, args ...interface{}) {
	if r.Verbose && !r.JSON {
		fmt.Fprintf(r.Out, format+"\n", args...)
	}
}

// Start announces the run in verbose mode
func (r *Reporter) Start(cfg Config, timeout time.Duration) {
	r.statusf("Health Probe: Testing device %d with %v timeout (%s test)", cfg.Device, timeout, cfg.Mode)
}

// Report prints res and returns its exit code
func (r *Reporter) Report(res *Result) int {
	if res.DeviceName != "" {
		r.statusf("Device: %s", res.DeviceName)
	} else if res.Outcome != OutcomeDeviceNotFound {
		r.statusf("Device: %s device %d", res.Runtime, res.Device)
	}
	if bw := res.Bandwidth; bw != nil {
		r.statusf("PCIe Bandwidth Test Results:")
		r.statusf("  Host to Device: %.2f GB/s", bw.H2DGBps)
		r.statusf("  Device to Host: %.2f GB/s", bw.D2HGBps)
	}

	r.diagnose(res.Err)

	if res.Outcome == OutcomeHealthy {
		r.statusf("Health probe passed successfully (%.3fs)", res.DurationSeconds)
	}
	if r.JSON {
		enc := json.NewEncoder(r.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(r.Err, "Error: failed to encode result: %v\n", err)
		}
	}
	return res.ExitCode
}

func (r *Reporter) diagnose(err error) {
	if err == nil {
		return
	}
	var (
		verr *VerificationError
		berr *BandwidthWarning
		derr *DeadlineExceededError
	)
	switch {
	case errors.As(err, &derr):
		fmt.Fprintln(r.Err, derr.Error())
	case errors.As(err, &verr):
		fmt.Fprintln(r.Err, verr.Error())
		fmt.Fprintln(r.Err, "Result verification failed")
	case errors.As(err, &berr):
		fmt.Fprintf(r.Err, "Warning: %v\n", berr)
	default:
		fmt.Fprintf(r.Err, "Error: %v\n", err)
	}
}
