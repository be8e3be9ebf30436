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
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ROCm/device-health-probe/pkg/accel/sim"
	"github.com/ROCm/device-health-probe/pkg/deadline"
)

func runReported(t *testing.T, rt *sim.Runtime, cfg Config, verbose, asJSON bool) (int, string, string) {
	var out, errOut bytes.Buffer
	rep := &Reporter{Out: &out, Err: &errOut, Verbose: verbose, JSON: asJSON}
	g := deadline.New()
	defer g.Close()
	g.Arm(defaultTestTimeout)
	rep.Start(cfg, 5*time.Second)
	code := rep.Report(Run(rt, g, cfg))
	return code, out.String(), errOut.String()
}

func TestReportHealthyVerbose(t *testing.T) {
	code, out, errOut := runReported(t, sim.New(sim.WithDevices("AMD Instinct MI300X")), DefaultConfig(), true, false)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Health Probe: Testing device 0 with 5s timeout (memory test)")
	assert.Contains(t, out, "Device: AMD Instinct MI300X")
	assert.Contains(t, out, "Health probe passed successfully")
	assert.Empty(t, errOut)
}

func TestReportQuiet(t *testing.T) {
	code, out, errOut := runReported(t, sim.New(), DefaultConfig(), false, false)
	assert.Equal(t, 0, code)
	assert.Empty(t, out)
	assert.Empty(t, errOut)
}

func TestReportDiagnosticsAlwaysOnStderr(t *testing.T) {
	code, out, errOut := runReported(t, sim.New(sim.WithCorruption(5)), DefaultConfig(), false, false)
	assert.Equal(t, 2, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Verification failed at index 5: expected 1.000000")
	assert.Contains(t, errOut, "Result verification failed")

	code, _, errOut = runReported(t, sim.New(sim.WithFailure(sim.CallCreateStream, 400)), DefaultConfig(), false, false)
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: stream creation: simStreamCreate failed with error code 400\n", errOut)

	cfg := DefaultConfig()
	cfg.Device = 3
	code, _, errOut = runReported(t, sim.New(), cfg, false, false)
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: Device 3 not found (only 1 devices available)\n", errOut)
}

func TestReportBandwidthVerbose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModePCIe
	cfg.Bandwidth.Bytes = 1 << 20
	cfg.Bandwidth.Clock = stepClock(4 * time.Second)
	code, out, errOut := runReported(t, sim.New(), cfg, true, false)
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "PCIe Bandwidth Test Results:")
	assert.Contains(t, out, "  Host to Device: 0.00 GB/s")
	assert.Contains(t, errOut, "Warning: Low PCIe bandwidth detected")
	assert.NotContains(t, out, "passed successfully")
}

func TestReportJSON(t *testing.T) {
	code, out, errOut := runReported(t, sim.New(sim.WithCorruption(9)), DefaultConfig(), true, true)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Verification failed at index 9")

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, "verification_failed", doc["outcome"])
	assert.Equal(t, float64(2), doc["exitCode"])
	assert.Equal(t, "memory", doc["mode"])
	assert.Equal(t, "sim", doc["runtime"])
	assert.Equal(t, "verification", doc["stage"])
	mismatch := doc["mismatch"].(map[string]interface{})
	assert.Equal(t, float64(9), mismatch["index"])
	assert.NotContains(t, doc, "bandwidth")
	assert.NotEmpty(t, doc["runId"])
}

func TestReportJSONLowBandwidthDistinct(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModePCIe
	cfg.Bandwidth.Bytes = 1 << 20
	cfg.Bandwidth.Clock = stepClock(time.Second)
	code, out, _ := runReported(t, sim.New(), cfg, false, true)
	assert.Equal(t, 2, code)

	var res Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, OutcomeLowBandwidth, res.Outcome)
	assert.Nil(t, res.Mismatch)
	require.NotNil(t, res.Bandwidth)
	assert.InDelta(t, 1.0/1024, res.Bandwidth.H2DGBps, 1e-9)
}
