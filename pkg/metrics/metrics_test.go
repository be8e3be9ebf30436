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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"gotest.tools/assert"

	"github.com/ROCm/device-health-probe/pkg/healthprobe"
)

func lowBandwidthResult() *healthprobe.Result {
	return &healthprobe.Result{
		Mode:            healthprobe.ModePCIe,
		Device:          1,
		Outcome:         healthprobe.OutcomeLowBandwidth,
		ExitCode:        2,
		StartedAt:       time.Unix(1700000000, 0),
		DurationSeconds: 1.5,
		Bandwidth: &healthprobe.BandwidthResult{
			Bytes:         64 << 20,
			H2DGBps:       0.5,
			D2HGBps:       12.25,
			ThresholdGBps: 1.0,
		},
	}
}

func TestRecord(t *testing.T) {
	mh := NewProbeMetrics()
	mh.Record(lowBandwidthResult())

	assert.Equal(t, testutil.ToFloat64(mh.exitCode.WithLabelValues("1", "pcie")), 2.0)
	assert.Equal(t, testutil.ToFloat64(mh.success.WithLabelValues("1", "pcie")), 0.0)
	assert.Equal(t, testutil.ToFloat64(mh.outcome.WithLabelValues("1", "pcie", "low_bandwidth")), 1.0)
	assert.Equal(t, testutil.ToFloat64(mh.outcome.WithLabelValues("1", "pcie", "verification_failed")), 0.0)
	assert.Equal(t, testutil.ToFloat64(mh.bandwidth.WithLabelValues("1", "pcie", DirectionH2D)), 0.5)
	assert.Equal(t, testutil.ToFloat64(mh.bandwidth.WithLabelValues("1", "pcie", DirectionD2H)), 12.25)
	assert.Equal(t, testutil.ToFloat64(mh.lastRun.WithLabelValues("1", "pcie")), 1700000000.0)
	assert.Equal(t, testutil.CollectAndCount(mh.outcome), len(healthprobe.Outcomes))

	// a healthy rerun flips the outcome gauges
	mh.Record(&healthprobe.Result{Mode: healthprobe.ModePCIe, Device: 1, Outcome: healthprobe.OutcomeHealthy})
	assert.Equal(t, testutil.ToFloat64(mh.success.WithLabelValues("1", "pcie")), 1.0)
	assert.Equal(t, testutil.ToFloat64(mh.outcome.WithLabelValues("1", "pcie", "low_bandwidth")), 0.0)
}

func TestAgentOnlyMetricsIgnoredOnProbeHandler(t *testing.T) {
	mh := NewProbeMetrics()
	mh.SetDeviceState("0", 2)
	mh.IncCheckFailure("0", "runtime_error")
	mh.SetBandwidthStats("0", DirectionH2D, 1, 0)
	mh.IncIsolationAction("cordon")

	families, err := mh.GetRegistry().Gather()
	assert.NilError(t, err)
	for _, f := range families {
		assert.Assert(t, !strings.Contains(f.GetName(), "device_state"), f.GetName())
	}
}

func TestAgentMetrics(t *testing.T) {
	mh := NewAgentMetrics()
	mh.SetDeviceState("0", 3)
	mh.IncCheckFailure("0", "deadline_exceeded")
	mh.IncCheckFailure("0", "deadline_exceeded")
	mh.SetBandwidthStats("0", DirectionD2H, 11.5, 0.25)
	mh.IncIsolationAction("taint")

	assert.Equal(t, testutil.ToFloat64(mh.deviceState.WithLabelValues("0")), 3.0)
	assert.Equal(t, testutil.ToFloat64(mh.checkFailures.WithLabelValues("0", "deadline_exceeded")), 2.0)
	assert.Equal(t, testutil.ToFloat64(mh.bandwidthStddev.WithLabelValues("0", DirectionD2H)), 0.25)

	families, err := mh.GetRegistry().Gather()
	assert.NilError(t, err)
	var iso *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "health_probe_isolation_actions_total" {
			iso = f
		}
	}
	assert.Assert(t, iso != nil)
	assert.Equal(t, iso.GetType(), dto.MetricType_COUNTER)
	assert.Equal(t, iso.GetMetric()[0].GetCounter().GetValue(), 1.0)
}

func TestWriteTextfile(t *testing.T) {
	mh := NewProbeMetrics()
	mh.Record(lowBandwidthResult())

	path := filepath.Join(t.TempDir(), "health_probe.prom")
	assert.NilError(t, mh.WriteTextfile(path))
	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(data), `health_probe_exit_code{device="1",mode="pcie"} 2`), string(data))

	assert.ErrorContains(t, mh.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")), "write metrics textfile")
}

func TestPush(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mh := NewProbeMetrics()
	mh.Record(lowBandwidthResult())
	assert.NilError(t, mh.Push(srv.URL, "node-a"))
	assert.Equal(t, gotMethod, http.MethodPut)
	assert.Equal(t, gotPath, "/metrics/job/health_probe/instance/node-a")

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	assert.ErrorContains(t, mh.Push(failing.URL, "node-a"), "metrics push to "+failing.URL)
}
