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
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ROCm/device-health-probe/pkg/healthprobe"
)

const (
	namespace = "health_probe"
	// PushJob job label of metrics pushed by the probe
	PushJob = "health_probe"
)

// Directions of bandwidth gauges
const (
	DirectionH2D = "host_to_device"
	DirectionD2H = "device_to_host"
)

// MetricsHandler owns the registry of probe result metrics and, for the
// agent, the device health metrics
type MetricsHandler struct {
	sync.Mutex
	reg *prometheus.Registry

	exitCode  *prometheus.GaugeVec
	success   *prometheus.GaugeVec
	outcome   *prometheus.GaugeVec
	duration  *prometheus.GaugeVec
	bandwidth *prometheus.GaugeVec
	lastRun   *prometheus.GaugeVec

	// agent only
	deviceState      *prometheus.GaugeVec
	checkFailures    *prometheus.CounterVec
	bandwidthMean    *prometheus.GaugeVec
	bandwidthStddev  *prometheus.GaugeVec
	isolationActions *prometheus.CounterVec
}

func newGauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewProbeMetrics returns a handler with the per-run result metrics
func NewProbeMetrics() *MetricsHandler {
	mh := &MetricsHandler{
		reg:       prometheus.NewRegistry(),
		exitCode:  newGauge("exit_code", "exit code of the last probe run", "device", "mode"),
		success:   newGauge("success", "1 if the last probe run was healthy", "device", "mode"),
		outcome:   newGauge("outcome", "1 for the outcome of the last probe run, 0 for the others", "device", "mode", "outcome"),
		duration:  newGauge("duration_seconds", "wall-clock duration of the last probe run", "device", "mode"),
		bandwidth: newGauge("bandwidth_gbps", "measured transfer bandwidth of the last pcie probe run", "device", "mode", "direction"),
		lastRun:   newGauge("last_run_timestamp_seconds", "start time of the last probe run", "device", "mode"),
	}
	mh.reg.MustRegister(mh.exitCode, mh.success, mh.outcome, mh.duration, mh.bandwidth, mh.lastRun)
	return mh
}

// NewAgentMetrics returns a handler with result and device health metrics
func NewAgentMetrics() *MetricsHandler {
	mh := NewProbeMetrics()
	mh.deviceState = newGauge("device_state", "device health state: 0 healthy, 1 suspected, 2 unhealthy, 3 isolated", "device")
	mh.checkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "check_failures_total",
		Help:      "failed probe runs by outcome",
	}, []string{"device", "reason"})
	mh.bandwidthMean = newGauge("bandwidth_mean_gbps", "mean bandwidth over the recent pcie probe runs", "device", "direction")
	mh.bandwidthStddev = newGauge("bandwidth_stddev_gbps", "standard deviation of bandwidth over the recent pcie probe runs", "device", "direction")
	mh.isolationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "isolation_actions_total",
		Help:      "node isolation actions taken",
	}, []string{"action"})
	mh.reg.MustRegister(mh.deviceState, mh.checkFailures, mh.bandwidthMean, mh.bandwidthStddev, mh.isolationActions)
	return mh
}

// GetRegistry : returns the registry handle
func (mh *MetricsHandler) GetRegistry() *prometheus.Registry {
	return mh.reg
}

// Record updates the result metrics from one run
func (mh *MetricsHandler) Record(res *healthprobe.Result) {
	mh.Lock()
	defer mh.Unlock()
	device := strconv.Itoa(res.Device)
	mode := string(res.Mode)

	mh.exitCode.WithLabelValues(device, mode).Set(float64(res.ExitCode))
	success := 0.0
	if res.Outcome == healthprobe.OutcomeHealthy {
		success = 1
	}
	mh.success.WithLabelValues(device, mode).Set(success)
	for _, o := range healthprobe.Outcomes {
		v := 0.0
		if o == res.Outcome {
			v = 1
		}
		mh.outcome.WithLabelValues(device, mode, string(o)).Set(v)
	}
	mh.duration.WithLabelValues(device, mode).Set(res.DurationSeconds)
	if !res.StartedAt.IsZero() {
		mh.lastRun.WithLabelValues(device, mode).Set(float64(res.StartedAt.UnixNano()) / 1e9)
	}
	if bw := res.Bandwidth; bw != nil {
		mh.bandwidth.WithLabelValues(device, mode, DirectionH2D).Set(bw.H2DGBps)
		mh.bandwidth.WithLabelValues(device, mode, DirectionD2H).Set(bw.D2HGBps)
	}
}

// SetDeviceState exports the health state of a device
func (mh *MetricsHandler) SetDeviceState(device string, state int) {
	if mh.deviceState == nil {
		return
	}
	mh.deviceState.WithLabelValues(device).Set(float64(state))
}

// IncCheckFailure counts a failed run of device
func (mh *MetricsHandler) IncCheckFailure(device, reason string) {
	if mh.checkFailures == nil {
		return
	}
	mh.checkFailures.WithLabelValues(device, reason).Inc()
}

// SetBandwidthStats exports rolling bandwidth statistics of a device
func (mh *MetricsHandler) SetBandwidthStats(device, direction string, mean, stddev float64) {
	if mh.bandwidthMean == nil {
		return
	}
	mh.bandwidthMean.WithLabelValues(device, direction).Set(mean)
	mh.bandwidthStddev.WithLabelValues(device, direction).Set(stddev)
}

// IncIsolationAction counts a node isolation action
func (mh *MetricsHandler) IncIsolationAction(action string) {
	if mh.isolationActions == nil {
		return
	}
	mh.isolationActions.WithLabelValues(action).Inc()
}

// WriteTextfile writes the registry in the node-exporter textfile format
func (mh *MetricsHandler) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, mh.reg); err != nil {
		return fmt.Errorf("write metrics textfile %v: %w", path, err)
	}
	return nil
}

// Push sends the registry to a pushgateway grouped by instance, usually
// the node name
func (mh *MetricsHandler) Push(url, instance string) error {
	err := push.New(url, PushJob).
		Gatherer(mh.reg).
		Grouping("instance", instance).
		Push()
	if err != nil {
		return fmt.Errorf("metrics push to %v failed: %w", url, err)
	}
	return nil
}
