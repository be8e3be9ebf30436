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

package e2e

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/stretchr/testify/assert"
	. "gopkg.in/check.v1"

	"github.com/ROCm/device-health-probe/pkg/agent"
	"github.com/ROCm/device-health-probe/pkg/healthprobe"
	testutils "github.com/ROCm/device-health-probe/test/utils"
)

const simEnv = "HEALTH_PROBE_SIM"

func (s *E2ESuite) probe(c *C, sim string, args ...string) *testutils.CommandResult {
	env := []string{simEnv + "=" + sim}
	res, err := s.tu.RunCommand(env, s.probePath, append([]string{"-runtime", "sim"}, args...)...)
	assert.Nil(c, err)
	return res
}

func (s *E2ESuite) Test001ProbeHealthy(c *C) {
	log.Print("Testing healthy memory and pcie probes")
	res := s.probe(c, "devices=2,names=sim0|sim1", "-d", "1", "-v")
	assert.Equal(c, 0, res.ExitCode, res.Stderr)
	assert.Contains(c, res.Stdout, "Device: sim1")
	assert.Contains(c, res.Stdout, "Health probe passed successfully")

	res = s.probe(c, "devices=1", "--pcie-test", "-v")
	assert.Equal(c, 0, res.ExitCode, res.Stderr)
	assert.Contains(c, res.Stdout, "PCIe Bandwidth Test Results:")
	assert.Contains(c, res.Stdout, "  Host to Device: ")
}

func (s *E2ESuite) Test002ProbeExitCodes(c *C) {
	tests := []struct {
		sim     string
		args    []string
		code    int
		outcome healthprobe.Outcome
	}{
		{sim: "devices=1,fail=simMalloc:2", code: 1, outcome: healthprobe.OutcomeRuntimeError},
		{sim: "devices=1", args: []string{"-d", "4"}, code: 1, outcome: healthprobe.OutcomeDeviceNotFound},
		{sim: "devices=1,corrupt=7", code: 2, outcome: healthprobe.OutcomeVerificationFailed},
		{sim: "devices=1,bandwidth=0.5", args: []string{"--pcie-test"}, code: 2, outcome: healthprobe.OutcomeLowBandwidth},
		{sim: "devices=1,delay=simCtxCreate:2s", args: []string{"-t", "1"}, code: 3, outcome: healthprobe.OutcomeDeadlineExceeded},
	}
	for _, tc := range tests {
		log.Printf("Testing %v %v", tc.sim, tc.args)
		res := s.probe(c, tc.sim, append(tc.args, "-json")...)
		assert.Equal(c, tc.code, res.ExitCode, res.Stderr)

		out := &healthprobe.Result{}
		assert.Nil(c, json.Unmarshal([]byte(res.Stdout), out), res.Stdout)
		assert.Equal(c, tc.outcome, out.Outcome)
		assert.Equal(c, tc.code, out.ExitCode)
		assert.NotEmpty(c, out.RunID)
	}
}

func (s *E2ESuite) Test003ProbeHelpAndArgs(c *C) {
	res := s.probe(c, "devices=1", "-x", "--help")
	assert.Equal(c, 0, res.ExitCode)
	assert.True(c, strings.HasPrefix(res.Stdout, "Usage: health-probe"))

	res = s.probe(c, "devices=1", "-t", "-1")
	assert.Equal(c, 1, res.ExitCode)

	res = s.probe(c, "devices=1", "-metrics-textfile", filepath.Join(s.workDir, "probe.prom"))
	assert.Equal(c, 0, res.ExitCode)
	prom, err := s.tu.RunCommand(nil, "cat", filepath.Join(s.workDir, "probe.prom"))
	assert.Nil(c, err)
	metrics, err := testutils.ParsePrometheusMetrics(prom.Stdout)
	assert.Nil(c, err)
	v, ok := metrics["0"].Get("health_probe_success", map[string]string{"mode": "memory"})
	assert.True(c, ok)
	assert.Equal(c, 1.0, v)
}

func (s *E2ESuite) Test004AgentOnce(c *C) {
	cfg := s.defaultConfig()
	cfg.Devices = []int{0}
	assert.Nil(c, s.WriteConfig(cfg))

	res, err := s.tu.RunCommand([]string{simEnv + "=devices=1"}, s.agentPath, "-agent-config", s.configPath, "-once")
	assert.Nil(c, err)
	assert.Equal(c, 0, res.ExitCode, res.Stderr)
	assert.Contains(c, res.Stdout, "device 0 memory: healthy (healthy)")

	// corruption is fatal, a single run isolates the device
	res, err = s.tu.RunCommand([]string{simEnv + "=devices=1,corrupt=3"}, s.agentPath, "-agent-config", s.configPath, "-once")
	assert.Nil(c, err)
	assert.Equal(c, 1, res.ExitCode, res.Stderr)
	assert.Contains(c, res.Stdout, "device 0 memory: isolated (verification_failed)")

	logs, err := filepath.Glob(filepath.Join(s.logDir, "*_memory_dev0_*.json.gz"))
	assert.Nil(c, err)
	assert.NotEmpty(c, logs)

	status, err := agent.LoadHealthStatus(filepath.Join(s.logDir, "status.db"))
	assert.Nil(c, err)
	assert.Equal(c, agent.StateIsolated, status.Devices["0"].State)
}

func (s *E2ESuite) getAgent(path string) (string, int, error) {
	resp, err := s.httpClient.Get(s.agentURL(path))
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return string(body), resp.StatusCode, err
}

func (s *E2ESuite) Test005AgentDaemon(c *C) {
	cfg := s.defaultConfig()
	cfg.LogDir = filepath.Join(s.workDir, "daemon-logs")
	cfg.PCIeEnabled = true
	cfg.PCIeInterval = "1h"
	assert.Nil(c, s.WriteConfig(cfg))

	s.startAgent(c, simEnv+"=devices=2")
	defer s.stopAgent()

	assert.Eventually(c, func() bool {
		_, code, err := s.getAgent("/healthz")
		return err == nil && code == http.StatusOK
	}, 10*time.Second, 200*time.Millisecond)

	var metrics map[string]*testutils.DeviceMetric
	assert.Eventually(c, func() bool {
		body, _, err := s.getAgent("/metrics")
		if err != nil {
			return false
		}
		metrics, err = testutils.ParsePrometheusMetrics(body)
		if err != nil || len(metrics) != 2 {
			return false
		}
		_, ok := metrics["1"].Get("health_probe_bandwidth_mean_gbps", map[string]string{"direction": "host_to_device"})
		return ok
	}, 20*time.Second, 500*time.Millisecond)

	for _, dev := range []string{"0", "1"} {
		v, ok := metrics[dev].Get("health_probe_device_state", nil)
		assert.True(c, ok)
		assert.Equal(c, 0.0, v)
		v, ok = metrics[dev].Get("health_probe_success", map[string]string{"mode": "memory"})
		assert.True(c, ok)
		assert.Equal(c, 1.0, v)
	}

	body, code, err := s.getAgent("/status")
	assert.Nil(c, err)
	assert.Equal(c, http.StatusOK, code)
	status := &agent.StatusResponse{}
	assert.Nil(c, json.Unmarshal([]byte(body), status))
	assert.Len(c, status.Devices, 2)
	for _, d := range status.Devices {
		assert.Equal(c, agent.StateHealthy, d.State)
	}
}
