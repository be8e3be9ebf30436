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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ROCm/device-health-probe/pkg/globals"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	c := NewConfigHandler(filepath.Join(t.TempDir(), "missing.json"))
	err := c.RefreshConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	cfg := c.GetConfig()

	assert.Equal(t, globals.DefaultProbePath, cfg.ProbePath)
	assert.Equal(t, []int{0}, cfg.Devices)
	assert.Equal(t, globals.DefaultProbeInterval, cfg.Interval.Duration)
	assert.Equal(t, globals.DefaultPCIeInterval, cfg.PCIeInterval.Duration)
	assert.Equal(t, globals.DefaultProbeTimeout+globals.DefaultKillGrace, cfg.RunTimeout())
	assert.Equal(t, globals.DefaultFailureThreshold, cfg.FailureThreshold)
	assert.Equal(t, globals.DefaultRecoveryThreshold, cfg.RecoveryThreshold)
	assert.False(t, cfg.PCIeEnabled)
	require.NotNil(t, cfg.Isolation)
	assert.True(t, cfg.Isolation.Label)
	assert.True(t, cfg.Isolation.Event)
	assert.False(t, cfg.Isolation.Cordon)
	assert.Equal(t, globals.DefaultTaintKey, cfg.Isolation.TaintKey)
	assert.Nil(t, cfg.LogsExport)
	assert.Equal(t, uint32(globals.AgentListenPort), c.GetServerPort())
	assert.Equal(t, "0.0.0.0:5010", c.GetAgentAddr())
}

func TestReadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"probePath": "/opt/bin/health-probe",
		"devices": [0, 2, 3],
		"runtime": "hip",
		"interval": "30s",
		"pcieEnabled": true,
		"pcieInterval": 3600,
		"probeTimeout": "10s",
		"failureThreshold": 5,
		"serverPort": 9100,
		"isolation": {"cordon": true, "taint": true, "taintEffect": "NoExecute"},
		"logsExport": {"provider": "file", "bucket": "/tmp/bucket"}
	}`)
	c := NewConfigHandler(path)
	require.NoError(t, c.RefreshConfig())
	cfg := c.GetConfig()

	assert.Equal(t, "/opt/bin/health-probe", cfg.ProbePath)
	assert.Equal(t, []int{0, 2, 3}, cfg.Devices)
	assert.Equal(t, "hip", cfg.Runtime)
	assert.Equal(t, 30*time.Second, cfg.Interval.Duration)
	assert.Equal(t, time.Hour, cfg.PCIeInterval.Duration)
	assert.Equal(t, 15*time.Second, cfg.RunTimeout())
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.True(t, cfg.Isolation.Cordon)
	assert.True(t, cfg.Isolation.Taint)
	assert.False(t, cfg.Isolation.Label)
	assert.Equal(t, "NoExecute", cfg.Isolation.TaintEffect)
	assert.Equal(t, globals.DefaultTaintValue, cfg.Isolation.TaintValue)
	require.NotNil(t, cfg.LogsExport)
	assert.Equal(t, "file", cfg.LogsExport.Provider)
	assert.Equal(t, uint32(9100), c.GetServerPort())
}

func TestInvalidConfigRevertsToDefaults(t *testing.T) {
	path := writeConfig(t, `{"interval": "30s", "failureThreshold": 7}`)
	c := NewConfigHandler(path)
	require.NoError(t, c.RefreshConfig())
	assert.Equal(t, 7, c.GetConfig().FailureThreshold)

	require.NoError(t, os.WriteFile(path, []byte(`{"interval": "soon"}`), 0644))
	assert.ErrorContains(t, c.RefreshConfig(), "running with defaults")
	assert.Equal(t, globals.DefaultFailureThreshold, c.GetConfig().FailureThreshold)
	assert.Equal(t, globals.DefaultProbeInterval, c.GetConfig().Interval.Duration)
}

func TestInvalidTaintEffect(t *testing.T) {
	c := NewConfigHandler(writeConfig(t, `{"isolation": {"taint": true, "taintEffect": "Evict"}}`))
	require.NoError(t, c.RefreshConfig())
	assert.Equal(t, globals.DefaultTaintEffect, c.GetConfig().Isolation.TaintEffect)
}

func TestEnvOverrides(t *testing.T) {
	c := NewConfigHandler(writeConfig(t, `{"serverPort": 9100, "logDir": "/var/log/x"}`))
	require.NoError(t, c.RefreshConfig())

	t.Setenv("PROBE_AGENT_PORT", "6000")
	t.Setenv("LOGDIR", "/tmp/probe-logs")
	assert.Equal(t, uint32(6000), c.GetServerPort())
	assert.Equal(t, "/tmp/probe-logs", c.GetLogDir())

	t.Setenv("PROBE_AGENT_PORT", "abc")
	assert.Equal(t, uint32(9100), c.GetServerPort())
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Duration)
	require.NoError(t, d.UnmarshalJSON([]byte(`2.5`)))
	assert.Equal(t, 2500*time.Millisecond, d.Duration)
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))

	b, err := Duration{time.Minute}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(b))
}
