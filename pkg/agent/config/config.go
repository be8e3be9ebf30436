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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ROCm/device-health-probe/pkg/globals"
	"github.com/ROCm/device-health-probe/pkg/logger"
)

// Duration is a time.Duration read from JSON as a Go duration string ("30s")
// or a number of seconds
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %v", value, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// IsolationConfig selects the node isolation actions taken for an unhealthy device
type IsolationConfig struct {
	DryRun      bool   `json:"dryRun,omitempty"`
	Label       bool   `json:"label,omitempty"`
	Cordon      bool   `json:"cordon,omitempty"`
	Taint       bool   `json:"taint,omitempty"`
	Event       bool   `json:"event,omitempty"`
	TaintKey    string `json:"taintKey,omitempty"`
	TaintValue  string `json:"taintValue,omitempty"`
	TaintEffect string `json:"taintEffect,omitempty"`
}

// LogsExportConfig uploads failed probe results to a bucket
type LogsExportConfig struct {
	// Provider is one of aws, azure or file
	Provider string `json:"provider,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
	Folder   string `json:"folder,omitempty"`
	// SecretName of the mounted secret holding the provider credentials
	SecretName string `json:"secretName,omitempty"`
}

// AgentConfig is the on-disk agent configuration
type AgentConfig struct {
	ProbePath         string            `json:"probePath,omitempty"`
	Devices           []int             `json:"devices,omitempty"`
	Runtime           string            `json:"runtime,omitempty"`
	Interval          Duration          `json:"interval,omitempty"`
	PCIeEnabled       bool              `json:"pcieEnabled,omitempty"`
	PCIeInterval      Duration          `json:"pcieInterval,omitempty"`
	ProbeTimeout      Duration          `json:"probeTimeout,omitempty"`
	KillGrace         Duration          `json:"killGrace,omitempty"`
	FailureThreshold  int               `json:"failureThreshold,omitempty"`
	RecoveryThreshold int               `json:"recoveryThreshold,omitempty"`
	BandwidthWindow   int               `json:"bandwidthWindow,omitempty"`
	LogDir            string            `json:"logDir,omitempty"`
	ServerPort        uint32            `json:"serverPort,omitempty"`
	Isolation         *IsolationConfig  `json:"isolation,omitempty"`
	LogsExport        *LogsExportConfig `json:"logsExport,omitempty"`
}

// RunTimeout bounds one probe child process
func (a AgentConfig) RunTimeout() time.Duration {
	return a.ProbeTimeout.Duration + a.KillGrace.Duration
}

// Config - holds dynamic value changes to the config file
type Config struct {
	serverPort  uint32
	agentConfig AgentConfig
}

func NewConfig() *Config {
	c := &Config{}
	_ = c.Update(nil)
	return c
}

func defaultIsolation() *IsolationConfig {
	return &IsolationConfig{
		Label: true,
		Event: true,
	}
}

// Update replaces the running config, unset fields take their defaults
func (c *Config) Update(newConfig *AgentConfig) error {
	cfg := AgentConfig{}
	if newConfig != nil {
		cfg = *newConfig
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = globals.DefaultProbePath
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = []int{globals.DefaultDeviceID}
	} else {
		cfg.Devices = append([]int(nil), cfg.Devices...)
	}
	if cfg.Interval.Duration <= 0 {
		cfg.Interval.Duration = globals.DefaultProbeInterval
	}
	if cfg.PCIeInterval.Duration <= 0 {
		cfg.PCIeInterval.Duration = globals.DefaultPCIeInterval
	}
	if cfg.ProbeTimeout.Duration <= 0 {
		cfg.ProbeTimeout.Duration = globals.DefaultProbeTimeout
	}
	if cfg.KillGrace.Duration <= 0 {
		cfg.KillGrace.Duration = globals.DefaultKillGrace
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = globals.DefaultFailureThreshold
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = globals.DefaultRecoveryThreshold
	}
	if cfg.BandwidthWindow <= 0 {
		cfg.BandwidthWindow = globals.DefaultBandwidthWindow
	}
	if cfg.LogDir == "" {
		cfg.LogDir = globals.DefaultAgentLogDir
	}
	if cfg.Isolation == nil {
		cfg.Isolation = defaultIsolation()
	} else {
		iso := *cfg.Isolation
		cfg.Isolation = &iso
	}
	if cfg.Isolation.TaintKey == "" {
		cfg.Isolation.TaintKey = globals.DefaultTaintKey
	}
	if cfg.Isolation.TaintValue == "" {
		cfg.Isolation.TaintValue = globals.DefaultTaintValue
	}
	switch cfg.Isolation.TaintEffect {
	case "NoSchedule", "PreferNoSchedule", "NoExecute":
	case "":
		cfg.Isolation.TaintEffect = globals.DefaultTaintEffect
	default:
		logger.Log.Printf("invalid taint effect %q, using %v", cfg.Isolation.TaintEffect, globals.DefaultTaintEffect)
		cfg.Isolation.TaintEffect = globals.DefaultTaintEffect
	}
	if cfg.LogsExport != nil {
		export := *cfg.LogsExport
		cfg.LogsExport = &export
	}

	c.serverPort = globals.AgentListenPort
	if cfg.ServerPort != 0 {
		c.serverPort = cfg.ServerPort
	}
	c.agentConfig = cfg
	return nil
}

func (c *Config) GetConfig() AgentConfig {
	return c.agentConfig
}

func (c *Config) GetServerPort() uint32 {
	if os.Getenv("PROBE_AGENT_PORT") != "" {
		logger.Log.Printf("PROBE_AGENT_PORT env set, override server port")
		portStr := os.Getenv("PROBE_AGENT_PORT")
		number, err := strconv.Atoi(portStr)
		if err != nil {
			return c.serverPort
		}
		return uint32(number)
	}
	return c.serverPort
}

func (c *Config) GetLogDir() string {
	if dir := os.Getenv("LOGDIR"); dir != "" {
		return dir
	}
	return c.agentConfig.LogDir
}
