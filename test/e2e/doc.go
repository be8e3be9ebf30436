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

// Package e2e builds the health-probe and probe-agent binaries and drives
// them against the simulated accelerator runtime.
package e2e

import (
	"net/http"
	"os/exec"

	testutils "github.com/ROCm/device-health-probe/test/utils"
)

// E2ESuite e2e config
type E2ESuite struct {
	tu         *testutils.TestUtils
	workDir    string
	probePath  string
	agentPath  string
	configPath string
	logDir     string
	agentPort  int
	agentCmd   *exec.Cmd
	httpClient *http.Client
}

// AgentConfig is the subset of the agent config written by the suite
type AgentConfig struct {
	ProbePath    string          `json:"probePath"`
	Devices      []int           `json:"devices"`
	Runtime      string          `json:"runtime"`
	Interval     string          `json:"interval"`
	PCIeEnabled  bool            `json:"pcieEnabled"`
	PCIeInterval string          `json:"pcieInterval,omitempty"`
	ProbeTimeout string          `json:"probeTimeout"`
	LogDir       string          `json:"logDir"`
	ServerPort   int             `json:"serverPort"`
	Isolation    map[string]bool `json:"isolation"`
}
