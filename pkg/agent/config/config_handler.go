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
	"sync"

	"github.com/ROCm/device-health-probe/pkg/globals"
	"github.com/ROCm/device-health-probe/pkg/logger"
)

// ConfigHandler to update/read config data layer
type ConfigHandler struct {
	sync.Mutex
	// this doesn't change during the life cycle
	configPath string
	// running config can change keep updating states
	runningConfig *Config
}

func NewConfigHandler(configPath string) *ConfigHandler {
	logger.Log.Printf("Running Config :%+v", configPath)
	c := &ConfigHandler{
		configPath:    configPath,
		runningConfig: NewConfig(),
	}
	return c
}

// RefreshConfig re-reads the config file. An unreadable file reverts the
// running config to defaults and the read error is returned.
func (c *ConfigHandler) RefreshConfig() error {
	c.Lock()
	defer c.Unlock()
	newConfig, err := readConfig(c.configPath)
	if err != nil {
		logger.Log.Printf("config read err: %v, reverting to defaults", err)
		if uerr := c.runningConfig.Update(nil); uerr != nil {
			return uerr
		}
		return fmt.Errorf("config %v not applied, running with defaults: %w", c.configPath, err)
	}
	return c.runningConfig.Update(newConfig)
}

func (c *ConfigHandler) GetConfigPath() string {
	return c.configPath
}

func (c *ConfigHandler) GetAgentAddr() string {
	return fmt.Sprintf("%v:%v", globals.AgentBindAddress, c.GetServerPort())
}

// GetConfig returns a copy of the running config
func (c *ConfigHandler) GetConfig() AgentConfig {
	c.Lock()
	defer c.Unlock()
	return c.runningConfig.GetConfig()
}

func (c *ConfigHandler) GetServerPort() uint32 {
	c.Lock()
	defer c.Unlock()
	return c.runningConfig.GetServerPort()
}

func (c *ConfigHandler) GetLogDir() string {
	c.Lock()
	defer c.Unlock()
	return c.runningConfig.GetLogDir()
}

func readConfig(filepath string) (*AgentConfig, error) {
	var agentConfig AgentConfig
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(data, &agentConfig); err != nil {
		return nil, err
	}
	return &agentConfig, nil
}
