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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/common/version"

	"github.com/ROCm/device-health-probe/pkg/agent"
	"github.com/ROCm/device-health-probe/pkg/agent/config"
	k8sclient "github.com/ROCm/device-health-probe/pkg/client"
	"github.com/ROCm/device-health-probe/pkg/globals"
	"github.com/ROCm/device-health-probe/pkg/healthprobe"
	"github.com/ROCm/device-health-probe/pkg/logger"
	"github.com/ROCm/device-health-probe/pkg/utils"
)

var (
	Version   string
	BuildDate string
	GitCommit string
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code, deferred cleanup always runs before
// main exits
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe-agent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		agentConfig = fs.String("agent-config", globals.AgentConfigPath, "probe agent config file")
		bindAddr    = fs.String("bind", globals.AgentBindAddress, "http bind address")
		once        = fs.Bool("once", false, "probe every configured device once and exit")
		versionOpt  = fs.Bool("version", false, "show version")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *versionOpt {
		version.Version = Version
		version.BuildDate = BuildDate
		version.Revision = GitCommit
		fmt.Fprintln(stdout, version.Print("probe-agent"))
		return 0
	}

	runConf := config.NewConfigHandler(*agentConfig)
	// a missing or broken config leaves the defaults running
	configErr := runConf.RefreshConfig()

	if err := os.MkdirAll(runConf.GetLogDir(), 0755); err != nil {
		fmt.Fprintf(stderr, "failed to create log dir %v: %v\n", runConf.GetLogDir(), err)
	}
	logger.SetLogPrefix(globals.AgentLogPrefix)
	logger.SetLogDir(runConf.GetLogDir())
	logger.SetLogFile(globals.DefaultAgentLogSubPath)
	logger.Init(!utils.IsKubernetes() || *once)

	logger.Log.Printf("Version : %v", Version)
	logger.Log.Printf("BuildDate: %v", BuildDate)
	logger.Log.Printf("GitCommit: %v", GitCommit)
	if configErr != nil {
		logger.Log.Printf("%v", configErr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []agent.AgentOption{
		agent.WithBindAddr(*bindAddr),
	}
	nodeName := utils.GetNodeName()
	if nodeName == "" {
		nodeName, _ = os.Hostname()
	}
	opts = append(opts, agent.WithNodeName(nodeName))
	if utils.IsKubernetes() {
		k8sClient, err := k8sclient.NewClient(ctx)
		if err != nil {
			logger.Log.Printf("failed to create k8s client, node isolation disabled: %v", err)
		} else {
			logger.Log.Printf("k8s client created successfully")
			opts = append(opts, agent.WithNodeClient(k8sClient))
		}
	}

	a := agent.NewAgent(runConf, opts...)
	if *once {
		return runOnce(ctx, a, runConf.GetConfig(), stdout)
	}
	if err := a.Run(ctx); err != nil {
		logger.Log.Printf("agent exited: %v", err)
		return 1
	}
	logger.Log.Printf("agent stopped, status saved to %v", filepath.Join(runConf.GetLogDir(), globals.DefaultStatusDBSubPath))
	return 0
}

// runOnce returns 1 when any device ends up unhealthy or isolated
func runOnce(ctx context.Context, a *agent.Agent, cfg config.AgentConfig, stdout io.Writer) int {
	a.LoadStatus()
	code := 0
	for _, id := range cfg.Devices {
		modes := []healthprobe.Mode{healthprobe.ModeMemory}
		if cfg.PCIeEnabled {
			modes = append(modes, healthprobe.ModePCIe)
		}
		for _, mode := range modes {
			dh, err := a.Check(ctx, id, mode)
			if err != nil {
				logger.Log.Printf("%v check of device %v failed to run: %v", mode, id, err)
				code = 1
				continue
			}
			if dh == nil {
				continue
			}
			fmt.Fprintf(stdout, "device %v %v: %v (%v)\n", id, mode, dh.State, dh.LastOutcome)
			if dh.State == agent.StateUnhealthy || dh.State == agent.StateIsolated {
				code = 1
			}
		}
	}
	return code
}
