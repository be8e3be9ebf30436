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

package globals

import "time"

const (
	// DefaultDeviceID device probed when -d is not given
	DefaultDeviceID = 0

	// DefaultTimeoutSeconds wall-clock bound of one probe invocation
	DefaultTimeoutSeconds = 5

	// MatrixSize edge length of the square float32 matrix used by the memory probe
	MatrixSize = 128

	// MatrixSentinel value written into the source matrix, exactly representable
	MatrixSentinel float32 = 1.0

	// MatrixTolerance absolute tolerance when comparing the copied matrix
	MatrixTolerance float32 = 0.001

	// PCIeTransferBytes buffer size of the bandwidth probe (64 MiB)
	PCIeTransferBytes = 64 * 1024 * 1024

	// PCIeFillByte pattern written into the bandwidth probe host buffer
	PCIeFillByte byte = 0xAB

	// PCIeMinBandwidthGBps below this either direction is reported as degraded
	PCIeMinBandwidthGBps = 1.0

	LogPrefix      = "health-probe "
	AgentLogPrefix = "probe-agent "

	// probe-agent defaults
	AgentConfigPath          = "/etc/health-probe/agent.json"
	AgentListenPort          = 5010
	AgentBindAddress         = "0.0.0.0"
	DefaultProbePath         = "/usr/local/bin/health-probe"
	DefaultAgentLogDir       = "/var/log/health-probe"
	DefaultAgentLogSubPath   = "probe-agent.log"
	DefaultStatusDBSubPath   = "status.db"
	DefaultProbeInterval     = 5 * time.Minute
	DefaultPCIeInterval      = 24 * time.Hour
	DefaultProbeTimeout      = 5 * time.Second
	DefaultKillGrace         = 5 * time.Second
	DefaultFailureThreshold  = 3
	DefaultRecoveryThreshold = 3
	DefaultBandwidthWindow   = 16

	// isolation defaults
	DefaultTaintKey    = "healthprobe.amd.com/device-health"
	DefaultTaintValue  = "failed"
	DefaultTaintEffect = "NoSchedule"

	// PodResourceSocket - k8s pod grpc socket, presence means we run on a k8s node
	PodResourceSocket = "/var/lib/kubelet/pod-resources/kubelet.sock"

	EventSourceComponentName = "health-probe-agent"

	// ConfigDebounce delay before a changed agent config is reloaded
	ConfigDebounce = 3 * time.Second
)
