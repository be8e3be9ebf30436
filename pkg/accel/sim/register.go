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

package sim

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ROCm/device-health-probe/pkg/accel"
)

// EnvConfig configures the registered sim backend, for example
// "devices=2,fail=simMalloc:2,corrupt=5,bandwidth=0.5,delay=simCtxCreate:2s"
const EnvConfig = "HEALTH_PROBE_SIM"

func init() {
	accel.Register(accel.Backend{
		Name: "sim",
		New: func() (accel.Runtime, error) {
			opts, err := ParseOptions(os.Getenv(EnvConfig))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", EnvConfig, err)
			}
			return New(opts...), nil
		},
	})
}

// ParseOptions converts a comma separated key=value list into options
func ParseOptions(cfg string) ([]Option, error) {
	var opts []Option
	for _, field := range strings.Split(cfg, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("invalid field %q", field)
		}
		switch key {
		case "devices":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid device count %q", val)
			}
			opts = append(opts, WithDeviceCount(n))
		case "names":
			opts = append(opts, WithDevices(strings.Split(val, "|")...))
		case "fail":
			call, status, ok := strings.Cut(val, ":")
			if !ok {
				return nil, fmt.Errorf("invalid failure %q, want call:status", val)
			}
			code, err := strconv.Atoi(status)
			if err != nil {
				return nil, fmt.Errorf("invalid status %q", status)
			}
			opts = append(opts, WithFailure(call, code))
		case "corrupt":
			idx, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q", val)
			}
			opts = append(opts, WithCorruption(idx))
		case "bandwidth":
			gbps, err := strconv.ParseFloat(val, 64)
			if err != nil || gbps <= 0 {
				return nil, fmt.Errorf("invalid bandwidth %q", val)
			}
			opts = append(opts, WithBandwidth(gbps))
		case "delay":
			call, d, ok := strings.Cut(val, ":")
			if !ok {
				return nil, fmt.Errorf("invalid delay %q, want call:duration", val)
			}
			dur, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q", d)
			}
			opts = append(opts, WithHook(call, func() { time.Sleep(dur) }))
		default:
			return nil, fmt.Errorf("unknown key %q", key)
		}
	}
	return opts, nil
}
