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
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/prometheus/common/version"

	"github.com/ROCm/device-health-probe/pkg/accel"
	_ "github.com/ROCm/device-health-probe/pkg/accel/acl"
	_ "github.com/ROCm/device-health-probe/pkg/accel/hip"
	_ "github.com/ROCm/device-health-probe/pkg/accel/sim"
	"github.com/ROCm/device-health-probe/pkg/deadline"
	"github.com/ROCm/device-health-probe/pkg/globals"
	"github.com/ROCm/device-health-probe/pkg/healthprobe"
	"github.com/ROCm/device-health-probe/pkg/logger"
	"github.com/ROCm/device-health-probe/pkg/metrics"
	"github.com/ROCm/device-health-probe/pkg/utils"
)

var (
	Version   string
	BuildDate string
	GitCommit string
)

// maxTimeoutSeconds is the largest -t that still fits a time.Duration
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

var (
	openRuntime = accel.Open
	exit        = os.Exit
)

const usageText = `Usage: health-probe [-d device_id] [-t timeout_seconds] [-v] [-h] [--pcie-test]

Options:
  -d                   Device ID to test (default: 0)
  -t                   Timeout in seconds (default: 5, 0 expires at once instead of disabling the timeout)
  -v                   Verbose output
  -h                   Show this help
  --pcie-test          Run PCIe bandwidth test
  -runtime name        Accelerator runtime backend (default: first compiled-in hardware backend)
  -json                Print the result as JSON on stdout
  -metrics-textfile p  Write Prometheus metrics to the textfile p
  -pushgateway url     Push Prometheus metrics to the pushgateway at url
  -watchdog-grace d    Kill the process d after the timeout if it is still running (default: off)
  -version             Show version

Exit codes:
  0  device healthy
  1  runtime error or device not found
  2  verification failure or low PCIe bandwidth
  3  timeout
`

func main() {
	exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		switch a {
		case "-h", "--h", "-help", "--help":
			return true
		}
	}
	return false
}

func run(args []string, stdout, stderr io.Writer) int {
	if wantsHelp(args) {
		fmt.Fprint(stdout, usageText)
		return 0
	}

	fs := flag.NewFlagSet("health-probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }
	var (
		deviceID    = fs.Int("d", globals.DefaultDeviceID, "Device ID to test")
		timeoutSec  = fs.Int("t", globals.DefaultTimeoutSeconds, "Timeout in seconds")
		verbose     = fs.Bool("v", false, "Verbose output")
		pcieTest    = fs.Bool("pcie-test", false, "Run PCIe bandwidth test")
		runtimeName = fs.String("runtime", "", "Accelerator runtime backend")
		jsonOut     = fs.Bool("json", false, "Print the result as JSON")
		textfile    = fs.String("metrics-textfile", "", "Prometheus textfile path")
		pushgateway = fs.String("pushgateway", "", "Prometheus pushgateway url")
		grace       = fs.Duration("watchdog-grace", 0, "Watchdog grace period after the timeout")
		versionOpt  = fs.Bool("version", false, "show version")
	)
	if err := fs.Parse(args); err != nil {
		return healthprobe.ExitRuntimeError
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "Error: unexpected argument %q\n", fs.Arg(0))
		fs.Usage()
		return healthprobe.ExitRuntimeError
	}
	if *timeoutSec < 0 {
		fmt.Fprintf(stderr, "Error: invalid timeout %d, must not be negative\n", *timeoutSec)
		return healthprobe.ExitRuntimeError
	}
	if int64(*timeoutSec) > maxTimeoutSeconds {
		fmt.Fprintf(stderr, "Error: invalid timeout %d, must not exceed %d\n", *timeoutSec, maxTimeoutSeconds)
		return healthprobe.ExitRuntimeError
	}

	if *versionOpt {
		version.Version = Version
		version.BuildDate = BuildDate
		version.Revision = GitCommit
		fmt.Fprintln(stdout, version.Print("health-probe"))
		return 0
	}

	logger.SetLogPrefix(globals.LogPrefix)
	logger.Init(true)

	rt, err := openRuntime(*runtimeName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return healthprobe.ExitRuntimeError
	}

	timeout := time.Duration(*timeoutSec) * time.Second
	guard := deadline.New()
	if *grace > 0 {
		guard.WithWatchdog(*grace, func() {
			fmt.Fprintf(stderr, "watchdog: process still running %v after the %v timeout, terminating\n", *grace, timeout)
			exit(healthprobe.ExitDeadlineExceeded)
		})
	}
	defer guard.Close()

	cfg := healthprobe.DefaultConfig()
	cfg.Device = *deviceID
	if *pcieTest {
		cfg.Mode = healthprobe.ModePCIe
	}
	rep := &healthprobe.Reporter{Out: stdout, Err: stderr, Verbose: *verbose, JSON: *jsonOut}
	rep.Start(cfg, timeout)

	// armed right before the first runtime call
	guard.Arm(timeout)
	res := healthprobe.Run(rt, guard, cfg)
	code := rep.Report(res)

	exportMetrics(res, *textfile, *pushgateway)
	return code
}

// exportMetrics never changes the exit code
func exportMetrics(res *healthprobe.Result, textfile, pushgateway string) {
	if textfile == "" && pushgateway == "" {
		return
	}
	mh := metrics.NewProbeMetrics()
	mh.Record(res)
	if textfile != "" {
		if err := mh.WriteTextfile(textfile); err != nil {
			logger.Log.Printf("%v", err)
		}
	}
	if pushgateway != "" {
		if err := mh.Push(pushgateway, instanceName()); err != nil {
			logger.Log.Printf("%v", err)
		}
	}
}

func instanceName() string {
	if name := utils.GetNodeName(); name != "" {
		return name
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
