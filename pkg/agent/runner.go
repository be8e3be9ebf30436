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

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ROCm/device-health-probe/pkg/healthprobe"
	"github.com/ROCm/device-health-probe/pkg/logger"
)

// ErrProbeNotFound is returned when the probe binary is missing, the run is skipped
var ErrProbeNotFound = errors.New("probe binary not found")

// ProbeRequest describes one probe invocation
type ProbeRequest struct {
	Device       int
	Mode         healthprobe.Mode
	Runtime      string
	ProbeTimeout time.Duration
	KillGrace    time.Duration
}

// Args builds the probe command line
func (r ProbeRequest) Args() []string {
	args := []string{
		"-d", strconv.Itoa(r.Device),
		"-t", strconv.Itoa(timeoutSeconds(r.ProbeTimeout)),
		"-json",
	}
	if r.Mode == healthprobe.ModePCIe {
		args = append(args, "--pcie-test")
	}
	if r.Runtime != "" {
		args = append(args, "-runtime", r.Runtime)
	}
	return args
}

// timeoutSeconds rounds up, the probe takes whole seconds
func timeoutSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// RunResult is the result of one probe invocation
type RunResult struct {
	Result   *healthprobe.Result
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Runner runs the probe for a device
type Runner interface {
	Run(ctx context.Context, req ProbeRequest) (*RunResult, error)
}

// ROption fills the optional params for the exec runner
type ROption func(*ExecRunner)

// RunnerWithEnv adds environment variables to the probe process
func RunnerWithEnv(env ...string) ROption {
	return func(r *ExecRunner) {
		r.env = append(r.env, env...)
	}
}

// ExecRunner runs the probe binary as a child process
type ExecRunner struct {
	sync.Mutex
	probePath string
	env       []string
}

func NewExecRunner(probePath string, opts ...ROption) *ExecRunner {
	r := &ExecRunner{probePath: probePath}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetProbePath switches the probe binary used by later runs
func (r *ExecRunner) SetProbePath(probePath string) {
	r.Lock()
	defer r.Unlock()
	r.probePath = probePath
}

func (r *ExecRunner) Run(ctx context.Context, req ProbeRequest) (*RunResult, error) {
	r.Lock()
	probePath := r.probePath
	r.Unlock()
	if info, err := os.Stat(probePath); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %v", ErrProbeNotFound, probePath)
	}

	args := req.Args()
	timeout := req.ProbeTimeout + req.KillGrace
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, probePath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	logger.Log.Printf("cmd %v args: %+v", probePath, args)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	// agent shutdown, not a probe failure
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out := &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Log.Printf("cmd %v device %v timed out after %v, killed", probePath, req.Device, timeout)
		out.TimedOut = true
		out.ExitCode = healthprobe.ExitDeadlineExceeded
		out.Result = synthesize(req, start, elapsed, healthprobe.OutcomeDeadlineExceeded,
			fmt.Sprintf("probe did not exit within %v", timeout))
		return out, nil
	}

	res, perr := parseResult(stdout.Bytes())
	if perr != nil {
		msg := fmt.Sprintf("unreadable probe output: %v", perr)
		if err != nil {
			msg = fmt.Sprintf("probe exited with %v, %v", err, msg)
		}
		logger.Log.Printf("cmd %v device %v: %v", probePath, req.Device, msg)
		out.Result = synthesize(req, start, elapsed, healthprobe.OutcomeRuntimeError, msg)
		return out, nil
	}
	if res.ExitCode != out.ExitCode {
		logger.Log.Printf("cmd %v device %v exit code %v does not match reported %v", probePath, req.Device, out.ExitCode, res.ExitCode)
	}
	out.Result = res
	return out, nil
}

func parseResult(data []byte) (*healthprobe.Result, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty output")
	}
	res := &healthprobe.Result{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, err
	}
	if res.Outcome == "" {
		return nil, fmt.Errorf("missing outcome")
	}
	return res, nil
}

// synthesize builds the result of a run that produced none
func synthesize(req ProbeRequest, start time.Time, elapsed time.Duration, outcome healthprobe.Outcome, msg string) *healthprobe.Result {
	return &healthprobe.Result{
		RunID:           uuid.NewString(),
		Runtime:         req.Runtime,
		Mode:            req.Mode,
		Device:          req.Device,
		Outcome:         outcome,
		ExitCode:        outcome.ExitCode(),
		Error:           msg,
		StartedAt:       start,
		DurationSeconds: elapsed.Seconds(),
	}
}
