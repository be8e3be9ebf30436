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

package healthprobe

import (
	"fmt"
	"testing"
	"time"

	"gopkg.in/check.v1"

	"github.com/ROCm/device-health-probe/pkg/accel/sim"
	"github.com/ROCm/device-health-probe/pkg/deadline"
)

const defaultTestTimeout = 30 * time.Second

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) {
	check.TestingT(t)
}

type ProbeSuite struct {
	guard *deadline.Guard
}

var _ = check.Suite(&ProbeSuite{})

func (s *ProbeSuite) SetUpTest(c *check.C) {
	s.guard = deadline.New()
}

func (s *ProbeSuite) TearDownTest(c *check.C) {
	s.guard.Close()
}

func (s *ProbeSuite) run(rt *sim.Runtime, cfg Config) *Result {
	s.guard.Arm(defaultTestTimeout)
	return Run(rt, s.guard, cfg)
}

func smallPCIe() Config {
	cfg := DefaultConfig()
	cfg.Mode = ModePCIe
	cfg.Bandwidth.Bytes = 1 << 20
	cfg.Bandwidth.Clock = stepClock(100 * time.Microsecond)
	return cfg
}

func (s *ProbeSuite) TestHealthyOnEveryDevice(c *check.C) {
	for d := 0; d < 4; d++ {
		rt := sim.New(sim.WithDeviceCount(4))
		cfg := DefaultConfig()
		cfg.Device = d
		res := s.run(rt, cfg)
		c.Check(res.ExitCode, check.Equals, ExitHealthy, check.Commentf("device %d: %v", d, res.Err))
		c.Check(res.Outcome, check.Equals, OutcomeHealthy)
		c.Check(res.Device, check.Equals, d)
		c.Check(res.Runtime, check.Equals, "sim")
		c.Check(res.RunID, check.Not(check.Equals), "")
		c.Check(rt.Balanced(), check.Equals, true)
		c.Check(rt.Acquired(sim.KindHostMemory), check.Equals, 2)
		c.Check(rt.Acquired(sim.KindDeviceMemory), check.Equals, 2)
		c.Check(rt.Acquired(sim.KindStream), check.Equals, 1)
	}
	c.Check(s.guard.Fired(), check.Equals, false)
}

func (s *ProbeSuite) TestCorruptionReportsFirstIndex(c *check.C) {
	for _, idx := range []int{0, 7, 1000, 128*128 - 1} {
		rt := sim.New(sim.WithCorruption(idx+3, idx))
		res := s.run(rt, DefaultConfig())
		c.Check(res.ExitCode, check.Equals, ExitVerificationFail)
		c.Check(res.Outcome, check.Equals, OutcomeVerificationFailed)
		c.Assert(res.Mismatch, check.NotNil)
		c.Check(res.Mismatch.Index, check.Equals, idx)
		c.Check(res.Mismatch.Expected, check.Equals, 1.0)
		c.Check(res.Stage, check.Equals, StageVerification)
		c.Check(rt.Balanced(), check.Equals, true)
	}
}

func (s *ProbeSuite) TestDeviceNotFound(c *check.C) {
	for _, d := range []int{2, 5} {
		rt := sim.New(sim.WithDeviceCount(2))
		cfg := DefaultConfig()
		cfg.Device = d
		res := s.run(rt, cfg)
		c.Check(res.ExitCode, check.Equals, ExitRuntimeError)
		c.Check(res.Outcome, check.Equals, OutcomeDeviceNotFound)
		c.Check(res.Error, check.Equals, fmt.Sprintf("Device %d not found (only 2 devices available)", d))
		c.Check(rt.Acquired(sim.KindContext), check.Equals, 0)
		c.Check(rt.Acquired(sim.KindStream), check.Equals, 0)
		c.Check(rt.Acquired(sim.KindHostMemory), check.Equals, 0)
		c.Check(rt.Balanced(), check.Equals, true)
	}
}

func (s *ProbeSuite) TestRuntimeErrorAtEveryCall(c *check.C) {
	calls := []struct {
		call  string
		stage Stage
	}{
		{sim.CallInit, StageInitialization},
		{sim.CallGetDeviceCount, StageDeviceEnumeration},
		{sim.CallSetDevice, StageDeviceSelection},
		{sim.CallCreateContext, StageContextCreation},
		{sim.CallCreateStream, StageStreamCreation},
		{sim.CallMallocHost, StageHostMemorySetup},
		{sim.CallMalloc, StageDeviceMemoryAlloc},
		{sim.CallMemcpyAsync, StageDeviceOperations},
		{sim.CallStreamSynchronize, StageDeviceOperations},
	}
	for _, tc := range calls {
		rt := sim.New(sim.WithFailure(tc.call, 42))
		res := s.run(rt, DefaultConfig())
		c.Check(res.ExitCode, check.Equals, ExitRuntimeError, check.Commentf(tc.call))
		c.Check(res.Outcome, check.Equals, OutcomeRuntimeError, check.Commentf(tc.call))
		c.Check(res.Stage, check.Equals, tc.stage, check.Commentf(tc.call))
		c.Check(rt.Balanced(), check.Equals, true, check.Commentf("%s: %v", tc.call, rt.Outstanding()))
	}
}

func (s *ProbeSuite) TestPCIeRuntimeErrors(c *check.C) {
	calls := []struct {
		call  string
		stage Stage
	}{
		{sim.CallMallocHost, StagePCIeMemoryAlloc},
		{sim.CallMalloc, StagePCIeMemoryAlloc},
		{sim.CallMemcpy, StageHostToDeviceTransfer},
		{sim.CallDeviceSynchronize, StageHostToDeviceTransfer},
	}
	for _, tc := range calls {
		rt := sim.New(sim.WithFailure(tc.call, 7))
		res := s.run(rt, smallPCIe())
		c.Check(res.ExitCode, check.Equals, ExitRuntimeError, check.Commentf(tc.call))
		c.Check(res.Stage, check.Equals, tc.stage, check.Commentf(tc.call))
		c.Check(rt.Acquired(sim.KindStream), check.Equals, 0)
		c.Check(rt.Balanced(), check.Equals, true, check.Commentf(tc.call))
	}
}

// The deadline tripping inside any runtime call is observed at the next
// stage boundary and everything acquired so far is released.
func (s *ProbeSuite) TestDeadlineAtEveryStage(c *check.C) {
	hooks := []struct {
		call  string
		stage Stage
	}{
		{sim.CallInit, StageInitialization},
		{sim.CallGetDeviceCount, StageDeviceSelection},
		{sim.CallSetDevice, StageDeviceSelection},
		{sim.CallCreateContext, StageContextCreation},
		{sim.CallCreateStream, StageStreamCreation},
		{sim.CallMallocHost, StageHostMemorySetup},
		{sim.CallMalloc, StageDeviceMemoryAlloc},
		{sim.CallMemcpyAsync, StageDeviceOperations},
		{sim.CallStreamSynchronize, StageDeviceOperations},
	}
	for _, tc := range hooks {
		g := deadline.New()
		rt := sim.New(sim.WithHook(tc.call, func() { g.Arm(0) }))
		res := Run(rt, g, DefaultConfig())
		c.Check(res.ExitCode, check.Equals, ExitDeadlineExceeded, check.Commentf(tc.call))
		c.Check(res.Outcome, check.Equals, OutcomeDeadlineExceeded)
		c.Check(res.Stage, check.Equals, tc.stage, check.Commentf(tc.call))
		c.Check(res.Error, check.Equals, "Timeout during "+string(tc.stage))
		c.Check(rt.Balanced(), check.Equals, true, check.Commentf("%s: %v", tc.call, rt.Outstanding()))
		g.Close()
	}
}

// tripOn arms g with a zero deadline on the nth call it is hooked to
func tripOn(g *deadline.Guard, nth int) func() {
	calls := 0
	return func() {
		calls++
		if calls == nth {
			g.Arm(0)
		}
	}
}

func (s *ProbeSuite) TestPCIeDeadlineAtEveryStage(c *check.C) {
	hooks := []struct {
		call  string
		nth   int
		stage Stage
	}{
		{sim.CallInit, 1, StageInitialization},
		{sim.CallGetDeviceCount, 1, StageDeviceSelection},
		{sim.CallCreateContext, 1, StageContextCreation},
		{sim.CallMallocHost, 1, StagePCIeMemoryAlloc},
		{sim.CallMalloc, 1, StagePCIeMemoryAlloc},
		{sim.CallMemcpy, 1, StageHostToDeviceTransfer},
		{sim.CallDeviceSynchronize, 1, StageHostToDeviceTransfer},
		{sim.CallMemcpy, 2, StageDeviceToHostTransfer},
		{sim.CallDeviceSynchronize, 2, StageDeviceToHostTransfer},
	}
	for _, tc := range hooks {
		name := fmt.Sprintf("%s#%d", tc.call, tc.nth)
		g := deadline.New()
		rt := sim.New(sim.WithHook(tc.call, tripOn(g, tc.nth)))
		res := Run(rt, g, smallPCIe())
		c.Check(res.ExitCode, check.Equals, ExitDeadlineExceeded, check.Commentf(name))
		c.Check(res.Outcome, check.Equals, OutcomeDeadlineExceeded, check.Commentf(name))
		c.Check(res.Stage, check.Equals, tc.stage, check.Commentf(name))
		c.Check(res.Error, check.Equals, "Timeout during "+string(tc.stage), check.Commentf(name))
		c.Check(rt.Acquired(sim.KindStream), check.Equals, 0, check.Commentf(name))
		c.Check(rt.Balanced(), check.Equals, true, check.Commentf("%s: %v", name, rt.Outstanding()))
		g.Close()
	}
}

func (s *ProbeSuite) TestZeroTimeout(c *check.C) {
	rt := sim.New()
	s.guard.Arm(0)
	res := Run(rt, s.guard, DefaultConfig())
	c.Check(res.ExitCode, check.Equals, ExitDeadlineExceeded)
	c.Check(res.Stage, check.Equals, StageInitialization)
	c.Check(rt.Acquired(sim.KindDevice), check.Equals, 0)
	c.Check(rt.Balanced(), check.Equals, true)
}

// A hung call is only detected once it returns.
func (s *ProbeSuite) TestHangDetectedAfterReturn(c *check.C) {
	g := deadline.New()
	defer g.Close()
	rt := sim.New(sim.WithHook(sim.CallStreamSynchronize, func() { <-g.Done() }))
	g.Arm(20 * time.Millisecond)
	res := Run(rt, g, DefaultConfig())
	c.Check(res.ExitCode, check.Equals, ExitDeadlineExceeded)
	c.Check(res.Stage, check.Equals, StageDeviceOperations)
	c.Check(rt.Balanced(), check.Equals, true)
}

func (s *ProbeSuite) TestRuntimeErrorBeatsDeadline(c *check.C) {
	g := deadline.New()
	defer g.Close()
	rt := sim.New(
		sim.WithHook(sim.CallCreateContext, func() { g.Arm(0) }),
		sim.WithFailure(sim.CallCreateContext, 3),
	)
	res := Run(rt, g, DefaultConfig())
	c.Check(res.ExitCode, check.Equals, ExitRuntimeError)
	c.Check(rt.Balanced(), check.Equals, true)
}

func (s *ProbeSuite) TestDisarmedOnlyOnSuccess(c *check.C) {
	g := &recordingGuard{}
	Run(sim.New(), g, DefaultConfig())
	c.Check(g.disarmed, check.Equals, 1)

	g = &recordingGuard{}
	Run(sim.New(sim.WithCorruption(1)), g, DefaultConfig())
	c.Check(g.disarmed, check.Equals, 0)
}

func (s *ProbeSuite) TestPCIeHealthy(c *check.C) {
	rt := sim.New()
	res := s.run(rt, smallPCIe())
	c.Check(res.ExitCode, check.Equals, ExitHealthy, check.Commentf("%v", res.Err))
	c.Assert(res.Bandwidth, check.NotNil)
	c.Check(res.Mode, check.Equals, ModePCIe)
	c.Check(rt.Acquired(sim.KindStream), check.Equals, 0)
	c.Check(rt.Balanced(), check.Equals, true)
}

func (s *ProbeSuite) TestPCIeLowBandwidth(c *check.C) {
	rt := sim.New()
	cfg := smallPCIe()
	// 1 MiB in 2s
	cfg.Bandwidth.Clock = stepClock(2 * time.Second)
	res := s.run(rt, cfg)
	c.Check(res.ExitCode, check.Equals, ExitVerificationFail)
	c.Check(res.Outcome, check.Equals, OutcomeLowBandwidth)
	c.Check(res.Mismatch, check.IsNil)
	c.Assert(res.Bandwidth, check.NotNil)
	c.Check(res.Bandwidth.H2DGBps < 1.0, check.Equals, true)
	c.Check(rt.Balanced(), check.Equals, true)
}

func (s *ProbeSuite) TestPCIeCorruption(c *check.C) {
	rt := sim.New(sim.WithCorruption(10))
	res := s.run(rt, smallPCIe())
	c.Check(res.ExitCode, check.Equals, ExitVerificationFail)
	c.Check(res.Outcome, check.Equals, OutcomeVerificationFailed)
	c.Assert(res.Mismatch, check.NotNil)
	c.Check(res.Mismatch.Index, check.Equals, 40)
	c.Check(res.Mismatch.Expected, check.Equals, float64(0xAB))
	c.Check(res.Mismatch.Got, check.Equals, float64(0x54))
	c.Check(rt.Balanced(), check.Equals, true)
}

type recordingGuard struct {
	disarmed int
}

func (g *recordingGuard) Fired() bool { return false }
func (g *recordingGuard) Disarm()     { g.disarmed++ }

// stepClock advances by step on every reading
func stepClock(step time.Duration) func() time.Time {
	now := time.Unix(1700000000, 0)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}
