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
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ROCm/device-health-probe/pkg/accel"
)

// Mode selects which probe a run executes
type Mode string

const (
	ModeMemory Mode = "memory"
	ModePCIe   Mode = "pcie"
)

// Config of one probe run
type Config struct {
	Device    int
	Mode      Mode
	Memory    MemoryProbe
	Bandwidth BandwidthProbe
}

// DefaultConfig probes device 0 with the memory probe
func DefaultConfig() Config {
	return Config{
		Mode:      ModeMemory,
		Memory:    DefaultMemoryProbe(),
		Bandwidth: DefaultBandwidthProbe(),
	}
}

// Guard is the deadline guard driving a run
type Guard interface {
	Deadline
	Disarm()
}

// Mismatch locates the first element that failed verification
type Mismatch struct {
	Index    int     `json:"index"`
	Expected float64 `json:"expected"`
	Got      float64 `json:"got"`
}

// Result of one probe run
type Result struct {
	RunID           string           `json:"runId"`
	Runtime         string           `json:"runtime"`
	Mode            Mode             `json:"mode"`
	Device          int              `json:"device"`
	DeviceName      string           `json:"deviceName,omitempty"`
	Outcome         Outcome          `json:"outcome"`
	ExitCode        int              `json:"exitCode"`
	Stage           Stage            `json:"stage,omitempty"`
	Error           string           `json:"error,omitempty"`
	Mismatch        *Mismatch        `json:"mismatch,omitempty"`
	Bandwidth       *BandwidthResult `json:"bandwidth,omitempty"`
	StartedAt       time.Time        `json:"startedAt"`
	DurationSeconds float64          `json:"durationSeconds"`

	// Err is the terminal error, nil when healthy
	Err error `json:"-"`
}

// Run drives one full probe: session bring-up, the configured probe and
// teardown. The guard must already be armed. It is disarmed only when the
// probe passed, before teardown.
func Run(rt accel.Runtime, guard Guard, cfg Config) *Result {
	res := &Result{
		RunID:     uuid.NewString(),
		Runtime:   rt.Name(),
		Mode:      cfg.Mode,
		Device:    cfg.Device,
		StartedAt: time.Now(),
	}
	s := NewSession(rt, guard)
	defer s.Teardown()

	err := run(s, cfg, res)
	if err == nil {
		guard.Disarm()
	}
	s.Teardown()
	res.finish(err)
	return res
}

func run(s *Session, cfg Config, res *Result) error {
	if err := s.Initialize(); err != nil {
		return err
	}
	if err := s.SelectDevice(cfg.Device); err != nil {
		return err
	}
	if name, ok := s.DeviceName(); ok {
		res.DeviceName = name
	}
	if err := s.OpenContext(); err != nil {
		return err
	}
	if cfg.Mode == ModePCIe {
		bw, err := cfg.Bandwidth.Run(s)
		res.Bandwidth = bw
		return err
	}
	if err := s.OpenStream(); err != nil {
		return err
	}
	return cfg.Memory.Run(s)
}

func (r *Result) finish(err error) {
	r.DurationSeconds = time.Since(r.StartedAt).Seconds()
	r.Err = err
	r.Outcome = Classify(err)
	r.ExitCode = r.Outcome.ExitCode()
	if err == nil {
		return
	}
	r.Stage = StageOf(err)
	r.Error = err.Error()
	var verr *VerificationError
	if errors.As(err, &verr) {
		r.Mismatch = &Mismatch{Index: verr.Index, Expected: verr.Expected, Got: verr.Got}
	}
}
