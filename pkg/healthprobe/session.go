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

	"github.com/ROCm/device-health-probe/pkg/accel"
	"github.com/ROCm/device-health-probe/pkg/logger"
)

// State of a runtime session
type State int

const (
	Uninitialized State = iota
	Initialized
	DeviceSelected
	ContextOpen
	StreamOpen
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case DeviceSelected:
		return "DeviceSelected"
	case ContextOpen:
		return "ContextOpen"
	case StreamOpen:
		return "StreamOpen"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Deadline is the view of the deadline guard a session needs
type Deadline interface {
	Fired() bool
}

type release struct {
	name string
	fn   func() error
}

// Session owns every resource acquired from the runtime during one run.
// Each acquisition registers its release right away, Teardown runs them
// in reverse order. A session is not safe for concurrent use.
type Session struct {
	rt       accel.Runtime
	deadline Deadline
	state    State
	device   int
	ctx      accel.Context
	stream   accel.Stream
	releases []release
}

// NewSession returns an uninitialized session on rt
func NewSession(rt accel.Runtime, deadline Deadline) *Session {
	return &Session{
		rt:       rt,
		deadline: deadline,
		device:   -1,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.state
}

// Runtime returns the runtime the session drives
func (s *Session) Runtime() accel.Runtime {
	return s.rt
}

// Device returns the selected device index, -1 before selection
func (s *Session) Device() int {
	return s.device
}

// Stream returns the open stream, nil when none was created
func (s *Session) Stream() accel.Stream {
	return s.stream
}

// Checkpoint reports a deadline error when the guard has fired
func (s *Session) Checkpoint(stage Stage) error {
	if s.deadline != nil && s.deadline.Fired() {
		return &DeadlineExceededError{Stage: stage}
	}
	return nil
}

func (s *Session) advance(to State, stage Stage) error {
	s.state = to
	return s.Checkpoint(stage)
}

func (s *Session) expect(want State) error {
	if s.state != want {
		return fmt.Errorf("session in state %v, expected %v", s.state, want)
	}
	return nil
}

func (s *Session) push(name string, fn func() error) {
	s.releases = append(s.releases, release{name: name, fn: fn})
}

// Initialize brings up the runtime
func (s *Session) Initialize() error {
	if err := s.expect(Uninitialized); err != nil {
		return err
	}
	if err := s.rt.Init(); err != nil {
		return &RuntimeError{Stage: StageInitialization, Err: err}
	}
	s.push("runtime finalize", s.rt.Finalize)
	return s.advance(Initialized, StageInitialization)
}

// SelectDevice validates id against the device count and binds the
// process to it. An out of range id acquires nothing.
func (s *Session) SelectDevice(id int) error {
	if err := s.expect(Initialized); err != nil {
		return err
	}
	count, err := s.rt.DeviceCount()
	if err != nil {
		return &RuntimeError{Stage: StageDeviceEnumeration, Err: err}
	}
	if id < 0 || id >= count {
		return &DeviceNotFoundError{ID: id, Count: count}
	}
	if err := s.rt.SetDevice(id); err != nil {
		return &RuntimeError{Stage: StageDeviceSelection, Err: err}
	}
	s.device = id
	s.push("device reset", func() error { return s.rt.ResetDevice(id) })
	return s.advance(DeviceSelected, StageDeviceSelection)
}

// DeviceName returns the runtime-reported name of the selected device
func (s *Session) DeviceName() (string, bool) {
	if s.device < 0 {
		return "", false
	}
	return s.rt.DeviceName(s.device)
}

// OpenContext creates an execution context on the selected device
func (s *Session) OpenContext() error {
	if err := s.expect(DeviceSelected); err != nil {
		return err
	}
	ctx, err := s.rt.CreateContext(s.device)
	if err != nil {
		return &RuntimeError{Stage: StageContextCreation, Err: err}
	}
	s.ctx = ctx
	s.push("context destroy", func() error { return s.rt.DestroyContext(ctx) })
	return s.advance(ContextOpen, StageContextCreation)
}

// OpenStream creates the stream used by the memory probe
func (s *Session) OpenStream() error {
	if err := s.expect(ContextOpen); err != nil {
		return err
	}
	st, err := s.rt.CreateStream(s.ctx)
	if err != nil {
		return &RuntimeError{Stage: StageStreamCreation, Err: err}
	}
	s.stream = st
	s.push("stream destroy", func() error { return s.rt.DestroyStream(st) })
	return s.advance(StreamOpen, StageStreamCreation)
}

// AllocHost allocates pinned host memory owned by the session
func (s *Session) AllocHost(size int, stage Stage) (accel.HostBuffer, error) {
	b, err := s.rt.AllocHost(size)
	if err != nil {
		return nil, &RuntimeError{Stage: stage, Err: err}
	}
	s.push("host free", func() error { return s.rt.FreeHost(b) })
	return b, nil
}

// AllocDevice allocates device memory owned by the session
func (s *Session) AllocDevice(size int, stage Stage) (accel.DeviceBuffer, error) {
	b, err := s.rt.AllocDevice(size)
	if err != nil {
		return nil, &RuntimeError{Stage: stage, Err: err}
	}
	s.push("device free", func() error { return s.rt.FreeDevice(b) })
	return b, nil
}

// Scope marks the current top of the release stack
type Scope struct {
	s    *Session
	mark int
}

// Scope opens a nested scope, Close releases everything acquired after it
func (s *Session) Scope() Scope {
	return Scope{s: s, mark: len(s.releases)}
}

// Close releases resources acquired inside the scope in reverse order
func (sc Scope) Close() {
	sc.s.unwind(sc.mark)
}

func (s *Session) unwind(mark int) {
	for len(s.releases) > mark {
		r := s.releases[len(s.releases)-1]
		s.releases = s.releases[:len(s.releases)-1]
		if err := r.fn(); err != nil {
			logger.Log.Printf("%s failed during cleanup: %v", r.name, err)
		}
	}
}

// Teardown releases every outstanding resource in reverse acquisition
// order. Release failures are logged and do not stop later releases.
// Calling it again is a no-op.
func (s *Session) Teardown() {
	s.unwind(0)
	s.ctx = nil
	s.stream = nil
	s.state = Closed
}
