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

// Package accel abstracts the accelerator runtime API used by the health
// probe. Hardware backends are compiled in with build tags, the sim backend
// is always available.
package accel

import (
	"fmt"
)

// CopyKind direction of a memory transfer
type CopyKind int

const (
	HostToDevice CopyKind = iota
	DeviceToDevice
	DeviceToHost
)

func (k CopyKind) String() string {
	switch k {
	case HostToDevice:
		return "host-to-device"
	case DeviceToDevice:
		return "device-to-device"
	case DeviceToHost:
		return "device-to-host"
	}
	return fmt.Sprintf("copy-kind(%d)", int(k))
}

// Buffer is any runtime-owned memory region
type Buffer interface {
	Size() int
}

// HostBuffer is pinned host memory addressable from Go
type HostBuffer interface {
	Buffer
	Bytes() []byte
}

// DeviceBuffer is memory resident on the accelerator
type DeviceBuffer interface {
	Buffer
}

// Context is an opaque runtime context handle
type Context interface{}

// Stream is an opaque ordered command queue handle
type Stream interface{}

//go:generate mockgen -destination=mock_gen/runtime_mock.go -package=mock_gen github.com/ROCm/device-health-probe/pkg/accel Runtime

// Runtime is the subset of an accelerator runtime API the probes drive.
// Every acquire call has a matching release call, callers own the
// ordering of releases.
type Runtime interface {
	Name() string

	Init() error
	Finalize() error

	DeviceCount() (int, error)
	SetDevice(id int) error
	ResetDevice(id int) error
	// DeviceName returns the marketing name when the runtime exposes one
	DeviceName(id int) (string, bool)

	CreateContext(id int) (Context, error)
	DestroyContext(ctx Context) error

	CreateStream(ctx Context) (Stream, error)
	DestroyStream(s Stream) error

	AllocHost(size int) (HostBuffer, error)
	FreeHost(b HostBuffer) error
	AllocDevice(size int) (DeviceBuffer, error)
	FreeDevice(b DeviceBuffer) error

	// Copy moves size bytes from src to dst, a nil stream copies synchronously
	Copy(dst, src Buffer, size int, kind CopyKind, s Stream) error
	// Synchronize waits on the stream, or on the whole device when s is nil
	Synchronize(s Stream) error
}

// Error is a non-success status returned by a runtime call
type Error struct {
	Call   string
	Status int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed with error code %d", e.Call, e.Status)
}

// NewError returns the error for a failed runtime call
func NewError(call string, status int) *Error {
	return &Error{Call: call, Status: status}
}
