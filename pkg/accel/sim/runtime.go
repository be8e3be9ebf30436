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

// Package sim is an in-memory accelerator runtime. It keeps a ledger of
// every acquired resource and supports fault, hang and corruption injection.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/ROCm/device-health-probe/pkg/accel"
)

// Runtime call names, used for failure and hook injection
const (
	CallInit              = "simInit"
	CallFinalize          = "simFinalize"
	CallGetDeviceCount    = "simGetDeviceCount"
	CallSetDevice         = "simSetDevice"
	CallResetDevice       = "simResetDevice"
	CallCreateContext     = "simCtxCreate"
	CallDestroyContext    = "simCtxDestroy"
	CallCreateStream      = "simStreamCreate"
	CallDestroyStream     = "simStreamDestroy"
	CallMallocHost        = "simMallocHost"
	CallFreeHost          = "simFreeHost"
	CallMalloc            = "simMalloc"
	CallFree              = "simFree"
	CallMemcpy            = "simMemcpy"
	CallMemcpyAsync       = "simMemcpyAsync"
	CallStreamSynchronize = "simStreamSynchronize"
	CallDeviceSynchronize = "simDeviceSynchronize"
)

// Status codes, numbered like the common vendor runtimes
const (
	StatusInvalidValue   = 1
	StatusOutOfMemory    = 2
	StatusNotInitialized = 3
	StatusInvalidDevice  = 101
	StatusInvalidHandle  = 400
)

// Kind groups ledger entries by resource type
type Kind string

const (
	KindRuntime      Kind = "runtime"
	KindDevice       Kind = "device"
	KindContext      Kind = "context"
	KindStream       Kind = "stream"
	KindHostMemory   Kind = "host-memory"
	KindDeviceMemory Kind = "device-memory"
)

var kinds = []Kind{KindRuntime, KindDevice, KindContext, KindStream, KindHostMemory, KindDeviceMemory}

type handle struct {
	id   uint64
	kind Kind
}

type simContext struct {
	handle
	device int
}

type stream struct {
	handle
}

type hostBuffer struct {
	handle
	data []byte
}

func (b *hostBuffer) Size() int     { return len(b.data) }
func (b *hostBuffer) Bytes() []byte { return b.data }

type deviceBuffer struct {
	handle
	data []byte
}

func (b *deviceBuffer) Size() int { return len(b.data) }

// Runtime is a simulated accelerator runtime, safe for concurrent use
type Runtime struct {
	sync.Mutex
	devices     []string
	failures    map[string]int
	hooks       map[string]func()
	corrupt     []int
	bandwidth   float64
	memoryLimit int

	nextID          uint64
	live            map[uint64]Kind
	acquired        map[Kind]int
	released        map[Kind]int
	invalidReleases int
	calls           []string
	initialized     bool
	deviceMemory    int
}

var _ accel.Runtime = (*Runtime)(nil)

// Option configures a simulated runtime
type Option func(*Runtime)

// WithDevices sets the device names, one entry per device
func WithDevices(names ...string) Option {
	return func(r *Runtime) {
		r.devices = append([]string{}, names...)
	}
}

// WithDeviceCount creates n anonymous devices
func WithDeviceCount(n int) Option {
	return func(r *Runtime) {
		r.devices = make([]string, n)
		for i := range r.devices {
			r.devices[i] = fmt.Sprintf("Simulated Accelerator %d", i)
		}
	}
}

// WithFailure makes call return status instead of succeeding. Release
// calls still release the resource before reporting the failure.
func WithFailure(call string, status int) Option {
	return func(r *Runtime) {
		r.failures[call] = status
	}
}

// WithHook runs fn on entry to call, before any failure injection. A hook
// that blocks simulates a wedged driver.
func WithHook(call string, fn func()) Option {
	return func(r *Runtime) {
		r.hooks[call] = fn
	}
}

// WithCorruption flips the bits of the float32 element at each index in
// every device-to-host transfer that covers it
func WithCorruption(indexes ...int) Option {
	return func(r *Runtime) {
		r.corrupt = append(r.corrupt, indexes...)
	}
}

// WithBandwidth throttles every copy to the given GB/s
func WithBandwidth(gbps float64) Option {
	return func(r *Runtime) {
		r.bandwidth = gbps
	}
}

// WithMemoryLimit caps outstanding device memory in bytes
func WithMemoryLimit(bytes int) Option {
	return func(r *Runtime) {
		r.memoryLimit = bytes
	}
}

// New returns a simulated runtime with one device unless configured otherwise
func New(opts ...Option) *Runtime {
	r := &Runtime{
		failures: map[string]int{},
		hooks:    map[string]func(){},
		live:     map[uint64]Kind{},
		acquired: map[Kind]int{},
		released: map[Kind]int{},
	}
	WithDeviceCount(1)(r)
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runtime) Name() string {
	return "sim"
}

// enter records the call, runs its hook outside the lock and reports an
// injected failure
func (r *Runtime) enter(call string) error {
	r.Lock()
	r.calls = append(r.calls, call)
	hook := r.hooks[call]
	r.Unlock()
	if hook != nil {
		hook()
	}
	r.Lock()
	defer r.Unlock()
	if status, ok := r.failures[call]; ok {
		return accel.NewError(call, status)
	}
	return nil
}

func (r *Runtime) acquire(kind Kind) handle {
	r.nextID++
	r.live[r.nextID] = kind
	r.acquired[kind]++
	return handle{id: r.nextID, kind: kind}
}

func (r *Runtime) release(call string, h handle) error {
	if k, ok := r.live[h.id]; !ok || k != h.kind {
		r.invalidReleases++
		return accel.NewError(call, StatusInvalidHandle)
	}
	delete(r.live, h.id)
	r.released[h.kind]++
	return nil
}

func (r *Runtime) Init() error {
	if err := r.enter(CallInit); err != nil {
		return err
	}
	r.Lock()
	defer r.Unlock()
	r.initialized = true
	r.acquire(KindRuntime)
	return nil
}

func (r *Runtime) Finalize() error {
	injected := r.enter(CallFinalize)
	r.Lock()
	defer r.Unlock()
	found := false
	for id, k := range r.live {
		if k == KindRuntime {
			delete(r.live, id)
			r.released[KindRuntime]++
			found = true
			break
		}
	}
	if !found {
		r.invalidReleases++
		return accel.NewError(CallFinalize, StatusNotInitialized)
	}
	if r.acquired[KindRuntime] == r.released[KindRuntime] {
		r.initialized = false
	}
	return injected
}

func (r *Runtime) DeviceCount() (int, error) {
	if err := r.enter(CallGetDeviceCount); err != nil {
		return 0, err
	}
	r.Lock()
	defer r.Unlock()
	if !r.initialized {
		return 0, accel.NewError(CallGetDeviceCount, StatusNotInitialized)
	}
	return len(r.devices), nil
}

func (r *Runtime) SetDevice(id int) error {
	if err := r.enter(CallSetDevice); err != nil {
		return err
	}
	r.Lock()
	defer r.Unlock()
	if id < 0 || id >= len(r.devices) {
		return accel.NewError(CallSetDevice, StatusInvalidDevice)
	}
	r.acquire(KindDevice)
	return nil
}

func (r *Runtime) ResetDevice(id int) error {
	injected := r.enter(CallResetDevice)
	r.Lock()
	defer r.Unlock()
	for hid, k := range r.live {
		if k == KindDevice {
			delete(r.live, hid)
			r.released[KindDevice]++
			return injected
		}
	}
	r.invalidReleases++
	return accel.NewError(CallResetDevice, StatusInvalidDevice)
}

func (r *Runtime) DeviceName(id int) (string, bool) {
	r.Lock()
	defer r.Unlock()
	if id < 0 || id >= len(r.devices) || r.devices[id] == "" {
		return "", false
	}
	return r.devices[id], true
}

func (r *Runtime) CreateContext(id int) (accel.Context, error) {
	if err := r.enter(CallCreateContext); err != nil {
		return nil, err
	}
	r.Lock()
	defer r.Unlock()
	if id < 0 || id >= len(r.devices) {
		return nil, accel.NewError(CallCreateContext, StatusInvalidDevice)
	}
	return &simContext{handle: r.acquire(KindContext), device: id}, nil
}

func (r *Runtime) DestroyContext(ctx accel.Context) error {
	injected := r.enter(CallDestroyContext)
	r.Lock()
	defer r.Unlock()
	c, ok := ctx.(*simContext)
	if !ok {
		r.invalidReleases++
		return accel.NewError(CallDestroyContext, StatusInvalidHandle)
	}
	if err := r.release(CallDestroyContext, c.handle); err != nil {
		return err
	}
	return injected
}

func (r *Runtime) CreateStream(ctx accel.Context) (accel.Stream, error) {
	if err := r.enter(CallCreateStream); err != nil {
		return nil, err
	}
	r.Lock()
	defer r.Unlock()
	c, ok := ctx.(*simContext)
	if !ok || r.live[c.id] != KindContext {
		return nil, accel.NewError(CallCreateStream, StatusInvalidHandle)
	}
	return &stream{handle: r.acquire(KindStream)}, nil
}

func (r *Runtime) DestroyStream(s accel.Stream) error {
	injected := r.enter(CallDestroyStream)
	r.Lock()
	defer r.Unlock()
	st, ok := s.(*stream)
	if !ok {
		r.invalidReleases++
		return accel.NewError(CallDestroyStream, StatusInvalidHandle)
	}
	if err := r.release(CallDestroyStream, st.handle); err != nil {
		return err
	}
	return injected
}

func (r *Runtime) AllocHost(size int) (accel.HostBuffer, error) {
	if err := r.enter(CallMallocHost); err != nil {
		return nil, err
	}
	r.Lock()
	defer r.Unlock()
	if size <= 0 {
		return nil, accel.NewError(CallMallocHost, StatusInvalidValue)
	}
	return &hostBuffer{handle: r.acquire(KindHostMemory), data: make([]byte, size)}, nil
}

func (r *Runtime) FreeHost(b accel.HostBuffer) error {
	injected := r.enter(CallFreeHost)
	r.Lock()
	defer r.Unlock()
	hb, ok := b.(*hostBuffer)
	if !ok {
		r.invalidReleases++
		return accel.NewError(CallFreeHost, StatusInvalidHandle)
	}
	if err := r.release(CallFreeHost, hb.handle); err != nil {
		return err
	}
	return injected
}

func (r *Runtime) AllocDevice(size int) (accel.DeviceBuffer, error) {
	if err := r.enter(CallMalloc); err != nil {
		return nil, err
	}
	r.Lock()
	defer r.Unlock()
	if size <= 0 {
		return nil, accel.NewError(CallMalloc, StatusInvalidValue)
	}
	if r.memoryLimit > 0 && r.deviceMemory+size > r.memoryLimit {
		return nil, accel.NewError(CallMalloc, StatusOutOfMemory)
	}
	r.deviceMemory += size
	return &deviceBuffer{handle: r.acquire(KindDeviceMemory), data: make([]byte, size)}, nil
}

func (r *Runtime) FreeDevice(b accel.DeviceBuffer) error {
	injected := r.enter(CallFree)
	r.Lock()
	defer r.Unlock()
	db, ok := b.(*deviceBuffer)
	if !ok {
		r.invalidReleases++
		return accel.NewError(CallFree, StatusInvalidHandle)
	}
	if err := r.release(CallFree, db.handle); err != nil {
		return err
	}
	r.deviceMemory -= db.Size()
	return injected
}

func bufferBytes(b accel.Buffer) ([]byte, uint64, bool) {
	switch v := b.(type) {
	case *hostBuffer:
		return v.data, v.id, true
	case *deviceBuffer:
		return v.data, v.id, true
	}
	return nil, 0, false
}

func (r *Runtime) Copy(dst, src accel.Buffer, size int, kind accel.CopyKind, s accel.Stream) error {
	call := CallMemcpy
	if s != nil {
		call = CallMemcpyAsync
	}
	if err := r.enter(call); err != nil {
		return err
	}
	r.Lock()
	if s != nil {
		st, ok := s.(*stream)
		if !ok || r.live[st.id] != KindStream {
			r.Unlock()
			return accel.NewError(call, StatusInvalidHandle)
		}
	}
	if !r.directionMatches(dst, src, kind) {
		r.Unlock()
		return accel.NewError(call, StatusInvalidValue)
	}
	d, dstID, _ := bufferBytes(dst)
	sb, srcID, _ := bufferBytes(src)
	if _, ok := r.live[dstID]; !ok {
		r.Unlock()
		return accel.NewError(call, StatusInvalidHandle)
	}
	if _, ok := r.live[srcID]; !ok {
		r.Unlock()
		return accel.NewError(call, StatusInvalidHandle)
	}
	if size < 0 || size > len(d) || size > len(sb) {
		r.Unlock()
		return accel.NewError(call, StatusInvalidValue)
	}
	copy(d[:size], sb[:size])
	if kind == accel.DeviceToHost {
		for _, idx := range r.corrupt {
			off := idx * 4
			if idx >= 0 && off+4 <= size {
				for i := off; i < off+4; i++ {
					d[i] = ^d[i]
				}
			}
		}
	}
	gbps := r.bandwidth
	r.Unlock()

	if gbps > 0 {
		time.Sleep(time.Duration(float64(size) / (gbps * (1 << 30)) * float64(time.Second)))
	}
	return nil
}

func (r *Runtime) directionMatches(dst, src accel.Buffer, kind accel.CopyKind) bool {
	_, dstHost := dst.(*hostBuffer)
	_, dstDev := dst.(*deviceBuffer)
	_, srcHost := src.(*hostBuffer)
	_, srcDev := src.(*deviceBuffer)
	switch kind {
	case accel.HostToDevice:
		return srcHost && dstDev
	case accel.DeviceToDevice:
		return srcDev && dstDev
	case accel.DeviceToHost:
		return srcDev && dstHost
	}
	return false
}

func (r *Runtime) Synchronize(s accel.Stream) error {
	if s == nil {
		return r.enter(CallDeviceSynchronize)
	}
	if err := r.enter(CallStreamSynchronize); err != nil {
		return err
	}
	r.Lock()
	defer r.Unlock()
	st, ok := s.(*stream)
	if !ok || r.live[st.id] != KindStream {
		return accel.NewError(CallStreamSynchronize, StatusInvalidHandle)
	}
	return nil
}
