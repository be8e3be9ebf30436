//go:build hip && cgo

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

package hip

/*
#cgo CFLAGS: -I/opt/rocm/include -D__HIP_PLATFORM_AMD__
#cgo LDFLAGS: -L/opt/rocm/lib -lamdhip64

#include <hip/hip_runtime_api.h>
#include <stdlib.h>

static int hp_init(void) { return (int)hipInit(0); }
static int hp_device_count(int *n) { return (int)hipGetDeviceCount(n); }
static int hp_set_device(int id) { return (int)hipSetDevice(id); }
static int hp_reset_device(void) { return (int)hipDeviceReset(); }
static int hp_device_name(int id, char *buf, int len) { return (int)hipDeviceGetName(buf, len, id); }
static int hp_ctx_create(hipCtx_t *ctx, int id) { return (int)hipCtxCreate(ctx, 0, id); }
static int hp_ctx_destroy(hipCtx_t ctx) { return (int)hipCtxDestroy(ctx); }
static int hp_stream_create(hipStream_t *s) { return (int)hipStreamCreate(s); }
static int hp_stream_destroy(hipStream_t s) { return (int)hipStreamDestroy(s); }
static int hp_host_malloc(void **p, size_t n) { return (int)hipHostMalloc(p, n, hipHostMallocDefault); }
static int hp_host_free(void *p) { return (int)hipHostFree(p); }
static int hp_malloc(void **p, size_t n) { return (int)hipMalloc(p, n); }
static int hp_free(void *p) { return (int)hipFree(p); }
static int hp_memcpy(void *dst, const void *src, size_t n, int kind) {
	return (int)hipMemcpy(dst, src, n, (hipMemcpyKind)kind);
}
static int hp_memcpy_async(void *dst, const void *src, size_t n, int kind, hipStream_t s) {
	return (int)hipMemcpyAsync(dst, src, n, (hipMemcpyKind)kind, s);
}
static int hp_stream_sync(hipStream_t s) { return (int)hipStreamSynchronize(s); }
static int hp_device_sync(void) { return (int)hipDeviceSynchronize(); }
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/ROCm/device-health-probe/pkg/accel"
)

func init() {
	accel.Register(accel.Backend{
		Name:     "hip",
		Hardware: true,
		New:      func() (accel.Runtime, error) { return &Runtime{}, nil },
	})
}

type context struct {
	h C.hipCtx_t
}

type stream struct {
	h C.hipStream_t
}

type buffer struct {
	ptr  unsafe.Pointer
	size int
}

func (b *buffer) Size() int { return b.size }

type hostBuffer struct {
	buffer
}

func (b *hostBuffer) Bytes() []byte {
	return unsafe.Slice((*byte)(b.ptr), b.size)
}

type deviceBuffer struct {
	buffer
}

// Runtime is the HIP implementation of accel.Runtime
type Runtime struct{}

var _ accel.Runtime = (*Runtime)(nil)

func check(call string, rc C.int) error {
	if rc != 0 {
		return accel.NewError(call, int(rc))
	}
	return nil
}

func (r *Runtime) Name() string { return "hip" }

func (r *Runtime) Init() error {
	return check("hipInit", C.hp_init())
}

// Finalize is a no-op, HIP tears itself down at process exit
func (r *Runtime) Finalize() error { return nil }

func (r *Runtime) DeviceCount() (int, error) {
	var n C.int
	if err := check("hipGetDeviceCount", C.hp_device_count(&n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *Runtime) SetDevice(id int) error {
	return check("hipSetDevice", C.hp_set_device(C.int(id)))
}

func (r *Runtime) ResetDevice(id int) error {
	return check("hipDeviceReset", C.hp_reset_device())
}

func (r *Runtime) DeviceName(id int) (string, bool) {
	buf := (*C.char)(C.malloc(256))
	defer C.free(unsafe.Pointer(buf))
	if C.hp_device_name(C.int(id), buf, 256) != 0 {
		return "", false
	}
	name := C.GoString(buf)
	return name, name != ""
}

func (r *Runtime) CreateContext(id int) (accel.Context, error) {
	c := &context{}
	if err := check("hipCtxCreate", C.hp_ctx_create(&c.h, C.int(id))); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Runtime) DestroyContext(ctx accel.Context) error {
	c, ok := ctx.(*context)
	if !ok {
		return fmt.Errorf("hipCtxDestroy: invalid context %T", ctx)
	}
	return check("hipCtxDestroy", C.hp_ctx_destroy(c.h))
}

func (r *Runtime) CreateStream(ctx accel.Context) (accel.Stream, error) {
	s := &stream{}
	if err := check("hipStreamCreate", C.hp_stream_create(&s.h)); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Runtime) DestroyStream(s accel.Stream) error {
	st, ok := s.(*stream)
	if !ok {
		return fmt.Errorf("hipStreamDestroy: invalid stream %T", s)
	}
	return check("hipStreamDestroy", C.hp_stream_destroy(st.h))
}

func (r *Runtime) AllocHost(size int) (accel.HostBuffer, error) {
	var p unsafe.Pointer
	if err := check("hipHostMalloc", C.hp_host_malloc(&p, C.size_t(size))); err != nil {
		return nil, err
	}
	return &hostBuffer{buffer{ptr: p, size: size}}, nil
}

func (r *Runtime) FreeHost(b accel.HostBuffer) error {
	hb, ok := b.(*hostBuffer)
	if !ok {
		return fmt.Errorf("hipHostFree: invalid buffer %T", b)
	}
	return check("hipHostFree", C.hp_host_free(hb.ptr))
}

func (r *Runtime) AllocDevice(size int) (accel.DeviceBuffer, error) {
	var p unsafe.Pointer
	if err := check("hipMalloc", C.hp_malloc(&p, C.size_t(size))); err != nil {
		return nil, err
	}
	return &deviceBuffer{buffer{ptr: p, size: size}}, nil
}

func (r *Runtime) FreeDevice(b accel.DeviceBuffer) error {
	db, ok := b.(*deviceBuffer)
	if !ok {
		return fmt.Errorf("hipFree: invalid buffer %T", b)
	}
	return check("hipFree", C.hp_free(db.ptr))
}

func pointer(b accel.Buffer) (unsafe.Pointer, error) {
	switch v := b.(type) {
	case *hostBuffer:
		return v.ptr, nil
	case *deviceBuffer:
		return v.ptr, nil
	}
	return nil, fmt.Errorf("invalid buffer %T", b)
}

func memcpyKind(k accel.CopyKind) C.int {
	switch k {
	case accel.HostToDevice:
		return C.int(C.hipMemcpyHostToDevice)
	case accel.DeviceToHost:
		return C.int(C.hipMemcpyDeviceToHost)
	}
	return C.int(C.hipMemcpyDeviceToDevice)
}

func (r *Runtime) Copy(dst, src accel.Buffer, size int, kind accel.CopyKind, s accel.Stream) error {
	d, err := pointer(dst)
	if err != nil {
		return err
	}
	sp, err := pointer(src)
	if err != nil {
		return err
	}
	if s == nil {
		return check("hipMemcpy", C.hp_memcpy(d, sp, C.size_t(size), memcpyKind(kind)))
	}
	st, ok := s.(*stream)
	if !ok {
		return fmt.Errorf("hipMemcpyAsync: invalid stream %T", s)
	}
	return check("hipMemcpyAsync", C.hp_memcpy_async(d, sp, C.size_t(size), memcpyKind(kind), st.h))
}

func (r *Runtime) Synchronize(s accel.Stream) error {
	if s == nil {
		return check("hipDeviceSynchronize", C.hp_device_sync())
	}
	st, ok := s.(*stream)
	if !ok {
		return fmt.Errorf("hipStreamSynchronize: invalid stream %T", s)
	}
	return check("hipStreamSynchronize", C.hp_stream_sync(st.h))
}
