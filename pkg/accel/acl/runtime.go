//go:build ascend && cgo

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

package acl

/*
#cgo CFLAGS: -I/usr/local/Ascend/ascend-toolkit/latest/include
#cgo LDFLAGS: -L/usr/local/Ascend/ascend-toolkit/latest/lib64 -lascendcl

#include <acl/acl.h>

static int hp_init(void) { return (int)aclInit(NULL); }
static int hp_finalize(void) { return (int)aclFinalize(); }
static int hp_device_count(uint32_t *n) { return (int)aclrtGetDeviceCount(n); }
static int hp_set_device(int id) { return (int)aclrtSetDevice(id); }
static int hp_reset_device(int id) { return (int)aclrtResetDevice(id); }
static const char *hp_soc_name(void) { return aclrtGetSocName(); }
static int hp_ctx_create(aclrtContext *ctx, int id) { return (int)aclrtCreateContext(ctx, id); }
static int hp_ctx_destroy(aclrtContext ctx) { return (int)aclrtDestroyContext(ctx); }
static int hp_stream_create(aclrtStream *s) { return (int)aclrtCreateStream(s); }
static int hp_stream_destroy(aclrtStream s) { return (int)aclrtDestroyStream(s); }
static int hp_host_malloc(void **p, size_t n) { return (int)aclrtMallocHost(p, n); }
static int hp_host_free(void *p) { return (int)aclrtFreeHost(p); }
static int hp_malloc(void **p, size_t n) { return (int)aclrtMalloc(p, n, ACL_MEM_MALLOC_HUGE_FIRST); }
static int hp_free(void *p) { return (int)aclrtFree(p); }
static int hp_memcpy(void *dst, const void *src, size_t n, int kind) {
	return (int)aclrtMemcpy(dst, n, src, n, (aclrtMemcpyKind)kind);
}
static int hp_memcpy_async(void *dst, const void *src, size_t n, int kind, aclrtStream s) {
	return (int)aclrtMemcpyAsync(dst, n, src, n, (aclrtMemcpyKind)kind, s);
}
static int hp_stream_sync(aclrtStream s) { return (int)aclrtSynchronizeStream(s); }
static int hp_device_sync(void) { return (int)aclrtSynchronizeDevice(); }
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/ROCm/device-health-probe/pkg/accel"
)

func init() {
	accel.Register(accel.Backend{
		Name:     "acl",
		Hardware: true,
		New:      func() (accel.Runtime, error) { return &Runtime{}, nil },
	})
}

type context struct {
	h C.aclrtContext
}

type stream struct {
	h C.aclrtStream
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

// Runtime is the AscendCL implementation of accel.Runtime
type Runtime struct{}

var _ accel.Runtime = (*Runtime)(nil)

func check(call string, rc C.int) error {
	if rc != 0 {
		return accel.NewError(call, int(rc))
	}
	return nil
}

func (r *Runtime) Name() string { return "acl" }

func (r *Runtime) Init() error {
	return check("aclInit", C.hp_init())
}

func (r *Runtime) Finalize() error {
	return check("aclFinalize", C.hp_finalize())
}

func (r *Runtime) DeviceCount() (int, error) {
	var n C.uint32_t
	if err := check("aclrtGetDeviceCount", C.hp_device_count(&n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *Runtime) SetDevice(id int) error {
	return check("aclrtSetDevice", C.hp_set_device(C.int(id)))
}

func (r *Runtime) ResetDevice(id int) error {
	return check("aclrtResetDevice", C.hp_reset_device(C.int(id)))
}

// DeviceName returns the SoC name, AscendCL does not name single devices
func (r *Runtime) DeviceName(id int) (string, bool) {
	name := C.hp_soc_name()
	if name == nil {
		return "", false
	}
	return C.GoString(name), true
}

func (r *Runtime) CreateContext(id int) (accel.Context, error) {
	c := &context{}
	if err := check("aclrtCreateContext", C.hp_ctx_create(&c.h, C.int(id))); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Runtime) DestroyContext(ctx accel.Context) error {
	c, ok := ctx.(*context)
	if !ok {
		return fmt.Errorf("aclrtDestroyContext: invalid context %T", ctx)
	}
	return check("aclrtDestroyContext", C.hp_ctx_destroy(c.h))
}

func (r *Runtime) CreateStream(ctx accel.Context) (accel.Stream, error) {
	s := &stream{}
	if err := check("aclrtCreateStream", C.hp_stream_create(&s.h)); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Runtime) DestroyStream(s accel.Stream) error {
	st, ok := s.(*stream)
	if !ok {
		return fmt.Errorf("aclrtDestroyStream: invalid stream %T", s)
	}
	return check("aclrtDestroyStream", C.hp_stream_destroy(st.h))
}

func (r *Runtime) AllocHost(size int) (accel.HostBuffer, error) {
	var p unsafe.Pointer
	if err := check("aclrtMallocHost", C.hp_host_malloc(&p, C.size_t(size))); err != nil {
		return nil, err
	}
	return &hostBuffer{buffer{ptr: p, size: size}}, nil
}

func (r *Runtime) FreeHost(b accel.HostBuffer) error {
	hb, ok := b.(*hostBuffer)
	if !ok {
		return fmt.Errorf("aclrtFreeHost: invalid buffer %T", b)
	}
	return check("aclrtFreeHost", C.hp_host_free(hb.ptr))
}

func (r *Runtime) AllocDevice(size int) (accel.DeviceBuffer, error) {
	var p unsafe.Pointer
	if err := check("aclrtMalloc", C.hp_malloc(&p, C.size_t(size))); err != nil {
		return nil, err
	}
	return &deviceBuffer{buffer{ptr: p, size: size}}, nil
}

func (r *Runtime) FreeDevice(b accel.DeviceBuffer) error {
	db, ok := b.(*deviceBuffer)
	if !ok {
		return fmt.Errorf("aclrtFree: invalid buffer %T", b)
	}
	return check("aclrtFree", C.hp_free(db.ptr))
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
		return C.int(C.ACL_MEMCPY_HOST_TO_DEVICE)
	case accel.DeviceToHost:
		return C.int(C.ACL_MEMCPY_DEVICE_TO_HOST)
	}
	return C.int(C.ACL_MEMCPY_DEVICE_TO_DEVICE)
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
		return check("aclrtMemcpy", C.hp_memcpy(d, sp, C.size_t(size), memcpyKind(kind)))
	}
	st, ok := s.(*stream)
	if !ok {
		return fmt.Errorf("aclrtMemcpyAsync: invalid stream %T", s)
	}
	return check("aclrtMemcpyAsync", C.hp_memcpy_async(d, sp, C.size_t(size), memcpyKind(kind), st.h))
}

func (r *Runtime) Synchronize(s accel.Stream) error {
	if s == nil {
		return check("aclrtSynchronizeDevice", C.hp_device_sync())
	}
	st, ok := s.(*stream)
	if !ok {
		return fmt.Errorf("aclrtSynchronizeStream: invalid stream %T", s)
	}
	return check("aclrtSynchronizeStream", C.hp_stream_sync(st.h))
}
