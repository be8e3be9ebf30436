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

// Package deadline bounds the wall-clock time of a probe run. The guard
// never interrupts a runtime call, it only raises a flag that callers
// check between stages. An optional watchdog terminates the process when
// the flag is not acted upon in time.
package deadline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Guard is a one-shot wall-clock deadline
type Guard struct {
	fired atomic.Bool
	done  chan struct{}
	once  sync.Once

	mu       sync.Mutex
	timer    *time.Timer
	watchdog *time.Timer
	grace    time.Duration
	kill     func()
	closed   bool
}

// New returns an unarmed guard
func New() *Guard {
	return &Guard{done: make(chan struct{})}
}

// WithWatchdog makes a tripped guard call kill if the process is still
// running grace after the trip. A zero grace disables the watchdog.
func (g *Guard) WithWatchdog(grace time.Duration, kill func()) *Guard {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grace = grace
	g.kill = kill
	return g
}

// Arm schedules the deadline d from now. A non-positive d trips the guard
// before Arm returns.
func (g *Guard) Arm(d time.Duration) {
	if d <= 0 {
		g.trip()
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(d, g.trip)
}

func (g *Guard) trip() {
	g.once.Do(func() {
		g.fired.Store(true)
		close(g.done)

		g.mu.Lock()
		defer g.mu.Unlock()
		if g.grace > 0 && g.kill != nil && !g.closed {
			g.watchdog = time.AfterFunc(g.grace, g.kill)
		}
	})
}

// Fired reports whether the deadline elapsed. It never blocks.
func (g *Guard) Fired() bool {
	return g.fired.Load()
}

// Done is closed when the deadline elapses
func (g *Guard) Done() <-chan struct{} {
	return g.done
}

// Disarm cancels a pending deadline. A deadline that already fired stays
// fired.
func (g *Guard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
}

// Close disarms the guard and stops the watchdog, call it right before
// the process exits
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
	}
	if g.watchdog != nil {
		g.watchdog.Stop()
	}
}
