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
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ROCm/device-health-probe/pkg/healthprobe"
)

// HealthState of a device as tracked by the agent
type HealthState string

const (
	StateHealthy   HealthState = "healthy"
	StateSuspected HealthState = "suspected"
	StateUnhealthy HealthState = "unhealthy"
	StateIsolated  HealthState = "isolated"
)

// Value is the numeric form exported as a metric
func (s HealthState) Value() int {
	switch s {
	case StateSuspected:
		return 1
	case StateUnhealthy:
		return 2
	case StateIsolated:
		return 3
	default:
		return 0
	}
}

// Event drives a device health transition
type Event int

const (
	EventPass Event = iota
	EventFailure
	EventFatal
	EventIsolationCompleted
	EventIsolationFailed
)

func (e Event) String() string {
	switch e {
	case EventPass:
		return "pass"
	case EventFailure:
		return "failure"
	case EventFatal:
		return "fatal"
	case EventIsolationCompleted:
		return "isolation-completed"
	case EventIsolationFailed:
		return "isolation-failed"
	}
	return "unknown"
}

// EventForOutcome maps a probe outcome to a health event. Data corruption is
// fatal, every other failure needs to repeat before the device is isolated.
func EventForOutcome(o healthprobe.Outcome) Event {
	switch o {
	case healthprobe.OutcomeHealthy:
		return EventPass
	case healthprobe.OutcomeVerificationFailed:
		return EventFatal
	default:
		return EventFailure
	}
}

// Action requested by a transition
type Action int

const (
	ActionNone Action = iota
	ActionIsolate
	ActionRecover
)

// DeviceHealth is the persisted health record of one device
type DeviceHealth struct {
	Device         int                 `json:"device"`
	State          HealthState         `json:"state"`
	FailureCount   int                 `json:"failureCount"`
	RecoveryCount  int                 `json:"recoveryCount"`
	LastOutcome    healthprobe.Outcome `json:"lastOutcome,omitempty"`
	LastMode       healthprobe.Mode    `json:"lastMode,omitempty"`
	LastError      string              `json:"lastError,omitempty"`
	LastRunID      string              `json:"lastRunId,omitempty"`
	LastCheck      time.Time           `json:"lastCheck,omitempty"`
	LastTransition time.Time           `json:"lastTransition,omitempty"`
}

func NewDeviceHealth(device int) *DeviceHealth {
	return &DeviceHealth{
		Device: device,
		State:  StateHealthy,
	}
}

// Transition applies ev and returns the action the new state asks for
func (d *DeviceHealth) Transition(ev Event, failureThreshold, recoveryThreshold int, now time.Time) Action {
	prev := d.State
	action := ActionNone

	switch ev {
	case EventPass:
		d.FailureCount = 0
		switch d.State {
		case StateSuspected:
			d.State = StateHealthy
		case StateUnhealthy:
			// isolation never completed, clear whatever was applied
			d.State = StateHealthy
			action = ActionRecover
		case StateIsolated:
			d.RecoveryCount++
			if d.RecoveryCount >= recoveryThreshold {
				d.State = StateHealthy
				d.RecoveryCount = 0
				action = ActionRecover
			}
		}
	case EventFailure:
		d.FailureCount++
		switch d.State {
		case StateHealthy:
			// the first failure is only a suspicion, whatever the threshold
			d.State = StateSuspected
		case StateSuspected:
			if d.FailureCount >= failureThreshold {
				d.State = StateUnhealthy
				action = ActionIsolate
			}
		case StateUnhealthy:
			action = ActionIsolate
		case StateIsolated:
			d.RecoveryCount = 0
		}
	case EventFatal:
		switch d.State {
		case StateHealthy, StateSuspected:
			d.State = StateUnhealthy
			if d.FailureCount < failureThreshold {
				d.FailureCount = failureThreshold
			}
			action = ActionIsolate
		case StateUnhealthy:
			d.FailureCount++
			action = ActionIsolate
		case StateIsolated:
			d.FailureCount++
			d.RecoveryCount = 0
		}
	case EventIsolationCompleted:
		if d.State == StateUnhealthy {
			d.State = StateIsolated
			d.RecoveryCount = 0
		}
	case EventIsolationFailed:
	}

	if d.State != prev {
		d.LastTransition = now
	}
	return action
}

// Record stores the last run details without changing state
func (d *DeviceHealth) Record(res *healthprobe.Result, now time.Time) {
	d.LastOutcome = res.Outcome
	d.LastMode = res.Mode
	d.LastError = res.Error
	d.LastRunID = res.RunID
	d.LastCheck = now
}

// HealthStatus is the agent state kept in the status db
type HealthStatus struct {
	Node      string                   `json:"node,omitempty"`
	Devices   map[string]*DeviceHealth `json:"devices"`
	UpdatedAt time.Time                `json:"updatedAt,omitempty"`
}

// HealthTracker holds the health of every probed device
type HealthTracker struct {
	sync.RWMutex
	node    string
	devices map[int]*DeviceHealth
}

func NewHealthTracker(node string) *HealthTracker {
	return &HealthTracker{
		node:    node,
		devices: make(map[int]*DeviceHealth),
	}
}

// Apply records res for its device and applies the matching event
func (h *HealthTracker) Apply(res *healthprobe.Result, failureThreshold, recoveryThreshold int, now time.Time) (DeviceHealth, HealthState, Action) {
	h.Lock()
	defer h.Unlock()
	d := h.device(res.Device)
	prev := d.State
	d.Record(res, now)
	action := d.Transition(EventForOutcome(res.Outcome), failureThreshold, recoveryThreshold, now)
	return *d, prev, action
}

// Isolated reports the outcome of an isolation attempt
func (h *HealthTracker) Isolated(device int, err error, now time.Time) DeviceHealth {
	h.Lock()
	defer h.Unlock()
	d := h.device(device)
	ev := EventIsolationCompleted
	if err != nil {
		ev = EventIsolationFailed
	}
	d.Transition(ev, 0, 0, now)
	return *d
}

func (h *HealthTracker) device(id int) *DeviceHealth {
	d, ok := h.devices[id]
	if !ok {
		d = NewDeviceHealth(id)
		h.devices[id] = d
	}
	return d
}

// Ensure starts tracking device as healthy if it is unknown
func (h *HealthTracker) Ensure(device int) {
	h.Lock()
	defer h.Unlock()
	h.device(device)
}

// Get returns a copy of the record of device
func (h *HealthTracker) Get(device int) (DeviceHealth, bool) {
	h.RLock()
	defer h.RUnlock()
	d, ok := h.devices[device]
	if !ok {
		return DeviceHealth{}, false
	}
	return *d, true
}

// List returns the records ordered by device
func (h *HealthTracker) List() []DeviceHealth {
	h.RLock()
	defer h.RUnlock()
	list := make([]DeviceHealth, 0, len(h.devices))
	for _, d := range h.devices {
		list = append(list, *d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Device < list[j].Device })
	return list
}

// HealthMap returns device id -> state, used for node labels
func (h *HealthTracker) HealthMap() map[string]string {
	h.RLock()
	defer h.RUnlock()
	m := make(map[string]string, len(h.devices))
	for id, d := range h.devices {
		m[strconv.Itoa(id)] = string(d.State)
	}
	return m
}

// Status snapshots the tracker for persistence
func (h *HealthTracker) Status(now time.Time) *HealthStatus {
	h.RLock()
	defer h.RUnlock()
	status := &HealthStatus{
		Node:      h.node,
		Devices:   make(map[string]*DeviceHealth, len(h.devices)),
		UpdatedAt: now,
	}
	for id, d := range h.devices {
		cp := *d
		status.Devices[strconv.Itoa(id)] = &cp
	}
	return status
}

// Restore loads a persisted status, unknown device keys are ignored
func (h *HealthTracker) Restore(status *HealthStatus) {
	if status == nil {
		return
	}
	h.Lock()
	defer h.Unlock()
	for key, d := range status.Devices {
		id, err := strconv.Atoi(key)
		if err != nil || d == nil {
			continue
		}
		cp := *d
		cp.Device = id
		if cp.State == "" {
			cp.State = StateHealthy
		}
		h.devices[id] = &cp
	}
}

var statusDBLock sync.Mutex

func SaveHealthStatus(status *HealthStatus, statusDBPath string) error {
	statusDBLock.Lock()
	defer statusDBLock.Unlock()
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	tmp := statusDBPath + ".tmp"
	if err = os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, statusDBPath)
}

func LoadHealthStatus(statusDBPath string) (*HealthStatus, error) {
	statusDBLock.Lock()
	defer statusDBLock.Unlock()
	status := &HealthStatus{Devices: map[string]*DeviceHealth{}}
	data, err := os.ReadFile(statusDBPath)
	if err != nil {
		return status, err
	}
	if err = json.Unmarshal(data, status); err != nil {
		return status, err
	}
	if status.Devices == nil {
		status.Devices = map[string]*DeviceHealth{}
	}
	return status, nil
}
