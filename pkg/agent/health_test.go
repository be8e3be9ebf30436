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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ROCm/device-health-probe/pkg/healthprobe"
)

const (
	testFailureThreshold  = 3
	testRecoveryThreshold = 2
)

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

func apply(d *DeviceHealth, evs ...Event) Action {
	action := ActionNone
	for _, ev := range evs {
		action = d.Transition(ev, testFailureThreshold, testRecoveryThreshold, testNow)
	}
	return action
}

func TestEventForOutcome(t *testing.T) {
	assert.Equal(t, EventPass, EventForOutcome(healthprobe.OutcomeHealthy))
	assert.Equal(t, EventFatal, EventForOutcome(healthprobe.OutcomeVerificationFailed))
	for _, o := range []healthprobe.Outcome{
		healthprobe.OutcomeRuntimeError,
		healthprobe.OutcomeDeviceNotFound,
		healthprobe.OutcomeLowBandwidth,
		healthprobe.OutcomeDeadlineExceeded,
	} {
		assert.Equal(t, EventFailure, EventForOutcome(o), o)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name      string
		events    []Event
		state     HealthState
		failures  int
		recovery  int
		action    Action
	}{
		{name: "pass stays healthy", events: []Event{EventPass}, state: StateHealthy},
		{name: "first failure suspects", events: []Event{EventFailure}, state: StateSuspected, failures: 1},
		{name: "pass clears suspicion", events: []Event{EventFailure, EventFailure, EventPass}, state: StateHealthy},
		{name: "threshold failures isolate", events: []Event{EventFailure, EventFailure, EventFailure}, state: StateUnhealthy, failures: 3, action: ActionIsolate},
		{name: "fatal isolates at once", events: []Event{EventFatal}, state: StateUnhealthy, failures: 3, action: ActionIsolate},
		{name: "fatal from suspected", events: []Event{EventFailure, EventFatal}, state: StateUnhealthy, failures: 3, action: ActionIsolate},
		{name: "unhealthy retries isolation", events: []Event{EventFatal, EventIsolationFailed, EventFailure}, state: StateUnhealthy, failures: 4, action: ActionIsolate},
		{name: "isolation completes", events: []Event{EventFatal, EventIsolationCompleted}, state: StateIsolated, failures: 3},
		{name: "unhealthy pass recovers", events: []Event{EventFatal, EventIsolationFailed, EventPass}, state: StateHealthy, action: ActionRecover},
		{name: "isolated needs consecutive passes", events: []Event{EventFatal, EventIsolationCompleted, EventPass}, state: StateIsolated, recovery: 1},
		{name: "isolated recovers", events: []Event{EventFatal, EventIsolationCompleted, EventPass, EventPass}, state: StateHealthy, action: ActionRecover},
		{name: "failure resets recovery", events: []Event{EventFatal, EventIsolationCompleted, EventPass, EventFailure, EventPass}, state: StateIsolated, recovery: 1},
		{name: "isolation event ignored when healthy", events: []Event{EventIsolationCompleted}, state: StateHealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDeviceHealth(0)
			action := apply(d, tc.events...)
			assert.Equal(t, tc.state, d.State)
			assert.Equal(t, tc.failures, d.FailureCount)
			assert.Equal(t, tc.recovery, d.RecoveryCount)
			assert.Equal(t, tc.action, action)
		})
	}
}

func TestFailureThresholdOne(t *testing.T) {
	d := NewDeviceHealth(1)
	action := d.Transition(EventFailure, 1, 1, testNow)
	assert.Equal(t, StateSuspected, d.State, "a healthy device is only suspected after one failure")
	assert.Equal(t, ActionNone, action)
	assert.Equal(t, testNow, d.LastTransition)

	later := testNow.Add(time.Minute)
	action = d.Transition(EventFailure, 1, 1, later)
	assert.Equal(t, StateUnhealthy, d.State)
	assert.Equal(t, ActionIsolate, action)
	assert.Equal(t, 2, d.FailureCount)
	assert.Equal(t, later, d.LastTransition)
}

func TestStateValue(t *testing.T) {
	assert.Equal(t, 0, StateHealthy.Value())
	assert.Equal(t, 1, StateSuspected.Value())
	assert.Equal(t, 2, StateUnhealthy.Value())
	assert.Equal(t, 3, StateIsolated.Value())
}

func result(device int, outcome healthprobe.Outcome) *healthprobe.Result {
	return &healthprobe.Result{
		RunID:    "run-" + string(outcome),
		Mode:     healthprobe.ModeMemory,
		Device:   device,
		Outcome:  outcome,
		ExitCode: outcome.ExitCode(),
	}
}

func TestTrackerApply(t *testing.T) {
	h := NewHealthTracker("node-a")
	h.Ensure(1)

	dh, prev, action := h.Apply(result(0, healthprobe.OutcomeVerificationFailed), 3, 3, testNow)
	assert.Equal(t, StateHealthy, prev)
	assert.Equal(t, StateUnhealthy, dh.State)
	assert.Equal(t, ActionIsolate, action)
	assert.Equal(t, healthprobe.OutcomeVerificationFailed, dh.LastOutcome)
	assert.Equal(t, testNow, dh.LastCheck)

	dh = h.Isolated(0, errors.New("api down"), testNow)
	assert.Equal(t, StateUnhealthy, dh.State)
	dh = h.Isolated(0, nil, testNow)
	assert.Equal(t, StateIsolated, dh.State)

	assert.Equal(t, map[string]string{"0": "isolated", "1": "healthy"}, h.HealthMap())
	list := h.List()
	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].Device)
	assert.Equal(t, 1, list[1].Device)

	_, ok := h.Get(7)
	assert.False(t, ok)
}

func TestHealthStatusPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")

	h := NewHealthTracker("node-a")
	h.Apply(result(2, healthprobe.OutcomeRuntimeError), 3, 3, testNow)
	require.NoError(t, SaveHealthStatus(h.Status(testNow), path))

	status, err := LoadHealthStatus(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", status.Node)
	require.Contains(t, status.Devices, "2")

	restored := NewHealthTracker("node-a")
	status.Devices["bogus"] = &DeviceHealth{State: StateIsolated}
	restored.Restore(status)
	d, ok := restored.Get(2)
	require.True(t, ok)
	assert.Equal(t, StateSuspected, d.State)
	assert.Equal(t, 1, d.FailureCount)
	assert.Len(t, restored.List(), 1)

	_, err = LoadHealthStatus(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
