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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/ROCm/device-health-probe/pkg/agent/config"
	"github.com/ROCm/device-health-probe/pkg/globals"
	"github.com/ROCm/device-health-probe/pkg/healthprobe"
	"github.com/ROCm/device-health-probe/pkg/logger"
	"github.com/ROCm/device-health-probe/pkg/metrics"
)

const (
	ReasonDeviceUnhealthy = "DeviceUnhealthy"
	ReasonDeviceRecovered = "DeviceRecovered"

	// node events live in the default namespace unless the agent pod says otherwise
	defaultEventNamespace = "default"
	eventNamePrefix       = "device-health-"

	labelUnhealthy = "unhealthy"
	labelHealthy   = "healthy"
)

// NodeClient is the subset of the k8s client used for isolation
type NodeClient interface {
	UpdateHealthLabel(nodeName string, healthMap map[string]string) error
	CordonNode(nodeName string, unschedulable bool) error
	AddTaint(nodeName string, taint v1.Taint) error
	RemoveTaint(nodeName, key string, effect v1.TaintEffect) error
	CreateEvent(evtObj *v1.Event) error
}

// Isolator applies and reverts node isolation for unhealthy devices
type Isolator struct {
	client   NodeClient
	nodeName string
	hostName string
	mh       *metrics.MetricsHandler
}

// NewIsolator returns an isolator, a nil client turns every action into a log line
func NewIsolator(client NodeClient, nodeName string, mh *metrics.MetricsHandler) *Isolator {
	host, _ := os.Hostname()
	return &Isolator{
		client:   client,
		nodeName: nodeName,
		hostName: host,
		mh:       mh,
	}
}

func (i *Isolator) enabled(cfg *config.IsolationConfig) bool {
	if cfg == nil {
		return false
	}
	if i.client == nil || i.nodeName == "" {
		return false
	}
	return !cfg.DryRun
}

// labelMap converts device states to node label values
func labelMap(states map[string]string) map[string]string {
	m := make(map[string]string, len(states))
	for id, state := range states {
		switch HealthState(state) {
		case StateUnhealthy, StateIsolated:
			m[id] = labelUnhealthy
		default:
			m[id] = labelHealthy
		}
	}
	return m
}

// anyIsolated reports whether a device other than skip still needs the node isolated
func anyIsolated(states map[string]string, skip int) bool {
	for id, state := range states {
		if id == fmt.Sprint(skip) {
			continue
		}
		if s := HealthState(state); s == StateUnhealthy || s == StateIsolated {
			return true
		}
	}
	return false
}

// Isolate isolates the node for dev, states holds every tracked device state
func (i *Isolator) Isolate(cfg *config.IsolationConfig, dev DeviceHealth, res *healthprobe.Result, states map[string]string) error {
	if !i.enabled(cfg) {
		logger.Log.Printf("isolation skipped for device %v (dry-run or not running in kubernetes), would label=%v cordon=%v taint=%v event=%v",
			dev.Device, cfg != nil && cfg.Label, cfg != nil && cfg.Cordon, cfg != nil && cfg.Taint, cfg != nil && cfg.Event)
		return nil
	}
	var errs []error
	if cfg.Label {
		if err := i.client.UpdateHealthLabel(i.nodeName, labelMap(states)); err != nil {
			errs = append(errs, fmt.Errorf("label: %w", err))
		} else {
			i.count("label")
		}
	}
	if cfg.Cordon {
		if err := i.client.CordonNode(i.nodeName, true); err != nil {
			errs = append(errs, fmt.Errorf("cordon: %w", err))
		} else {
			i.count("cordon")
		}
	}
	if cfg.Taint {
		taint := v1.Taint{
			Key:    cfg.TaintKey,
			Value:  cfg.TaintValue,
			Effect: v1.TaintEffect(cfg.TaintEffect),
		}
		if err := i.client.AddTaint(i.nodeName, taint); err != nil {
			errs = append(errs, fmt.Errorf("taint: %w", err))
		} else {
			i.count("taint")
		}
	}
	if cfg.Event {
		msg := unhealthyMessage(dev, res)
		if err := i.client.CreateEvent(i.event(v1.EventTypeWarning, ReasonDeviceUnhealthy, dev.Device, msg)); err != nil {
			errs = append(errs, fmt.Errorf("event: %w", err))
		} else {
			i.count("event")
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Log.Printf("isolation of node %v for device %v incomplete: %v", i.nodeName, dev.Device, err)
		return err
	}
	logger.Log.Printf("node %v isolated for device %v", i.nodeName, dev.Device)
	return nil
}

// Recover reverts isolation for dev, the node stays cordoned and tainted
// while another device is still unhealthy
func (i *Isolator) Recover(cfg *config.IsolationConfig, dev DeviceHealth, states map[string]string) error {
	if !i.enabled(cfg) {
		logger.Log.Printf("recovery skipped for device %v (dry-run or not running in kubernetes)", dev.Device)
		return nil
	}
	others := anyIsolated(states, dev.Device)
	var errs []error
	if cfg.Label {
		if err := i.client.UpdateHealthLabel(i.nodeName, labelMap(states)); err != nil {
			errs = append(errs, fmt.Errorf("label: %w", err))
		} else {
			i.count("unlabel")
		}
	}
	if cfg.Taint && !others {
		if err := i.client.RemoveTaint(i.nodeName, cfg.TaintKey, v1.TaintEffect(cfg.TaintEffect)); err != nil {
			errs = append(errs, fmt.Errorf("untaint: %w", err))
		} else {
			i.count("untaint")
		}
	}
	if cfg.Cordon && !others {
		if err := i.client.CordonNode(i.nodeName, false); err != nil {
			errs = append(errs, fmt.Errorf("uncordon: %w", err))
		} else {
			i.count("uncordon")
		}
	}
	if cfg.Event {
		msg := fmt.Sprintf("device %v on node %v recovered after %v consecutive healthy checks", dev.Device, i.nodeName, dev.RecoveryCount)
		if err := i.client.CreateEvent(i.event(v1.EventTypeNormal, ReasonDeviceRecovered, dev.Device, msg)); err != nil {
			errs = append(errs, fmt.Errorf("event: %w", err))
		} else {
			i.count("event")
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Log.Printf("recovery of node %v for device %v incomplete: %v", i.nodeName, dev.Device, err)
		return err
	}
	logger.Log.Printf("node %v recovered for device %v", i.nodeName, dev.Device)
	return nil
}

func (i *Isolator) count(action string) {
	if i.mh == nil {
		return
	}
	i.mh.IncIsolationAction(action)
}

func (i *Isolator) event(evtType, reason string, device int, msg string) *v1.Event {
	namespace := os.Getenv("POD_NAMESPACE")
	if namespace == "" {
		namespace = defaultEventNamespace
	}
	currTime := time.Now().UTC()
	return &v1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s%s.%s", eventNamePrefix, i.nodeName, uuid.NewString()[:8]),
			Namespace: namespace,
			Labels: map[string]string{
				"healthprobe.amd.com/device": fmt.Sprint(device),
				"healthprobe.amd.com/node":   i.nodeName,
			},
		},
		FirstTimestamp: metav1.Time{
			Time: currTime,
		},
		LastTimestamp: metav1.Time{
			Time: currTime,
		},
		Count:   1,
		Type:    evtType,
		Reason:  reason,
		Message: msg,
		InvolvedObject: v1.ObjectReference{
			Kind: "Node",
			Name: i.nodeName,
		},
		Source: v1.EventSource{
			Host:      i.hostName,
			Component: globals.EventSourceComponentName,
		},
	}
}

// unhealthyMessage summarizes the failing run without its bulky fields
func unhealthyMessage(dev DeviceHealth, res *healthprobe.Result) string {
	head := fmt.Sprintf("device %v marked unhealthy after %v failed checks", dev.Device, dev.FailureCount)
	if res == nil {
		return head
	}
	summary := *res
	summary.Bandwidth = nil
	b, err := json.Marshal(summary)
	if err != nil {
		return head
	}
	return strings.Join([]string{head, string(b)}, ": ")
}
