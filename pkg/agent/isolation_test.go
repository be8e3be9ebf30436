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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/ROCm/device-health-probe/pkg/agent/config"
	k8sclient "github.com/ROCm/device-health-probe/pkg/client"
	"github.com/ROCm/device-health-probe/pkg/healthprobe"
	"github.com/ROCm/device-health-probe/pkg/metrics"
)

const testNode = "node-a"

func newFakeNodeClient(t *testing.T) (*k8sclient.K8sClient, *fake.Clientset) {
	t.Helper()
	cs := fake.NewSimpleClientset(&v1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:   testNode,
			Labels: map[string]string{"kubernetes.io/hostname": testNode},
		},
	})
	return k8sclient.NewClientWithClientset(context.Background(), cs), cs
}

func fullIsolation() *config.IsolationConfig {
	return &config.IsolationConfig{
		Label:       true,
		Cordon:      true,
		Taint:       true,
		Event:       true,
		TaintKey:    "healthprobe.amd.com/device-health",
		TaintValue:  "failed",
		TaintEffect: "NoSchedule",
	}
}

func getNode(t *testing.T, cs *fake.Clientset) *v1.Node {
	t.Helper()
	node, err := cs.CoreV1().Nodes().Get(context.Background(), testNode, metav1.GetOptions{})
	require.NoError(t, err)
	return node
}

func listEvents(t *testing.T, cs *fake.Clientset) []v1.Event {
	t.Helper()
	evts, err := cs.CoreV1().Events("default").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	return evts.Items
}

func TestIsolateAndRecover(t *testing.T) {
	client, cs := newFakeNodeClient(t)
	mh := metrics.NewAgentMetrics()
	iso := NewIsolator(client, testNode, mh)
	cfg := fullIsolation()

	dev := DeviceHealth{Device: 0, State: StateUnhealthy, FailureCount: 3}
	res := result(0, healthprobe.OutcomeVerificationFailed)
	require.NoError(t, iso.Isolate(cfg, dev, res, map[string]string{"0": "unhealthy", "1": "healthy"}))

	node := getNode(t, cs)
	assert.Equal(t, "unhealthy", node.Labels["healthprobe.amd.com.device.0.state"])
	assert.NotContains(t, node.Labels, "healthprobe.amd.com.device.1.state")
	assert.Equal(t, testNode, node.Labels["kubernetes.io/hostname"])
	assert.True(t, node.Spec.Unschedulable)
	require.Len(t, node.Spec.Taints, 1)
	assert.Equal(t, "healthprobe.amd.com/device-health", node.Spec.Taints[0].Key)
	assert.Equal(t, v1.TaintEffectNoSchedule, node.Spec.Taints[0].Effect)

	evts := listEvents(t, cs)
	require.Len(t, evts, 1)
	assert.Equal(t, v1.EventTypeWarning, evts[0].Type)
	assert.Equal(t, ReasonDeviceUnhealthy, evts[0].Reason)
	assert.Equal(t, "Node", evts[0].InvolvedObject.Kind)
	assert.Contains(t, evts[0].Message, "device 0 marked unhealthy after 3 failed checks")
	assert.Contains(t, evts[0].Message, `"outcome":"verification_failed"`)

	assert.Equal(t, 1.0, metricValue(t, mh, "health_probe_isolation_actions_total", map[string]string{"action": "cordon"}))
	assert.Equal(t, 1.0, metricValue(t, mh, "health_probe_isolation_actions_total", map[string]string{"action": "taint"}))

	dev = DeviceHealth{Device: 0, State: StateHealthy, RecoveryCount: 3}
	require.NoError(t, iso.Recover(cfg, dev, map[string]string{"0": "healthy", "1": "healthy"}))

	node = getNode(t, cs)
	assert.NotContains(t, node.Labels, "healthprobe.amd.com.device.0.state")
	assert.False(t, node.Spec.Unschedulable)
	assert.Empty(t, node.Spec.Taints)

	evts = listEvents(t, cs)
	require.Len(t, evts, 2)
	reasons := []string{evts[0].Reason, evts[1].Reason}
	assert.ElementsMatch(t, []string{ReasonDeviceUnhealthy, ReasonDeviceRecovered}, reasons)
}

func TestRecoverKeepsNodeIsolatedForOtherDevice(t *testing.T) {
	client, cs := newFakeNodeClient(t)
	iso := NewIsolator(client, testNode, nil)
	cfg := fullIsolation()

	states := map[string]string{"0": "isolated", "1": "isolated"}
	require.NoError(t, iso.Isolate(cfg, DeviceHealth{Device: 0}, nil, states))
	require.NoError(t, iso.Isolate(cfg, DeviceHealth{Device: 1}, nil, states))
	require.Len(t, getNode(t, cs).Spec.Taints, 1)

	require.NoError(t, iso.Recover(cfg, DeviceHealth{Device: 0}, map[string]string{"0": "healthy", "1": "isolated"}))
	node := getNode(t, cs)
	assert.True(t, node.Spec.Unschedulable)
	assert.Len(t, node.Spec.Taints, 1)
	assert.NotContains(t, node.Labels, "healthprobe.amd.com.device.0.state")
	assert.Equal(t, "unhealthy", node.Labels["healthprobe.amd.com.device.1.state"])
}

func TestIsolationDryRun(t *testing.T) {
	client, cs := newFakeNodeClient(t)
	iso := NewIsolator(client, testNode, nil)
	cfg := fullIsolation()
	cfg.DryRun = true

	require.NoError(t, iso.Isolate(cfg, DeviceHealth{Device: 0}, nil, map[string]string{"0": "unhealthy"}))
	node := getNode(t, cs)
	assert.False(t, node.Spec.Unschedulable)
	assert.Empty(t, node.Spec.Taints)
	assert.Empty(t, listEvents(t, cs))

	// outside kubernetes there is no client at all
	iso = NewIsolator(nil, testNode, nil)
	assert.NoError(t, iso.Isolate(fullIsolation(), DeviceHealth{Device: 0}, nil, nil))
	assert.NoError(t, iso.Recover(fullIsolation(), DeviceHealth{Device: 0}, nil))
}

func TestIsolationMissingNode(t *testing.T) {
	client, _ := newFakeNodeClient(t)
	iso := NewIsolator(client, "node-b", nil)
	err := iso.Isolate(fullIsolation(), DeviceHealth{Device: 0}, nil, map[string]string{"0": "unhealthy"})
	assert.Error(t, err)
}
