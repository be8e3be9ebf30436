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

package k8sclient

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	//
	// Uncomment to load all auth plugins
	// _ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/ROCm/device-health-probe/pkg/logger"
	"github.com/ROCm/device-health-probe/pkg/utils"
)

type K8sClient struct {
	sync.Mutex
	ctx       context.Context
	clientset kubernetes.Interface
}

func NewClient(ctx context.Context) (*K8sClient, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		logger.Log.Printf("k8s cluster config error %v", err)
		return nil, err
	}
	// creates the clientset
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		logger.Log.Printf("clientset from config failed %v", err)
		return nil, err
	}
	return NewClientWithClientset(ctx, clientset), nil
}

// NewClientWithClientset wraps an existing clientset, used with fake clientsets in tests
func NewClientWithClientset(ctx context.Context, clientset kubernetes.Interface) *K8sClient {
	return &K8sClient{
		ctx:       ctx,
		clientset: clientset,
	}
}

func (k *K8sClient) GetClientSet() kubernetes.Interface {
	return k.clientset
}

func (k *K8sClient) CreateEvent(evtObj *v1.Event) error {
	k.Lock()
	defer k.Unlock()
	ctx, cancel := context.WithCancel(k.ctx)
	defer cancel()

	if evtObj == nil {
		logger.Log.Printf("k8s client got empty event object, skip generating k8s event")
		return fmt.Errorf("k8s client received empty event object")
	}

	if _, err := k.clientset.CoreV1().Events(evtObj.Namespace).Create(ctx, evtObj, metav1.CreateOptions{}); err != nil {
		logger.Log.Printf("failed to generate event %+v, err: %+v", evtObj, err)
		return err
	}

	return nil
}

func (k *K8sClient) GetNode(nodeName string) (*v1.Node, error) {
	k.Lock()
	defer k.Unlock()
	ctx, cancel := context.WithCancel(k.ctx)
	defer cancel()
	return k.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
}

func (k *K8sClient) patchNode(ctx context.Context, nodeName string, patch []map[string]interface{}) error {
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch %v: %v", patch, err)
	}
	_, err = k.clientset.CoreV1().Nodes().Patch(ctx, nodeName, types.JSONPatchType, patchBytes, metav1.PatchOptions{})
	return err
}

// labelPath escapes a label key for use in a JSON patch path
func labelPath(key string) string {
	return "/metadata/labels/" + jsonPointerEscape(key)
}

func jsonPointerEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func (k *K8sClient) AddNodeLabel(nodeName string, keys []string, val string) error {
	k.Lock()
	defer k.Unlock()
	ctx, cancel := context.WithCancel(k.ctx)
	defer cancel()

	patch := []map[string]interface{}{}
	for _, key := range keys {
		patch = append(patch, map[string]interface{}{
			"op":    "add",
			"path":  labelPath(key),
			"value": val,
		})
	}
	err := k.patchNode(ctx, nodeName, patch)
	if err != nil {
		logger.Log.Printf("failed to add label %+v to node %+v err %+v", keys, nodeName, err)
	}
	return err
}

func (k *K8sClient) RemoveNodeLabel(nodeName string, keys []string) error {
	k.Lock()
	defer k.Unlock()
	ctx, cancel := context.WithCancel(k.ctx)
	defer cancel()
	patch := []map[string]interface{}{}
	for _, key := range keys {
		patch = append(patch, map[string]interface{}{
			"op":   "remove",
			"path": labelPath(key),
		})
	}
	err := k.patchNode(ctx, nodeName, patch)
	if err != nil {
		logger.Log.Printf("failed to remove label %+v from node %+v err %+v", keys, nodeName, err)
	}
	return err
}

// UpdateHealthLabel rewrites the device health labels of the node, healthy
// devices carry no label
func (k *K8sClient) UpdateHealthLabel(nodeName string, newHealthMap map[string]string) error {
	k.Lock()
	defer k.Unlock()

	ctx, cancel := context.WithCancel(k.ctx)
	defer cancel()

	node, err := k.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		logger.Log.Printf("k8s internal node get failed %v", err)
		return err
	}
	if node.Labels == nil {
		node.Labels = map[string]string{}
	}

	oldHealthMap := utils.ParseNodeHealthLabel(node.Labels)
	wantHealthMap := map[string]string{}
	for id, state := range newHealthMap {
		if state != "healthy" {
			wantHealthMap[id] = state
		}
	}

	// check diff
	if reflect.DeepEqual(oldHealthMap, wantHealthMap) {
		return nil
	}
	utils.RemoveNodeHealthLabel(node.Labels)
	utils.AddNodeHealthLabel(node.Labels, wantHealthMap)

	// Update the node
	_, err = k.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
	if err != nil {
		logger.Log.Printf("k8s internal node update failed %v", err)
		return err
	}

	return nil
}

// CordonNode marks the node unschedulable, or schedulable again
func (k *K8sClient) CordonNode(nodeName string, unschedulable bool) error {
	k.Lock()
	defer k.Unlock()
	ctx, cancel := context.WithCancel(k.ctx)
	defer cancel()

	// add replaces the member when present
	patch := []map[string]interface{}{{
		"op":    "add",
		"path":  "/spec/unschedulable",
		"value": unschedulable,
	}}
	if err := k.patchNode(ctx, nodeName, patch); err != nil {
		logger.Log.Printf("failed to set unschedulable=%v on node %v err %v", unschedulable, nodeName, err)
		return err
	}
	return nil
}

// AddTaint adds the taint to the node unless a taint with the same key and
// effect is already present
func (k *K8sClient) AddTaint(nodeName string, taint v1.Taint) error {
	k.Lock()
	defer k.Unlock()
	ctx, cancel := context.WithCancel(k.ctx)
	defer cancel()

	node, err := k.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		logger.Log.Printf("k8s internal node get failed %v", err)
		return err
	}
	for _, t := range node.Spec.Taints {
		if t.Key == taint.Key && t.Effect == taint.Effect {
			return nil
		}
	}
	if taint.TimeAdded == nil {
		now := metav1.Now()
		taint.TimeAdded = &now
	}
	node.Spec.Taints = append(node.Spec.Taints, taint)
	if _, err := k.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		logger.Log.Printf("failed to add taint %v to node %v err %v", taint.Key, nodeName, err)
		return err
	}
	return nil
}

// RemoveTaint removes every taint with key and effect from the node
func (k *K8sClient) RemoveTaint(nodeName, key string, effect v1.TaintEffect) error {
	k.Lock()
	defer k.Unlock()
	ctx, cancel := context.WithCancel(k.ctx)
	defer cancel()

	node, err := k.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		logger.Log.Printf("k8s internal node get failed %v", err)
		return err
	}
	taints := []v1.Taint{}
	for _, t := range node.Spec.Taints {
		if t.Key == key && t.Effect == effect {
			continue
		}
		taints = append(taints, t)
	}
	if len(taints) == len(node.Spec.Taints) {
		return nil
	}
	node.Spec.Taints = taints
	if _, err := k.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		logger.Log.Printf("failed to remove taint %v from node %v err %v", key, nodeName, err)
		return err
	}
	return nil
}
