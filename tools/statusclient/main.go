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

// statusclient queries the probe agent status endpoint
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ROCm/device-health-probe/pkg/agent"
	k8sclient "github.com/ROCm/device-health-probe/pkg/client"
	"github.com/ROCm/device-health-probe/pkg/globals"
	"github.com/ROCm/device-health-probe/pkg/utils"
)

var jout = flag.Bool("json", false, "output in json format")

func prettyPrintStatus(resp *agent.StatusResponse) {
	if *jout {
		jsonData, err := json.Marshal(resp)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		fmt.Println(string(jsonData))
		return
	}
	sort.Slice(resp.Devices, func(i, j int) bool {
		return resp.Devices[i].Device < resp.Devices[j].Device
	})
	if resp.Node != "" {
		fmt.Printf("node: %v\n", resp.Node)
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHealth\tFailures\tLast Outcome\tLast Mode\tLast Check\tH2D GB/s\tD2H GB/s")
	for _, d := range resp.Devices {
		h2d, d2h := "-", "-"
		if bw := d.Bandwidth; bw != nil {
			h2d = fmt.Sprintf("%.2f±%.2f", bw.H2D.Mean, bw.H2D.StdDev)
			d2h = fmt.Sprintf("%.2f±%.2f", bw.D2H.Mean, bw.D2H.StdDev)
		}
		lastCheck := "-"
		if !d.LastCheck.IsZero() {
			lastCheck = d.LastCheck.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
			d.Device, d.State, d.FailureCount, d.LastOutcome, d.LastMode, lastCheck, h2d, d2h)
	}
	w.Flush()
}

func fetch(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%v: %v %v", url, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func list(ctx context.Context, addr string) error {
	resp := &agent.StatusResponse{}
	if err := fetch(ctx, addr+"/status", resp); err != nil {
		return err
	}
	prettyPrintStatus(resp)
	return nil
}

func get(ctx context.Context, addr, id string) error {
	ds := agent.DeviceStatus{}
	if err := fetch(ctx, fmt.Sprintf("%v/status/%v", addr, id), &ds); err != nil {
		return err
	}
	prettyPrintStatus(&agent.StatusResponse{Devices: []agent.DeviceStatus{ds}})
	return nil
}

func printNodeLabels(ctx context.Context) {
	nodeName := utils.GetNodeName()
	if nodeName == "" || !utils.IsKubernetes() {
		fmt.Println("not a k8s deployment")
		return
	}
	kc, err := k8sclient.NewClient(ctx)
	if err != nil {
		fmt.Printf("err: %+v\n", err)
		return
	}
	node, err := kc.GetNode(nodeName)
	if err != nil {
		fmt.Printf("err: %+v\n", err)
		return
	}
	fmt.Printf("node[%v] device health labels[%+v] unschedulable[%v]\n",
		nodeName, utils.ParseNodeHealthLabel(node.Labels), node.Spec.Unschedulable)
	for _, t := range node.Spec.Taints {
		fmt.Printf("taint %v=%v:%v\n", t.Key, t.Value, t.Effect)
	}
}

func main() {
	var (
		addr         = flag.String("addr", fmt.Sprintf("http://localhost:%v", globals.AgentListenPort), "probe agent address")
		getOpt       = flag.Bool("get", false, "get health status of one device")
		id           = flag.String("id", "0", "device id")
		getNodeLabel = flag.Bool("label", false, "get k8s node health labels")
		timeout      = flag.Duration("timeout", 10*time.Second, "request timeout")
	)
	flag.Parse()

	if !strings.HasPrefix(*addr, "http") {
		*addr = "http://" + *addr
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	if *getOpt {
		err = get(ctx, *addr, *id)
	} else {
		err = list(ctx, *addr)
	}
	if err != nil {
		log.Fatalf("request failed :%v", err)
	}

	if *getNodeLabel {
		printNodeLabels(ctx)
	}
}
