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

package utils

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

type TestUtils struct {
}

func New() *TestUtils {
	return &TestUtils{}
}

// LocalCommandOutput runs a command on a node and returns output in string format
func (tu *TestUtils) LocalCommandOutput(command string) string {
	out, err := exec.Command("bash", "-c", command).CombinedOutput()
	if err != nil {
		log.Printf("local command out err %+v", err)
		return ""
	}
	return strings.TrimSpace(string(out))
}

// CommandResult holds the outputs of a finished command
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RunCommand runs name with args and extra env, a non zero exit is not an error
func (tu *TestUtils) RunCommand(env []string, name string, args ...string) (*CommandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Printf("executing cmd [%v %v]", name, strings.Join(args, " "))
	err := cmd.Run()
	res := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, err
	}
	return res, nil
}

type MetricData struct {
	Labels map[string]string
	Value  float64
}

func (m *MetricData) String() string {
	return fmt.Sprintf("labels : %+v value : %v", m.Labels, m.Value)
}

// DeviceMetric holds the series of one device keyed by metric name and
// the remaining labels
type DeviceMetric struct {
	Fields map[string][]MetricData
}

func (m *DeviceMetric) String() string {
	return fmt.Sprintf("field: %+v", m.Fields)
}

// Get returns the value of name whose labels include labels
func (m *DeviceMetric) Get(name string, labels map[string]string) (float64, bool) {
	for _, d := range m.Fields[name] {
		match := true
		for k, v := range labels {
			if d.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			return d.Value, true
		}
	}
	return 0, false
}

func parseKeyValueStrings(kvStr string) (map[string]string, error) {
	kvMap := make(map[string]string)

	pairs := strings.Split(kvStr, ",")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			return kvMap, fmt.Errorf("invalid string, expecting format key=value,key1=value2")
		}

		kv := strings.Split(pair, "=")
		if len(kv) == 2 {
			key := strings.TrimSpace(kv[0])
			value := strings.Trim(strings.TrimSpace(kv[1]), `"`)
			kvMap[key] = value
		}
	}

	return kvMap, nil
}

// ParsePrometheusMetrics groups the labelled series of payload by device
func ParsePrometheusMetrics(payload string) (map[string]*DeviceMetric, error) {
	metrics := make(map[string]*DeviceMetric)

	// example : `health_probe_success{device="0",mode="memory"} 1`
	re := regexp.MustCompile(`^(\w+)\{([^}]+)\}\s(\S+)$`)

	metricLines := strings.Split(strings.ReplaceAll(payload, "\r\n", "\n"), "\n")
	for _, metricLine := range metricLines {
		matches := re.FindStringSubmatch(metricLine)
		if len(matches) != 4 {
			// ignore the non metric lines
			continue
		}
		metricName := matches[1]
		labels, err := parseKeyValueStrings(matches[2])
		if err != nil {
			return metrics, err
		}
		// filter only probe metrics, with device label
		device, ok := labels["device"]
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(matches[3], 64)
		if err != nil {
			return metrics, fmt.Errorf("invalid value in %q: %v", metricLine, err)
		}
		if _, ok := metrics[device]; !ok {
			metrics[device] = &DeviceMetric{
				Fields: make(map[string][]MetricData),
			}
		}
		metric := metrics[device]
		metric.Fields[metricName] = append(metric.Fields[metricName], MetricData{
			Labels: labels,
			Value:  value,
		})
	}

	if len(metrics) == 0 {
		return metrics, fmt.Errorf("payload invalid")
	}

	return metrics, nil
}
