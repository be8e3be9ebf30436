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

// metricutil dumps and watches health probe metrics from an agent
// endpoint or a probe textfile
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	metricPrefix = "health_probe_"
	deviceLabel  = "device"
)

// sample is one flattened metric value
type sample struct {
	Name   string            `json:"name"`
	Device string            `json:"device,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

func (s sample) key() string {
	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s.Labels[k])
	}
	return fmt.Sprintf("%v{%v}", s.Name, strings.Join(parts, ","))
}

func parseMF(reader io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mf, err := parser.TextToMetricFamilies(reader)
	if err != nil {
		return nil, err
	}
	return mf, nil
}

func getValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

// flatten returns the probe samples sorted by device then key, zero
// valued outcome indicators are dropped
func flatten(mf map[string]*dto.MetricFamily) []sample {
	out := []sample{}
	for name, fam := range mf {
		if !strings.HasPrefix(name, metricPrefix) {
			continue
		}
		short := strings.TrimPrefix(name, metricPrefix)
		for _, m := range fam.Metric {
			s := sample{Name: short, Labels: map[string]string{}, Value: getValue(m)}
			for _, l := range m.GetLabel() {
				if l.GetName() == deviceLabel {
					s.Device = l.GetValue()
					continue
				}
				s.Labels[l.GetName()] = l.GetValue()
			}
			if short == "outcome" && s.Value == 0 {
				continue
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			di, erri := strconv.Atoi(out[i].Device)
			dj, errj := strconv.Atoi(out[j].Device)
			if erri == nil && errj == nil {
				return di < dj
			}
			return out[i].Device < out[j].Device
		}
		return out[i].key() < out[j].key()
	})
	return out
}

func getMetrics(input string) ([]byte, map[string]*dto.MetricFamily, error) {
	var body []byte
	if _, err := os.Stat(input); err == nil {
		body, err = os.ReadFile(input)
		if err != nil {
			return nil, nil, err
		}
	} else {
		if !strings.HasPrefix(input, "http") {
			input = "http://" + input
		}
		resp, err := http.Get(input)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("%v: %v", input, resp.Status)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, err
		}
	}
	mf, err := parseMF(bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	return body, mf, nil
}

// compareMetrics returns device, metric, last and current value rows
func compareMetrics(last, current []sample) [][4]string {
	prev := map[string]float64{}
	for _, s := range last {
		prev[s.Device+"/"+s.key()] = s.Value
	}
	diff := [][4]string{}
	for _, s := range current {
		lastValue := "-"
		if v, ok := prev[s.Device+"/"+s.key()]; ok {
			lastValue = strconv.FormatFloat(v, 'g', -1, 64)
		}
		diff = append(diff, [4]string{s.Device, s.key(), lastValue, strconv.FormatFloat(s.Value, 'g', -1, 64)})
	}
	return diff
}

func clearTerminal() {
	fmt.Print("\033[H\033[2J")
}

func watchMetric(input, outCurr string, interval time.Duration) {
	var last []sample
	for {
		buf, mf, err := getMetrics(input)
		if err != nil {
			log.Fatalln(err)
		}
		if err = os.WriteFile(outCurr, buf, 0644); err != nil {
			log.Fatalln(err)
		}
		current := flatten(mf)

		clearTerminal()
		writer := tabwriter.NewWriter(os.Stdout, 5, 1, 1, ' ', 0)
		writer.Write([]byte("\n"))
		writer.Write([]byte("Device\tMetric\tLast Iteration\tCurrent Iteration\n"))
		for _, row := range compareMetrics(last, current) {
			writer.Write([]byte(strings.Join(row[:], "\t") + "\n"))
		}
		writer.Flush()

		time.Sleep(interval)
		last = current
	}
}

func writeOutput(filename string, data interface{}) error {
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, buf, 0644)
}

func process(input, output string) error {
	_, mf, err := getMetrics(input)
	if err != nil {
		return err
	}
	return writeOutput(output, flatten(mf))
}

func main() {
	o := flag.String("o", "output.json", "output filepath")
	outCurr := flag.String("out-curr", "output_curr.txt", "current iteration raw data filepath for watch")
	w := flag.Bool("w", false, "watch mode")
	interval := flag.Duration("i", 5*time.Second, "interval to pull")

	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Println("Please supply one input source, an agent metrics url or a probe textfile")
		return
	}

	if *w {
		watchMetric(flag.Args()[0], *outCurr, *interval)
		return
	}

	if err := process(flag.Args()[0], *o); err != nil {
		log.Fatalln(err)
	}
	fmt.Printf("save result into %s\n", *o)
}
