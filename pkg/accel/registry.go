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

package accel

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a fresh runtime instance
type Factory func() (Runtime, error)

// Backend describes a registered runtime implementation
type Backend struct {
	Name string
	New  Factory
	// Hardware backends are eligible for automatic selection
	Hardware bool
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
	order    []string
)

// Register adds a backend, registering a name twice panics
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b.Name == "" || b.New == nil {
		panic("accel: invalid backend registration")
	}
	if _, ok := backends[b.Name]; ok {
		panic(fmt.Sprintf("accel: backend %q registered twice", b.Name))
	}
	backends[b.Name] = b
	order = append(order, b.Name)
}

// Backends lists registered backend names sorted alphabetically
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedNames()
}

func sortedNames() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open instantiates the named backend. An empty name picks the first
// registered hardware backend, the sim backend is only used when asked for.
func Open(name string) (Runtime, error) {
	b, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return b.New()
}

func lookup(name string) (Backend, error) {
	mu.RLock()
	defer mu.RUnlock()
	if name == "" {
		for _, n := range order {
			if backends[n].Hardware {
				return backends[n], nil
			}
		}
		return Backend{}, fmt.Errorf("no accelerator runtime compiled in, available backends: [%s]",
			strings.Join(sortedNames(), ", "))
	}
	b, ok := backends[name]
	if !ok {
		return Backend{}, fmt.Errorf("unknown runtime %q, available backends: [%s]",
			name, strings.Join(sortedNames(), ", "))
	}
	return b, nil
}
