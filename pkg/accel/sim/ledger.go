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

package sim

// Outstanding returns the number of live resources per kind
func (r *Runtime) Outstanding() map[Kind]int {
	r.Lock()
	defer r.Unlock()
	out := map[Kind]int{}
	for _, k := range r.live {
		out[k]++
	}
	return out
}

// Acquired returns how many resources of kind were successfully acquired
func (r *Runtime) Acquired(kind Kind) int {
	r.Lock()
	defer r.Unlock()
	return r.acquired[kind]
}

// Released returns how many resources of kind were released
func (r *Runtime) Released(kind Kind) int {
	r.Lock()
	defer r.Unlock()
	return r.released[kind]
}

// InvalidReleases counts releases of never-acquired or already-released handles
func (r *Runtime) InvalidReleases() int {
	r.Lock()
	defer r.Unlock()
	return r.invalidReleases
}

// Balanced reports whether every acquisition was released exactly once
func (r *Runtime) Balanced() bool {
	r.Lock()
	defer r.Unlock()
	if len(r.live) != 0 || r.invalidReleases != 0 {
		return false
	}
	for _, k := range kinds {
		if r.acquired[k] != r.released[k] {
			return false
		}
	}
	return true
}

// Calls returns the runtime calls made so far, in order
func (r *Runtime) Calls() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string{}, r.calls...)
}
