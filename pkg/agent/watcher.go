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
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ROCm/device-health-probe/pkg/globals"
	"github.com/ROCm/device-health-probe/pkg/logger"
)

var debounceDuration = globals.ConfigDebounce

// watchConfig reloads the config when its directory changes, bursts of
// events are debounced
func (a *Agent) watchConfig(ctx context.Context) error {
	configPath := a.runConf.GetConfigPath()
	directory := path.Dir(configPath)
	if err := os.MkdirAll(directory, 0755); err != nil {
		logger.Log.Printf("Error opening config path: %v", err)
	}
	logger.Log.Printf("config directory for watch : %v", directory)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err = watcher.Add(directory); err != nil {
		logger.Log.Printf("failed to watch %v: %v, config reload disabled", directory, err)
		<-ctx.Done()
		return nil
	}
	logger.Log.Printf("starting file watcher for %v", configPath)

	debounce := time.NewTimer(debounceDuration)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	base := filepath.Base(configPath)
	for {
		select {
		case <-ctx.Done():
			logger.Log.Printf("file watcher stopped due to context cancellation")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// configmap mounts swap a ..data symlink, so any entry may carry the change
			if filepath.Base(event.Name) != base && !isConfigMapEntry(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceDuration)
			}
		case <-debounce.C:
			logger.Log.Printf("loading new config on %v", configPath)
			a.ReloadConfig()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Log.Printf("watcher error: %v", err)
		}
	}
}

func isConfigMapEntry(name string) bool {
	b := filepath.Base(name)
	return len(b) > 2 && b[:2] == ".."
}
