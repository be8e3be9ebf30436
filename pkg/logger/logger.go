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

package logger

import (
	"log"
	"os"
	"path/filepath"
	"sync"
)

var (
	// Log is usable before Init and writes to stderr until reconfigured
	Log       = log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)
	logdir    = "/var/log/"
	logfile   = "health-probe.log"
	logPrefix = "health-probe "
	once      sync.Once
)

// SetLogPrefix sets prefix in the log to be health-probe or probe-agent
func SetLogPrefix(prefix string) {
	logPrefix = prefix
}

// SetLogFile sets the log file name
func SetLogFile(file string) {
	logfile = file
}

// SetLogDir sets the path to the directory of logs
func SetLogDir(dir string) {
	logdir = dir
}

func initLogger(console bool) {
	if console {
		// stdout belongs to the probe report, console logs go to stderr
		Log = log.New(os.Stderr, logPrefix, log.Lmsgprefix)
	} else {
		if os.Getenv("LOGDIR") != "" {
			logdir = os.Getenv("LOGDIR")
		}
		outfile, err := os.OpenFile(filepath.Join(logdir, logfile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			Log = log.New(os.Stderr, logPrefix, log.Lmsgprefix)
			Log.Printf("failed to open log file %v, logging to stderr: %v", filepath.Join(logdir, logfile), err)
		} else {
			Log = log.New(outfile, "", 0)
		}
	}

	Log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// Init configures the logger once, later calls are no-ops
func Init(console bool) {
	init := func() {
		initLogger(console)
	}
	once.Do(init)
}
