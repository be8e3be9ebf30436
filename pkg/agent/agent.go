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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ROCm/device-health-probe/pkg/agent/config"
	"github.com/ROCm/device-health-probe/pkg/globals"
	"github.com/ROCm/device-health-probe/pkg/healthprobe"
	"github.com/ROCm/device-health-probe/pkg/logger"
	"github.com/ROCm/device-health-probe/pkg/metrics"
)

// AgentOption set desired option
type AgentOption func(a *Agent)

// WithRunner replaces the exec runner
func WithRunner(r Runner) AgentOption {
	return func(a *Agent) {
		a.runner = r
	}
}

// WithNodeClient enables node isolation through client
func WithNodeClient(client NodeClient) AgentOption {
	return func(a *Agent) {
		a.nodeClient = client
	}
}

// WithNodeName sets the node the agent runs on
func WithNodeName(name string) AgentOption {
	return func(a *Agent) {
		a.nodeName = name
	}
}

// WithBindAddr sets the http bind address
func WithBindAddr(bindAddr string) AgentOption {
	return func(a *Agent) {
		a.bindAddr = bindAddr
	}
}

// Agent probes the node devices on a schedule and isolates the node when a
// device turns unhealthy
type Agent struct {
	runConf    *config.ConfigHandler
	runner     Runner
	nodeClient NodeClient
	nodeName   string
	bindAddr   string

	mh       *metrics.MetricsHandler
	tracker  *HealthTracker
	stats    *BandwidthStats
	isolator *Isolator
	exporter *Exporter
	now      func() time.Time

	// serializes checks, the probe never runs on two devices at once
	checkLock sync.Mutex

	reschedule    chan struct{}
	restartServer chan struct{}
}

func NewAgent(runConf *config.ConfigHandler, opts ...AgentOption) *Agent {
	a := &Agent{
		runConf:       runConf,
		bindAddr:      globals.AgentBindAddress,
		mh:            metrics.NewAgentMetrics(),
		now:           time.Now,
		reschedule:    make(chan struct{}, 1),
		restartServer: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	cfg := runConf.GetConfig()
	if a.runner == nil {
		a.runner = NewExecRunner(cfg.ProbePath)
	}
	a.tracker = NewHealthTracker(a.nodeName)
	a.stats = NewBandwidthStats(cfg.BandwidthWindow)
	a.isolator = NewIsolator(a.nodeClient, a.nodeName, a.mh)
	a.exporter = NewExporter(runConf.GetLogDir())
	return a
}

func (a *Agent) GetMetrics() *metrics.MetricsHandler {
	return a.mh
}

func (a *Agent) GetTracker() *HealthTracker {
	return a.tracker
}

func (a *Agent) statusDBPath() string {
	return filepath.Join(a.runConf.GetLogDir(), globals.DefaultStatusDBSubPath)
}

// LoadStatus restores the persisted device health
func (a *Agent) LoadStatus() {
	path := a.statusDBPath()
	status, err := LoadHealthStatus(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Log.Printf("failed to load health status from %v, err: %v", path, err)
		}
	} else {
		a.tracker.Restore(status)
		logger.Log.Printf("restored health of %v devices from %v", len(status.Devices), path)
	}
	for _, id := range a.runConf.GetConfig().Devices {
		a.tracker.Ensure(id)
	}
	for _, d := range a.tracker.List() {
		a.mh.SetDeviceState(strconv.Itoa(d.Device), d.State.Value())
	}
}

func (a *Agent) saveStatus() {
	path := a.statusDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.Log.Printf("failed to create status dir for %v, err: %v", path, err)
		return
	}
	if err := SaveHealthStatus(a.tracker.Status(a.now()), path); err != nil {
		logger.Log.Printf("failed to save health status to %v, err: %v", path, err)
	}
}

// Check probes device once in mode and applies the result
func (a *Agent) Check(ctx context.Context, device int, mode healthprobe.Mode) (*DeviceHealth, error) {
	a.checkLock.Lock()
	defer a.checkLock.Unlock()

	cfg := a.runConf.GetConfig()
	req := ProbeRequest{
		Device:       device,
		Mode:         mode,
		Runtime:      cfg.Runtime,
		ProbeTimeout: cfg.ProbeTimeout.Duration,
		KillGrace:    cfg.KillGrace.Duration,
	}
	run, err := a.runner.Run(ctx, req)
	if errors.Is(err, ErrProbeNotFound) {
		logger.Log.Printf("skipping %v check of device %v: %v", mode, device, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res := run.Result
	// the child may report another device index on bad output
	res.Device = device
	res.Mode = mode
	devLabel := strconv.Itoa(device)

	a.mh.Record(res)
	if res.Outcome != healthprobe.OutcomeHealthy {
		a.mh.IncCheckFailure(devLabel, string(res.Outcome))
		logger.Log.Printf("device %v %v check failed: outcome=%v stage=%v error=%v", device, mode, res.Outcome, res.Stage, res.Error)
		if _, err := a.exporter.Export(ctx, run, cfg.LogsExport); err != nil {
			logger.Log.Printf("result log export of run %v failed: %v", res.RunID, err)
		}
	}
	if summary, ok := a.stats.Add(device, res.Bandwidth); ok {
		a.mh.SetBandwidthStats(devLabel, metrics.DirectionH2D, summary.H2D.Mean, summary.H2D.StdDev)
		a.mh.SetBandwidthStats(devLabel, metrics.DirectionD2H, summary.D2H.Mean, summary.D2H.StdDev)
	}

	now := a.now()
	dh, prev, action := a.tracker.Apply(res, cfg.FailureThreshold, cfg.RecoveryThreshold, now)
	if dh.State != prev {
		logger.Log.Printf("device %v health %v -> %v (failures=%v, outcome=%v)", device, prev, dh.State, dh.FailureCount, res.Outcome)
	}
	switch action {
	case ActionIsolate:
		err := a.isolator.Isolate(cfg.Isolation, dh, res, a.tracker.HealthMap())
		dh = a.tracker.Isolated(device, err, a.now())
		if err == nil {
			logger.Log.Printf("device %v health %v -> %v", device, StateUnhealthy, dh.State)
		}
	case ActionRecover:
		if err := a.isolator.Recover(cfg.Isolation, dh, a.tracker.HealthMap()); err != nil {
			logger.Log.Printf("device %v recovered but node isolation was not fully reverted: %v", device, err)
		}
	}
	a.mh.SetDeviceState(devLabel, dh.State.Value())
	a.saveStatus()
	return &dh, nil
}

type scheduleEntry struct {
	device   int
	mode     healthprobe.Mode
	interval time.Duration
	next     time.Time
}

// buildSchedule lists the checks of cfg, existing entries keep their next
// run unless the new interval brings it closer
func buildSchedule(cfg config.AgentConfig, old []*scheduleEntry, now time.Time) []*scheduleEntry {
	prev := map[string]*scheduleEntry{}
	for _, e := range old {
		prev[fmt.Sprintf("%v/%v", e.device, e.mode)] = e
	}
	entries := []*scheduleEntry{}
	add := func(device int, mode healthprobe.Mode, interval time.Duration) {
		e := &scheduleEntry{device: device, mode: mode, interval: interval, next: now}
		if p, ok := prev[fmt.Sprintf("%v/%v", device, mode)]; ok {
			e.next = p.next
			if limit := now.Add(interval); e.next.After(limit) {
				e.next = limit
			}
		}
		entries = append(entries, e)
	}
	for _, id := range cfg.Devices {
		add(id, healthprobe.ModeMemory, cfg.Interval.Duration)
	}
	if cfg.PCIeEnabled {
		for _, id := range cfg.Devices {
			add(id, healthprobe.ModePCIe, cfg.PCIeInterval.Duration)
		}
	}
	return entries
}

// schedule runs due checks one after another until ctx is done
func (a *Agent) schedule(ctx context.Context) error {
	entries := buildSchedule(a.runConf.GetConfig(), nil, a.now())
	for {
		var due time.Time
		for i, e := range entries {
			if i == 0 || e.next.Before(due) {
				due = e.next
			}
		}
		if len(entries) == 0 {
			due = a.now().Add(globals.DefaultProbeInterval)
		}
		timer := time.NewTimer(due.Sub(a.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-a.reschedule:
			timer.Stop()
			entries = buildSchedule(a.runConf.GetConfig(), entries, a.now())
			logger.Log.Printf("schedule rebuilt with %v checks", len(entries))
			continue
		case <-timer.C:
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return nil
			}
			if e.next.After(a.now()) {
				continue
			}
			if _, err := a.Check(ctx, e.device, e.mode); err != nil && ctx.Err() == nil {
				logger.Log.Printf("%v check of device %v failed to run: %v", e.mode, e.device, err)
			}
			e.next = a.now().Add(e.interval)
		}
	}
}

// ReloadConfig re-reads the config file and applies it to the running agent
func (a *Agent) ReloadConfig() {
	oldPort := a.runConf.GetServerPort()
	if err := a.runConf.RefreshConfig(); err != nil {
		logger.Log.Printf("config refresh failed: %v", err)
	}
	cfg := a.runConf.GetConfig()
	a.stats.Resize(cfg.BandwidthWindow)
	if r, ok := a.runner.(*ExecRunner); ok {
		r.SetProbePath(cfg.ProbePath)
	}
	for _, id := range cfg.Devices {
		a.tracker.Ensure(id)
	}
	notify(a.reschedule)
	if a.runConf.GetServerPort() != oldPort {
		notify(a.restartServer)
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run serves http, watches the config and runs the schedule until ctx is done
func (a *Agent) Run(ctx context.Context) error {
	a.LoadStatus()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.serve(gctx)
	})
	g.Go(func() error {
		return a.watchConfig(gctx)
	})
	g.Go(func() error {
		return a.schedule(gctx)
	})
	err := g.Wait()
	a.saveStatus()
	return err
}
