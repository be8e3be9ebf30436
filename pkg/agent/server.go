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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ROCm/device-health-probe/pkg/logger"
)

const (
	metricsHandlerPrefix = "/metrics"
)

// DeviceStatus is one /status entry
type DeviceStatus struct {
	DeviceHealth
	Bandwidth *BandwidthSummary `json:"bandwidth,omitempty"`
}

// StatusResponse is the /status body
type StatusResponse struct {
	Node    string         `json:"node,omitempty"`
	Devices []DeviceStatus `json:"devices"`
}

func (a *Agent) status() *StatusResponse {
	resp := &StatusResponse{
		Node:    a.nodeName,
		Devices: []DeviceStatus{},
	}
	for _, d := range a.tracker.List() {
		ds := DeviceStatus{DeviceHealth: d}
		if summary, ok := a.stats.Summary(d.Device); ok {
			ds.Bandwidth = &summary
		}
		resp.Devices = append(resp.Devices, ds)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Printf("failed to encode response: %v", err)
	}
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.status())
}

func (a *Agent) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid device id"})
		return
	}
	d, ok := a.tracker.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("device %v is not tracked", id)})
		return
	}
	ds := DeviceStatus{DeviceHealth: d}
	if summary, ok := a.stats.Summary(id); ok {
		ds.Bandwidth = &summary
	}
	writeJSON(w, http.StatusOK, ds)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Router returns the agent http handler
func (a *Agent) Router() http.Handler {
	router := mux.NewRouter()

	reg := a.mh.GetRegistry()
	router.Handle(metricsHandlerPrefix, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Methods("GET").Path("/healthz").HandlerFunc(handleHealthz)
	router.Methods("GET").Path("/status").HandlerFunc(a.handleStatus)
	router.Methods("GET").Path("/status/{id}").HandlerFunc(a.handleDeviceStatus)
	// pprof
	router.Methods("GET").Subrouter().HandleFunc("/debug/pprof/", pprof.Index)
	router.Methods("GET").Subrouter().HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.Methods("GET").Subrouter().HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.Methods("GET").Subrouter().HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.Methods("GET").Subrouter().HandleFunc("/debug/pprof/trace", pprof.Trace)
	router.Methods("GET").Subrouter().HandleFunc("/debug/pprof/allocs", pprof.Handler("allocs").ServeHTTP)
	router.Methods("GET").Subrouter().HandleFunc("/debug/pprof/heap", pprof.Handler("heap").ServeHTTP)
	router.Methods("GET").Subrouter().HandleFunc("/debug/pprof/goroutine", pprof.Handler("goroutine").ServeHTTP)
	return router
}

func (a *Agent) newServer() *http.Server {
	// enforce some timeouts
	return &http.Server{
		Addr:        fmt.Sprintf("%s:%v", a.bindAddr, a.runConf.GetServerPort()),
		ReadTimeout: 45 * time.Second,
		IdleTimeout: 60 * time.Second,
		Handler:     a.Router(),
	}
}

// serve runs the http server, restarting it when the port changes
func (a *Agent) serve(ctx context.Context) error {
	for {
		srv := a.newServer()
		errCh := make(chan error, 1)
		go func() {
			logger.Log.Printf("serving requests on %s", srv.Addr)
			errCh <- srv.ListenAndServe()
		}()

		stop := func() {
			srvCtx, srvCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer srvCancel()
			if err := srv.Shutdown(srvCtx); err != nil {
				logger.Log.Printf("server on %s shutdown err: %v", srv.Addr, err)
			}
			<-errCh
			logger.Log.Printf("server on %s shutdown gracefully", srv.Addr)
		}

		select {
		case <-ctx.Done():
			stop()
			return nil
		case <-a.restartServer:
			logger.Log.Printf("server port changed, restarting")
			stop()
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("ListenAndServe(): %w", err)
		}
	}
}
