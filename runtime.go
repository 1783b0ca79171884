package streamtask

/*
   Copyright 2018 Bruno Moura <brunotm@gmail.com>

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunotm/streamtask/internal/httpserver"
)

// Runtime is the composition root for one node's worth of tasks: it owns
// the shared TaskList, the node-wide paused-task counter, the Prometheus
// registry, and the admin HTTP surface those are exposed through. Wiring a
// task into a Runtime is what used to be done by hand per-stream; here it
// is a single RegisterTask call (§1, "host process composition").
type Runtime struct {
	list           *TaskList
	numPausedTasks atomic.Int32
	registry       *prometheus.Registry
	metrics        *Metrics
	timers         TimerService
	server         *httpserver.Server
}

// NewRuntime creates a Runtime listening for admin/debug HTTP requests on
// addr. Passing an empty addr skips starting the server, useful in tests.
func NewRuntime(addr string) *Runtime {
	reg := prometheus.NewRegistry()
	r := &Runtime{
		list:     NewTaskList(),
		registry: reg,
		metrics:  NewMetrics(reg),
		timers:   NewSystemTimerService(),
	}

	if addr != "" {
		r.server = httpserver.New(httpserver.Config{Addr: addr})
		r.server.AddHandler(http.MethodGet, "/metrics", wrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
		r.server.AddHandler(http.MethodGet, "/tasks", r.handleListTasks)
		r.server.AddHandler(http.MethodGet, "/tasks/:id", r.handleGetTask)
		r.server.AddHandler(http.MethodPost, "/tasks/:id/pause", r.handlePauseTask)
		r.server.AddHandler(http.MethodPost, "/tasks/:id/resume", r.handleResumeTask)
	}

	return r
}

func wrapHandler(h http.Handler) httpserver.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httpserver.Params) {
		h.ServeHTTP(w, req)
	}
}

// Start begins serving the admin HTTP surface, blocking until it is closed.
// A Runtime created with an empty addr has nothing to serve and returns nil
// immediately.
func (r *Runtime) Start() error {
	if r.server == nil {
		return nil
	}
	return r.server.Start()
}

// Close shuts the admin HTTP surface down.
func (r *Runtime) Close(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Close(ctx)
}

// RegisterTask attaches collaborators shared by every task on this node —
// the timer service, the paused-task counter, the metrics registry — and
// initializes it. t must have been created with Runtime.Tasks() as its
// TaskList so it is already a member of r's registry.
func (r *Runtime) RegisterTask(t *Task, meta MetaCallbacks, msgCB MsgCallback, cfg RuntimeConfig, initialVer int64) error {
	t.SetMetrics(r.metrics)
	return t.Init(meta, msgCB, r.timers, cfg, &r.numPausedTasks, initialVer)
}

// Tasks returns the shared task list.
func (r *Runtime) Tasks() *TaskList {
	return r.list
}

// NumPausedTasks returns the node-wide paused-task count.
func (r *Runtime) NumPausedTasks() int32 {
	return r.numPausedTasks.Load()
}

type taskSummary struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	SchedState string `json:"sched_status"`
}

func (r *Runtime) handleListTasks(w http.ResponseWriter, req *http.Request, _ httpserver.Params) {
	var out []taskSummary
	r.list.Range(func(t *Task) bool {
		out = append(out, taskSummary{
			ID:         t.ID.String(),
			Status:     t.Status().String(),
			SchedState: t.SchedStatus().String(),
		})
		return true
	})
	writeJSON(w, out)
}

func (r *Runtime) handleGetTask(w http.ResponseWriter, req *http.Request, ps httpserver.Params) {
	found := r.findTask(ps.ByName("id"))
	if found == nil {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, taskSummary{
		ID:         found.ID.String(),
		Status:     found.Status().String(),
		SchedState: found.SchedStatus().String(),
	})
}

func (r *Runtime) findTask(id string) *Task {
	var found *Task
	r.list.Range(func(t *Task) bool {
		if t.ID.String() == id {
			found = t
			return false
		}
		return true
	})
	return found
}

func (r *Runtime) handlePauseTask(w http.ResponseWriter, req *http.Request, ps httpserver.Params) {
	t := r.findTask(ps.ByName("id"))
	if t == nil {
		http.NotFound(w, req)
		return
	}
	t.Pause()
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleResumeTask(w http.ResponseWriter, req *http.Request, ps httpserver.Params) {
	t := r.findTask(ps.ByName("id"))
	if t == nil {
		http.NotFound(w, req)
		return
	}
	t.Resume()
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
