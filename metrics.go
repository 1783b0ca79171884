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

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the node-wide gauges and counters the runtime exposes
// for a group of tasks (ambient observability the core's own §1 scope
// leaves to an external collaborator, carried here the way the admin
// HTTP surface expects to find them registered).
type Metrics struct {
	TimerActive    prometheus.Gauge
	PausedTasks    prometheus.Gauge
	CheckFaults    prometheus.Counter
	CheckTimeouts  prometheus.Counter
	CheckNoopDone  prometheus.Counter
	LaunchRetries  prometheus.Counter
}

// NewMetrics creates and registers the task runtime's Prometheus
// collectors against reg. reg must not be nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		TimerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamtask",
			Name:      "timer_active",
			Help:      "Number of tasks with an outstanding monitor timer.",
		}),
		PausedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamtask",
			Name:      "paused_tasks",
			Help:      "Number of tasks currently paused on this node.",
		}),
		CheckFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamtask",
			Name:      "check_faults_total",
			Help:      "Downstream-readiness cycles aborted due to a fault response.",
		}),
		CheckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamtask",
			Name:      "check_timeouts_total",
			Help:      "Downstream probes that timed out without a response.",
		}),
		CheckNoopDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamtask",
			Name:      "check_noop_complete_total",
			Help:      "complete_check_rsp calls observed on an already-idle engine.",
		}),
		LaunchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamtask",
			Name:      "htask_launch_retries_total",
			Help:      "Fill-history task launch attempts that had to be retried.",
		}),
	}

	reg.MustRegister(
		m.TimerActive,
		m.PausedTasks,
		m.CheckFaults,
		m.CheckTimeouts,
		m.CheckNoopDone,
		m.LaunchRetries,
	)

	return m
}
