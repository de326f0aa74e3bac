// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics is the small Prometheus wrapper behind the executor's
// MetricsSink — one collector per observable counter/gauge the core
// defines, registered once at process start.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shuffle_executor"

var (
	StateLoadTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "state_load_time_seconds",
		Help:      "Wall-clock time spent replaying the state store at startup.",
		Buckets:   prometheus.DefBuckets,
	})

	StateLoadWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_load_warnings_total",
		Help:      "Count of recoverable anomalies seen while replaying the state store.",
	})

	StateLoadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_load_errors_total",
		Help:      "Count of unrecoverable errors seen while replaying the state store.",
	})

	StatePartialLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_partial_loads_total",
		Help:      "Count of startups where replay stopped early: the load budget was exceeded or the log ended in a torn record.",
	})

	NumLiveApplications = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "num_live_applications",
		Help:      "Number of applications with a live AppState.",
	})

	NumExpiredApplications = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "num_expired_applications_total",
		Help:      "Count of applications reclaimed by the expiry sweep.",
	})

	NumTruncatedApplications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "num_truncated_applications_total",
		Help:      "Count of applications that hit their write-byte quota, labeled by app.",
	}, []string{"app_id"})

	MapAttemptFlushDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "map_attempt_flush_delay_seconds",
		Help:      "Time between a map attempt's finishUpload enqueue and its flush task starting.",
		Buckets:   prometheus.DefBuckets,
	})

	MapAttemptFlushTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "map_attempt_flush_time_seconds",
		Help:      "Time spent executing flushPartitions for one batch of map attempts.",
		Buckets:   prometheus.DefBuckets,
	})
)

// RegisterAll registers every collector above against reg. Safe to call
// more than once against the same registry — a duplicate registration
// is treated as benign, which matters for tests that build several
// executors sharing the default registry.
func RegisterAll(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		StateLoadTime, StateLoadWarnings, StateLoadErrors, StatePartialLoads,
		NumLiveApplications, NumExpiredApplications, NumTruncatedApplications,
		MapAttemptFlushDelay, MapAttemptFlushTime,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
