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

package executor

import (
	"time"

	"github.com/remoteshuffle/executor/pkg/metrics"
)

// PrometheusMetricsSink is the production MetricsSink, backed by the
// collectors in pkg/metrics. Call metrics.RegisterAll against the
// process registry before wiring this in.
type PrometheusMetricsSink struct{}

var _ MetricsSink = PrometheusMetricsSink{}

func (PrometheusMetricsSink) ObserveStateLoadTime(d time.Duration) {
	metrics.StateLoadTime.Observe(d.Seconds())
}

func (PrometheusMetricsSink) IncStateLoadWarnings() {
	metrics.StateLoadWarnings.Inc()
}

func (PrometheusMetricsSink) IncStateLoadErrors() {
	metrics.StateLoadErrors.Inc()
}

func (PrometheusMetricsSink) IncStatePartialLoads() {
	metrics.StatePartialLoads.Inc()
}

func (PrometheusMetricsSink) SetLiveApplications(n int) {
	metrics.NumLiveApplications.Set(float64(n))
}

func (PrometheusMetricsSink) IncExpiredApplications() {
	metrics.NumExpiredApplications.Inc()
}

func (PrometheusMetricsSink) IncTruncatedApplications(appId AppId) {
	metrics.NumTruncatedApplications.WithLabelValues(string(appId)).Inc()
}

func (PrometheusMetricsSink) ObserveMapAttemptFlushDelay(d time.Duration) {
	metrics.MapAttemptFlushDelay.Observe(d.Seconds())
}

func (PrometheusMetricsSink) ObserveMapAttemptFlushTime(d time.Duration) {
	metrics.MapAttemptFlushTime.Observe(d.Seconds())
}
