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

import "time"

// MetricsSink receives every observable counter/gauge the executor
// produces (spec §6). Modeled as an interface, not a process-global, so
// the core stays testable — a test can inject a recording sink and
// assert counts without a Prometheus registry in play.
type MetricsSink interface {
	ObserveStateLoadTime(d time.Duration)
	IncStateLoadWarnings()
	IncStateLoadErrors()
	IncStatePartialLoads()
	SetLiveApplications(n int)
	IncExpiredApplications()
	IncTruncatedApplications(appId AppId)
	ObserveMapAttemptFlushDelay(d time.Duration)
	ObserveMapAttemptFlushTime(d time.Duration)
}

// NoopMetricsSink discards everything. The default when no sink is
// supplied, and what most unit tests use.
type NoopMetricsSink struct{}

var _ MetricsSink = NoopMetricsSink{}

func (NoopMetricsSink) ObserveStateLoadTime(time.Duration)        {}
func (NoopMetricsSink) IncStateLoadWarnings()                     {}
func (NoopMetricsSink) IncStateLoadErrors()                       {}
func (NoopMetricsSink) IncStatePartialLoads()                     {}
func (NoopMetricsSink) SetLiveApplications(int)                   {}
func (NoopMetricsSink) IncExpiredApplications()                   {}
func (NoopMetricsSink) IncTruncatedApplications(AppId)            {}
func (NoopMetricsSink) ObserveMapAttemptFlushDelay(time.Duration) {}
func (NoopMetricsSink) ObserveMapAttemptFlushTime(time.Duration)  {}
