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

package timerecord

import "time"

// TimeRecorder measures elapsed wall-clock time since it was created or
// last reset, for feeding into latency metrics.
type TimeRecorder struct {
	name  string
	start time.Time
	last  time.Time
}

// NewTimeRecorder starts a recorder tagged with name (used only for
// readability at call sites, not emitted anywhere by itself).
func NewTimeRecorder(name string) *TimeRecorder {
	now := time.Now()
	return &TimeRecorder{name: name, start: now, last: now}
}

// ElapseSpan returns the time since the recorder was created or since
// the last ElapseSpan call, and resets the span start.
func (tr *TimeRecorder) ElapseSpan() time.Duration {
	now := time.Now()
	d := now.Sub(tr.last)
	tr.last = now
	return d
}

// TotalElapse returns the time since the recorder was created.
func (tr *TimeRecorder) TotalElapse() time.Duration {
	return time.Since(tr.start)
}
