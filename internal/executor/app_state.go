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

import "go.uber.org/atomic"

// AppState tracks liveness and cumulative write volume for one
// application. Created lazily on first touch; destroyed by
// removeExpiredApplications once liveness goes stale.
type AppState struct {
	appId AppId

	// livenessMillis is a monotonic wall-clock timestamp (ms), updated on
	// any activity touching this app.
	livenessMillis atomic.Int64

	// numWriteBytes is a monotonic non-decreasing counter of bytes this
	// app has written across all its stages.
	numWriteBytes atomic.Int64
}

// newAppState creates an AppState with liveness set to nowMillis.
func newAppState(appId AppId, nowMillis int64) *AppState {
	s := &AppState{appId: appId}
	s.livenessMillis.Store(nowMillis)
	return s
}

// touch refreshes liveness to nowMillis. Called on every operation that
// reaches this app.
func (s *AppState) touch(nowMillis int64) {
	s.livenessMillis.Store(nowMillis)
}

// liveness returns the last-touched timestamp in epoch milliseconds.
func (s *AppState) liveness() int64 {
	return s.livenessMillis.Load()
}

// addWriteBytes adds n to the cumulative counter and returns the new
// total. n must be >= 0.
func (s *AppState) addWriteBytes(n int64) int64 {
	return s.numWriteBytes.Add(n)
}

// writeBytes returns the current cumulative write-byte counter.
func (s *AppState) writeBytes() int64 {
	return s.numWriteBytes.Load()
}

// expired reports whether this app's liveness is older than retention,
// measured against nowMillis.
func (s *AppState) expired(nowMillis int64, retentionMillis int64) bool {
	return nowMillis-s.liveness() > retentionMillis
}
