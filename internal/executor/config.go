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
	"strconv"
	"time"

	"github.com/remoteshuffle/executor/pkg/config"
)

// WriteConfig is the immutable per-stage configuration a mapper supplies
// at registerShuffle time. numSplits must be >= 1.
type WriteConfig struct {
	NumSplits            int32
	FileCompressionCodec string
}

// Equal reports whether two WriteConfigs describe the same stage layout.
// Used by StageState.register to detect a re-registration mismatch.
func (c WriteConfig) Equal(o WriteConfig) bool {
	return c.NumSplits == o.NumSplits && c.FileCompressionCodec == o.FileCompressionCodec
}

// ExecutorConfig is the process-wide configuration for a ShuffleExecutor,
// the Go reading of spec §6's enumerated configuration plus the ambient
// knobs SPEC_FULL.md §6 adds (state store path, flush concurrency,
// expiry/load timing). Field names mirror the teacher's ParamItem
// accessor style (component_param.go) without the dynamic-reload
// machinery — see pkg/config's package doc for why.
type ExecutorConfig struct {
	RootDir              string
	FsyncEnabled         bool
	AppRetention         time.Duration
	AppFileRetention     time.Duration
	AppMaxWriteBytes     int64
	StateCommitInterval  time.Duration
	StateStorePath       string
	MaxConcurrentFlushes int
	ExpiryInterval       time.Duration
	LoadBudget           time.Duration
}

// DefaultExecutorConfig returns the spec's documented defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		RootDir:              "/var/lib/shuffle-executor",
		FsyncEnabled:         true,
		AppRetention:         6 * time.Hour,
		AppFileRetention:     36 * time.Hour,
		AppMaxWriteBytes:     3 * 1024 * 1024 * 1024 * 1024, // 3 TiB
		StateCommitInterval:  0,
		StateStorePath:       "/var/lib/shuffle-executor/state.db",
		MaxConcurrentFlushes: 32,
		ExpiryInterval:       60 * time.Second,
		LoadBudget:           30 * time.Second,
	}
}

// LoadExecutorConfig starts from DefaultExecutorConfig and overlays
// whatever tbl has set under the "executor." prefix.
func LoadExecutorConfig(tbl *config.Table) ExecutorConfig {
	cfg := DefaultExecutorConfig()

	cfg.RootDir = tbl.GetWithDefault("executor.rootdir", cfg.RootDir)
	cfg.FsyncEnabled = getBool(tbl, "executor.fsyncenabled", cfg.FsyncEnabled)
	cfg.AppRetention = getDurationMillis(tbl, "executor.appretentionmillis", cfg.AppRetention)
	cfg.AppFileRetention = getDurationMillis(tbl, "executor.appfileretentionmillis", cfg.AppFileRetention)
	cfg.AppMaxWriteBytes = getInt64(tbl, "executor.appmaxwritebytes", cfg.AppMaxWriteBytes)
	cfg.StateCommitInterval = getDurationMillis(tbl, "executor.statecommitintervalmillis", cfg.StateCommitInterval)
	cfg.StateStorePath = tbl.GetWithDefault("executor.statestorepath", cfg.StateStorePath)
	cfg.MaxConcurrentFlushes = getInt(tbl, "executor.maxconcurrentflushes", cfg.MaxConcurrentFlushes)
	cfg.ExpiryInterval = getDurationMillis(tbl, "executor.expiryintervalmillis", cfg.ExpiryInterval)
	cfg.LoadBudget = getDurationMillis(tbl, "executor.loadbudgetmillis", cfg.LoadBudget)

	return cfg
}

func getBool(tbl *config.Table, key string, def bool) bool {
	v := tbl.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(tbl *config.Table, key string, def int) int {
	v := tbl.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getInt64(tbl *config.Table, key string, def int64) int64 {
	v := tbl.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getDurationMillis(tbl *config.Table, key string, def time.Duration) time.Duration {
	v := tbl.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
