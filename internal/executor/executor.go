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

// Package executor is the server-side core of the remote shuffle
// service: registering stages, accepting partition writes, committing
// flushes durably, and reclaiming expired applications.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/remoteshuffle/executor/internal/statestore"
	"github.com/remoteshuffle/executor/internal/storage"
	"github.com/remoteshuffle/executor/pkg/log"
	"github.com/remoteshuffle/executor/pkg/util/timerecord"
	"github.com/remoteshuffle/executor/pkg/util/typeutil"
)

// nowMillisFunc is swappable in tests so expiry and liveness can be
// exercised without sleeping.
type nowMillisFunc func() int64

func defaultNowMillis() int64 {
	return time.Now().UnixMilli()
}

// ShuffleExecutor is the single process-wide instance coordinating
// every application's shuffle stages: it owns one ChunkManager root,
// one StateStore, and the concurrent app/stage maps (spec §2, §5).
type ShuffleExecutor struct {
	cfg     ExecutorConfig
	cm      storage.ChunkManager
	store   statestore.StateStore
	metrics MetricsSink
	now     nowMillisFunc

	// timeNow backs LoadStateStore's load-budget deadline. Separate from
	// now (which tracks millisecond liveness timestamps) since the budget
	// needs wall-clock time.Time arithmetic; swappable in tests so the
	// partial-load scenario doesn't depend on real elapsed time.
	timeNow func() time.Time

	apps   *typeutil.ConcurrentMap[AppId, *AppState]
	stages *typeutil.ConcurrentMap[AppShuffleId, *StageState]

	// flushSem bounds concurrent flush tasks so the background pool
	// never executes more than MaxConcurrentFlushes flushes at once
	// (SPEC_FULL §4.3a); flushPartitions itself is always serialized per
	// stage by that stage's flushMu regardless of this bound.
	flushSem chan struct{}
	flushWG  sync.WaitGroup

	lastStateCommitMu sync.Mutex
	lastStateCommit   time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	loopWG   sync.WaitGroup
}

// NewShuffleExecutor wires cfg's storage and state-store backends into
// a ready-to-use executor. Callers must call LoadStateStore before
// serving any traffic if the process is recovering from a restart, then
// Start to launch the periodic expiry sweep. sink may be nil, in which
// case metrics are discarded.
func NewShuffleExecutor(cfg ExecutorConfig, cm storage.ChunkManager, store statestore.StateStore, sink MetricsSink) *ShuffleExecutor {
	if sink == nil {
		sink = NoopMetricsSink{}
	}
	maxFlushes := lo.Max([]int{cfg.MaxConcurrentFlushes, 1})
	return &ShuffleExecutor{
		cfg:      cfg,
		cm:       cm,
		store:    store,
		metrics:  sink,
		now:      defaultNowMillis,
		timeNow:  time.Now,
		apps:     typeutil.NewConcurrentMap[AppId, *AppState](),
		stages:   typeutil.NewConcurrentMap[AppShuffleId, *StageState](),
		flushSem: make(chan struct{}, maxFlushes),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background expiry loop (fixed-rate, every
// cfg.ExpiryInterval — 60s by default per spec §4.3). Safe to call at
// most once.
func (e *ShuffleExecutor) Start() {
	e.loopWG.Add(1)
	go e.expiryLoop()
}

// expiryLoop is the ticker-driven background sweep, grounded on the
// teacher's channelCheckpointUpdater.start() idiom.
func (e *ShuffleExecutor) expiryLoop() {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.removeExpiredApplications()
		}
	}
}

func (e *ShuffleExecutor) touchApp(appId AppId) *AppState {
	st, _ := e.apps.GetOrInsert(appId, newAppState(appId, e.now()))
	st.touch(e.now())
	return st
}

func (e *ShuffleExecutor) getStage(shuffle AppShuffleId) (*StageState, bool) {
	return e.stages.Get(shuffle)
}

// registerShuffle creates a new stage, or validates an existing one's
// (numMaps, numPartitions, writeConfig) match exactly — a mismatched
// re-registration corrupts the stage (spec §4.2, §8 invariant 2).
func (e *ShuffleExecutor) registerShuffle(ctx context.Context, shuffle AppShuffleId, numMaps, numPartitions int32, cfg WriteConfig) error {
	e.touchApp(shuffle.AppId)

	stage, loaded := e.stages.GetOrInsert(shuffle, newStageState(shuffle))
	firstTime, err := stage.register(numMaps, numPartitions, cfg)
	if err != nil {
		e.persistCorruption(ctx, shuffle, err.Error())
		return err
	}
	if !firstTime {
		return nil
	}
	_ = loaded // unused: a stage can already exist unregistered (e.g. inserted by recovery), so firstTime, not loaded, decides

	if err := e.store.AppendStageInfo(statestore.StageInfo{
		AppID:                string(shuffle.AppId),
		ShuffleID:            shuffle.ShuffleID,
		NumMaps:              numMaps,
		NumPartitions:        numPartitions,
		NumSplits:            cfg.NumSplits,
		FileCompressionCodec: cfg.FileCompressionCodec,
		FileStartIndex:       stage.fileStartIndexSnapshot(),
	}); err != nil {
		return err
	}
	return e.store.Commit(ctx)
}

// persistCorruption durably records that shuffle corrupted, best-effort:
// a failure to persist the corruption record is logged, not propagated,
// matching the spec's "errors are logged and swallowed" rule for
// anything past the synchronous caller-facing error.
func (e *ShuffleExecutor) persistCorruption(ctx context.Context, shuffle AppShuffleId, reason string) {
	if err := e.store.AppendStageCorruption(statestore.StageCorruption{
		AppID:     string(shuffle.AppId),
		ShuffleID: shuffle.ShuffleID,
		Reason:    reason,
	}); err != nil {
		log.Warn("failed to append stage corruption", zap.Error(err))
		return
	}
	if err := e.store.Commit(ctx); err != nil {
		log.Warn("failed to commit stage corruption", zap.Error(err))
	}
}

// startUpload refreshes the app's liveness, enforces the write-byte
// quota against bytes already accumulated, and records attempt as the
// latest attempt for its map.
func (e *ShuffleExecutor) startUpload(ctx context.Context, shuffle AppShuffleId, attempt MapTaskAttemptId) error {
	appState := e.touchApp(shuffle.AppId)

	stage, ok := e.getStage(shuffle)
	if !ok {
		return wrapStageNotStarted(shuffle)
	}
	if err := stage.checkActive(); err != nil {
		return err
	}

	if appState.writeBytes() > e.cfg.AppMaxWriteBytes {
		e.truncateApplication(ctx, shuffle, appState)
		return wrapQuotaExceeded(shuffle.AppId, appState.writeBytes(), e.cfg.AppMaxWriteBytes)
	}

	stage.markStartUpload(attempt.MapID, attempt.TaskAttemptID)
	return nil
}

// writeData refreshes liveness, accounts the bytes, enforces quota, and
// appends to the target partition. Any I/O failure (or a quota breach)
// corrupts the stage, matching spec §4.3/§7.
func (e *ShuffleExecutor) writeData(ctx context.Context, shuffle AppShuffleId, partitionID int32, attempt MapTaskAttemptId, data []byte) error {
	stage, ok := e.getStage(shuffle)
	if !ok {
		return wrapStageNotStarted(shuffle)
	}
	if err := stage.checkActive(); err != nil {
		return err
	}

	appState := e.touchApp(shuffle.AppId)
	total := appState.addWriteBytes(int64(len(data)))

	if total > e.cfg.AppMaxWriteBytes {
		e.truncateApplication(ctx, shuffle, appState)
		return wrapQuotaExceeded(shuffle.AppId, total, e.cfg.AppMaxWriteBytes)
	}

	if err := stage.writeData(ctx, e.cm, partitionID, attempt, data); err != nil {
		stage.setFileCorrupted(err.Error())
		e.persistCorruption(ctx, shuffle, err.Error())
		return wrapStageCorrupted(shuffle, err.Error())
	}
	return nil
}

// truncateApplication marks shuffle's stage corrupted for a quota
// breach and records the truncation metric exactly once per call.
func (e *ShuffleExecutor) truncateApplication(ctx context.Context, shuffle AppShuffleId, appState *AppState) {
	reason := "application write quota exceeded"
	if stage, ok := e.getStage(shuffle); ok {
		stage.setFileCorrupted(reason)
	}
	e.persistCorruption(ctx, shuffle, reason)
	e.metrics.IncTruncatedApplications(shuffle.AppId)
}

// finishUpload marks attempt finished and, if it drained a non-empty
// pending-flush batch, hands the batch to the background flush pool.
// Fire-and-forget: the flush's own errors never propagate here.
func (e *ShuffleExecutor) finishUpload(shuffle AppShuffleId, attempt MapTaskAttemptId) error {
	stage, ok := e.getStage(shuffle)
	if !ok {
		return wrapStageNotStarted(shuffle)
	}

	full := AppTaskAttemptId{AppMapId: AppMapId{AppShuffleId: shuffle, MapID: attempt.MapID}, TaskAttemptID: attempt.TaskAttemptID}
	stage.markFinishUpload(full)
	drained := stage.fetchFlushMapAttempts()
	if len(drained) == 0 {
		return nil
	}

	enqueuedAt := time.Now()
	e.flushWG.Add(1)
	go func() {
		defer e.flushWG.Done()
		e.metrics.ObserveMapAttemptFlushDelay(time.Since(enqueuedAt))
		if err := e.flushPartitions(context.Background(), shuffle, drained); err != nil {
			log.Warn("flush failed", zap.Stringer("shuffle", stageIDStringer{shuffle}), zap.Error(err))
		}
	}()
	return nil
}

// getPersistedBytes returns the raw on-disk byte count for one
// partition of shuffle, whether or not it has been flushed yet.
func (e *ShuffleExecutor) getPersistedBytes(shuffle AppShuffleId, partitionID int32) (int64, error) {
	e.touchApp(shuffle.AppId)
	stage, ok := e.getStage(shuffle)
	if !ok {
		return 0, wrapStageNotStarted(shuffle)
	}
	return stage.persistedBytes(partitionID), nil
}

// closePartitionFiles performs a targeted close of one partition's
// writer.
func (e *ShuffleExecutor) closePartitionFiles(partitionId AppShufflePartitionId) error {
	stage, ok := e.getStage(partitionId.AppShuffleId)
	if !ok {
		return wrapStageNotStarted(partitionId.AppShuffleId)
	}
	return stage.closeWriter(partitionId.PartitionID)
}

// getShuffleStageStatus returns the stage's health and a snapshot of
// its committed attempts, or StageStatusNotStarted for an unknown
// stage — a sentinel, not an error.
func (e *ShuffleExecutor) getShuffleStageStatus(shuffle AppShuffleId) (StageStatus, map[int32]int64) {
	stage, ok := e.getStage(shuffle)
	if !ok {
		return StageStatusNotStarted, nil
	}
	return stage.status(), stage.committedSnapshot()
}

// getShuffleWriteConfig returns the configuration shuffle was
// registered with.
func (e *ShuffleExecutor) getShuffleWriteConfig(shuffle AppShuffleId) (WriteConfig, error) {
	stage, ok := e.getStage(shuffle)
	if !ok {
		return WriteConfig{}, wrapStageNotStarted(shuffle)
	}
	return stage.config(), nil
}

// flushPartitions is the core commit protocol (spec §4.3). Every
// attempt must share shuffle's identity; a caller passing attempts from
// more than one stage is an invariant violation, not a user error.
func (e *ShuffleExecutor) flushPartitions(ctx context.Context, shuffle AppShuffleId, attempts []AppTaskAttemptId) error {
	for _, a := range attempts {
		if a.AppMapId.AppShuffleId != shuffle {
			return wrapInvalidStateMultiStage(shuffle, a.AppMapId.AppShuffleId)
		}
	}

	stage, ok := e.getStage(shuffle)
	if !ok {
		return wrapStageNotStarted(shuffle)
	}

	select {
	case e.flushSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.flushSem }()

	rec := timerecord.NewTimeRecorder("flushPartitions")
	err := stage.withFlushLock(func() error {
		return e.runFlush(ctx, shuffle, stage, attempts)
	})
	e.metrics.ObserveMapAttemptFlushTime(rec.ElapseSpan())
	return err
}

func (e *ShuffleExecutor) runFlush(ctx context.Context, shuffle AppShuffleId, stage *StageState, attempts []AppTaskAttemptId) error {
	if err := stage.flushAllPartitions(); err != nil {
		stage.setFileCorrupted(err.Error())
		e.persistCorruption(ctx, shuffle, err.Error())
		return err
	}

	for _, a := range attempts {
		stage.commitMapTask(a.AppMapId.MapID, a.TaskAttemptID)
	}

	finalized := stage.snapshotFinalizedFiles()

	mapAttempts := make([]statestore.MapAttempt, 0, len(attempts))
	for _, a := range attempts {
		mapAttempts = append(mapAttempts, statestore.MapAttempt{
			MapID:         a.AppMapId.MapID,
			TaskAttemptID: a.TaskAttemptID,
		})
	}
	files := make([]statestore.PartitionFile, 0, len(finalized))
	for partitionID, entry := range finalized {
		files = append(files, statestore.PartitionFile{
			PartitionID: partitionID,
			Path:        entry.Path,
			Length:      entry.Length,
		})
	}

	commit := statestore.TaskAttemptCommit{
		AppID:     string(shuffle.AppId),
		ShuffleID: shuffle.ShuffleID,
		Attempts:  mapAttempts,
		Files:     files,
	}
	if err := e.store.AppendTaskAttemptCommit(commit); err != nil {
		stage.setFileCorrupted(err.Error())
		e.persistCorruption(ctx, shuffle, err.Error())
		return err
	}

	if stage.allLatestTaskAttemptsCommitted() {
		if err := stage.closeWriters(); err != nil {
			stage.setFileCorrupted(err.Error())
			e.persistCorruption(ctx, shuffle, err.Error())
			return err
		}
	}

	e.maybeCommitStateStore(ctx)
	return nil
}

// maybeCommitStateStore commits the state store if stateCommitInterval
// has elapsed since the last commit. With the default of 0, every call
// commits.
func (e *ShuffleExecutor) maybeCommitStateStore(ctx context.Context) {
	e.lastStateCommitMu.Lock()
	due := time.Since(e.lastStateCommit) >= e.cfg.StateCommitInterval
	if due {
		e.lastStateCommit = time.Now()
	}
	e.lastStateCommitMu.Unlock()

	if !due {
		return
	}
	if err := e.store.Commit(ctx); err != nil {
		log.Warn("state store commit failed", zap.Error(err))
	}
}

// removeExpiredApplications reclaims every application whose liveness
// exceeds cfg.AppRetention: removes its AppState and StageStates,
// closes the removed stages' writers, persists an AppDeletion, and
// deletes its on-disk directory (logging, not failing, on error).
func (e *ShuffleExecutor) removeExpiredApplications() {
	ctx := context.Background()
	now := e.now()
	retentionMillis := e.cfg.AppRetention.Milliseconds()

	expired := make([]AppId, 0)
	e.apps.Range(func(appId AppId, st *AppState) bool {
		if st.expired(now, retentionMillis) {
			expired = append(expired, appId)
		}
		return true
	})

	for _, appId := range expired {
		e.reclaimApplication(ctx, appId)
	}
	e.metrics.SetLiveApplications(e.apps.Len())
}

func (e *ShuffleExecutor) reclaimApplication(ctx context.Context, appId AppId) {
	for _, shuffle := range e.stages.Keys() {
		if shuffle.AppId != appId {
			continue
		}
		if stage, ok := e.stages.GetAndRemove(shuffle); ok {
			if err := stage.closeWriters(); err != nil {
				log.Warn("error closing writers during expiry", zap.Error(err))
			}
		}
	}
	e.apps.Remove(appId)

	if err := e.store.AppendAppDeletion(statestore.AppDeletion{AppID: string(appId)}); err != nil {
		log.Warn("failed to persist app deletion", zap.Error(err))
	} else if err := e.store.Commit(ctx); err != nil {
		log.Warn("failed to commit app deletion", zap.Error(err))
	}

	if err := e.cm.DeleteDirectory(ctx, string(appId)); err != nil {
		log.Warn("failed to delete expired application directory", zap.String("app", string(appId)), zap.Error(err))
	}

	e.metrics.IncExpiredApplications()
}

// Stop halts the background expiry loop and, when wait is true, waits up
// to a 3-minute grace period for in-flight flush tasks (not at all when
// wait is false), then under each stage's flush lock
// drains its pending flushes, flushes partitions and closes writers, and
// finally closes the state store. Safe to call once.
func (e *ShuffleExecutor) Stop(wait bool) error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stopCh)

		if wait {
			e.waitWithGrace(3 * time.Minute)
		}
		e.loopWG.Wait()

		for _, shuffle := range e.stages.Keys() {
			stage, ok := e.stages.Get(shuffle)
			if !ok {
				continue
			}
			_ = stage.withFlushLock(func() error {
				drained := stage.fetchFlushMapAttempts()
				if len(drained) > 0 {
					if ferr := e.runFlush(context.Background(), shuffle, stage, drained); ferr != nil {
						log.Warn("flush during shutdown failed", zap.Error(ferr))
					}
				}
				if ferr := stage.flushAllPartitions(); ferr != nil {
					stage.setFileCorrupted(ferr.Error())
				}
				if cerr := stage.closeWriters(); cerr != nil {
					stage.setFileCorrupted(cerr.Error())
				}
				return nil
			})
		}

		if commitErr := e.store.Commit(context.Background()); commitErr != nil {
			err = commitErr
			return
		}
		err = e.store.Close()
	})
	return err
}

func (e *ShuffleExecutor) waitWithGrace(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		e.flushWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn("shutdown grace period elapsed with flushes still in flight")
	}
}
