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
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/remoteshuffle/executor/internal/statestore"
	"github.com/remoteshuffle/executor/pkg/log"
	"github.com/remoteshuffle/executor/pkg/util/timerecord"
)

// errLoadBudgetExceeded unwinds LoadData's cursor once LoadStateStore has
// spent longer than cfg.LoadBudget replaying the log. Not a failure: the
// load continues serving with whatever state it reconstructed so far.
var errLoadBudgetExceeded = errors.New("statestore load exceeded its time budget")

// LoadStateStore replays the durable log into in-memory StageStates and
// AppStates before the executor serves any traffic (spec §4.3, §5). Must
// run to completion (or hit its time budget) before Start.
//
// Recovery order matters: StageInfo establishes a stage's shape and the
// highest fileStartIndex recorded for it, and once the replay ends every
// recovered stage's index is bumped past that value so new writes never
// collide with already-finalized files; TaskAttemptCommit entries replay
// on top of that to restore committed map attempts and finalized file
// bookkeeping; StageCorruption and AppDeletion markers are buffered and
// applied only after the whole log (or the time budget) has been
// consumed, so a deletion that precedes its app's other records in the
// log still wins. Running out of time budget (errLoadBudgetExceeded) or
// hitting a torn trailing record (statestore.ErrTornRecord) both stop the
// replay early and are treated as a partial load, never a hard failure —
// only a genuine mid-log decode error fails the whole call.
func (e *ShuffleExecutor) LoadStateStore(ctx context.Context) error {
	rec := timerecord.NewTimeRecorder("LoadStateStore")
	deadline := e.timeNow().Add(e.cfg.LoadBudget)

	corrupted := make(map[AppShuffleId]string)
	deletedApps := make(map[AppId]struct{})

	loadErr := e.store.LoadData(ctx, func(kind statestore.ItemKind, payload any) error {
		if e.timeNow().After(deadline) {
			return errLoadBudgetExceeded
		}
		switch kind {
		case statestore.KindStageInfo:
			e.replayStageInfo(payload.(statestore.StageInfo))
		case statestore.KindTaskAttemptCommit:
			e.replayTaskAttemptCommit(payload.(statestore.TaskAttemptCommit))
		case statestore.KindStageCorruption:
			v := payload.(statestore.StageCorruption)
			corrupted[AppShuffleId{AppId: AppId(v.AppID), ShuffleID: v.ShuffleID}] = v.Reason
		case statestore.KindAppDeletion:
			deletedApps[AppId(payload.(statestore.AppDeletion).AppID)] = struct{}{}
		}
		return nil
	})

	partial := false
	switch {
	case errors.Is(loadErr, errLoadBudgetExceeded):
		partial = true
		e.metrics.IncStatePartialLoads()
		log.Warn("statestore load budget exceeded, continuing with partial recovery",
			zap.Duration("budget", e.cfg.LoadBudget))
	case errors.Is(loadErr, statestore.ErrTornRecord):
		partial = true
		e.metrics.IncStatePartialLoads()
		log.Warn("statestore log ended in a torn trailing record, continuing with partial recovery",
			zap.Error(loadErr))
	case loadErr != nil:
		e.metrics.IncStateLoadErrors()
		return errors.Wrap(loadErr, "LoadStateStore: replay")
	}

	for shuffle, reason := range corrupted {
		if stage, ok := e.getStage(shuffle); ok {
			stage.setFileCorrupted(reason)
		}
	}

	for appId := range deletedApps {
		e.reclaimLoadedApplication(appId)
	}

	// Bump every recovered stage's fileStartIndex past the highest value
	// the log carried for it, exactly once for this process, and
	// re-persist the result — so a second restart bumps again from THERE
	// instead of recomputing the identical bump against the original
	// record and colliding with the files this process is about to write.
	now := e.now()
	for _, shuffle := range e.stages.Keys() {
		if _, deleted := deletedApps[shuffle.AppId]; deleted {
			continue
		}
		e.apps.GetOrInsert(shuffle.AppId, newAppState(shuffle.AppId, now))

		stage, ok := e.getStage(shuffle)
		if !ok {
			continue
		}
		numMaps, numPartitions, cfg, _ := stage.shapeSnapshot()
		bumped := stage.bumpFileStartIndexForRecovery()
		if err := e.store.AppendStageInfo(statestore.StageInfo{
			AppID:                string(shuffle.AppId),
			ShuffleID:            shuffle.ShuffleID,
			NumMaps:              numMaps,
			NumPartitions:        numPartitions,
			NumSplits:            cfg.NumSplits,
			FileCompressionCodec: cfg.FileCompressionCodec,
			FileStartIndex:       bumped,
			Corrupted:            stage.status() == StageStatusCorrupted,
		}); err != nil {
			e.metrics.IncStateLoadWarnings()
			log.Warn("failed to re-persist recovered StageInfo", zap.Error(err))
		}
	}

	// Re-persist the repair: a restart re-asserts the corruption and
	// deletion markers it just replayed so a crash immediately after this
	// load still leaves the next restart with the same facts, even though
	// the in-memory copies above are already in effect.
	for shuffle, reason := range corrupted {
		if err := e.store.AppendStageCorruption(statestore.StageCorruption{
			AppID: string(shuffle.AppId), ShuffleID: shuffle.ShuffleID, Reason: reason,
		}); err != nil {
			e.metrics.IncStateLoadWarnings()
			log.Warn("failed to re-persist corruption during load", zap.Error(err))
		}
	}
	for appId := range deletedApps {
		if err := e.store.AppendAppDeletion(statestore.AppDeletion{AppID: string(appId)}); err != nil {
			e.metrics.IncStateLoadWarnings()
			log.Warn("failed to re-persist app deletion during load", zap.Error(err))
		}
	}
	if err := e.store.Commit(ctx); err != nil {
		e.metrics.IncStateLoadWarnings()
		log.Warn("post-load statestore commit failed", zap.Error(err))
	}

	elapsed := rec.TotalElapse()
	e.metrics.ObserveStateLoadTime(elapsed)
	if partial {
		log.Warn("statestore load completed partially",
			zap.Duration("elapsed", elapsed), zap.Int("apps", e.apps.Len()), zap.Int("stages", e.stages.Len()))
	} else {
		log.Info("statestore load completed",
			zap.Duration("elapsed", elapsed), zap.Int("apps", e.apps.Len()), zap.Int("stages", e.stages.Len()))
	}
	return nil
}

// replayStageInfo restores one stage's shape and its highest recorded
// fileStartIndex, creating the StageState if this is the first time
// recovery has seen this shuffle. The one-time bump past that value, and
// its re-persist, happen once per process after the full log has been
// replayed — see bumpFileStartIndexForRecovery and LoadStateStore.
func (e *ShuffleExecutor) replayStageInfo(v statestore.StageInfo) {
	shuffle := AppShuffleId{AppId: AppId(v.AppID), ShuffleID: v.ShuffleID}
	cfg := WriteConfig{NumSplits: v.NumSplits, FileCompressionCodec: v.FileCompressionCodec}

	stage, _ := e.stages.GetOrInsert(shuffle, newStageState(shuffle))
	mismatch, _ := stage.applyLoadedStageInfo(v.NumMaps, v.NumPartitions, cfg, v.FileStartIndex)
	if mismatch {
		stage.setFileCorrupted("recovered StageInfo disagrees with an earlier record for the same stage")
		return
	}
	if v.Corrupted {
		stage.setFileCorrupted("stage was corrupted in a previous run")
	}
}

// replayTaskAttemptCommit restores the committed map attempts and
// finalized files one flushPartitions call recorded.
func (e *ShuffleExecutor) replayTaskAttemptCommit(v statestore.TaskAttemptCommit) {
	shuffle := AppShuffleId{AppId: AppId(v.AppID), ShuffleID: v.ShuffleID}
	stage, ok := e.getStage(shuffle)
	if !ok {
		// A commit with no preceding StageInfo in the log means the log
		// is malformed for this stage — spec §4.3 calls for recording it
		// corrupted rather than silently backfilling a healthy stage
		// from a commit alone.
		stage, _ = e.stages.GetOrInsert(shuffle, newStageState(shuffle))
		stage.setFileCorrupted("TaskAttemptCommit replayed with no preceding StageInfo for this stage")
		return
	}
	for _, a := range v.Attempts {
		stage.markStartUpload(a.MapID, a.TaskAttemptID)
		stage.commitMapTask(a.MapID, a.TaskAttemptID)
	}
	for _, f := range v.Files {
		stage.mergeFinalizedFile(f.PartitionID, FileEntry{Path: f.Path, Length: f.Length})
	}
}

// reclaimLoadedApplication removes every in-memory trace of appId
// recovered from the log, without touching the state store or the
// on-disk directory — both were already handled by whichever run wrote
// the AppDeletion being replayed, and the directory may no longer exist.
func (e *ShuffleExecutor) reclaimLoadedApplication(appId AppId) {
	for _, shuffle := range e.stages.Keys() {
		if shuffle.AppId == appId {
			e.stages.Remove(shuffle)
		}
	}
	e.apps.Remove(appId)
}
