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
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/remoteshuffle/executor/internal/storage"
	"github.com/remoteshuffle/executor/pkg/log"
	"github.com/remoteshuffle/executor/pkg/merr"
)

// StageStatus is the externally visible health of a shuffle stage
// (spec §4.3's getShuffleStageStatus result). StageStatusNotStarted is
// a sentinel, not an error: callers get it back for an unknown stage
// instead of a typed failure.
type StageStatus int

const (
	StageStatusOK StageStatus = iota
	StageStatusCorrupted
	StageStatusNotStarted
)

// StageState is one shuffle stage: its immutable write configuration,
// its partition writers, and the per-map attempt bookkeeping that
// decides which attempt is "effective" and which bytes are durably
// committed. mu is the per-stage bookkeeping mutex spec §5 requires: it
// guards each individual read/update of the fields below and is never
// held across network I/O or the state-store Commit call — callers
// release it before any blocking operation. flushMu is the coarser lock
// that serializes an entire flush/commit sequence (register, writeData
// and status calls still only take mu, and so can interleave with a
// flush in progress).
type StageState struct {
	id AppShuffleId

	// Set once by the first successful register call; every later
	// register must match exactly or the stage corrupts.
	numMaps        int32
	numPartitions  int32
	writeConfig    WriteConfig
	fileStartIndex int32
	registered     bool

	mu         sync.Mutex
	partitions map[int32]*PartitionWriter

	// flushMu serializes the full flush/commit sequence for this stage
	// (spec §8 invariant 7: at most one concurrent flush per stage). Kept
	// separate from mu since a flush spans multiple independent
	// acquisitions of mu (partitionWriter collection, commitMapTask,
	// snapshotFinalizedFiles) interleaved with local disk I/O, and mu
	// must stay free for unrelated writeData/status calls to proceed
	// while a flush is in progress.
	flushMu sync.Mutex

	// latestAttemptPerMap is the most recent attempt markStartUpload has
	// seen per map — the "effective" attempt once it also appears in
	// committed.
	latestAttemptPerMap map[int32]int64
	finishedUploads     map[AppTaskAttemptId]struct{}
	pendingFlush        []AppTaskAttemptId
	pendingFlushSet     map[AppTaskAttemptId]struct{}
	committed           map[int32]int64
	finalizedFiles      map[int32][]FileEntry

	fileStatus StageStatus // StageStatusOK or StageStatusCorrupted, never NotStarted
}

func newStageState(id AppShuffleId) *StageState {
	return &StageState{
		id:                  id,
		partitions:          make(map[int32]*PartitionWriter),
		latestAttemptPerMap: make(map[int32]int64),
		finishedUploads:     make(map[AppTaskAttemptId]struct{}),
		pendingFlushSet:     make(map[AppTaskAttemptId]struct{}),
		committed:           make(map[int32]int64),
		finalizedFiles:      make(map[int32][]FileEntry),
		fileStatus:          StageStatusOK,
	}
}

// register is the first-registration/idempotent-reregistration contract
// (spec §4.2 register, §8 invariant 2). Returns an error, and marks the
// stage corrupted, iff a later call disagrees with the first on
// numMaps, numPartitions or writeConfig.
func (s *StageState) register(numMaps, numPartitions int32, cfg WriteConfig) (firstTime bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered {
		s.numMaps = numMaps
		s.numPartitions = numPartitions
		s.writeConfig = cfg
		s.registered = true
		return true, nil
	}

	if s.numMaps != numMaps || s.numPartitions != numPartitions || !s.writeConfig.Equal(cfg) {
		s.fileStatus = StageStatusCorrupted
		return false, wrapStageCorrupted(s.id, "re-registered with a different (numMaps, numPartitions, writeConfig)")
	}
	if s.fileStatus == StageStatusCorrupted {
		return false, wrapStageCorrupted(s.id, s.corruptReasonLocked())
	}
	return false, nil
}

func (s *StageState) corruptReasonLocked() string {
	return "stage previously marked corrupted"
}

// applyLoadedStageInfo is the recovery-time counterpart of register
// (spec §4.3 LoadStateStore's StageInfo handling). It only records the
// shape and the highest fileStartIndex any record in the log carries for
// this stage — it does NOT bump past it. The one-time bump past whatever
// this converges to is applied separately, after the whole log has been
// replayed, by bumpFileStartIndexForRecovery: bumping per-record here
// would apply the bump repeatedly as a log accumulates more than one
// StageInfo record for the same stage across restarts (the original
// registration plus each restart's own re-persisted repair), which is
// exactly the scenario this mechanism must get right. Returns true if
// this call found a mismatch.
func (s *StageState) applyLoadedStageInfo(numMaps, numPartitions int32, cfg WriteConfig, loadedFileStartIndex int32) (mismatch bool, effectiveFileStartIndex int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered {
		s.numMaps = numMaps
		s.numPartitions = numPartitions
		s.writeConfig = cfg
		s.fileStartIndex = loadedFileStartIndex
		s.registered = true
		return false, s.fileStartIndex
	}

	if s.numMaps != numMaps || s.numPartitions != numPartitions || !s.writeConfig.Equal(cfg) {
		return true, s.fileStartIndex
	}
	if loadedFileStartIndex > s.fileStartIndex {
		s.fileStartIndex = loadedFileStartIndex
	}
	return false, s.fileStartIndex
}

// bumpFileStartIndexForRecovery advances fileStartIndex past the range
// this process is about to start using, exactly once per process restart
// (spec §4.3): called after the whole log has been replayed, so the bump
// accounts for the highest fileStartIndex any prior run ever recorded for
// this stage, not just whichever StageInfo record this process happened
// to see first.
func (s *StageState) bumpFileStartIndexForRecovery() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileStartIndex += s.writeConfig.NumSplits
	return s.fileStartIndex
}

// shapeSnapshot returns the stage's registered shape and current
// fileStartIndex, used by recovery to re-persist a repaired StageInfo.
func (s *StageState) shapeSnapshot() (numMaps, numPartitions int32, cfg WriteConfig, fileStartIndex int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numMaps, s.numPartitions, s.writeConfig, s.fileStartIndex
}

// fileStartIndexSnapshot returns the stage's current fileStartIndex.
func (s *StageState) fileStartIndexSnapshot() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileStartIndex
}

// config returns the stage's registered write configuration.
func (s *StageState) config() WriteConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeConfig
}

// status reports the stage's current health.
func (s *StageState) status() StageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileStatus
}

// committedSnapshot returns a copy of the mapId -> taskAttemptId commit
// table.
func (s *StageState) committedSnapshot() map[int32]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]int64, len(s.committed))
	for k, v := range s.committed {
		out[k] = v
	}
	return out
}

// setFileCorrupted transitions the stage to CORRUPTED. Idempotent;
// absorbing — never cleared once set (spec §8 invariant 3).
func (s *StageState) setFileCorrupted(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fileStatus == StageStatusCorrupted {
		return
	}
	s.fileStatus = StageStatusCorrupted
	log.Warn("shuffle stage corrupted", zap.Stringer("shuffle", stageIDStringer{s.id}), zap.String("reason", reason))
}

func (s *StageState) checkActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fileStatus == StageStatusCorrupted {
		return wrapStageCorrupted(s.id, s.corruptReasonLocked())
	}
	return nil
}

// markStartUpload records taskAttempt as the latest attempt seen for
// its map; a later attempt overwrites an earlier one, per the spec's
// markStartUpload contract.
func (s *StageState) markStartUpload(mapID int32, taskAttemptID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.latestAttemptPerMap[mapID]; !ok || taskAttemptID > cur {
		s.latestAttemptPerMap[mapID] = taskAttemptID
	}
}

// markFinishUpload records that attempt finished uploading and queues it
// for flush. Per the spec's open question, a stale attempt (older than
// latestAttemptPerMap) is still queued — the source does not suppress
// it and neither does this port.
func (s *StageState) markFinishUpload(attempt AppTaskAttemptId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedUploads[attempt] = struct{}{}
	if _, queued := s.pendingFlushSet[attempt]; !queued {
		s.pendingFlushSet[attempt] = struct{}{}
		s.pendingFlush = append(s.pendingFlush, attempt)
	}
}

// fetchFlushMapAttempts drains and returns every currently pending
// attempt. Transactional with markFinishUpload under the same mutex.
func (s *StageState) fetchFlushMapAttempts() []AppTaskAttemptId {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingFlush) == 0 {
		return nil
	}
	drained := s.pendingFlush
	s.pendingFlush = nil
	s.pendingFlushSet = make(map[AppTaskAttemptId]struct{})
	return drained
}

// partitionWriter returns the partition's PartitionWriter, opening it
// lazily through cm on first use. Must be called with s.mu held.
func (s *StageState) partitionWriter(ctx context.Context, cm storage.ChunkManager, partitionID int32) (*PartitionWriter, error) {
	if pw, ok := s.partitions[partitionID]; ok {
		return pw, nil
	}
	pid := AppShufflePartitionId{AppShuffleId: s.id, PartitionID: partitionID}
	pw, err := newPartitionWriter(ctx, cm, pid, s.fileStartIndex, s.writeConfig)
	if err != nil {
		return nil, err
	}
	s.partitions[partitionID] = pw
	return pw, nil
}

// writeData appends data to one partition on behalf of taskAttempt.
func (s *StageState) writeData(ctx context.Context, cm storage.ChunkManager, partitionID int32, taskAttempt MapTaskAttemptId, data []byte) error {
	s.mu.Lock()
	pw, err := s.partitionWriter(ctx, cm, partitionID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return pw.write(taskAttempt, data)
}

// flushAllPartitions durably syncs every currently open partition writer
// concurrently, grounded on the teacher's errgroup-based fan-out over
// per-segment binlog uploads (internal/datanode/flush_manager.go). Every
// writer is flushed even if another fails; the first error is returned.
func (s *StageState) flushAllPartitions() error {
	s.mu.Lock()
	writers := make([]*PartitionWriter, 0, len(s.partitions))
	for _, pw := range s.partitions {
		writers = append(writers, pw)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, pw := range writers {
		pw := pw
		g.Go(func() error {
			return pw.flush()
		})
	}
	return g.Wait()
}

// commitMapTask records taskAttemptId as committed for mapId. A stale
// attempt (older than latestAttemptPerMap) is still recorded, but
// allLatestTaskAttemptsCommitted only counts the latest.
func (s *StageState) commitMapTask(mapID int32, taskAttemptID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed[mapID] = taskAttemptID
}

// allLatestTaskAttemptsCommitted reports whether every map's latest
// attempt has a matching commit.
func (s *StageState) allLatestTaskAttemptsCommitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int32(len(s.latestAttemptPerMap)) < s.numMaps {
		return false
	}
	for mapID := int32(0); mapID < s.numMaps; mapID++ {
		latest, ok := s.latestAttemptPerMap[mapID]
		if !ok {
			return false
		}
		committed, ok := s.committed[mapID]
		if !ok || committed != latest {
			return false
		}
	}
	return true
}

// snapshotFinalizedFiles returns, for every partition writer this stage
// has opened (closed ones included), its path and persisted length — the
// payload flushPartitions persists alongside a TaskAttemptCommit. Also
// merges the snapshot into s.finalizedFiles, which finalizedFilesFor
// reads.
func (s *StageState) snapshotFinalizedFiles() map[int32]FileEntry {
	s.mu.Lock()
	writers := make(map[int32]*PartitionWriter, len(s.partitions))
	for pid, pw := range s.partitions {
		writers[pid] = pw
	}
	s.mu.Unlock()

	out := make(map[int32]FileEntry, len(writers))
	for pid, pw := range writers {
		entry := FileEntry{Path: pw.filePath(), Length: pw.persistedLength()}
		out[pid] = entry
	}

	s.mu.Lock()
	for pid, entry := range out {
		s.mergeFinalizedFileLocked(pid, entry)
	}
	s.mu.Unlock()

	return out
}

func (s *StageState) mergeFinalizedFileLocked(partitionID int32, entry FileEntry) {
	entries := s.finalizedFiles[partitionID]
	for i := range entries {
		if entries[i].Path == entry.Path {
			entries[i].Length = entry.Length
			s.finalizedFiles[partitionID] = entries
			return
		}
	}
	s.finalizedFiles[partitionID] = append(entries, entry)
}

// mergeFinalizedFile is the recovery-path entrypoint for the same
// merge, used when replaying a TaskAttemptCommit that did not originate
// in this process.
func (s *StageState) mergeFinalizedFile(partitionID int32, entry FileEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeFinalizedFileLocked(partitionID, entry)
}

// finalizedFilesFor returns a snapshot of the finalized (path, length)
// entries recorded for one partition.
func (s *StageState) finalizedFilesFor(partitionID int32) []FileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.finalizedFiles[partitionID]
	out := make([]FileEntry, len(entries))
	copy(out, entries)
	return out
}

// persistedBytes returns persistedLength of one partition's writer, or 0
// if that partition has no writer yet — used by getPersistedBytes,
// whether or not a flush has run.
func (s *StageState) persistedBytes(partitionID int32) int64 {
	s.mu.Lock()
	pw, ok := s.partitions[partitionID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return pw.persistedLength()
}

// closeWriter closes one partition's writer. Idempotent; safe to call
// on a partition that was never opened.
func (s *StageState) closeWriter(partitionID int32) error {
	s.mu.Lock()
	pw, ok := s.partitions[partitionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return pw.close()
}

// closeWriters closes every open partition writer for this stage.
// Idempotent. A single partition failing to close doesn't stop the
// rest from being closed; every failure is reported, not just the
// first.
func (s *StageState) closeWriters() error {
	s.mu.Lock()
	writers := make([]*PartitionWriter, 0, len(s.partitions))
	for _, pw := range s.partitions {
		writers = append(writers, pw)
	}
	s.mu.Unlock()

	var errs []error
	for _, pw := range writers {
		if err := pw.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return merr.Combine(errs...)
}

// withFlushLock runs fn with this stage's flush sequence lock held,
// guaranteeing no two flushes for the same stage ever overlap.
func (s *StageState) withFlushLock(fn func() error) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return fn()
}

type stageIDStringer struct {
	id AppShuffleId
}

func (s stageIDStringer) String() string {
	return s.id.String()
}
