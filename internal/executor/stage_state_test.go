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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteshuffle/executor/internal/storage"
)

func testShuffleId() AppShuffleId {
	return AppShuffleId{AppId: "app1", ShuffleID: 5}
}

func TestStageState_RegisterIsIdempotent(t *testing.T) {
	stage := newStageState(testShuffleId())
	cfg := WriteConfig{NumSplits: 4, FileCompressionCodec: "zstd"}

	first, err := stage.register(2, 3, cfg)
	require.NoError(t, err)
	assert.True(t, first)

	for i := 0; i < 2; i++ {
		again, err := stage.register(2, 3, cfg)
		require.NoError(t, err)
		assert.False(t, again)
	}

	assert.Equal(t, StageStatusOK, stage.status())
}

func TestStageState_RegisterMismatchCorrupts(t *testing.T) {
	stage := newStageState(testShuffleId())
	cfg := WriteConfig{NumSplits: 4}

	_, err := stage.register(4, 10, cfg)
	require.NoError(t, err)

	_, err = stage.register(5, 10, cfg)
	require.Error(t, err)
	assert.Equal(t, KindStageCorrupted, Kind(err))
	assert.Equal(t, StageStatusCorrupted, stage.status())
}

func TestStageState_CorruptionIsAbsorbing(t *testing.T) {
	stage := newStageState(testShuffleId())
	cfg := WriteConfig{NumSplits: 1}
	_, err := stage.register(1, 1, cfg)
	require.NoError(t, err)

	// a mismatched re-registration is the reachable path that corrupts a
	// stage (spec §8 invariant 2)
	_, err = stage.register(2, 1, cfg)
	require.Error(t, err)
	assert.Equal(t, StageStatusCorrupted, stage.status())

	// a second, unrelated corruption signal does not clear or overwrite
	// the terminal state
	stage.setFileCorrupted("an unrelated later failure")
	assert.Equal(t, StageStatusCorrupted, stage.status())

	// nor does a subsequent re-registration matching the ORIGINAL params —
	// corruption is absorbing once set
	_, err = stage.register(1, 1, cfg)
	require.Error(t, err)
	assert.Equal(t, KindStageCorrupted, Kind(err))
	assert.Equal(t, StageStatusCorrupted, stage.status())
}

func TestStageState_CommitMapTask_AttemptRetry(t *testing.T) {
	stage := newStageState(testShuffleId())
	_, err := stage.register(1, 1, WriteConfig{NumSplits: 1})
	require.NoError(t, err)

	stage.markStartUpload(0, 1)
	stage.markStartUpload(0, 2) // retry: a newer attempt for the same map

	stage.commitMapTask(0, 1) // stale commit, superseded
	assert.False(t, stage.allLatestTaskAttemptsCommitted())
	assert.Equal(t, int64(1), stage.committedSnapshot()[0])

	stage.commitMapTask(0, 2) // the effective attempt commits
	assert.True(t, stage.allLatestTaskAttemptsCommitted())
	assert.Equal(t, int64(2), stage.committedSnapshot()[0])
}

func TestStageState_PersistedBytesMonotonic(t *testing.T) {
	ctx := context.Background()
	cm, err := storage.NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	stage := newStageState(testShuffleId())
	_, err = stage.register(1, 1, WriteConfig{NumSplits: 1})
	require.NoError(t, err)

	attempt := MapTaskAttemptId{MapID: 0, TaskAttemptID: 1}

	var last int64
	chunks := []string{"a", "bb", "ccc", "dddd"}
	for _, c := range chunks {
		require.NoError(t, stage.writeData(ctx, cm, 0, attempt, []byte(c)))
		cur := stage.persistedBytes(0)
		assert.GreaterOrEqual(t, cur, last)
		last = cur
	}
	assert.Equal(t, int64(len("a")+len("bb")+len("ccc")+len("dddd")), last)
}

func TestStageState_FinalizedFilesMergeKeepsLatestLength(t *testing.T) {
	ctx := context.Background()
	cm, err := storage.NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	stage := newStageState(testShuffleId())
	_, err = stage.register(1, 1, WriteConfig{NumSplits: 1})
	require.NoError(t, err)

	attempt := MapTaskAttemptId{MapID: 0, TaskAttemptID: 1}
	require.NoError(t, stage.writeData(ctx, cm, 0, attempt, []byte("hello")))
	require.NoError(t, stage.flushAllPartitions())
	first := stage.snapshotFinalizedFiles()
	require.Contains(t, first, int32(0))

	require.NoError(t, stage.writeData(ctx, cm, 0, attempt, []byte(" world")))
	require.NoError(t, stage.flushAllPartitions())
	stage.snapshotFinalizedFiles()

	entries := stage.finalizedFilesFor(0)
	require.Len(t, entries, 1) // same path, length updated in place rather than duplicated
	assert.Equal(t, int64(len("hello world")), entries[0].Length)
}

func TestStageState_MarkFinishUploadDrainsOncePerAttempt(t *testing.T) {
	stage := newStageState(testShuffleId())
	attempt := AppTaskAttemptId{
		AppMapId:      AppMapId{AppShuffleId: testShuffleId(), MapID: 0},
		TaskAttemptID: 1,
	}

	stage.markFinishUpload(attempt)
	stage.markFinishUpload(attempt) // duplicate signal, must not double-queue

	drained := stage.fetchFlushMapAttempts()
	require.Len(t, drained, 1)
	assert.Equal(t, attempt, drained[0])

	// a second drain before any further markFinishUpload finds nothing
	assert.Empty(t, stage.fetchFlushMapAttempts())
}

// TestStageState_FlushLockSerializesCallers verifies spec §8 invariant 7:
// at most one concurrent flush per stage. flushPartitions in executor.go
// runs its whole flush/commit sequence under this same lock.
func TestStageState_FlushLockSerializesCallers(t *testing.T) {
	stage := newStageState(testShuffleId())

	var mu sync.Mutex
	running := 0
	overlapped := false

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = stage.withFlushLock(func() error {
				mu.Lock()
				running++
				if running > 1 {
					overlapped = true
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.False(t, overlapped)
}
