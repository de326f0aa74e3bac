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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteshuffle/executor/internal/storage"
)

func testPartitionId() AppShufflePartitionId {
	return AppShufflePartitionId{
		AppShuffleId: AppShuffleId{AppId: "app1", ShuffleID: 0},
		PartitionID:  3,
	}
}

func TestPartitionWriter_WriteAccumulatesPersistedLength(t *testing.T) {
	ctx := context.Background()
	cm, err := storage.NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	pw, err := newPartitionWriter(ctx, cm, testPartitionId(), 0, WriteConfig{NumSplits: 4})
	require.NoError(t, err)
	defer pw.close()

	attempt := MapTaskAttemptId{MapID: 1, TaskAttemptID: 1}
	require.NoError(t, pw.write(attempt, []byte("hello")))
	require.NoError(t, pw.write(attempt, []byte("world")))
	require.NoError(t, pw.flush())

	assert.Equal(t, int64(10), pw.persistedLength())
}

func TestPartitionWriter_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cm, err := storage.NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	pw, err := newPartitionWriter(ctx, cm, testPartitionId(), 0, WriteConfig{NumSplits: 4})
	require.NoError(t, err)

	require.NoError(t, pw.close())
	require.NoError(t, pw.close())
}

func TestPartitionWriter_WriteAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	cm, err := storage.NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	pw, err := newPartitionWriter(ctx, cm, testPartitionId(), 0, WriteConfig{NumSplits: 4})
	require.NoError(t, err)
	require.NoError(t, pw.close())

	err = pw.write(MapTaskAttemptId{MapID: 1, TaskAttemptID: 1}, []byte("x"))
	assert.Error(t, err)
}

func TestPartitionWriter_ZstdCompressionWritesWithoutError(t *testing.T) {
	ctx := context.Background()
	cm, err := storage.NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	pw, err := newPartitionWriter(ctx, cm, testPartitionId(), 0, WriteConfig{NumSplits: 4, FileCompressionCodec: "zstd"})
	require.NoError(t, err)

	attempt := MapTaskAttemptId{MapID: 1, TaskAttemptID: 1}
	require.NoError(t, pw.write(attempt, []byte("some moderately compressible payload payload payload")))
	require.NoError(t, pw.flush())
	require.NoError(t, pw.close())

	assert.Greater(t, pw.persistedLength(), int64(0))
}
