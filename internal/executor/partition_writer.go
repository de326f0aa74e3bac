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
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/remoteshuffle/executor/internal/storage"
	"github.com/remoteshuffle/executor/pkg/log"
	"github.com/remoteshuffle/executor/pkg/merr"
)

// partitionFilePath is the on-disk relative path for one partition of one
// shuffle stage's run. fileStartIndex identifies the run: it is bumped
// past the previous run's value on recovery so a restarted executor
// never appends to a file a prior run already finalized.
func partitionFilePath(id AppShufflePartitionId, fileStartIndex int32) string {
	return fmt.Sprintf("%s/shuffle-%d/partition-%d-f%d", id.AppShuffleId.AppId, id.AppShuffleId.ShuffleID, id.PartitionID, fileStartIndex)
}

// PartitionWriter owns the single append-mode file backing one
// partition. A stage holds one PartitionWriter per partition; the
// writer serializes its own write/flush/close calls under mu, and the
// stage releases its mutex before calling into it.
type PartitionWriter struct {
	id   AppShufflePartitionId
	path string

	mu     sync.Mutex
	writer storage.AppendWriter
	zstdW  *zstd.Encoder // non-nil when compression is enabled

	closed bool
}

// newPartitionWriter opens the partition's backing file through cm,
// optionally wrapping it with a zstd encoder when cfg requests
// compression (spec §4.1a).
func newPartitionWriter(ctx context.Context, cm storage.ChunkManager, id AppShufflePartitionId, fileStartIndex int32, cfg WriteConfig) (*PartitionWriter, error) {
	path := partitionFilePath(id, fileStartIndex)
	w, err := cm.OpenAppend(ctx, path)
	if err != nil {
		return nil, err
	}

	pw := &PartitionWriter{id: id, path: path, writer: w}

	if cfg.FileCompressionCodec == "zstd" {
		enc, err := zstd.NewWriter(zstdWriterAdapter{w: w})
		if err != nil {
			w.Close()
			return nil, merr.WrapErrIoFailed(path, err)
		}
		pw.zstdW = enc
	}

	return pw, nil
}

// filePath returns the partition's on-disk relative path.
func (pw *PartitionWriter) filePath() string {
	return pw.path
}

// zstdWriterAdapter lets zstd.NewWriter target a storage.AppendWriter,
// exposing only its Write method (AppendWriter also has Len/Sync/Close)
// — zstd only ever needs Write.
type zstdWriterAdapter struct {
	w storage.AppendWriter
}

func (a zstdWriterAdapter) Write(p []byte) (int, error) {
	return a.w.Write(p)
}

// write appends bytes on behalf of taskAttempt (through the zstd
// encoder, if enabled) and returns only an error; persistedLength
// always reflects the raw on-disk size.
func (pw *PartitionWriter) write(taskAttempt MapTaskAttemptId, data []byte) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.closed {
		return errorsAlreadyClosed(pw.path)
	}

	if pw.zstdW != nil {
		if _, err := pw.zstdW.Write(data); err != nil {
			return merr.WrapErrIoFailed(pw.path, err)
		}
		return nil
	}

	if _, err := pw.writer.Write(data); err != nil {
		return merr.WrapErrIoFailed(pw.path, err)
	}
	return nil
}

// flush pushes any buffered bytes to the OS (and, when fsync is
// configured at the storage layer, durably to disk) without closing the
// file. Called through StageState.flushAllPartitions, by the flush task
// finishUpload schedules and by Stop's shutdown drain.
func (pw *PartitionWriter) flush() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.flushLocked()
}

func (pw *PartitionWriter) flushLocked() error {
	if pw.closed {
		return nil
	}
	if pw.zstdW != nil {
		if err := pw.zstdW.Flush(); err != nil {
			return merr.WrapErrIoFailed(pw.path, err)
		}
	}
	if err := pw.writer.Sync(); err != nil {
		return err
	}
	return nil
}

// persistedLength returns the number of raw bytes written to the
// underlying file so far, regardless of compression.
func (pw *PartitionWriter) persistedLength() int64 {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.writer.Len()
}

// close flushes and releases the file handle. Idempotent: a second call
// is a no-op.
func (pw *PartitionWriter) close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.closed {
		return nil
	}
	if err := pw.flushLocked(); err != nil {
		log.Warn("flush before close failed", zap.String("partition", pw.path), zap.Error(err))
	}
	if pw.zstdW != nil {
		pw.zstdW.Close()
	}
	err := pw.writer.Close()
	pw.closed = true
	return err
}

func errorsAlreadyClosed(path string) error {
	return merr.WrapErrIoFailed(path, errClosedWriter)
}

var errClosedWriter = fmt.Errorf("partition writer already closed")
