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

// Package storage is the storage facade spec §4.5 calls for: the
// on-disk file layout is opaque above this package.
package storage

import "context"

// AppendWriter is a single append-mode file handle. PartitionWriter is
// the only caller; writes from one caller are serialized by the
// contract, not by this interface.
type AppendWriter interface {
	// Write appends p to the file's in-kernel buffer. Returns bytes
	// written and any error.
	Write(p []byte) (int, error)
	// Sync flushes the in-kernel buffer to the OS and, when the manager
	// was opened with fsync enabled, durably syncs it to storage.
	Sync() error
	// Len returns the number of bytes passed to Write so far (not
	// necessarily synced yet).
	Len() int64
	// Close flushes and releases the underlying file descriptor.
	Close() error
}

// ChunkManager is the storage facade PartitionWriter and expiry use.
// The on-disk layout beneath it is opaque to every caller.
type ChunkManager interface {
	// RootPath returns the configured base directory.
	RootPath() string
	// OpenAppend opens (creating if necessary) filePath in append mode
	// and returns a handle to it.
	OpenAppend(ctx context.Context, filePath string) (AppendWriter, error)
	// Exist reports whether filePath exists.
	Exist(ctx context.Context, filePath string) (bool, error)
	// Remove deletes filePath. Not an error if it does not exist.
	Remove(ctx context.Context, filePath string) error
	// DeleteDirectory recursively removes dirPath and everything under
	// it — the operation expiry uses to reclaim an application's space.
	DeleteDirectory(ctx context.Context, dirPath string) error
}
