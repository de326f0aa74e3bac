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

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/remoteshuffle/executor/pkg/log"
	"github.com/remoteshuffle/executor/pkg/merr"
)

// LocalChunkManager is the on-disk ChunkManager: every partition file
// lives at rootPath joined with the caller-supplied relative path. There
// is no bucket concept — the executor owns a single local volume.
type LocalChunkManager struct {
	rootPath string
	fsync    bool
}

var _ ChunkManager = (*LocalChunkManager)(nil)

// NewLocalChunkManager creates the root directory if missing and returns
// a manager rooted there. fsync controls whether Sync on the returned
// AppendWriters durably syncs to storage or only flushes to the OS.
func NewLocalChunkManager(rootPath string, fsync bool) (*LocalChunkManager, error) {
	root := strings.TrimRight(rootPath, "/")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, merr.WrapErrIoFailed(root, err)
	}
	lcm := &LocalChunkManager{rootPath: root, fsync: fsync}
	log.Info("local chunk manager init success", zap.String("root", root), zap.Bool("fsync", fsync))
	return lcm, nil
}

// RootPath returns the configured base directory.
func (lcm *LocalChunkManager) RootPath() string {
	return lcm.rootPath
}

func (lcm *LocalChunkManager) abs(filePath string) string {
	return filepath.Join(lcm.rootPath, filePath)
}

// OpenAppend opens (creating, including parent directories, if
// necessary) filePath in append mode.
func (lcm *LocalChunkManager) OpenAppend(ctx context.Context, filePath string) (AppendWriter, error) {
	full := lcm.abs(filePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, merr.WrapErrIoFailed(full, err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, merr.WrapErrIoFailed(full, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, merr.WrapErrIoFailed(full, err)
	}
	return &localAppendWriter{f: f, fsync: lcm.fsync, size: info.Size()}, nil
}

// Exist reports whether filePath exists.
func (lcm *LocalChunkManager) Exist(ctx context.Context, filePath string) (bool, error) {
	_, err := os.Stat(lcm.abs(filePath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, merr.WrapErrIoFailed(lcm.abs(filePath), err)
}

// Remove deletes filePath. Not an error if it does not exist.
func (lcm *LocalChunkManager) Remove(ctx context.Context, filePath string) error {
	full := lcm.abs(filePath)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return merr.WrapErrIoFailed(full, err)
	}
	return nil
}

// DeleteDirectory recursively removes dirPath and everything under it.
func (lcm *LocalChunkManager) DeleteDirectory(ctx context.Context, dirPath string) error {
	full := lcm.abs(dirPath)
	if err := os.RemoveAll(full); err != nil {
		return merr.WrapErrIoFailed(full, err)
	}
	log.Debug("deleted directory", zap.String("path", full))
	return nil
}

// localAppendWriter is the os.File-backed AppendWriter.
type localAppendWriter struct {
	f     *os.File
	fsync bool
	size  int64
}

func (w *localAppendWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, merr.WrapErrIoFailed(w.f.Name(), err)
	}
	return n, nil
}

func (w *localAppendWriter) Sync() error {
	if !w.fsync {
		return nil
	}
	if err := w.f.Sync(); err != nil {
		return merr.WrapErrIoFailed(w.f.Name(), err)
	}
	return nil
}

func (w *localAppendWriter) Len() int64 {
	return w.size
}

func (w *localAppendWriter) Close() error {
	if err := w.f.Close(); err != nil {
		return merr.WrapErrIoFailed(w.f.Name(), err)
	}
	return nil
}
