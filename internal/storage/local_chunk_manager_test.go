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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalChunkManager_OpenAppendWritesAndAccumulates(t *testing.T) {
	ctx := context.Background()
	lcm, err := NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	w, err := lcm.OpenAppend(ctx, "app1/shuffle0/partition0")
	require.NoError(t, err)

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), w.Len())

	n, err = w.Write([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, int64(11), w.Len())
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	exist, err := lcm.Exist(ctx, "app1/shuffle0/partition0")
	require.NoError(t, err)
	assert.True(t, exist)
}

func TestLocalChunkManager_ReopenAppendContinuesFromExistingLength(t *testing.T) {
	ctx := context.Background()
	lcm, err := NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	w1, err := lcm.OpenAppend(ctx, "app1/shuffle0/partition0")
	require.NoError(t, err)
	_, err = w1.Write([]byte("abcde"))
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := lcm.OpenAppend(ctx, "app1/shuffle0/partition0")
	require.NoError(t, err)
	assert.Equal(t, int64(5), w2.Len())
	require.NoError(t, w2.Close())
}

func TestLocalChunkManager_ExistRemove(t *testing.T) {
	ctx := context.Background()
	lcm, err := NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	exist, err := lcm.Exist(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exist)

	w, err := lcm.OpenAppend(ctx, "app1/file")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	exist, err = lcm.Exist(ctx, "app1/file")
	require.NoError(t, err)
	assert.True(t, exist)

	require.NoError(t, lcm.Remove(ctx, "app1/file"))
	exist, err = lcm.Exist(ctx, "app1/file")
	require.NoError(t, err)
	assert.False(t, exist)

	// removing a nonexistent file is not an error.
	require.NoError(t, lcm.Remove(ctx, "app1/file"))
}

func TestLocalChunkManager_DeleteDirectory(t *testing.T) {
	ctx := context.Background()
	lcm, err := NewLocalChunkManager(t.TempDir(), false)
	require.NoError(t, err)

	w, err := lcm.OpenAppend(ctx, "app1/shuffle0/partition0")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, lcm.DeleteDirectory(ctx, "app1"))

	exist, err := lcm.Exist(ctx, "app1/shuffle0/partition0")
	require.NoError(t, err)
	assert.False(t, exist)
}
