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

// Package statestore is the durable log spec §4.4 describes: every
// mutation an executor needs to survive a restart goes through Append
// followed eventually by Commit, and LoadData replays the log back into
// tagged items on recovery.
package statestore

import (
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ItemKind discriminates the payload carried by one log entry. Wire tag,
// not a Go type — stable across versions.
type ItemKind uint8

const (
	KindStageInfo ItemKind = iota + 1
	KindTaskAttemptCommit
	KindStageCorruption
	KindAppDeletion
)

// StageInfo records a registerShuffle call (or a recovery re-persist of
// one): the stage's immutable shape plus its current fileStartIndex,
// which recovery bumps on every restart to avoid colliding with a prior
// run's partition files.
type StageInfo struct {
	AppID                string `msgpack:"app_id"`
	ShuffleID            int32  `msgpack:"shuffle_id"`
	NumMaps              int32  `msgpack:"num_maps"`
	NumPartitions        int32  `msgpack:"num_partitions"`
	NumSplits            int32  `msgpack:"num_splits"`
	FileCompressionCodec string `msgpack:"file_compression_codec"`
	FileStartIndex       int32  `msgpack:"file_start_index"`
	Corrupted            bool   `msgpack:"corrupted"`
}

// MapAttempt is one (mapId, taskAttemptId) pair as carried inside a
// TaskAttemptCommit.
type MapAttempt struct {
	MapID         int32 `msgpack:"map_id"`
	TaskAttemptID int64 `msgpack:"task_attempt_id"`
}

// PartitionFile is one finalized partition file as carried inside a
// TaskAttemptCommit: the post-flush snapshot of every partition's path
// and persisted length.
type PartitionFile struct {
	PartitionID int32  `msgpack:"partition_id"`
	Path        string `msgpack:"path"`
	Length      int64  `msgpack:"length"`
}

// TaskAttemptCommit records one flushPartitions call that completed
// successfully: every map attempt it committed, plus the post-flush
// snapshot of every partition's finalized file.
type TaskAttemptCommit struct {
	AppID     string          `msgpack:"app_id"`
	ShuffleID int32           `msgpack:"shuffle_id"`
	Attempts  []MapAttempt    `msgpack:"attempts"`
	Files     []PartitionFile `msgpack:"files"`
}

// StageCorruption records a stage transitioning to the corrupted state,
// with a short human-readable reason.
type StageCorruption struct {
	AppID     string `msgpack:"app_id"`
	ShuffleID int32  `msgpack:"shuffle_id"`
	Reason    string `msgpack:"reason"`
}

// AppDeletion records removeExpiredApplications reclaiming one
// application's space. Replaying this item during recovery means any
// StageInfo/TaskAttemptCommit for the same app that precedes it in the
// log is superseded.
type AppDeletion struct {
	AppID string `msgpack:"app_id"`
}

// item is the on-disk envelope: a kind tag plus the msgpack-encoded
// payload for that kind. Kept separate from the payload types so
// encode/decode has one place to grow a schema version if ever needed.
type item struct {
	Kind    ItemKind `msgpack:"kind"`
	Payload []byte   `msgpack:"payload"`
}

// ErrUnknownItemKind is returned by decodeItem for a kind byte this
// build doesn't recognize — e.g. a log written by a newer version.
var ErrUnknownItemKind = errors.New("statestore: unknown item kind")

// ErrTornRecord marks a decode failure LoadData attributes to the log's
// trailing record (a truncated envelope or unrecognized kind at the very
// end of the bucket). LoadStateStore treats it like exceeding the load
// time budget: the log stops there and the run proceeds with whatever
// was loaded, rather than failing outright.
var ErrTornRecord = errors.New("statestore: torn or unrecognized trailing record")

// encodeItem serializes one tagged payload into its envelope bytes.
func encodeItem(kind ItemKind, payload any) ([]byte, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "statestore: encode payload")
	}
	env, err := msgpack.Marshal(item{Kind: kind, Payload: raw})
	if err != nil {
		return nil, errors.Wrap(err, "statestore: encode envelope")
	}
	return env, nil
}

// decodeItem parses an envelope and returns the kind plus the decoded
// payload as one of StageInfo, TaskAttemptCommit, StageCorruption, or
// AppDeletion.
func decodeItem(raw []byte) (ItemKind, any, error) {
	var env item
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return 0, nil, errors.Wrap(err, "statestore: decode envelope")
	}

	switch env.Kind {
	case KindStageInfo:
		var v StageInfo
		if err := msgpack.Unmarshal(env.Payload, &v); err != nil {
			return 0, nil, errors.Wrap(err, "statestore: decode StageInfo")
		}
		return env.Kind, v, nil
	case KindTaskAttemptCommit:
		var v TaskAttemptCommit
		if err := msgpack.Unmarshal(env.Payload, &v); err != nil {
			return 0, nil, errors.Wrap(err, "statestore: decode TaskAttemptCommit")
		}
		return env.Kind, v, nil
	case KindStageCorruption:
		var v StageCorruption
		if err := msgpack.Unmarshal(env.Payload, &v); err != nil {
			return 0, nil, errors.Wrap(err, "statestore: decode StageCorruption")
		}
		return env.Kind, v, nil
	case KindAppDeletion:
		var v AppDeletion
		if err := msgpack.Unmarshal(env.Payload, &v); err != nil {
			return 0, nil, errors.Wrap(err, "statestore: decode AppDeletion")
		}
		return env.Kind, v, nil
	default:
		return env.Kind, nil, errors.Wrapf(ErrUnknownItemKind, "kind=%d", env.Kind)
	}
}
