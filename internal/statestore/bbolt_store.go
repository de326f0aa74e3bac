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

package statestore

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/remoteshuffle/executor/pkg/log"
)

var logBucket = []byte("log")

// BoltStateStore is the StateStore backed by a single bbolt file. bbolt
// gives us the durability barrier for free: a bolt transaction only
// returns once its pages are fsynced, so Commit is exactly "run one
// bolt Update".
type BoltStateStore struct {
	db *bolt.DB

	mu      sync.Mutex
	pending [][]byte // encoded envelopes staged since the last Commit
}

var _ StateStore = (*BoltStateStore)(nil)

// OpenBoltStateStore opens (creating if necessary) the bolt file at path.
func OpenBoltStateStore(path string) (*BoltStateStore, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "statestore: open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "statestore: init bucket")
	}
	log.Info("state store opened", zap.String("path", path))
	return &BoltStateStore{db: db}, nil
}

func (s *BoltStateStore) appendEncoded(kind ItemKind, payload any) error {
	env, err := encodeItem(kind, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = append(s.pending, env)
	s.mu.Unlock()
	return nil
}

func (s *BoltStateStore) AppendStageInfo(v StageInfo) error {
	return s.appendEncoded(KindStageInfo, v)
}

func (s *BoltStateStore) AppendTaskAttemptCommit(v TaskAttemptCommit) error {
	return s.appendEncoded(KindTaskAttemptCommit, v)
}

func (s *BoltStateStore) AppendStageCorruption(v StageCorruption) error {
	return s.appendEncoded(KindStageCorruption, v)
}

func (s *BoltStateStore) AppendAppDeletion(v AppDeletion) error {
	return s.appendEncoded(KindAppDeletion, v)
}

// Commit persists every item staged since the previous Commit in one
// bolt transaction. On success the pending buffer is cleared; on
// failure it is left intact so a caller may retry Commit without
// re-appending.
func (s *BoltStateStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		for _, env := range s.pending {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(encodeSeq(seq), env); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "statestore: commit")
	}

	s.pending = s.pending[:0]
	return nil
}

// LoadData replays every committed item in append order. A decode
// failure on the log's trailing record — a torn envelope left by a
// crash mid-append, or a kind byte this build doesn't recognize — stops
// the replay there instead of failing the whole load: it is reported as
// ErrTornRecord, which LoadStateStore treats as a partial load. A decode
// failure anywhere else in the log is a genuine corruption and is
// returned as a hard error.
func (s *BoltStateStore) LoadData(ctx context.Context, visit Visitor) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			kind, payload, err := decodeItem(v)
			if err != nil {
				peek := b.Cursor()
				peek.Seek(k)
				if nextKey, _ := peek.Next(); nextKey == nil {
					return errors.Wrap(ErrTornRecord, err.Error())
				}
				return err
			}
			if err := visit(kind, payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// Compact rewrites the log, dropping every item belonging to an
// application that has since been deleted (including its own
// AppDeletion markers, which are no longer needed once applied).
func (s *BoltStateStore) Compact(ctx context.Context) error {
	deletedApps := make(map[string]struct{})
	kept := make([][]byte, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			kind, payload, err := decodeItem(v)
			if err != nil {
				return err
			}
			if kind == KindAppDeletion {
				deletedApps[payload.(AppDeletion).AppID] = struct{}{}
			}
			env := make([]byte, len(v))
			copy(env, v)
			kept = append(kept, env)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "statestore: compact scan")
	}

	survivors := kept[:0]
	for _, env := range kept {
		kind, payload, err := decodeItem(env)
		if err != nil {
			return err
		}
		appID := appIDOf(kind, payload)
		if _, deleted := deletedApps[appID]; deleted {
			continue
		}
		survivors = append(survivors, env)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(logBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(logBucket)
		if err != nil {
			return err
		}
		for _, env := range survivors {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(encodeSeq(seq), env); err != nil {
				return err
			}
		}
		return nil
	})
}

func appIDOf(kind ItemKind, payload any) string {
	switch kind {
	case KindStageInfo:
		return payload.(StageInfo).AppID
	case KindTaskAttemptCommit:
		return payload.(TaskAttemptCommit).AppID
	case KindStageCorruption:
		return payload.(StageCorruption).AppID
	case KindAppDeletion:
		return payload.(AppDeletion).AppID
	default:
		return ""
	}
}

// Close releases the bolt file handle.
func (s *BoltStateStore) Close() error {
	return s.db.Close()
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
