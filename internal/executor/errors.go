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

import "github.com/cockroachdb/errors"

// ErrorKind is the error taxonomy from spec §7. Kinds, not types: every
// error this package originates satisfies errors.Is against exactly one
// of the sentinels below, and Kind(err) recovers which. Errors passed up
// unchanged from the state store or a context (e.g. a failed Commit in
// registerShuffle) classify as KindUnknown.
type ErrorKind int

const (
	// KindUnknown is returned by Kind for an error this package didn't
	// originate.
	KindUnknown ErrorKind = iota
	KindStageNotStarted
	KindStageCorrupted
	KindQuotaExceeded
	KindInvalidState
)

var (
	// ErrStageNotStarted: lookup for a stage that has never been
	// registered. Fatal to the caller, recoverable at the service level.
	ErrStageNotStarted = errors.New("shuffle stage not started")

	// ErrStageCorrupted: schema mismatch on re-registration, or any
	// exception escaping a write/flush/commit path. Absorbing once set.
	ErrStageCorrupted = errors.New("shuffle stage corrupted")

	// ErrQuotaExceeded: numWriteBytes exceeded appMaxWriteBytes.
	ErrQuotaExceeded = errors.New("application write quota exceeded")

	// ErrInvalidState: an invariant violation that indicates a scheduling
	// bug rather than a caller error (e.g. flushPartitions handed
	// attempts from more than one stage).
	ErrInvalidState = errors.New("invalid executor state")
)

// Kind classifies err against the taxonomy above.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrStageNotStarted):
		return KindStageNotStarted
	case errors.Is(err, ErrStageCorrupted):
		return KindStageCorrupted
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	default:
		return KindUnknown
	}
}

// wrapStageNotStarted annotates ErrStageNotStarted with which stage.
func wrapStageNotStarted(shuffle AppShuffleId) error {
	return errors.Wrapf(ErrStageNotStarted, "shuffle %s", shuffle)
}

// wrapStageCorrupted annotates ErrStageCorrupted with which stage and why.
func wrapStageCorrupted(shuffle AppShuffleId, reason string) error {
	return errors.Wrapf(ErrStageCorrupted, "shuffle %s: %s", shuffle, reason)
}

// wrapQuotaExceeded annotates ErrQuotaExceeded with the offending app.
func wrapQuotaExceeded(app AppId, used, max int64) error {
	return errors.Wrapf(ErrQuotaExceeded, "app %s used %d bytes, max %d", app, used, max)
}

// wrapInvalidStateMultiStage reports flushPartitions being handed
// attempts from more than one stage — a scheduling bug, not a caller
// error, per spec §4.3/§7.
func wrapInvalidStateMultiStage(expected, got AppShuffleId) error {
	return errors.Wrapf(ErrInvalidState, "flushPartitions: expected shuffle %s, got attempt for %s", expected, got)
}
