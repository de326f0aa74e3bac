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

import "context"

// Visitor is called once per item during LoadData, in append order.
// payload is one of StageInfo, TaskAttemptCommit, StageCorruption, or
// AppDeletion.
type Visitor func(kind ItemKind, payload any) error

// StateStore is the durable log spec §4.4 describes. Append is
// buffered; Commit is the durability barrier — an item is only
// guaranteed to survive a crash once the Commit that follows its Append
// has returned successfully.
type StateStore interface {
	// AppendStageInfo, AppendTaskAttemptCommit, AppendStageCorruption and
	// AppendAppDeletion each stage one tagged item for the next Commit.
	AppendStageInfo(v StageInfo) error
	AppendTaskAttemptCommit(v TaskAttemptCommit) error
	AppendStageCorruption(v StageCorruption) error
	AppendAppDeletion(v AppDeletion) error

	// Commit durably persists every item appended since the last
	// successful Commit.
	Commit(ctx context.Context) error

	// LoadData replays every committed item, in the order it was
	// appended, into visit. Used once at startup by recovery.
	LoadData(ctx context.Context, visit Visitor) error

	// Compact rewrites the log to drop every item of an app that has an
	// AppDeletion anywhere in the log (the AppDeletion included),
	// bounding log growth.
	Compact(ctx context.Context) error

	// Close releases the underlying handle.
	Close() error
}
