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

import "fmt"

// AppId identifies one client application. Opaque to this package.
type AppId string

// AppShuffleId identifies one shuffle stage: all map output of a single
// (app, shuffleId) pair.
type AppShuffleId struct {
	AppId     AppId
	ShuffleID int32
}

func (s AppShuffleId) String() string {
	return fmt.Sprintf("%s/%d", s.AppId, s.ShuffleID)
}

// AppMapId identifies one mapper within a shuffle stage.
type AppMapId struct {
	AppShuffleId AppShuffleId
	MapID        int32
}

// AppTaskAttemptId identifies one attempt of one mapper. Retries bump
// TaskAttemptID; only the latest attempt per MapID is ever "effective".
type AppTaskAttemptId struct {
	AppMapId      AppMapId
	TaskAttemptID int64
}

func (a AppTaskAttemptId) String() string {
	return fmt.Sprintf("%s/map=%d/attempt=%d", a.AppMapId.AppShuffleId, a.AppMapId.MapID, a.TaskAttemptID)
}

// FileEntry is one finalized partition file: its opaque path and the
// byte length observed as of the commit that recorded it.
type FileEntry struct {
	Path   string
	Length int64
}

// AppShufflePartitionId identifies one partition's output file within a
// shuffle stage.
type AppShufflePartitionId struct {
	AppShuffleId AppShuffleId
	PartitionID  int32
}

// MapTaskAttemptId is the (mapId, taskAttemptId) pair with the
// AppShuffleId stripped off — used inside StageState where the shuffle
// identity is already fixed by the enclosing struct.
type MapTaskAttemptId struct {
	MapID         int32
	TaskAttemptID int64
}

func (m MapTaskAttemptId) String() string {
	return fmt.Sprintf("map=%d/attempt=%d", m.MapID, m.TaskAttemptID)
}
