package streamtask

/*
   Copyright 2018 Bruno Moura <brunotm@gmail.com>

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

import (
	"time"

	"github.com/brunotm/streamtask/types"
)

// unknownStatusStage is the sentinel stage a freshly initialized
// StatusEntry carries before its owning task has ever reported in.
const unknownStatusStage int64 = -1

// StatusEntry is the lightweight, node-wide status-report row a meta-store
// or monitoring collaborator keeps per task (supplementing the core with
// the status-reporting snapshot the original implementation propagates
// alongside every heartbeat). It carries no behavior of its own beyond
// init/copy.
type StatusEntry struct {
	ID     TaskID
	Stage  int64
	NodeID int32
	Status types.Status

	InputQueueUsed float64
	InputRate      float64
	ProcessedVer   int64
	VerRangeStart  uint64
	VerRangeEnd    uint64

	SinkQuota    int64
	SinkDataSize int64

	Checkpoint         CheckpointInfo
	StartCheckpointID  int64
	StartCheckpointVer int64

	StartTime time.Time
	HTaskID   TaskID
}

// NewStatusEntry initializes a StatusEntry for t, mirroring
// streamTaskStatusInit's defaults: an unknown stage and a STOP status until
// the first real report arrives.
func NewStatusEntry(t *Task) *StatusEntry {
	return &StatusEntry{
		ID:     t.ID,
		Stage:  unknownStatusStage,
		NodeID: t.NodeID,
		Status: types.Stop,
	}
}

// CopyStatusEntry overwrites dst's mutable reporting fields with src's,
// leaving identity (ID, NodeID) untouched. This is the per-tick merge a
// status-report aggregator uses to fold a fresh report into its table.
func CopyStatusEntry(dst, src *StatusEntry) {
	dst.Stage = src.Stage
	dst.Status = src.Status
	dst.InputQueueUsed = src.InputQueueUsed
	dst.InputRate = src.InputRate
	dst.ProcessedVer = src.ProcessedVer
	dst.VerRangeStart = src.VerRangeStart
	dst.VerRangeEnd = src.VerRangeEnd
	dst.SinkQuota = src.SinkQuota
	dst.SinkDataSize = src.SinkDataSize
	dst.Checkpoint = src.Checkpoint
	dst.StartCheckpointID = src.StartCheckpointID
	dst.StartCheckpointVer = src.StartCheckpointVer
	dst.StartTime = src.StartTime
	dst.HTaskID = src.HTaskID
}
