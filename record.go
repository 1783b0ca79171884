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
	"github.com/brunotm/streamtask/codec"
	"github.com/brunotm/streamtask/types"
)

func toCodecEpset(e EpSet) codec.EpSet {
	eps := make([]codec.Endpoint, len(e.Eps))
	for i, ep := range e.Eps {
		eps[i] = codec.Endpoint{Fqdn: ep.Fqdn, Port: ep.Port}
	}
	return codec.EpSet{Eps: eps, InUse: int32(e.InUse)}
}

func fromCodecEpset(e codec.EpSet) EpSet {
	eps := make([]Endpoint, len(e.Eps))
	for i, ep := range e.Eps {
		eps[i] = Endpoint{Fqdn: ep.Fqdn, Port: ep.Port}
	}
	return EpSet{Eps: eps, InUse: int(e.InUse)}
}

func boolToI8(b bool) int8 {
	if b {
		return 1
	}
	return 0
}

// ToRecord snapshots t into the wire DTO codec.Encode consumes (§4.1). The
// caller is expected to hold t.lock, or to call this only on a task not yet
// reachable from other goroutines (e.g. immediately after NewTask).
func (t *Task) ToRecord(ver int64) *codec.TaskRecord {
	rec := &codec.TaskRecord{
		Ver:         ver,
		StreamID:    t.ID.StreamID,
		TaskID:      t.ID.TaskID,
		TotalLevel:  t.TotalLevel,
		Level:       int8(t.Level),
		OutputType:  int8(t.OutputType),
		MsgType:     t.MsgType,
		TaskStatus:  int8(t.status),
		SchedStatus: int8(t.schedStatus),

		SelfChildID: t.SelfChildID,
		NodeID:      t.NodeID,
		Epset:       toCodecEpset(t.Epset),
		MnodeEpset:  toCodecEpset(t.MnodeEpset),

		CheckpointID:  t.Checkpoint.CheckpointID,
		CheckpointVer: t.Checkpoint.CheckpointVer,
		FillHistory:   boolToI8(t.FillHistory),

		HTaskStreamID:      t.HTask.StreamID,
		HTaskTaskID:        t.HTask.TaskID,
		StreamTaskStreamID: t.StreamTask.StreamID,
		StreamTaskTaskID:   t.StreamTask.TaskID,

		DataRangeMinVer:      t.DataRange.MinVer,
		DataRangeMaxVer:      t.DataRange.MaxVer,
		DataRangeWindowStart: t.DataRange.WindowStart,
		DataRangeWindowEnd:   t.DataRange.WindowEnd,

		Qmsg: t.Output.Qmsg,

		TableStbUID:        t.Output.TableStbUID,
		TableStbFullName:   t.Output.TableStbFullName,
		TableSchemaWrapper: t.Output.TableSchemaWrapper,
		SmaID:              t.Output.SmaID,

		TriggerParam:       t.Output.TriggerParam,
		SubtableWithoutMD5: boolToI8(t.Output.SubtableWithoutMD5),
		Reserve:            t.Output.Reserve,
	}

	for _, u := range t.upstream.Entries() {
		rec.Upstream = append(rec.Upstream, codec.UpstreamEntry{
			TaskID:  u.TaskID,
			NodeID:  u.NodeID,
			ChildID: u.ChildID,
			Epset:   toCodecEpset(u.Epset),
			Stage:   u.Stage,
		})
	}

	switch d := t.dispatcher.(type) {
	case *FixedDispatcher:
		rec.FixedTaskID = d.TaskID
		rec.FixedNodeID = d.NodeID
		rec.FixedEpset = toCodecEpset(d.Epset)
	case *ShuffleDispatcher:
		rec.ShuffleStbFullName = d.StbFullName
		for _, vg := range d.Vgroups {
			rec.ShuffleVgroups = append(rec.ShuffleVgroups, codec.VgroupEntry{
				VgID:   vg.VgID,
				TaskID: vg.TaskID,
				NodeID: vg.NodeID,
				Epset:  toCodecEpset(vg.Epset),
			})
		}
	}

	return rec
}

// TaskFromRecord reconstructs a Task's static fields from a decoded
// codec.TaskRecord. The returned task still needs Init before it is
// runnable. The upstream list and the fixed or shuffle dispatcher are
// restored from the record as well.
func TaskFromRecord(rec *codec.TaskRecord, list *TaskList) *Task {
	t := NewTask(
		rec.StreamID,
		rec.TaskID,
		types.TaskLevel(rec.Level),
		types.OutputKind(rec.OutputType),
		rec.NodeID,
		fromCodecEpset(rec.MnodeEpset),
		rec.FillHistory != 0,
		list,
	)

	t.TotalLevel = rec.TotalLevel
	t.MsgType = rec.MsgType
	t.SelfChildID = rec.SelfChildID
	t.Epset = fromCodecEpset(rec.Epset)
	t.status = types.Status(rec.TaskStatus)
	t.schedStatus = types.SchedStatus(rec.SchedStatus)

	t.Checkpoint.CheckpointID = rec.CheckpointID
	t.Checkpoint.CheckpointVer = rec.CheckpointVer
	t.Checkpoint.MsgVer = rec.Ver

	if rec.HTaskTaskID != 0 || rec.HTaskStreamID != 0 {
		t.HTask = TaskID{StreamID: rec.HTaskStreamID, TaskID: rec.HTaskTaskID}
	}
	if rec.StreamTaskTaskID != 0 || rec.StreamTaskStreamID != 0 {
		t.StreamTask = TaskID{StreamID: rec.StreamTaskStreamID, TaskID: rec.StreamTaskTaskID}
	}

	t.DataRange = DataRange{
		MinVer:      rec.DataRangeMinVer,
		MaxVer:      rec.DataRangeMaxVer,
		WindowStart: rec.DataRangeWindowStart,
		WindowEnd:   rec.DataRangeWindowEnd,
	}

	t.Output = OutputSpec{
		Qmsg:               rec.Qmsg,
		TableStbUID:        rec.TableStbUID,
		TableStbFullName:   rec.TableStbFullName,
		TableSchemaWrapper: rec.TableSchemaWrapper,
		SmaID:              rec.SmaID,
		TriggerParam:       rec.TriggerParam,
		SubtableWithoutMD5: rec.SubtableWithoutMD5 != 0,
		Reserve:            rec.Reserve,
	}

	for _, u := range rec.Upstream {
		t.upstream.list = append(t.upstream.list, ChildEndpointInfo{
			ChildID:     u.ChildID,
			TaskID:      u.TaskID,
			NodeID:      u.NodeID,
			Epset:       fromCodecEpset(u.Epset),
			Stage:       u.Stage,
			DataAllowed: true,
		})
	}

	switch rec.OutputType {
	case codec.OutputFixedDispatch:
		t.dispatcher = &FixedDispatcher{
			TaskID: rec.FixedTaskID,
			NodeID: rec.FixedNodeID,
			Epset:  fromCodecEpset(rec.FixedEpset),
		}
	case codec.OutputShuffleDispatch:
		sd := &ShuffleDispatcher{StbFullName: rec.ShuffleStbFullName}
		for _, vg := range rec.ShuffleVgroups {
			sd.Vgroups = append(sd.Vgroups, VgroupInfo{
				VgID:   vg.VgID,
				TaskID: vg.TaskID,
				NodeID: vg.NodeID,
				Epset:  fromCodecEpset(vg.Epset),
			})
		}
		t.dispatcher = sd
	}

	return t
}
