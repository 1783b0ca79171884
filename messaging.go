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
	"encoding/binary"
)

// CheckpointReq is the request a task sends its management node asking it
// to initiate a cluster-wide checkpoint barrier (§4.8, "Messaging
// side-effects" / the CK_IN_PROGRESS transition's trigger). The core only
// builds and hands off the message; the barrier protocol itself belongs to
// the checkpoint coordinator, an external collaborator.
type CheckpointReq struct {
	StreamID     int64
	TaskID       int32
	NodeID       int32
	CheckpointID int64
}

// Encode renders req as the flat wire form the management node expects,
// using the same length-free fixed layout the rest of the core's wire
// types favor for small fixed-shape control messages.
func (req *CheckpointReq) Encode() ([]byte, error) {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(req.StreamID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(req.TaskID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(req.NodeID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(req.CheckpointID))
	return buf, nil
}

// RequestCheckpoint asks the management node at mnodeEp to begin a
// checkpoint with the given id, by way of the injected MsgCallback
// (§4.8). The caller supplies checkpointID since assigning one is the
// coordinator's responsibility, not this core's.
func (t *Task) RequestCheckpoint(checkpointID int64) error {
	req := &CheckpointReq{
		StreamID:     t.ID.StreamID,
		TaskID:       t.ID.TaskID,
		NodeID:       t.NodeID,
		CheckpointID: checkpointID,
	}
	return t.msgCB.SendCheckpointReq(t.MnodeEpset.Preferred(), req)
}

// BuildAndSendDropTaskMsg enqueues a drop-task request for this task on the
// local write queue (§4.8, "send_drop_task_msg"). resetRelHalt additionally
// asks the receiver to clear any HALT state the task's upstream relations
// left behind, mirroring the companion flag the original drop-task
// protocol carries for tasks being dropped mid-halt.
func (t *Task) BuildAndSendDropTaskMsg(resetRelHalt bool) error {
	return t.msgCB.SendDropTaskMsg(t.meta.VgID(), t.ID.TaskID, resetRelHalt)
}
