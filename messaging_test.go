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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunotm/streamtask/types"
)

func TestCheckpointReqEncodeLayout(t *testing.T) {
	req := &CheckpointReq{StreamID: 1, TaskID: 2, NodeID: 3, CheckpointID: 4}
	buf, err := req.Encode()
	require.NoError(t, err)
	require.Len(t, buf, 24)

	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(buf[0:8]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[12:16]))
	assert.Equal(t, uint64(4), binary.LittleEndian.Uint64(buf[16:24]))
}

func TestRequestCheckpointDispatchesViaMsgCallback(t *testing.T) {
	task, _, msgCB := newTestTask(types.Source, types.Table, false, 1)
	require.NoError(t, task.RequestCheckpoint(42))

	require.Len(t, msgCB.checkpointReqs, 1)
	assert.Equal(t, int64(42), msgCB.checkpointReqs[0].CheckpointID)
	assert.Equal(t, task.ID.StreamID, msgCB.checkpointReqs[0].StreamID)
}

func TestBuildAndSendDropTaskMsg(t *testing.T) {
	task, meta, msgCB := newTestTask(types.Source, types.Table, false, 1)
	require.NoError(t, task.BuildAndSendDropTaskMsg(true))

	require.Len(t, msgCB.dropMsgs, 1)
	assert.Equal(t, meta.VgID(), msgCB.dropMsgs[0].VgID)
	assert.Equal(t, task.ID.TaskID, msgCB.dropMsgs[0].TaskID)
	assert.True(t, msgCB.dropMsgs[0].ResetRelHalt)
}
