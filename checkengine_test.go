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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunotm/streamtask/types"
)

func newCheckEngineTask(t *testing.T, downstreams int) (*Task, *testMsgCB) {
	t.Helper()
	task, _, msgCB := newTestTask(types.Agg, types.ShuffleDispatch, false, 1)
	// A task whose readiness check is still running has not reached READY;
	// monitorTick completes at once on a READY task.
	task.status = types.Uninit

	sd := &ShuffleDispatcher{StbFullName: "t"}
	for i := 0; i < downstreams; i++ {
		sd.Vgroups = append(sd.Vgroups, VgroupInfo{
			VgID:   int32(i),
			TaskID: int32(100 + i),
			NodeID: int32(i),
			Epset:  EpSet{Eps: []Endpoint{{Fqdn: "h", Port: 6030}}},
		})
	}
	task.SetDispatcher(sd)
	return task, msgCB
}

func TestStartMonitorCheckRspSendsOneProbePerDownstream(t *testing.T) {
	task, msgCB := newCheckEngineTask(t, 3)

	require.NoError(t, task.StartMonitorCheckRsp())
	assert.True(t, task.InCheckProcess())
	assert.Equal(t, int32(3), task.NotReadyTasks())
	assert.Len(t, msgCB.sentCheckMsgs(), 3)
}

func TestStartMonitorCheckRspRejectsWhileAlreadyRunning(t *testing.T) {
	task, _ := newCheckEngineTask(t, 1)
	require.NoError(t, task.StartMonitorCheckRsp())

	err := task.StartMonitorCheckRsp()
	assert.ErrorIs(t, err, ErrAlreadyInCheckProcess)
}

func TestUpdateCheckInfoReadyDecrementsNotReadyOnce(t *testing.T) {
	task, msgCB := newCheckEngineTask(t, 2)
	require.NoError(t, task.StartMonitorCheckRsp())

	msgs := msgCB.sentCheckMsgs()
	require.Len(t, msgs, 2)

	n, err := task.UpdateCheckInfo(CheckRspMsg{TaskID: msgs[0].DownstreamTaskID, ReqID: msgs[0].ReqID, Status: types.DownstreamReady})
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	// A second READY report for the same task must not double-decrement.
	n, err = task.UpdateCheckInfo(CheckRspMsg{TaskID: msgs[0].DownstreamTaskID, ReqID: msgs[0].ReqID, Status: types.DownstreamReady})
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)
}

func TestUpdateCheckInfoUnknownTaskRejected(t *testing.T) {
	task, _ := newCheckEngineTask(t, 1)
	require.NoError(t, task.StartMonitorCheckRsp())

	_, err := task.UpdateCheckInfo(CheckRspMsg{TaskID: 999, ReqID: "bogus", Status: types.DownstreamReady})
	var unknownErr *UnknownTaskResponseError
	assert.ErrorAs(t, err, &unknownErr)
}

func TestUpdateCheckInfoMismatchedReqIDRejected(t *testing.T) {
	task, msgCB := newCheckEngineTask(t, 1)
	require.NoError(t, task.StartMonitorCheckRsp())
	msgs := msgCB.sentCheckMsgs()

	_, err := task.UpdateCheckInfo(CheckRspMsg{TaskID: msgs[0].DownstreamTaskID, ReqID: "not-the-real-one", Status: types.DownstreamReady})
	var unknownErr *UnknownTaskResponseError
	assert.ErrorAs(t, err, &unknownErr)
}

func TestMonitorTickCompletesWhenAllReady(t *testing.T) {
	task, msgCB := newCheckEngineTask(t, 1)
	require.NoError(t, task.StartMonitorCheckRsp())
	msgs := msgCB.sentCheckMsgs()

	_, err := task.UpdateCheckInfo(CheckRspMsg{TaskID: msgs[0].DownstreamTaskID, ReqID: msgs[0].ReqID, Status: types.DownstreamReady})
	require.NoError(t, err)

	task.monitorTick()
	assert.False(t, task.InCheckProcess())
}

func TestMonitorTickAbortsOnFault(t *testing.T) {
	task, msgCB := newCheckEngineTask(t, 1)
	m := NewMetrics(noopRegistry())
	task.SetMetrics(m)

	require.NoError(t, task.StartMonitorCheckRsp())
	msgs := msgCB.sentCheckMsgs()

	_, err := task.UpdateCheckInfo(CheckRspMsg{TaskID: msgs[0].DownstreamTaskID, ReqID: msgs[0].ReqID, Status: types.DownstreamNewStage})
	require.NoError(t, err)

	task.monitorTick()
	assert.False(t, task.InCheckProcess(), "a fault response must abort the cycle")
}

func TestMonitorTickTimesOutAndReprobes(t *testing.T) {
	task, msgCB := newCheckEngineTask(t, 1)
	require.NoError(t, task.StartMonitorCheckRsp())
	require.Len(t, msgCB.sentCheckMsgs(), 1)

	// Force the entry's start timestamp far enough in the past to exceed
	// CheckNotRspDuration (10ms in the test config).
	task.checkInfo.mu.Lock()
	task.checkInfo.startTS -= 1000
	task.checkInfo.mu.Unlock()

	task.monitorTick()

	assert.True(t, task.InCheckProcess(), "a timeout retries rather than aborting")
	assert.Len(t, msgCB.sentCheckMsgs(), 2, "the timed-out downstream must be re-probed")
}

func TestMonitorTickOnStopStatusRecordsFailedLaunch(t *testing.T) {
	task, msgCB := newCheckEngineTask(t, 1)
	require.NoError(t, task.StartMonitorCheckRsp())
	_ = msgCB

	task.HandleEvent(EventStop)
	task.monitorTick()

	assert.False(t, task.InCheckProcess())
	meta := task.meta.(*testMeta)
	require.Len(t, meta.results, 1)
	assert.False(t, meta.results[0].Success)
}

func TestStopMonitorCheckRspStopsOnNextTick(t *testing.T) {
	task, msgCB := newCheckEngineTask(t, 1)
	require.NoError(t, task.StartMonitorCheckRsp())
	_ = msgCB

	task.StopMonitorCheckRsp()
	task.monitorTick()

	assert.False(t, task.InCheckProcess())
}

func TestCompleteCheckRspNoopIncrementsMetric(t *testing.T) {
	task, _ := newCheckEngineTask(t, 1)
	m := NewMetrics(noopRegistry())
	task.SetMetrics(m)

	task.completeCheckRsp()

	assert.Equal(t, float64(1), testCounterValue(m.CheckNoopDone))
}

func TestAddReqInfoIsIdempotent(t *testing.T) {
	ci := newCheckInfo()
	ci.addReqInfo(1, "req-a")
	ci.addReqInfo(1, "req-b")

	require.Len(t, ci.list, 1)
	assert.Equal(t, "req-a", ci.list[0].ReqID)
}
