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
	"sync"
	"sync/atomic"
	"time"

	"github.com/brunotm/streamtask/types"
)

// testMeta is a minimal in-package MetaCallbacks double, kept separate from
// mock.MetaStore so these tests never need to import the mock package's own
// dependency on this one.
type testMeta struct {
	mu sync.Mutex

	vgID  int32
	stage int64

	tasks     map[TaskID]*Task
	saveCount int
	results   []testLaunchResult
}

type testLaunchResult struct {
	ID      TaskID
	StartTS time.Time
	EndTS   time.Time
	Success bool
}

func newTestMeta(vgID int32, stage int64) *testMeta {
	return &testMeta{vgID: vgID, stage: stage, tasks: make(map[TaskID]*Task)}
}

func (m *testMeta) register(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
}

func (m *testMeta) SaveTask(task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCount++
	return nil
}

func (m *testMeta) AddTaskLaunchResult(id TaskID, startTS, endTS time.Time, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, testLaunchResult{ID: id, StartTS: startTS, EndTS: endTS, Success: success})
}

func (m *testMeta) VgID() int32  { return m.vgID }
func (m *testMeta) Stage() int64 { return m.stage }

func (m *testMeta) GetTask(id TaskID) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

func (m *testMeta) saveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

// testMsgCB is a minimal in-package MsgCallback double.
type testMsgCB struct {
	mu sync.Mutex

	checkMsgs []*CheckMsg
	dropMsgs  []struct {
		VgID, TaskID int32
		ResetRelHalt bool
	}
	checkpointReqs []*CheckpointReq

	failFor map[int32]bool
}

func newTestMsgCB() *testMsgCB {
	return &testMsgCB{failFor: make(map[int32]bool)}
}

func (m *testMsgCB) SendCheckMsg(nodeID int32, ep Endpoint, msg *CheckMsg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkMsgs = append(m.checkMsgs, msg)
	if m.failFor[msg.DownstreamTaskID] {
		return errTestSendFailed
	}
	return nil
}

func (m *testMsgCB) SendDropTaskMsg(vgID, taskID int32, resetRelHalt bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropMsgs = append(m.dropMsgs, struct {
		VgID, TaskID int32
		ResetRelHalt bool
	}{vgID, taskID, resetRelHalt})
	return nil
}

func (m *testMsgCB) SendCheckpointReq(ep Endpoint, req *CheckpointReq) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpointReqs = append(m.checkpointReqs, req)
	return nil
}

func (m *testMsgCB) sentCheckMsgs() []*CheckMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CheckMsg, len(m.checkMsgs))
	copy(out, m.checkMsgs)
	return out
}

type testSendFailedError struct{}

func (testSendFailedError) Error() string { return "testMsgCB: send failed" }

var errTestSendFailed = testSendFailedError{}

// fakeTimerService never actually schedules anything; Start/Reset record
// each callback so a test can invoke monitorTick deterministically instead
// of waiting on wall-clock timers.
type fakeTimerService struct {
	mu  sync.Mutex
	fns []func()
}

func newFakeTimerService() *fakeTimerService {
	return &fakeTimerService{}
}

func (f *fakeTimerService) Start(interval time.Duration, fn func()) TimerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	return TimerHandle{}
}

func (f *fakeTimerService) Reset(h TimerHandle, interval time.Duration, fn func()) TimerHandle {
	return f.Start(interval, fn)
}

func (f *fakeTimerService) Stop(h TimerHandle) {}

// newTestTask builds and initializes a Task with in-package collaborator
// doubles, ready to drive through lifecycle/check-engine operations without
// a real clock or transport.
func newTestTask(level types.TaskLevel, output types.OutputKind, fillHistory bool, initialVer int64) (*Task, *testMeta, *testMsgCB) {
	meta := newTestMeta(1, 1)
	msgCB := newTestMsgCB()
	list := NewTaskList()

	mnode := EpSet{Eps: []Endpoint{{Fqdn: "mnode", Port: 6030}}, InUse: 0}
	task := NewTask(100, 1, level, output, 1, mnode, fillHistory, list)

	cfg := DefaultRuntimeConfig()
	cfg.CheckRspInterval = time.Millisecond
	cfg.CheckNotRspDuration = 10 * time.Millisecond

	var paused atomic.Int32
	_ = task.Init(meta, msgCB, newFakeTimerService(), cfg, &paused, initialVer)

	meta.register(task)
	return task, meta, msgCB
}
