package mock

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
	"time"

	"github.com/brunotm/streamtask"
)

// make sure we implement the collaborator interfaces the core consumes.
var _ streamtask.MetaCallbacks = (*MetaStore)(nil)
var _ streamtask.MsgCallback = (*MsgCallback)(nil)

// LaunchResult is one recorded call to AddTaskLaunchResult, kept for test
// assertions.
type LaunchResult struct {
	ID      streamtask.TaskID
	StartTS time.Time
	EndTS   time.Time
	Success bool
}

// MetaStore is an in-memory MetaCallbacks double for tests: tasks are
// registered with Register and looked up by GetTask, SaveTask just counts
// calls, and every AddTaskLaunchResult call is appended to Results.
type MetaStore struct {
	mu sync.Mutex

	vgID  int32
	stage int64

	tasks     map[streamtask.TaskID]*streamtask.Task
	saveCount int
	Results   []LaunchResult
}

// NewMetaStore creates an empty MetaStore reporting the given node identity.
func NewMetaStore(vgID int32, stage int64) *MetaStore {
	return &MetaStore{
		vgID:  vgID,
		stage: stage,
		tasks: make(map[streamtask.TaskID]*streamtask.Task),
	}
}

// Register makes t resolvable via GetTask.
func (m *MetaStore) Register(t *streamtask.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
}

// SaveTask records a durability request; it never fails.
func (m *MetaStore) SaveTask(task *streamtask.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCount++
	return nil
}

// SaveCount returns how many times SaveTask has been called.
func (m *MetaStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

// AddTaskLaunchResult appends the observed result to Results.
func (m *MetaStore) AddTaskLaunchResult(id streamtask.TaskID, startTS, endTS time.Time, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results = append(m.Results, LaunchResult{ID: id, StartTS: startTS, EndTS: endTS, Success: success})
}

// VgID returns the configured node id.
func (m *MetaStore) VgID() int32 { return m.vgID }

// Stage returns the configured node stage.
func (m *MetaStore) Stage() int64 { return m.stage }

// GetTask looks up a previously Register-ed task.
func (m *MetaStore) GetTask(id streamtask.TaskID) (*streamtask.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// SentCheckMsg is one recorded SendCheckMsg call.
type SentCheckMsg struct {
	NodeID int32
	Ep     streamtask.Endpoint
	Msg    *streamtask.CheckMsg
}

// SentDropMsg is one recorded SendDropTaskMsg call.
type SentDropMsg struct {
	VgID, TaskID int32
	ResetRelHalt bool
}

// SentCheckpointReq is one recorded SendCheckpointReq call.
type SentCheckpointReq struct {
	Ep  streamtask.Endpoint
	Req *streamtask.CheckpointReq
}

// MsgCallback is an in-memory MsgCallback double for tests. Every outbound
// call is recorded for assertions; FailCheckMsgFor lets a test force
// SendCheckMsg to fail for a specific downstream task id, to exercise
// retry/error paths without a real transport.
type MsgCallback struct {
	mu sync.Mutex

	CheckMsgs      []SentCheckMsg
	DropMsgs       []SentDropMsg
	CheckpointReqs []SentCheckpointReq

	FailCheckMsgFor map[int32]bool
}

// NewMsgCallback creates an empty MsgCallback double.
func NewMsgCallback() *MsgCallback {
	return &MsgCallback{FailCheckMsgFor: make(map[int32]bool)}
}

// SendCheckMsg records msg, failing if msg.DownstreamTaskID is marked in
// FailCheckMsgFor.
func (m *MsgCallback) SendCheckMsg(nodeID int32, ep streamtask.Endpoint, msg *streamtask.CheckMsg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckMsgs = append(m.CheckMsgs, SentCheckMsg{NodeID: nodeID, Ep: ep, Msg: msg})
	if m.FailCheckMsgFor[msg.DownstreamTaskID] {
		return errSendFailed
	}
	return nil
}

// SendDropTaskMsg records the drop request.
func (m *MsgCallback) SendDropTaskMsg(vgID, taskID int32, resetRelHalt bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DropMsgs = append(m.DropMsgs, SentDropMsg{VgID: vgID, TaskID: taskID, ResetRelHalt: resetRelHalt})
	return nil
}

// SendCheckpointReq records the checkpoint request.
func (m *MsgCallback) SendCheckpointReq(ep streamtask.Endpoint, req *streamtask.CheckpointReq) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckpointReqs = append(m.CheckpointReqs, SentCheckpointReq{Ep: ep, Req: req})
	return nil
}

type sendFailedError struct{}

func (sendFailedError) Error() string { return "mock: send failed" }

var errSendFailed = sendFailedError{}
