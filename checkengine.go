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
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brunotm/streamtask/types"
)

// CheckMsg is the downstream-readiness probe sent by send_check_msg
// (§4.5, "Sending a probe").
type CheckMsg struct {
	StreamID         int64
	UpstreamTaskID   int32
	UpstreamNodeID   int32
	ChildID          int32
	Stage            int64
	ReqID            string
	DownstreamNodeID int32
	DownstreamTaskID int32
}

// CheckRspMsg is the downstream's reply, delivered back into
// UpdateCheckInfo by the RPC handler.
type CheckRspMsg struct {
	TaskID int32
	ReqID  string
	Status types.DownstreamStatus
}

// downstreamEntry is one row of the check engine's per-downstream table
// (§4.5, "State of the engine").
type downstreamEntry struct {
	TaskID int32
	Status types.DownstreamStatus
	ReqID  string
	RspTS  int64 // unix millis; 0 means outstanding
}

// checkInfo is the downstream-readiness check engine's state for one task
// (§4.5). Every mutation holds mu except reads that explicitly tolerate
// raciness, per the spec's concurrency note.
type checkInfo struct {
	mu sync.Mutex

	list             []downstreamEntry
	notReadyTasks    int32
	startTS          int64
	inCheckProcess   bool
	stopCheckProcess bool
	monitorTimer     TimerHandle
}

func newCheckInfo() *checkInfo {
	return &checkInfo{}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// dispatchTarget is the node/epset a downstream task id currently resolves
// to, snapshotted from the dispatcher outside the check-info lock so the
// monitor never needs to acquire task.lock while holding checkInfo.mu.
type dispatchTarget struct {
	NodeID int32
	Epset  EpSet
}

func dispatchTargets(d Dispatcher) map[int32]dispatchTarget {
	m := make(map[int32]dispatchTarget)
	switch disp := d.(type) {
	case *FixedDispatcher:
		m[disp.TaskID] = dispatchTarget{NodeID: disp.NodeID, Epset: disp.Epset}
	case *ShuffleDispatcher:
		for _, vg := range disp.Vgroups {
			m[vg.TaskID] = dispatchTarget{NodeID: vg.NodeID, Epset: vg.Epset}
		}
	}
	return m
}

// StartMonitorCheckRsp begins a downstream-readiness check cycle (§4.5,
// "Start"). It fails with ErrAlreadyInCheckProcess if a cycle is already
// running. On success it arms the monitor timer and fans the initial
// probes out to every downstream target.
func (t *Task) StartMonitorCheckRsp() error {
	dispatcher := t.GetDispatcher()
	targets := dispatchTargets(dispatcher)

	ci := t.checkInfo
	ci.mu.Lock()
	if ci.inCheckProcess {
		ci.mu.Unlock()
		return ErrAlreadyInCheckProcess
	}
	ci.inCheckProcess = true
	ci.stopCheckProcess = false
	ci.list = ci.list[:0]
	ci.notReadyTasks = int32(dispatcher.NumOfDownstream())
	ci.startTS = nowMillis()
	ci.mu.Unlock()

	t.timerActive.inc()
	if t.metrics != nil {
		t.metrics.TimerActive.Inc()
	}
	ci.mu.Lock()
	ci.monitorTimer = t.timers.Start(t.cfg.CheckRspInterval, t.monitorTick)
	ci.mu.Unlock()

	return t.sendCheckMsg(targets, allDownstreamIDs(targets))
}

// decTimerActive releases one timerActive reference and, if metrics are
// attached, decrements the shared timer_active gauge.
func (t *Task) decTimerActive() {
	t.timerActive.dec()
	if t.metrics != nil {
		t.metrics.TimerActive.Dec()
	}
}

func allDownstreamIDs(targets map[int32]dispatchTarget) []int32 {
	ids := make([]int32, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	return ids
}

// sendCheckMsg fans a probe out to each of the given downstream task ids in
// parallel (§4.5, "Sending a probe"), registering each as outstanding via
// addReqInfo before dispatch so a fast reply is never rejected as unknown.
func (t *Task) sendCheckMsg(targets map[int32]dispatchTarget, ids []int32) error {
	g, _ := errgroup.WithContext(context.Background())
	for _, id := range ids {
		id := id
		target, ok := targets[id]
		if !ok {
			continue
		}
		g.Go(func() error {
			return t.probeOne(id, target)
		})
	}
	return g.Wait()
}

func (t *Task) probeOne(downstreamTaskID int32, target dispatchTarget) error {
	reqID := uuid.NewString()
	t.checkInfo.addReqInfo(downstreamTaskID, reqID)

	msg := &CheckMsg{
		StreamID:         t.ID.StreamID,
		UpstreamTaskID:   t.ID.TaskID,
		UpstreamNodeID:   t.NodeID,
		ChildID:          t.SelfChildID,
		Stage:            t.meta.Stage(),
		ReqID:            reqID,
		DownstreamNodeID: target.NodeID,
		DownstreamTaskID: downstreamTaskID,
	}
	return t.msgCB.SendCheckMsg(target.NodeID, target.Epset.Preferred(), msg)
}

// addReqInfo registers an outstanding probe. Idempotent: an existing entry
// for taskID is left unchanged (§4.5, "Registering an outstanding probe").
func (ci *checkInfo) addReqInfo(taskID int32, reqID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	for i := range ci.list {
		if ci.list[i].TaskID == taskID {
			return
		}
	}
	ci.list = append(ci.list, downstreamEntry{
		TaskID: taskID,
		Status: types.DownstreamOutstanding,
		ReqID:  reqID,
	})
}

// UpdateCheckInfo applies a downstream's response (§4.5, "Handling a
// response"). A READY transition atomically decrements not_ready_tasks;
// any other status just updates the entry. A response with no matching
// entry, or a mismatched req_id, is rejected.
func (t *Task) UpdateCheckInfo(rsp CheckRspMsg) (int32, error) {
	ci := t.checkInfo
	ci.mu.Lock()
	defer ci.mu.Unlock()

	for i := range ci.list {
		if ci.list[i].TaskID != rsp.TaskID {
			continue
		}
		if ci.list[i].ReqID != rsp.ReqID {
			return ci.notReadyTasks, &UnknownTaskResponseError{TaskID: rsp.TaskID, ReqID: rsp.ReqID}
		}
		wasReady := ci.list[i].Status == types.DownstreamReady
		ci.list[i].Status = rsp.Status
		ci.list[i].RspTS = nowMillis()
		if rsp.Status == types.DownstreamReady && !wasReady {
			ci.notReadyTasks--
		}
		return ci.notReadyTasks, nil
	}
	return ci.notReadyTasks, &UnknownTaskResponseError{TaskID: rsp.TaskID, ReqID: rsp.ReqID}
}

// stopMonitorCheckRsp requests the running cycle to stop (§4.5, "Stop").
// The next monitor tick observes stopCheckProcess and exits.
func (ci *checkInfo) stopMonitorCheckRsp() {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.stopCheckProcess = true
}

// StopMonitorCheckRsp is the exported form, used by callers outside the
// owning task (e.g. an external supervisor reacting to a topology change).
func (t *Task) StopMonitorCheckRsp() {
	t.checkInfo.stopMonitorCheckRsp()
}

// completeCheckRsp clears the check engine back to idle (§4.5, "Complete").
// Re-completing an already-complete cycle is tolerated: it warns rather
// than fails (§9, open question).
func (t *Task) completeCheckRsp() {
	ci := t.checkInfo
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if !ci.inCheckProcess {
		if t.log != nil {
			t.log.Warnw("complete_check_rsp: already complete", "task_id", t.ID.String())
		}
		if t.metrics != nil {
			t.metrics.CheckNoopDone.Inc()
		}
	}
	ci.inCheckProcess = false
	ci.stopCheckProcess = false
	ci.startTS = 0
	ci.notReadyTasks = 0
	ci.list = ci.list[:0]
}

// monitorTick is the check engine's timer callback (§4.5, "Monitor tick"),
// armed every CheckRspInterval while a cycle is in progress. It is the
// single most behaviorally dense function in the core: it decides,
// without ever blocking on the network, whether to converge, retry,
// time out individual downstreams, or abort on fault.
func (t *Task) monitorTick() {
	state := t.Status()

	if state == types.Stop {
		startTS := t.checkInfo.snapshotStartTS()
		t.decTimerActive()
		t.completeCheckRsp()
		t.meta.AddTaskLaunchResult(t.ID, time.UnixMilli(startTS), time.Now(), false)
		return
	}
	if state == types.Dropping || state == types.Ready {
		t.decTimerActive()
		t.completeCheckRsp()
		return
	}

	dispatcher := t.GetDispatcher()
	targets := dispatchTargets(dispatcher)

	ci := t.checkInfo
	ci.mu.Lock()

	if ci.notReadyTasks == 0 {
		ci.mu.Unlock()
		t.decTimerActive()
		t.completeCheckRsp()
		return
	}

	now := nowMillis()
	timeoutMs := t.cfg.CheckNotRspDuration.Milliseconds()

	var numReady, numFault, numTimeout, numNotReady int
	for _, e := range ci.list {
		switch {
		case e.Status == types.DownstreamReady:
			numReady++
		case e.Status == types.DownstreamNewStage || e.Status == types.DownstreamNotLeader:
			numFault++
		case e.Status == types.DownstreamOutstanding && e.RspTS == 0 && now-ci.startTS >= timeoutMs:
			numTimeout++
		case e.RspTS != 0 && e.Status != types.DownstreamReady:
			numNotReady++
		}
	}

	if t.metrics != nil && numTimeout > 0 {
		t.metrics.CheckTimeouts.Add(float64(numTimeout))
	}

	total := len(ci.list)
	if numReady+numFault+numNotReady+numTimeout == total && numFault > 0 {
		// Every downstream has been classified and at least one faulted:
		// abort without retrying (§4.5, "Fault abort").
		if t.metrics != nil {
			t.metrics.CheckFaults.Inc()
		}
		ci.mu.Unlock()
		t.decTimerActive()
		t.completeCheckRsp()
		return
	}

	if ci.stopCheckProcess {
		ci.mu.Unlock()
		t.decTimerActive()
		startTS := ci.snapshotStartTS()
		t.completeCheckRsp()
		endTS := time.Now()
		t.meta.AddTaskLaunchResult(t.ID, time.UnixMilli(startTS), endTS, false)
		if !t.HTask.IsZero() {
			t.meta.AddTaskLaunchResult(t.HTask, time.UnixMilli(startTS), endTS, false)
		}
		return
	}

	var reprobe []int32
	for i := range ci.list {
		e := &ci.list[i]
		switch {
		case e.RspTS != 0 && e.Status != types.DownstreamReady:
			e.RspTS = 0
			e.Status = types.DownstreamOutstanding
			e.ReqID = uuid.NewString()
			reprobe = append(reprobe, e.TaskID)
		case e.Status == types.DownstreamOutstanding && e.RspTS == 0 && now-ci.startTS >= timeoutMs:
			e.ReqID = uuid.NewString()
			reprobe = append(reprobe, e.TaskID)
		}
	}
	if len(reprobe) > 0 {
		ci.startTS = now
	}
	ci.monitorTimer = t.timers.Reset(ci.monitorTimer, t.cfg.CheckRspInterval, t.monitorTick)

	// Snapshot req_ids for the reprobe set before releasing the lock, since
	// sending is a network side effect that must not run while holding it.
	reqByID := make(map[int32]string, len(reprobe))
	for _, id := range reprobe {
		for _, e := range ci.list {
			if e.TaskID == id {
				reqByID[id] = e.ReqID
				break
			}
		}
	}
	ci.mu.Unlock()

	for _, id := range reprobe {
		target, ok := targets[id]
		if !ok {
			continue
		}
		msg := &CheckMsg{
			StreamID:         t.ID.StreamID,
			UpstreamTaskID:   t.ID.TaskID,
			UpstreamNodeID:   t.NodeID,
			ChildID:          t.SelfChildID,
			Stage:            t.meta.Stage(),
			ReqID:            reqByID[id],
			DownstreamNodeID: target.NodeID,
			DownstreamTaskID: id,
		}
		if err := t.msgCB.SendCheckMsg(target.NodeID, target.Epset.Preferred(), msg); err != nil && t.log != nil {
			t.log.Warnw("monitor tick: re-probe failed", "downstream_task_id", id, "error", err)
		}
	}
}

func (ci *checkInfo) snapshotStartTS() int64 {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.startTS
}

// InCheckProcess reports whether a check cycle is currently running.
func (t *Task) InCheckProcess() bool {
	ci := t.checkInfo
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.inCheckProcess
}

// NotReadyTasks returns the current outstanding-downstream count.
func (t *Task) NotReadyTasks() int32 {
	ci := t.checkInfo
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.notReadyTasks
}
