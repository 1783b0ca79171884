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
	"github.com/dgryski/go-jump"

	"github.com/brunotm/streamtask/types"
)

// ChildEndpointInfo is one entry of a task's upstream list: the address and
// gating state of a single parent task (§3, "Child endpoint info").
type ChildEndpointInfo struct {
	ChildID     int32
	TaskID      int32
	NodeID      int32
	Epset       EpSet
	Stage       int64
	DataAllowed bool
}

// unknownStage is the sentinel recorded for a freshly appended upstream
// entry, before its owner has ever reported a stage (§4.4, "stage = -1").
const unknownStage = -1

// UpstreamInfo is the ordered, append-only list of a task's upstream
// child-endpoints (§4.4, "Upstream list"). AGG and SINK tasks populate it;
// SOURCE tasks never do.
type UpstreamInfo struct {
	list        []ChildEndpointInfo
	numOfClosed int
}

// setUpstreamInfoLocked appends a child-endpoint record built from the
// given upstream task identity (§4.4, "set_upstream_info"). Caller holds
// the owning task's lock.
func (u *UpstreamInfo) setUpstreamInfoLocked(childID, upstreamTaskID, upstreamNodeID int32, epset EpSet) {
	u.list = append(u.list, ChildEndpointInfo{
		ChildID:     childID,
		TaskID:      upstreamTaskID,
		NodeID:      upstreamNodeID,
		Epset:       epset,
		Stage:       unknownStage,
		DataAllowed: true,
	})
}

// updateUpstreamInfoLocked replaces the epset of the first entry matching
// nodeID (§4.4, "update_upstream_info"). Per the data-model invariant that
// (node_id, task_id) pairs are distinct, a second match is reported as
// ErrDuplicateUpstreamNode rather than silently ignored (§9, open question).
func (u *UpstreamInfo) updateUpstreamInfoLocked(nodeID int32, newEpset EpSet) error {
	found := false
	for i := range u.list {
		if u.list[i].NodeID != nodeID {
			continue
		}
		if found {
			return ErrDuplicateUpstreamNode
		}
		u.list[i].Epset.Assign(newEpset)
		found = true
	}
	return nil
}

// openAllLocked sets every entry's data_allowed and resets the closed
// counter (§4.4, "open_all_upstream_inputs").
func (u *UpstreamInfo) openAllLocked() {
	for i := range u.list {
		u.list[i].DataAllowed = true
	}
	u.numOfClosed = 0
}

// closeInputLocked marks the entry for upstreamTaskID as not allowed to
// send data. The caller is responsible for incrementing numOfClosed once
// the close is known to be final (§4.4, "close_upstream_input").
func (u *UpstreamInfo) closeInputLocked(upstreamTaskID int32) {
	for i := range u.list {
		if u.list[i].TaskID == upstreamTaskID {
			u.list[i].DataAllowed = false
			return
		}
	}
}

// markClosedLocked increments the closed counter; called by the caller of
// closeInputLocked once it determines the close is final.
func (u *UpstreamInfo) markClosedLocked() {
	u.numOfClosed++
}

// allClosedLocked reports whether every upstream has closed its input gate
// (§4.4, "all_upstream_closed").
func (u *UpstreamInfo) allClosedLocked() bool {
	return u.numOfClosed == len(u.list)
}

// resetStageLocked clears every entry's stage back to unknownStage.
func (u *UpstreamInfo) resetStageLocked() {
	for i := range u.list {
		u.list[i].Stage = unknownStage
	}
}

// Len returns the number of upstream entries.
func (u *UpstreamInfo) Len() int {
	return len(u.list)
}

// Entries returns a copy of the upstream list, safe for the caller to
// range over without holding the task lock.
func (u *UpstreamInfo) Entries() []ChildEndpointInfo {
	out := make([]ChildEndpointInfo, len(u.list))
	copy(out, u.list)
	return out
}

// SetUpstreamInfo appends a new upstream child-endpoint to t (§4.4,
// "set_upstream_info"). childID is the caller-assigned ordinal of this
// entry among the task's upstreams.
func (t *Task) SetUpstreamInfo(childID, upstreamTaskID, upstreamNodeID int32, epset EpSet) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.upstream.setUpstreamInfoLocked(childID, upstreamTaskID, upstreamNodeID, epset)
}

// UpdateUpstreamInfo replaces the epset of the upstream entry owned by
// nodeID.
func (t *Task) UpdateUpstreamInfo(nodeID int32, newEpset EpSet) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.upstream.updateUpstreamInfoLocked(nodeID, newEpset)
}

// OpenAllUpstreamInputs re-opens every upstream input gate.
func (t *Task) OpenAllUpstreamInputs() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.upstream.openAllLocked()
}

// CloseUpstreamInput closes the input gate for one upstream task.
func (t *Task) CloseUpstreamInput(upstreamTaskID int32) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.upstream.closeInputLocked(upstreamTaskID)
}

// MarkUpstreamClosed records that the close for upstreamTaskID is final.
func (t *Task) MarkUpstreamClosed() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.upstream.markClosedLocked()
}

// AllUpstreamClosed reports whether every upstream has closed.
func (t *Task) AllUpstreamClosed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.upstream.allClosedLocked()
}

// UpstreamEntries returns a snapshot of the upstream list.
func (t *Task) UpstreamEntries() []ChildEndpointInfo {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.upstream.Entries()
}

// resetUpstreamStageLocked clears every upstream entry's stage back to
// unknownStage. Caller holds t.lock.
func (t *Task) resetUpstreamStageLocked() {
	t.upstream.resetStageLocked()
}

// ResetUpstreamStage clears every upstream entry's stage back to unknown,
// used after a task is relaunched so a stale stage recorded by the
// previous incarnation cannot fast-fail a check cycle (§4.4,
// "reset_upstream_stage_info").
func (t *Task) ResetUpstreamStage() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.resetUpstreamStageLocked()
}

// VgroupInfo is one shard target of a shuffle dispatcher: the vgroup id,
// the downstream task and node currently hosting it, and its epset.
type VgroupInfo struct {
	VgID   int32
	TaskID int32
	NodeID int32
	Epset  EpSet
}

// Dispatcher is the downstream routing strategy of a non-SINK task (§4.4,
// "Downstream dispatcher").
type Dispatcher interface {
	// NumOfDownstream is the number of distinct downstream targets.
	NumOfDownstream() int
	// updateLocked applies an epset change to the matching target(s).
	// Caller holds the owning task's lock.
	updateLocked(nodeID int32, newEpset EpSet)
}

// FixedDispatcher forwards every output batch to a single downstream task
// (§3, OutputKind.FixedDispatch).
type FixedDispatcher struct {
	TaskID int32
	NodeID int32
	Epset  EpSet
}

// NumOfDownstream always returns 1 for a fixed dispatcher.
func (d *FixedDispatcher) NumOfDownstream() int { return 1 }

func (d *FixedDispatcher) updateLocked(nodeID int32, newEpset EpSet) {
	if d.NodeID == nodeID {
		d.Epset.Assign(newEpset)
	}
}

// ShuffleDispatcher shards output across a vgroup list, hashed by
// dgryski/go-jump consistent hashing (§3, OutputKind.ShuffleDispatch).
type ShuffleDispatcher struct {
	StbFullName string
	Vgroups     []VgroupInfo
}

// NumOfDownstream is the number of configured vgroups.
func (d *ShuffleDispatcher) NumOfDownstream() int { return len(d.Vgroups) }

// updateLocked applies a node-keyed epset push (§4.4, "update_epset_info")
// to every vgroup currently hosted on that node.
func (d *ShuffleDispatcher) updateLocked(nodeID int32, newEpset EpSet) {
	for i := range d.Vgroups {
		if d.Vgroups[i].NodeID == nodeID {
			d.Vgroups[i].Epset.Assign(newEpset)
		}
	}
}

// updateVgroupLocked replaces the epset of the vgroup with the given
// vgID — the shuffle-dispatch analogue of update_downstream_info, keyed by
// vg_id rather than node_id per §4.4 ("for shuffle, replace the first
// vgroup entry with matching vg_id").
func (d *ShuffleDispatcher) updateVgroupLocked(vgID int32, newEpset EpSet) {
	for i := range d.Vgroups {
		if d.Vgroups[i].VgID == vgID {
			d.Vgroups[i].Epset.Assign(newEpset)
			return
		}
	}
}

// Resolve picks the vgroup index a record with the given hash key routes
// to, using jump consistent hashing so that adding vgroups reshuffles the
// minimum possible number of keys.
func (d *ShuffleDispatcher) Resolve(key uint64) int {
	n := len(d.Vgroups)
	if n == 0 {
		return -1
	}
	return int(jump.Hash(key, n))
}

// SetDispatcher installs the downstream dispatcher for a non-SINK task.
func (t *Task) SetDispatcher(d Dispatcher) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.dispatcher = d
}

// GetDispatcher returns the task's downstream dispatcher, or nil for a SINK
// task.
func (t *Task) GetDispatcher() Dispatcher {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.dispatcher
}

// UpdateDownstreamInfo applies a single node's new epset to the
// dispatcher, fixed or shuffle alike (§4.4, "update_downstream_info").
// A SINK task, which by design never has a dispatcher, reports
// ErrSinkHasNoDownstream rather than the generic ErrInvalidDispatcher.
func (t *Task) UpdateDownstreamInfo(nodeID int32, newEpset EpSet) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.Level == types.Sink {
		return ErrSinkHasNoDownstream
	}
	if t.dispatcher == nil {
		return ErrInvalidDispatcher
	}
	t.dispatcher.updateLocked(nodeID, newEpset)
	return nil
}

// UpdateShuffleVgroup replaces one vgroup's epset by vg_id. Returns
// ErrInvalidDispatcher if the task is not shuffle-dispatched.
func (t *Task) UpdateShuffleVgroup(vgID int32, newEpset EpSet) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	sd, ok := t.dispatcher.(*ShuffleDispatcher)
	if !ok {
		return ErrInvalidDispatcher
	}
	sd.updateVgroupLocked(vgID, newEpset)
	return nil
}

// NumOfDownstream returns how many downstream targets this task has: 1 for
// fixed dispatch, |vgroups| for shuffle dispatch. A SINK task reports
// ErrSinkHasNoDownstream rather than a bare zero.
func (t *Task) NumOfDownstream() (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.Level == types.Sink {
		return 0, ErrSinkHasNoDownstream
	}
	if t.dispatcher == nil {
		return 0, ErrInvalidDispatcher
	}
	return t.dispatcher.NumOfDownstream(), nil
}

// NodeEpsetUpdate is one entry of a batch epset push from the meta-store
// (§4.4, "Combined epset update").
type NodeEpsetUpdate struct {
	NodeID int32
	Epset  EpSet
}

// UpdateEpsetInfo applies a batch of node epset changes, dispatching each
// to the task's own epset, its upstream list, or its downstream
// dispatcher depending on which of those the node id matches. This is
// O(k·m) with no deduplication, matching §4.4's normative complexity note.
func (t *Task) UpdateEpsetInfo(updates []NodeEpsetUpdate) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, u := range updates {
		if u.NodeID == t.NodeID {
			t.Epset.Assign(u.Epset)
		}

		if t.Level != types.Source {
			t.upstream.updateUpstreamInfoLocked(u.NodeID, u.Epset) //nolint:errcheck
		}
		if t.Level != types.Sink && t.dispatcher != nil {
			t.dispatcher.updateLocked(u.NodeID, u.Epset)
		}
	}
}
