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

func TestSetAndUpdateUpstreamInfo(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.Table, false, 1)

	ep := EpSet{Eps: []Endpoint{{Fqdn: "a", Port: 1}}}
	task.SetUpstreamInfo(0, 10, 20, ep)
	require.Len(t, task.UpstreamEntries(), 1)
	assert.Equal(t, int32(20), task.UpstreamEntries()[0].NodeID)

	newEp := EpSet{Eps: []Endpoint{{Fqdn: "b", Port: 2}}}
	require.NoError(t, task.UpdateUpstreamInfo(20, newEp))
	assert.Equal(t, "b", task.UpstreamEntries()[0].Epset.Eps[0].Fqdn)
}

func TestUpdateUpstreamInfoRejectsDuplicateNodeID(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.Table, false, 1)

	ep := EpSet{Eps: []Endpoint{{Fqdn: "a", Port: 1}}}
	task.SetUpstreamInfo(0, 10, 20, ep)
	task.SetUpstreamInfo(1, 11, 20, ep)

	err := task.UpdateUpstreamInfo(20, ep)
	assert.ErrorIs(t, err, ErrDuplicateUpstreamNode)
}

func TestResetUpstreamStageClearsEveryEntry(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.Table, false, 1)
	task.SetUpstreamInfo(0, 10, 20, EpSet{})
	task.SetUpstreamInfo(1, 11, 21, EpSet{})

	task.lock.Lock()
	task.upstream.list[0].Stage = 3
	task.upstream.list[1].Stage = 4
	task.lock.Unlock()

	task.ResetUpstreamStage()

	for _, e := range task.UpstreamEntries() {
		assert.Equal(t, int64(unknownStage), e.Stage)
	}
}

func TestUpstreamCloseAndAllClosed(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.Table, false, 1)
	ep := EpSet{}
	task.SetUpstreamInfo(0, 10, 20, ep)
	task.SetUpstreamInfo(1, 11, 21, ep)

	assert.False(t, task.AllUpstreamClosed())

	task.CloseUpstreamInput(10)
	task.MarkUpstreamClosed()
	assert.False(t, task.AllUpstreamClosed())

	task.CloseUpstreamInput(11)
	task.MarkUpstreamClosed()
	assert.True(t, task.AllUpstreamClosed())

	task.OpenAllUpstreamInputs()
	assert.True(t, task.UpstreamEntries()[0].DataAllowed)
}

func TestFixedDispatcherUpdateAndNumOfDownstream(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.FixedDispatch, false, 1)
	d := &FixedDispatcher{TaskID: 5, NodeID: 9, Epset: EpSet{Eps: []Endpoint{{Fqdn: "x", Port: 1}}}}
	task.SetDispatcher(d)

	n, err := task.NumOfDownstream()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	newEp := EpSet{Eps: []Endpoint{{Fqdn: "y", Port: 2}}}
	require.NoError(t, task.UpdateDownstreamInfo(9, newEp))
	assert.Equal(t, "y", d.Epset.Eps[0].Fqdn)
}

func TestShuffleDispatcherResolveAndUpdateVgroup(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.ShuffleDispatch, false, 1)
	d := &ShuffleDispatcher{StbFullName: "t"}
	for i := int32(0); i < 4; i++ {
		d.Vgroups = append(d.Vgroups, VgroupInfo{VgID: i, TaskID: i, NodeID: i})
	}
	task.SetDispatcher(d)

	n, err := task.NumOfDownstream()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	idx := d.Resolve(12345)
	assert.GreaterOrEqual(t, idx, 0)
	assert.Less(t, idx, 4)

	newEp := EpSet{Eps: []Endpoint{{Fqdn: "z", Port: 3}}}
	require.NoError(t, task.UpdateShuffleVgroup(2, newEp))
	assert.Equal(t, "z", d.Vgroups[2].Epset.Eps[0].Fqdn)
}

func TestShuffleDispatcherResolveEmpty(t *testing.T) {
	d := &ShuffleDispatcher{}
	assert.Equal(t, -1, d.Resolve(1))
}

func TestUpdateShuffleVgroupRejectsWrongDispatcherKind(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.FixedDispatch, false, 1)
	task.SetDispatcher(&FixedDispatcher{})

	err := task.UpdateShuffleVgroup(1, EpSet{})
	assert.ErrorIs(t, err, ErrInvalidDispatcher)
}

func TestUpdateDownstreamInfoOnSinkReturnsSinkHasNoDownstream(t *testing.T) {
	task, _, _ := newTestTask(types.Sink, types.Table, false, 1)
	err := task.UpdateDownstreamInfo(1, EpSet{})
	assert.ErrorIs(t, err, ErrSinkHasNoDownstream)

	_, err = task.NumOfDownstream()
	assert.ErrorIs(t, err, ErrSinkHasNoDownstream)
}

func TestUpdateDownstreamInfoRequiresDispatcher(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.FixedDispatch, false, 1)
	err := task.UpdateDownstreamInfo(1, EpSet{})
	assert.ErrorIs(t, err, ErrInvalidDispatcher)

	_, err = task.NumOfDownstream()
	assert.ErrorIs(t, err, ErrInvalidDispatcher)
}

func TestUpdateEpsetInfoAppliesToOwnEpsetUpstreamAndDispatcher(t *testing.T) {
	task, _, _ := newTestTask(types.Agg, types.FixedDispatch, false, 1)
	task.SetUpstreamInfo(0, 10, 5, EpSet{})
	d := &FixedDispatcher{TaskID: 99, NodeID: 7}
	task.SetDispatcher(d)

	updates := []NodeEpsetUpdate{
		{NodeID: task.NodeID, Epset: EpSet{Eps: []Endpoint{{Fqdn: "self", Port: 1}}}},
		{NodeID: 5, Epset: EpSet{Eps: []Endpoint{{Fqdn: "up", Port: 2}}}},
		{NodeID: 7, Epset: EpSet{Eps: []Endpoint{{Fqdn: "down", Port: 3}}}},
	}
	task.UpdateEpsetInfo(updates)

	assert.Equal(t, "self", task.Epset.Eps[0].Fqdn)
	assert.Equal(t, "up", task.UpstreamEntries()[0].Epset.Eps[0].Fqdn)
	assert.Equal(t, "down", d.Epset.Eps[0].Fqdn)
}
