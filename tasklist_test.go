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

func TestTaskListAddAssignsSequentialChildIDs(t *testing.T) {
	list := NewTaskList()
	t1 := NewTask(1, 1, types.Source, types.Table, 1, EpSet{}, false, list)
	t2 := NewTask(1, 2, types.Source, types.Table, 1, EpSet{}, false, list)

	assert.Equal(t, int32(0), t1.SelfChildID)
	assert.Equal(t, int32(1), t2.SelfChildID)
	assert.Equal(t, 2, list.Len())
}

func TestTaskListGetFindsByIdentityNotObjectEquality(t *testing.T) {
	list := NewTaskList()
	task := NewTask(7, 3, types.Agg, types.Table, 1, EpSet{}, false, list)

	got, ok := list.Get(TaskID{StreamID: 7, TaskID: 3})
	require.True(t, ok)
	assert.Same(t, task, got)

	_, ok = list.Get(TaskID{StreamID: 7, TaskID: 4})
	assert.False(t, ok)
}

func TestTaskListRemoveDropsFromIndexAndSlice(t *testing.T) {
	list := NewTaskList()
	task := NewTask(1, 1, types.Source, types.Table, 1, EpSet{}, false, list)

	assert.True(t, list.Remove(task.ID))
	assert.Equal(t, 0, list.Len())
	_, ok := list.Get(task.ID)
	assert.False(t, ok)

	assert.False(t, list.Remove(task.ID), "removing twice must report no-op")
}

func TestTaskListIndexSurvivesRemovalOfAnotherTask(t *testing.T) {
	list := NewTaskList()
	a := NewTask(1, 1, types.Source, types.Table, 1, EpSet{}, false, list)
	b := NewTask(2, 2, types.Source, types.Table, 1, EpSet{}, false, list)

	gotA, ok := list.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, gotA)

	gotB, ok := list.Get(b.ID)
	require.True(t, ok)
	assert.Same(t, b, gotB)

	require.True(t, list.Remove(a.ID))
	gotB2, ok := list.Get(b.ID)
	require.True(t, ok, "removing one task must not disturb another task in the index")
	assert.Same(t, b, gotB2)
}

func TestTaskListRangeStopsEarly(t *testing.T) {
	list := NewTaskList()
	NewTask(1, 1, types.Source, types.Table, 1, EpSet{}, false, list)
	NewTask(1, 2, types.Source, types.Table, 1, EpSet{}, false, list)
	NewTask(1, 3, types.Source, types.Table, 1, EpSet{}, false, list)

	var seen int
	list.Range(func(t *Task) bool {
		seen++
		return seen < 2
	})
	assert.Equal(t, 2, seen)
}
