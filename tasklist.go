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

	"github.com/cespare/xxhash"
)

// TaskList is the caller-supplied registry new_task appends into, assigning
// each task a sequential self_child_id (§4.2). One TaskList exists per node.
// Lookups go through an xxhash-keyed index (mirroring the teacher's use of
// xxhash to key Record.ID) rather than a linear scan of tasks.
type TaskList struct {
	mu    sync.Mutex
	tasks []*Task
	index map[uint64][]*Task
}

// NewTaskList returns an empty task list.
func NewTaskList() *TaskList {
	return &TaskList{index: make(map[uint64][]*Task)}
}

// add appends t and returns the child id assigned to it.
func (l *TaskList) add(t *Task) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := int32(len(l.tasks))
	l.tasks = append(l.tasks, t)
	l.index[t.IDHash()] = append(l.index[t.IDHash()], t)
	return id
}

// Get returns the task with the given identity, if present.
func (l *TaskList) Get(id TaskID) (*Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.index[xxhash.Sum64String(id.String())] {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Remove drops a task from the list. It does not free the task; callers
// must have already driven it through free_task.
func (l *TaskList) Remove(id TaskID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash := xxhash.Sum64String(id.String())
	bucket := l.index[hash]
	for i, t := range bucket {
		if t.ID == id {
			l.index[hash] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}

	for i, t := range l.tasks {
		if t.ID == id {
			l.tasks = append(l.tasks[:i], l.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of tasks currently registered.
func (l *TaskList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Range calls fn for every task in the list, stopping early if fn returns
// false. Iteration order matches insertion order.
func (l *TaskList) Range(fn func(t *Task) bool) {
	l.mu.Lock()
	tasks := make([]*Task, len(l.tasks))
	copy(tasks, l.tasks)
	l.mu.Unlock()

	for _, t := range tasks {
		if !fn(t) {
			return
		}
	}
}
