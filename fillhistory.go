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

import "github.com/brunotm/streamtask/types"

// ClearHTaskAttr clears the normal stream task's HTask link to t once t,
// its fill-history companion, has finished its backfill (§4.6). t must be
// the fill-history task itself; called on a normal task it changes nothing
// and returns ErrNotFillHistoryTask. A task with no companion configured is a no-op; one
// configured but absent from the registry is ErrTaskNotFound. When
// resetRelHalt is set, the associated stream task's persisted status is
// forced back to READY, matching the original's handling of a task being
// dropped out from under a HALT-ed relation.
func (t *Task) ClearHTaskAttr(resetRelHalt bool) error {
	if !t.FillHistory {
		return ErrNotFillHistoryTask
	}
	if t.StreamTask.IsZero() {
		return nil
	}

	streamTask, ok := t.meta.GetTask(t.StreamTask)
	if !ok {
		return ErrTaskNotFound
	}

	streamTask.lock.Lock()
	streamTask.HTask = TaskID{}
	if resetRelHalt {
		streamTask.status = types.Ready
	}
	streamTask.lock.Unlock()

	return t.meta.SaveTask(streamTask)
}
