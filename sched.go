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

// SetSchedWait attempts the INACTIVE -> WAITING transition, the
// scheduler's bid to claim this task. Returns true exactly once per
// INACTIVE period; concurrent callers never both win (§4.7, §8
// "Scheduling interlock").
func (t *Task) SetSchedWait() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.schedStatus != types.Inactive {
		return false
	}
	t.schedStatus = types.Waiting
	return true
}

// SetSchedActive moves WAITING -> ACTIVE just before the scheduler invokes
// work on the task, and returns the status observed prior to the call. Any
// other prior state is left unchanged.
func (t *Task) SetSchedActive() types.SchedStatus {
	t.lock.Lock()
	defer t.lock.Unlock()
	prior := t.schedStatus
	if prior == types.Waiting {
		t.schedStatus = types.Active
	}
	return prior
}

// SetSchedInactive releases the interlock unconditionally and returns the
// status observed prior to the call. The caller is expected to only call
// this from WAITING or ACTIVE, per the handshake contract, but INACTIVE is
// tolerated as a harmless double-release.
func (t *Task) SetSchedInactive() types.SchedStatus {
	t.lock.Lock()
	defer t.lock.Unlock()
	prior := t.schedStatus
	t.schedStatus = types.Inactive
	return prior
}
