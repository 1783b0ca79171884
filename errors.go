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
	"errors"
	"fmt"
)

// §7 error taxonomy. The core never unwinds the process; allocation and
// encode errors are returned to the caller, check-engine faults terminate
// the probe cycle without touching task status.
var (
	ErrAlreadyInCheckProcess = errors.New("start_monitor_check_rsp: already in check process")
	ErrStateMachineReject    = errors.New("event not legal in current state")
	ErrTaskNotFound          = errors.New("task not found")
	ErrDuplicateUpstreamNode = errors.New("duplicate upstream node_id in upstream list")
	ErrInvalidDispatcher     = errors.New("output kind has no dispatcher configured")
	ErrSinkHasNoDownstream   = errors.New("sink tasks have no downstream")
	ErrNotFillHistoryTask    = errors.New("clear_h_task_attr called on a non fill-history task")
)

// UnknownTaskResponseError is returned by UpdateCheckInfo when a response
// arrives for a task_id that was never registered via addReqInfo, or whose
// req_id does not match the registered one.
type UnknownTaskResponseError struct {
	TaskID int32
	ReqID  string
}

func (e *UnknownTaskResponseError) Error() string {
	return fmt.Sprintf("unexpected check response from task:0x%x, req_id:%s", e.TaskID, e.ReqID)
}
