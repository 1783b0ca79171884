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

import "time"

// MetaCallbacks is the narrow slice of the node-local meta-store that the
// core consumes (§6, "Meta-store callbacks consumed"). The meta-store
// itself — persistence, task catalogue, leader tracking — is an external
// collaborator and out of scope for this package.
type MetaCallbacks interface {
	// SaveTask persists task state after a mutation the caller considers
	// durable (status change, topology update).
	SaveTask(task *Task) error

	// AddTaskLaunchResult records whether a task reached READY during a
	// launch attempt, for observability and retry bookkeeping.
	AddTaskLaunchResult(id TaskID, startTS, endTS time.Time, success bool)

	// VgID is the local node identifier.
	VgID() int32

	// Stage is the local node's current stage, a monotonically increasing
	// per-node epoch bumped on every node restart.
	Stage() int64

	// GetTask looks up another task owned by this node, used to resolve a
	// fill-history companion.
	GetTask(id TaskID) (*Task, bool)
}

// MsgCallback dispatches outbound RPC messages produced by the core
// (§4.8, "Messaging Side-Effects"). The transport itself is out of scope.
type MsgCallback interface {
	// SendCheckMsg delivers a downstream-readiness probe.
	SendCheckMsg(nodeID int32, ep Endpoint, msg *CheckMsg) error

	// SendDropTaskMsg enqueues a drop-task request on the local write queue.
	SendDropTaskMsg(vgID, taskID int32, resetRelHalt bool) error

	// SendCheckpointReq delivers a checkpoint request to the management node.
	SendCheckpointReq(ep Endpoint, req *CheckpointReq) error
}
