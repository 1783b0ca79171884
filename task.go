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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"
	"golang.org/x/time/rate"

	"github.com/brunotm/streamtask/log"
	"github.com/brunotm/streamtask/store"
	"github.com/brunotm/streamtask/types"
)

const (
	// tokenBucketSize is the fixed token and burst size for the sink-rate
	// limiter (§4.2, "allocate a token bucket (35 tokens, 35 burst, sink-rate cap)").
	tokenBucketSize = 35

	// freeTaskPollInterval is how often free_task polls timerActive while
	// draining outstanding timers (§4.2, §5).
	freeTaskPollInterval = 100 * time.Millisecond
)

// TaskID is the cluster-wide identity of a stream task: a (stream_id,
// task_id) pair (§3, "Task identity").
type TaskID struct {
	StreamID int64
	TaskID   int32
}

// IsZero reports whether id is the zero value, used to mean "no companion".
func (id TaskID) IsZero() bool {
	return id == TaskID{}
}

// String renders the identity as "0x<stream_id>-0x<task_id>" for logs.
func (id TaskID) String() string {
	return fmt.Sprintf("0x%x-0x%x", id.StreamID, id.TaskID)
}

// DataRange is the fill-history window a task was created to cover (§3,
// "Data range"). For a normal task with no fill-history companion it
// collapses to the initial log version on both ends.
type DataRange struct {
	MinVer      uint64
	MaxVer      uint64
	WindowStart int64
	WindowEnd   int64
}

// CheckpointInfo is the monotonic checkpoint/processing-version state of a
// task (§3, "Checkpoint info"). Invariant: CheckpointVer <= ProcessedVer <=
// NextProcessVer.
type CheckpointInfo struct {
	CheckpointID   int64
	CheckpointVer  int64
	ProcessedVer   int64
	NextProcessVer int64
	MsgVer         int64
}

// execInfo tracks wall-clock milestones for observability; it carries no
// behavior of its own.
type execInfo struct {
	created time.Time
}

// OutputSpec holds the output-variant fields the wire record's
// discriminated union carries (§4.1), keyed by the owning Task's
// OutputType. Only the fields matching that variant are meaningful.
type OutputSpec struct {
	TableStbUID        int64
	TableStbFullName   string
	TableSchemaWrapper []byte

	SmaID int64

	TriggerParam       int64
	SubtableWithoutMD5 bool
	Qmsg               string
	Reserve            string
}

// Task owns all per-task state: identity, status, topology, checkpoint
// position, and the collaborators it was initialized with. A Task is
// created by NewTask and made runnable by Init; it is torn down exactly
// once by FreeTask.
type Task struct {
	// Immutable after NewTask (§3, invariant 1).
	ID          TaskID
	Level       types.TaskLevel
	OutputType  types.OutputKind
	TotalLevel  int32
	MsgType     int16
	SelfChildID int32
	FillHistory bool

	// idHash is xxhash.Sum64String(ID.String()), computed once at
	// construction. TaskList indexes tasks by it instead of a linear scan.
	idHash uint64

	// HTask is the companion fill-history task id, set on the normal task
	// that owns one. StreamTask is the reverse pointer, set on the
	// fill-history task itself (§4.6).
	HTask      TaskID
	StreamTask TaskID

	log log.Logger

	// lock guards every field below plus the topology registry (topology.go)
	// and the scheduling flag (sched.go). The state-machine design notes
	// call for a recursive mutex because a completion callback may want to
	// re-enter locked state; rather than hand-roll goroutine-aware
	// reentrancy, handleEvent's lock-held logic is split into an unexported
	// "Locked" half (see status.go) that callbacks invoke directly without
	// acquiring lock a second time (§9, "Recursive mutex").
	lock sync.Mutex

	status       types.Status
	priorStatus  types.Status
	schedStatus  types.SchedStatus
	inputQueue   types.QueueStatus
	outputQueue  types.QueueStatus

	NodeID     int32
	Epset      EpSet
	MnodeEpset EpSet

	Checkpoint CheckpointInfo
	DataRange  DataRange
	Output     OutputSpec

	upstream   UpstreamInfo
	dispatcher Dispatcher

	execInfo execInfo

	refCount    atomic.Int32
	timerActive timerActive

	checkInfo *checkInfo

	// launchInfo tracks the fill-history companion's launch retry schedule;
	// only meaningful on a task that owns one (HTask set).
	launchInfo HistoryTaskLaunchInfo

	tokenBucket *rate.Limiter

	meta   MetaCallbacks
	msgCB  MsgCallback
	timers TimerService
	cfg    RuntimeConfig

	// numPausedTasks is a node-wide counter shared across every task on the
	// node (§4.3, "Pause/resume semantics"); injected rather than global so
	// independent runtimes can be instantiated in tests (§9).
	numPausedTasks *atomic.Int32

	// metrics is optional; a task with none attached simply skips reporting.
	metrics *Metrics
}

// IDHash returns the cached xxhash of ID.String(), used to index the task
// in its TaskList without repeated formatting or linear scans.
func (t *Task) IDHash() uint64 {
	return t.idHash
}

// SetMetrics attaches the Prometheus collectors this task reports into. It
// may be called at most once, before the task is handed to a scheduler.
func (t *Task) SetMetrics(m *Metrics) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.metrics = m
}

// NewTask allocates a task, sets its immutable identity, assigns a
// sequential self_child_id from list, and leaves it in READY status (or
// SCAN_HISTORY if fillHistory) with scheduling INACTIVE and both queues
// NORMAL (§3, "Lifecycle" / "Created by new_task").
func NewTask(
	streamID int64,
	taskID int32,
	level types.TaskLevel,
	outputType types.OutputKind,
	nodeID int32,
	mnodeEpset EpSet,
	fillHistory bool,
	list *TaskList,
) *Task {
	id := TaskID{StreamID: streamID, TaskID: taskID}
	t := &Task{
		ID:          id,
		idHash:      xxhash.Sum64String(id.String()),
		Level:       level,
		OutputType:  outputType,
		NodeID:      nodeID,
		MnodeEpset:  mnodeEpset,
		FillHistory: fillHistory,
		status:      types.Ready,
		schedStatus: types.Inactive,
		inputQueue:  types.QueueNormal,
		outputQueue: types.QueueNormal,
	}
	if fillHistory {
		t.status = types.ScanHistory
	}
	if list != nil {
		t.SelfChildID = list.add(t)
	}
	return t
}

// Init attaches the task's collaborators and derives its initial version
// state (§4.2, "init(task, meta, msg_cb, initial_ver)"). It must be called
// exactly once, before the task is handed to a scheduler.
func (t *Task) Init(meta MetaCallbacks, msgCB MsgCallback, timers TimerService, cfg RuntimeConfig, numPausedTasks *atomic.Int32, initialVer int64) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.refCount.Store(1)
	t.execInfo.created = time.Now()
	t.meta = meta
	t.msgCB = msgCB
	t.timers = timers
	t.cfg = cfg
	t.numPausedTasks = numPausedTasks
	t.log = log.NewTaskLogger(t.ID.StreamID, t.ID.TaskID, t.NodeID)

	t.setInitialVersionInfoLocked(initialVer)

	t.upstream.openAllLocked()

	limit := rate.Limit(cfg.SinkDataRateBytesPerSec)
	if cfg.SinkDataRateBytesPerSec <= 0 {
		limit = rate.Inf
	}
	t.tokenBucket = rate.NewLimiter(limit, tokenBucketSize)

	t.checkInfo = newCheckInfo()

	return nil
}

// setInitialVersionInfoLocked derives checkpoint_ver, processed_ver and
// next_process_ver from the fill-history relationship (§4.2, "Initial
// version derivation"). Caller holds t.lock.
func (t *Task) setInitialVersionInfoLocked(initialVer int64) {
	switch {
	case !t.FillHistory && t.HTask.IsZero():
		// Normal task with no fill-history companion.
		t.Checkpoint.CheckpointVer = initialVer - 1
		t.Checkpoint.ProcessedVer = initialVer - 1
		t.Checkpoint.NextProcessVer = initialVer
		t.DataRange.MinVer = uint64(initialVer)
		t.DataRange.MaxVer = uint64(initialVer)

	case t.FillHistory:
		// This task is itself the fill-history task: it starts at the end
		// of its backfill window.
		t.Checkpoint.CheckpointVer = int64(t.DataRange.MaxVer)
		t.Checkpoint.ProcessedVer = int64(t.DataRange.MaxVer)
		t.Checkpoint.NextProcessVer = int64(t.DataRange.MaxVer) + 1

	default:
		// Normal task with a fill-history companion: live processing
		// resumes where the backfill window begins.
		if t.DataRange.MinVer == 0 {
			// Legacy compatibility: an unset backfill window collapses to
			// the conventional bootstrap triple.
			t.Checkpoint.CheckpointVer = 0
			t.Checkpoint.ProcessedVer = 0
			t.Checkpoint.NextProcessVer = 1
			return
		}
		t.Checkpoint.CheckpointVer = int64(t.DataRange.MinVer) - 1
		t.Checkpoint.ProcessedVer = int64(t.DataRange.MinVer) - 1
		t.Checkpoint.NextProcessVer = int64(t.DataRange.MinVer)
	}
}

// FreeTask tears a task down in this order: snapshot status, wait for
// outstanding monitor timers to drain (timerActive reaching zero), flag the
// check engine stopped, close the state backend (erasing it when the
// snapshot was DROPPING), and finally release the lock-protected topology
// state. It does not stop timers itself. The caller must have
// already driven the task through STOP; FreeTask does not emit that
// transition itself.
//
// Queue/executor/log-reader/dispatch-buffer teardown are the
// responsibility of the external collaborators that own them (§1); this
// core's contribution to teardown is draining timerActive and releasing
// its own state, which is the part those collaborators cannot do safely
// without racing the monitor.
func (t *Task) FreeTask(backend store.StateBackend) error {
	t.lock.Lock()
	snapshot := t.status
	t.lock.Unlock()

	for t.timerActive.load() > 0 {
		time.Sleep(freeTaskPollInterval)
	}

	if t.checkInfo != nil {
		t.checkInfo.stopMonitorCheckRsp()
	}

	dropping := snapshot == types.Dropping
	if backend != nil {
		if err := backend.Close(dropping); err != nil {
			return err
		}
	}

	t.lock.Lock()
	t.upstream = UpstreamInfo{}
	t.dispatcher = nil
	t.lock.Unlock()

	return nil
}

// Status returns the task's current lifecycle status.
func (t *Task) Status() types.Status {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.status
}

// SchedStatus returns the task's current scheduling status.
func (t *Task) SchedStatus() types.SchedStatus {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.schedStatus
}

// Retain increments the task's reference count; paired with Release.
func (t *Task) Retain() int32 {
	return t.refCount.Add(1)
}

// Release decrements the task's reference count and returns the result.
// FreeTask must only run once this (and timerActive) reach zero (§3,
// invariant 5).
func (t *Task) Release() int32 {
	return t.refCount.Add(-1)
}

// RefCount returns the task's current reference count.
func (t *Task) RefCount() int32 {
	return t.refCount.Load()
}
