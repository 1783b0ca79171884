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
	"github.com/brunotm/streamtask/types"
)

// Event drives the status state machine (§4.3).
type Event uint8

const (
	// EventStop moves any non-terminal state to STOP. The core only records
	// the transition; it holds no executor handle and kills no executor.
	EventStop Event = iota
	// EventPause records the prior state and moves to PAUSE from the states
	// the transition table allows. The core does not halt an executor or
	// log scanning.
	EventPause
	// EventResume restores the state recorded before EventPause.
	EventResume
	// EventReady moves UNINIT/SCAN_HISTORY to READY once the
	// downstream-readiness check converges.
	EventReady
	// EventScanHistory moves READY into SCAN_HISTORY for a fill-history run.
	EventScanHistory
	// EventHalt moves READY into HALT pending an external resume decision.
	EventHalt
	// EventCheckpoint moves READY into CK_IN_PROGRESS for the duration of a
	// checkpoint barrier.
	EventCheckpoint
	// EventCheckpointDone returns from CK_IN_PROGRESS to READY.
	EventCheckpointDone
	// EventDrop moves any state to DROPPING; observed, not originated, by
	// this core (§4.3, "Drop and dropping are handled by the meta-store").
	EventDrop
)

// legalTransitions enumerates, for each (state, event) pair the automaton
// accepts, the resulting state. Anything absent is rejected with
// ErrStateMachineReject, with two exceptions handled ahead of the table in
// handleEventLocked: EventStop on a STOP task returns STOP without error,
// and EventResume goes through restoreStatusLocked. This is a deliberately small, explicit table
// rather than a generic graph: the full state/event catalogue belongs to
// the external state-machine collaborator (§4.3); the core only needs the
// transitions it actually drives.
var legalTransitions = map[types.Status]map[Event]types.Status{
	types.Uninit: {
		EventReady: types.Ready,
		EventStop:  types.Stop,
		EventDrop:  types.Dropping,
	},
	types.Ready: {
		EventScanHistory: types.ScanHistory,
		EventHalt:        types.Halt,
		EventPause:       types.Pause,
		EventCheckpoint:  types.CkInProgress,
		EventStop:        types.Stop,
		EventDrop:        types.Dropping,
	},
	types.ScanHistory: {
		EventReady: types.Ready,
		EventPause: types.Pause,
		EventStop:  types.Stop,
		EventDrop:  types.Dropping,
	},
	types.Halt: {
		EventReady: types.Ready,
		EventPause: types.Pause,
		EventStop:  types.Stop,
		EventDrop:  types.Dropping,
	},
	types.CkInProgress: {
		EventCheckpointDone: types.Ready,
		EventPause:          types.Pause,
		EventStop:           types.Stop,
		EventDrop:           types.Dropping,
	},
	types.Pause: {
		// EventResume is handled separately via restoreStatusLocked, which
		// needs the recorded priorStatus rather than a fixed destination.
		EventStop: types.Stop,
		EventDrop: types.Dropping,
	},
	types.Dropping: {
		EventStop: types.Stop,
	},
}

// completion is the asynchronous event-delivery callback (§4.3,
// "Asynchronous: the event is queued with a completion callback invoked
// after the transition.").
type completion func(result types.Status, err error)

// HandleEvent delivers ev synchronously, blocking until the transition
// completes, and returns the resulting state.
func (t *Task) HandleEvent(ev Event) (types.Status, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.handleEventLocked(ev)
}

// HandleEventAsync queues ev and invokes done once the transition
// completes. The current implementation runs the transition on its own
// goroutine so the caller never blocks on t.lock; done is always called
// exactly once.
func (t *Task) HandleEventAsync(ev Event, done completion) {
	go func() {
		t.lock.Lock()
		result, err := t.handleEventLocked(ev)
		t.lock.Unlock()
		if done != nil {
			done(result, err)
		}
	}()
}

// handleEventLocked applies the state machine's transition table. Caller
// holds t.lock. This is the "lock-held half" the recursive-mutex design
// note calls for (§9): completion callbacks that need to observe or
// mutate task state again call this directly instead of re-entering
// HandleEvent, so a single non-reentrant mutex is sufficient.
func (t *Task) handleEventLocked(ev Event) (types.Status, error) {
	if ev == EventStop {
		if t.status.Terminal() {
			return t.status, nil
		}
		t.status = types.Stop
		// executor kill is an external collaborator's responsibility; the
		// core only records the transition.
		return t.status, nil
	}

	if ev == EventPause {
		if _, ok := legalTransitions[t.status][ev]; !ok {
			return t.status, ErrStateMachineReject
		}
		t.priorStatus = t.status
		t.status = types.Pause
		return t.status, nil
	}

	if ev == EventResume {
		return t.restoreStatusLocked()
	}

	next, ok := legalTransitions[t.status][ev]
	if !ok {
		return t.status, ErrStateMachineReject
	}
	t.status = next
	return t.status, nil
}

// restoreStatusLocked implements restore_status: return to the state
// recorded before the most recent EventPause (§4.3, "Pause is restored by
// restore_status, which returns to the recorded prior state."). Restoring
// from a non-PAUSE state is a no-op that returns the current state
// unchanged, matching the "no-op" branch pause/resume semantics describe.
func (t *Task) restoreStatusLocked() (types.Status, error) {
	if t.status != types.Pause {
		return t.status, nil
	}
	t.status = t.priorStatus
	return t.status, nil
}

// Pause emits EventPause asynchronously and, once it completes
// successfully, atomically increments the node-wide paused-task counter
// (§4.3, "Pause/resume semantics").
func (t *Task) Pause() {
	t.HandleEventAsync(EventPause, func(result types.Status, err error) {
		if err != nil {
			return
		}
		if t.numPausedTasks != nil {
			n := t.numPausedTasks.Add(1)
			if t.metrics != nil {
				t.metrics.PausedTasks.Set(float64(n))
			}
		}
	})
}

// Resume calls restore_status; on a real transition it decrements the
// paused-task counter, on a no-op it leaves the counter untouched
// (§4.3, "Pause/resume semantics").
func (t *Task) Resume() {
	t.lock.Lock()
	wasPaused := t.status == types.Pause
	result, err := t.restoreStatusLocked()
	t.lock.Unlock()

	if err != nil {
		return
	}
	if wasPaused && result != types.Pause && t.numPausedTasks != nil {
		n := t.numPausedTasks.Add(-1)
		if t.metrics != nil {
			t.metrics.PausedTasks.Set(float64(n))
		}
	} else if !wasPaused && t.log != nil {
		t.log.Warnw("resume: task was not paused", "task_id", t.ID.String())
	}
}
