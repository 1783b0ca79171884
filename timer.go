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
	"sync/atomic"
	"time"
)

// TimerHandle identifies one armed timer so it can be reset or stopped.
// The zero value is not a valid handle.
type TimerHandle struct {
	t *time.Timer
}

// TimerService is the single shared timer collaborator described in §6,
// "Timers": a thread delivering callbacks, abstracted here so tests can
// supply a deterministic fake instead of real wall-clock waits. The
// production implementation is a thin wrapper over the standard library's
// time.AfterFunc; there is no third-party timer wheel in the example
// corpus and time.AfterFunc already delivers each callback on its own
// goroutine, which is exactly the "dedicated thread" contract of §6.
type TimerService interface {
	// Start arms fn to run once after interval elapses and returns a handle.
	Start(interval time.Duration, fn func()) TimerHandle

	// Reset rearms an existing handle for interval, running fn again.
	Reset(h TimerHandle, interval time.Duration, fn func()) TimerHandle

	// Stop cancels a handle. Safe to call on an already-fired timer.
	Stop(h TimerHandle)
}

// systemTimerService is the production TimerService backed by time.AfterFunc.
type systemTimerService struct{}

// NewSystemTimerService returns the production TimerService.
func NewSystemTimerService() TimerService {
	return systemTimerService{}
}

func (systemTimerService) Start(interval time.Duration, fn func()) TimerHandle {
	return TimerHandle{t: time.AfterFunc(interval, fn)}
}

func (systemTimerService) Reset(h TimerHandle, interval time.Duration, fn func()) TimerHandle {
	if h.t == nil {
		return TimerHandle{t: time.AfterFunc(interval, fn)}
	}
	if !h.t.Stop() {
		// Timer already fired or is firing; its goroutine may still be
		// running fn. Replace the handle outright rather than risk two
		// live callbacks racing on the same monitor state.
		return TimerHandle{t: time.AfterFunc(interval, fn)}
	}
	h.t.Reset(interval)
	return h
}

func (systemTimerService) Stop(h TimerHandle) {
	if h.t != nil {
		h.t.Stop()
	}
}

// timerActive is the reference count gating free_task (§4.2, §5): every
// armed monitor timer increments it, every exit path from a monitor tick
// decrements it. free_task's drain loop polls this at 100ms intervals.
type timerActive struct {
	n atomic.Int32
}

func (t *timerActive) inc() {
	t.n.Add(1)
}

func (t *timerActive) dec() {
	t.n.Add(-1)
}

func (t *timerActive) load() int32 {
	return t.n.Load()
}
