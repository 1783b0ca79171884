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

import "math"

// HistoryTaskLaunchInfo tracks the retry schedule an external launcher uses
// to decide when to next attempt starting this task's fill-history
// companion (§4.6, supplementing the readiness-check engine with the
// launch backoff the original implementation keeps alongside it). The core
// only maintains the schedule; actually invoking the launcher is out of
// scope.
type HistoryTaskLaunchInfo struct {
	tryInProgress bool
	waitInterval  float64 // milliseconds
	tickCount     int32
	retryTimes    int32
}

// InitForLaunch resets the schedule to the base launch interval, as if this
// were the first attempt to start the fill-history task.
func (info *HistoryTaskLaunchInfo) InitForLaunch(cfg RuntimeConfig) {
	waitMs := float64(cfg.LaunchHTaskInterval.Milliseconds())
	minimalMs := float64(cfg.WaitForMinimalInterval.Milliseconds())

	info.waitInterval = waitMs
	info.tickCount = int32(math.Ceil(waitMs / minimalMs))
	info.retryTimes = 0
}

// SetRetryInfo advances the schedule after a failed attempt, scaling the
// wait interval by RetryLaunchIntervalIncRate and re-deriving the tick
// count. Calling this before the previous interval has fully elapsed
// (tickCount != 0) indicates a caller bug; the original implementation
// asserts this invariant, so this records it in the task log rather than
// silently proceeding.
func (info *HistoryTaskLaunchInfo) SetRetryInfo(cfg RuntimeConfig, log func(msg string)) {
	if info.tickCount != 0 && log != nil {
		log("set_retry_info_for_launch: called with outstanding tick count")
	}

	minimalMs := float64(cfg.WaitForMinimalInterval.Milliseconds())
	info.waitInterval *= cfg.RetryLaunchIntervalIncRate
	info.tickCount = int32(math.Ceil(info.waitInterval / minimalMs))
	info.retryTimes++
}

// Tick decrements the countdown by one and reports whether it has reached
// zero, meaning the next launch attempt is due.
func (info *HistoryTaskLaunchInfo) Tick() bool {
	if info.tickCount <= 0 {
		return true
	}
	info.tickCount--
	return info.tickCount == 0
}

// RetryTimes returns the number of failed launch attempts recorded so far.
func (info *HistoryTaskLaunchInfo) RetryTimes() int32 {
	return info.retryTimes
}

// TryInProgress reports whether a launch attempt is currently outstanding.
func (info *HistoryTaskLaunchInfo) TryInProgress() bool {
	return info.tryInProgress
}

// SetTryInProgress marks whether a launch attempt is currently outstanding,
// guarding against launching the same fill-history task twice concurrently.
func (info *HistoryTaskLaunchInfo) SetTryInProgress(v bool) {
	info.tryInProgress = v
}

// InitForLaunch resets t's fill-history launch schedule to the base
// interval, as if about to attempt the first launch, and clears any stage
// recorded against its upstreams so the new incarnation does not fast-fail
// on stage comparisons left over from the previous one.
func (t *Task) InitForLaunch() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.launchInfo.InitForLaunch(t.cfg)
	t.resetUpstreamStageLocked()
}

// SetRetryInfoForLaunch advances t's fill-history launch schedule after a
// failed attempt and reports the retry to metrics, if attached.
func (t *Task) SetRetryInfoForLaunch() {
	t.lock.Lock()
	defer t.lock.Unlock()

	var logFn func(string)
	if t.log != nil {
		logFn = func(msg string) { t.log.Warnw(msg, "task_id", t.ID.String()) }
	}
	t.launchInfo.SetRetryInfo(t.cfg, logFn)

	if t.metrics != nil {
		t.metrics.LaunchRetries.Inc()
	}
}

// LaunchTick advances t's launch countdown by one tick and reports whether
// the next launch attempt is due.
func (t *Task) LaunchTick() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.launchInfo.Tick()
}
