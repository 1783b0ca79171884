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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brunotm/streamtask/types"
)

func TestSchedWaitActiveInactiveHandshake(t *testing.T) {
	task, _, _ := newTestTask(types.Source, types.Table, false, 1)

	assert.True(t, task.SetSchedWait())
	assert.False(t, task.SetSchedWait(), "a second bid must not win while WAITING")

	prior := task.SetSchedActive()
	assert.Equal(t, types.Waiting, prior)
	assert.Equal(t, types.Active, task.SchedStatus())

	prior = task.SetSchedInactive()
	assert.Equal(t, types.Active, prior)
	assert.Equal(t, types.Inactive, task.SchedStatus())
}

func TestSetSchedActiveNoopWhenNotWaiting(t *testing.T) {
	task, _, _ := newTestTask(types.Source, types.Table, false, 1)

	prior := task.SetSchedActive()
	assert.Equal(t, types.Inactive, prior)
	assert.Equal(t, types.Inactive, task.SchedStatus())
}

func TestSetSchedInactiveToleratesDoubleRelease(t *testing.T) {
	task, _, _ := newTestTask(types.Source, types.Table, false, 1)
	task.SetSchedInactive()
	assert.Equal(t, types.Inactive, task.SchedStatus())
}

func TestConcurrentSchedWaitOnlyOneWinner(t *testing.T) {
	task, _, _ := newTestTask(types.Source, types.Table, false, 1)

	const n = 50
	var wg sync.WaitGroup
	wins := make([]bool, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			wins[i] = task.SetSchedWait()
		}()
	}
	wg.Wait()

	var winners int
	for _, w := range wins {
		if w {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
