package store

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
	"bytes"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStateBackend exercises the StateBackend contract against a concrete
// implementation supplied by backend, shared across store/leveldb and
// store/moss so both engines are held to the same behavior.
func TestStateBackend(t *testing.T, backend StateBackend) {
	key := randStringBytes(8)
	value := randStringBytes(32)

	t.Run("get inexistent key", func(t *testing.T) {
		_, err := backend.Get(key)
		assert.Equal(t, ErrKeyNotFound, err)
	})

	t.Run("set and get", func(t *testing.T) {
		assert.NoError(t, backend.Set(key, value))

		v, err := backend.Get(key)
		assert.NoError(t, err)
		assert.Equal(t, 0, bytes.Compare(v, value))
	})

	t.Run("delete", func(t *testing.T) {
		assert.NoError(t, backend.Delete(key))
		_, err := backend.Get(key)
		assert.Equal(t, ErrKeyNotFound, err)
	})

	keys := make([][]byte, 10)
	for x := 0; x < 10; x++ {
		keys[x] = randStringBytes(4)
	}
	sorted := make([][]byte, 10)
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i]) < string(sorted[j])
	})

	t.Run("range lexicographical", func(t *testing.T) {
		for x := len(keys) - 1; x >= 0; x-- {
			assert.NoError(t, backend.Set(keys[x], value))
		}

		idx := 1
		err := backend.Range(sorted[1], sorted[3], func(k, v []byte) error {
			assert.Equal(t, 0, bytes.Compare(k, sorted[idx]))
			idx++
			return nil
		})
		assert.NoError(t, err)

		for _, k := range keys {
			assert.NoError(t, backend.Delete(k))
		}
	})

	t.Run("checkpoint round trip", func(t *testing.T) {
		_, ok, err := backend.LoadCheckpoint(7)
		assert.NoError(t, err)
		assert.False(t, ok)

		ck := Checkpoint{CheckpointID: 1, CheckpointVer: 100, ProcessedVer: 99, NextProcessVer: 100}
		assert.NoError(t, backend.SaveCheckpoint(7, ck))

		got, ok, err := backend.LoadCheckpoint(7)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ck, got)
	})

	t.Run("concurrent set and get", func(t *testing.T) {
		start := make(chan struct{})
		var wg sync.WaitGroup

		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			for x := 0; x < 100; x++ {
				for i := range sorted {
					_, _ = backend.Get(sorted[i])
				}
			}
		}()
		go func() {
			defer wg.Done()
			close(start)
			for x := 0; x < 100; x++ {
				for i := range sorted {
					assert.NoError(t, backend.Set(keys[i], value))
				}
			}
		}()
		wg.Wait()
	})
}

const (
	letterBytes   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	letterIdxBits = 6
	letterIdxMask = 1<<letterIdxBits - 1
	letterIdxMax  = 63 / letterIdxBits
)

func randStringBytes(n int) []byte {
	b := make([]byte, n)
	for i, cache, remain := n-1, rand.Int63(), letterIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = rand.Int63(), letterIdxMax
		}
		if idx := int(cache & letterIdxMask); idx < len(letterBytes) {
			b[i] = letterBytes[idx]
			i--
		}
		cache >>= letterIdxBits
		remain--
	}
	return b
}
