package moss

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
	"encoding/binary"

	"github.com/brunotm/streamtask/store"
	"github.com/couchbase/moss"
)

var (
	ropts    = moss.ReadOptions{}
	wopts    = moss.WriteOptions{}
	iteropts = moss.IteratorOptions{}
)

const checkpointPrefix = "__ck__/"

// make sure we implement the needed interface
var _ store.StateBackend = (*DB)(nil)

// DB is an in-memory moss-backed StateBackend, one instance per task. It
// trades durability for speed, suitable for tasks whose state can be
// rebuilt from upstream on restart.
type DB struct {
	db moss.Collection
}

// Open creates and starts a fresh moss collection for a single task.
func Open() (*DB, error) {
	c, err := moss.NewCollection(moss.DefaultCollectionOptions)
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, err
	}
	return &DB{db: c}, nil
}

// Get value for the given key.
func (d *DB) Get(key []byte) (value []byte, err error) {
	value, err = d.db.Get(key, ropts)
	if value == nil && err == nil {
		return nil, store.ErrKeyNotFound
	}
	return value, err
}

// Set value for the given key.
func (d *DB) Set(key, value []byte) (err error) {
	batch, err := d.db.NewBatch(1, len(key)+len(value))
	if err != nil {
		return err
	}
	defer batch.Close()

	if err = batch.Set(key, value); err != nil {
		return err
	}

	return d.db.ExecuteBatch(batch, wopts)
}

// Delete value for the given key.
func (d *DB) Delete(key []byte) (err error) {
	batch, err := d.db.NewBatch(1, 0)
	if err != nil {
		return err
	}
	defer batch.Close()

	// Moss returns a nil error on a non-existent key.
	if err = batch.Del(key); err != nil {
		return err
	}

	return d.db.ExecuteBatch(batch, wopts)
}

// Range iterates the store within the given key range applying the callback
// for the key value pairs. Returning an error causes the iteration to stop.
// A nil from or to sets the iterator to the beginning or end of the store.
func (d *DB) Range(from, to []byte, cb func(key, value []byte) error) (err error) {
	ss, err := d.db.Snapshot()
	if err != nil {
		return err
	}

	iter, err := ss.StartIterator(from, to, iteropts)
	if err != nil {
		return err
	}
	defer iter.Close()

	for {
		key, val, err := iter.Current()
		if err != nil {
			if err == moss.ErrIteratorDone {
				return nil
			}
			return err
		}

		if err = cb(key, val); err != nil {
			return err
		}

		iter.Next()
	}
}

func checkpointKey(taskID int32) []byte {
	key := make([]byte, len(checkpointPrefix)+4)
	copy(key, checkpointPrefix)
	binary.LittleEndian.PutUint32(key[len(checkpointPrefix):], uint32(taskID))
	return key
}

// SaveCheckpoint persists ck under a task-id-scoped key.
func (d *DB) SaveCheckpoint(taskID int32, ck store.Checkpoint) error {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(ck.CheckpointID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(ck.CheckpointVer))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(ck.ProcessedVer))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(ck.NextProcessVer))
	return d.Set(checkpointKey(taskID), buf)
}

// LoadCheckpoint restores the last persisted checkpoint for taskID, if any.
func (d *DB) LoadCheckpoint(taskID int32) (ck store.Checkpoint, ok bool, err error) {
	buf, err := d.Get(checkpointKey(taskID))
	if err == store.ErrKeyNotFound {
		return ck, false, nil
	}
	if err != nil {
		return ck, false, err
	}
	if len(buf) != 32 {
		return ck, false, nil
	}
	ck.CheckpointID = int64(binary.LittleEndian.Uint64(buf[0:8]))
	ck.CheckpointVer = int64(binary.LittleEndian.Uint64(buf[8:16]))
	ck.ProcessedVer = int64(binary.LittleEndian.Uint64(buf[16:24]))
	ck.NextProcessVer = int64(binary.LittleEndian.Uint64(buf[24:32]))
	return ck, true, nil
}

// Close releases the collection. moss is in-memory, so dropping has no
// extra on-disk cleanup to perform.
func (d *DB) Close(dropping bool) (err error) {
	err = d.db.Close()
	d.db = nil
	return err
}
