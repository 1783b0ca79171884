package leveldb

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
	"os"

	"github.com/brunotm/streamtask/store"
	ldb "github.com/syndtr/goleveldb/leveldb"
	ldbopt "github.com/syndtr/goleveldb/leveldb/opt"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

var (
	dopt *ldbopt.Options
	wopt *ldbopt.WriteOptions
	ropt *ldbopt.ReadOptions
)

// checkpointPrefix namespaces the four checkpoint watermark fields so they
// can share the same leveldb keyspace as the executor's own state without
// colliding, each keyed by task id.
const checkpointPrefix = "__ck__/"

// make sure we implement the needed interface
var _ store.StateBackend = (*DB)(nil)

// DB is a durable leveldb-backed StateBackend, one instance per task.
type DB struct {
	db   *ldb.DB
	path string
}

// Open opens (creating if absent) a leveldb state directory for a single
// task at path.
func Open(path string) (*DB, error) {
	db, err := ldb.OpenFile(path, dopt)
	if err != nil {
		return nil, err
	}
	return &DB{db: db, path: path}, nil
}

// Get value for the given key.
func (d *DB) Get(key []byte) (value []byte, err error) {
	value, err = d.db.Get(key, ropt)
	if err == ldb.ErrNotFound {
		return nil, store.ErrKeyNotFound
	}
	return value, err
}

// Set value for the given key.
func (d *DB) Set(key, value []byte) (err error) {
	return d.db.Put(key, value, wopt)
}

// Delete value for the given key.
func (d *DB) Delete(key []byte) (err error) {
	return d.db.Delete(key, wopt)
}

// Range iterates the store within the given key range applying the callback
// for the key value pairs. Returning an error causes the iteration to stop.
// A nil from or to sets the iterator to the beginning or end of the store.
// Setting both from and to as nil iterates the whole store.
func (d *DB) Range(from, to []byte, cb func(key, value []byte) error) (err error) {
	rng := &ldbutil.Range{Start: from, Limit: to}
	iter := d.db.NewIterator(rng, ropt)
	defer iter.Release()

	for iter.Next() {
		if err = cb(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}

	return iter.Error()
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

// Close releases the backend's resources, erasing the on-disk directory
// when dropping is set (the owning task is being permanently removed).
func (d *DB) Close(dropping bool) (err error) {
	if err = d.db.Close(); err != nil {
		return err
	}
	d.db = nil

	if dropping {
		return os.RemoveAll(d.path)
	}
	return nil
}
