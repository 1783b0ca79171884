package codec

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

// Package codec implements the versioned, length-prefixed binary format a
// task record is persisted and shipped as (§4.1). It is a standalone
// package, independent of the root task type, so the root package can
// depend on it without an import cycle: callers convert between the root
// Task and the TaskRecord DTO defined here.
//
// There is no third-party binary wire-format library in use across this
// codebase for flat little-endian struct encoding (the closest analogue,
// the packet decoders under firestige-Otus/internal/core/decoder, also
// build directly on encoding/binary), so this codec is written on the
// standard library rather than adopting an unrelated serialization
// framework for a format whose exact byte layout is normative.
import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Output kind tags, mirroring types.OutputKind without importing the root
// module's types package (kept dependency-free on purpose).
const (
	OutputTable           int8 = 0
	OutputSma             int8 = 1
	OutputFetch           int8 = 2
	OutputFixedDispatch   int8 = 3
	OutputShuffleDispatch int8 = 4
)

// Version gates (§4.1, "versioned"). CurrentVer is the newest format this
// codec emits; IncompatibleVer is the highest version this decoder refuses
// outright; SubtableChangedVer is the version at which the
// subtable_without_md5 field was appended.
const (
	IncompatibleVer    int64 = 0
	SubtableChangedVer int64 = 2
	CurrentVer         int64 = 3
)

// reserveLen is the fixed width of the trailing reserved string field.
const reserveLen = 64

// InvalidVersionError is returned when a record's ver field falls outside
// the compatible range (§4.1, §7).
type InvalidVersionError struct {
	Found                    int64
	ExpectedMin, ExpectedMax int64
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid task record version %d, expected (%d, %d]", e.Found, e.ExpectedMin, e.ExpectedMax)
}

// DecodeError wraps a malformed record at the field that failed.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode task record: field %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Endpoint is the wire form of a single network address.
type Endpoint struct {
	Fqdn string
	Port uint16
}

// EpSet is the wire form of an ordered endpoint list with a preferred index.
type EpSet struct {
	Eps   []Endpoint
	InUse int32
}

// UpstreamEntry is the wire form of one upstream child-endpoint record.
type UpstreamEntry struct {
	TaskID  int32
	NodeID  int32
	ChildID int32
	Epset   EpSet
	Stage   int64
}

// VgroupEntry is the wire form of one shuffle-dispatch vgroup target.
type VgroupEntry struct {
	VgID   int32
	TaskID int32
	NodeID int32
	Epset  EpSet
}

// TaskRecord is the complete on-wire/on-disk representation of a task
// (§4.1, "Field order (normative)"). Field order and types here are
// normative and must not be reordered without bumping CurrentVer.
type TaskRecord struct {
	Ver         int64
	StreamID    int64
	TaskID      int32
	TotalLevel  int32
	Level       int8
	OutputType  int8
	MsgType     int16
	TaskStatus  int8
	SchedStatus int8

	SelfChildID int32
	NodeID      int32
	Epset       EpSet
	MnodeEpset  EpSet

	CheckpointID  int64
	CheckpointVer int64
	FillHistory   int8

	HTaskStreamID      int64
	HTaskTaskID        int32
	StreamTaskStreamID int64
	StreamTaskTaskID   int32

	DataRangeMinVer      uint64
	DataRangeMaxVer      uint64
	DataRangeWindowStart int64
	DataRangeWindowEnd   int64

	Upstream []UpstreamEntry

	// Qmsg is only present when Level != SINK.
	Qmsg string

	// Output variant, discriminated by OutputType; only the fields for the
	// matching arm are meaningful.
	TableStbUID        int64
	TableStbFullName   string
	TableSchemaWrapper []byte
	SmaID              int64
	FetchReserved       int8
	FixedTaskID        int32
	FixedNodeID        int32
	FixedEpset         EpSet
	ShuffleVgroups     []VgroupEntry
	ShuffleStbFullName string

	TriggerParam       int64
	SubtableWithoutMD5 int8
	Reserve            string
}

// CheckpointInfo is the partial-decode result of DecodeCheckpointInfo
// (§4.1, "Partial decoder"): {msg_ver, checkpoint_id, checkpoint_ver}.
type CheckpointInfo struct {
	MsgVer        int64
	CheckpointID  int64
	CheckpointVer int64
}

// Encode serializes r into the versioned binary format. The returned bytes
// always begin with r.Ver and are forward-readable by any decoder that
// accepts that version.
func Encode(r *TaskRecord) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := &writer{buf: buf}

	w.i64(r.Ver)
	w.i64(r.StreamID)
	w.i32(r.TaskID)
	w.i32(r.TotalLevel)
	w.i8(r.Level)
	w.i8(r.OutputType)
	w.i16(r.MsgType)
	w.i8(r.TaskStatus)
	w.i8(r.SchedStatus)
	w.i32(r.SelfChildID)
	w.i32(r.NodeID)
	w.epset(r.Epset)
	w.epset(r.MnodeEpset)
	w.i64(r.CheckpointID)
	w.i64(r.CheckpointVer)
	w.i8(r.FillHistory)
	w.i64(r.HTaskStreamID)
	w.i32(r.HTaskTaskID)
	w.i64(r.StreamTaskStreamID)
	w.i32(r.StreamTaskTaskID)
	w.u64(r.DataRangeMinVer)
	w.u64(r.DataRangeMaxVer)
	w.i64(r.DataRangeWindowStart)
	w.i64(r.DataRangeWindowEnd)

	w.i32(int32(len(r.Upstream)))
	for _, u := range r.Upstream {
		w.i32(u.TaskID)
		w.i32(u.NodeID)
		w.i32(u.ChildID)
		w.epset(u.Epset)
		w.i64(u.Stage)
	}

	if r.Level != int8(sinkLevel) {
		w.cstr(r.Qmsg)
	}

	switch r.OutputType {
	case OutputTable:
		w.i64(r.TableStbUID)
		w.cstr(r.TableStbFullName)
		w.blob(r.TableSchemaWrapper)
	case OutputSma:
		w.i64(r.SmaID)
	case OutputFetch:
		w.i8(r.FetchReserved)
	case OutputFixedDispatch:
		w.i32(r.FixedTaskID)
		w.i32(r.FixedNodeID)
		w.epset(r.FixedEpset)
	case OutputShuffleDispatch:
		w.i32(int32(len(r.ShuffleVgroups)))
		for _, v := range r.ShuffleVgroups {
			w.i32(v.VgID)
			w.i32(v.TaskID)
			w.i32(v.NodeID)
			w.epset(v.Epset)
		}
		w.cstr(r.ShuffleStbFullName)
	}

	w.i64(r.TriggerParam)
	if r.Ver >= SubtableChangedVer {
		w.i8(r.SubtableWithoutMD5)
	}
	w.cstrFixed(r.Reserve, reserveLen)

	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

// sinkLevel mirrors types.Sink's numeric value (2); kept as an untyped
// constant here so this package stays independent of the types package.
const sinkLevel = 2

// Decode parses the versioned binary format produced by Encode, rejecting
// any ver outside (IncompatibleVer, CurrentVer] (§4.1, §7 InvalidVersion).
func Decode(data []byte) (*TaskRecord, error) {
	r := writerToReader(data)
	ver, err := r.i64()
	if err != nil {
		return nil, &DecodeError{Field: "ver", Err: err}
	}
	if ver <= IncompatibleVer || ver > CurrentVer {
		return nil, &InvalidVersionError{Found: ver, ExpectedMin: IncompatibleVer, ExpectedMax: CurrentVer}
	}

	rec := &TaskRecord{Ver: ver}
	if rec.StreamID, err = r.i64f(); err != nil {
		return nil, &DecodeError{"stream_id", err}
	}
	if rec.TaskID, err = r.i32f(); err != nil {
		return nil, &DecodeError{"task_id", err}
	}
	if rec.TotalLevel, err = r.i32f(); err != nil {
		return nil, &DecodeError{"total_level", err}
	}
	if rec.Level, err = r.i8f(); err != nil {
		return nil, &DecodeError{"level", err}
	}
	if rec.OutputType, err = r.i8f(); err != nil {
		return nil, &DecodeError{"output_type", err}
	}
	if rec.MsgType, err = r.i16f(); err != nil {
		return nil, &DecodeError{"msg_type", err}
	}
	if rec.TaskStatus, err = r.i8f(); err != nil {
		return nil, &DecodeError{"task_status", err}
	}
	if rec.SchedStatus, err = r.i8f(); err != nil {
		return nil, &DecodeError{"sched_status", err}
	}
	if rec.SelfChildID, err = r.i32f(); err != nil {
		return nil, &DecodeError{"self_child_id", err}
	}
	if rec.NodeID, err = r.i32f(); err != nil {
		return nil, &DecodeError{"node_id", err}
	}
	if rec.Epset, err = r.epsetf(); err != nil {
		return nil, &DecodeError{"epset", err}
	}
	if rec.MnodeEpset, err = r.epsetf(); err != nil {
		return nil, &DecodeError{"mnode_epset", err}
	}
	if rec.CheckpointID, err = r.i64f(); err != nil {
		return nil, &DecodeError{"checkpoint_id", err}
	}
	if rec.CheckpointVer, err = r.i64f(); err != nil {
		return nil, &DecodeError{"checkpoint_ver", err}
	}
	if rec.FillHistory, err = r.i8f(); err != nil {
		return nil, &DecodeError{"fill_history", err}
	}
	if rec.HTaskStreamID, err = r.i64f(); err != nil {
		return nil, &DecodeError{"h_task.stream_id", err}
	}
	if rec.HTaskTaskID, err = r.i32f(); err != nil {
		return nil, &DecodeError{"h_task.task_id", err}
	}
	if rec.StreamTaskStreamID, err = r.i64f(); err != nil {
		return nil, &DecodeError{"stream_task.stream_id", err}
	}
	if rec.StreamTaskTaskID, err = r.i32f(); err != nil {
		return nil, &DecodeError{"stream_task.task_id", err}
	}
	if rec.DataRangeMinVer, err = r.u64f(); err != nil {
		return nil, &DecodeError{"data_range.min_ver", err}
	}
	if rec.DataRangeMaxVer, err = r.u64f(); err != nil {
		return nil, &DecodeError{"data_range.max_ver", err}
	}
	if rec.DataRangeWindowStart, err = r.i64f(); err != nil {
		return nil, &DecodeError{"data_range.window_start", err}
	}
	if rec.DataRangeWindowEnd, err = r.i64f(); err != nil {
		return nil, &DecodeError{"data_range.window_end", err}
	}

	n, err := r.i32f()
	if err != nil {
		return nil, &DecodeError{"upstream_count", err}
	}
	rec.Upstream = make([]UpstreamEntry, 0, n)
	for i := int32(0); i < n; i++ {
		var u UpstreamEntry
		if u.TaskID, err = r.i32f(); err != nil {
			return nil, &DecodeError{"upstream.task_id", err}
		}
		if u.NodeID, err = r.i32f(); err != nil {
			return nil, &DecodeError{"upstream.node_id", err}
		}
		if u.ChildID, err = r.i32f(); err != nil {
			return nil, &DecodeError{"upstream.child_id", err}
		}
		if u.Epset, err = r.epsetf(); err != nil {
			return nil, &DecodeError{"upstream.epset", err}
		}
		if u.Stage, err = r.i64f(); err != nil {
			return nil, &DecodeError{"upstream.stage", err}
		}
		rec.Upstream = append(rec.Upstream, u)
	}

	if rec.Level != int8(sinkLevel) {
		if rec.Qmsg, err = r.cstrf(); err != nil {
			return nil, &DecodeError{"qmsg", err}
		}
	}

	switch rec.OutputType {
	case OutputTable:
		if rec.TableStbUID, err = r.i64f(); err != nil {
			return nil, &DecodeError{"stb_uid", err}
		}
		if rec.TableStbFullName, err = r.cstrf(); err != nil {
			return nil, &DecodeError{"stb_full_name", err}
		}
		if rec.TableSchemaWrapper, err = r.blobf(); err != nil {
			return nil, &DecodeError{"schema_wrapper", err}
		}
	case OutputSma:
		if rec.SmaID, err = r.i64f(); err != nil {
			return nil, &DecodeError{"sma_id", err}
		}
	case OutputFetch:
		if rec.FetchReserved, err = r.i8f(); err != nil {
			return nil, &DecodeError{"fetch.reserved", err}
		}
	case OutputFixedDispatch:
		if rec.FixedTaskID, err = r.i32f(); err != nil {
			return nil, &DecodeError{"fixed.task_id", err}
		}
		if rec.FixedNodeID, err = r.i32f(); err != nil {
			return nil, &DecodeError{"fixed.node_id", err}
		}
		if rec.FixedEpset, err = r.epsetf(); err != nil {
			return nil, &DecodeError{"fixed.epset", err}
		}
	case OutputShuffleDispatch:
		vn, err2 := r.i32f()
		if err2 != nil {
			return nil, &DecodeError{"shuffle.vgroup_count", err2}
		}
		rec.ShuffleVgroups = make([]VgroupEntry, 0, vn)
		for i := int32(0); i < vn; i++ {
			var v VgroupEntry
			if v.VgID, err = r.i32f(); err != nil {
				return nil, &DecodeError{"shuffle.vg_id", err}
			}
			if v.TaskID, err = r.i32f(); err != nil {
				return nil, &DecodeError{"shuffle.task_id", err}
			}
			if v.NodeID, err = r.i32f(); err != nil {
				return nil, &DecodeError{"shuffle.node_id", err}
			}
			if v.Epset, err = r.epsetf(); err != nil {
				return nil, &DecodeError{"shuffle.epset", err}
			}
			rec.ShuffleVgroups = append(rec.ShuffleVgroups, v)
		}
		if rec.ShuffleStbFullName, err = r.cstrf(); err != nil {
			return nil, &DecodeError{"shuffle.stb_full_name", err}
		}
	}

	if rec.TriggerParam, err = r.i64f(); err != nil {
		return nil, &DecodeError{"trigger_param", err}
	}
	if rec.Ver >= SubtableChangedVer {
		if rec.SubtableWithoutMD5, err = r.i8f(); err != nil {
			return nil, &DecodeError{"subtable_without_md5", err}
		}
	}
	if rec.Reserve, err = r.cstrFixedf(reserveLen); err != nil {
		return nil, &DecodeError{"reserve", err}
	}

	return rec, nil
}

// DecodeCheckpointInfo is the "checkpoint-only" partial decoder (§4.1): it
// skips every field prior to checkpoint_id/checkpoint_ver by reading and
// discarding, so the meta-store can read checkpoint metadata without
// materializing the full record. Grounded on tDecodeStreamTaskChkInfo: the
// record's leading version field doubles as msg_ver for this view, and no
// version gate is applied here (the original decoder comments this out,
// since checkpoint metadata must remain readable across incompatible
// versions of the rest of the record).
func DecodeCheckpointInfo(data []byte) (*CheckpointInfo, error) {
	r := writerToReader(data)

	msgVer, err := r.i64f()
	if err != nil {
		return nil, &DecodeError{"msg_ver", err}
	}

	// stream_id, task_id, total_level, level, output_type, msg_type
	if _, err = r.i64f(); err != nil {
		return nil, &DecodeError{"stream_id", err}
	}
	if _, err = r.i32f(); err != nil {
		return nil, &DecodeError{"task_id", err}
	}
	if _, err = r.i32f(); err != nil {
		return nil, &DecodeError{"total_level", err}
	}
	if _, err = r.i8f(); err != nil {
		return nil, &DecodeError{"level", err}
	}
	if _, err = r.i8f(); err != nil {
		return nil, &DecodeError{"output_type", err}
	}
	if _, err = r.i16f(); err != nil {
		return nil, &DecodeError{"msg_type", err}
	}

	// task_status, sched_status
	if _, err = r.i8f(); err != nil {
		return nil, &DecodeError{"task_status", err}
	}
	if _, err = r.i8f(); err != nil {
		return nil, &DecodeError{"sched_status", err}
	}

	// self_child_id, node_id, epset, mnode_epset
	if _, err = r.i32f(); err != nil {
		return nil, &DecodeError{"self_child_id", err}
	}
	if _, err = r.i32f(); err != nil {
		return nil, &DecodeError{"node_id", err}
	}
	if _, err = r.epsetf(); err != nil {
		return nil, &DecodeError{"epset", err}
	}
	if _, err = r.epsetf(); err != nil {
		return nil, &DecodeError{"mnode_epset", err}
	}

	checkpointID, err := r.i64f()
	if err != nil {
		return nil, &DecodeError{"checkpoint_id", err}
	}
	checkpointVer, err := r.i64f()
	if err != nil {
		return nil, &DecodeError{"checkpoint_ver", err}
	}

	return &CheckpointInfo{
		MsgVer:        msgVer,
		CheckpointID:  checkpointID,
		CheckpointVer: checkpointVer,
	}, nil
}

// --- low-level little-endian / length-prefixed primitives ---

type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) i8(v int8)   { w.write(v) }
func (w *writer) i16(v int16) { w.write(v) }
func (w *writer) i32(v int32) { w.write(v) }
func (w *writer) i64(v int64) { w.write(v) }
func (w *writer) u64(v uint64) { w.write(v) }

func (w *writer) write(v interface{}) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *writer) blob(b []byte) {
	w.i32(int32(len(b)))
	if w.err != nil {
		return
	}
	_, w.err = w.buf.Write(b)
}

func (w *writer) cstr(s string) {
	w.blob([]byte(s))
}

// cstrFixed writes s truncated/padded to exactly n bytes, with no
// separate length prefix (§4.1, "reserve:cstr(fixed len)").
func (w *writer) cstrFixed(s string, n int) {
	b := make([]byte, n)
	copy(b, s)
	if w.err != nil {
		return
	}
	_, w.err = w.buf.Write(b)
}

func (w *writer) epset(e EpSet) {
	w.i32(int32(len(e.Eps)))
	for _, ep := range e.Eps {
		w.cstr(ep.Fqdn)
		w.write(ep.Port)
	}
	w.i32(e.InUse)
}

type reader struct {
	r   *bytes.Reader
}

func writerToReader(data []byte) reader {
	return reader{r: bytes.NewReader(data)}
}

func (r *reader) i8f() (int8, error) {
	var v int8
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, wrapEOF(err)
}

func (r *reader) i16f() (int16, error) {
	var v int16
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, wrapEOF(err)
}

func (r *reader) i32f() (int32, error) {
	var v int32
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, wrapEOF(err)
}

func (r *reader) i64f() (int64, error) {
	var v int64
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, wrapEOF(err)
}

func (r *reader) u64f() (uint64, error) {
	var v uint64
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, wrapEOF(err)
}

func (r *reader) i64() (int64, error) { return r.i64f() }

func (r *reader) blobf() ([]byte, error) {
	n, err := r.i32f()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("negative length prefix")
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r.r, b); err != nil {
			return nil, wrapEOF(err)
		}
	}
	return b, nil
}

func (r *reader) cstrf() (string, error) {
	b, err := r.blobf()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) cstrFixedf(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return "", wrapEOF(err)
	}
	return string(bytes.TrimRight(b, "\x00")), nil
}

func (r *reader) epsetf() (EpSet, error) {
	n, err := r.i32f()
	if err != nil {
		return EpSet{}, err
	}
	if n < 0 {
		return EpSet{}, errors.New("negative epset length")
	}
	eps := make([]Endpoint, 0, n)
	for i := int32(0); i < n; i++ {
		fqdn, err := r.cstrf()
		if err != nil {
			return EpSet{}, err
		}
		var port uint16
		if err := binary.Read(r.r, binary.LittleEndian, &port); err != nil {
			return EpSet{}, wrapEOF(err)
		}
		eps = append(eps, Endpoint{Fqdn: fqdn, Port: port})
	}
	inUse, err := r.i32f()
	if err != nil {
		return EpSet{}, err
	}
	return EpSet{Eps: eps, InUse: inUse}, nil
}

func wrapEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
