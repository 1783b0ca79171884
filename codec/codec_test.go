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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRecord() *TaskRecord {
	return &TaskRecord{
		Ver:         CurrentVer,
		StreamID:    0x1234,
		TaskID:      7,
		TotalLevel:  3,
		Level:       0,
		OutputType:  OutputTable,
		MsgType:     5,
		TaskStatus:  1,
		SchedStatus: 0,
		SelfChildID: 2,
		NodeID:      9,
		Epset: EpSet{
			Eps:   []Endpoint{{Fqdn: "a.local", Port: 6030}, {Fqdn: "b.local", Port: 6030}},
			InUse: 1,
		},
		MnodeEpset:         EpSet{Eps: []Endpoint{{Fqdn: "mnode", Port: 6030}}, InUse: 0},
		CheckpointID:       11,
		CheckpointVer:      22,
		FillHistory:        0,
		DataRangeMinVer:    100,
		DataRangeMaxVer:    200,
		TableStbUID:        555,
		TableStbFullName:   "db.stb",
		TableSchemaWrapper: []byte{1, 2, 3},
		TriggerParam:       99,
		SubtableWithoutMD5: 1,
		Reserve:            "reserve-value",
	}
}

func TestEncodeDecodeRoundTripTable(t *testing.T) {
	rec := baseRecord()
	buf, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, rec.StreamID, got.StreamID)
	assert.Equal(t, rec.TaskID, got.TaskID)
	assert.Equal(t, rec.Epset, got.Epset)
	assert.Equal(t, rec.TableStbFullName, got.TableStbFullName)
	assert.Equal(t, rec.TableSchemaWrapper, got.TableSchemaWrapper)
	assert.Equal(t, rec.Reserve, got.Reserve)
	assert.Equal(t, rec.SubtableWithoutMD5, got.SubtableWithoutMD5)
}

func TestEncodeDecodeRoundTripShuffleDispatchVariousVgroupCounts(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		rec := baseRecord()
		rec.OutputType = OutputShuffleDispatch
		rec.ShuffleStbFullName = "db.stb"
		rec.ShuffleVgroups = nil
		for i := 0; i < n; i++ {
			rec.ShuffleVgroups = append(rec.ShuffleVgroups, VgroupEntry{
				VgID:   int32(i),
				TaskID: int32(i + 1000),
				NodeID: int32(i % 3),
				Epset:  EpSet{Eps: []Endpoint{{Fqdn: "h", Port: 6030}}, InUse: 0},
			})
		}

		buf, err := Encode(rec)
		require.NoError(t, err)
		got, err := Decode(buf)
		require.NoError(t, err)

		require.Len(t, got.ShuffleVgroups, n)
		assert.Equal(t, rec.ShuffleVgroups, got.ShuffleVgroups)
		assert.Equal(t, "db.stb", got.ShuffleStbFullName)
	}
}

func TestEncodeDecodeFixedDispatch(t *testing.T) {
	rec := baseRecord()
	rec.OutputType = OutputFixedDispatch
	rec.FixedTaskID = 77
	rec.FixedNodeID = 3
	rec.FixedEpset = EpSet{Eps: []Endpoint{{Fqdn: "fixed", Port: 1}}, InUse: 0}

	buf, err := Encode(rec)
	require.NoError(t, err)
	got, err := Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, rec.FixedTaskID, got.FixedTaskID)
	assert.Equal(t, rec.FixedEpset, got.FixedEpset)
}

func TestQmsgOmittedForSinkLevel(t *testing.T) {
	rec := baseRecord()
	rec.Level = int8(sinkLevel)
	rec.Qmsg = "should not be written"

	buf, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Empty(t, got.Qmsg)
}

func TestSubtableWithoutMD5OmittedBelowVersionGate(t *testing.T) {
	rec := baseRecord()
	rec.Ver = SubtableChangedVer - 1
	rec.SubtableWithoutMD5 = 1

	buf, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, int8(0), got.SubtableWithoutMD5, "field gated below SubtableChangedVer must decode as zero value")
}

func TestDecodeRejectsIncompatibleVersion(t *testing.T) {
	rec := baseRecord()
	rec.Ver = IncompatibleVer
	buf, err := Encode(rec)
	require.NoError(t, err)

	_, err = Decode(buf)
	var verErr *InvalidVersionError
	require.ErrorAs(t, err, &verErr)
}

func TestDecodeRejectsVersionAboveCurrent(t *testing.T) {
	rec := baseRecord()
	rec.Ver = CurrentVer + 1
	buf, err := Encode(rec)
	require.NoError(t, err)

	_, err = Decode(buf)
	var verErr *InvalidVersionError
	require.ErrorAs(t, err, &verErr)
}

func TestDecodeTruncatedDataReturnsDecodeError(t *testing.T) {
	rec := baseRecord()
	buf, err := Encode(rec)
	require.NoError(t, err)

	_, err = Decode(buf[:10])
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeCheckpointInfoMatchesFullDecode(t *testing.T) {
	rec := baseRecord()
	buf, err := Encode(rec)
	require.NoError(t, err)

	full, err := Decode(buf)
	require.NoError(t, err)

	partial, err := DecodeCheckpointInfo(buf)
	require.NoError(t, err)

	assert.Equal(t, full.Ver, partial.MsgVer)
	assert.Equal(t, full.CheckpointID, partial.CheckpointID)
	assert.Equal(t, full.CheckpointVer, partial.CheckpointVer)
}

func TestDecodeCheckpointInfoIgnoresVersionGate(t *testing.T) {
	rec := baseRecord()
	rec.Ver = IncompatibleVer
	buf, err := Encode(rec)
	require.NoError(t, err)

	_, err = DecodeCheckpointInfo(buf)
	assert.NoError(t, err, "the checkpoint-only view must not enforce the full-record version gate")
}

func TestReserveFieldTruncatesAndPads(t *testing.T) {
	rec := baseRecord()
	rec.Reserve = "short"
	buf, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "short", got.Reserve)
}
