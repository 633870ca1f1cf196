package dump_test

import (
	"bytes"
	"encoding/hex"
	"io"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/lfjournal/cmd/tool/dump"
	"github.com/alpacahq/lfjournal/journal"
)

func setup(t *testing.T) (*journal.Journal, *journal.Vector) {
	t.Helper()
	j, err := journal.Open(t.TempDir(), true, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	vn, err := j.CreateVector(journal.VectorSpec{Name: "orders", Type: journal.OrderVec, ItemIdxBase: 7})
	require.NoError(t, err)
	txStrm, err := j.TxStream("writer")
	require.NoError(t, err)
	_, _, err = j.ExecuteMsgs(txStrm, []journal.Msg{
		{VecNum: vn, Data: []byte("first"), Timestamp: 100},
		{VecNum: vn, Data: []byte("second"), Tags: []byte("tag"), Timestamp: 200},
	})
	require.NoError(t, err)
	v, err := j.Vector(vn)
	require.NoError(t, err)
	return j, v
}

func TestRecords(t *testing.T) {
	t.Parallel()

	// --- given ---
	j, v := setup(t)

	// --- when ---
	records, err := dump.Records(j, v, v.ItemIdxBase(), v.ItemIdxBase()+v.Len())

	// --- then ---
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(7), records[0].Idx)
	assert.Equal(t, int64(100), records[0].Timestamp)
	assert.Equal(t, []byte("first"), records[0].Data)
	assert.Equal(t, hex.EncodeToString([]byte("first")), records[0].DataHex)
	assert.Equal(t, uint64(8), records[1].Idx)
	assert.Equal(t, []byte("second"), records[1].Data)
	assert.Equal(t, journal.AuxTagsReady.String(), records[1].AuxTags)
}

func TestWrite(t *testing.T) {
	t.Parallel()

	j, v := setup(t)
	records, err := dump.Records(j, v, v.ItemIdxBase(), v.ItemIdxBase()+v.Len())
	require.NoError(t, err)

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, dump.Write(&buf, records, dump.FormatCSV, false))

		var got []*dump.Record
		require.NoError(t, gocsv.Unmarshal(&buf, &got))
		require.Len(t, got, 2)
		assert.Equal(t, records[1].DataHex, got[1].DataHex)
		assert.Equal(t, records[1].Timestamp, got[1].Timestamp)
	})

	t.Run("compressed msgpack", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, dump.Write(&buf, records, dump.FormatMsgpack, true))

		dec := msgpack.NewDecoder(snappy.NewReader(&buf))
		var got []dump.Record
		for {
			var r dump.Record
			err := dec.Decode(&r)
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, r)
		}
		require.Len(t, got, 2)
		assert.Equal(t, []byte("first"), got[0].Data)
		assert.Equal(t, uint64(8), got[1].Idx)
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Error(t, dump.Write(io.Discard, records, "xml", false))
	})
}
