package inspect_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/lfjournal/cmd/inspect"
	"github.com/alpacahq/lfjournal/journal"
	"github.com/alpacahq/lfjournal/journal/stream"
)

func TestReport(t *testing.T) {
	t.Parallel()

	// --- given ---
	dir := t.TempDir()
	j, err := journal.Open(dir, true, true)
	require.NoError(t, err)
	_, err = j.CreateStream("md_feed", stream.Data)
	require.NoError(t, err)
	vn, err := j.CreateVector(journal.VectorSpec{
		Type: journal.OrderVec, CompID: "XCME", SessionID: "S1", Direction: journal.Incoming, InstanceID: 1,
	})
	require.NoError(t, err)
	txStrm, err := j.TxStream("writer")
	require.NoError(t, err)
	_, _, err = j.ExecuteMsg(txStrm, vn, []byte("order-1"), 10)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	ro, err := journal.Open(dir, false, false)
	require.NoError(t, err)
	defer ro.Close()

	// --- when ---
	var buf bytes.Buffer
	require.NoError(t, inspect.Report(&buf, ro))

	// --- then ---
	out := buf.String()
	assert.Contains(t, out, ro.Header().JournalID.String())
	assert.Contains(t, out, "md_feed")
	assert.Contains(t, out, "TX_STRM_writer")
	assert.Contains(t, out, "XCME_INCOMING_1")
	assert.Contains(t, out, "ORDER_VEC")
}
