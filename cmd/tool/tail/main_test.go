package tail_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/lfjournal/cmd/tool/tail"
	"github.com/alpacahq/lfjournal/journal"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFollowPrintsCommittedItems(t *testing.T) {
	t.Parallel()

	// --- given ---
	dir := t.TempDir()
	w, err := journal.Open(dir, true, true)
	require.NoError(t, err)
	defer w.Close()
	vn, err := w.CreateVector(journal.VectorSpec{Name: "orders", Type: journal.OrderVec})
	require.NoError(t, err)
	txStrm, err := w.TxStream("writer")
	require.NoError(t, err)
	_, _, err = w.ExecuteMsg(txStrm, vn, []byte("old"), 1)
	require.NoError(t, err)

	r, err := journal.Open(dir, false, false)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- tail.Follow(ctx, out, r, vn, time.Millisecond, true) }()

	// --- when ---
	_, _, err = w.ExecuteMsg(txStrm, vn, []byte("new"), 2)
	require.NoError(t, err)

	// --- then ---
	require.Eventually(t, func() bool { return strings.Count(out.String(), "\n") == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "0\t"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1\t"), lines[1])
}
