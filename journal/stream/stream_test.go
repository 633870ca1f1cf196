package stream_test

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/journal/stream"
)

func setup(t *testing.T, typ stream.Type) (*stream.Stream, stream.Options) {
	t.Helper()
	opts := stream.Options{
		Num:          1,
		Name:         "TEST_STRM",
		Type:         typ,
		Path:         filepath.Join(t.TempDir(), "TEST_STRM"),
		Writable:     true,
		Rollbackable: true,
		Create:       true,
		Counters:     &stream.Counters{},
	}
	s, err := stream.Open(opts)
	require.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, opts
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func readAll(t *testing.T, s *stream.Stream, begin, end uint64) []byte {
	t.Helper()
	views, err := s.ReadRange(begin, end)
	require.Nil(t, err)
	return bytes.Join(views, nil)
}

func TestCommitAdvancesCommittedLen(t *testing.T) {
	t.Parallel()
	s, _ := setup(t, stream.Data)

	sizes := []int{1, 7, 4096, 100, pos.SegSize / 2, pos.SegSize / 2, 33}
	var expected uint64
	for i, n := range sizes {
		before := s.CommittedLen()
		buf, off, err := s.StageWrite(n)
		require.Nil(t, err)
		assert.Equal(t, before, off)
		fill(buf, byte(i+1))

		p, err := s.Commit(n)
		require.Nil(t, err)

		expected += uint64(n)
		assert.Equal(t, before+uint64(n), s.CommittedLen())
		assert.Equal(t, expected, s.CommittedLen())
		assert.True(t, s.CommittedLen() <= s.ValidLen())
		assert.True(t, s.ValidLen() <= s.AllocLen())
		assert.Equal(t, before, p.StrmOff())
		assert.Equal(t, uint32(1), p.StrmNum())
		assert.Equal(t, bytes.Repeat([]byte{byte(i + 1)}, n), readAll(t, s, before, before+uint64(n)))
	}
}

func TestStageWriteAcrossOneBoundaryUsesHeap(t *testing.T) {
	t.Parallel()
	s, _ := setup(t, stream.Data)

	// --- given ---
	_, err := s.Append(make([]byte, pos.SegSize-10))
	require.Nil(t, err)

	// --- when ---
	buf, off, err := s.StageWrite(30)
	require.Nil(t, err)
	fill(buf, 0xab)
	assert.True(t, s.IsHeapStaged())
	p, err := s.Commit(30)
	require.Nil(t, err)

	// --- then ---
	assert.Equal(t, uint64(pos.SegSize-10), off)
	views, err := s.ReadRange(p.StrmOff(), p.End())
	require.Nil(t, err)
	require.Len(t, views, 2)
	assert.Len(t, views[0], 10)
	assert.Len(t, views[1], 20)
	assert.Equal(t, bytes.Repeat([]byte{0xab}, 30), bytes.Join(views, nil))

	// the next write fits in segment 1 again and goes back to a view
	_, _, err = s.StageWrite(8)
	require.Nil(t, err)
	assert.False(t, s.IsHeapStaged())
}

func TestStageWriteRejectsMoreThanOneTransition(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		prefix int
		size   int
		ok     bool
	}{
		"whole segment":             {prefix: 0, size: pos.SegSize, ok: true},
		"one transition":            {prefix: 100, size: pos.SegSize, ok: true},
		"two transitions":           {prefix: 100, size: 2 * pos.SegSize, ok: false},
		"two transitions from zero": {prefix: 0, size: 2*pos.SegSize + 1, ok: false},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			// --- given ---
			s, _ := setup(t, stream.Data)
			if tt.prefix > 0 {
				_, err := s.Append(make([]byte, tt.prefix))
				require.Nil(t, err)
			}
			allocBefore := s.AllocLen()

			// --- when ---
			_, _, err := s.StageWrite(tt.size)

			// --- then ---
			if tt.ok {
				assert.Nil(t, err)
				return
			}
			var iv stream.InvariantViolation
			assert.True(t, errors.As(err, &iv))
			assert.Equal(t, allocBefore, s.AllocLen())
		})
	}
}

func TestStagedBytesSurviveReallocation(t *testing.T) {
	t.Parallel()
	s, _ := setup(t, stream.Tx)

	// --- given --- a staged header in segment 0 close to its end
	_, err := s.Append(make([]byte, pos.SegSize-16))
	require.Nil(t, err)
	hdr, _, err := s.StageWrite(8)
	require.Nil(t, err)
	fill(hdr, 0x11)

	// --- when --- a second reservation crosses into segment 1
	body, off, err := s.StageWrite(24)
	require.Nil(t, err)
	fill(body, 0x22)

	// --- then ---
	assert.Equal(t, uint64(pos.SegSize-8), off)
	staged := s.Staged()
	require.Len(t, staged, 32)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 8), staged[:8])
	assert.Equal(t, bytes.Repeat([]byte{0x22}, 24), staged[8:])

	_, err = s.Commit(32)
	require.Nil(t, err)
	got := readAll(t, s, pos.SegSize-16, pos.SegSize+16)
	assert.Equal(t, append(bytes.Repeat([]byte{0x11}, 8), bytes.Repeat([]byte{0x22}, 24)...), got)
}

func TestCommitMoreThanStagedIsInvariantViolation(t *testing.T) {
	t.Parallel()
	s, _ := setup(t, stream.Data)

	_, _, err := s.StageWrite(10)
	require.Nil(t, err)
	_, err = s.Commit(11)

	var iv stream.InvariantViolation
	require.True(t, errors.As(err, &iv))
	assert.Equal(t, "TEST_STRM: commit of 11 bytes with 10 staged: invariant violation", err.Error())
	assert.Equal(t, err.Error(), fmt.Sprint(err))
	assert.Equal(t, uint64(0), s.CommittedLen())
}

func TestReadRange(t *testing.T) {
	t.Parallel()
	s, _ := setup(t, stream.Data)
	_, err := s.Append([]byte("hello journal"))
	require.Nil(t, err)

	_, err = s.ReadRange(5, 4)
	var iv stream.InvariantViolation
	assert.True(t, errors.As(err, &iv))

	_, err = s.ReadRange(0, 14)
	var oor stream.OutOfRangeError
	assert.True(t, errors.As(err, &oor))

	assert.Equal(t, []byte("journal"), readAll(t, s, 6, 13))
}

func TestRecoverRollsBackInflightTx(t *testing.T) {
	t.Parallel()
	s, opts := setup(t, stream.Tx)

	// --- given --- a committed prefix and an in-flight transaction
	_, err := s.Append(bytes.Repeat([]byte{0x01}, 64))
	require.Nil(t, err)
	buf, _, err := s.StageWrite(200)
	require.Nil(t, err)
	fill(buf, 0xee)
	require.Nil(t, s.Prepare())
	oldCommitted, oldValid := s.CommittedLen(), s.ValidLen()
	require.Equal(t, uint64(64), oldCommitted)
	require.Equal(t, uint64(264), oldValid)

	// the writer dies before committing
	require.Nil(t, s.Close())

	// --- when ---
	opts.Create = false
	r, err := stream.Open(opts)
	require.Nil(t, err)
	defer r.Close()

	var seen []byte
	var seenOff uint64
	err = r.Recover(func(inflight []byte, off uint64) error {
		seen, seenOff = inflight, off
		return nil
	})
	require.Nil(t, err)

	// --- then ---
	assert.Equal(t, oldCommitted, seenOff)
	assert.Equal(t, bytes.Repeat([]byte{0xee}, 200), seen)
	assert.Equal(t, r.CommittedLen(), r.ValidLen())
	assert.Equal(t, r.CommittedLen(), r.AllocLen())
	assert.Equal(t, oldCommitted, r.CommittedLen())
	zeros, err := r.CopyRange(oldCommitted, oldValid)
	require.Nil(t, err)
	assert.Equal(t, make([]byte, oldValid-oldCommitted), zeros)
	assert.Equal(t, bytes.Repeat([]byte{0x01}, 64), readAll(t, r, 0, 64))
}

func TestRecoverDataStreamTrustsCommitted(t *testing.T) {
	t.Parallel()
	s, opts := setup(t, stream.Data)

	_, err := s.Append([]byte("kept"))
	require.Nil(t, err)
	buf, _, err := s.StageWrite(16)
	require.Nil(t, err)
	fill(buf, 0x7f)
	require.Nil(t, s.Prepare())
	require.Nil(t, s.Close())

	opts.Create = false
	r, err := stream.Open(opts)
	require.Nil(t, err)
	defer r.Close()

	called := false
	require.Nil(t, r.Recover(func([]byte, uint64) error { called = true; return nil }))

	assert.False(t, called)
	assert.Equal(t, uint64(4), r.CommittedLen())
	assert.Equal(t, uint64(4), r.ValidLen())
	assert.Equal(t, uint64(4), r.AllocLen())
}

func TestRecoverDetectsValidBehindCommitted(t *testing.T) {
	t.Parallel()
	s, opts := setup(t, stream.Tx)
	require.Nil(t, s.Close())

	opts.Create = false
	opts.Counters.CommittedLen = 10
	r, err := stream.Open(opts)
	require.Nil(t, err)
	defer r.Close()

	var iv stream.InvariantViolation
	assert.True(t, errors.As(r.Recover(nil), &iv))
}

func TestSecondWriterGetsLockConflict(t *testing.T) {
	t.Parallel()
	_, opts := setup(t, stream.Data)

	opts.Create = false
	_, err := stream.Open(opts)

	var lc stream.LockConflictError
	assert.True(t, errors.As(err, &lc))
}

func TestReadOnlyOpen(t *testing.T) {
	t.Parallel()

	_, err := stream.Open(stream.Options{Path: filepath.Join(t.TempDir(), "missing")})
	var nf stream.NotFoundError
	assert.True(t, errors.As(err, &nf))

	w, opts := setup(t, stream.Data)
	_, err = w.Append([]byte("shared"))
	require.Nil(t, err)

	r, err := stream.Open(stream.Options{Num: 1, Name: opts.Name, Type: stream.Data, Path: opts.Path, Counters: opts.Counters})
	require.Nil(t, err)
	defer r.Close()

	assert.Equal(t, []byte("shared"), readAll(t, r, 0, 6))
	_, _, err = r.StageWrite(1)
	var iv stream.InvariantViolation
	assert.True(t, errors.As(err, &iv))
}

func TestRollbackToZeroesTail(t *testing.T) {
	t.Parallel()
	s, _ := setup(t, stream.TxData)

	_, err := s.Append(bytes.Repeat([]byte{0x05}, 32))
	require.Nil(t, err)
	_, err = s.Append(bytes.Repeat([]byte{0x06}, 32))
	require.Nil(t, err)

	require.Nil(t, s.RollbackTo(32))

	assert.Equal(t, uint64(32), s.CommittedLen())
	tail, err := s.CopyRange(32, 64)
	require.Nil(t, err)
	assert.Equal(t, make([]byte, 32), tail)

	var iv stream.InvariantViolation
	assert.True(t, errors.As(s.RollbackTo(40), &iv))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := setup(t, stream.Data)

	assert.Nil(t, s.Close())
	assert.Nil(t, s.Close())
	assert.Equal(t, 0, s.NumMapped())
}
