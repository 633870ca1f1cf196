package pos_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alpacahq/lfjournal/journal/pos"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		strmNum uint32
		strmOff uint64
		length  uint32
		flag    bool
	}{
		"zero offset":          {strmNum: 1, strmOff: 0, length: 0, flag: false},
		"max fields":           {strmNum: pos.StrmNumMask, strmOff: pos.StrmOffMask, length: pos.LenMask, flag: true},
		"segment boundary":     {strmNum: 7, strmOff: pos.SegSize, length: 64, flag: false},
		"inside later segment": {strmNum: 1022, strmOff: 3*pos.SegSize + 17, length: 4096, flag: true},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			// --- when ---
			p := pos.New(tt.strmNum, tt.strmOff, tt.length, tt.flag)

			// --- then ---
			assert.Equal(t, tt.strmNum, p.StrmNum())
			assert.Equal(t, tt.strmOff, p.StrmOff())
			assert.Equal(t, tt.length, p.Len())
			assert.Equal(t, tt.flag, p.Flag())
			assert.Equal(t, uint32(tt.strmOff>>pos.SegSizeShift), p.SegNum())
			assert.Equal(t, uint32(tt.strmOff&pos.SegOffMask), p.SegOff())
		})
	}
}

func TestRoundTripRandom(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		strmNum := uint32(r.Intn(pos.StrmNumMask + 1))
		strmOff := uint64(r.Int63()) & pos.StrmOffMask
		length := uint32(r.Intn(pos.LenMask + 1))
		flag := r.Intn(2) == 1

		p := pos.New(strmNum, strmOff, length, flag)

		if !assert.Equal(t, strmNum, p.StrmNum()) ||
			!assert.Equal(t, strmOff, p.StrmOff()) ||
			!assert.Equal(t, length, p.Len()) ||
			!assert.Equal(t, flag, p.Flag()) {
			return
		}
	}
}

func TestOutOfRangeFieldsAreMasked(t *testing.T) {
	t.Parallel()

	p := pos.New(pos.StrmNumMask+2, pos.StrmOffMask+5, pos.LenMask+3, false)

	assert.Equal(t, uint32(1), p.StrmNum())
	assert.Equal(t, uint64(4), p.StrmOff())
	assert.Equal(t, uint32(2), p.Len())
	assert.False(t, p.Flag())
}

func TestNullAndOrdering(t *testing.T) {
	t.Parallel()

	assert.True(t, pos.Null.IsNull())
	assert.False(t, pos.New(0, 1, 0, false).IsNull())

	a := pos.New(1, 100, 10, false)
	b := pos.New(1, 200, 10, false)
	assert.True(t, a < b)
	assert.True(t, a < a.WithFlag(true))
	assert.Equal(t, a, a.WithFlag(true).WithFlag(false))
}

func TestCalibrated(t *testing.T) {
	t.Parallel()

	p := pos.New(3, pos.SegSize-2, 10, true)
	aux := p.Calibrated(uint64(p.Len()), 4)

	assert.Equal(t, uint32(3), aux.StrmNum())
	assert.Equal(t, p.End(), aux.StrmOff())
	assert.Equal(t, uint32(4), aux.Len())
	assert.True(t, aux.Flag())
	assert.Equal(t, uint32(1), aux.SegNum())
}
