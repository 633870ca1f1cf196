package utils_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/lfjournal/utils"
)

func TestProcess(t *testing.T) {
	t.Parallel()

	// --- given ---
	var runs int32
	job := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&runs, 1)
		if n == 2 {
			return nil, errors.New("boom")
		}
		return n, nil
	}

	// --- when ---
	pr := utils.NewProcess(nil, "test", time.Millisecond, job)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, time.Millisecond)
	pr.Kill()

	// --- then ---
	assert.False(t, pr.Running())
	assert.False(t, utils.IsRunning(pr.PID))
	assert.Nil(t, utils.GetProcFromPID(pr.PID))

	ts, msgs := pr.GetOutput()
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Len(t, ts, len(msgs))
	assert.Equal(t, int32(1), msgs[0])
	assert.EqualError(t, msgs[1].(error), "boom")
	assert.Equal(t, int32(3), msgs[2])
}

func TestProcessStopsWithParent(t *testing.T) {
	t.Parallel()

	// --- given ---
	ctx, cancel := context.WithCancel(context.Background())
	pr := utils.NewProcess(ctx, "child", time.Hour, func(context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.True(t, pr.Running())

	// --- when ---
	cancel()

	// --- then ---
	select {
	case <-pr.Done():
	case <-time.After(time.Second):
		t.Fatal("process did not stop with its parent context")
	}
	assert.False(t, pr.Running())
}

func TestMessageQueueWrapsAround(t *testing.T) {
	t.Parallel()

	// --- given ---
	mq := utils.NewMessageQueue(3)

	// --- when ---
	for i := 0; i < 5; i++ {
		mq.AddMessage(i)
	}

	// --- then ---
	ts, msgs := mq.GetMessages()
	assert.Len(t, ts, 3)
	assert.Equal(t, []interface{}{2, 3, 4}, msgs)
}
