package metrics_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/lfjournal/metrics"
)

type mockMetricsSetter struct {
	mu    sync.Mutex
	value float64
}

func (m *mockMetricsSetter) Set(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = v
}

func (m *mockMetricsSetter) Get() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

type testCase struct {
	setFilesFunc func(t *testing.T, rootDir string)
	expMetric    float64
}

func TestStartDiskUsageMonitor(t *testing.T) {
	t.Parallel()
	tests := map[string]testCase{
		"ok/ a sparse segment-sized file only counts the blocks actually written": {
			setFilesFunc: func(t *testing.T, rootDir string) {
				t.Helper()
				fp, err := os.OpenFile(filepath.Join(rootDir, "LFJ_STRM_0"), os.O_CREATE|os.O_RDWR, 0o600)
				require.Nil(t, err)
				defer fp.Close()

				// truncate => allocate the filesize, writeBuffer => write actual data
				require.Nil(t, fp.Truncate(1<<22))
				require.Nil(t, writeBuffer(fp, 300))
			},
			expMetric: 4096, // it depends on the block size of the disk that this test runs
		},
		"ok/ an empty directory uses nothing": {
			setFilesFunc: func(t *testing.T, rootDir string) { t.Helper() },
			expMetric:    0,
		},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			// --- given ---
			rootDir := t.TempDir()
			tt.setFilesFunc(t, rootDir)
			m := &mockMetricsSetter{}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// --- when ---
			go metrics.StartDiskUsageMonitor(ctx, m, rootDir, 10*time.Millisecond)
			time.Sleep(100 * time.Millisecond)

			// --- then ---
			assert.Equal(t, tt.expMetric, m.Get())
		})
	}
}

func writeBuffer(fp *os.File, size int) error {
	// fill bytes
	b := make([]byte, size)
	for i := 0; i < size; i++ {
		b[i] = 1
	}

	if _, err := fp.WriteAt(b, 0); err != nil {
		return err
	}

	return nil
}
