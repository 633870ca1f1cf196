package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/lfjournal/utils"
	"github.com/alpacahq/lfjournal/utils/log"
)

const sampleConfig = `
root_directory: /var/lib/lfj
rollbackable: false
log_level: warn
listen_url: localhost:5995
sync_interval: 0
stop_grace_period: 5
tx_streams:
  - gateway
streams:
  - name: md_feed
vectors:
  - type: ORDER_VEC
    comp_id: XCME
    session_id: S1
    direction: INCOMING
    instance_id: 1
    item_idx_base: 100
observers:
  - on: "XCME_*"
    log: true
    async: true
`

func TestParseConfig(t *testing.T) {
	// --- given ---
	prev := log.GetLevel()
	defer log.SetLevel(prev)

	// --- when ---
	cfg, err := utils.ParseConfig([]byte(sampleConfig))

	// --- then ---
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/lfj", cfg.RootDirectory)
	assert.True(t, cfg.Writable)
	assert.False(t, cfg.Rollbackable)
	assert.Equal(t, log.WARNING, log.GetLevel())
	assert.Equal(t, "localhost:5995", cfg.ListenURL)
	assert.Equal(t, time.Duration(0), cfg.SyncInterval)
	assert.Equal(t, 10*time.Minute, cfg.DiskUsageInterval)
	assert.Equal(t, 5*time.Second, cfg.StopGracePeriod)
	assert.Equal(t, []string{"gateway"}, cfg.TxStreams)
	require.Len(t, cfg.Streams, 1)
	assert.Equal(t, "md_feed", cfg.Streams[0].Name)
	require.Len(t, cfg.Vectors, 1)
	assert.Equal(t, &utils.VectorSetting{
		Type:        "ORDER_VEC",
		CompID:      "XCME",
		SessionID:   "S1",
		Direction:   "INCOMING",
		InstanceID:  1,
		ItemIdxBase: 100,
	}, cfg.Vectors[0])
	require.Len(t, cfg.Observers, 1)
	assert.Equal(t, &utils.ObserverSetting{On: "XCME_*", Log: true, Async: true}, cfg.Observers[0])
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := utils.ParseConfig([]byte("root_directory: /tmp/j\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Writable)
	assert.True(t, cfg.Rollbackable)
	assert.Equal(t, time.Second, cfg.SyncInterval)
	assert.Zero(t, cfg.StopGracePeriod)
	assert.Empty(t, cfg.Vectors)
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string]string{
		"missing root":     "writable: true\n",
		"bad bool":         "root_directory: /tmp/j\nwritable: maybe\n",
		"unnamed stream":   "root_directory: /tmp/j\nstreams:\n  - name: \"\"\n",
		"anonymous vector": "root_directory: /tmp/j\nvectors:\n  - type: ORDER_VEC\n",
		"not yaml":         "root_directory: [",
	}
	for name, data := range tests {
		data := data
		t.Run(name, func(t *testing.T) {
			_, err := utils.ParseConfig([]byte(data))
			assert.Error(t, err)
		})
	}
}
