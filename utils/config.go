package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/alpacahq/lfjournal/utils/log"
)

// StreamSetting is a DATA_STREAM to create at start.
type StreamSetting struct {
	Name string
}

// VectorSetting is a vector to create at start.
type VectorSetting struct {
	Name        string
	Type        string
	CompID      string
	SessionID   string
	Direction   string
	InstanceID  uint64
	ItemIdxBase uint64
	EncodeName  string
}

// ObserverSetting attaches a logging observer to the events whose vector
// or stream name matches On.
type ObserverSetting struct {
	On    string
	Log   bool
	Async bool
}

type JournalConfig struct {
	RootDirectory     string
	Writable          bool
	Rollbackable      bool
	ListenURL         string
	SyncInterval      time.Duration
	DiskUsageInterval time.Duration
	StopGracePeriod   time.Duration
	StartTime         time.Time
	TxStreams         []string
	Streams           []*StreamSetting
	Vectors           []*VectorSetting
	Observers         []*ObserverSetting
}

const (
	defaultSyncInterval      = time.Second
	defaultDiskUsageInterval = 10 * time.Minute
)

func ParseConfig(data []byte) (*JournalConfig, error) {
	var (
		m   = &JournalConfig{StartTime: time.Now()}
		aux struct {
			RootDirectory     string   `yaml:"root_directory"`
			Writable          string   `yaml:"writable"`
			Rollbackable      string   `yaml:"rollbackable"`
			LogLevel          string   `yaml:"log_level"`
			ListenURL         string   `yaml:"listen_url"`
			SyncInterval      *int     `yaml:"sync_interval"`
			DiskUsageInterval int      `yaml:"disk_usage_interval"`
			StopGracePeriod   int      `yaml:"stop_grace_period"`
			TxStreams         []string `yaml:"tx_streams"`
			Streams           []struct {
				Name string `yaml:"name"`
			} `yaml:"streams"`
			Vectors []struct {
				Name        string `yaml:"name"`
				Type        string `yaml:"type"`
				CompID      string `yaml:"comp_id"`
				SessionID   string `yaml:"session_id"`
				Direction   string `yaml:"direction"`
				InstanceID  uint64 `yaml:"instance_id"`
				ItemIdxBase uint64 `yaml:"item_idx_base"`
				EncodeName  string `yaml:"encode_name"`
			} `yaml:"vectors"`
			Observers []struct {
				On    string `yaml:"on"`
				Log   bool   `yaml:"log"`
				Async bool   `yaml:"async"`
			} `yaml:"observers"`
		}
	)

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, err
	}

	if aux.RootDirectory == "" {
		log.Error("Invalid root directory.")
		return nil, errors.New("invalid root directory")
	}
	m.RootDirectory = aux.RootDirectory

	var err error
	if m.Writable, err = parseBool("writable", aux.Writable, true); err != nil {
		return nil, err
	}
	if m.Rollbackable, err = parseBool("rollbackable", aux.Rollbackable, true); err != nil {
		return nil, err
	}

	if aux.LogLevel != "" {
		log.SetLevel(log.ParseLevel(strings.ToLower(aux.LogLevel)))
	}

	m.ListenURL = aux.ListenURL

	m.SyncInterval = defaultSyncInterval
	if aux.SyncInterval != nil {
		m.SyncInterval = time.Duration(*aux.SyncInterval) * time.Second
	}
	m.DiskUsageInterval = defaultDiskUsageInterval
	if aux.DiskUsageInterval > 0 {
		m.DiskUsageInterval = time.Duration(aux.DiskUsageInterval) * time.Second
	}
	if aux.StopGracePeriod > 0 {
		m.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	}

	m.TxStreams = aux.TxStreams
	for _, s := range aux.Streams {
		if s.Name == "" {
			return nil, errors.New("stream without a name")
		}
		m.Streams = append(m.Streams, &StreamSetting{Name: s.Name})
	}
	for _, v := range aux.Vectors {
		if v.CompID == "" && v.Name == "" {
			return nil, errors.New("vector needs a name or a comp_id")
		}
		m.Vectors = append(m.Vectors, &VectorSetting{
			Name:        v.Name,
			Type:        v.Type,
			CompID:      v.CompID,
			SessionID:   v.SessionID,
			Direction:   v.Direction,
			InstanceID:  v.InstanceID,
			ItemIdxBase: v.ItemIdxBase,
			EncodeName:  v.EncodeName,
		})
	}
	for _, o := range aux.Observers {
		m.Observers = append(m.Observers, &ObserverSetting{On: o.On, Log: o.Log, Async: o.Async})
	}

	return m, nil
}

func parseBool(key, val string, def bool) (bool, error) {
	if val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def, fmt.Errorf("invalid value %q for %s: %w", val, key, err)
	}
	return b, nil
}
