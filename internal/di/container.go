package di

import (
	"os"
	"path/filepath"

	"github.com/alpacahq/lfjournal/journal"
	"github.com/alpacahq/lfjournal/utils"
	"github.com/alpacahq/lfjournal/utils/log"
)

type Container struct {
	cfg            *utils.JournalConfig
	absRootDir     string
	clock          utils.Clock
	journal        *journal.Journal
	asyncObservers []*journal.AsyncObserver
	txStrms        map[string]uint32
}

func NewContainer(cfg *utils.JournalConfig) *Container {
	return &Container{cfg: cfg, txStrms: map[string]uint32{}}
}

// WithClock replaces the system clock handed to the journal. It must be
// called before GetJournal.
func (c *Container) WithClock(clk utils.Clock) *Container {
	c.clock = clk
	return c
}

func (c *Container) GetAbsRootDir() string {
	if c.absRootDir != "" {
		return c.absRootDir
	}
	relRootDir := c.cfg.RootDirectory

	// rootDir is the absolute path to the journal directory.
	// e.g. rootDir = "/var/lib/lfj/journal"
	rootDir, err := filepath.Abs(filepath.Clean(relRootDir))
	if err != nil {
		log.Error("Cannot take absolute path of root directory %s", err.Error())
	} else {
		log.Info("Root Directory: %s", rootDir)
		if c.cfg.Writable {
			const ownerGroupAll = 0o770
			err = os.MkdirAll(rootDir, ownerGroupAll)
			if err != nil && !os.IsExist(err) {
				log.Error("Could not create root directory: %s", err.Error())
				panic(err)
			}
		}
	}
	c.absRootDir = rootDir
	return c.absRootDir
}

func (c *Container) GetClock() utils.Clock {
	if c.clock == nil {
		c.clock = utils.SystemClock{}
	}
	return c.clock
}
