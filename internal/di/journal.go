package di

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/alpacahq/lfjournal/journal"
	"github.com/alpacahq/lfjournal/journal/stream"
	"github.com/alpacahq/lfjournal/utils"
	"github.com/alpacahq/lfjournal/utils/log"
)

// GetJournal opens the journal on first use with the observers of the
// config registered, then creates the configured catalog.
func (c *Container) GetJournal() (*journal.Journal, error) {
	if c.journal != nil {
		return c.journal, nil
	}
	opts := []journal.Option{journal.WithClock(c.GetClock())}
	for _, o := range c.cfg.Observers {
		if !o.Log {
			continue
		}
		var obs journal.Observer = logObserver(o.On)
		if o.Async {
			a := journal.NewAsyncObserver(obs)
			c.asyncObservers = append(c.asyncObservers, a)
			obs = a
		}
		opts = append(opts, journal.WithObserver(obs, o.On))
	}

	dir := c.GetAbsRootDir()
	j, err := journal.Open(dir, c.cfg.Writable, c.cfg.Rollbackable, opts...)
	if err != nil {
		c.closeObservers()
		return nil, errors.Wrapf(err, "open journal at %s", dir)
	}
	c.journal = j

	if j.Writable() {
		if err = c.bootstrap(j); err != nil {
			_ = c.Close()
			return nil, errors.Wrap(err, "create configured catalog")
		}
	}
	return j, nil
}

// GetTxStream returns the transaction stream of writer name.
func (c *Container) GetTxStream(name string) (uint32, error) {
	if n, ok := c.txStrms[name]; ok {
		return n, nil
	}
	j, err := c.GetJournal()
	if err != nil {
		return 0, err
	}
	n, err := j.TxStream(name)
	if err != nil {
		return 0, err
	}
	c.txStrms[name] = n
	return n, nil
}

func (c *Container) bootstrap(j *journal.Journal) error {
	for _, name := range c.cfg.TxStreams {
		if _, err := c.GetTxStream(name); err != nil {
			return errors.Wrapf(err, "tx stream %s", name)
		}
	}
	for _, s := range c.cfg.Streams {
		if _, err := j.StreamByName(s.Name); err == nil {
			continue
		}
		if _, err := j.CreateStream(s.Name, stream.Data); err != nil {
			return errors.Wrapf(err, "stream %s", s.Name)
		}
	}
	for _, vs := range c.cfg.Vectors {
		spec, err := VectorSpec(vs)
		if err != nil {
			return err
		}
		if _, err = j.VectorByName(spec.Name); err == nil {
			continue
		}
		if _, err = j.CreateVector(spec); err != nil {
			return errors.Wrapf(err, "vector %s", spec.Name)
		}
	}
	return nil
}

// VectorSpec converts a configured vector. The type defaults to ORDER_VEC
// and the direction to NEUTRAL.
func VectorSpec(vs *utils.VectorSetting) (journal.VectorSpec, error) {
	spec := journal.VectorSpec{
		Name:        vs.Name,
		Type:        journal.OrderVec,
		CompID:      vs.CompID,
		SessionID:   vs.SessionID,
		Direction:   journal.Neutral,
		InstanceID:  vs.InstanceID,
		ItemIdxBase: vs.ItemIdxBase,
		EncodeName:  vs.EncodeName,
	}
	if vs.Type != "" {
		if spec.Type = journal.ParseVecType(vs.Type); spec.Type == journal.UnknownVec {
			return spec, fmt.Errorf("unknown vector type %q", vs.Type)
		}
	}
	if vs.Direction != "" {
		if spec.Direction = journal.ParseDirection(vs.Direction); spec.Direction == journal.UnknownDirection {
			return spec, fmt.Errorf("unknown vector direction %q", vs.Direction)
		}
	}
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("%s_%s_%d", spec.CompID, spec.Direction, spec.InstanceID)
	}
	return spec, nil
}

func logObserver(pattern string) journal.ObserverFunc {
	return func(ev journal.Event) {
		switch ev.Kind {
		case journal.StreamUpdated:
			log.Info("[%s] %s %s len=%d", pattern, ev.Kind, ev.Name, ev.Len)
		default:
			log.Info("[%s] %s %s vec=%d idx=%d pos=%s", pattern, ev.Kind, ev.Name, ev.VecNum, ev.Idx, ev.Pos)
		}
	}
}

func (c *Container) closeObservers() {
	for _, a := range c.asyncObservers {
		a.Close()
	}
	c.asyncObservers = nil
}

// Close closes the journal and drains the async observers.
func (c *Container) Close() error {
	var err error
	if c.journal != nil {
		err = c.journal.Close()
		c.journal = nil
	}
	c.closeObservers()
	c.txStrms = map[string]uint32{}
	return err
}
