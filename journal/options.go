package journal

import "github.com/alpacahq/lfjournal/utils"

// Option customizes a Journal at Open.
type Option func(*Journal) error

// WithClock sets the timestamp source used for transaction headers and for
// messages stored without an explicit timestamp.
func WithClock(c utils.Clock) Option {
	return func(j *Journal) error {
		j.clock = c
		return nil
	}
}

// WithObserver registers o before the journal is opened, so it also sees
// the events of the catalog bootstrap done right after Open.
func WithObserver(o Observer, patterns ...string) Option {
	return func(j *Journal) error {
		_, err := j.AddObserver(o, patterns...)
		return err
	}
}
