// Package create makes an empty journal.
package create

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/lfjournal/journal"
)

const (
	usage   = "create"
	short   = "Creates an empty journal"
	long    = "This command creates an empty journal directory holding only the header stream"
	example = "lfj create --dir <path>"
)

var (
	// Cmd is the create command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"init", "new"},
		Example:    example,
		RunE:       executeCreate,
	}
	dir string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", "journal directory to create")
	_ = Cmd.MarkFlagRequired("dir")
}

// executeCreate implements the create command.
func executeCreate(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	dir = filepath.Clean(dir)
	if _, err := os.Stat(filepath.Join(dir, journal.Strm0Name)); err == nil {
		return fmt.Errorf("%s already holds a journal", dir)
	}
	j, err := journal.Open(dir, true, true)
	if err != nil {
		return errors.Wrapf(err, "create journal at %s", dir)
	}
	hdr := j.Header()
	if err = j.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created journal %s at %s\n", hdr.JournalID, dir)
	return nil
}
