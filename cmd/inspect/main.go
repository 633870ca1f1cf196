// Package inspect prints the catalog of a journal.
package inspect

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/lfjournal/journal"
)

const (
	usage   = "inspect"
	short   = "Prints the header, streams and vectors of a journal"
	long    = "This command opens a journal read-only and prints its header, the counters of every stream and the item count of every vector"
	example = "lfj inspect --dir <path>"
)

var (
	// Cmd is the inspect command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"show", "info"},
		Example:    example,
		RunE:       executeInspect,
	}
	dir string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", "journal directory")
	_ = Cmd.MarkFlagRequired("dir")
}

func executeInspect(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	j, err := journal.Open(filepath.Clean(dir), false, false)
	if err != nil {
		return errors.Wrapf(err, "open journal at %s", dir)
	}
	defer j.Close()
	return Report(cmd.OutOrStdout(), j)
}

// Report writes a human-readable description of j to w.
func Report(w io.Writer, j *journal.Journal) error {
	hdr := j.Header()
	fmt.Fprintf(w, "journal   %s\n", hdr.JournalID)
	fmt.Fprintf(w, "dir       %s\n", j.Dir())
	fmt.Fprintf(w, "created   %s\n", time.Unix(0, hdr.CreationTimestamp).UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "streams   %d (highest %d)\n", len(j.Streams()), hdr.HighestStrmNum)
	fmt.Fprintf(w, "vectors   %d\n\n", hdr.HighestVecNumPlus1)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUM\tNAME\tTYPE\tCOMMITTED\tVALID\tALLOC\tSTATE")
	for _, s := range j.Streams() {
		state := "committed"
		if !s.Committed {
			state = "allocated"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", s.Num, s.Name, s.Type,
			bytefmt.ByteSize(s.CommittedLen), bytefmt.ByteSize(s.ValidLen), bytefmt.ByteSize(s.AllocLen), state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	vecs := j.Vectors()
	if len(vecs) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUM\tNAME\tTYPE\tDIRECTION\tCOMP_ID\tSESSION_ID\tSTRM\tBASE\tITEMS")
	for _, vd := range vecs {
		items := "-"
		if v, err := j.Vector(vd.Num); err == nil {
			items = fmt.Sprint(v.Len())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n", vd.Num, vd.Name, vd.Type, vd.Direction,
			vd.CompID, vd.SessionID, vd.StrmNum, vd.ItemIdxBase, items)
	}
	return tw.Flush()
}
