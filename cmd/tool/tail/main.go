// Package tail follows a vector as a writer appends to it.
package tail

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/lfjournal/journal"
)

const (
	usage   = "tail"
	short   = "Follows the items of a vector"
	long    = "This command opens a journal read-only and prints the items of a vector as they are committed"
	example = "lfj tool tail --dir <path> --vec XCME_INCOMING_1 --interval 100ms"

	batchSize = 1024
)

var (
	// Cmd is the tail command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		RunE:    executeTail,
	}
	dir, vecName string
	interval     time.Duration
	fromStart    bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", "journal directory")
	Cmd.Flags().StringVar(&vecName, "vec", "", "vector name")
	Cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "polling interval")
	Cmd.Flags().BoolVar(&fromStart, "from-start", false, "print the items already committed first")
	_ = Cmd.MarkFlagRequired("dir")
	_ = Cmd.MarkFlagRequired("vec")
}

func executeTail(cmd *cobra.Command, _ []string) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %v", interval)
	}
	cmd.SilenceUsage = true

	j, err := journal.Open(filepath.Clean(dir), false, false)
	if err != nil {
		return errors.Wrapf(err, "open journal at %s", dir)
	}
	defer j.Close()

	v, err := j.VectorByName(vecName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Follow(ctx, cmd.OutOrStdout(), j, v.Num(), interval, fromStart)
}

// Follow prints the items of vector vecNum committed after the call, or
// all of them when fromStart is set, polling every interval until ctx is
// done.
func Follow(ctx context.Context, w io.Writer, j *journal.Journal, vecNum uint32, interval time.Duration,
	fromStart bool) error {
	rs := j.NewReadSnapshot()
	if !fromStart {
		if _, err := rs.ScanVectorUpTo(vecNum, math.MaxInt64, nil, nil); err != nil {
			return err
		}
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := drain(w, rs, vecNum); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			rs.DoSnapshot()
		}
	}
}

func drain(w io.Writer, rs *journal.ReadSnapshot, vecNum uint32) error {
	for {
		items, err := rs.NextItems(vecNum, batchSize)
		if err != nil {
			return err
		}
		for _, it := range items {
			flag := ""
			if it.Pos.Flag() {
				flag = " flagged"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s%s\n", it.Idx,
				time.Unix(0, it.Timestamp).UTC().Format(time.RFC3339Nano),
				it.Pos, bytefmt.ByteSize(uint64(it.Pos.Len())), flag)
		}
		if len(items) < batchSize {
			return nil
		}
	}
}
