// Package dump exports the items of a vector together with the records
// they point at.
package dump

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/snappy"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/lfjournal/journal"
)

const (
	usage   = "dump"
	short   = "Exports the items of a vector"
	long    = "This command opens a journal read-only and writes every committed item of a vector, with its record, as CSV or msgpack"
	example = "lfj tool dump --dir <path> --vec XCME_INCOMING_1 --format msgpack --compress --out items.sz"

	FormatCSV     = "csv"
	FormatMsgpack = "msgpack"
)

var (
	// Cmd is the dump command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		RunE:    executeDump,
	}
	dir, vecName, format, outPath string
	compress                      bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", "journal directory")
	Cmd.Flags().StringVar(&vecName, "vec", "", "vector name")
	Cmd.Flags().StringVarP(&format, "format", "f", FormatCSV, "output format, csv or msgpack")
	Cmd.Flags().BoolVar(&compress, "compress", false, "snappy-compress the output")
	Cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file, stdout when empty")
	_ = Cmd.MarkFlagRequired("dir")
	_ = Cmd.MarkFlagRequired("vec")
}

// Record is one exported item.
type Record struct {
	Idx       uint64 `csv:"idx" msgpack:"idx"`
	Timestamp int64  `csv:"timestamp" msgpack:"timestamp"`
	StrmNum   uint32 `csv:"strm_num" msgpack:"strm_num"`
	Offset    uint64 `csv:"offset" msgpack:"offset"`
	Len       uint32 `csv:"len" msgpack:"len"`
	Flag      bool   `csv:"flag" msgpack:"flag"`
	AuxPos    uint64 `csv:"aux_pos" msgpack:"aux_pos"`
	AuxTags   string `csv:"aux_tags" msgpack:"aux_tags"`
	Data      []byte `csv:"-" msgpack:"data"`
	DataHex   string `csv:"data" msgpack:"-"`
}

func executeDump(cmd *cobra.Command, _ []string) error {
	if format != FormatCSV && format != FormatMsgpack {
		return fmt.Errorf("unknown format %q", format)
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
	records, err := Records(j, v, v.ItemIdxBase(), v.ItemIdxBase()+v.Len())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return Write(out, records, format, compress)
}

// Records reads the items [from, to) of v and copies the records they
// point at.
func Records(j *journal.Journal, v *journal.Vector, from, to uint64) ([]*Record, error) {
	out := make([]*Record, 0, to-from)
	for idx := from; idx < to; idx++ {
		it, err := v.Item(idx)
		if err != nil {
			return out, err
		}
		r := &Record{
			Idx:       it.Idx,
			Timestamp: it.Timestamp,
			StrmNum:   it.Pos.StrmNum(),
			Offset:    it.Pos.StrmOff(),
			Len:       it.Pos.Len(),
			Flag:      it.Pos.Flag(),
			AuxPos:    uint64(it.AuxPos),
			AuxTags:   v.AuxTagsStatus(idx).String(),
		}
		if !it.Pos.IsNull() {
			data, err := j.ReadData(it.Pos)
			if err != nil {
				return out, errors.Wrapf(err, "record of item %d", idx)
			}
			r.Data = append([]byte(nil), data...)
			r.DataHex = hex.EncodeToString(data)
		}
		out = append(out, r)
	}
	return out, nil
}

// Write encodes records to w in format, snappy-framed when compress is set.
func Write(w io.Writer, records []*Record, format string, compress bool) error {
	bw := bufio.NewWriter(w)
	var dst io.Writer = bw
	var sw *snappy.Writer
	if compress {
		sw = snappy.NewBufferedWriter(bw)
		dst = sw
	}

	var err error
	switch format {
	case FormatCSV:
		err = gocsv.Marshal(records, dst)
	case FormatMsgpack:
		enc := msgpack.NewEncoder(dst)
		for _, r := range records {
			if err = enc.Encode(r); err != nil {
				break
			}
		}
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}
	if sw != nil {
		if err = sw.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}
