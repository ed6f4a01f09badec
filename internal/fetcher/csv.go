// Package fetcher downloads batch job lists over HTTP and FTP and parses
// them from CSV, XLSX, JSON, and ZIP sources into rank-check requests.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	Charset    string // source encoding name (e.g. "windows-1252"); empty means UTF-8
}

// StreamCSV reads a CSV job list and sends rows to a channel. The caller
// must consume the row channel; both channels close when the input is
// drained or the first error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader, err := newRowReader(r, opts)
		if err != nil {
			errCh <- err
			return
		}
		if err := streamRows(ctx, reader, opts, rowCh); err != nil {
			errCh <- err
		}
	}()

	return rowCh, errCh
}

// newRowReader builds the csv.Reader, decoding from opts.Charset when set.
func newRowReader(r io.Reader, opts CSVOptions) (*csv.Reader, error) {
	src := r
	if opts.Charset != "" {
		enc, err := htmlindex.Get(opts.Charset)
		if err != nil {
			return nil, eris.Wrapf(err, "csv: unsupported charset %q", opts.Charset)
		}
		src = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(src)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // job lists carry ragged optional columns
	return reader, nil
}

func streamRows(ctx context.Context, reader *csv.Reader, opts CSVOptions, rowCh chan<- []string) error {
	header := opts.HasHeader
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}
		if opts.TrimSpace {
			for i := range record {
				record[i] = strings.TrimSpace(record[i])
			}
		}

		// The header row goes to its own channel, never to consumers.
		out := rowCh
		if header {
			header = false
			if opts.HeaderCh == nil {
				continue
			}
			out = opts.HeaderCh
		}

		select {
		case out <- record:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
	}
}
