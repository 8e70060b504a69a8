// Package csv reads delimited files with a header row.
package csv

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"sluice/internal/record"
	"sluice/source"
)

type driver struct {
	cfg   source.Config
	comma rune
}

func (d *driver) Configure(cfg source.Config) error {
	d.cfg = cfg
	d.comma = ','
	if cfg.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(cfg.Delimiter)
		if size != len(cfg.Delimiter) || r == utf8.RuneError || r == '"' || r == '\n' || r == '\r' {
			return fmt.Errorf("csv: invalid delimiter %q", cfg.Delimiter)
		}
		d.comma = r
	}
	return nil
}

func (d *driver) Open(path string, startOffset int64) (source.Stream, error) {
	if startOffset < 0 {
		return nil, fmt.Errorf("csv: negative start offset %d", startOffset)
	}
	rc, err := source.OpenFile(path, d.cfg.Compression)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bufio.NewReaderSize(rc, 64<<10))
	r.Comma = d.comma
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		_ = rc.Close()
		if errors.Is(err, io.EOF) {
			err = errors.New("missing header row")
		}
		return nil, source.Unreadable(path, -1, err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}
	cols[0] = strings.TrimPrefix(cols[0], "\ufeff")

	return &stream{path: path, rc: rc, r: r, cols: cols, hints: d.cfg.Hints, start: startOffset}, nil
}

type stream struct {
	path  string
	rc    io.Closer
	r     *csv.Reader
	cols  []string
	hints map[string]string
	start int64
	next  int64
}

func (s *stream) Records() iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for s.next < s.start {
			if _, err := s.r.Read(); err != nil {
				if !errors.Is(err, io.EOF) {
					yield(record.Record{}, source.Unreadable(s.path, s.next, err))
				}
				return
			}
			s.next++
		}
		for {
			row, err := s.r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(record.Record{}, source.Unreadable(s.path, s.next, err))
				return
			}
			fields := make(map[string]any, len(s.cols))
			for i, col := range s.cols {
				fields[col] = source.Infer(row[i], s.hints[col])
			}
			if !yield(record.Record{Offset: s.next, Fields: fields}, nil) {
				return
			}
			s.next++
		}
	}
}

func (s *stream) Close() error { return s.rc.Close() }

func init() {
	source.Register("csv", func() source.Adapter { return &driver{} })
}
