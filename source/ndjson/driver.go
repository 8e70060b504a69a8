// Package ndjson reads newline-delimited JSON objects, one record per line.
// Blank lines are not records and do not consume offsets.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"

	"sluice/internal/record"
	"sluice/source"
)

const maxLine = 16 << 20

type driver struct {
	cfg source.Config
}

func (d *driver) Configure(cfg source.Config) error {
	d.cfg = cfg
	return nil
}

func (d *driver) Open(path string, startOffset int64) (source.Stream, error) {
	if startOffset < 0 {
		return nil, fmt.Errorf("ndjson: negative start offset %d", startOffset)
	}
	rc, err := source.OpenFile(path, d.cfg.Compression)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64<<10), maxLine)
	return &stream{path: path, rc: rc, sc: sc, start: startOffset}, nil
}

type stream struct {
	path  string
	rc    io.Closer
	sc    *bufio.Scanner
	start int64
	next  int64
}

func (s *stream) scanLine() ([]byte, bool) {
	for s.sc.Scan() {
		line := bytes.TrimSpace(s.sc.Bytes())
		if len(line) > 0 {
			return line, true
		}
	}
	return nil, false
}

func (s *stream) Records() iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for s.next < s.start {
			if _, ok := s.scanLine(); !ok {
				if err := s.sc.Err(); err != nil {
					yield(record.Record{}, source.Unreadable(s.path, s.next, err))
				}
				return
			}
			s.next++
		}
		for {
			line, ok := s.scanLine()
			if !ok {
				if err := s.sc.Err(); err != nil {
					yield(record.Record{}, source.Unreadable(s.path, s.next, err))
				}
				return
			}
			fields, err := decode(line)
			if err != nil {
				yield(record.Record{}, source.Unreadable(s.path, s.next, err))
				return
			}
			if !yield(record.Record{Offset: s.next, Fields: fields}, nil) {
				return
			}
			s.next++
		}
	}
}

func (s *stream) Close() error { return s.rc.Close() }

func decode(line []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("line is not a JSON object")
	}
	for k, v := range obj {
		switch x := v.(type) {
		case json.Number:
			if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
				obj[k] = i
			} else if f, err := x.Float64(); err == nil {
				obj[k] = f
			} else {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
		case map[string]any, []any:
			// nested values are kept as their compact JSON text
			raw, err := json.Marshal(x)
			if err != nil {
				return nil, err
			}
			obj[k] = string(raw)
		}
	}
	return obj, nil
}

func init() {
	source.Register("ndjson", func() source.Adapter { return &driver{} })
}
