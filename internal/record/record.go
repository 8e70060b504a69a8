// Package record holds the values that flow between the pipeline stages.
package record

import "fmt"

// Record is one input row. Fields holds scalars only: string, int64,
// float64, bool or nil. A Record is never modified after the source emits it.
type Record struct {
	Offset int64
	Fields map[string]any
}

type Header struct {
	Key   string
	Value []byte
}

// Payload is an encoded Record ready for the broker.
type Payload struct {
	Offset  int64
	Key     []byte
	Value   []byte
	Headers []Header
}

// Size approximates the bytes a payload occupies in a produce request.
func (p Payload) Size() int {
	n := len(p.Key) + len(p.Value)
	for _, h := range p.Headers {
		n += len(h.Key) + len(h.Value)
	}
	return n
}

// Range is an inclusive span of source offsets.
type Range struct {
	First int64
	Last  int64
}

func (r Range) String() string {
	if r.First == r.Last {
		return fmt.Sprintf("%d", r.First)
	}
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

// Collapse folds sorted offsets into contiguous ranges.
func Collapse(offsets []int64) []Range {
	var out []Range
	for _, o := range offsets {
		if n := len(out); n > 0 && out[n-1].Last+1 == o {
			out[n-1].Last = o
			continue
		}
		out = append(out, Range{First: o, Last: o})
	}
	return out
}
