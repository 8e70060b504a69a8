// Package stdout prints payloads instead of publishing them. Useful for dry
// runs; offsets are synthetic and per-topic.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"sluice/internal/record"
	"sluice/sink"
)

var seq uint64

type driver struct {
	out io.Writer

	mu      sync.Mutex // guards offsets and out
	offsets map[string]int64
}

// New returns a driver writing to w.
func New(w io.Writer) sink.Adapter {
	return &driver{out: w, offsets: map[string]int64{}}
}

func (d *driver) Configure(sink.Config) error {
	if d.out == nil {
		d.out = os.Stdout
	}
	if d.offsets == nil {
		d.offsets = map[string]int64{}
	}
	return nil
}

func (d *driver) Send(ctx context.Context, topic string, msgs []record.Payload) (sink.Result, error) {
	if err := ctx.Err(); err != nil {
		return sink.Result{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var res sink.Result
	for _, m := range msgs {
		off := d.offsets[topic]
		d.offsets[topic] = off + 1
		if _, err := fmt.Fprintf(d.out, "[sink %06d] %s[0]@%d key=%s %s\n",
			atomic.AddUint64(&seq, 1), topic, off, m.Key, m.Value); err != nil {
			return sink.Result{}, sink.Fatal(sink.KindUnavailable, err)
		}
		res.Observe(0, off)
	}
	return res, nil
}

func (d *driver) Close() error { return nil }

func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
