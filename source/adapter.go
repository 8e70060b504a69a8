// Package source turns bulk tabular files into lazy, restartable sequences of
// records. Drivers register themselves by name from their init functions.
package source

import (
	"fmt"
	"iter"

	"sluice/internal/record"
)

type Config struct {
	Delimiter   string            `koanf:"delimiter"`   // csv only, default ","
	Compression string            `koanf:"compression"` // auto|none|gzip|zstd|snappy|lz4
	Hints       map[string]string `koanf:"-"`           // column -> "string" keeps cells verbatim
}

// Stream is an opened input positioned at its start offset.
type Stream interface {
	// Records yields records in file order. The sequence ends at end of
	// input; a read failure is yielded once as an *UnreadableError.
	Records() iter.Seq2[record.Record, error]
	Close() error
}

type Adapter interface {
	Configure(Config) error
	// Open skips exactly startOffset records before the first yield.
	Open(path string, startOffset int64) (Stream, error)
}

// Factory builds an Adapter (csv, ndjson, …).
type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from each driver's init().
func Register(name string, f Factory) {
	registry[name] = f
}

func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("source: unsupported driver %q", name)
}
