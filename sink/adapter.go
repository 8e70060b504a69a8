// Package sink publishes encoded payloads to the broker. Drivers register
// themselves by name; the publisher talks to them through a Pool.
package sink

import (
	"context"
	"fmt"
	"time"

	"sluice/internal/record"
)

type Config struct {
	Driver          string        `koanf:"driver"` // sarama|kafkago|stdout
	Brokers         []string      `koanf:"brokers"`
	Topic           string        `koanf:"topic"`
	DeadLetterTopic string        `koanf:"dead_letter_topic"`
	ClientID        string        `koanf:"client_id"`
	Version         string        `koanf:"version"`
	RequiredAcks    int16         `koanf:"required_acks"` // 0,1,-1
	Compression     string        `koanf:"compression"`   // none|gzip|snappy|lz4|zstd
	Connections     int           `koanf:"connections"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxMessageBytes int           `koanf:"max_message_bytes"`
	TLSEn           bool          `koanf:"tls_enabled"`
	SASLUser        string        `koanf:"sasl_user"`
	SASLPass        string        `koanf:"sasl_pass"`
}

// OffsetRange is the span of broker offsets a batch landed on in one partition.
type OffsetRange struct {
	First int64
	Last  int64
}

// Result is the broker's acknowledgment of one send.
type Result struct {
	Count      int
	Partitions map[int32]OffsetRange
}

// Observe records that a message landed at partition/offset. Negative
// offsets mean the driver cannot report them and only Count moves.
func (r *Result) Observe(partition int32, offset int64) {
	r.Count++
	if offset < 0 {
		return
	}
	if r.Partitions == nil {
		r.Partitions = make(map[int32]OffsetRange)
	}
	rg, ok := r.Partitions[partition]
	switch {
	case !ok:
		rg = OffsetRange{First: offset, Last: offset}
	case offset < rg.First:
		rg.First = offset
	case offset > rg.Last:
		rg.Last = offset
	}
	r.Partitions[partition] = rg
}

// Adapter is the behaviour every broker driver exposes. Send returns once
// the broker acknowledged every message, or with a *DeliveryError.
type Adapter interface {
	Configure(Config) error
	Send(ctx context.Context, topic string, msgs []record.Payload) (Result, error)
	Close() error
}

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
