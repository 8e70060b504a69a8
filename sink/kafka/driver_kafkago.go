package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"sluice/internal/record"
	"sluice/sink"
)

type kafkagoDriver struct {
	w *kafkago.Writer
}

func (d *kafkagoDriver) Configure(cfg sink.Config) error {
	if len(cfg.Brokers) == 0 {
		return sink.Fatal(sink.KindConfig, errors.New("kafkago-sink: no brokers"))
	}
	codec, err := kafkagoCompression(cfg.Compression)
	if err != nil {
		return err
	}
	tr := &kafkago.Transport{ClientID: cfg.ClientID}
	if cfg.Timeout > 0 {
		tr.DialTimeout = cfg.Timeout
	}
	if cfg.TLSEn {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.SASLUser != "" {
		tr.SASL = plain.Mechanism{Username: cfg.SASLUser, Password: cfg.SASLPass}
	}
	d.w = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  1,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		Compression:  codec,
		Transport:    tr,
	}
	if cfg.MaxMessageBytes > 0 {
		d.w.BatchBytes = int64(cfg.MaxMessageBytes)
	}
	return nil
}

func kafkagoCompression(name string) (kafkago.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafkago.Gzip, nil
	case "snappy":
		return kafkago.Snappy, nil
	case "lz4":
		return kafkago.Lz4, nil
	case "zstd":
		return kafkago.Zstd, nil
	}
	return 0, fmt.Errorf("kafkago-sink: unknown compression %q", name)
}

func (d *kafkagoDriver) Send(ctx context.Context, topic string, msgs []record.Payload) (sink.Result, error) {
	kms := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		km := kafkago.Message{Topic: topic, Key: m.Key, Value: m.Value}
		for _, h := range m.Headers {
			km.Headers = append(km.Headers, kafkago.Header{Key: h.Key, Value: h.Value})
		}
		kms[i] = km
	}
	if err := d.w.WriteMessages(ctx, kms...); err != nil {
		if ctx.Err() != nil {
			return sink.Result{}, ctx.Err()
		}
		return sink.Result{}, classifyKafkago(err)
	}
	// the writer does not surface per-message offsets
	var res sink.Result
	for range kms {
		res.Observe(0, -1)
	}
	return res, nil
}

func (d *kafkagoDriver) Close() error {
	if d.w == nil {
		return nil
	}
	return d.w.Close()
}

var kafkagoFatal = map[kafkago.Error]sink.Kind{
	kafkago.InvalidMessage:             sink.KindRejected,
	kafkago.InvalidTopic:               sink.KindRejected,
	kafkago.InvalidRequiredAcks:        sink.KindConfig,
	kafkago.UnsupportedVersion:         sink.KindConfig,
	kafkago.MessageSizeTooLarge:        sink.KindTooLarge,
	kafkago.RecordListTooLarge:         sink.KindTooLarge,
	kafkago.TopicAuthorizationFailed:   sink.KindAuth,
	kafkago.ClusterAuthorizationFailed: sink.KindAuth,
	kafkago.SASLAuthenticationFailed:   sink.KindAuth,
	kafkago.UnsupportedSASLMechanism:   sink.KindAuth,
	kafkago.IllegalSASLState:           sink.KindAuth,
}

func classifyKafkago(err error) error {
	if err == nil {
		return nil
	}
	var werrs kafkago.WriteErrors
	if errors.As(err, &werrs) {
		var first error
		for _, e := range werrs {
			if e == nil {
				continue
			}
			c := classifyKafkago(e)
			if sink.IsFatal(c) {
				return c
			}
			if first == nil {
				first = c
			}
		}
		if first != nil {
			return first
		}
	}
	var kerr kafkago.Error
	if errors.As(err, &kerr) {
		if kind, ok := kafkagoFatal[kerr]; ok {
			return sink.Fatal(kind, err)
		}
		if kerr == kafkago.RequestTimedOut {
			return sink.Retryable(sink.KindTimeout, err)
		}
		return sink.Retryable(sink.KindUnavailable, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return sink.Retryable(sink.KindTimeout, err)
	}
	return sink.Retryable(sink.KindUnavailable, err)
}

func init() { sink.Register("kafkago", func() sink.Adapter { return &kafkagoDriver{} }) }
