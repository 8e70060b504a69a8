// Package kafka holds the broker drivers that speak the Kafka protocol.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/IBM/sarama"

	"sluice/internal/record"
	"sluice/sink"
)

/* ────────── driver ────────── */

type saramaDriver struct {
	cfg sink.Config
	cl  sarama.Client // nil when the producer was injected
	p   sarama.SyncProducer
}

// NewSaramaFromProducer wraps an existing producer, typically a
// sarama/mocks.SyncProducer.
func NewSaramaFromProducer(p sarama.SyncProducer) sink.Adapter {
	return &saramaDriver{p: p}
}

func (d *saramaDriver) Configure(cfg sink.Config) error {
	d.cfg = cfg
	sc, err := saramaConfig(cfg)
	if err != nil {
		return err
	}
	d.cl, err = sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return classifySarama(err)
	}
	d.p, err = sarama.NewSyncProducerFromClient(d.cl)
	if err != nil {
		_ = d.cl.Close()
		return classifySarama(err)
	}
	return nil
}

func saramaConfig(cfg sink.Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("sarama-sink: %w", err)
		}
		sc.Version = v
	}
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	// retries belong to the publisher; a second layer would duplicate writes
	sc.Producer.Retry.Max = 0
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.MaxMessageBytes > 0 {
		sc.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
		sc.Net.DialTimeout = cfg.Timeout
		sc.Net.ReadTimeout = cfg.Timeout
		sc.Net.WriteTimeout = cfg.Timeout
	}
	switch strings.ToLower(cfg.Compression) {
	case "", "none":
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("sarama-sink: unknown compression %q", cfg.Compression)
	}
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User = cfg.SASLUser
		sc.Net.SASL.Password = cfg.SASLPass
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("sarama-sink: %w", err)
	}
	return sc, nil
}

func (d *saramaDriver) Send(ctx context.Context, topic string, msgs []record.Payload) (sink.Result, error) {
	if err := ctx.Err(); err != nil {
		return sink.Result{}, err
	}
	pms := make([]*sarama.ProducerMessage, len(msgs))
	for i, m := range msgs {
		pm := &sarama.ProducerMessage{
			Topic:    topic,
			Value:    sarama.ByteEncoder(m.Value),
			Metadata: m.Offset,
		}
		if len(m.Key) > 0 {
			pm.Key = sarama.ByteEncoder(m.Key)
		}
		if len(m.Headers) > 0 {
			pm.Headers = make([]sarama.RecordHeader, len(m.Headers))
			for j, h := range m.Headers {
				pm.Headers[j] = sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value}
			}
		}
		pms[i] = pm
	}
	if err := d.p.SendMessages(pms); err != nil {
		return sink.Result{}, classifySarama(err)
	}
	var res sink.Result
	for _, pm := range pms {
		res.Observe(pm.Partition, pm.Offset)
	}
	return res, nil
}

func (d *saramaDriver) Close() error {
	err := d.p.Close()
	if d.cl != nil && !d.cl.Closed() {
		if cerr := d.cl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

/* ────────── error classification ────────── */

var saramaFatal = map[sarama.KError]sink.Kind{
	sarama.ErrInvalidMessage:             sink.KindRejected,
	sarama.ErrInvalidTopic:               sink.KindRejected,
	sarama.ErrInvalidRequiredAcks:        sink.KindConfig,
	sarama.ErrUnsupportedVersion:         sink.KindConfig,
	sarama.ErrMessageSizeTooLarge:        sink.KindTooLarge,
	sarama.ErrMessageSetSizeTooLarge:     sink.KindTooLarge,
	sarama.ErrTopicAuthorizationFailed:   sink.KindAuth,
	sarama.ErrClusterAuthorizationFailed: sink.KindAuth,
	sarama.ErrSASLAuthenticationFailed:   sink.KindAuth,
	sarama.ErrUnsupportedSASLMechanism:   sink.KindAuth,
	sarama.ErrIllegalSASLState:           sink.KindAuth,
}

// classifySarama maps producer errors onto sink.DeliveryError. A batch is
// fatal if any of its messages failed fatally.
func classifySarama(err error) error {
	if err == nil {
		return nil
	}
	var perrs sarama.ProducerErrors
	if errors.As(err, &perrs) && len(perrs) > 0 {
		var first error
		for _, pe := range perrs {
			c := classifySarama(pe.Err)
			if sink.IsFatal(c) {
				return c
			}
			if first == nil {
				first = c
			}
		}
		return first
	}
	var kerr sarama.KError
	if errors.As(err, &kerr) {
		if kind, ok := saramaFatal[kerr]; ok {
			return sink.Fatal(kind, err)
		}
		if kerr == sarama.ErrRequestTimedOut {
			return sink.Retryable(sink.KindTimeout, err)
		}
		return sink.Retryable(sink.KindUnavailable, err)
	}
	var cerr sarama.ConfigurationError
	if errors.As(err, &cerr) {
		return sink.Fatal(sink.KindConfig, err)
	}
	if errors.Is(err, sarama.ErrClosedClient) || errors.Is(err, sarama.ErrShuttingDown) {
		return sink.Fatal(sink.KindUnavailable, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return sink.Retryable(sink.KindTimeout, err)
	}
	return sink.Retryable(sink.KindUnavailable, err)
}

func init() { sink.Register("sarama", func() sink.Adapter { return &saramaDriver{} }) }
