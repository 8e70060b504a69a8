// Package config loads the run configuration: a YAML file overlaid with
// SLUICE_* environment variables, then defaults, then validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"sluice/internal/progress"
	"sluice/internal/publisher"
	"sluice/sink"
	"sluice/source"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "SLUICE_"
)

const (
	OnErrorSkip  = "skip"
	OnErrorAbort = "abort"
)

type SourceConfig struct {
	Driver      string `koanf:"driver"` // csv|ndjson
	Path        string `koanf:"path"`
	StartOffset int64  `koanf:"start_offset"` // -1 = resume from checkpoint
	Delimiter   string `koanf:"delimiter"`
	Compression string `koanf:"compression"`
}

// Adapter returns the driver settings; column hints come from the schema.
func (s SourceConfig) Adapter(hints map[string]string) source.Config {
	return source.Config{Delimiter: s.Delimiter, Compression: s.Compression, Hints: hints}
}

type SchemaConfig struct {
	File    string `koanf:"file"`
	Format  string `koanf:"format"`   // json|protobuf
	OnError string `koanf:"on_error"` // skip|abort
}

type QueueConfig struct {
	Capacity int `koanf:"capacity"`
}

type CheckpointConfig struct {
	Store  string `koanf:"store"` // file|postgres|memory
	Path   string `koanf:"path"`
	DSN    string `koanf:"dsn"`
	Table  string `koanf:"table"`
	Window int64  `koanf:"window"` // 0 = unbounded
}

func (c CheckpointConfig) StoreConfig() progress.StoreConfig {
	return progress.StoreConfig{Kind: c.Store, Path: c.Path, DSN: c.DSN, Table: c.Table}
}

type TelemetryConfig struct {
	HTTPAddr string `koanf:"http_addr"` // empty disables /metrics
	GRPCAddr string `koanf:"grpc_addr"` // empty disables gRPC health
}

type LoggingConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Config struct {
	SchemaVersion string           `koanf:"schema_version"`
	Source        SourceConfig     `koanf:"source"`
	Schema        SchemaConfig     `koanf:"schema"`
	Broker        sink.Config      `koanf:"broker"`
	Queue         QueueConfig      `koanf:"queue"`
	Publisher     publisher.Config `koanf:"publisher"`
	Checkpoint    CheckpointConfig `koanf:"checkpoint"`
	Telemetry     TelemetryConfig  `koanf:"telemetry"`
	Logging       LoggingConfig    `koanf:"logging"`
}

// Option overrides a loaded value before defaults and validation run.
type Option func(*Config)

func WithInput(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.Source.Path = path
		}
	}
}

func WithTopic(topic string) Option {
	return func(c *Config) {
		if topic != "" {
			c.Broker.Topic = topic
		}
	}
}

func WithBrokers(brokers []string) Option {
	return func(c *Config) {
		if len(brokers) > 0 {
			c.Broker.Brokers = brokers
		}
	}
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// Load merges YAML (if present) with env-vars (prefix `SLUICE_`, nesting
// with `__`: SLUICE_BROKER__TOPIC sets broker.topic).
func Load(path string, opts ...Option) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	// zero is meaningful for these, so only an absent key gets the default
	if !k.Exists("source.start_offset") {
		cfg.Source.StartOffset = -1
	}
	if !k.Exists("broker.required_acks") {
		cfg.Broker.RequiredAcks = -1
	}
	if !k.Exists("publisher.retry.jitter") {
		cfg.Publisher.Retry.Jitter = 0.2
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Schema.File != "" && path != "" && !filepath.IsAbs(cfg.Schema.File) {
		cfg.Schema.File = filepath.Join(filepath.Dir(path), cfg.Schema.File)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.Source.Driver == "" {
		c.Source.Driver = driverFor(c.Source.Path)
	}
	if c.Source.Delimiter == "" {
		c.Source.Delimiter = ","
	}
	if c.Source.Compression == "" {
		c.Source.Compression = "auto"
	}
	if c.Schema.Format == "" {
		c.Schema.Format = "json"
	}
	if c.Schema.OnError == "" {
		c.Schema.OnError = OnErrorSkip
	}

	b := &c.Broker
	if b.Driver == "" {
		b.Driver = "sarama"
	}
	if len(b.Brokers) == 0 {
		b.Brokers = []string{"localhost:9092"}
	}
	if b.Topic == "" {
		b.Topic = "churn_input_topic"
	}
	if b.ClientID == "" {
		b.ClientID = "sluice"
	}
	if b.Connections == 0 {
		b.Connections = 1
	}
	if b.Timeout == 0 {
		b.Timeout = 10 * time.Second
	}

	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 1000
	}

	p := &c.Publisher
	if p.Lanes == 0 {
		p.Lanes = 4
	}
	if p.MaxInFlight == 0 {
		p.MaxInFlight = p.Lanes
	}
	if p.BatchSize == 0 {
		p.BatchSize = 100
	}
	if p.BatchBytes == 0 {
		p.BatchBytes = 1 << 20
	}
	if p.Linger == 0 {
		p.Linger = 50 * time.Millisecond
	}
	if p.Retry.Attempts == 0 {
		p.Retry.Attempts = 5
	}
	if p.Retry.Backoff == 0 {
		p.Retry.Backoff = 100 * time.Millisecond
	}
	if p.Retry.MaxBackoff == 0 {
		p.Retry.MaxBackoff = 5 * time.Second
	}
	if p.ShutdownTimeout == 0 {
		p.ShutdownTimeout = 30 * time.Second
	}

	if c.Checkpoint.Store == "" {
		c.Checkpoint.Store = "file"
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "sluice.checkpoint.json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// driverFor picks the source driver from the file name, looking past a
// compression suffix.
func driverFor(path string) string {
	name := strings.ToLower(filepath.Base(path))
	if ext := filepath.Ext(name); source.DetectCompression(name) != "none" {
		name = strings.TrimSuffix(name, ext)
	}
	switch filepath.Ext(name) {
	case ".ndjson", ".jsonl":
		return "ndjson"
	}
	return "csv"
}

// ---------------------------------------------------------------------------
// validation
// ---------------------------------------------------------------------------

// Validate reports every problem at once.
func (c Config) Validate() error {
	var merr *multierror.Error
	bad := func(format string, args ...any) {
		merr = multierror.Append(merr, fmt.Errorf(format, args...))
	}

	if c.SchemaVersion != SupportedSchema {
		bad("schema_version %q not supported (want %q)", c.SchemaVersion, SupportedSchema)
	}
	if c.Source.Path == "" {
		bad("source.path is required")
	}
	if c.Source.StartOffset < -1 {
		bad("source.start_offset must be >= -1")
	}
	if len(c.Source.Delimiter) != 1 {
		bad("source.delimiter must be one character")
	}
	if c.Schema.File == "" {
		bad("schema.file is required")
	}
	if c.Schema.Format != "json" && c.Schema.Format != "protobuf" {
		bad("schema.format %q: want json or protobuf", c.Schema.Format)
	}
	if c.Schema.OnError != OnErrorSkip && c.Schema.OnError != OnErrorAbort {
		bad("schema.on_error %q: want skip or abort", c.Schema.OnError)
	}

	b := c.Broker
	if b.Topic == "" {
		bad("broker.topic is required")
	}
	if b.DeadLetterTopic != "" && b.DeadLetterTopic == b.Topic {
		bad("broker.dead_letter_topic must differ from broker.topic")
	}
	if b.RequiredAcks < -1 || b.RequiredAcks > 1 {
		bad("broker.required_acks must be -1, 0 or 1")
	}
	if b.Connections < 1 {
		bad("broker.connections must be >= 1")
	}

	if c.Queue.Capacity < 1 {
		bad("queue.capacity must be >= 1")
	}

	p := c.Publisher
	if p.Lanes < 1 {
		bad("publisher.lanes must be >= 1")
	}
	if p.MaxInFlight < 1 {
		bad("publisher.max_in_flight must be >= 1")
	}
	if p.BatchSize < 1 {
		bad("publisher.batch_size must be >= 1")
	}
	if p.BatchBytes < 0 {
		bad("publisher.batch_bytes must be >= 0")
	}
	if p.Linger <= 0 {
		bad("publisher.linger must be > 0")
	}
	if p.Retry.Attempts < 1 {
		bad("publisher.retry.attempts must be >= 1")
	}
	if p.Retry.Backoff < 0 || p.Retry.MaxBackoff < 0 {
		bad("publisher.retry backoffs must be >= 0")
	}
	if p.Retry.Jitter < 0 || p.Retry.Jitter > 1 {
		bad("publisher.retry.jitter must be within [0, 1]")
	}
	if p.ShutdownTimeout < 0 {
		bad("publisher.shutdown_timeout must be >= 0")
	}

	cp := c.Checkpoint
	if cp.Store == "postgres" && cp.DSN == "" {
		bad("checkpoint.dsn is required for the postgres store")
	}
	if cp.Store == "file" && cp.Path == "" {
		bad("checkpoint.path is required for the file store")
	}
	if need := c.MinWindow(); cp.Window != 0 && cp.Window < need {
		bad("checkpoint.window %d too small: need 0 or >= %d (queue.capacity + lanes*batch_size)", cp.Window, need)
	}
	return merr.ErrorOrNil()
}

// MinWindow is the smallest bounded tracker window that never starves a
// full queue plus one open batch per lane.
func (c Config) MinWindow() int64 {
	return int64(c.Queue.Capacity) + int64(c.Publisher.Lanes)*int64(c.Publisher.BatchSize)
}
