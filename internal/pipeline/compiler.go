package pipeline

import (
	"context"
	"fmt"

	"sluice/internal/config"
	"sluice/internal/encode"
	"sluice/internal/progress"
	"sluice/internal/publisher"
	"sluice/internal/queue"
	"sluice/internal/record"
	"sluice/internal/schema"
	"sluice/sink"
	"sluice/source"

	// drivers register themselves
	_ "sluice/sink/kafka"
	_ "sluice/sink/stdout"
	_ "sluice/source/csv"
	_ "sluice/source/ndjson"
)

// Compile builds a runner from a validated configuration. The caller owns
// the runner and must Close it.
func Compile(ctx context.Context, cfg config.Config, runID string) (*Runner, error) {
	sch, err := schema.Load(cfg.Schema.File)
	if err != nil {
		return nil, err
	}
	enc, err := encode.New(sch, encode.Options{Format: encode.Format(cfg.Schema.Format), RunID: runID})
	if err != nil {
		return nil, err
	}
	src, err := source.NewAdapter(cfg.Source.Driver)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(cfg.Source.Adapter(sch.Hints())); err != nil {
		return nil, err
	}

	tracker, store, err := OpenTracker(ctx, cfg, sch)
	if err != nil {
		return nil, err
	}
	pool, err := sink.NewPool(cfg.Broker)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	q := queue.New[record.Payload](cfg.Queue.Capacity)
	pub := publisher.New(cfg.Publisher, cfg.Broker.Topic, pool, q, tracker)
	r := NewRunner(Options{
		Path:            cfg.Source.Path,
		StartOffset:     cfg.Source.StartOffset,
		OnError:         OnError(cfg.Schema.OnError),
		DeadLetterTopic: cfg.Broker.DeadLetterTopic,
		RunID:           runID,
	}, src, enc, q, tracker, pub)
	r.closers = append(r.closers, store.Close, pool.Close)
	return r, nil
}

// OpenTracker opens the checkpoint store and loads the checkpoint for the
// configured topic and key scheme. sch may be nil, in which case the schema
// file is loaded.
func OpenTracker(ctx context.Context, cfg config.Config, sch *schema.Schema) (*progress.Tracker, progress.Store, error) {
	if sch == nil {
		var err error
		if sch, err = schema.Load(cfg.Schema.File); err != nil {
			return nil, nil, err
		}
	}
	store, err := progress.OpenStore(ctx, cfg.Checkpoint.StoreConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: checkpoint store: %w", err)
	}
	tracker, err := progress.New(ctx, store, progress.Key(cfg.Broker.Topic, sch.KeyScheme()), cfg.Checkpoint.Window)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return tracker, store, nil
}
