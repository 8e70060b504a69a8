// Package publisher drains the delivery queue into the broker. Payloads are
// routed to lanes by partition key; each lane batches and sends in order,
// retries transient failures and reports acknowledged offsets to the
// progress tracker.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"sluice/internal/logging"
	"sluice/internal/queue"
	"sluice/internal/record"
	"sluice/internal/telemetry"
	"sluice/sink"
)

type Config struct {
	Lanes           int           `koanf:"lanes"`
	MaxInFlight     int           `koanf:"max_in_flight"`
	BatchSize       int           `koanf:"batch_size"`
	BatchBytes      int           `koanf:"batch_bytes"`
	Linger          time.Duration `koanf:"linger"`
	Retry           RetryConfig   `koanf:"retry"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Acker is told about every acknowledged batch. progress.Tracker is the
// production implementation.
type Acker interface {
	Complete(ctx context.Context, lane int, offsets ...int64) error
}

// Stats summarises a run. Undelivered holds every offset the publisher
// received but could not get acknowledged.
type Stats struct {
	Batches      int
	Acked        int
	Retried      int
	Failed       int
	Delivered    int64
	Undelivered  []record.Range
	PeakInFlight int64
}

type Publisher struct {
	cfg   Config
	topic string
	pool  *sink.Pool
	q     *queue.Queue[record.Payload]
	acker Acker
	lim   *limiter
	log   *slog.Logger
	seq   atomic.Uint64

	mu          sync.Mutex
	stats       Stats
	undelivered []int64
}

// New builds a publisher that owns pool and closes it when Run returns.
func New(cfg Config, topic string, pool *sink.Pool, q *queue.Queue[record.Payload], acker Acker) *Publisher {
	if cfg.Lanes < 1 {
		cfg.Lanes = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 50 * time.Millisecond
	}
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = cfg.Lanes
	}
	return &Publisher{
		cfg:   cfg,
		topic: topic,
		pool:  pool,
		q:     q,
		acker: acker,
		lim:   newLimiter(int64(cfg.MaxInFlight)),
		log:   logging.With("publisher"),
	}
}

// Run consumes the queue until it is closed and drained, a batch fails
// fatally, or ctx is cancelled. Cancellation is a stop request: queued and
// in-flight payloads still get ShutdownTimeout to be acknowledged before
// the run is cut short with ErrShutdownTimeout.
func (p *Publisher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)
	go p.watchStop(ctx, runCtx, cancel)

	lanes := make([]chan record.Payload, p.cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan record.Payload, p.cfg.BatchSize)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return p.dispatch(gctx, lanes) })
	for i, in := range lanes {
		g.Go(func() error { return p.lane(gctx, i, in) })
	}
	err := g.Wait()

	for _, in := range lanes {
		for pl := range in {
			p.abandon(pl)
		}
	}
	for _, pl := range p.q.Drain() {
		p.abandon(pl)
	}
	if cerr := p.pool.Close(); cerr != nil {
		p.log.Warn("closing producers", "err", cerr)
	}

	st := p.Stats()
	p.log.Info("publisher stopped",
		"batches", st.Batches, "acked", st.Acked, "retried", st.Retried,
		"delivered", st.Delivered, "undelivered", len(st.Undelivered), "err", err)
	return err
}

func (p *Publisher) watchStop(ctx, runCtx context.Context, cancel context.CancelCauseFunc) {
	select {
	case <-runCtx.Done():
		return
	case <-ctx.Done():
	}
	p.log.Info("stop requested, draining", "timeout", p.cfg.ShutdownTimeout)
	t := time.NewTimer(p.cfg.ShutdownTimeout)
	defer t.Stop()
	select {
	case <-t.C:
		cancel(ErrShutdownTimeout)
	case <-runCtx.Done():
	}
}

// dispatch routes queued payloads to lanes by key so every key keeps its
// order. It closes the lane inputs on return.
func (p *Publisher) dispatch(ctx context.Context, lanes []chan record.Payload) error {
	defer func() {
		for _, in := range lanes {
			close(in)
		}
	}()
	for {
		pl, err := p.q.Pop(ctx)
		if errors.Is(err, queue.ErrDrained) {
			return nil
		}
		if err != nil {
			return context.Cause(ctx)
		}
		telemetry.QueueDepth.Set(float64(p.q.Len()))
		in := lanes[p.route(pl.Key)]
		select {
		case in <- pl:
		case <-ctx.Done():
			p.abandon(pl)
			return context.Cause(ctx)
		}
	}
}

func (p *Publisher) route(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(p.cfg.Lanes))
}

// lane accumulates payloads until the batch is full by count or bytes, or
// the first payload has waited Linger, then sends it before reading more.
func (p *Publisher) lane(ctx context.Context, id int, in <-chan record.Payload) error {
	var (
		buf   []record.Payload
		bytes int
	)
	linger := time.NewTimer(p.cfg.Linger)
	linger.Stop()
	defer linger.Stop()

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		linger.Stop()
		b := &Batch{Seq: p.seq.Add(1), Lane: id, Payloads: buf, Bytes: bytes}
		buf, bytes = nil, 0
		return p.deliver(ctx, b)
	}

	for {
		select {
		case <-ctx.Done():
			p.abandon(buf...)
			return context.Cause(ctx)
		case <-linger.C:
			if err := flush(); err != nil {
				return err
			}
		case pl, ok := <-in:
			if !ok {
				if ctx.Err() != nil {
					p.abandon(buf...)
					return context.Cause(ctx)
				}
				return flush()
			}
			size := pl.Size()
			if len(buf) > 0 && p.cfg.BatchBytes > 0 && bytes+size > p.cfg.BatchBytes {
				if err := flush(); err != nil {
					p.abandon(pl)
					return err
				}
			}
			buf = append(buf, pl)
			bytes += size
			if len(buf) == 1 {
				linger.Reset(p.cfg.Linger)
			}
			if len(buf) >= p.cfg.BatchSize || (p.cfg.BatchBytes > 0 && bytes >= p.cfg.BatchBytes) {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// deliver sends b until it is acknowledged or fails for good, then reports
// the acknowledged offsets. Offsets are never reported before the ack.
func (p *Publisher) deliver(ctx context.Context, b *Batch) error {
	p.count(func(s *Stats) { s.Batches++ })
	err := p.send(ctx, p.topic, b)
	if err != nil {
		if ctx.Err() == nil || sink.IsFatal(err) || errors.Is(err, ErrRetriesExhausted) {
			b.move(FailedFatal)
			p.count(func(s *Stats) { s.Failed++ })
		}
		p.abandon(b.Payloads...)
		p.log.Error("batch undelivered", "lane", b.Lane, "seq", b.Seq,
			"first", b.Payloads[0].Offset, "size", len(b.Payloads), "attempts", b.Attempts, "err", err)
		if ctx.Err() != nil && !sink.IsFatal(err) {
			return context.Cause(ctx)
		}
		return fmt.Errorf("publisher: lane %d batch %d: %w", b.Lane, b.Seq, err)
	}

	// persist even while stopping; the ack already happened
	if err := p.acker.Complete(context.WithoutCancel(ctx), b.Lane, b.Offsets()...); err != nil {
		return fmt.Errorf("publisher: lane %d batch %d: %w", b.Lane, b.Seq, err)
	}
	telemetry.RecordsDelivered.Add(float64(len(b.Payloads)))
	p.count(func(s *Stats) {
		s.Acked++
		s.Delivered += int64(len(b.Payloads))
	})
	p.log.Debug("batch acked", "lane", b.Lane, "seq", b.Seq, "size", len(b.Payloads), "attempts", b.Attempts)
	return nil
}

// send drives b through the state machine with the retry policy.
func (p *Publisher) send(ctx context.Context, topic string, b *Batch) error {
	return retry(ctx, p.cfg.Retry, func(ctx context.Context, attempt int) error {
		if err := p.lim.Acquire(ctx); err != nil {
			return err
		}
		defer p.lim.Release()

		b.Attempts = attempt
		b.move(Sent)
		telemetry.InFlight.Inc()
		start := time.Now()
		res, err := p.pool.Acquire().Send(ctx, topic, b.Payloads)
		telemetry.SendSeconds.Observe(time.Since(start).Seconds())
		telemetry.InFlight.Dec()
		if err != nil {
			if sink.IsRetryable(err) {
				b.move(FailedRetryable)
				p.count(func(s *Stats) { s.Retried++ })
				p.log.Warn("batch send failed, retrying", "lane", b.Lane, "seq", b.Seq, "attempt", attempt, "err", err)
			}
			return err
		}
		b.Result = res
		b.move(Acked)
		return nil
	})
}

// PublishDirect sends payloads to topic with the same retry policy and
// in-flight limit as the lanes, without reporting any offsets.
func (p *Publisher) PublishDirect(ctx context.Context, topic string, payloads ...record.Payload) error {
	if len(payloads) == 0 {
		return nil
	}
	b := &Batch{Seq: p.seq.Add(1), Lane: -1, Payloads: payloads}
	for _, pl := range payloads {
		b.Bytes += pl.Size()
	}
	if err := p.send(ctx, topic, b); err != nil {
		b.move(FailedFatal)
		return fmt.Errorf("publisher: %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) abandon(pls ...record.Payload) {
	if len(pls) == 0 {
		return
	}
	p.mu.Lock()
	for _, pl := range pls {
		p.undelivered = append(p.undelivered, pl.Offset)
	}
	p.mu.Unlock()
}

func (p *Publisher) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	offs := slices.Clone(p.undelivered)
	slices.Sort(offs)
	st.Undelivered = record.Collapse(slices.Compact(offs))
	st.PeakInFlight = p.lim.Peak()
	return st
}
