// Package pipeline wires one run: the source task reads, encodes, tracks and
// queues records while the publisher drains the queue to the broker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"sluice/internal/encode"
	"sluice/internal/logging"
	"sluice/internal/progress"
	"sluice/internal/publisher"
	"sluice/internal/queue"
	"sluice/internal/record"
	"sluice/internal/telemetry"
	"sluice/source"
)

type OnError string

const (
	Skip  OnError = "skip"
	Abort OnError = "abort"
)

const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateDone     = "done"
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

type Options struct {
	Path string
	// StartOffset is the first record to read; -1 resumes after the
	// checkpoint.
	StartOffset     int64
	OnError         OnError
	DeadLetterTopic string
	RunID           string
}

type Runner struct {
	opts    Options
	src     source.Adapter
	enc     *encode.Encoder
	q       *queue.Queue[record.Payload]
	tracker *progress.Tracker
	pub     *publisher.Publisher
	closers []func() error
	log     *slog.Logger

	state        atomic.Value
	read         atomic.Int64
	encoded      atomic.Int64
	skipped      atomic.Int64
	deadLettered atomic.Int64
}

func NewRunner(opts Options, src source.Adapter, enc *encode.Encoder, q *queue.Queue[record.Payload],
	tracker *progress.Tracker, pub *publisher.Publisher) *Runner {
	if opts.OnError == "" {
		opts.OnError = Skip
	}
	r := &Runner{
		opts:    opts,
		src:     src,
		enc:     enc,
		q:       q,
		tracker: tracker,
		pub:     pub,
		log:     logging.With("pipeline"),
	}
	r.state.Store(StateStarting)
	return r
}

// Run reads the source to exhaustion and returns once every queued payload
// was acknowledged or declared undelivered. Cancelling ctx stops reading;
// queued payloads still drain within the publisher's shutdown timeout.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	start := r.opts.StartOffset
	resume := r.tracker.ResumeOffset()
	switch {
	case start < 0:
		start = resume
	case start < resume:
		r.state.Store(StateFailed)
		return r.report(start, started, false), fmt.Errorf(
			"pipeline: start offset %d is behind checkpoint %d of %q; reset the checkpoint to replay",
			start, resume-1, r.tracker.Key())
	}

	stream, err := r.src.Open(r.opts.Path, start)
	if err != nil {
		r.state.Store(StateFailed)
		r.q.Close()
		return r.report(start, started, false), err
	}
	defer stream.Close()

	r.state.Store(StateRunning)
	r.log.Info("run started", "path", r.opts.Path, "start_offset", start,
		"checkpoint", resume-1, "key", r.tracker.Key(), "run", r.opts.RunID)

	prodCtx, stopProducing := context.WithCancel(ctx)
	defer stopProducing()
	prodDone := make(chan error, 1)
	go func() { prodDone <- r.produce(prodCtx, stream) }()

	pubErr := r.pub.Run(ctx)
	stopProducing()
	prodErr := <-prodDone

	stopped := ctx.Err() != nil
	rep := r.report(start, started, stopped)
	err = errors.Join(prodErr, pubErr)
	switch {
	case err != nil:
		r.state.Store(StateFailed)
	case stopped:
		r.state.Store(StateStopped)
	default:
		r.state.Store(StateDone)
	}
	r.log.Info("run finished", "read", rep.Read, "delivered", rep.Delivered, "skipped", rep.Skipped,
		"undelivered", len(rep.Undelivered), "checkpoint", rep.Checkpoint, "err", err)
	return rep, err
}

// produce is the source task. It owns the queue and closes it on return, so
// the publisher always drains and stops. Cancellation is not an error here.
func (r *Runner) produce(ctx context.Context, stream source.Stream) error {
	defer r.q.Close()
	for rec, err := range stream.Records() {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		r.read.Add(1)
		telemetry.RecordsRead.Inc()

		pl, err := r.enc.Encode(rec)
		if err != nil {
			var ee *encode.EncodingError
			if !errors.As(err, &ee) {
				return err
			}
			if err := r.reject(ctx, rec, ee); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}

		if err := r.tracker.Track(ctx, rec.Offset); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.q.Push(ctx, pl); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.encoded.Add(1)
		telemetry.RecordsEncoded.Inc()
		telemetry.QueueDepth.Set(float64(r.q.Len()))
	}
	return nil
}

// reject applies the encoding-error policy. Under skip the offset counts as
// handled once it is logged and, when configured, dead-lettered; under abort
// the error ends production and the offset stays unresolved.
func (r *Runner) reject(ctx context.Context, rec record.Record, ee *encode.EncodingError) error {
	telemetry.EncodeFailures.WithLabelValues(ee.Field).Inc()
	if r.opts.OnError == Abort {
		r.log.Error("record rejected, aborting", "offset", ee.Offset, "field", ee.Field, "reason", ee.Reason)
		return ee
	}
	r.log.Warn("record skipped", "offset", ee.Offset, "field", ee.Field, "reason", ee.Reason)

	if r.opts.DeadLetterTopic != "" {
		if err := r.deadLetter(ctx, rec, ee); err != nil {
			return err
		}
	}
	if err := r.tracker.Track(ctx, rec.Offset); err != nil {
		return err
	}
	if err := r.tracker.Complete(context.WithoutCancel(ctx), -1, rec.Offset); err != nil {
		return err
	}
	r.skipped.Add(1)
	return nil
}

func (r *Runner) report(start int64, started time.Time, stopped bool) Report {
	rep := Report{
		Key:          r.tracker.Key(),
		RunID:        r.opts.RunID,
		StartOffset:  start,
		Read:         r.read.Load(),
		Encoded:      r.encoded.Load(),
		Skipped:      r.skipped.Load(),
		DeadLettered: r.deadLettered.Load(),
		Undelivered:  record.Collapse(r.tracker.Outstanding()),
		Checkpoint:   r.tracker.Checkpoint(),
		Stopped:      stopped,
		Duration:     time.Since(started),
	}
	st := r.pub.Stats()
	rep.Delivered = st.Delivered
	rep.Batches, rep.Acked, rep.Retried, rep.Failed = st.Batches, st.Acked, st.Retried, st.Failed
	return rep
}

// Status is the live snapshot for the health endpoints.
func (r *Runner) Status() telemetry.Status {
	return telemetry.Status{
		State:      r.State(),
		Key:        r.tracker.Key(),
		Checkpoint: r.tracker.Checkpoint(),
		Pending:    r.tracker.Pending(),
		LaneMarks:  r.tracker.LaneMarks(),
	}
}

func (r *Runner) State() string { return r.state.Load().(string) }

func (r *Runner) Tracker() *progress.Tracker { return r.tracker }

// Close releases what Compile opened beyond the publisher's producers.
func (r *Runner) Close() error {
	var merr *multierror.Error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	r.closers = nil
	return merr.ErrorOrNil()
}
