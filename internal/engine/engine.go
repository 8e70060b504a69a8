// Package engine runs one ingestion job together with its observability
// endpoints.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"sluice/internal/pipeline"
	"sluice/internal/telemetry"
	"sluice/internal/transport"
)

type Engine struct {
	runID     string
	runner    *pipeline.Runner
	metrics   *telemetry.Server
	transport *transport.Server
	log       *slog.Logger
}

func (e *Engine) RunID() string { return e.runID }

// Run executes the pipeline to completion. Cancelling ctx asks it to stop;
// see pipeline.Runner.Run.
func (e *Engine) Run(ctx context.Context) (pipeline.Report, error) {
	if e.transport != nil {
		e.transport.SetState(pipeline.StateRunning)
	}
	rep, err := e.runner.Run(ctx)
	if e.transport != nil {
		e.transport.SetState(e.runner.State())
	}
	return rep, err
}

// Close stops the endpoints and releases the pipeline's resources.
func (e *Engine) Close(ctx context.Context) error {
	var merr *multierror.Error
	if e.transport != nil {
		e.transport.Stop()
	}
	if e.metrics != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.metrics.Shutdown(sctx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := e.runner.Close(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
