package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sluice/internal/config"
	"sluice/internal/logging"
	"sluice/internal/pipeline"
	"sluice/internal/telemetry"
	"sluice/internal/transport"
)

// Bootstrap compiles the pipeline and starts the optional metrics and
// health endpoints. Nothing is read or published until Run.
func Bootstrap(ctx context.Context, cfg config.Config) (*Engine, error) {
	runID := uuid.NewString()
	log := logging.With("engine").With("run", runID)

	// 1. pipeline runner
	runner, err := pipeline.Compile(ctx, cfg, runID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	e := &Engine{runID: runID, runner: runner, log: log}

	// 2. metrics
	if cfg.Telemetry.HTTPAddr != "" {
		e.metrics, err = telemetry.Expose(cfg.Telemetry.HTTPAddr, runner.Status)
		if err != nil {
			_ = e.Close(ctx)
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		log.Info("metrics listening", "addr", e.metrics.Addr())
	}

	// 3. transport server
	if cfg.Telemetry.GRPCAddr != "" {
		e.transport, err = transport.StartServer(cfg.Telemetry.GRPCAddr)
		if err != nil {
			_ = e.Close(ctx)
			return nil, fmt.Errorf("transport: %w", err)
		}
		e.transport.SetState(runner.State())
		go func() {
			if err := e.transport.Serve(); err != nil {
				log.Warn("health server stopped", "err", err)
			}
		}()
		log.Info("health service listening", "addr", e.transport.Addr())
	}
	return e, nil
}
