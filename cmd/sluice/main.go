package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sluice/internal/config"
	"sluice/internal/engine"
	"sluice/internal/logging"
	"sluice/internal/pipeline"
	"sluice/internal/transport"
)

const usage = `usage: sluice [run|checkpoint|health] [flags]

  run          publish the input file (default)
  checkpoint   print the stored checkpoint and resume offset
  health       probe a running pipeline's gRPC health service
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load() // optional .env next to the binary

	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		return runCmd(ctx, args, stdout, stderr)
	case "checkpoint":
		return checkpointCmd(ctx, args, stdout, stderr)
	case "health":
		return healthCmd(ctx, args, stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}

type commonFlags struct {
	config  string
	input   string
	topic   string
	brokers string
}

func parseCommon(name string, args []string, stderr io.Writer) (commonFlags, bool) {
	var f commonFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.config, "config", "sluice.yml", "config file")
	fs.StringVar(&f.input, "input", "", "input file (overrides source.path)")
	fs.StringVar(&f.topic, "topic", "", "destination topic (overrides broker.topic)")
	fs.StringVar(&f.brokers, "brokers", "", "comma-separated broker list (overrides broker.brokers)")
	return f, fs.Parse(args) == nil
}

func loadConfig(f commonFlags) (config.Config, error) {
	var brokers []string
	if f.brokers != "" {
		brokers = strings.Split(f.brokers, ",")
	}
	cfg, err := config.Load(f.config,
		config.WithInput(f.input), config.WithTopic(f.topic), config.WithBrokers(brokers))
	if err != nil {
		return cfg, err
	}
	if !logging.InitFromEnv() {
		logging.Configure(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	}
	return cfg, nil
}

func runCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, ok := parseCommon("run", args, stderr)
	if !ok {
		return 2
	}
	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "bootstrap: %v\n", err)
		return 1
	}
	rep, err := e.Run(ctx)
	if cerr := e.Close(ctx); cerr != nil {
		logging.L().Warn("shutdown", "err", cerr)
	}

	fmt.Fprint(stdout, rep.String())
	if err != nil {
		fmt.Fprintf(stderr, "sluice: %v\n", err)
		return 1
	}
	if !rep.Complete() {
		return 1
	}
	return 0
}

func checkpointCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, ok := parseCommon("checkpoint", args, stderr)
	if !ok {
		return 2
	}
	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	tracker, store, err := pipeline.OpenTracker(ctx, cfg, nil)
	if err != nil {
		fmt.Fprintf(stderr, "checkpoint: %v\n", err)
		return 1
	}
	defer store.Close()

	out := struct {
		Key          string `json:"key"`
		Checkpoint   int64  `json:"checkpoint"`
		ResumeOffset int64  `json:"resume_offset"`
	}{tracker.Key(), tracker.Checkpoint(), tracker.ResumeOffset()}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 1
	}
	return 0
}

func healthCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "localhost:9101", "gRPC health address")
	service := fs.String("service", transport.Service, "service to check (empty for the process)")
	timeout := fs.Duration("timeout", 3*time.Second, "probe timeout")
	if fs.Parse(args) != nil {
		return 2
	}

	cli, err := transport.Dial(*addr)
	if err != nil {
		fmt.Fprintf(stderr, "health: %v\n", err)
		return 1
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	st, err := cli.Check(ctx, *service)
	if err != nil {
		fmt.Fprintf(stderr, "health: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, st.String())
	if st != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}
