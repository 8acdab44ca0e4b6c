package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hubtap/hubtap/internal/api"
	"github.com/hubtap/hubtap/internal/checkpoint"
	"github.com/hubtap/hubtap/internal/config"
	"github.com/hubtap/hubtap/internal/consumer"
	"github.com/hubtap/hubtap/internal/dlq"
	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/observability"
	"github.com/hubtap/hubtap/internal/producer"
	"github.com/hubtap/hubtap/internal/tracing"
	"github.com/hubtap/hubtap/internal/view"
)

// RunServe runs the streaming read into a live view and serves it over HTTP.
func RunServe(args []string) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Println(`Usage: hubtap serve [options]

Starts the streaming read into a named in-memory view and serves it:

  GET  /v1/view            rows, with ?limit and ?filter (CEL expression)
  GET  /v1/view/count      row count of the view
  GET  /v1/view/histogram  counts per enqueued-time bucket, ?bucket=1s
  POST /v1/send            write records (JSON array or CloudEvent)
  GET  /healthz, /readyz, /metrics

Options:
  --profile <path>            Profile file; watched for changes
  --connection-string <cs>    Event Hubs connection string (or HUBTAP_CONNECTION_STRING)
  --hub <name>                Event hub, overriding the profile/EntityPath
  --group <name>              Consumer group for the streaming read
  --addr <host:port>          Listen address (default: :8080)
  --log-level <level>         debug, info, warn, or error`)
		return nil
	}

	p, err := loadProfile(args, true)
	if err != nil {
		return err
	}

	profilePath, err := parseStringFlag(args, "--profile")
	if err != nil {
		return err
	}
	addr, err := parseStringFlag(args, "--addr")
	if err != nil {
		return err
	}
	if addr == "" {
		addr = p.ServeAddr
	}
	levelFlag, err := parseStringFlag(args, "--log-level")
	if err != nil {
		return err
	}

	logger := observability.NewLogger("hubtap", observability.GetLogLevel(levelFlag))
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	tracer, shutdownTracing, err := tracing.Initialize(tracing.GetConfig("hubtap"), logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	cluster, topic, err := p.Cluster()
	if err != nil {
		return err
	}

	prod, err := producer.New(producer.Config{Cluster: cluster, Topic: topic, Rate: p.Rate}, logger)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	defer func() { _ = prod.Close() }()
	prod.SetTracer(tracer)
	prod.SetMetrics(metrics)

	var store *checkpoint.Store
	if p.CheckpointLocation != "" && p.Group == "" {
		store, err = checkpoint.NewStore(p.CheckpointLocation)
		if err != nil {
			return err
		}
	}

	position := eventhub.EarliestPosition()
	if p.StartingPosition != nil {
		position = *p.StartingPosition
	}

	cons, err := consumer.New(consumer.Config{
		Cluster:     cluster,
		Topic:       topic,
		Position:    position,
		Group:       p.Group,
		Checkpoints: store,
		LagInterval: time.Duration(p.LagInterval),
	}, logger)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer func() { _ = cons.Close() }()
	cons.SetTracer(tracer)
	cons.SetMetrics(metrics)
	if p.DeadLetter {
		cons.SetDLQ(dlq.NewHandler(prod))
	}

	health := observability.NewHealthServer()
	// Readiness stays false until the streaming read has actually connected.
	cons.SetOnConnected(func() { health.SetReady(true) })

	v := view.New(p.View)
	v.SetMetrics(metrics)
	views := view.NewRegistry()
	views.Register(v)

	querier, err := view.NewQuerier()
	if err != nil {
		return err
	}

	server, err := api.NewServer(
		api.Config{ListenAddr: addr, ViewName: v.Name()},
		views, querier, prod, health, metrics, registry, logger,
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if profilePath != "" {
		loader := config.NewLoader(profilePath, logger)
		loader.OnChange(func(*config.Profile) {
			logger.Info("profile changed, restart serve to apply")
		})
		go func() {
			if err := loader.Watch(ctx.Done()); err != nil {
				logger.Error("profile watch failed", "error", err)
			}
		}()
	}

	consumerErr := make(chan error, 1)
	go func() {
		err := cons.Start(ctx, func(_ context.Context, rec eventhub.ReceivedRecord) error {
			v.Append(rec)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			consumerErr <- err
		}
		cancel()
	}()

	logger.Info("serving view",
		"view", v.Name(),
		"hub", topic,
		"addr", addr,
		"position", position.String(),
	)

	err = server.Start(ctx)
	select {
	case cerr := <-consumerErr:
		return fmt.Errorf("streaming read: %w", cerr)
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
