// Package consumer opens a continuous read against the hub and dispatches
// each record to a handler.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hubtap/hubtap/internal/checkpoint"
	"github.com/hubtap/hubtap/internal/correlation"
	"github.com/hubtap/hubtap/internal/dlq"
	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/kafka"
	"github.com/hubtap/hubtap/internal/observability"
	"github.com/hubtap/hubtap/internal/tracing"
)

// client abstracts the kafka client methods used by Consumer for testing.
type client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	Close()
}

// newClientFunc creates the kafka client. Tests replace this to stub out the
// network.
var newClientFunc = func(opts ...kgo.Opt) (client, error) {
	return kgo.NewClient(opts...)
}

// endOffsetLister is the admin surface used for lag measurement.
type endOffsetLister interface {
	ListEndOffsets(ctx context.Context, topics ...string) (kadm.ListedOffsets, error)
}

// Handler receives each record observed by the read. Returning an error
// routes the record to the dead-letter handler (when configured); the read
// keeps going either way.
type Handler func(ctx context.Context, rec eventhub.ReceivedRecord) error

// Config holds consumer configuration.
type Config struct {
	Cluster  *kafka.ClusterConfig // endpoint with auth/TLS (required)
	Topic    string               // event hub name (required)
	Position eventhub.StartingPosition

	// Group enables broker-side offset tracking: offsets commit after the
	// handler succeeds, at-least-once. Without a group the read is direct and
	// Checkpoints (when set) records resume progress locally.
	Group       string
	Checkpoints *checkpoint.Store

	// LagInterval controls how often partition lag is measured.
	// Zero disables lag reporting.
	LagInterval time.Duration
}

// Consumer is a long-running streaming read. It blocks in Start until the
// context is cancelled, draining the in-flight fetch before returning.
type Consumer struct {
	cfg         Config
	client      client
	admin       endOffsetLister
	cp          *checkpoint.Checkpoint
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *observability.Metrics
	dlq         *dlq.Handler
	onConnected func()
	lastLag     time.Time
}

// New validates the configuration. The client connects on Start.
func New(cfg Config, logger *slog.Logger) (*Consumer, error) {
	if cfg.Cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if err := cfg.Cluster.Validate(); err != nil {
		return nil, fmt.Errorf("cluster config: %w", err)
	}
	if _, err := cfg.Position.Resolve(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		cfg:    cfg,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("consumer"),
	}, nil
}

// SetTracer sets the tracer for the consumer.
func (c *Consumer) SetTracer(tracer trace.Tracer) {
	c.tracer = tracer
}

// SetMetrics wires the consumer counters and lag gauge.
func (c *Consumer) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// SetDLQ routes handler failures to a dead-letter handler.
func (c *Consumer) SetDLQ(h *dlq.Handler) {
	c.dlq = h
}

// SetOnConnected registers a callback invoked once the read has connected,
// before the first poll.
func (c *Consumer) SetOnConnected(fn func()) {
	c.onConnected = fn
}

// Start connects and consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	if c.onConnected != nil {
		c.onConnected()
	}

	c.logger.Info("streaming read started",
		"topic", c.cfg.Topic,
		"position", c.cfg.Position.String(),
		"group", c.cfg.Group,
	)

	for {
		fetches := c.client.PollFetches(ctx)

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				if ctx.Err() != nil {
					break
				}
				c.logger.Error("fetch error", "topic", err.Topic, "partition", err.Partition, "error", err.Err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			c.handleRecord(ctx, record, handler)
		})

		if c.cfg.Group == "" && c.cfg.Checkpoints != nil && c.cp != nil {
			if err := c.cfg.Checkpoints.Save(c.cp); err != nil {
				c.logger.Error("checkpoint save failed", "error", err)
			}
		}

		c.maybeReportLag(ctx)

		// Check for cancellation after the batch so records from the last
		// fetch are fully drained before exit.
		if ctx.Err() != nil {
			c.logger.Info("streaming read drained", "topic", c.cfg.Topic)
			return ctx.Err()
		}
	}
}

func (c *Consumer) handleRecord(ctx context.Context, record *kgo.Record, handler Handler) {
	rec := eventhub.ReceivedRecord{
		Body:         string(record.Value),
		Partition:    record.Partition,
		Offset:       record.Offset,
		SeqNo:        record.Offset,
		EnqueuedTime: record.Timestamp,
		PartitionKey: string(record.Key),
		Headers:      make(map[string]string, len(record.Headers)),
	}
	for _, h := range record.Headers {
		rec.Headers[h.Key] = string(h.Value)
	}

	corrID := correlation.ExtractOrGenerate(rec.Headers)
	recordCtx := correlation.ExtractTraceContext(ctx, rec.Headers)

	spanCtx, span := tracing.StartSpan(recordCtx, c.tracer, tracing.SpanReceive,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			tracing.TopicAttr(record.Topic),
			tracing.PartitionAttr(record.Partition),
			tracing.OffsetAttr(record.Offset),
			tracing.CorrelationAttr(corrID.Value),
		),
	)
	defer span.End()

	if c.metrics != nil {
		c.metrics.RecordsReceived.
			WithLabelValues(record.Topic, strconv.Itoa(int(record.Partition))).
			Inc()
	}

	if err := handler(spanCtx, rec); err != nil {
		tracing.SetSpanError(span, err)
		c.logger.Error("handler error",
			"topic", record.Topic,
			"partition", record.Partition,
			"offset", record.Offset,
			"error", err,
		)
		c.sendToDLQ(spanCtx, record, corrID.Value, err)
		return
	}

	if c.cfg.Group != "" {
		c.client.MarkCommitRecords(record)
		if err := c.client.CommitMarkedOffsets(ctx); err != nil {
			tracing.SetSpanError(span, err)
			c.logger.Error("commit error", "topic", record.Topic, "offset", record.Offset, "error", err)
			return
		}
		// Mirror committed progress locally so lag measurement can subtract it.
		if c.cp != nil {
			c.cp.Advance(record.Partition, record.Offset)
		}
	} else if c.cp != nil {
		c.cp.Advance(record.Partition, record.Offset)
	}
	tracing.SetSpanOK(span)
}

func (c *Consumer) sendToDLQ(ctx context.Context, record *kgo.Record, corrID string, cause error) {
	if c.dlq == nil {
		return
	}
	info := dlq.FailureInfo{
		OriginalTopic: record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		ErrorCode:     "HANDLER_FAILED",
		ErrorMessage:  cause.Error(),
		CorrelationID: corrID,
	}
	if err := c.dlq.Send(ctx, record.Key, record.Value, info); err != nil {
		c.logger.Error("dlq send failed", "topic", record.Topic, "offset", record.Offset, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.DLQTotal.WithLabelValues(record.Topic).Inc()
	}
}

// connect builds the client, resuming from the checkpoint in direct mode.
func (c *Consumer) connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	base, err := kafka.ClientOptions(c.cfg.Cluster)
	if err != nil {
		return fmt.Errorf("cluster options: %w", err)
	}

	reset, err := c.cfg.Position.Resolve()
	if err != nil {
		return err
	}

	// cp tracks handled offsets in both modes: direct mode persists it through
	// the store, group mode only feeds lag measurement.
	c.cp = &checkpoint.Checkpoint{Topic: c.cfg.Topic}

	if c.cfg.Group != "" {
		opts := append(base,
			kgo.ConsumerGroup(c.cfg.Group),
			kgo.ConsumeTopics(c.cfg.Topic),
			kgo.ConsumeResetOffset(reset),
			kgo.DisableAutoCommit(),
		)
		cl, err := newClientFunc(opts...)
		if err != nil {
			return fmt.Errorf("kafka client: %w", err)
		}
		c.client = cl
		c.initAdmin()
		return nil
	}

	var resume *checkpoint.Checkpoint
	if c.cfg.Checkpoints != nil {
		resume, err = c.cfg.Checkpoints.Load()
		if err != nil {
			return err
		}
		if resume != nil && resume.Topic != c.cfg.Topic {
			return fmt.Errorf("checkpoint is for topic %q, not %q", resume.Topic, c.cfg.Topic)
		}
	}

	var opts []kgo.Opt
	if resume != nil && len(resume.Partitions) > 0 {
		offsets, err := c.resumeOffsets(ctx, base, resume, reset)
		if err != nil {
			return err
		}
		c.cp.Partitions = resume.Partitions
		opts = append(base, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			c.cfg.Topic: offsets,
		}))
	} else {
		opts = append(base,
			kgo.ConsumeTopics(c.cfg.Topic),
			kgo.ConsumeResetOffset(reset),
		)
	}

	cl, err := newClientFunc(opts...)
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	c.client = cl
	c.initAdmin()
	return nil
}

// resumeOffsets maps every partition of the topic to either its checkpointed
// next offset or the configured starting position. Partitions added since the
// checkpoint was written start from the configured position.
func (c *Consumer) resumeOffsets(ctx context.Context, base []kgo.Opt, resume *checkpoint.Checkpoint, reset kgo.Offset) (map[int32]kgo.Offset, error) {
	adminClient, err := kgo.NewClient(base...)
	if err != nil {
		return nil, fmt.Errorf("admin client: %w", err)
	}
	defer adminClient.Close()

	adm := kadm.NewClient(adminClient)
	details, err := adm.ListTopics(ctx, c.cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("list topic %s: %w", c.cfg.Topic, err)
	}
	detail, ok := details[c.cfg.Topic]
	if !ok || detail.Err != nil {
		return nil, fmt.Errorf("topic %s not found", c.cfg.Topic)
	}

	offsets := make(map[int32]kgo.Offset, len(detail.Partitions))
	for _, p := range detail.Partitions {
		if next, ok := resume.Partitions[p.Partition]; ok {
			offsets[p.Partition] = kgo.NewOffset().At(next)
		} else {
			offsets[p.Partition] = reset
		}
	}
	return offsets, nil
}

func (c *Consumer) initAdmin() {
	if kc, ok := c.client.(*kgo.Client); ok {
		c.admin = kadm.NewClient(kc)
	}
}

// maybeReportLag updates the per-partition lag gauge at the configured
// interval.
func (c *Consumer) maybeReportLag(ctx context.Context) {
	if c.metrics == nil || c.admin == nil || c.cfg.LagInterval <= 0 {
		return
	}
	if time.Since(c.lastLag) < c.cfg.LagInterval {
		return
	}
	c.lastLag = time.Now()

	ends, err := c.admin.ListEndOffsets(ctx, c.cfg.Topic)
	if err != nil {
		c.logger.Debug("lag lookup failed", "error", err)
		return
	}
	ends.Each(func(o kadm.ListedOffset) {
		var consumed int64
		if c.cp != nil {
			consumed = c.cp.Partitions[o.Partition]
		}
		lag := o.Offset - consumed
		if lag < 0 {
			lag = 0
		}
		c.metrics.ConsumerLag.
			WithLabelValues(c.cfg.Topic, strconv.Itoa(int(o.Partition))).
			Set(float64(lag))
	})
}

// Close performs graceful shutdown of the client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
