// Package producer writes event records to the hub.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/hubtap/hubtap/internal/correlation"
	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/kafka"
	"github.com/hubtap/hubtap/internal/observability"
	"github.com/hubtap/hubtap/internal/tracing"
)

// client abstracts the kafka client methods used by Producer for testing.
type client interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Config holds producer configuration.
type Config struct {
	Cluster *kafka.ClusterConfig // endpoint with auth/TLS (required)
	Topic   string               // event hub name (required)
	Rate    float64              // records per second, 0 = unlimited
}

// Producer writes event records to one event hub. Writes are synchronous and
// append-only; re-sending a batch appends it again.
type Producer struct {
	client  client
	topic   string
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
}

// New creates a new Producer.
func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	if cfg.Cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if err := cfg.Cluster.Validate(); err != nil {
		return nil, fmt.Errorf("cluster config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := kafka.ClientOptions(cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}
	opts = append(opts,
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordPartitioner(newHubPartitioner()),
	)

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	return &Producer{
		client:  cl,
		topic:   cfg.Topic,
		limiter: limiter,
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer("producer"),
	}, nil
}

// SetTracer sets the tracer for the producer.
func (p *Producer) SetTracer(tracer trace.Tracer) {
	p.tracer = tracer
}

// SetMetrics wires the producer counters.
func (p *Producer) SetMetrics(m *observability.Metrics) {
	p.metrics = m
}

// Send validates and writes a batch of records. The whole batch is rejected
// before submission if any record fails the schema check.
func (p *Producer) Send(ctx context.Context, records []eventhub.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := eventhub.ValidateBatch(records); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanSend,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			tracing.TopicAttr(p.topic),
			tracing.BatchSizeAttr(len(records)),
		),
	)
	defer span.End()

	start := time.Now()
	for i := range records {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				tracing.SetSpanError(span, err)
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		record, err := p.toRecord(ctx, &records[i])
		if err != nil {
			tracing.SetSpanError(span, err)
			return fmt.Errorf("record %d: %w", i, err)
		}

		results := p.client.ProduceSync(ctx, record)
		if err := results.FirstErr(); err != nil {
			if p.metrics != nil {
				p.metrics.SendErrors.WithLabelValues(p.topic).Inc()
			}
			tracing.SetSpanError(span, err)
			return fmt.Errorf("send record %d: %w", i, err)
		}
		if p.metrics != nil {
			p.metrics.RecordsSent.WithLabelValues(p.topic).Inc()
		}
	}

	tracing.SetSpanOK(span)
	p.logger.Info("batch sent",
		"topic", p.topic,
		"records", len(records),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Publish sends a single raw message. Implements dlq.Publisher.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Partition: unpinned,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// toRecord converts an EventRecord into a wire record with correlation and
// trace headers.
func (p *Producer) toRecord(ctx context.Context, r *eventhub.EventRecord) (*kgo.Record, error) {
	record := &kgo.Record{
		Topic:     p.topic,
		Value:     []byte(r.Body),
		Partition: unpinned,
	}

	if r.PartitionKey != "" {
		record.Key = []byte(r.PartitionKey)
	}
	if r.PartitionID != "" {
		id, err := strconv.ParseInt(r.PartitionID, 10, 32)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid partitionId %q", r.PartitionID)
		}
		record.Partition = int32(id)
	}

	headers := map[string]string{}
	corrID := correlation.ExtractOrGenerate(headers)
	headers = correlation.AddToHeaders(headers, corrID)
	headers = correlation.InjectTraceContext(ctx, headers)
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	return record, nil
}

// Close shuts down the underlying client, flushing buffered records.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
