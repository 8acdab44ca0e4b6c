package producer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hubtap/hubtap/internal/correlation"
	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/kafka"
)

// fakeClient records produced records and optionally fails.
type fakeClient struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeClient) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	if f.err != nil {
		return kgo.ProduceResults{{Err: f.err}}
	}
	results := make(kgo.ProduceResults, len(rs))
	for i, r := range rs {
		results[i] = kgo.ProduceResult{Record: r}
	}
	return results
}

func (f *fakeClient) Close() { f.closed = true }

func testProducer(fake *fakeClient) *Producer {
	return &Producer{client: fake, topic: "hub1", logger: slog.Default()}
}

func TestSend_DemoBatch(t *testing.T) {
	fake := &fakeClient{}
	p := testProducer(fake)

	if err := p.Send(context.Background(), eventhub.DemoBatch()); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fake.records) != 5 {
		t.Fatalf("produced %d records, want 5", len(fake.records))
	}
	for i, r := range fake.records {
		if r.Topic != "hub1" {
			t.Errorf("record %d topic = %q", i, r.Topic)
		}
		if r.Key != nil {
			t.Errorf("record %d should be keyless for round-robin routing", i)
		}
		if r.Partition != unpinned {
			t.Errorf("record %d partition = %d, want unpinned", i, r.Partition)
		}
	}
	if got := string(fake.records[0].Value); got != "This is new message 1!" {
		t.Errorf("first body = %q", got)
	}
}

func TestSend_AppendsOnResend(t *testing.T) {
	fake := &fakeClient{}
	p := testProducer(fake)

	batch := eventhub.DemoBatch()
	for i := 0; i < 2; i++ {
		if err := p.Send(context.Background(), batch); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	// Delivery is not deduplicated: the second send appends five more.
	if len(fake.records) != 10 {
		t.Errorf("produced %d records, want 10", len(fake.records))
	}
}

func TestSend_Routing(t *testing.T) {
	fake := &fakeClient{}
	p := testProducer(fake)

	records := []eventhub.EventRecord{
		{Body: "pinned", PartitionID: "2"},
		{Body: "keyed", PartitionKey: "device-42"},
		{Body: "free"},
	}
	if err := p.Send(context.Background(), records); err != nil {
		t.Fatalf("send: %v", err)
	}

	if fake.records[0].Partition != 2 {
		t.Errorf("pinned record partition = %d", fake.records[0].Partition)
	}
	if string(fake.records[1].Key) != "device-42" {
		t.Errorf("keyed record key = %q", fake.records[1].Key)
	}
	if fake.records[2].Key != nil || fake.records[2].Partition != unpinned {
		t.Errorf("free record must stay unrouted: key=%q partition=%d",
			fake.records[2].Key, fake.records[2].Partition)
	}
}

func TestSend_RejectsInvalidBatchBeforeSubmission(t *testing.T) {
	fake := &fakeClient{}
	p := testProducer(fake)

	records := []eventhub.EventRecord{
		{Body: "ok"},
		{}, // null body
	}
	err := p.Send(context.Background(), records)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "body is required") {
		t.Errorf("unexpected error: %v", err)
	}
	if len(fake.records) != 0 {
		t.Errorf("no record may reach the client on schema rejection, got %d", len(fake.records))
	}
}

func TestSend_InvalidPartitionID(t *testing.T) {
	fake := &fakeClient{}
	p := testProducer(fake)

	err := p.Send(context.Background(), []eventhub.EventRecord{{Body: "x", PartitionID: "abc"}})
	if err == nil || !strings.Contains(err.Error(), "invalid partitionId") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSend_ClientError(t *testing.T) {
	fake := &fakeClient{err: errors.New("broker unreachable")}
	p := testProducer(fake)

	err := p.Send(context.Background(), eventhub.DemoBatch())
	if err == nil || !strings.Contains(err.Error(), "broker unreachable") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSend_AddsCorrelationHeader(t *testing.T) {
	fake := &fakeClient{}
	p := testProducer(fake)

	if err := p.Send(context.Background(), []eventhub.EventRecord{{Body: "x"}}); err != nil {
		t.Fatalf("send: %v", err)
	}

	found := false
	for _, h := range fake.records[0].Headers {
		if h.Key == correlation.HeaderCorrelationID && len(h.Value) > 0 {
			found = true
		}
	}
	if !found {
		t.Error("record missing correlation header")
	}
}

func TestPublish_RawMessage(t *testing.T) {
	fake := &fakeClient{}
	p := testProducer(fake)

	err := p.Publish(context.Background(), "hub1.dlq", nil, []byte("payload"), map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fake.records[0].Topic != "hub1.dlq" {
		t.Errorf("topic = %q", fake.records[0].Topic)
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(Config{Topic: "hub1"}, nil); err == nil {
		t.Error("expected error for missing cluster")
	}
	cluster := &kafka.ClusterConfig{Brokers: []string{"localhost:9092"}}
	if _, err := New(Config{Cluster: cluster}, nil); err == nil {
		t.Error("expected error for missing topic")
	}
}
