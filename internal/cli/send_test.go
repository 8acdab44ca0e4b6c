package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hubtap/hubtap/internal/config"
	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/producer"
)

const testConnectionString = "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=policy;SharedAccessKey=secret;EntityPath=hub1"

type fakeSender struct {
	cfg     producer.Config
	batches [][]eventhub.EventRecord
	err     error
	closed  bool
}

func (f *fakeSender) Send(_ context.Context, records []eventhub.EventRecord) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, records)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func withFakeSender(t *testing.T, fake *fakeSender) {
	t.Helper()
	orig := newSenderFunc
	newSenderFunc = func(cfg producer.Config, _ *slog.Logger) (sender, error) {
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() { newSenderFunc = orig })
}

func TestRunSend_DemoBatch(t *testing.T) {
	t.Setenv(config.EnvConnectionString, testConnectionString)
	fake := &fakeSender{}
	withFakeSender(t, fake)

	if err := RunSend(nil); err != nil {
		t.Fatalf("run send: %v", err)
	}

	if len(fake.batches) != 1 {
		t.Fatalf("batches = %d", len(fake.batches))
	}
	batch := fake.batches[0]
	if len(batch) != 5 {
		t.Fatalf("batch size = %d, want 5", len(batch))
	}
	if batch[0].Body != "This is new message 1!" || batch[4].Body != "This is new message 5!" {
		t.Errorf("unexpected demo bodies: %+v", batch)
	}
	if fake.cfg.Topic != "hub1" {
		t.Errorf("topic = %q", fake.cfg.Topic)
	}
	if !fake.closed {
		t.Error("sender not closed")
	}
}

func TestRunSend_ResendAppendsAnotherBatch(t *testing.T) {
	t.Setenv(config.EnvConnectionString, testConnectionString)
	fake := &fakeSender{}
	withFakeSender(t, fake)

	if err := RunSend([]string{"--count", "2"}); err != nil {
		t.Fatalf("run send: %v", err)
	}
	if len(fake.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(fake.batches))
	}
}

func TestRunSend_BodyWithPartitionKey(t *testing.T) {
	t.Setenv(config.EnvConnectionString, testConnectionString)
	fake := &fakeSender{}
	withFakeSender(t, fake)

	err := RunSend([]string{"--body", `{"temp":21.5}`, "--partition-key", "sensor-1"})
	if err != nil {
		t.Fatalf("run send: %v", err)
	}

	batch := fake.batches[0]
	if len(batch) != 1 || batch[0].Body != `{"temp":21.5}` {
		t.Fatalf("batch = %+v", batch)
	}
	if batch[0].PartitionKey != "sensor-1" {
		t.Errorf("partition key = %q", batch[0].PartitionKey)
	}
}

func TestRunSend_RepeatedBody(t *testing.T) {
	t.Setenv(config.EnvConnectionString, testConnectionString)
	fake := &fakeSender{}
	withFakeSender(t, fake)

	if err := RunSend([]string{"--body", "one", "--body", "two"}); err != nil {
		t.Fatalf("run send: %v", err)
	}
	batch := fake.batches[0]
	if len(batch) != 2 || batch[0].Body != "one" || batch[1].Body != "two" {
		t.Fatalf("batch = %+v", batch)
	}
}

func TestRunSend_FromFile(t *testing.T) {
	t.Setenv(config.EnvConnectionString, testConnectionString)
	fake := &fakeSender{}
	withFakeSender(t, fake)

	path := filepath.Join(t.TempDir(), "records.jsonl")
	content := `{"body":"one"}

{"body":"two","partitionId":"1"}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if err := RunSend([]string{"--file", path}); err != nil {
		t.Fatalf("run send: %v", err)
	}

	batch := fake.batches[0]
	if len(batch) != 2 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch[1].PartitionID != "1" {
		t.Errorf("partition id = %q", batch[1].PartitionID)
	}
}

func TestRunSend_Errors(t *testing.T) {
	badFile := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(badFile, []byte("not json\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "body and file conflict",
			args:    []string{"--body", "x", "--file", "y"},
			wantErr: "cannot specify both",
		},
		{
			name:    "conflicting routes",
			args:    []string{"--partition-id", "0", "--partition-key", "k"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "invalid rate",
			args:    []string{"--rate", "fast"},
			wantErr: "invalid --rate",
		},
		{
			name:    "invalid file record",
			args:    []string{"--file", badFile},
			wantErr: "invalid record on line 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(config.EnvConnectionString, testConnectionString)
			withFakeSender(t, &fakeSender{})

			err := RunSend(tt.args)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRunSend_MissingCredentialFailsBeforeSending(t *testing.T) {
	t.Setenv(config.EnvConnectionString, "")
	fake := &fakeSender{}
	withFakeSender(t, fake)

	if err := RunSend(nil); err == nil {
		t.Fatal("expected error without a connection string")
	}
	if len(fake.batches) != 0 {
		t.Errorf("records sent despite missing credential: %+v", fake.batches)
	}
}

func TestRunSend_BrokerError(t *testing.T) {
	t.Setenv(config.EnvConnectionString, testConnectionString)
	withFakeSender(t, &fakeSender{err: errors.New("broker down")})

	err := RunSend(nil)
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("unexpected error: %v", err)
	}
}
