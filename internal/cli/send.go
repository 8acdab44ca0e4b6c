package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/producer"
)

// sender abstracts the producer for testing.
type sender interface {
	Send(ctx context.Context, records []eventhub.EventRecord) error
	Close() error
}

// newSenderFunc is the function used to create a producer.
// Tests can replace this to stub out the actual client.
var newSenderFunc = func(cfg producer.Config, logger *slog.Logger) (sender, error) {
	return producer.New(cfg, logger)
}

// RunSend writes records to the event hub.
func RunSend(args []string) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Println(`Usage: hubtap send [options]

Writes records to the event hub. Without --body or --file, sends the five
demo messages ("This is new message N!"). Sending the same batch again
appends it; records are never deduplicated.

Options:
  --profile <path>            Profile file (default: none, env/flags only)
  --connection-string <cs>    Event Hubs connection string (or HUBTAP_CONNECTION_STRING)
  --hub <name>                Event hub, overriding the profile/EntityPath
  --body <text>               Record body; repeat for multiple records
  --file <path>               JSONL file, one record per line: {"body":...,"partitionId":...,"partitionKey":...}
  --count <n>                 Send the batch n times (default: 1)
  --rate <n>                  Cap at n records per second
  --partition-id <id>         Pin records without a route to this partition
  --partition-key <key>       Hash-route records without a route by this key

Examples:
  hubtap send
  hubtap send --body '{"device":"sensor-1","temp":21.5}' --partition-key sensor-1
  hubtap send --file readings.jsonl --rate 100`)
		return nil
	}

	p, err := loadProfile(args, true)
	if err != nil {
		return err
	}

	bodies, err := parseStringFlagAll(args, "--body")
	if err != nil {
		return err
	}
	filePath, err := parseStringFlag(args, "--file")
	if err != nil {
		return err
	}
	if len(bodies) > 0 && filePath != "" {
		return fmt.Errorf("cannot specify both --body and --file")
	}
	count, err := parseIntFlag(args, "--count", 1)
	if err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("--count must be >= 1")
	}
	partitionID, err := parseStringFlag(args, "--partition-id")
	if err != nil {
		return err
	}
	partitionKey, err := parseStringFlag(args, "--partition-key")
	if err != nil {
		return err
	}
	if partitionID != "" && partitionKey != "" {
		return fmt.Errorf("--partition-id and --partition-key are mutually exclusive")
	}
	if rateStr, err := parseStringFlag(args, "--rate"); err != nil {
		return err
	} else if rateStr != "" {
		if _, err := fmt.Sscanf(rateStr, "%f", &p.Rate); err != nil || p.Rate <= 0 {
			return fmt.Errorf("invalid --rate value %q", rateStr)
		}
	}

	records, err := buildBatch(bodies, filePath)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].PartitionID == "" && records[i].PartitionKey == "" {
			records[i].PartitionID = partitionID
			records[i].PartitionKey = partitionKey
		}
	}
	if err := eventhub.ValidateBatch(records); err != nil {
		return err
	}

	cluster, topic, err := p.Cluster()
	if err != nil {
		return err
	}

	s, err := newSenderFunc(producer.Config{
		Cluster: cluster,
		Topic:   topic,
		Rate:    p.Rate,
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	defer func() { _ = s.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()

	sent := 0
	for i := 0; i < count; i++ {
		if err := s.Send(ctx, records); err != nil {
			return fmt.Errorf("send batch %d: %w", i+1, err)
		}
		sent += len(records)
	}

	fmt.Printf("Sent %d record(s) to %s\n", sent, topic)
	return nil
}

func buildBatch(bodies []string, filePath string) ([]eventhub.EventRecord, error) {
	if len(bodies) > 0 {
		records := make([]eventhub.EventRecord, len(bodies))
		for i, b := range bodies {
			records[i] = eventhub.EventRecord{Body: b}
		}
		return records, nil
	}
	if filePath == "" {
		return eventhub.DemoBatch(), nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var records []eventhub.EventRecord
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec eventhub.EventRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("invalid record on line %d: %w", lineNum, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no records found in %s", filePath)
	}
	return records, nil
}
