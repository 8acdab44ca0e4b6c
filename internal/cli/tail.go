package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"time"

	"github.com/hubtap/hubtap/internal/checkpoint"
	"github.com/hubtap/hubtap/internal/consumer"
	"github.com/hubtap/hubtap/internal/eventhub"
)

// tailConsumer abstracts the consumer for testing.
type tailConsumer interface {
	Start(ctx context.Context, handler consumer.Handler) error
	Close() error
}

// newTailConsumerFunc is the function used to create a consumer.
// Tests can replace this to stub out the actual client.
var newTailConsumerFunc = func(cfg consumer.Config, logger *slog.Logger) (tailConsumer, error) {
	return consumer.New(cfg, logger)
}

// RunTail streams records from the event hub to stdout.
func RunTail(args []string) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Println(`Usage: hubtap tail [options]

Streams records from the event hub and prints them. By default reads from
the earliest retained record and stops after 10 messages.

Options:
  --profile <path>            Profile file
  --connection-string <cs>    Event Hubs connection string (or HUBTAP_CONNECTION_STRING)
  --hub <name>                Event hub, overriding the profile/EntityPath
  --group <name>              Consumer group; offsets are committed to the service
  --from-beginning            Start from the earliest record (offset "-1")
  --latest                    Start from the end of the stream
  --starting-position <json>  Position descriptor, e.g. '{"offset":"-1","seqNo":-1,"enqueuedTime":null,"isInclusive":true}'
  --checkpoint <path>         Checkpoint file; resumes past it on restart
  --max-messages <n>          Stop after n messages (default: 10)
  --follow                    Keep streaming until interrupted

Examples:
  hubtap tail --from-beginning
  hubtap tail --follow --checkpoint /tmp/hubtap/checkpoint.json
  hubtap tail --starting-position '{"seqNo":100,"isInclusive":true}'`)
		return nil
	}

	p, err := loadProfile(args, true)
	if err != nil {
		return err
	}

	position := eventhub.EarliestPosition()
	if p.StartingPosition != nil {
		position = *p.StartingPosition
	}
	if raw, err := parseStringFlag(args, "--starting-position"); err != nil {
		return err
	} else if raw != "" {
		position, err = eventhub.ParseStartingPosition(raw)
		if err != nil {
			return err
		}
	}
	if hasFlag(args, "--from-beginning") {
		position = eventhub.EarliestPosition()
	}
	if hasFlag(args, "--latest") {
		position = eventhub.LatestPosition()
	}

	maxMessages, err := parseIntFlag(args, "--max-messages", 10)
	if err != nil {
		return err
	}
	follow := hasFlag(args, "--follow")

	cpPath, err := parseStringFlag(args, "--checkpoint")
	if err != nil {
		return err
	}
	if cpPath == "" {
		cpPath = p.CheckpointLocation
	}
	var store *checkpoint.Store
	if cpPath != "" && p.Group == "" {
		store, err = checkpoint.NewStore(cpPath)
		if err != nil {
			return err
		}
	}

	cluster, topic, err := p.Cluster()
	if err != nil {
		return err
	}

	c, err := newTailConsumerFunc(consumer.Config{
		Cluster:     cluster,
		Topic:       topic,
		Position:    position,
		Group:       p.Group,
		Checkpoints: store,
		LagInterval: time.Duration(p.LagInterval),
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer func() { _ = c.Close() }()

	fmt.Printf("Tailing %s from %s\n\n", topic, position)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	count := 0
	err = c.Start(ctx, func(_ context.Context, rec eventhub.ReceivedRecord) error {
		// The read drains its in-flight fetch after cancel; records past the
		// limit are dropped here rather than printed.
		if !follow && count >= maxMessages {
			return nil
		}
		printRecord(rec)
		count++
		if !follow && count >= maxMessages {
			cancel()
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("\nObserved %d record(s)\n", count)
	return nil
}

func printRecord(rec eventhub.ReceivedRecord) {
	fmt.Printf("---\n")
	fmt.Printf("Partition:    %d\n", rec.Partition)
	fmt.Printf("Offset:       %d\n", rec.Offset)
	fmt.Printf("SeqNo:        %d\n", rec.SeqNo)
	fmt.Printf("EnqueuedTime: %s\n", rec.EnqueuedTime.Format(time.RFC3339))
	if rec.PartitionKey != "" {
		fmt.Printf("PartitionKey: %s\n", rec.PartitionKey)
	}
	fmt.Printf("Body:         %s\n", rec.Body)
}
