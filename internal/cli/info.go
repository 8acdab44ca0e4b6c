package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hubtap/hubtap/internal/kafka"
)

// hubAdmin abstracts the admin client for testing.
type hubAdmin interface {
	ListTopics(ctx context.Context, topics ...string) (kadm.TopicDetails, error)
	ListStartOffsets(ctx context.Context, topics ...string) (kadm.ListedOffsets, error)
	ListEndOffsets(ctx context.Context, topics ...string) (kadm.ListedOffsets, error)
	Close()
}

// newAdminFunc is the function used to create an admin client.
// Tests can replace this to stub out the actual client.
var newAdminFunc = func(cluster *kafka.ClusterConfig) (hubAdmin, error) {
	opts, err := kafka.ClientOptions(cluster)
	if err != nil {
		return nil, err
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return kadm.NewClient(cl), nil
}

// RunInfo prints the partition layout and offset range of the event hub.
func RunInfo(args []string) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Println(`Usage: hubtap info [options]

Prints the partitions of the event hub with their earliest and latest
offsets. The difference is the number of retained records per partition.

Options:
  --profile <path>            Profile file
  --connection-string <cs>    Event Hubs connection string (or HUBTAP_CONNECTION_STRING)
  --hub <name>                Event hub, overriding the profile/EntityPath`)
		return nil
	}

	p, err := loadProfile(args, true)
	if err != nil {
		return err
	}
	cluster, topic, err := p.Cluster()
	if err != nil {
		return err
	}

	adm, err := newAdminFunc(cluster)
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	defer adm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	details, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list topic %s: %w", topic, err)
	}
	detail, ok := details[topic]
	if !ok || detail.Err != nil {
		return fmt.Errorf("event hub %q not found", topic)
	}

	starts, err := adm.ListStartOffsets(ctx, topic)
	if err != nil {
		return fmt.Errorf("list start offsets: %w", err)
	}
	ends, err := adm.ListEndOffsets(ctx, topic)
	if err != nil {
		return fmt.Errorf("list end offsets: %w", err)
	}

	partitions := make([]int32, 0, len(detail.Partitions))
	for id := range detail.Partitions {
		partitions = append(partitions, id)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	fmt.Printf("Event hub:  %s\n", topic)
	fmt.Printf("Partitions: %d\n\n", len(partitions))
	fmt.Printf("%-10s %-12s %-12s %s\n", "PARTITION", "EARLIEST", "LATEST", "RECORDS")

	var total int64
	for _, id := range partitions {
		start, _ := starts.Lookup(topic, id)
		end, _ := ends.Lookup(topic, id)
		retained := end.Offset - start.Offset
		if retained < 0 {
			retained = 0
		}
		total += retained
		fmt.Printf("%-10d %-12d %-12d %d\n", id, start.Offset, end.Offset, retained)
	}
	fmt.Printf("\nRetained records: %d\n", total)
	return nil
}
