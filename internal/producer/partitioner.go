package producer

import "github.com/twmb/franz-go/pkg/kgo"

// unpinned marks a record that carries no explicit partition directive.
// Record.Partition defaults to 0, which the partitioner would read as a pin.
const unpinned = -1

// hubPartitioner reproduces the hub's routing contract: an explicit partition
// id wins, a partition key hashes, and keyless records fall through to the
// sticky partitioner, which spreads them across partitions the way the
// service round-robins unrouted events.
type hubPartitioner struct {
	fallback kgo.Partitioner
}

func newHubPartitioner() kgo.Partitioner {
	return &hubPartitioner{fallback: kgo.StickyKeyPartitioner(nil)}
}

func (p *hubPartitioner) ForTopic(topic string) kgo.TopicPartitioner {
	return &hubTopicPartitioner{fallback: p.fallback.ForTopic(topic)}
}

type hubTopicPartitioner struct {
	fallback kgo.TopicPartitioner
}

func (p *hubTopicPartitioner) RequiresConsistency(r *kgo.Record) bool {
	if r.Partition >= 0 {
		return true
	}
	return p.fallback.RequiresConsistency(r)
}

func (p *hubTopicPartitioner) Partition(r *kgo.Record, n int) int {
	if r.Partition >= 0 && int(r.Partition) < n {
		return int(r.Partition)
	}
	return p.fallback.Partition(r, n)
}
