package eventhub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Offset sentinels in a starting-position descriptor.
const (
	OffsetEarliest = "-1"
	OffsetLatest   = "@latest"
)

// StartingPosition is the cursor a streaming read begins from. Resolution
// precedence: EnqueuedTime, then SeqNo (when >= 0), then Offset.
// The zero-ish descriptor {"offset":"-1","seqNo":-1,"enqueuedTime":null,
// "isInclusive":true} reads from the earliest retained record.
type StartingPosition struct {
	Offset       string     `json:"offset" yaml:"offset"`
	SeqNo        int64      `json:"seqNo" yaml:"seqNo"`
	EnqueuedTime *time.Time `json:"enqueuedTime" yaml:"enqueuedTime"`
	IsInclusive  bool       `json:"isInclusive" yaml:"isInclusive"`
}

// EarliestPosition returns the replay-from-beginning descriptor.
func EarliestPosition() StartingPosition {
	return StartingPosition{Offset: OffsetEarliest, SeqNo: -1, IsInclusive: true}
}

// LatestPosition returns a descriptor that observes only new records.
func LatestPosition() StartingPosition {
	return StartingPosition{Offset: OffsetLatest, SeqNo: -1, IsInclusive: true}
}

// ParseStartingPosition decodes the JSON descriptor form.
func ParseStartingPosition(s string) (StartingPosition, error) {
	pos := StartingPosition{SeqNo: -1, IsInclusive: true}
	if err := json.Unmarshal([]byte(s), &pos); err != nil {
		return StartingPosition{}, fmt.Errorf("parse starting position: %w", err)
	}
	if _, err := pos.Resolve(); err != nil {
		return StartingPosition{}, err
	}
	return pos, nil
}

// Resolve converts the descriptor into a client offset.
func (p StartingPosition) Resolve() (kgo.Offset, error) {
	if p.EnqueuedTime != nil {
		return kgo.NewOffset().AfterMilli(p.EnqueuedTime.UnixMilli()), nil
	}

	if p.SeqNo >= 0 {
		seq := p.SeqNo
		if !p.IsInclusive {
			seq++
		}
		return kgo.NewOffset().At(seq), nil
	}

	switch p.Offset {
	case "", OffsetEarliest:
		return kgo.NewOffset().AtStart(), nil
	case OffsetLatest:
		return kgo.NewOffset().AtEnd(), nil
	default:
		n, err := strconv.ParseInt(p.Offset, 10, 64)
		if err != nil || n < 0 {
			return kgo.Offset{}, fmt.Errorf("invalid starting offset %q", p.Offset)
		}
		if !p.IsInclusive {
			n++
		}
		return kgo.NewOffset().At(n), nil
	}
}

// String renders the descriptor in its canonical JSON form.
func (p StartingPosition) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}
