// Package eventhub defines the record model and connection handling shared by
// the producer, consumer, and live view.
package eventhub

import (
	"errors"
	"fmt"
	"time"
)

// EventRecord is a message to be written to the hub. Body is required.
// PartitionID pins the record to a partition; PartitionKey hash-routes it.
// With neither set, the service distributes records round-robin.
type EventRecord struct {
	Body         string `json:"body"`
	PartitionID  string `json:"partitionId,omitempty"`
	PartitionKey string `json:"partitionKey,omitempty"`
}

// Validate checks the record against the hub schema contract.
func (r *EventRecord) Validate() error {
	var errs []error

	if r.Body == "" {
		errs = append(errs, errors.New("body is required"))
	}
	if r.PartitionID != "" && r.PartitionKey != "" {
		errs = append(errs, errors.New("partitionId and partitionKey are mutually exclusive"))
	}

	return errors.Join(errs...)
}

// ValidateBatch validates every record in a batch, reporting the index of
// each failing record.
func ValidateBatch(records []EventRecord) error {
	var errs []error
	for i := range records {
		if err := records[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ReceivedRecord is a record as observed by the streaming read, carrying the
// position metadata the service assigned at enqueue time.
type ReceivedRecord struct {
	Body         string            `json:"body"`
	Partition    int32             `json:"partition"`
	Offset       int64             `json:"offset"`
	SeqNo        int64             `json:"seqNo"`
	EnqueuedTime time.Time         `json:"enqueuedTime"`
	PartitionKey string            `json:"partitionKey,omitempty"`
	Headers      map[string]string `json:"-"`
}

// DemoBatch returns the five literal walkthrough messages. Sending it twice
// appends ten records; delivery is not deduplicated.
func DemoBatch() []EventRecord {
	records := make([]EventRecord, 5)
	for i := range records {
		records[i] = EventRecord{Body: fmt.Sprintf("This is new message %d!", i+1)}
	}
	return records
}
