// Package view holds consumed records in a named, append-only in-memory
// relation and answers queries against it.
package view

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/observability"
)

// DefaultName is the view name the walkthrough registers its stream under.
const DefaultName = "eventhubEvents"

// View is a live relation over the streaming read. Appends come from the
// consumer; queries may run concurrently. The view only ever grows — counts
// are eventually consistent with what producers have written.
type View struct {
	name    string
	mu      sync.RWMutex
	rows    []eventhub.ReceivedRecord
	metrics *observability.Metrics
}

// New creates an empty view registered under name.
func New(name string) *View {
	if name == "" {
		name = DefaultName
	}
	return &View{name: name}
}

// SetMetrics wires the row gauge.
func (v *View) SetMetrics(m *observability.Metrics) {
	v.metrics = m
}

// Name returns the name the view is registered under.
func (v *View) Name() string {
	return v.name
}

// Append adds a consumed record to the relation.
func (v *View) Append(rec eventhub.ReceivedRecord) {
	v.mu.Lock()
	v.rows = append(v.rows, rec)
	n := len(v.rows)
	v.mu.Unlock()

	if v.metrics != nil {
		v.metrics.ViewRows.WithLabelValues(v.name).Set(float64(n))
	}
}

// Count returns the number of rows observed so far.
func (v *View) Count() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return int64(len(v.rows))
}

// Rows returns up to limit rows in arrival order. limit <= 0 returns all.
func (v *View) Rows(limit int) []eventhub.ReceivedRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()

	n := len(v.rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]eventhub.ReceivedRecord, n)
	copy(out, v.rows[:n])
	return out
}

// Bucket is one histogram bar: the count of records enqueued within the same
// truncated time window.
type Bucket struct {
	Time  time.Time `json:"time"`
	Count int64     `json:"count"`
}

// Histogram groups rows by enqueued time truncated to the bucket width and
// returns the buckets in time order.
func (v *View) Histogram(bucket time.Duration) ([]Bucket, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %s", bucket)
	}

	v.mu.RLock()
	counts := make(map[time.Time]int64)
	for i := range v.rows {
		counts[v.rows[i].EnqueuedTime.Truncate(bucket)]++
	}
	v.mu.RUnlock()

	buckets := make([]Bucket, 0, len(counts))
	for t, n := range counts {
		buckets = append(buckets, Bucket{Time: t, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Time.Before(buckets[j].Time) })
	return buckets, nil
}

// snapshot returns a stable copy of the rows for filtering.
func (v *View) snapshot() []eventhub.ReceivedRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]eventhub.ReceivedRecord, len(v.rows))
	copy(out, v.rows)
	return out
}

// Registry maps view names to live views, the way the walkthrough registers
// its stream as a temporary view for querying.
type Registry struct {
	mu    sync.RWMutex
	views map[string]*View
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]*View)}
}

// Register adds or replaces a view under its name.
func (r *Registry) Register(v *View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[v.Name()] = v
}

// Get looks up a view by name.
func (r *Registry) Get(name string) (*View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[name]
	return v, ok
}
