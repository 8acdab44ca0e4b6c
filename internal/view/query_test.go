package view

import (
	"context"
	"strings"
	"testing"
	"time"
)

func populatedView(t *testing.T) *View {
	t.Helper()
	v := New("")
	base := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	bodies := []string{
		"This is new message 1!",
		"This is new message 2!",
		"This is new message 3!",
		"alert: disk full",
		"alert: cpu hot",
	}
	for i, b := range bodies {
		rec := row(int64(i), b, base.Add(time.Duration(i)*time.Second))
		rec.Partition = int32(i % 2)
		rec.PartitionKey = "key-" + b[:5]
		v.Append(rec)
	}
	return v
}

func TestQuerier_Select(t *testing.T) {
	q, err := NewQuerier()
	if err != nil {
		t.Fatalf("new querier: %v", err)
	}
	v := populatedView(t)

	tests := []struct {
		name    string
		expr    string
		limit   int
		want    int
		wantErr string
	}{
		{
			name: "empty expression matches all",
			expr: "",
			want: 5,
		},
		{
			name: "body prefix",
			expr: `body.startsWith("alert:")`,
			want: 2,
		},
		{
			name: "partition filter",
			expr: "partition == 0",
			want: 3,
		},
		{
			name: "offset range",
			expr: "offset >= 1 && offset < 4",
			want: 3,
		},
		{
			name: "enqueued time comparison",
			expr: `enqueuedTime > timestamp("2019-06-01T12:00:02Z")`,
			want: 2,
		},
		{
			name:  "limit applies to matches",
			expr:  `body.contains("message")`,
			limit: 2,
			want:  2,
		},
		{
			name:    "compile error",
			expr:    "body ==",
			wantErr: "compile filter",
		},
		{
			name:    "non-boolean result",
			expr:    "offset + 1",
			wantErr: "must evaluate to a boolean",
		},
		{
			name:    "unknown variable",
			expr:    "payload == 1",
			wantErr: "compile filter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.Select(context.Background(), v, tt.expr, tt.limit)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("matched %d rows, want %d", len(got), tt.want)
			}
		})
	}
}

func TestQuerier_ProgramCacheReuse(t *testing.T) {
	q, err := NewQuerier()
	if err != nil {
		t.Fatalf("new querier: %v", err)
	}
	v := populatedView(t)

	const expr = "partition == 1"
	if _, err := q.Select(context.Background(), v, expr, 0); err != nil {
		t.Fatalf("first select: %v", err)
	}
	if _, ok := q.programs[expr]; !ok {
		t.Fatal("program not cached")
	}
	if _, err := q.Select(context.Background(), v, expr, 0); err != nil {
		t.Fatalf("cached select: %v", err)
	}
}

func TestQuerier_Timeout(t *testing.T) {
	q, err := NewQuerier()
	if err != nil {
		t.Fatalf("new querier: %v", err)
	}
	q.SetTimeout(-time.Second) // already expired

	_, err = q.Select(context.Background(), populatedView(t), "partition == 0", 0)
	if err == nil || !strings.Contains(err.Error(), "query timeout") {
		t.Fatalf("unexpected error: %v", err)
	}
}
