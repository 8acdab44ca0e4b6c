package eventhub

import (
	"strings"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

func TestParseStartingPosition(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		want    kgo.Offset
	}{
		{
			name:  "replay from beginning descriptor",
			input: `{"offset":"-1","seqNo":-1,"enqueuedTime":null,"isInclusive":true}`,
			want:  kgo.NewOffset().AtStart(),
		},
		{
			name:  "latest",
			input: `{"offset":"@latest","seqNo":-1,"enqueuedTime":null,"isInclusive":true}`,
			want:  kgo.NewOffset().AtEnd(),
		},
		{
			name:  "literal offset",
			input: `{"offset":"42","seqNo":-1,"enqueuedTime":null,"isInclusive":true}`,
			want:  kgo.NewOffset().At(42),
		},
		{
			name:  "exclusive literal offset",
			input: `{"offset":"42","seqNo":-1,"enqueuedTime":null,"isInclusive":false}`,
			want:  kgo.NewOffset().At(43),
		},
		{
			name:  "sequence number wins over offset",
			input: `{"offset":"-1","seqNo":7,"enqueuedTime":null,"isInclusive":true}`,
			want:  kgo.NewOffset().At(7),
		},
		{
			name:  "exclusive sequence number",
			input: `{"offset":"-1","seqNo":7,"enqueuedTime":null,"isInclusive":false}`,
			want:  kgo.NewOffset().At(8),
		},
		{
			name:  "defaults applied for missing fields",
			input: `{}`,
			want:  kgo.NewOffset().AtStart(),
		},
		{
			name:    "garbage offset",
			input:   `{"offset":"abc","seqNo":-1,"enqueuedTime":null,"isInclusive":true}`,
			wantErr: "invalid starting offset",
		},
		{
			name:    "not json",
			input:   `offset=-1`,
			wantErr: "parse starting position",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := ParseStartingPosition(tt.input)
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
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := pos.Resolve()
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("resolved offset = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartingPosition_EnqueuedTimeWins(t *testing.T) {
	at := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := StartingPosition{Offset: OffsetEarliest, SeqNo: 99, EnqueuedTime: &at, IsInclusive: true}

	got, err := pos.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := kgo.NewOffset().AfterMilli(at.UnixMilli()); got != want {
		t.Errorf("resolved offset = %v, want %v", got, want)
	}
}

func TestStartingPosition_StringRoundTrip(t *testing.T) {
	orig := EarliestPosition()
	parsed, err := ParseStartingPosition(orig.String())
	if err != nil {
		t.Fatalf("parse rendered descriptor: %v", err)
	}
	if parsed != orig {
		t.Errorf("round trip changed descriptor: %+v != %+v", parsed, orig)
	}
	if got := orig.String(); !strings.Contains(got, `"offset":"-1"`) {
		t.Errorf("canonical form missing earliest offset: %s", got)
	}
}
