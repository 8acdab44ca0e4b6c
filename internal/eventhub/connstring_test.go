package eventhub

import (
	"strings"
	"testing"
)

const sampleConnString = "Endpoint=sb://demo.servicebus.windows.net/;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=c2VjcmV0;EntityPath=hub1"

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		check   func(t *testing.T, cs *ConnectionString)
	}{
		{
			name:  "full connection string",
			input: sampleConnString,
			check: func(t *testing.T, cs *ConnectionString) {
				if cs.Namespace != "demo.servicebus.windows.net" {
					t.Errorf("namespace = %q", cs.Namespace)
				}
				if cs.EntityPath != "hub1" {
					t.Errorf("entity path = %q", cs.EntityPath)
				}
				if got := cs.Broker(); got != "demo.servicebus.windows.net:9093" {
					t.Errorf("broker = %q", got)
				}
				if !cs.TLSRequired() {
					t.Error("expected TLS required")
				}
				if cs.SASLPassword() != sampleConnString {
					t.Error("SASL password must be the raw connection string")
				}
			},
		},
		{
			name:  "without entity path",
			input: "Endpoint=sb://demo.servicebus.windows.net/;SharedAccessKeyName=send;SharedAccessKey=abc",
			check: func(t *testing.T, cs *ConnectionString) {
				if cs.EntityPath != "" {
					t.Errorf("entity path = %q", cs.EntityPath)
				}
			},
		},
		{
			name:  "development emulator",
			input: "Endpoint=sb://localhost:5672;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=SAS_KEY_VALUE;UseDevelopmentEmulator=true;",
			check: func(t *testing.T, cs *ConnectionString) {
				if !cs.UseEmulator {
					t.Error("expected emulator mode")
				}
				if got := cs.Broker(); got != "localhost:5672" {
					t.Errorf("broker = %q", got)
				}
				if cs.TLSRequired() {
					t.Error("emulator endpoint must not require TLS")
				}
			},
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: "connection string is empty",
		},
		{
			name:    "missing endpoint",
			input:   "SharedAccessKeyName=send;SharedAccessKey=abc",
			wantErr: "Endpoint is required",
		},
		{
			name:    "missing key",
			input:   "Endpoint=sb://demo.servicebus.windows.net/;SharedAccessKeyName=send",
			wantErr: "SharedAccessKey is required",
		},
		{
			name:    "wrong scheme",
			input:   "Endpoint=https://demo.servicebus.windows.net/;SharedAccessKeyName=send;SharedAccessKey=abc",
			wantErr: "is not sb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := ParseConnectionString(tt.input)
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
			tt.check(t, cs)
		})
	}
}

func TestConnectionString_Redaction(t *testing.T) {
	cs, err := ParseConnectionString(sampleConnString)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	s := cs.String()
	if strings.Contains(s, "c2VjcmV0") {
		t.Errorf("String() leaked the shared access key: %s", s)
	}
	if !strings.Contains(s, "SharedAccessKey=***") {
		t.Errorf("String() should carry a redaction marker: %s", s)
	}
	if !strings.Contains(s, "EntityPath=hub1") {
		t.Errorf("non-secret fields should survive redaction: %s", s)
	}
}
