package eventhub

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// SASLUser is the username Event Hubs expects for connection-string
// authentication over the Kafka endpoint.
const SASLUser = "$ConnectionString"

// kafkaPort is the Kafka-protocol port exposed by an Event Hubs namespace.
const kafkaPort = 9093

// ConnectionString is a parsed Event Hubs connection string of the form
// Endpoint=sb://NS.servicebus.windows.net/;SharedAccessKeyName=..;SharedAccessKey=..;EntityPath=..
type ConnectionString struct {
	Namespace    string // host portion of the sb:// endpoint
	KeyName      string
	Key          string
	EntityPath   string // event hub name, optional
	UseEmulator  bool
	raw          string
	emulatorPort string
}

// ParseConnectionString parses an Event Hubs connection string. The credential
// itself is opaque; only enough structure is extracted to reach the Kafka
// endpoint of the namespace.
func ParseConnectionString(s string) (*ConnectionString, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("connection string is empty")
	}

	cs := &ConnectionString{raw: s}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed connection string segment %q", redactSegment(part))
		}
		switch key {
		case "Endpoint":
			u, err := url.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("parse endpoint: %w", err)
			}
			if u.Scheme != "sb" {
				return nil, fmt.Errorf("endpoint scheme %q is not sb", u.Scheme)
			}
			cs.Namespace = u.Hostname()
			cs.emulatorPort = u.Port()
		case "SharedAccessKeyName":
			cs.KeyName = value
		case "SharedAccessKey":
			cs.Key = value
		case "EntityPath":
			cs.EntityPath = value
		case "UseDevelopmentEmulator":
			cs.UseEmulator = strings.EqualFold(value, "true")
		}
	}

	var errs []error
	if cs.Namespace == "" {
		errs = append(errs, errors.New("Endpoint is required"))
	}
	if !cs.UseEmulator {
		if cs.KeyName == "" {
			errs = append(errs, errors.New("SharedAccessKeyName is required"))
		}
		if cs.Key == "" {
			errs = append(errs, errors.New("SharedAccessKey is required"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	return cs, nil
}

// Broker returns the Kafka bootstrap address for the namespace.
func (c *ConnectionString) Broker() string {
	if c.UseEmulator && c.emulatorPort != "" {
		return fmt.Sprintf("%s:%s", c.Namespace, c.emulatorPort)
	}
	return fmt.Sprintf("%s:%d", c.Namespace, kafkaPort)
}

// SASLPassword returns the password for SASL PLAIN against the Kafka endpoint,
// which is the full connection string itself.
func (c *ConnectionString) SASLPassword() string {
	return c.raw
}

// TLSRequired reports whether the endpoint requires TLS. The development
// emulator listens in plaintext.
func (c *ConnectionString) TLSRequired() bool {
	return !c.UseEmulator
}

// String renders the connection string with the shared access key redacted.
// The raw credential never appears in logs or errors.
func (c *ConnectionString) String() string {
	return redact(c.raw)
}

func redact(s string) string {
	parts := strings.Split(s, ";")
	for i, part := range parts {
		parts[i] = redactSegment(part)
	}
	return strings.Join(parts, ";")
}

func redactSegment(part string) string {
	if key, _, ok := strings.Cut(part, "="); ok && key == "SharedAccessKey" {
		return "SharedAccessKey=***"
	}
	return part
}
