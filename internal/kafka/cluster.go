// Package kafka provides cluster configuration and connection options for the
// Kafka-protocol endpoint of an event hub.
package kafka

import (
	"errors"
	"fmt"

	"github.com/hubtap/hubtap/internal/eventhub"
)

// ClusterConfig defines the hub endpoint with authentication and TLS settings.
type ClusterConfig struct {
	Brokers []string   `yaml:"brokers"`
	Auth    AuthConfig `yaml:"auth,omitempty"`
	TLS     TLSConfig  `yaml:"tls,omitempty"`
}

// AuthConfig defines SASL authentication.
type AuthConfig struct {
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512, OAUTHBEARER
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`

	// OAUTHBEARER settings. Azure takes precedence over OIDC when both are set.
	Azure *AzureAuthConfig `yaml:"azure,omitempty"`
	OIDC  *OIDCAuthConfig  `yaml:"oidc,omitempty"`
}

// AzureAuthConfig requests Entra ID tokens through the ambient credential
// chain (env vars, workload identity, managed identity, CLI).
type AzureAuthConfig struct {
	Scope string `yaml:"scope"` // defaults to https://<namespace>/.default
}

// OIDCAuthConfig acquires tokens via the client-credentials flow.
type OIDCAuthConfig struct {
	ClientID        string   `yaml:"clientId"`
	ClientSecret    string   `yaml:"clientSecret,omitempty"`
	ClientSecretEnv string   `yaml:"clientSecretEnv,omitempty"`
	TokenURL        string   `yaml:"tokenUrl"`
	Scopes          []string `yaml:"scopes,omitempty"`
}

// TLSConfig defines TLS settings for the connection.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CAFile     string `yaml:"caFile,omitempty"`
	CertFile   string `yaml:"certFile,omitempty"` // For mTLS
	KeyFile    string `yaml:"keyFile,omitempty"`
	SkipVerify bool   `yaml:"skipVerify,omitempty"`
}

// FromConnectionString builds the cluster configuration for an Event Hubs
// namespace: SASL PLAIN with the connection string as password, TLS on unless
// the endpoint is the development emulator.
func FromConnectionString(cs *eventhub.ConnectionString) *ClusterConfig {
	return &ClusterConfig{
		Brokers: []string{cs.Broker()},
		Auth: AuthConfig{
			Mechanism: "PLAIN",
			Username:  eventhub.SASLUser,
			Password:  cs.SASLPassword(),
		},
		TLS: TLSConfig{Enabled: cs.TLSRequired()},
	}
}

// Validate checks the cluster configuration for errors.
func (c *ClusterConfig) Validate() error {
	var errs []error

	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("at least one broker is required"))
	}

	switch c.Auth.Mechanism {
	case "":
	case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		if c.Auth.Username == "" {
			errs = append(errs, errors.New("auth.username is required when mechanism is set"))
		}
		if c.Auth.Password == "" {
			errs = append(errs, errors.New("auth.password is required when mechanism is set"))
		}
	case "OAUTHBEARER":
		if c.Auth.Azure == nil && c.Auth.OIDC == nil {
			errs = append(errs, errors.New("auth.azure or auth.oidc is required for OAUTHBEARER"))
		}
		if c.Auth.OIDC != nil {
			if c.Auth.OIDC.ClientID == "" {
				errs = append(errs, errors.New("auth.oidc.clientId is required"))
			}
			if c.Auth.OIDC.TokenURL == "" {
				errs = append(errs, errors.New("auth.oidc.tokenUrl is required"))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported SASL mechanism: %s", c.Auth.Mechanism))
	}

	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errs = append(errs, errors.New("tls.keyFile is required when certFile is specified"))
	}
	if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
		errs = append(errs, errors.New("tls.certFile is required when keyFile is specified"))
	}

	return errors.Join(errs...)
}
