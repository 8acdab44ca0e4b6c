package kafka

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/twmb/franz-go/pkg/sasl/oauth"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenSource builds the OAUTHBEARER token callback from config.
// Azure takes precedence over OIDC.
func tokenSource(auth AuthConfig) (func(context.Context) (oauth.Auth, error), error) {
	if auth.Azure != nil {
		return azureTokenSource(auth.Azure)
	}
	if auth.OIDC != nil {
		return oidcTokenSource(auth.OIDC)
	}
	return nil, fmt.Errorf("OAUTHBEARER requires azure or oidc settings")
}

// azureTokenSource acquires Entra ID tokens for the namespace through the
// default credential chain (env vars, workload identity, managed identity,
// developer sign-in). Tokens are fetched per SASL handshake; the credential
// caches and refreshes internally.
func azureTokenSource(cfg *AzureAuthConfig) (func(context.Context) (oauth.Auth, error), error) {
	if cfg.Scope == "" {
		return nil, fmt.Errorf("azure scope is required (e.g. https://<namespace>.servicebus.windows.net/.default)")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}

	scope := cfg.Scope
	return func(ctx context.Context) (oauth.Auth, error) {
		token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
			Scopes: []string{scope},
		})
		if err != nil {
			return oauth.Auth{}, fmt.Errorf("acquire azure token: %w", err)
		}
		return oauth.Auth{Token: token.Token}, nil
	}, nil
}

// oidcTokenSource acquires tokens via the OAuth2 client-credentials flow
// against any OIDC provider.
func oidcTokenSource(cfg *OIDCAuthConfig) (func(context.Context) (oauth.Auth, error), error) {
	secret := cfg.ClientSecret
	if cfg.ClientSecretEnv != "" {
		secret = os.Getenv(cfg.ClientSecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("environment variable %s is not set or empty", cfg.ClientSecretEnv)
		}
	}

	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	source := ccCfg.TokenSource(context.Background())

	return func(ctx context.Context) (oauth.Auth, error) {
		token, err := source.Token()
		if err != nil {
			return oauth.Auth{}, fmt.Errorf("acquire OIDC token: %w", err)
		}
		return oauth.Auth{Token: token.AccessToken}, nil
	}, nil
}
