package secret

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OIDCConfig configures a client-credentials token source against an
// OIDC issuer. Used for providers fronted by an identity-aware proxy or
// workload-identity federation, where the outbound credential is a
// short-lived access token rather than a static key.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Audience     string
}

// OIDCTokenSource discovers the issuer's token endpoint once and mints
// access tokens on demand, refreshing before expiry via the oauth2
// token source's own caching.
type OIDCTokenSource struct {
	cfg OIDCConfig

	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewOIDCTokenSource validates the configuration; discovery happens
// lazily on first Token call so construction never needs the network.
func NewOIDCTokenSource(cfg OIDCConfig) (*OIDCTokenSource, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("oidc token source needs issuer_url, client_id, and client_secret")
	}
	return &OIDCTokenSource{cfg: cfg}, nil
}

// Token implements provider.TokenSource.
func (o *OIDCTokenSource) Token() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.source == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		issuer, err := oidc.NewProvider(ctx, o.cfg.IssuerURL)
		if err != nil {
			return "", fmt.Errorf("oidc discovery: %w", err)
		}
		cc := clientcredentials.Config{
			ClientID:     o.cfg.ClientID,
			ClientSecret: o.cfg.ClientSecret,
			TokenURL:     issuer.Endpoint().TokenURL,
			Scopes:       o.cfg.Scopes,
		}
		if o.cfg.Audience != "" {
			cc.EndpointParams = map[string][]string{"audience": {o.cfg.Audience}}
		}
		o.source = cc.TokenSource(context.Background())
	}

	tok, err := o.source.Token()
	if err != nil {
		return "", fmt.Errorf("oidc token: %w", err)
	}
	return tok.AccessToken, nil
}
