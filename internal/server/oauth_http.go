package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net"
	"net/url"
	"strings"
	"time"

	oauth "github.com/giantswarm/mcp-oauth"
	"github.com/giantswarm/mcp-oauth/providers/dex"
	oauthserver "github.com/giantswarm/mcp-oauth/server"
	"github.com/giantswarm/mcp-oauth/storage/memory"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	// OAuthProviderDex is the Dex OIDC provider.
	OAuthProviderDex = "dex"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second

	// DefaultWriteTimeout bounds a single MCP response. grade_lab only
	// answers once every step is graded, so this is far above a plain
	// request timeout.
	DefaultWriteTimeout = 15 * time.Minute

	callbackPath = "/oauth/callback"
)

// OAuthConfig holds configuration for the OAuth-enabled HTTP server.
type OAuthConfig struct {
	// BaseURL is the server's public base URL (e.g. https://lab-grader.example.com).
	BaseURL string

	// Provider is the OAuth provider name. Only "dex" is supported; empty
	// means dex.
	Provider string

	// DexIssuerURL is the Dex OIDC issuer URL.
	DexIssuerURL string

	// DexClientID is the Dex OAuth client ID.
	DexClientID string

	// DexClientSecret is the Dex OAuth client secret.
	DexClientSecret string
}

// OAuthHTTPServer wraps an MCP server with OAuth 2.1 authentication.
type OAuthHTTPServer struct {
	mcpServer    *mcpserver.MCPServer
	oauthServer  *oauth.Server
	oauthHandler *oauth.Handler
	httpServer   *http.Server
	mcpEndpoint  string
}

// Validate checks that the configuration is complete enough to start the
// OAuth flow. Every problem is reported, not just the first.
func (c OAuthConfig) Validate() error {
	var errs []error
	if c.Provider != "" && c.Provider != OAuthProviderDex {
		errs = append(errs, fmt.Errorf("unsupported OAuth provider %q (supported: %s)", c.Provider, OAuthProviderDex))
	}
	if err := validateHTTPSRequirement(c.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("OAuth base URL validation failed: %w", err))
	}
	if c.DexIssuerURL == "" {
		errs = append(errs, errors.New("dex issuer URL is required"))
	}
	if c.DexClientID == "" {
		errs = append(errs, errors.New("dex client ID is required"))
	}
	if c.DexClientSecret == "" {
		errs = append(errs, errors.New("dex client secret is required"))
	}
	return errors.Join(errs...)
}

// NewOAuthHTTPServer creates an HTTP server that serves mcpSrv at
// mcpEndpoint behind Dex-issued OAuth 2.1 tokens.
func NewOAuthHTTPServer(mcpSrv *mcpserver.MCPServer, mcpEndpoint string, cfg OAuthConfig) (*OAuthHTTPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	provider, err := dex.NewProvider(&dex.Config{
		IssuerURL:    cfg.DexIssuerURL,
		ClientID:     cfg.DexClientID,
		ClientSecret: cfg.DexClientSecret,
		RedirectURL:  baseURL + callbackPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Dex provider: %w", err)
	}

	// Tokens live in memory; the grader runs as a single replica and a
	// restart only forces clients to log in again.
	store := memory.New()
	logger := slog.Default().With("component", "oauth")

	oauthSrv, err := oauth.NewServer(provider, store, store, store,
		&oauthserver.Config{
			Issuer:                    baseURL,
			AllowRefreshTokenRotation: true,
			MaxClientsPerIP:           10,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth server: %w", err)
	}

	return &OAuthHTTPServer{
		mcpServer:    mcpSrv,
		oauthServer:  oauthSrv,
		oauthHandler: oauth.NewHandler(oauthSrv, logger),
		mcpEndpoint:  mcpEndpoint,
	}, nil
}

// Start listens on addr and blocks until the server stops.
func (s *OAuthHTTPServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	return s.httpServer.ListenAndServe()
}

func (s *OAuthHTTPServer) handler() http.Handler {
	mux := http.NewServeMux()
	h := s.oauthHandler

	h.RegisterAuthorizationServerMetadataRoutes(mux)
	h.RegisterProtectedResourceMetadataRoutes(mux, s.mcpEndpoint)
	for path, fn := range map[string]http.HandlerFunc{
		"/oauth/authorize":  h.ServeAuthorization,
		"/oauth/token":      h.ServeToken,
		callbackPath:        h.ServeCallback,
		"/oauth/register":   h.ServeClientRegistration,
		"/oauth/revoke":     h.ServeTokenRevocation,
		"/oauth/introspect": h.ServeTokenIntrospection,
	} {
		mux.HandleFunc(path, fn)
	}

	mcpHandler := mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(s.mcpEndpoint),
	)
	mux.Handle(s.mcpEndpoint, h.ValidateToken(mcpHandler))
	mux.HandleFunc("/healthz", Healthz)

	return mux
}

// Healthz is the unauthenticated liveness handler.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Shutdown stops the OAuth background workers and drains the HTTP server.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	var errs []error
	if s.oauthServer != nil {
		if err := s.oauthServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down OAuth server: %w", err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// validateHTTPSRequirement enforces HTTPS for the public base URL. Plain
// HTTP is accepted for loopback hosts so the OAuth flow can be tried locally.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return errors.New("base URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("OAuth 2.1 requires HTTPS outside localhost (got: %s)", baseURL)
	default:
		return fmt.Errorf("invalid URL scheme: %s (must be https, or http for localhost)", u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
