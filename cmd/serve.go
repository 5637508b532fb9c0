package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/giantswarm/lab-grader/internal/grader"
	mcptools "github.com/giantswarm/lab-grader/internal/mcp"
	"github.com/giantswarm/lab-grader/internal/prompt"
	"github.com/giantswarm/lab-grader/internal/server"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"

	shutdownTimeout = 10 * time.Second
)

type serveOptions struct {
	transport    string
	httpAddr     string
	httpEndpoint string
	inCluster    bool
	outputDir    string
	labsDir      string
	templateFile string
	debug        bool

	// Grading defaults; MCP tool arguments override them per call.
	gradingModel string
	endpoint     string
	apiKey       string
	repetitions  int
	attachImages bool

	enableOAuth bool
	oauth       oauthConfig
}

type oauthConfig struct {
	baseURL         string
	provider        string
	dexIssuerURL    string
	dexClientID     string
	dexClientSecret string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server exposing the lab grading tools via the Model Context Protocol.

Supports multiple transport types:
  - stdio: Standard input/output (default, for IDE integration)
  - streamable-http: HTTP with streaming support (for remote access)

When using streamable-http transport, OAuth 2.1 authentication can be enabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.debug {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}

			sc, err := newServerContext(cmd, opts)
			if err != nil {
				return err
			}

			mcpSrv := mcpserver.NewMCPServer("lab-grader", rootCmd.Version,
				mcpserver.WithToolCapabilities(true),
			)
			if err := mcptools.RegisterTools(mcpSrv, sc); err != nil {
				return fmt.Errorf("failed to register MCP tools: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			switch opts.transport {
			case transportStdio:
				if err := mcpserver.ServeStdio(mcpSrv); err != nil {
					return fmt.Errorf("server stopped with error: %w", err)
				}
				return nil
			case transportStreamableHTTP:
				fmt.Printf("Starting lab-grader MCP server with %s transport...\n", opts.transport)
				if opts.enableOAuth {
					return runOAuthHTTPServer(ctx, mcpSrv, opts.httpAddr, opts.httpEndpoint, opts.oauth)
				}
				return runHTTPServer(ctx, mcpSrv, opts.httpAddr, opts.httpEndpoint)
			default:
				return fmt.Errorf("unsupported transport: %s (supported: %s, %s)", opts.transport, transportStdio, transportStreamableHTTP)
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	f.StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http)")
	f.StringVar(&opts.httpEndpoint, "http-endpoint", "/mcp", "HTTP endpoint path (for streamable-http)")
	f.BoolVar(&opts.inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication")
	f.StringVar(&opts.outputDir, "output-dir", "results", "Directory for grading results")
	f.StringVar(&opts.labsDir, "labs-dir", "", "External labs directory (optional)")
	f.StringVar(&opts.templateFile, "template", "", "Grading template file overriding lab and built-in templates")
	f.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	f.StringVar(&opts.gradingModel, "grading-model", grader.DefaultGradingModel, "Default grading model")
	f.StringVar(&opts.endpoint, "endpoint", "", "Default OpenAI-compatible API endpoint URL")
	f.StringVar(&opts.apiKey, "api-key", "", "API key (or set OPENAI_API_KEY)")
	f.IntVar(&opts.repetitions, "repetitions", 1, "Default grading passes per step")
	f.BoolVar(&opts.attachImages, "attach-images", false, "Send image evidence to the model as image inputs by default")

	f.BoolVar(&opts.enableOAuth, "enable-oauth", false, "Enable OAuth 2.1 authentication (for HTTP transport)")
	f.StringVar(&opts.oauth.baseURL, "oauth-base-url", "", "OAuth base URL (e.g. https://lab-grader.example.com)")
	f.StringVar(&opts.oauth.provider, "oauth-provider", server.OAuthProviderDex, "OAuth provider: dex")
	f.StringVar(&opts.oauth.dexIssuerURL, "dex-issuer-url", "", "Dex OIDC issuer URL (or set DEX_ISSUER_URL)")
	f.StringVar(&opts.oauth.dexClientID, "dex-client-id", "", "Dex OAuth client ID (or set DEX_CLIENT_ID)")
	f.StringVar(&opts.oauth.dexClientSecret, "dex-client-secret", "", "Dex OAuth client secret (or set DEX_CLIENT_SECRET)")

	return cmd
}

// newServerContext wires the shared dependencies of the MCP tools. A
// missing cluster only disables the model deployment tools.
func newServerContext(cmd *cobra.Command, opts serveOptions) (*server.ServerContext, error) {
	if opts.templateFile != "" {
		if _, err := prompt.LoadTemplate(opts.templateFile); err != nil {
			return nil, err
		}
	}

	namespace, _ := cmd.Flags().GetString("namespace")
	sc := &server.ServerContext{
		LLMClient:    newLLMClientFromFlags(opts.endpoint, opts.apiKey, opts.gradingModel),
		Namespace:    namespace,
		OutputDir:    opts.outputDir,
		LabsDir:      opts.labsDir,
		TemplatePath: opts.templateFile,
		Grader: grader.Config{
			Model:        opts.gradingModel,
			Repetitions:  opts.repetitions,
			AttachImages: opts.attachImages,
		},
	}

	m, err := newKServeManagerFromFlags(cmd, opts.inCluster)
	if err != nil {
		slog.Warn("KServe manager not available, grader model tools disabled", "error", err)
	} else {
		sc.KServeManager = m
	}
	return sc, nil
}

func runHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, addr, endpoint string) error {
	mux := http.NewServeMux()
	mux.Handle(endpoint, mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath(endpoint),
	))
	mux.HandleFunc("/healthz", server.Healthz)

	fmt.Printf("  HTTP endpoint: %s\n", endpoint)
	fmt.Printf("  Health: /healthz\n")

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      server.DefaultWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return serveUntilDone(ctx, "HTTP server", httpServer.ListenAndServe, httpServer.Shutdown)
}

func runOAuthHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, addr, endpoint string, cfg oauthConfig) error {
	if cfg.baseURL == "" {
		return errors.New("--oauth-base-url is required when --enable-oauth is set")
	}

	oauthSrv, err := server.NewOAuthHTTPServer(mcpSrv, endpoint, server.OAuthConfig{
		BaseURL:         cfg.baseURL,
		Provider:        cfg.provider,
		DexIssuerURL:    envDefault(cfg.dexIssuerURL, "DEX_ISSUER_URL"),
		DexClientID:     envDefault(cfg.dexClientID, "DEX_CLIENT_ID"),
		DexClientSecret: envDefault(cfg.dexClientSecret, "DEX_CLIENT_SECRET"),
	})
	if err != nil {
		return fmt.Errorf("failed to create OAuth HTTP server: %w", err)
	}

	fmt.Printf("OAuth-enabled HTTP server starting on %s\n", addr)
	fmt.Printf("  Base URL: %s\n", cfg.baseURL)
	fmt.Printf("  MCP endpoint: %s (requires OAuth Bearer token)\n", endpoint)
	fmt.Printf("  Health: /healthz\n")
	fmt.Printf("  Metadata: /.well-known/oauth-authorization-server, /.well-known/oauth-protected-resource\n")

	start := func() error { return oauthSrv.Start(addr) }
	return serveUntilDone(ctx, "OAuth HTTP server", start, oauthSrv.Shutdown)
}

// serveUntilDone runs start until it fails or ctx is cancelled, in which
// case the server is shut down gracefully. Grading requests still in flight
// get shutdownTimeout to finish.
func serveUntilDone(ctx context.Context, name string, start func() error, shutdown func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Printf("Shutdown signal received, stopping %s...\n", name)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			return fmt.Errorf("error shutting down %s: %w", name, err)
		}
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s error: %w", name, err)
		}
	}

	fmt.Printf("%s stopped\n", name)
	return nil
}

func envDefault(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}
