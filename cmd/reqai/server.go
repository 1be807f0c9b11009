package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/reqai/internal/api"
	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/config"
	"github.com/kalambet/reqai/internal/conversation"
	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/jira"
	"github.com/kalambet/reqai/internal/llm"
	"github.com/kalambet/reqai/internal/pipeline"
	"github.com/kalambet/reqai/internal/results"
	"github.com/kalambet/reqai/internal/storage"
)

// backlogMaxTokens caps the structuring completion, which is far longer
// than a chat reply.
const backlogMaxTokens = 4000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reqai HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		return runServer(host)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reqai server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve reqai tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
}

// app holds the components shared by the HTTP and MCP surfaces.
type app struct {
	cfg          config.Config
	store        *storage.Store // nil when the response log could not be opened
	results      *results.Store
	orchestrator *extraction.Orchestrator
	assistant    *pipeline.Assistant
	tokens       *jira.TokenManager
	tracker      *jira.Client
}

func newApp(cfg config.Config) (*app, error) {
	mode, err := llm.ParseMode(cfg.LLM.Mode)
	if err != nil {
		return nil, err
	}

	var provider extraction.Provider
	switch cfg.Extraction.Provider {
	case "native":
		provider = extraction.NewNativeProvider()
	default:
		timeout := parseDuration(cfg.Extraction.Timeout, 2*time.Minute, "extraction.timeout")
		provider = extraction.NewProcessProvider(cfg.Extraction.Command, cfg.Extraction.OutputFile, timeout)
	}

	snapshots := results.NewStore(cfg.Storage.DataDir)
	orchestrator := extraction.NewOrchestrator(provider, snapshots, cfg.Extraction.UploadDir)

	chat := llm.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		parseDuration(cfg.LLM.Timeout, 60*time.Second, "llm.timeout"))
	gateway := llm.NewGateway(chat, mode)
	generator := backlog.NewGenerator(chat.WithMaxTokens(backlogMaxTokens))
	builder := conversation.NewBuilder(cfg.Conversation.Window, cfg.Conversation.Head, cfg.Conversation.MaxChars)

	a := &app{cfg: cfg, results: snapshots, orchestrator: orchestrator}

	// Recording replies is best effort; the assistant runs without a log.
	var responseLog pipeline.ResponseLog
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		slog.Warn("response log unavailable, replies will not be recorded", "error", err)
	} else {
		a.store = store
		responseLog = store
	}
	a.assistant = pipeline.NewAssistant(builder, gateway, orchestrator, generator, snapshots, responseLog, cfg.LLM.Model)

	if cfg.Jira.Enabled() {
		a.tracker = jira.NewClient()
		a.tokens = jira.NewTokenManager(jira.Config{
			ClientID:      cfg.Jira.ClientID,
			ClientSecret:  cfg.Jira.ClientSecret,
			RedirectURI:   cfg.Jira.RedirectURI,
			AppURL:        cfg.Server.AppURL,
			SecureCookies: cfg.Jira.SecureCookies,
		}, a.tracker)
	} else {
		slog.Info("jira integration disabled: jira.client_id or jira.client_secret not set")
	}

	return a, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *app) handler() http.Handler {
	return api.NewHandler(api.Deps{
		Assistant:     a.assistant,
		Extractor:     a.orchestrator,
		Results:       a.results,
		Sessions:      conversation.NewSessionStore(),
		Tokens:        a.tokens,
		Tracker:       a.tracker,
		Token:         a.cfg.Server.APIToken,
		SecureCookies: a.cfg.Jira.SecureCookies,
	})
}

func (a *app) mcpServer() *server.MCPServer {
	return api.NewMCPServer(api.MCPDeps{Results: a.results, Backlog: a.assistant}, version)
}

func parseDuration(value string, def time.Duration, key string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", value, "default", def)
		return def
	}
	return d
}

func runServer(host string) error {
	fmt.Fprintf(os.Stderr, "reqai version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	if cfg.Server.APIToken == "" {
		slog.Warn("server.api_token not set, /api routes are unauthenticated")
	}

	addr := net.JoinHostPort(host, fmt.Sprint(cfg.Server.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: a.handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("reqai listening", "addr", addr, "llm_mode", cfg.LLM.Mode, "extraction", cfg.Extraction.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stdioSrv := server.NewStdioServer(a.mcpServer())
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM", "%s at %s (%s mode)", cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.Mode)
	if cfg.LLM.APIKey == "" {
		printWarning("llm.api_key not set; chat replies will use the offline fallback")
	}
	printStatus("Extraction", "%s", extractionLabel(cfg.Extraction))
	if cfg.Jira.Enabled() {
		printStatus("Jira", "enabled (redirect %s)", cfg.Jira.RedirectURI)
	} else {
		printStatus("Jira", "disabled")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func extractionLabel(c config.ExtractionConfig) string {
	if c.Provider == "native" {
		return "native readers"
	}
	return fmt.Sprintf("process %s (timeout %s)", c.Command, c.Timeout)
}
