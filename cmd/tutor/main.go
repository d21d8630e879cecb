// Command tutor runs the AI tutor: the HTTP API with its A2A agent, the MCP
// tool server over stdio, or the standalone inbox watcher.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/academia-ai/tutor/internal/api"
	"github.com/academia-ai/tutor/internal/api/a2aagent"
	"github.com/academia-ai/tutor/internal/api/mcpserver"
	domainauth "github.com/academia-ai/tutor/internal/domain/auth"
	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/domain/tutor"
	"github.com/academia-ai/tutor/internal/infra/config"
	"github.com/academia-ai/tutor/internal/infra/eventbus"
	"github.com/academia-ai/tutor/internal/infra/filewatch"
	"github.com/academia-ai/tutor/internal/infra/llm"
	"github.com/academia-ai/tutor/internal/infra/sqlite"
	"github.com/academia-ai/tutor/internal/server"
	"github.com/academia-ai/tutor/internal/version"
	pkgauth "github.com/academia-ai/tutor/pkg/auth"
)

const (
	cmdServe   = "serve"
	cmdMCP     = "mcp"
	cmdWatch   = "watch"
	cmdVersion = "version"
	cmdHelp    = "help"
)

var errNoInbox = errors.New("TUTOR_INBOX_DIR is not set")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("tutor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	showVersion := fs.Bool("version", false, "Show version information")
	showHelp := fs.Bool("help", false, "Show help")
	debug := fs.Bool("debug", false, "Log at debug level")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}
	if *showHelp {
		printHelp(out)
		return 0
	}

	command := cmdServe
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	switch command {
	case cmdVersion:
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	case cmdHelp:
		printHelp(out)
		return 0
	case cmdServe, cmdMCP, cmdWatch:
	default:
		fmt.Fprintf(out, "unknown command %q\n\n", command) //nolint:errcheck
		printHelp(out)
		return 2
	}

	cfg := config.Load()
	logger := newLogger(cfg.LogLevel, *debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case cmdServe:
		err = serve(ctx, cfg, logger)
	case cmdMCP:
		err = serveMCP(ctx, cfg, logger)
	case cmdWatch:
		err = watch(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("tutor: exiting", "command", command, "error", err)
		return 1
	}
	return 0
}

// newLogger writes text logs to stderr; stdout is reserved for the MCP transport.
func newLogger(level string, debug bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	if debug {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// ===== WIRING =====

// app holds the services shared by every command.
type app struct {
	db     *sql.DB
	bus    *eventbus.Bus
	ingest *knowledge.IngestService
	tutor  *tutor.Tutor
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	catalog, err := llm.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if catalog, err = catalog.WithDefault(cfg.DefaultProvider, cfg.DefaultModel); err != nil {
		return nil, fmt.Errorf("default model: %w", err)
	}

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()

	var embedder llm.Embedder
	if cfg.OllamaEmbedModel != "" {
		embedder = llm.NewOllamaProvider(cfg.OllamaHost, cfg.OllamaEmbedModel, llm.WithTimeout(cfg.LLMTimeout))
		go knowledge.NewEmbedderService(db, embedder, cfg.OllamaEmbedModel, logger).Start(ctx, bus)
	}
	ingest := knowledge.NewIngestService(db, bus, logger)
	search := knowledge.NewSearchService(db, embedder, cfg.OllamaEmbedModel, logger)

	retry := llm.DefaultRetryPolicy()
	retry.BaseDelay = cfg.LLMRetryBase
	router := llm.NewRouter(catalog, llm.EnvCredentials{}, llm.RouterOptions{
		Timeout: cfg.LLMTimeout,
		Retry:   retry,
		Logger:  logger,
	})

	tokens, err := tutor.NewTiktokenCounter()
	if err != nil {
		logger.Warn("tutor: tiktoken unavailable, counting words", "error", err)
		tokens = tutor.WhitespaceCounter{}
	}

	sessions := tutor.NewSessionManager(tutor.NewSQLStore(db), catalog.DefaultProvider, catalog.DefaultModel)
	tu := tutor.New(sessions, router, search, ingest, tutor.Config{
		RetrievalK:    cfg.RetrievalK,
		HistoryWindow: cfg.HistoryWindow,
		Tokens:        tokens,
		Logger:        logger,
	})

	logger.Info("tutor: ready",
		"database", cfg.DatabasePath,
		"provider", catalog.DefaultProvider,
		"model", catalog.DefaultModel,
		"embeddings", embedder != nil,
	)
	return &app{db: db, bus: bus, ingest: ingest, tutor: tu}, nil
}

// Close stops event delivery and closes the database.
func (a *app) Close() error {
	a.bus.Close()
	return a.db.Close()
}

// startInbox launches the inbox watcher when an inbox directory is configured.
func (a *app) startInbox(ctx context.Context, cfg config.Config, logger *slog.Logger) (<-chan error, bool) {
	if cfg.InboxDir == "" {
		return nil, false
	}
	w := filewatch.New(a.ingest, filewatch.Options{
		Dir:       cfg.InboxDir,
		SessionID: cfg.InboxSession,
		Logger:    logger,
	})
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	logger.Info("tutor: watching inbox", "dir", cfg.InboxDir, "session_id", cfg.InboxSession)
	return done, true
}

// ===== COMMANDS =====

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	signer, err := pkgauth.NewSigner(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}
	var authService domainauth.AuthService
	if cfg.UsersPath != "" {
		dir, err := domainauth.LoadDirectory(cfg.UsersPath)
		if err != nil {
			return err
		}
		authService = domainauth.NewAuthService(dir, signer, logger)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	agent := a2aagent.New(a.tutor, a2aagent.Options{
		URL:     publicURL(cfg.HTTPAddr) + "/a2a",
		Version: version.Version,
		Logger:  logger,
	})
	router := api.NewRouter(api.Deps{
		DB:            a.db,
		Tutor:         a.tutor,
		Documents:     a.ingest,
		Auth:          authService,
		Signer:        signer,
		A2A:           agent.JSONRPCHandler(),
		AgentCard:     agent.CardHandler(),
		AgentCardPath: a2aagent.CardPath,
	})

	// The watcher must finish its pending ingestions before the database closes.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	inboxDone, watching := a.startInbox(ctx, cfg, logger)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.HTTPAddr
	err = server.NewServer(router, srvCfg, nil, logger).Run(ctx)
	cancel()
	if watching {
		if werr := <-inboxDone; werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func serveMCP(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	srv := mcpserver.New(a.tutor, mcpserver.Options{Version: version.Version, Logger: logger})
	logger.Info("tutor: serving MCP over stdio")
	return mcpserver.Run(ctx, srv)
}

func watch(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.InboxDir == "" {
		return errNoInbox
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	done, _ := a.startInbox(ctx, cfg, logger)
	return <-done
}

// publicURL turns a listen address like ":8080" into a local base URL.
func publicURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func printHelp(out io.Writer) {
	helpText := `Tutor - AI study assistant

Usage:
  tutor [options] [command]

Options:
  --version    Show version information
  --help       Show this help message
  --debug      Log at debug level

Commands:
  serve        Start the HTTP API and A2A agent (default)
  mcp          Serve MCP tools over stdin/stdout
  watch        Ingest files dropped into TUTOR_INBOX_DIR
  version      Show version information

Examples:
  tutor --version
  JWT_SECRET=change-me tutor serve
  TUTOR_INBOX_DIR=./apuntes tutor watch`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
