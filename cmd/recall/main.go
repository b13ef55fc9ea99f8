// Package main is the recall CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/recall/internal/cli"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/importer"
	"github.com/hyperjump/recall/internal/indexer"
	"github.com/hyperjump/recall/internal/keyword"
	"github.com/hyperjump/recall/internal/llm"
	"github.com/hyperjump/recall/internal/metrics"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/server"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
	"github.com/hyperjump/recall/internal/watcher"
	"github.com/hyperjump/recall/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/recall/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory takes precedence (for development), and a missing default file yields the
// built-in defaults. Returns the config and the path it belongs to.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return defaultConfig(), path, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func defaultConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	config.ApplyEnv(cfg)
	return cfg
}

func main() {
	// A missing .env is fine; the real environment still applies.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "find":
		runFind()
	case "ingest":
		runIngest()
	case "status":
		runStatus()
	case "inbox":
		runInbox()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("recall version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func mustLogger(debug bool) *zap.Logger {
	logger, err := utils.NewLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger := mustLogger(debugMode)
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("llm", cfg.LLM.BaseURL),
		zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded := loadSnapshot(components.VectorIndex, cfg.Storage.IndexPath, logger)

	imp := importer.New(components.Indexer,
		importer.WithLogger(logger),
		importer.WithExtensions(cfg.Inbox.Extensions))
	inbox := watcher.NewWatcher(
		cfg.Inbox.Directories,
		cfg.Inbox.Extensions,
		cfg.Inbox.RecursiveOrDefault(),
		func(path string) {
			if _, err := imp.ImportFile(ctx, path); err != nil {
				logger.Warn("inbox import failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
	)
	if err := inbox.Start(ctx); err != nil {
		logger.Fatal("Failed to start inbox watcher", zap.Error(err))
	}

	srvOpts := []server.ServerOption{
		server.WithInbox(inbox, resolvedConfigPath),
		server.WithMetrics(components.Metrics),
	}
	if components.Finder != nil {
		srvOpts = append(srvOpts, server.WithFinder(components.Finder))
	}
	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Storage,
		components.VectorIndex,
		cfg,
		logger,
		srvOpts...,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if loaded && !cfg.RAG.AlwaysWarm {
			logger.Info("snapshot loaded, skipping warm", zap.Int("vectors", components.VectorIndex.Size()))
		} else {
			stats := components.Indexer.Warm(gctx, cfg.RAG.WarmLimit)
			logger.Info("warm finished", zap.Int("loaded", stats.Loaded),
				zap.Int("indexed", stats.Indexed), zap.Int("known", stats.Known))
		}
		inbox.SyncExistingFiles()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		inbox.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}

	if err := components.VectorIndex.Save(cfg.Storage.IndexPath); err != nil {
		logger.Warn("vector index save failed", zap.String("path", cfg.Storage.IndexPath), zap.Error(err))
	} else {
		logger.Info("vector index saved",
			zap.String("path", cfg.Storage.IndexPath),
			zap.Int("vectors", components.VectorIndex.Size()))
	}
}

// loadSnapshot restores the index from path and reports whether it now holds vectors.
func loadSnapshot(idx *vector.MemoryIndex, path string, logger *zap.Logger) bool {
	if err := idx.Load(path); err != nil {
		logger.Warn("vector index load skipped", zap.String("path", path), zap.Error(err))
		return false
	}
	return idx.Size() > 0
}

// prepareIndex loads the snapshot and warms the index from storage when the snapshot was
// empty or alwaysWarm is set.
func prepareIndex(ctx context.Context, c *Components, cfg *config.Config, logger *zap.Logger) indexer.WarmStats {
	if loadSnapshot(c.VectorIndex, cfg.Storage.IndexPath, logger) && !cfg.RAG.AlwaysWarm {
		return indexer.WarmStats{}
	}
	return c.Indexer.Warm(ctx, cfg.RAG.WarmLimit)
}

// printAskUsage prints ask subcommand usage.
func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: recall ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  recall ask what did Ana say about the trip
  recall ask --output json "when is the dentist appointment?"
  recall ask --server "" --dry-run what is my favourite colour   # show the prompt only
`)
}

// buildQuery joins all positional args with spaces so multi-word questions work the same
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the question to the
// front of the slice so that flag.Parse() sees them. Go's flag package stops at the first
// non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = answer directly from local storage)")
	dryRun := fs.Bool("dry-run", false, "print the prompt instead of calling the model (direct mode only)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		printAskUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *serverURL != "" && !*dryRun {
		resp, err := askViaHTTP(*serverURL, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteAnswer(os.Stdout, query, resp, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct mode: read the local store and snapshot. Use it while the server is stopped.
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := mustLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	prepareIndex(ctx, components, cfg, logger)

	if *dryRun {
		prompt, err := components.Engine.BuildPrompt(ctx, query)
		if err != nil {
			fmt.Println(search.Reply(err))
			return
		}
		if err := cli.WritePrompt(os.Stdout, prompt, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	resp := &models.ChatResponse{Status: models.StatusSuccess, Answer: components.Engine.Answer(ctx, query)}
	if err := cli.WriteAnswer(os.Stdout, query, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func askViaHTTP(serverURL, query string) (*models.ChatResponse, error) {
	body, err := json.Marshal(models.ChatRequest{Query: query})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runFind() {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search the local keyword index)")
	limit := fs.Int("limit", search.DefaultFindLimit, "maximum number of messages")
	fuzzy := fs.Bool("fuzzy", false, "tolerate typos")
	chat := fs.String("chat", "", "only messages from this chat JID")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: recall find [flags] <words>")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opts := &keyword.SearchOptions{FuzzyEnabled: *fuzzy, ChatJID: *chat}

	var resp *models.FindResponse
	if *serverURL != "" {
		resp, err = findViaHTTP(*serverURL, query, *limit, opts)
	} else {
		resp, err = findLocal(*configPath, query, *limit, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Find failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteMatches(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func findLocal(configPath, query string, limit int, opts *keyword.SearchOptions) (*models.FindResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("open keyword index (is the server running?): %w", err)
	}
	defer kw.Close()
	return search.NewFinder(kw, store).Find(context.Background(), query, limit, opts)
}

func findViaHTTP(serverURL, query string, limit int, opts *keyword.SearchOptions) (*models.FindResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	if opts.FuzzyEnabled {
		params.Set("fuzzy", "true")
	}
	if opts.ChatJID != "" {
		params.Set("chat", opts.ChatJID)
	}
	resp, err := http.Get(serverURL + "/api/v1/messages/search?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var out models.FindResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: recall ingest [flags] <export.jsonl-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := mustLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	loadSnapshot(components.VectorIndex, cfg.Storage.IndexPath, logger)

	res, err := importPath(ctx, components.Indexer, path, cfg.Inbox.Extensions, logger)
	if saveErr := components.VectorIndex.Save(cfg.Storage.IndexPath); saveErr != nil {
		logger.Warn("vector index save failed", zap.String("path", cfg.Storage.IndexPath), zap.Error(saveErr))
	}
	_ = cli.WriteImportResult(os.Stdout, res, format)
	if err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}
}

// importPath imports a single export file, or every matching export in a directory.
func importPath(ctx context.Context, ing importer.Ingester, path string, exts []string, logger *zap.Logger) (importer.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return importer.Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	imp := importer.New(ing, importer.WithLogger(logger), importer.WithExtensions(exts))
	if info.IsDir() {
		return imp.ImportDirectory(ctx, path)
	}
	return imp.ImportFile(ctx, path)
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Status models.StatusResponse  `json:"status"`
	Config map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var st *models.StatusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		st = &res.Status
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger := mustLogger(cfg.Debug)
		defer func() { _ = logger.Sync() }()
		st, err = localStatus(context.Background(), cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// localStatus reads counts from the database and the index snapshot without contacting
// the model backend.
func localStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*models.StatusResponse, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	vecs, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		return nil, err
	}
	loadSnapshot(vecs, cfg.Storage.IndexPath, logger)

	msgCount, err := store.CountMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	chatCount, err := store.CountChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chats: %w", err)
	}
	st := &models.StatusResponse{
		IndexSize:    vecs.Size(),
		Dimensions:   vecs.Dimensions(),
		Messages:     msgCount,
		Chats:        chatCount,
		IndexPath:    cfg.Storage.IndexPath,
		DatabasePath: cfg.Storage.DatabasePath,
	}
	paths := append(storage.DatabaseFiles(cfg.Storage.DatabasePath),
		cfg.Storage.IndexPath, cfg.Storage.KeywordIndexPath)
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		st.DiskBytes = n
	}
	return st, nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func runInbox() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: recall inbox <add|remove|list> [path]")
		fmt.Println("  recall inbox add <path>     Watch a directory for exports")
		fmt.Println("  recall inbox remove <path>  Stop watching a directory")
		fmt.Println("  recall inbox list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])

	var err error
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: recall inbox add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err = inboxAdd(*serverURL, path); err == nil {
			fmt.Printf("Added: %s\n", path)
		}
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: recall inbox remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err = inboxRemove(*serverURL, path); err == nil {
			fmt.Printf("Removed: %s\n", path)
		}
	case "list":
		var dirs []string
		if dirs, err = inboxList(*serverURL); err == nil {
			for _, d := range dirs {
				fmt.Println(d)
			}
		}
	default:
		fmt.Printf("Unknown inbox subcommand: %s\n", sub)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Inbox %s failed: %v\n", sub, err)
		os.Exit(1)
	}
}

func inboxAdd(serverURL, path string) error {
	body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
	resp, err := http.Post(serverURL+"/api/v1/inbox/directories", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return expectStatus(resp, http.StatusCreated)
}

func inboxRemove(serverURL, path string) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/v1/inbox/directories?path="+url.QueryEscape(path), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return expectStatus(resp, http.StatusOK)
}

func inboxList(serverURL string) ([]string, error) {
	resp, err := http.Get(serverURL + "/api/v1/inbox/directories")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Directories, nil
}

func expectStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing config file")
	_ = fs.Parse(os.Args[2:])

	if err := writeDefaultConfig(*configPath, *force); err != nil {
		fmt.Printf("Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", *configPath)
}

// writeDefaultConfig saves the built-in defaults to path. An existing file is kept unless
// force is set.
func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return config.Save(path, cfg)
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Storage
	Embedder    embedding.Embedder
	VectorIndex *vector.MemoryIndex
	Keywords    keyword.KeywordIndex
	Generator   llm.Generator
	Engine      *search.Engine
	Finder      *search.Finder
	Indexer     *indexer.Indexer
	Metrics     *metrics.Collector
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	var embedder embedding.Embedder = embedding.NewOpenAIEmbedder(
		client,
		cfg.LLM.EmbeddingModel,
		cfg.Embedding.Dimensions,
		embedding.WithTimeout(cfg.LLM.EmbedTimeout),
		embedding.WithLogger(logger),
	)
	if cfg.Embedding.CacheSize > 0 {
		cached, err := embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
		}
		embedder = cached
	}

	vectorIndex, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions, vector.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	collector := metrics.New(vectorIndex.Size)

	generator := llm.NewOpenAIGenerator(client, llm.Options{
		Model:       cfg.LLM.ChatModel,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.ChatTimeout,
	}, logger)

	engine := search.NewEngine(store, embedder, vectorIndex, generator, &cfg.RAG,
		search.WithLogger(logger), search.WithMetrics(collector))
	idxOpts := []indexer.IndexerOption{indexer.WithLogger(logger), indexer.WithMetrics(collector)}

	// The keyword index is a single-writer file; a second process (e.g. a direct-mode ask
	// while the server runs) continues without it.
	var keywords keyword.KeywordIndex
	var finder *search.Finder
	if kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath); err != nil {
		logger.Warn("keyword index unavailable", zap.String("path", cfg.Storage.KeywordIndexPath), zap.Error(err))
	} else {
		keywords = kw
		finder = search.NewFinder(kw, store)
		idxOpts = append(idxOpts, indexer.WithKeywordIndex(kw))
	}
	idx := indexer.NewIndexer(store, embedder, vectorIndex, idxOpts...)

	logger.Info("components initialized",
		zap.String("database", cfg.Storage.DatabasePath),
		zap.String("chat_model", cfg.LLM.ChatModel),
		zap.String("embedding_model", cfg.LLM.EmbeddingModel),
		zap.Int("dimensions", cfg.Embedding.Dimensions))

	return &Components{
		Storage:     store,
		Embedder:    embedder,
		VectorIndex: vectorIndex,
		Keywords:    keywords,
		Generator:   generator,
		Engine:      engine,
		Finder:      finder,
		Indexer:     idx,
		Metrics:     collector,
	}, nil
}

func printUsage() {
	fmt.Println(`recall - grounded answers from your own message history

Usage:
  recall server [flags]            Start the HTTP server
  recall ask [flags] <question>    Ask a question about your messages
  recall find [flags] <words>      Find messages containing words
  recall ingest [flags] <path>     Import a JSON-lines export file or directory
  recall status [flags]            Show storage and index status
  recall inbox <add|remove|list>   Manage watched inbox directories
  recall init [flags]              Write a default config file
  recall version                   Show version
  recall help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/recall/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to answer from local storage.
  --dry-run          Print the prompt instead of generating an answer (direct mode)
  --output string    Output format: text or json (default: text)

Find Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to search locally.
  --limit int        Maximum number of messages (default: 20)
  --fuzzy            Tolerate typos
  --chat string      Only messages from this chat JID
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to read local storage.
  --output string    Output format: text or json (default: text)

Inbox Flags:
  --server string    Server URL (default: http://localhost:8080)

Init Flags:
  --config string    Destination path
  --force            Overwrite an existing file

Environment:
  OLLAMA_HOST        Model backend, e.g. http://localhost:11434
  OPENAI_API_KEY     API key for an OpenAI-compatible backend
  RECALL_DB_PATH     Overrides storage.database_path
  RECALL_INDEX_PATH  Overrides storage.index_path

Examples:
  recall server
  recall ask what did Ana say about the trip
  recall ask --server "" --dry-run "favourite colour"
  recall find --fuzzy pasport
  recall ingest ~/exports/whatsapp.jsonl
  recall status --output json
  recall inbox add ~/exports`)
}
