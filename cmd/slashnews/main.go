package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alphabot-ai/slashnews/internal/auth"
	"github.com/alphabot-ai/slashnews/internal/client"
	"github.com/alphabot-ai/slashnews/internal/comment"
	"github.com/alphabot-ai/slashnews/internal/config"
	httpapp "github.com/alphabot-ai/slashnews/internal/http"
	"github.com/alphabot-ai/slashnews/internal/logging"
	"github.com/alphabot-ai/slashnews/internal/news"
	"github.com/alphabot-ai/slashnews/internal/rate"
	"github.com/alphabot-ai/slashnews/internal/store"
	redisstore "github.com/alphabot-ai/slashnews/internal/store/redis"
	"github.com/alphabot-ai/slashnews/internal/store/sqlite"
)

const version = "slashnews v0.1.0"

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") && os.Args[1] != "-h" && os.Args[1] != "--help" {
		runServer()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "server", "serve":
		runServer()
	case "read", "list":
		cmdRead(args)
	case "version", "-v", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`slashnews - social news ranking and discussion engine

Usage: slashnews <command> [options]

Commands:
  server              Start the Slashnews server (default if no command)
  read                Read news from a running server
  version             Print the version

Examples:
  slashnews read --sort top --count 10
  slashnews read --news 12                     # View a news item with comments

Environment Variables (server):
  SLASHNEWS_ADDR          Listen address (default: :8080)
  SLASHNEWS_STORE         Store backend: redis or sqlite (default: redis)
  SLASHNEWS_REDIS_URL     Redis URL (default: redis://localhost:6379/0)
  SLASHNEWS_DB            SQLite database path (default: slashnews.db)
  SLASHNEWS_LOG_LEVEL     debug, info, warn or error (default: info)
  SLASHNEWS_LOG_FORMAT    text or json (default: text)
  SLASHNEWS_TRUSTED_PROXY Trust X-Forwarded-For / X-Real-IP (default: false)

Environment Variables (client):
  SLASHNEWS_URL           Server URL (default: http://localhost:8080)`)
}

func runServer() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	clock := clockwork.NewRealClock()
	users, err := auth.NewService(st, clock, cfg.Options)
	if err != nil {
		slog.Error("failed to initialize accounts", "error", err)
		os.Exit(1)
	}
	newsSvc := news.NewService(st, users, clock, cfg.Options)
	comments := comment.NewService(st, users, newsSvc, clock, cfg.Options)
	server := httpapp.NewServer(users, newsSvc, comments, rate.NewStoreLimiter(st), cfg.Options)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("slashnews listening", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		st, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func cmdRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	baseURL := fs.String("url", envOr("SLASHNEWS_URL", "http://localhost:8080"), "Server URL")
	sort := fs.String("sort", "top", "Sort: top, latest")
	start := fs.Int("start", 0, "Offset into the listing")
	count := fs.Int("count", 10, "Number of news items")
	newsID := fs.Int64("news", 0, "Show a news item with its comments")
	fs.Parse(args)

	c := client.New(*baseURL)
	ctx := context.Background()

	if *newsID != 0 {
		item, comments, err := c.GetComments(ctx, *newsID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n%s\n", item.Title)
		fmt.Printf("  %d up, %d down | %d comments | by %s\n", item.Up, item.Down, item.Comments, item.Username)
		if strings.HasPrefix(item.URL, "text://") {
			fmt.Printf("\n  %s\n", strings.TrimPrefix(item.URL, "text://"))
		} else {
			fmt.Printf("  %s\n", item.URL)
		}
		if len(comments) > 0 {
			fmt.Printf("\n  --- Comments ---\n")
			printComments(comments, 1)
		}
		return
	}

	items, total, err := c.GetNews(ctx, *sort, *start, *count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nSlashnews (%s, %d total)\n\n", *sort, total)
	for i, n := range items {
		fmt.Printf("%d. %s", *start+i+1, n.Title)
		if n.Domain != "" {
			fmt.Printf(" (%s)", n.Domain)
		}
		fmt.Printf("\n   %d up | %d comments | by %s | #%d\n\n", n.Up, n.Comments, n.Username, n.ID)
	}
}

func printComments(comments []client.Comment, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, c := range comments {
		body := c.Body
		if c.Deleted {
			body = "[comment deleted]"
		}
		fmt.Printf("%s[%s] %s (%+d): %s\n", indent, c.ID, c.Username, c.Up-c.Down, body)
		printComments(c.Replies, depth+1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
