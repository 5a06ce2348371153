// Command recall is the maintenance binary around the search core: it
// searches the index, rebuilds it from the memory store, and inspects or
// flushes its state. The core API itself stays programmatic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/recallhq/recall/internal/cache"
	"github.com/recallhq/recall/internal/index"
	"github.com/recallhq/recall/internal/manager"
	"github.com/recallhq/recall/internal/store"
	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/logger"
	"github.com/recallhq/recall/pkg/metrics"
	pkgredis "github.com/recallhq/recall/pkg/redis"
	"github.com/recallhq/recall/pkg/resilience"
)

const usage = `usage: recall [-config path] <command> [args]

commands:
  search <query>   rank memories against a free-text query
  rebuild          rebuild the index from the memory store
  stats            print index statistics
  flush            force a save of the index file
`

func main() {
	configPath := flag.String("config", "", "path to config file")
	limit := flag.Int("limit", 0, "maximum search results (0 = configured default)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := manager.Options{}
	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.New(nil)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			slog.Info("metrics endpoint listening", "addr", addr)
			if err := http.ListenAndServe(addr, metrics.Handler(nil)); err != nil {
				slog.Error("metrics endpoint failed", "error", err)
			}
		}()
	}
	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, continuing without query cache", "error", err)
		} else {
			defer client.Close()
			opts.Cache = cache.New(client, cfg.Redis)
		}
	}
	mgr := manager.New(cfg.Index, cfg.Search, opts)

	if err := run(ctx, cfg, mgr, flag.Arg(0), flag.Args()[1:], *limit); err != nil {
		slog.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mgr *manager.Manager, command string, args []string, limit int) error {
	switch command {
	case "search":
		if len(args) == 0 {
			return fmt.Errorf("search requires a query")
		}
		query := args[0]
		results, err := mgr.Search(ctx, query, index.SearchOptions{Limit: limit})
		if err != nil {
			return err
		}
		return printJSON(results)

	case "rebuild":
		var st *store.Store
		retryCfg := resilience.RetryConfig{
			MaxAttempts:  cfg.Postgres.Retry.MaxAttempts,
			InitialDelay: cfg.Postgres.Retry.InitialDelay,
			MaxDelay:     cfg.Postgres.Retry.MaxDelay,
		}
		err := resilience.Retry(ctx, "connect-store", retryCfg, func() error {
			var err error
			st, err = store.New(cfg.Postgres)
			return err
		})
		if err != nil {
			return fmt.Errorf("connecting to memory store: %w", err)
		}
		defer st.Close()

		mems, err := st.All(ctx)
		if err != nil {
			return err
		}
		stats, err := mgr.Rebuild(ctx, mems)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "stats":
		return printJSON(mgr.Stats(ctx))

	case "flush":
		return mgr.Flush(ctx)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
