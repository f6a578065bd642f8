// Command mcp-wordpress-gateway exposes a WordPress site's posts and pages as
// MCP tools over the streamable HTTP and legacy SSE transports.
//
// Configuration comes from the environment (see internal/config); a .env file
// in the working directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-wordpress-gateway/gateway"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/config"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/engine"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/logctx"
	"github.com/ggoodman/mcp-wordpress-gateway/mcp"
	"github.com/ggoodman/mcp-wordpress-gateway/mcpservice"
	"github.com/ggoodman/mcp-wordpress-gateway/storage"
	"github.com/ggoodman/mcp-wordpress-gateway/storage/memory"
	redisstorage "github.com/ggoodman/mcp-wordpress-gateway/storage/redis"
	"github.com/ggoodman/mcp-wordpress-gateway/tools"
	"github.com/ggoodman/mcp-wordpress-gateway/wordpress"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const instructions = "Tools for managing the posts and pages of a WordPress site. " +
	"New content is created as a draft unless a status is given."

func main() {
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	levels := new(slog.LevelVar)
	log := newLogger(cfg, levels)

	if err := run(cfg, log, levels); err != nil {
		log.Error("gateway.exit.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, levels *slog.LevelVar) *slog.Logger {
	lvl, _ := cfg.Level()
	levels.Set(lvl)

	opts := &slog.HandlerOptions{Level: levels}
	var h slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

func run(cfg *config.Config, log *slog.Logger, levels *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := newCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	wp, err := wordpress.New(wordpress.Config{
		BaseURL:            cfg.WordPressURL,
		Username:           cfg.WordPressUsername,
		AppPassword:        cfg.WordPressAppPassword,
		InsecureSkipVerify: cfg.WordPressInsecureTLS,
		Timeout:            cfg.WordPressTimeout,
		UserAgent:          "mcp-wordpress-gateway/" + version,
		Cache:              cache,
		CacheTTL:           cfg.CacheTTL,
		Logger:             log,
	})
	if err != nil {
		return err
	}
	if cfg.WordPressInsecureTLS {
		log.Warn("wordpress.tls.verify.disabled")
	}

	reg, err := tools.NewRegistry(wp)
	if err != nil {
		return err
	}
	eng := engine.NewEngine(
		mcpservice.NewDispatcher(reg,
			mcpservice.WithCallTimeout(cfg.CallTimeout),
			mcpservice.WithLogger(log),
		),
		engine.WithLogger(log),
		engine.WithLevelSetter(mcpservice.NewSlogLevelVarLogging(levels)),
		engine.WithServerInfo(mcp.ImplementationInfo{Name: "mcp-wordpress-gateway", Version: version}),
		engine.WithInstructions(instructions),
	)

	gw := gateway.New(eng,
		gateway.WithLogger(log),
		gateway.WithIdleTTL(cfg.SessionIdleTTL),
		gateway.WithKeepAlive(cfg.StreamKeepAlive),
	)

	// Request contexts stay independent of the signal so Shutdown can drain
	// in-flight calls.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gateway.listen.ok",
			slog.String("addr", ln.Addr().String()),
			slog.String("wordpress", cfg.WordPressURL),
			slog.String("cache", cfg.CacheBackend),
			slog.Int("tools", len(reg.Names())),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := gw.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session reaper: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("gateway.shutdown.start")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		// Event streams never finish on their own; end the sessions first so
		// Shutdown is not left waiting on them.
		if err := gw.Shutdown(shutdownCtx); err != nil {
			log.Warn("gateway.sessions.drain.fail", slog.String("err", err.Error()))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		log.Info("gateway.shutdown.ok")
		return nil
	})
	return g.Wait()
}

func newCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.CacheBackend {
	case config.CacheMemory:
		return memory.New(cfg.CacheSize)
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		log.Info("cache.redis.ok", slog.String("addr", cfg.RedisAddr))
		return redisstorage.New(redisstorage.Config{Client: client})
	default:
		return nil, nil
	}
}
