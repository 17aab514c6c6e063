// Package main is the vtuber-backend server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/handler"
	"vtuber-backend/internal/livechat"
	"vtuber-backend/internal/metrics"
	"vtuber-backend/internal/service"
	"vtuber-backend/internal/storage"
	"vtuber-backend/pkg/logger"
)

const appName = "vtuber-backend"

var Version = "dev"

type options struct {
	configPath string
	host       string
	port       int
	verbose    bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Live chat VTuber server",
		Long: `vtuber-backend reads a live stream's chat, answers it in character
and streams the spoken replies with Live2D expressions to the front-end.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", config.BaseConfigName, "Base config file path")
	cmd.Flags().StringVar(&opts.host, "host", "", "Listen host (overrides system_config.host)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Listen port (overrides system_config.port)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func run(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.host != "" {
		cfg.System.Host = opts.host
	}
	if opts.port != 0 {
		cfg.System.Port = opts.port
	}

	level := cfg.System.Log.Level
	if opts.verbose {
		level = "debug"
	}
	if err := logger.Init(level, cfg.System.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	basePath, err := filepath.Abs(opts.configPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	chat, err := newChatDialer(cfg.System.LiveChat)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.System.CacheDir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	history := storage.New(cfg.System.Storage, cfg.System.Agent.MaxHistoryMessages)
	defer history.Close()

	var m *metrics.Metrics
	if cfg.System.Metrics.Enabled {
		m = metrics.New(cfg.System.Metrics.Namespace)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := config.NewCatalog(cfg.System.ConfigAltsDir)
	if err != nil {
		return fmt.Errorf("open config catalog: %w", err)
	}
	defer catalog.Close()
	if err := catalog.Watch(ctx); err != nil {
		logger.Warnf("Config catalog will not follow changes: %v", err)
	}

	registry := service.NewRegistry()
	pool := service.NewWorkerPool(cfg.System.Agent.MaxConcurrent)

	ws := handler.NewWebSocketHandler(handler.WebSocketDeps{
		Registry: registry,
		Config:   cfg,
		BasePath: basePath,
		Catalog:  catalog,
		Engines:  service.NewEngineFactory(history, pool),
		Chat:     chat,
		Metrics:  m,
	})

	router := setupRouter(cfg, routes{
		ws:       ws,
		history:  handler.NewHistoryHandler(history),
		metrics:  m,
		registry: registry,
	})

	server := &http.Server{
		Addr:           net.JoinHostPort(cfg.System.Host, strconv.Itoa(cfg.System.Port)),
		Handler:        router,
		ReadTimeout:    cfg.System.ReadTimeout,
		MaxHeaderBytes: cfg.System.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown.
		registry.CloseAll()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newChatDialer(cfg config.LiveChatConfig) (livechat.Dialer, error) {
	switch cfg.Provider {
	case "youtube", "":
		return livechat.NewYouTubeDialer(livechat.YouTubeConfig{
			APIKey:   cfg.APIKey,
			VideoID:  cfg.VideoID,
			Endpoint: cfg.Endpoint,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported live chat provider %q", cfg.Provider)
	}
}
