package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/config"
	routeclients "github.com/ckoons/engram/internal/plugin/route/clients"
	"github.com/ckoons/engram/internal/plugin/route/compartments"
	"github.com/ckoons/engram/internal/plugin/route/latent"
	"github.com/ckoons/engram/internal/plugin/route/memories"
	"github.com/ckoons/engram/internal/plugin/route/messages"
	"github.com/ckoons/engram/internal/plugin/route/nexus"
	"github.com/ckoons/engram/internal/plugin/route/private"
	"github.com/ckoons/engram/internal/plugin/route/structured"
	routesystem "github.com/ckoons/engram/internal/plugin/route/system"
	"github.com/ckoons/engram/internal/queue"
	registryembed "github.com/ckoons/engram/internal/registry/embed"
	registryroute "github.com/ckoons/engram/internal/registry/route"
	"github.com/ckoons/engram/internal/security"
	"github.com/ckoons/engram/internal/service"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config   *config.Config
	Registry *clients.Registry
	Queue    *queue.Queue
	Router   *gin.Engine
	Port     int

	httpServer *http.Server
	cancelBG   context.CancelFunc
	bgDone     chan struct{}
}

// Shutdown stops intake, waits for the background tasks to take their
// final flush, and persists all dirty state.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	s.cancelBG()
	select {
	case <-s.bgDone:
	case <-ctx.Done():
	}
	if err := s.Registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Queue.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use Port=0 for a random port; the bound port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	dataDir, err := cfg.ResolvedDataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log.Info("Starting engram",
		"dataDir", dataDir,
		"client", cfg.DefaultClientID,
		"embedding", cfg.EmbedType,
		"port", cfg.Listener.Port,
	)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	embedder := loadEmbedder(ctx, cfg)

	q, err := queue.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open message queue: %w", err)
	}

	registry := clients.New(clients.Options{
		DataDir:              dataDir,
		Embedder:             embedder,
		Queue:                q,
		SessionRingSize:      cfg.SessionRingSize,
		ConvergenceThreshold: cfg.ConvergenceThreshold,
	})

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.AccessLog {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.ClientIDMiddleware(cfg.DefaultClientID))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Mount the API surface.
	memories.MountRoutes(router, registry)
	structured.MountRoutes(router, registry)
	compartments.MountRoutes(router, registry)
	private.MountRoutes(router, registry)
	messages.MountRoutes(router, q)
	latent.MountRoutes(router, registry)
	nexus.MountRoutes(router, registry)
	routeclients.MountRoutes(router, registry)

	// Mount system route plugins (health, ready, metrics).
	for _, loader := range registryroute.Loaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load system routes: %w", err)
		}
	}

	// Start background services.
	bgCtx, cancelBG := context.WithCancel(context.Background())
	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		done := make(chan struct{}, 3)
		run := func(start func(context.Context)) {
			go func() {
				start(bgCtx)
				done <- struct{}{}
			}()
		}
		run(service.NewSweeperService(q, cfg.SweepInterval).Start)
		run(service.NewReaperService(registry, cfg.ReapInterval, cfg.IdleTTL).Start)
		run(service.NewFlusherService(registry, q, cfg.FlushInterval).Start)
		for i := 0; i < 3; i++ {
			<-done
		}
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Listener.Host, cfg.Listener.Port))
	if err != nil {
		cancelBG()
		return nil, fmt.Errorf("listen failed: %w", err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "err", err)
		}
	}()

	port := lis.Addr().(*net.TCPAddr).Port
	routesystem.MarkReady()
	log.Info("Server listening", "host", cfg.Listener.Host, "port", port)

	return &Server{
		Config:     cfg,
		Registry:   registry,
		Queue:      q,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
		cancelBG:   cancelBG,
		bgDone:     bgDone,
	}, nil
}

// loadEmbedder resolves the configured embedding plugin. Any failure
// degrades to lexical-only retrieval rather than refusing to start.
func loadEmbedder(ctx context.Context, cfg *config.Config) registryembed.Embedder {
	if cfg.UseFallback || cfg.EmbedType == "" || cfg.EmbedType == "none" || cfg.EmbedType == "disabled" {
		return nil
	}
	loader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		log.Warn("Embedder not available, using lexical mode", "err", err)
		return nil
	}
	embedder, err := loader(config.WithContext(ctx, cfg))
	if err != nil {
		log.Warn("Failed to initialize embedder, using lexical mode", "err", err)
		return nil
	}
	return embedder
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
