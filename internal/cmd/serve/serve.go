package serve

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/ckoons/engram/internal/config"

	// Import all plugins to trigger init() registration
	_ "github.com/ckoons/engram/internal/plugin/embed/disabled"
	_ "github.com/ckoons/engram/internal/plugin/embed/local"
	_ "github.com/ckoons/engram/internal/plugin/embed/openai"
	_ "github.com/ckoons/engram/internal/plugin/route/system"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var configFile string
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the engram memory service HTTP server",
		Flags: flags(&cfg, &configFile, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if configFile != "" {
				if err := applyConfigFile(cmd, &cfg, configFile); err != nil {
					return err
				}
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

// applyConfigFile overlays the YAML file under everything bound from
// flags or the environment: a field set by either keeps its value.
func applyConfigFile(cmd *cli.Command, cfg *config.Config, path string) error {
	fileCfg := config.DefaultConfig()
	if err := fileCfg.LoadFile(path); err != nil {
		return err
	}
	keep := func(name string) bool { return cmd.IsSet(name) }
	if !keep("data-dir") {
		cfg.DataDir = fileCfg.DataDir
	}
	if !keep("client-id") {
		cfg.DefaultClientID = fileCfg.DefaultClientID
	}
	if !keep("use-fallback") {
		cfg.UseFallback = fileCfg.UseFallback
	}
	if !keep("embedding-kind") {
		cfg.EmbedType = fileCfg.EmbedType
	}
	if !keep("openai-api-key") {
		cfg.OpenAIAPIKey = fileCfg.OpenAIAPIKey
	}
	if !keep("openai-model") {
		cfg.OpenAIModelName = fileCfg.OpenAIModelName
	}
	if !keep("openai-base-url") {
		cfg.OpenAIBaseURL = fileCfg.OpenAIBaseURL
	}
	if !keep("openai-dimensions") {
		cfg.OpenAIDimensions = fileCfg.OpenAIDimensions
	}
	if !keep("session-ring-size") {
		cfg.SessionRingSize = fileCfg.SessionRingSize
	}
	if !keep("flush-interval") {
		cfg.FlushInterval = fileCfg.FlushInterval
	}
	if !keep("sweep-interval") {
		cfg.SweepInterval = fileCfg.SweepInterval
	}
	if !keep("reap-interval") {
		cfg.ReapInterval = fileCfg.ReapInterval
	}
	if !keep("idle-ttl") {
		cfg.IdleTTL = fileCfg.IdleTTL
	}
	if !keep("convergence-threshold") {
		cfg.ConvergenceThreshold = fileCfg.ConvergenceThreshold
	}
	if !keep("host") {
		cfg.Listener.Host = fileCfg.Listener.Host
	}
	if !keep("port") {
		cfg.Listener.Port = fileCfg.Listener.Port
	}
	if !keep("max-body-size") {
		cfg.MaxBodySize = fileCfg.MaxBodySize
	}
	if !keep("drain-timeout") {
		cfg.DrainTimeout = fileCfg.DrainTimeout
	}
	if !keep("access-log") {
		cfg.AccessLog = fileCfg.AccessLog
	}
	if !keep("metrics-labels") {
		cfg.MetricsLabels = fileCfg.MetricsLabels
	}
	return nil
}

func flags(cfg *config.Config, configFile *string, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "config",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_CONFIG"),
			Destination: configFile,
			Usage:       "Optional YAML config file; flags and environment win over it",
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_DATA_DIR"),
			Destination: &cfg.DataDir,
			Usage:       "Root directory for all persistence (default ~/.engram)",
		},
		&cli.StringFlag{
			Name:        "client-id",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_CLIENT_ID"),
			Destination: &cfg.DefaultClientID,
			Value:       cfg.DefaultClientID,
			Usage:       "Client ID used when a request carries no X-Client-ID header",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("ENGRAM_ACCESS_LOG"),
			Destination: &cfg.AccessLog,
			Value:       cfg.AccessLog,
			Usage:       "Enable per-request HTTP access logging",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.StringFlag{
			Name:        "host",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("ENGRAM_HOST"),
			Destination: &cfg.Listener.Host,
			Value:       cfg.Listener.Host,
			Usage:       "HTTP server bind address",
		},
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("ENGRAM_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port (0 = OS-assigned random port)",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("ENGRAM_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},

		// ── Memory ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "session-ring-size",
			Category:    "Memory:",
			Sources:     cli.EnvVars("ENGRAM_SESSION_RING_SIZE"),
			Destination: &cfg.SessionRingSize,
			Value:       cfg.SessionRingSize,
			Usage:       "Capacity of the per-client session ring buffer",
		},
		&cli.FloatFlag{
			Name:        "convergence-threshold",
			Category:    "Memory:",
			Sources:     cli.EnvVars("ENGRAM_CONVERGENCE_THRESHOLD"),
			Destination: &cfg.ConvergenceThreshold,
			Value:       cfg.ConvergenceThreshold,
			Usage:       "Jaccard similarity above which thought iterations converge",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_EMBED_TYPE"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider: local, openai, disabled",
		},
		&cli.BoolFlag{
			Name:        "use-fallback",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_USE_FALLBACK"),
			Destination: &cfg.UseFallback,
			Usage:       "Force lexical-only retrieval even when an embedder is configured",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key (embedding-kind=openai)",
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI API base URL",
		},
		&cli.IntFlag{
			Name:        "openai-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("ENGRAM_OPENAI_DIMENSIONS"),
			Destination: &cfg.OpenAIDimensions,
			Usage:       "Requested embedding dimensions (0 = model default)",
		},

		// ── Background Tasks ──────────────────────────────────────
		&cli.DurationFlag{
			Name:        "flush-interval",
			Category:    "Background Tasks:",
			Sources:     cli.EnvVars("ENGRAM_FLUSH_INTERVAL"),
			Destination: &cfg.FlushInterval,
			Value:       cfg.FlushInterval,
			Usage:       "Period of the background store flusher",
		},
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Category:    "Background Tasks:",
			Sources:     cli.EnvVars("ENGRAM_SWEEP_INTERVAL"),
			Destination: &cfg.SweepInterval,
			Value:       cfg.SweepInterval,
			Usage:       "Period of the message queue TTL sweeper",
		},
		&cli.DurationFlag{
			Name:        "reap-interval",
			Category:    "Background Tasks:",
			Sources:     cli.EnvVars("ENGRAM_REAP_INTERVAL"),
			Destination: &cfg.ReapInterval,
			Value:       cfg.ReapInterval,
			Usage:       "Period of the idle-client reaper",
		},
		&cli.DurationFlag{
			Name:        "idle-ttl",
			Category:    "Background Tasks:",
			Sources:     cli.EnvVars("ENGRAM_IDLE_TTL"),
			Destination: &cfg.IdleTTL,
			Value:       cfg.IdleTTL,
			Usage:       "How long a client instance may sit unused before eviction",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("ENGRAM_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
