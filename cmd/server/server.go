package server

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sambena/edgegate/apikey"
	"github.com/sambena/edgegate/config"
	"github.com/sambena/edgegate/dispatch"
	"github.com/sambena/edgegate/httpapi"
	log "github.com/sambena/edgegate/logger"
	"github.com/sambena/edgegate/policy"
	"github.com/sambena/edgegate/principal"
	"github.com/sambena/edgegate/ratelimit"
	"github.com/sambena/edgegate/token"
	"github.com/sambena/edgegate/upstream"
)

var (
	configPath string

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "Start the gateway server",
		Long: `
Usage: edgegate server [options]

  This command starts the gateway server. Configuration comes from an
  optional HCL file and from environment variables, the environment
  winning:

      $ edgegate server --config=/etc/edgegate/config.hcl

  With no config file the server runs on defaults plus environment
  overrides; API_KEY and JWT_SECRET_KEY are always required.
  `,
		RunE: run,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/edgegate.hcl)")
}

func run(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := buildLogger(cfg)
	defer logger.Close()

	tokens, err := token.NewService(&token.ServiceConfig{
		SecretKey:  []byte(cfg.Auth.JWTSecretKey),
		Algorithm:  cfg.Auth.JWTAlgorithm,
		Issuer:     cfg.Auth.JWTIssuer,
		AccessTTL:  cfg.AccessTokenTTL(),
		RefreshTTL: cfg.RefreshTokenTTL(),
	}, logger.WithSubsystem("token"))
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}
	defer tokens.Close()

	keys, err := apikey.NewValidator(cfg.Auth.APIKeys)
	if err != nil {
		return fmt.Errorf("failed to initialize API key validator: %w", err)
	}

	requireActive := cfg.Auth.RequireActiveAccount == nil || *cfg.Auth.RequireActiveAccount
	engine := policy.NewEngine(keys, tokens, requireActive, logger.WithSubsystem("policy"))

	retryMin, retryMax := cfg.RetryWaitBounds()
	client, err := upstream.NewClient(upstream.ClientConfig{
		ServiceName:      "storage",
		FallbackURL:      cfg.UpstreamURL(),
		DiscoveryTTL:     cfg.DiscoveryCacheTTL(),
		PoolSize:         cfg.Upstream.PoolSize,
		FailureThreshold: uint32(cfg.Upstream.FailureThreshold),
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout(),
		MaxRetries:       cfg.Upstream.MaxRetries,
		RetryWaitMin:     retryMin,
		RetryWaitMax:     retryMax,
		RateLimit:        cfg.Upstream.RateLimit,
	}, logger.WithSubsystem("upstream"))
	if err != nil {
		return fmt.Errorf("failed to initialize upstream client: %w", err)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Tokens:         tokens,
		Keys:           keys,
		BypassPaths:    cfg.Auth.BypassPaths,
		IngestPrefix:   cfg.Auth.IngestPrefix,
		RealtimePrefix: cfg.Auth.RealtimePrefix,
		Logger:         logger.WithSubsystem("dispatch"),
	})

	handler := httpapi.NewHandler(httpapi.Deps{
		Dispatcher: dispatcher,
		Engine:     engine,
		Tokens:     tokens,
		Users:      principal.NewMemStore(),
		Limiter:    ratelimit.New(cfg.Auth.LoginAttemptsPerMinute, logger.WithSubsystem("ratelimit")),
		Client:     client,
		Gateway:    upstream.NewGateway(client, logger.WithSubsystem("gateway")),
		Logger:     logger.WithSubsystem("http"),
	})

	listener, err := httpapi.NewListener(httpapi.ListenerConfig{
		Logger:      logger.WithSubsystem("listener"),
		Address:     cfg.Listener.Address,
		TLSCertFile: cfg.Listener.TLSCertFile,
		TLSKeyFile:  cfg.Listener.TLSKeyFile,
		TLSEnabled:  cfg.Listener.TLSEnabled,
	}, handler)
	if err != nil {
		return fmt.Errorf("failed to initialize listener: %w", err)
	}

	logger.Info("edgegate server configuration",
		log.String("address", cfg.Listener.Address),
		log.String("log_level", cfg.LogLevel),
		log.String("upstream", cfg.UpstreamURL()),
		log.Int("pool_size", cfg.Upstream.PoolSize),
		log.Int("breaker_threshold", cfg.Upstream.FailureThreshold),
		log.Duration("health_check_interval", cfg.HealthCheckEvery()))

	client.StartHealthProbe(cmd.Context(), cfg.HealthCheckEvery())

	fmt.Fprintf(cmd.OutOrStdout(), "==> Edgegate server started! Log data will stream in below:\n")

	return listener.Start(cmd.Context())
}

func buildLogger(cfg *config.Config) log.Logger {
	logConfig := &log.Config{
		Level:     log.ParseLogLevel(cfg.LogLevel),
		Format:    log.ParseOutputFormat(cfg.LogFormat),
		Subsystem: "core",
		Outputs:   []io.Writer{os.Stdout},
	}
	if cfg.LogFile != "" {
		logConfig.FileConfig = &log.FileConfig{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogRotateMegabytes,
			MaxBackups: cfg.LogRotateMaxFiles,
		}
	}
	return log.NewZerologLogger(logConfig)
}
