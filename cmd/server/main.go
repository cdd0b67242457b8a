package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/sentinel/internal/alerting"
	"github.com/good-yellow-bee/sentinel/internal/alerts"
	"github.com/good-yellow-bee/sentinel/internal/api"
	"github.com/good-yellow-bee/sentinel/internal/api/health"
	"github.com/good-yellow-bee/sentinel/internal/api/middleware"
	"github.com/good-yellow-bee/sentinel/internal/api/ws"
	"github.com/good-yellow-bee/sentinel/internal/bus"
	"github.com/good-yellow-bee/sentinel/internal/hub"
	"github.com/good-yellow-bee/sentinel/internal/logging"
	"github.com/good-yellow-bee/sentinel/internal/metrics"
	"github.com/good-yellow-bee/sentinel/internal/natsserver"
	"github.com/good-yellow-bee/sentinel/internal/ratelimit"
	"github.com/good-yellow-bee/sentinel/internal/storage"
	"github.com/good-yellow-bee/sentinel/pkg/config"
)

var (
	configFile string
	logLevel   string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sentinel-server",
	Short: "Sentinel alert server",
	Long: `Sentinel evaluates detections against alert rules, stores the
resulting alerts and streams them to websocket clients.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server (default)",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.Build())
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Rule file utilities",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a YAML rules file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := alerting.LoadRulesFromFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", args[0], len(rules))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every request at info level")

	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(serveCmd, versionCmd, rulesCmd, tokenCmd)
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if configFile != "" {
		loaded, err := LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "sentinel-server")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	info := config.Build()
	metrics.SetBuildInfo(info.Version, info.Commit, info.BuildTime)

	logger.Info("starting sentinel server",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("go_version", info.GoVersion),
		zap.Bool("modified", info.Modified),
		zap.String("http_addr", cfg.Server.HTTPAddress),
		zap.String("database", cfg.Database.Driver),
		zap.String("bus", cfg.Bus.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

// run wires every component and blocks until ctx is done or one of them
// fails.
func run(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	store, err := openStorage(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.usesRedis() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	natsURL := cfg.Bus.NATS.URL
	if cfg.Bus.Driver == bus.DriverNATS && cfg.Bus.NATS.Embedded {
		nc := natsserver.DefaultConfig()
		nc.Port = cfg.Bus.NATS.Port
		ns, err := natsserver.Start(nc, logger)
		if err != nil {
			return err
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
	}

	b, err := bus.Open(bus.Config{
		Driver:      cfg.Bus.Driver,
		ReadTimeout: cfg.Bus.ReadTimeout,
		Buffer:      cfg.Bus.Buffer,
		RedisURL:    cfg.Redis.URL,
		RedisClient: redisClient,
		NATSURL:     natsURL,
		MQTT: bus.MQTTConfig{
			Broker:   cfg.Bus.MQTT.Broker,
			ClientID: cfg.Bus.MQTT.ClientID,
			Username: cfg.Bus.MQTT.Username,
			Password: cfg.Bus.MQTT.Password,
			QoS:      byte(cfg.Bus.MQTT.QoS),
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer b.Close()

	g, ctx := errgroup.WithContext(ctx)

	var cooldowns alerting.CooldownStore
	if cfg.Rules.CooldownBackend == backendRedis {
		cooldowns = alerting.NewRedisCooldownStore(redisClient, "sentinel:cooldown:")
	} else {
		mem := alerting.NewMemoryCooldownStore()
		g.Go(func() error {
			mem.Run(ctx, time.Minute)
			return nil
		})
		cooldowns = mem
	}

	loc, err := time.LoadLocation(cfg.Rules.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	engine := alerting.NewEngine(alerting.EngineOptions{
		Cooldowns: cooldowns,
		Location:  loc,
		Logger:    logger,
	})

	ruleSet := alerting.NewRuleSet(logger)
	if cfg.Rules.File != "" {
		if err := loadRuleFile(ctx, g, cfg.Rules, ruleSet, logger); err != nil {
			return err
		}
	}

	svc, err := alerts.NewService(alerts.Options{
		Store:           store,
		Engine:          engine,
		Rules:           ruleSet,
		Publisher:       b,
		RefreshInterval: cfg.Rules.RefreshInterval,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("create alert service: %w", err)
	}
	g.Go(func() error { return svc.Run(ctx) })

	h := hub.New(logger)
	bridge := bus.NewBridge(b, h, bus.BridgeConfig{
		EscalateAfter:  cfg.Bridge.EscalateAfter,
		BackoffInitial: cfg.Bridge.BackoffInitial,
		BackoffMax:     cfg.Bridge.BackoffMax,
	}, logger)
	g.Go(func() error { return bridge.Run(ctx) })
	g.Go(func() error { return hub.NewHealthTicker(h, cfg.Hub.SystemInterval, logger).Run(ctx) })

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Backend == backendRedis {
			limiter = ratelimit.NewRedis(redisClient)
		} else {
			mem := ratelimit.NewMemory(cfg.RateLimit.Window)
			defer mem.Close()
			limiter = mem
		}
	}

	server, err := api.New(&api.Config{
		Address:         cfg.Server.HTTPAddress,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		JWTSecret:       []byte(cfg.Auth.JWTSecret),
		JWTIssuer:       cfg.Auth.Issuer,
		RateLimit: middleware.RateLimitConfig{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		},
		WS: ws.Config{
			Client: hub.ClientConfig{
				SendBuffer:      cfg.Hub.SendBuffer,
				WriteTimeout:    cfg.Hub.WriteTimeout,
				PingInterval:    cfg.Hub.PingInterval,
				ReadIdleTimeout: cfg.Hub.ReadIdleTimeout,
				InboundRate:     rate.Limit(cfg.Hub.InboundRate),
				InboundBurst:    cfg.Hub.InboundBurst,
			},
			MaxConnections: cfg.Hub.MaxConnections,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
		Verbose: cfg.Verbose,
	}, api.Deps{
		Service: svc,
		Hub:     h,
		Limiter: limiter,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	server.RegisterHealthChecker(health.NewDatabaseChecker(store))
	server.RegisterHealthChecker(health.NewBridgeChecker(bridge.Healthy))
	if redisClient != nil {
		server.RegisterHealthChecker(health.NewRedisChecker(redisClient))
	}
	g.Go(func() error { return server.Run(ctx) })

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Address, logger)
		g.Go(func() error { return ms.Run(ctx) })
	}

	return g.Wait()
}

func openStorage(cfg DatabaseConfig) (*storage.SQLStorage, error) {
	if cfg.Driver == storage.DriverSQLite {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	store := storage.NewSQLStorage(cfg.Driver, cfg.DSN)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// loadRuleFile loads the rules file and, when enabled, keeps it in sync.
func loadRuleFile(ctx context.Context, g *errgroup.Group, cfg RulesConfig, rules *alerting.RuleSet, logger *zap.Logger) error {
	if !cfg.Watch {
		loaded, err := alerting.LoadRulesFromFile(cfg.File)
		if err != nil {
			return fmt.Errorf("load rules file: %w", err)
		}
		rules.Replace(alerting.SourceFile, loaded)
		return nil
	}

	w, err := alerting.NewFileWatcher(cfg.File, rules, logger)
	if err != nil {
		return err
	}
	if err := w.Load(); err != nil {
		return fmt.Errorf("load rules file: %w", err)
	}
	g.Go(func() error {
		w.Run(ctx)
		return nil
	})
	return nil
}
