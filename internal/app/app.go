package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/MrSnakeDoc/lbreg/internal/config"
	"github.com/MrSnakeDoc/lbreg/internal/controlplane"
	"github.com/MrSnakeDoc/lbreg/internal/httpserver"
	"github.com/MrSnakeDoc/lbreg/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbreg/internal/logger"
	"github.com/MrSnakeDoc/lbreg/internal/redis"
	"github.com/MrSnakeDoc/lbreg/internal/registration"
	redisstore "github.com/MrSnakeDoc/lbreg/internal/store/redis"
	"github.com/MrSnakeDoc/lbreg/internal/utils"
	"github.com/MrSnakeDoc/lbreg/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	manager     *registration.Manager
	ready       *atomic.Bool
}

// New loads the configuration (env, then the YAML file at configPath when
// set) and wires every component.
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	if cfg.LogUID {
		loggerClient = loggerClient.With(logger.String("uid", uuid.NewString()))
	}

	var opts []registration.Option

	// The journal is optional: without Redis, a restart under a new address
	// cannot clean up the previous registration.
	var redisClient *goredis.Client
	if cfg.JournalEnabled() {
		redisClient, err = redis.Connect(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("registration journal disabled, redis unavailable", logger.Error(err))
		} else {
			journal := redisstore.NewJournal(redisClient, cfg.Upstream, cfg.InstanceName)
			loggerClient.Info("registration journal enabled", logger.String("key", journal.Key()))
			opts = append(opts, registration.WithJournal(journal))
		}
	}

	a, err := newApp(cfg, loggerClient, redisClient, opts...)
	if err != nil {
		if redisClient != nil {
			utils.MustClose(redisClient, loggerClient, "redis")
		}
		return nil, err
	}
	return a, nil
}

// newApp builds the control-plane client, the registration manager and the
// HTTP server around an already loaded configuration.
func newApp(cfg *config.Config, loggerClient logger.Logger, redisClient *goredis.Client, opts ...registration.Option) (*App, error) {
	cp := controlplane.New(controlplane.Options{
		Timeout:   cfg.ControlPlaneTimeout,
		UserAgent: version.UserAgent(),
	})

	manager, err := registration.New(cfg.Registration(), cp, loggerClient, opts...)
	if err != nil {
		return nil, err
	}

	ready := atomic.NewBool(false)

	d := deps.Deps{
		Logger:        loggerClient,
		StartTime:     time.Now(),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.BuildDate,
		GoVersion:     version.GoVersion,
		TimeNow:       time.Now,
		AllowedCIDRS:  cfg.AllowedCIDRS,
		TrustProxy:    cfg.TrustProxy,
		Ready:         ready,
		Registrations: manager,
		RedisClient:   redisClient,
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      httpserver.New(cfg.ListenPort, loggerClient, d),
		redisClient: redisClient,
		manager:     manager,
		ready:       ready,
	}, nil
}

// Run serves HTTP, registers the instance, waits for SIGINT/SIGTERM (or a
// server failure) and deregisters before shutting down.
func (a *App) Run() error {
	a.logger.Infof("🚀 Starting lbreg v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("lbreg %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bind before registering: nothing must route to a port we do not hold.
	ln, err := a.server.Listen()
	if err != nil {
		return fmt.Errorf("http server error: %w", err)
	}

	return a.run(ctx, ln)
}

// run serves on ln, registers, and on ctx cancellation or a server failure
// marks the instance not ready, deregisters and stops the server.
func (a *App) run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	if err := a.manager.Start(ctx); err != nil {
		_ = a.stopServer()
		return fmt.Errorf("failed to register with control planes: %w", err)
	}
	a.ready.Store(true)
	if a.manager.Enabled() {
		a.logger.Info("✅ registered with control planes",
			logger.Int("endpoints", len(a.manager.Registrations())))
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
		a.logger.Error("http server failed, deregistering", logger.Error(runErr))
	}

	a.ready.Store(false)

	// ctx may be cancelled already; deregistration gets its own.
	a.manager.Stop(context.Background())

	if err := a.stopServer(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop server: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	a.logger.Info("✅ lbreg stopped cleanly")
	return nil
}

// Cleanup removes every entry of this instance from every control plane
// without a prior registration. Used as a preStop hook.
func (a *App) Cleanup(ctx context.Context) (int, error) {
	defer a.close()

	if !a.manager.Enabled() {
		a.logger.Info("registration disabled, nothing to clean up")
		return 0, nil
	}
	return a.manager.Cleanup(ctx)
}

func (a *App) stopServer() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return a.server.Stop(shutdownCtx)
}

func (a *App) close() {
	if a.redisClient != nil {
		utils.MustClose(a.redisClient, a.logger, "redis")
	}
	_ = a.logger.Sync()
}
