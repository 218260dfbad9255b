// devicelink keeps one authenticated MQTT session to the device bridge alive.
//
// It loads the device private key, mints a short-lived JWT for every
// connection attempt, publishes a message periodically and logs commands
// received on the device's subscriptions. An unexpected disconnect triggers a
// reconnect with a fresh token; a requested disconnect ends the process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-devicelink/internal/api"
	"github.com/nerrad567/gray-logic-devicelink/internal/credentials"
	"github.com/nerrad567/gray-logic-devicelink/internal/events"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/storage"
	"github.com/nerrad567/gray-logic-devicelink/internal/router"
	"github.com/nerrad567/gray-logic-devicelink/internal/scheduler"
	"github.com/nerrad567/gray-logic-devicelink/internal/session"
	"github.com/nerrad567/gray-logic-devicelink/internal/token"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownTimeout bounds the wait for the broker to acknowledge a disconnect.
const shutdownTimeout = 10 * time.Second

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
)

// errUsage marks malformed command lines.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, errUsage) || errors.Is(err, config.ErrMissingConfiguration) {
		return exitUsage
	}
	return exitFailure
}

// run is the application, separated from main for testability. User-facing
// diagnostics (banner, missing flags, key guidance) go to stdout.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fmt.Fprintf(stdout, "\n%s\ndevicelink %s (commit %s, built %s)\n",
		filepath.Base(os.Args[0]), version, commit, date)

	opts, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	opts.apply(cfg)

	log := logging.New(cfg.Logging, version)

	if opts.provisionKey != "" {
		return provisionKey(ctx, cfg, opts.provisionKey, log)
	}

	if missing := cfg.MissingRequired(); len(missing) > 0 {
		for _, name := range missing {
			fmt.Fprintf(stdout, "%s is required\n", name)
		}
		fmt.Fprintln(stdout)
	}
	cfg.ApplyDerivedDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info("configuration loaded",
		"path", opts.configPath,
		"device", cfg.Device.DevicePath,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)

	return runAgent(ctx, cfg, log, stdout)
}

// runAgent wires the components and blocks until the session ends.
func runAgent(ctx context.Context, cfg *config.Config, log *logging.Logger, stdout io.Writer) error {
	store, db, guidance, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer closeWithLog(log, "database", db.Close)
	}

	keyName := cfg.Credentials.PrivateKeyFile
	creds := credentials.NewBuffer(cfg.Credentials.BufferSize)
	defer creds.Wipe()

	n, err := credentials.Load(ctx, store, storage.ClassCertificate, keyName, creds)
	if err != nil {
		if errors.Is(err, credentials.ErrResourceNotFound) {
			fmt.Fprintln(stdout, guidance)
		}
		return fmt.Errorf("loading private key: %w", err)
	}
	log.Info("private key loaded", "bytes", n, "backend", cfg.Credentials.Backend)

	loop := events.New(0)
	loop.SetLogger(log)

	tasks := scheduler.New(loop)
	defer tasks.Close()

	rt, err := router.New(router.Config{
		Topic:      cfg.Publish.Topic,
		Message:    []byte(cfg.Publish.Message),
		QoS:        byte(cfg.Publish.QoS), // #nosec G115 -- validated 0..2
		MaxPayload: cfg.Inbound.MaxPayload,
		Overflow:   router.OverflowPolicy(cfg.Inbound.Overflow),
	})
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}
	rt.SetLogger(log.With("component", "router"))

	engine := mqtt.NewEngine(loop)
	engine.SetLogger(log.With("component", "mqtt"))

	mgr, err := session.NewManager(sessionSettings(cfg), session.Deps{
		Loop:        loop,
		Dialer:      session.EngineDialer(engine),
		Minter:      token.NewMinter(token.JWTSigner{}),
		Scheduler:   tasks,
		Router:      rt,
		Credentials: creds,
		Reload: func(dst *credentials.Buffer) (int, error) {
			return credentials.Load(ctx, store, storage.ClassCertificate, keyName, dst)
		},
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	mgr.SetLogger(log.With("component", "session"))

	checks := map[string]api.HealthChecker{}
	if db != nil {
		checks["database"] = db
	}

	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer closeWithLog(log, "InfluxDB", influx.Close)
		influx.SetOnError(func(err error) {
			log.Warn("InfluxDB write error", "error", err)
		})

		rec := influxdb.NewRecorder(influx, cfg.Device.DeviceID(), log.Instance())
		mgr.SetRecorder(rec)
		rt.SetRecorder(rec)
		checks["influxdb"] = influx
		log.Info("telemetry enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			Status:  mgr,
			Stats:   rt,
			Checks:  checks,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer closeWithLog(log, "API server", srv.Close)
	}

	if cfg.Credentials.Watch {
		fsStore, ok := store.(*storage.FS)
		if !ok {
			return fmt.Errorf("credentials.watch requires the fs backend")
		}
		w, err := credentials.NewWatcher(fsStore.Path(storage.ClassCertificate, keyName), func() {
			if err := mgr.ReloadCredentials(); err != nil {
				log.Debug("credential reload skipped", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("watching private key: %w", err)
		}
		w.SetLogger(log.With("component", "watcher"))
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go w.Run(watchCtx)
		defer closeWithLog(log, "key watcher", w.Close)
	}

	// The loop is stopped by the manager, not by ctx, so a signal still
	// lets the device disconnect cleanly.
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(context.Background()) }()

	if err := mgr.Start(); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	select {
	case <-mgr.Done():
	case <-ctx.Done():
		log.Info("shutdown requested")
		if err := mgr.Shutdown(); err != nil {
			log.Debug("shutdown not posted", "error", err)
		}
		select {
		case <-mgr.Done():
		case <-time.After(shutdownTimeout):
			log.Warn("broker did not acknowledge disconnect in time")
			loop.Stop()
		}
	}

	if err := <-loopDone; err != nil {
		log.Warn("event loop ended with error", "error", err)
	}

	if err := mgr.Err(); err != nil {
		return fmt.Errorf("session halted: %w", err)
	}
	log.Info("session closed")
	return nil
}

// sessionSettings maps configuration onto the manager's settings.
func sessionSettings(cfg *config.Config) session.Settings {
	subs := make([]session.Subscription, len(cfg.Subscriptions))
	for i, s := range cfg.Subscriptions {
		subs[i] = session.Subscription{Pattern: s.Topic, QoS: byte(s.QoS)} // #nosec G115 -- validated 0..2
	}
	return session.Settings{
		ProjectID:     cfg.Device.ProjectID,
		TokenValidity: cfg.TokenValidityDuration(),
		Params: mqtt.ConnectParams{
			Host:           cfg.MQTT.Broker.Host,
			Port:           cfg.MQTT.Broker.Port,
			TLS:            cfg.MQTT.Broker.TLS,
			CAFile:         cfg.MQTT.Broker.CAFile,
			Username:       cfg.MQTT.Username,
			ClientID:       cfg.Device.DevicePath,
			ConnectTimeout: cfg.ConnectTimeoutDuration(),
			KeepAlive:      cfg.KeepAliveDuration(),
		},
		Subscriptions:       subs,
		PublishInterval:     cfg.PublishInterval(),
		PublishInitialDelay: cfg.PublishInitialDelay(),
		Retry: session.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelay) * time.Second,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelay) * time.Second,
		},
	}
}

// openStore opens the configured credential backend. guidance is the message
// printed when the key is missing.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, *database.DB, string, error) {
	keyName := cfg.Credentials.PrivateKeyFile

	switch cfg.Credentials.Backend {
	case "sqlite":
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, "", err
		}
		guidance := fmt.Sprintf(
			"private key %q not found in %s. Import it with -provision_key <file>.",
			keyName, db.Path(),
		)
		return storage.NewSQLite(db), db, guidance, nil
	default:
		fsStore := storage.NewFS(map[storage.ResourceClass]string{
			storage.ClassCertificate: cfg.Credentials.Directory,
		})
		return fsStore, nil, credentials.Guidance(fsStore.Path(storage.ClassCertificate, keyName)), nil
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("preparing database: %w", err)
	}
	return db, nil
}

// provisionKey stores a PEM file in the sqlite credential store under the
// configured key name.
func provisionKey(ctx context.Context, cfg *config.Config, file string, log *logging.Logger) error {
	data, err := os.ReadFile(file) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("reading key to provision: %w", err)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeWithLog(log, "database", db.Close)

	name := cfg.Credentials.PrivateKeyFile
	if err := storage.NewSQLite(db).Put(ctx, storage.ClassCertificate, name, data); err != nil {
		return fmt.Errorf("provisioning key: %w", err)
	}
	log.Info("private key provisioned", "name", name, "bytes", len(data), "database", db.Path())
	return nil
}

func closeWithLog(log *logging.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Error("error closing "+what, "error", err)
	}
}
