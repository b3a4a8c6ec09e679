package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zonemap/zonemap/pkg/api"
	"github.com/zonemap/zonemap/pkg/auth"
	"github.com/zonemap/zonemap/pkg/bestzone"
	"github.com/zonemap/zonemap/pkg/config"
	"github.com/zonemap/zonemap/pkg/logx"
	"github.com/zonemap/zonemap/pkg/metrics"
	"github.com/zonemap/zonemap/pkg/mqtt"
	"github.com/zonemap/zonemap/pkg/pidfile"
	"github.com/zonemap/zonemap/pkg/session"
	"github.com/zonemap/zonemap/pkg/store"
)

var (
	configPath = flag.String("config", "/etc/zonemap/zonemapd.json", "Path to configuration file")
	pidPath    = flag.String("pid-file", "/tmp/zonemapd.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error|trace)")
	version    = flag.Bool("version", false, "Show version information")
	foreground = flag.Bool("foreground", false, "Run in foreground mode (don't daemonize)")
	force      = flag.Bool("force", false, "Force start by removing stale PID file")
)

const (
	AppName    = "zonemapd"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	effectiveLogLevel := "info"
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}

	logger := logx.NewLogger(effectiveLogLevel, AppName)

	pidFile := pidfile.New(*pidPath)

	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("Failed to check for running instance", "error", err)
		os.Exit(1)
	}

	if running {
		if *force {
			logger.Warn("Another instance is running, but force flag specified", "existing_pid", existingPID)
			if err := pidFile.ForceRemove(); err != nil {
				logger.Error("Failed to remove existing PID file", "error", err)
				os.Exit(1)
			}
		} else {
			logger.Error("Another instance is already running", "existing_pid", existingPID, "pid_file", *pidPath)
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			fmt.Fprintf(os.Stderr, "Use --force to override, or stop the existing instance first\n")
			os.Exit(1)
		}
	}

	if err := pidFile.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", *pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove PID file", "error", err)
		}
	}()

	logger.Info("Starting zonemap daemon",
		"version", AppVersion,
		"pid", os.Getpid(),
		"pid_file", *pidPath,
		"foreground", *foreground,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	// The flag wins over both the file and the environment.
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(cfg.LogLevel)

	logger.Info("Configuration loaded",
		"database_path", cfg.DatabasePath,
		"api_port", cfg.API.Port,
		"auth_cache", cfg.Auth.CacheEnabled,
		"mqtt_enabled", cfg.MQTT.Enabled,
	)

	recordStore, err := store.NewSQLiteStore(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("Failed to open measurement store", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer recordStore.Close()

	var verifier auth.Verifier = auth.NewCredentialVerifier(recordStore, logger)
	if cfg.Auth.CacheEnabled {
		cachingVerifier, err := auth.NewCachingVerifier(verifier, &auth.CacheConfig{
			PersistencePath: cfg.Auth.CachePath,
			PositiveTTL:     time.Duration(cfg.Auth.PositiveTTLSec) * time.Second,
			NegativeTTL:     time.Duration(cfg.Auth.NegativeTTLSec) * time.Second,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize token cache", "error", err)
			os.Exit(1)
		}
		defer cachingVerifier.Close()
		verifier = cachingVerifier
	}

	var geocoder bestzone.Geocoder
	if cfg.Maps.APIKey != "" {
		googleGeocoder, err := bestzone.NewGoogleGeocoder(cfg.Maps.APIKey)
		if err != nil {
			logger.Warn("Failed to initialize geocoder, place names disabled", "error", err)
		} else {
			geocoder = googleGeocoder
			logger.Info("Reverse geocoder enabled")
		}
	}

	resolver := bestzone.NewResolver(recordStore, geocoder, logger)
	resolver.SetRadiusBounds(cfg.BestZone.DefaultRadiusM, cfg.BestZone.MaxRadiusM)

	var publisher session.Publisher
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(&mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retain:      cfg.MQTT.Retain,
			Enabled:     cfg.MQTT.Enabled,
		}, logger)
		if err := mqttClient.Connect(); err != nil {
			// Telemetry is optional, start without it.
			logger.Error("Failed to connect to MQTT broker", "error", err)
		} else {
			defer mqttClient.Disconnect()
			publisher = mqttClient
		}
	}

	m := metrics.New()
	registry := session.NewRegistry(logger)

	engine := session.NewEngine(recordStore, verifier, resolver, registry, m, publisher, &session.Config{
		HeartbeatInterval: time.Duration(cfg.Session.HeartbeatIntervalSec) * time.Second,
		OperationTimeout:  time.Duration(cfg.Session.OperationTimeoutSec) * time.Second,
	}, logger)

	server := api.NewServer(&api.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
	}, recordStore, verifier, resolver, engine, m, publisher, logger)

	if err := server.Start(); err != nil {
		logger.Error("Failed to start API server", "error", err)
		os.Exit(1)
	}

	logger.Info("zonemapd started", "host", cfg.API.Host, "port", cfg.API.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", "error", err)
	}

	logger.Info("Graceful shutdown completed", "active_sessions", registry.Count())
}
