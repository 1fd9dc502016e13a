package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/config"
	"github.com/plexbridge/plexbridge/internal/database"
	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/hdhr"
	internalhttp "github.com/plexbridge/plexbridge/internal/http"
	"github.com/plexbridge/plexbridge/internal/http/handlers"
	"github.com/plexbridge/plexbridge/internal/httpclient"
	"github.com/plexbridge/plexbridge/internal/observability"
	"github.com/plexbridge/plexbridge/internal/relay"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the plexbridge server",
	Long: `Start the plexbridge HTTP server.

The server exposes the HDHomeRun tuner API for Plex discovery, the
stream gateway, the XMLTV guide endpoints, and the JSON admin API with
OpenAPI documentation at /docs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().String("data-dir", "", "data directory for database and cache")
	serveCmd.Flags().String("advertised-host", "", "host(:port) clients use to reach this bridge")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)
	logOverrides(cfg)
	cfg.Normalize()

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	if err := ensureDataLayout(cfg); err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}

	db, err := database.New(cfg.Paths.DBPath, observability.WithComponent(logger, "database"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	channelRepo := repository.NewChannelRepository(db.DB)
	streamRepo := repository.NewStreamRepository(db.DB)
	epgSourceRepo := repository.NewEpgSourceRepository(db.DB)
	epgChannelRepo := repository.NewEpgChannelRepository(db.DB)
	epgProgramRepo := repository.NewEpgProgramRepository(db.DB)
	settingRepo := repository.NewSettingRepository(db.DB)

	epgCache, err := cache.New(cache.Options{
		Path:   cfg.Paths.CachePath(),
		Logger: observability.WithComponent(logger, "cache"),
	})
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}
	defer func() {
		if err := epgCache.Close(); err != nil {
			logger.Warn("closing cache", slog.String("error", err.Error()))
		}
	}()

	// EPG pipeline.
	downloadClient := httpclient.New(httpclient.Config{
		Timeout:             cfg.EPG.DownloadTimeout,
		MaxBodyBytes:        cfg.EPG.MaxBodyBytes.Bytes(),
		UserAgent:           version.UserAgent(),
		Logger:              observability.WithComponent(logger, "httpclient"),
		EnableDecompression: true,
	})
	ingester := epg.NewIngester(epgSourceRepo, epgChannelRepo, epgProgramRepo,
		downloadClient, epgCache, observability.WithComponent(logger, "epg"))
	scheduler := epg.NewScheduler(epgSourceRepo, epgProgramRepo, ingester,
		observability.WithComponent(logger, "scheduler"))
	query := epg.NewQuery(channelRepo, epgProgramRepo, epgCache,
		observability.WithComponent(logger, "epg"))
	guide := epg.NewGuide(channelRepo, query,
		observability.WithComponent(logger, "epg"))

	// Stream gateway.
	relayLogger := observability.WithComponent(logger, "relay")
	manager := relay.NewManager(relay.ManagerConfig{
		MaxConcurrent: cfg.Streaming.MaxConcurrentStreams,
		MaxPerChannel: cfg.Streaming.MaxPerChannel,
		IdleTimeout:   cfg.Streaming.IdleTimeout,
	}, settingRepo, relayLogger)
	defer manager.Close()

	streamingClient := relay.NewStreamingClient(cfg.Streaming.ConnectTimeout)
	classifier := relay.NewClassifier(relay.ClassifierConfig{
		ReliabilityThreshold: cfg.Streaming.ReliabilityThreshold,
		HTTPClient:           streamingClient,
	})
	encoder := relay.NewEncoder(relay.EncoderConfig{
		BinaryPath:    cfg.Streaming.EncoderPath,
		Grace:         cfg.Streaming.EncoderGrace,
		DeferredStart: cfg.Streaming.DeferredStartMax > 0,
		Logger:        relayLogger,
	})
	relayHandler := relay.NewHandler(channelRepo, streamRepo, manager,
		classifier, encoder, streamingClient, relayLogger)

	// Tuner emulation.
	tuner := hdhr.NewServer(hdhr.Config{
		FriendlyName:   cfg.Device.FriendlyName,
		AdvertisedHost: cfg.Server.AdvertisedHost,
		TunerCount:     cfg.Streaming.MaxConcurrentStreams,
		GuideDays:      cfg.EPG.GuideDays,
		Manufacturer:   cfg.Device.Manufacturer,
		ModelNumber:    cfg.Device.ModelNumber,
		FirmwareName:   cfg.Device.FirmwareName,
		DeviceID:       cfg.Device.DeviceID,
	}, channelRepo, epgSourceRepo, settingRepo, observability.WithComponent(logger, "hdhr"))

	// HTTP server.
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.HTTPPort,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, observability.WithComponent(logger, "http"), version.Version)

	tuner.Routes(server.Router())
	relayHandler.Routes(server.Router())

	guideHandler := handlers.NewGuideHandler(guide, query, handlers.GuideConfig{
		GuideDays:        cfg.EPG.GuideDays,
		AndroidGuideDays: cfg.EPG.AndroidGuideDays,
	}, logger)
	guideHandler.Routes(server.Router())
	guideHandler.Register(server.API())

	epgSourceHandler := handlers.NewEpgSourceHandler(epgSourceRepo, epgChannelRepo,
		epgProgramRepo, channelRepo, ingester, scheduler, logger)
	epgSourceHandler.Register(server.API())

	handlers.NewSettingsHandler(settingRepo).Register(server.API())
	handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithManager(manager).
		Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting EPG scheduler: %w", err)
	}
	defer scheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting plexbridge server",
		slog.String("address", cfg.Server.Address()),
		slog.String("advertised_host", cfg.Server.AdvertisedHost),
		slog.String("version", version.Version))

	return server.ListenAndServe(ctx)
}

// ensureDataLayout creates the on-disk directories the server writes to.
func ensureDataLayout(cfg *config.Config) error {
	for _, dir := range []string{
		cfg.Paths.DataDir,
		filepath.Dir(cfg.Paths.DBPath),
		cfg.Paths.CachePath(),
		cfg.Paths.LogsDir,
	} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}
	return nil
}

// applyServeFlags overrides config values with explicitly set CLI flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, ok := stringFlag(cmd.Flags(), "host"); ok {
		cfg.Server.Host = v
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.HTTPPort, _ = cmd.Flags().GetInt("port")
	}
	if v, ok := stringFlag(cmd.Flags(), "data-dir"); ok {
		cfg.Paths.DataDir = v
		cfg.Paths.DBPath = ""
	}
	if v, ok := stringFlag(cmd.Flags(), "advertised-host"); ok {
		cfg.Server.AdvertisedHost = v
	}
}
