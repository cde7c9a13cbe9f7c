package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/auth"
	"github.com/MarcoPoloResearchLab/localshield/internal/channels"
	"github.com/MarcoPoloResearchLab/localshield/internal/config"
	"github.com/MarcoPoloResearchLab/localshield/internal/database"
	"github.com/MarcoPoloResearchLab/localshield/internal/dispatch"
	"github.com/MarcoPoloResearchLab/localshield/internal/emergency"
	"github.com/MarcoPoloResearchLab/localshield/internal/events"
	"github.com/MarcoPoloResearchLab/localshield/internal/locations"
	"github.com/MarcoPoloResearchLab/localshield/internal/logging"
	"github.com/MarcoPoloResearchLab/localshield/internal/proximity"
	"github.com/MarcoPoloResearchLab/localshield/internal/push"
	"github.com/MarcoPoloResearchLab/localshield/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the LocalShield API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	defaults := config.NewViper()
	flags := cmd.Flags()
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("storage-driver", defaults.GetString("storage.driver"), "Storage driver (memory, sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL DSN")
	flags.Float64("radius-meters", defaults.GetFloat64("proximity.radius_meters"), "Alert radius in meters")
	flags.Bool("dev-issuer", defaults.GetBool("auth.dev_issuer"), "Mount POST /auth/token for development")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "proximity.radius_meters", "radius-meters")
	bindFlag(cmd, "auth.dev_issuer", "dev-issuer")
	return cmd
}

type stores struct {
	locations locations.Store
	registry  channels.Registry
	eventLog  events.Log
	close     func() error
}

func openStores(appConfig config.AppConfig, logger *zap.Logger) (stores, error) {
	if appConfig.StorageDriver == config.StorageMemory {
		return stores{
			locations: locations.NewMemoryStore(nil),
			registry:  channels.NewMemoryRegistry(nil),
			eventLog:  events.NewMemoryLog(nil),
			close:     func() error { return nil },
		}, nil
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.StorageDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return stores{}, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return stores{}, err
	}
	locationStore, err := locations.NewGormStore(db, nil)
	if err != nil {
		return stores{}, err
	}
	registry, err := channels.NewGormRegistry(db, nil)
	if err != nil {
		return stores{}, err
	}
	eventLog, err := events.NewGormLog(db, nil)
	if err != nil {
		return stores{}, err
	}
	return stores{locations: locationStore, registry: registry, eventLog: eventLog, close: sqlDB.Close}, nil
}

func buildTransports(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (push.Transports, error) {
	transports := push.Transports{}
	if appConfig.ExpoEnabled {
		transports[channels.KindCrossPlatformPushToken] = push.NewExpoChannel(push.ExpoConfig{
			URL:         appConfig.ExpoURL,
			AccessToken: appConfig.ExpoAccessToken,
			Logger:      logger,
		})
	}
	if appConfig.SNSPlatformApplication != "" {
		snsChannel, err := push.NewSNSChannel(ctx, push.SNSConfig{
			Region:                 appConfig.SNSRegion,
			PlatformApplicationARN: appConfig.SNSPlatformApplication,
			Logger:                 logger,
		})
		if err != nil {
			return nil, err
		}
		transports[channels.KindNativeDeviceToken] = snsChannel
	}
	kinds := make([]string, 0, len(transports))
	for _, kind := range transports.Kinds() {
		kinds = append(kinds, kind.String())
	}
	logger.Info("push transports configured", zap.Strings("kinds", kinds))
	return transports, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.ValidateServer(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	backing, err := openStores(appConfig, logger)
	if err != nil {
		return err
	}
	defer backing.close() //nolint:errcheck

	if appConfig.LocationStaleAfter > 0 {
		pruner, err := locations.NewPruner(locations.PrunerConfig{
			Store:      backing.locations,
			StaleAfter: appConfig.LocationStaleAfter,
			Schedule:   appConfig.LocationPruneSchedule,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		if err := pruner.Start(); err != nil {
			return err
		}
		defer pruner.Stop()
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	transports, err := buildTransports(ctx, appConfig, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dispatcher, err := dispatch.New(dispatch.Config{
		Registry:       backing.registry,
		Transports:     transports,
		Workers:        appConfig.DispatchWorkers,
		AttemptTimeout: appConfig.DispatchTimeout,
		Registerer:     registry,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	index, err := proximity.NewIndex(backing.locations)
	if err != nil {
		return err
	}
	realtime := server.NewRealtimeDispatcher()
	emergencyService, err := emergency.NewService(emergency.ServiceConfig{
		Locations:    backing.locations,
		Finder:       index,
		EventLog:     backing.eventLog,
		Dispatcher:   dispatcher,
		Publisher:    realtime,
		RadiusMeters: appConfig.RadiusMeters,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Locations:     backing.locations,
		Registry:      backing.registry,
		EventLog:      backing.eventLog,
		Emergency:     emergencyService,
		Realtime:      realtime,
		EmergencyRate: appConfig.EmergencyRate,
		DevIssuer:     appConfig.DevIssuer,
		Gatherer:      registry,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage", appConfig.StorageDriver),
			zap.Float64("radius_meters", emergencyService.RadiusMeters()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
