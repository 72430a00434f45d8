package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RiverbendLabs/coursepulse/internal/auth"
	"github.com/RiverbendLabs/coursepulse/internal/config"
	"github.com/RiverbendLabs/coursepulse/internal/database"
	"github.com/RiverbendLabs/coursepulse/internal/feed"
	"github.com/RiverbendLabs/coursepulse/internal/logging"
	"github.com/RiverbendLabs/coursepulse/internal/membership"
	"github.com/RiverbendLabs/coursepulse/internal/merge"
	"github.com/RiverbendLabs/coursepulse/internal/progress"
	"github.com/RiverbendLabs/coursepulse/internal/server"
	"github.com/RiverbendLabs/coursepulse/internal/session"
	"github.com/RiverbendLabs/coursepulse/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coursepulse-api",
		Short: "CoursePulse realtime companion service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-issuer", defaults.GetString("session.issuer"), "Issuer expected on session tokens")
	cmd.PersistentFlags().String("session-cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("stream-token-ttl-minutes", defaults.GetInt("stream_token.ttl_minutes"), "Stream token TTL in minutes")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the change feed bridge (empty disables)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "session.cookie_name", "session-cookie-name")
	bindFlag(cmd, "stream_token.ttl_minutes", "stream-token-ttl-minutes")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionVerifier, err := auth.NewSessionVerifier(auth.SessionVerifierConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}
	streamTokens := auth.NewStreamTokenIssuer(auth.StreamTokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		TokenTTL:      time.Duration(appConfig.StreamTokenTTLMin) * time.Minute,
	})

	hub := feed.NewHub(logger)

	membershipStore, err := membership.NewStore(db)
	if err != nil {
		return err
	}
	mergeStore, err := merge.NewStore(db)
	if err != nil {
		return err
	}
	checkpointStore, err := progress.NewStore(db)
	if err != nil {
		return err
	}
	directory, err := users.NewDirectory(db)
	if err != nil {
		return err
	}

	sessions, err := session.NewFactory(session.Config{
		Hub:         hub,
		Memberships: membershipStore,
		Names:       directory,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionVerifier: sessionVerifier,
		StreamTokens:    streamTokens,
		Hub:             hub,
		Sessions:        sessions,
		Resolver:        merge.NewResolver(mergeStore, logger),
		Checkpoints:     checkpointStore,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		defer redisClient.Close() //nolint:errcheck

		bridge := feed.NewRedisBridge(redisClient, hub, appConfig.RedisChannelPrefix, logger)
		go func() {
			if err := bridge.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis bridge exited", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
