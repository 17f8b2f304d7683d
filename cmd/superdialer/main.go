package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/config"
	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
	"github.com/MarcoPoloResearchLab/superdialer/internal/logging"
	"github.com/MarcoPoloResearchLab/superdialer/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "superdialer",
		Short:        "Superdialer call history, notes and tags service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newHistoryCommand(), newIssueTokenCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path for notes, tags and cache")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("call-log-path", defaults.GetString("registry.call_log_path"), "Call log registry (SQLite)")
	cmd.PersistentFlags().String("contacts-path", defaults.GetString("registry.contacts_path"), "Contacts registry (YAML)")
	cmd.PersistentFlags().Bool("watch-registries", defaults.GetBool("registry.watch"), "Refresh when a registry file changes")
	cmd.PersistentFlags().String("signing-secret", "", "Device token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "registry.call_log_path", "call-log-path")
	bindFlag(cmd, "registry.contacts_path", "contacts-path")
	bindFlag(cmd, "registry.watch", "watch-registries")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("superdialer")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func loadConfigAndLogger() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := openApplication(appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	dependencies := server.Dependencies{
		Coordinator:    app.coordinator,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	}
	if appConfig.AuthEnabled() {
		tokenIssuer, err := newTokenIssuer(appConfig)
		if err != nil {
			return err
		}
		dependencies.Tokens = tokenIssuer
	} else {
		logger.Warn("device token auth disabled; the HTTP API is open", zap.String("address", appConfig.HTTPAddress))
	}

	handler, err := server.NewHTTPHandler(dependencies)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return groupCtx
		},
	}

	group.Go(func() error {
		return app.coordinator.Run(groupCtx)
	})
	app.coordinator.Refresh(groupCtx)

	if appConfig.WatchRegistries {
		group.Go(func() error {
			paths := []string{appConfig.CallLogPath, appConfig.ContactsPath}
			err := history.Watch(groupCtx, paths, 0, logger, func() {
				logger.Debug("registry changed, refreshing")
				app.coordinator.Refresh(groupCtx)
			})
			if err != nil {
				logger.Warn("registry watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
