package main

import (
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/auth"
	"github.com/MarcoPoloResearchLab/superdialer/internal/cache"
	"github.com/MarcoPoloResearchLab/superdialer/internal/config"
	"github.com/MarcoPoloResearchLab/superdialer/internal/database"
	"github.com/MarcoPoloResearchLab/superdialer/internal/dialer"
	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
	"github.com/MarcoPoloResearchLab/superdialer/internal/notes"
	"github.com/MarcoPoloResearchLab/superdialer/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type application struct {
	db          *gorm.DB
	store       *notes.Store
	coordinator *dialer.Coordinator
}

func openApplication(appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	dispatcher := realtime.NewDispatcher()
	store, err := notes.NewStore(notes.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		closeDatabase(db)
		return nil, err
	}

	snapshotCache, err := cache.New(cache.Config{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		closeDatabase(db)
		return nil, err
	}

	reader := history.NewRegistryReader(history.RegistryReaderConfig{
		CallLogPath:  appConfig.CallLogPath,
		ContactsPath: appConfig.ContactsPath,
		Logger:       logger,
	})

	coordinator, err := dialer.NewCoordinator(dialer.CoordinatorConfig{
		Store:      store,
		Reader:     reader,
		Cache:      snapshotCache,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		closeDatabase(db)
		return nil, err
	}

	return &application{db: db, store: store, coordinator: coordinator}, nil
}

func (a *application) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningKey),
		Issuer:        appConfig.AuthIssuer,
		Audience:      appConfig.AuthAudience,
		TokenTTL:      appConfig.TokenTTL(),
	})
}
