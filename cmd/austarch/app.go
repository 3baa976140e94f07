package main

import (
	"context"
	"fmt"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/config"
	"github.com/austarch/austarch-db/internal/db"
	"github.com/austarch/austarch-db/internal/logger"
	"github.com/austarch/austarch-db/internal/source"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app carries what every subcommand needs. The database is opened lazily so
// that dry runs and usage errors never touch it.
type app struct {
	configPath string
	logMode    string

	cfg *config.Config
	log *zap.Logger
	gdb *gorm.DB
}

func (a *app) init() error {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return withCode(exitUsage, err)
	}
	if a.logMode != "" {
		cfg.LogMode = a.logMode
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("build logger: %w", err))
	}
	a.cfg, a.log = cfg, log
	return nil
}

func (a *app) db(ctx context.Context) (*gorm.DB, error) {
	if a.gdb != nil {
		return a.gdb, nil
	}
	gdb, err := db.Open(ctx, a.cfg.Database, a.log)
	if err != nil {
		return nil, withCode(exitDB, err)
	}
	a.gdb = gdb
	return gdb, nil
}

func (a *app) repository(ctx context.Context) (*archive.Repository, error) {
	gdb, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	return archive.NewRepository(gdb), nil
}

func (a *app) s3Config() source.S3Config {
	return source.S3Config{
		Region:    a.cfg.S3.Region,
		Endpoint:  a.cfg.S3.Endpoint,
		PathStyle: a.cfg.S3.PathStyle,
	}
}

func (a *app) close() {
	if a.gdb != nil {
		if err := db.Close(a.gdb); err != nil {
			a.log.Warn("Failed to close database", zap.Error(err))
		}
		a.gdb = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
