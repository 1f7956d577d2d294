package database

import (
	"RetinaTrack/config"
	"RetinaTrack/models"
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the configured database, migrates the schema and seeds roles.
func InitDB(ctx context.Context, cfg config.DatabaseConfig, verbose bool, log *logrus.Logger) (*gorm.DB, error) {
	logMode := logger.Silent
	if verbose {
		logMode = logger.Info
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.URL)
	case "sqlite":
		dialector = sqlite.Open(cfg.URL)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: false,
		PrepareStmt:                              cfg.Driver == "postgres",
		Logger:                                   logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}

	if err := configureConnectionPool(db, cfg); err != nil {
		return nil, err
	}
	if err := testDatabaseConnection(ctx, db); err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.WithField("driver", cfg.Driver).Info("database initialized")
	return db, nil
}

// OpenSQLite opens an sqlite database and migrates it. Used by local runs and
// tests. A single connection keeps in-memory databases shared and writes
// serialized.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get sql.DB from GORM")
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func configureConnectionPool(db *gorm.DB, cfg config.DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get sql.DB from GORM")
	}
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		return nil
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 10 * time.Minute
	}
	sqlDB.SetConnMaxLifetime(lifetime)
	return nil
}

func testDatabaseConnection(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get sql.DB from GORM")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "failed to ping database")
	}
	return nil
}

// Migrate creates or updates the schema and seeds the role table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Patient{},
		&models.Visit{},
		&models.Image{},
		&models.ImageAnalysisLink{},
		&models.Annotation{},
		&models.AnnotationImage{},
	); err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}
	if err := models.SeedRoles(db); err != nil {
		return errors.Wrap(err, "failed to seed roles")
	}
	return nil
}
