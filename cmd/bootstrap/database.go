package bootstrap

import (
	"fmt"
	"io"
	"os"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/logger"
)

// Options controls database setup behavior.
type Options struct {
	InitSQLPath string // optional .sql script executed after connect
	AutoMigrate bool
	SeedNonProd bool
}

// SetupDatabase connects per the configured driver, migrates the schema and
// seeds defaults in non-production modes.
func SetupDatabase(out io.Writer, opts *Options) (*gorm.DB, error) {
	if opts == nil {
		opts = &Options{}
	}
	cfg := config.GlobalConfig

	dialector, err := openDialector(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if cfg.Server.Mode == "development" {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.InitSQLPath != "" {
		script, err := os.ReadFile(opts.InitSQLPath)
		if err != nil {
			return nil, fmt.Errorf("read init sql: %w", err)
		}
		if err := db.Exec(string(script)).Error; err != nil {
			return nil, fmt.Errorf("execute init sql: %w", err)
		}
		logger.Info("init SQL executed", zap.String("path", opts.InitSQLPath))
	}

	if opts.AutoMigrate {
		if err := db.AutoMigrate(&models.Call{}, &models.Settings{}); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		logger.Info("database schema migrated")
	}

	if opts.SeedNonProd && cfg.Server.Mode != "production" {
		if err := SeedDefaults(db); err != nil {
			return nil, fmt.Errorf("seed defaults: %w", err)
		}
	}

	fmt.Fprintf(out, "database ready (driver=%s)\n", cfg.Database.Driver)
	return db, nil
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite", "":
		return sqlite.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
