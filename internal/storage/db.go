package storage

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"captionflow/internal/appdirs"
	"captionflow/internal/types"
	"captionflow/log"
)

var DB *gorm.DB
var appDirsResolver = appdirs.Resolve

func InitDB() {
	dbPath, err := resolveDBPath()
	if err != nil {
		log.GetLogger().Fatal("failed to resolve database path", zap.Error(err))
	}

	DB, err = Open(dbPath, logger.Warn)
	if err != nil {
		log.GetLogger().Fatal("failed to open database", zap.String("path", dbPath), zap.Error(err))
	}

	log.GetLogger().Info("Database initialized successfully", zap.String("path", dbPath))
}

// Open creates the sqlite file if needed and migrates the schema.
func Open(dbPath string, level logger.LogLevel) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}
	// Pipeline workers and request handlers write concurrently; sqlite takes
	// one writer at a time.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err = db.AutoMigrate(&types.SubtitleTask{}); err != nil {
		return nil, err
	}
	return db, nil
}

func resolveDBPath() (string, error) {
	dirs, err := appDirsResolver()
	if err != nil {
		return "", err
	}
	return appdirs.DBPathFor(dirs), nil
}
