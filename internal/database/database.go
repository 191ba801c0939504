package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sovann/taskhub-core/internal/config"
	"github.com/sovann/taskhub-core/internal/models"
)

// Open connects to Postgres and tunes the pool. The handle is returned, not
// stored; callers pass it to whatever needs it.
func Open(cfg *config.Config) (*gorm.DB, error) {
	log.Printf("connecting to database host=%s db=%s user=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBName, cfg.DBUser, cfg.DBPort, cfg.DBSSLMode)

	gormLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  true,
	})

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db.DB(): %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Println("database connection established")
	return db, nil
}

func Migrate(db *gorm.DB, models ...interface{}) error {
	log.Println("running AutoMigrate")
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	log.Println("migrations complete")
	return nil
}

// SeedRoles inserts the global role rows if they are missing.
func SeedRoles(db *gorm.DB) error {
	for _, name := range []string{
		models.RoleAdmin, models.RoleProjectManager, models.RoleTeamMember,
	} {
		var role models.Role
		err := db.Where("name = ?", name).First(&role).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&models.Role{Name: name}).Error; err != nil {
				return fmt.Errorf("seed role %s: %w", name, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	return nil
}
