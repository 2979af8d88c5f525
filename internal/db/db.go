package db

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"autotrader/internal/config"
)

// DB bundles the gorm handle with the underlying pool so callers can
// reach pool controls (ping, close) without unwrapping gorm.
type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

// Open connects to postgres with the db section of the config. Every
// timestamp written through gorm uses UTC, matching the broker
// payloads and token expiries stored alongside.
func Open(cfg config.DBConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db: dsn not configured (set db.dsn or AT_DB_DSN)")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: NowUTC,
	})
	if err != nil {
		return nil, err
	}

	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxOpenConns(orInt(cfg.MaxOpenConns, 20))
	sqldb.SetMaxIdleConns(orInt(cfg.MaxIdleConns, 5))
	sqldb.SetConnMaxLifetime(orDuration(cfg.ConnMaxLifetime, 30*time.Minute))
	sqldb.SetConnMaxIdleTime(orDuration(cfg.ConnMaxIdleTime, 5*time.Minute))

	return &DB{Gorm: gdb, SQL: sqldb}, nil
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func Ping(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Ping()
}

// SetTimezone pins the session timezone, normally to UTC via
// db.timezone.
func SetTimezone(db *DB, tz string) error {
	if tz == "" {
		return nil
	}
	_, err := db.SQL.Exec("SET TIME ZONE '" + tz + "'")
	return err
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

func orInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
