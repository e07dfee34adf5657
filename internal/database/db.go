package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

type DB struct {
	conn   *sql.DB
	dbType string
	log    logrus.FieldLogger
}

type Config struct {
	Type       string `yaml:"type" validate:"oneof=sqlite postgres"`
	Host       string `yaml:"host" validate:"required_if=Type postgres"`
	Port       int    `yaml:"port" validate:"gte=0,lte=65535"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name" validate:"required_if=Type postgres"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Type sqlite"`
}

func NewDB(config Config, logger logrus.FieldLogger) (*DB, error) {
	var conn *sql.DB
	var err error

	switch config.Type {
	case TypeSQLite:
		conn, err = sql.Open("sqlite3", config.SQLitePath+"?_busy_timeout=5000")
	case TypePostgres:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			config.Host, config.Port, config.User, config.Password, config.Name)
		conn, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.Type == TypeSQLite {
		// SQLite allows a single writer at a time.
		conn.SetMaxOpenConns(1)
	}

	db := &DB{
		conn:   conn,
		dbType: config.Type,
		log:    logger.WithField("component", "database"),
	}

	// Only create tables for SQLite, Postgres goes through migrations
	if config.Type == TypeSQLite {
		if err := db.createTables(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return db, nil
}

func (db *DB) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS high_scores (
		mode TEXT PRIMARY KEY,
		score INTEGER NOT NULL CHECK (score >= 0),
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		policy TEXT NOT NULL,
		score INTEGER NOT NULL,
		reason TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		new_high_score BOOLEAN NOT NULL DEFAULT 0,
		recording TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rounds_mode_ended ON rounds (mode, ended_at DESC);
	`

	_, err := db.conn.ExecContext(ctx, query)
	return err
}

// RunMigrations applies pending SQL migrations from path. It is a no-op for SQLite.
func (db *DB) RunMigrations(path string) error {
	return NewMigrator(db.conn, db.dbType, db.log).Run(path)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Type() string {
	return db.dbType
}
