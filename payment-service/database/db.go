package database

import (
	"database/sql"
	"fmt"
	"time"

	"minishop/payment-service/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	createTableQuery := `
	CREATE TABLE IF NOT EXISTS payments (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'USD',
		payment_method VARCHAR(50) NOT NULL DEFAULT 'credit_card',
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		transaction_id VARCHAR(100) UNIQUE,
		failure_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments (order_id);
	CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments (user_id);
	`

	if _, err := db.Exec(createTableQuery); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}
