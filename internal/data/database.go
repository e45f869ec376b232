package data

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"regbackend/internal/logger"
)

// =============================================================================
// CONSTANTS AND GLOBAL VARIABLES
// =============================================================================

// Global database instance
var (
	db   *sql.DB
	dbMu sync.RWMutex
)

// Database connection pool configuration
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = time.Hour
	connMaxIdleTime = time.Minute * 15
	queryTimeout    = time.Second * 30
)

const TimeFormat = time.RFC3339

// =============================================================================
// DATABASE CONNECTION AND SETUP
// =============================================================================

// InitDB initializes the database with connection pooling and resilience
func InitDB(dataSourceName string) error {
	dbMu.Lock()
	defer dbMu.Unlock()

	// Close existing connection if any
	if db != nil {
		db.Close()
	}

	return initDBWithRetry(dataSourceName, 3)
}

func initDBWithRetry(dataSourceName string, maxRetries int) error {
	var err error

	// Pragmas in the DSN apply to every pooled connection; the ones set via
	// enablePragmas only reach the connection that runs them.
	dsn := dataSourceName +
		"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			logger.LogWarn("Database connection attempt %d failed: %v", attempt, err)
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return fmt.Errorf("failed to open database after %d attempts: %w", maxRetries, err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
		db.SetConnMaxIdleTime(connMaxIdleTime)

		// Test the connection
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		err = db.PingContext(ctx)
		cancel()

		if err != nil {
			logger.LogWarn("Database ping attempt %d failed: %v", attempt, err)
			db.Close()
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
		}

		if err := enablePragmas(db); err != nil {
			logger.LogWarn("Failed to enable some database optimizations: %v", err)
			// Don't fail initialization for pragma errors
		}

		logger.LogInfo("Database connection established successfully (attempt %d)", attempt)
		return nil
	}

	return fmt.Errorf("failed to initialize database after %d attempts", maxRetries)
}

func enablePragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}

	var lastErr error
	for _, pragma := range pragmas {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		_, err := conn.ExecContext(ctx, pragma)
		cancel()

		if err != nil {
			logger.LogWarn("Failed to execute %s: %v", pragma, err)
			lastErr = err
		}
	}
	return lastErr
}

// GetDB returns the database connection with health check
func GetDB() (*sql.DB, error) {
	dbMu.RLock()
	defer dbMu.RUnlock()

	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.LogError("Database health check failed: %v", err)
		return nil, fmt.Errorf("database connection unhealthy: %w", err)
	}

	return db, nil
}

// CloseDB closes the database connection gracefully
func CloseDB() error {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// =============================================================================
// SCHEMA DEFINITIONS
// =============================================================================

const productTableSchema = `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT 'product',
		base_price REAL NOT NULL DEFAULT 0,
		deposit_amount REAL NOT NULL DEFAULT 0,
		total_inventory INTEGER,
		sold_count INTEGER NOT NULL DEFAULT 0,
		reserved_count INTEGER NOT NULL DEFAULT 0,
		max_per_org INTEGER NOT NULL DEFAULT 0,
		available BOOLEAN NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS org_product_prices (
		organization_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		price REAL NOT NULL,
		PRIMARY KEY (organization_id, product_id)
	);`

const orderTableSchema = `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		event_year_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total_amount REAL NOT NULL DEFAULT 0,
		deposit_amount REAL NOT NULL DEFAULT 0,
		balance_owed REAL NOT NULL DEFAULT 0,
		is_sponsorship BOOLEAN NOT NULL DEFAULT 0,
		contact_name TEXT NOT NULL DEFAULT '',
		contact_email TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_org_year ON orders(organization_id, event_year_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'product',
		quantity INTEGER NOT NULL DEFAULT 1,
		unit_price REAL NOT NULL DEFAULT 0,
		deposit_price REAL NOT NULL DEFAULT 0,
		total_price REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);`

const invoiceTableSchema = `
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
		invoice_number TEXT NOT NULL UNIQUE,
		event_year_id TEXT NOT NULL,
		total_amount REAL NOT NULL DEFAULT 0,
		paid_amount REAL NOT NULL DEFAULT 0,
		balance_owed REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		sent_at TEXT,
		paid_at TEXT,
		due_date TEXT,
		metadata_json TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_year ON invoices(event_year_id);`

const paymentTableSchema = `
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		amount REAL NOT NULL DEFAULT 0,
		method TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL UNIQUE,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id);`

const reservationTableSchema = `
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'held',
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_order ON reservations(order_id);`

const quotaTableSchema = `
	CREATE TABLE IF NOT EXISTS organization_quotas (
		organization_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		event_year_id TEXT NOT NULL,
		quantity_purchased INTEGER NOT NULL DEFAULT 0,
		max_allowed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (organization_id, product_id, event_year_id)
	);`

const teamTableSchema = `
	CREATE TABLE IF NOT EXISTS company_teams (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		event_year_id TEXT NOT NULL,
		team_number INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_paid BOOLEAN NOT NULL DEFAULT 1,
		cancelled BOOLEAN NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE (organization_id, event_year_id, team_number)
	);
	CREATE INDEX IF NOT EXISTS idx_teams_org_year ON company_teams(organization_id, event_year_id);`

// =============================================================================
// TABLE CREATION
// =============================================================================

func CreateTables() error {
	tables := []struct {
		name   string
		schema string
	}{
		{"products", productTableSchema},
		{"orders", orderTableSchema},
		{"invoices", invoiceTableSchema},
		{"payments", paymentTableSchema},
		{"reservations", reservationTableSchema},
		{"organization_quotas", quotaTableSchema},
		{"company_teams", teamTableSchema},
	}

	for _, table := range tables {
		if _, err := db.Exec(table.schema); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	return nil
}

// =============================================================================
// GENERIC DATABASE OPERATIONS
// =============================================================================

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run the
// same statements inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// WithTx runs fn inside a single transaction, rolling back on error or panic.
func WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	dbConn, err := GetDB()
	if err != nil {
		return err
	}

	tx, err := dbConn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExecDB executes a query with better error handling and timeouts
func ExecDB(query string, args ...interface{}) (sql.Result, error) {
	dbConn, err := GetDB()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	result, err := dbConn.ExecContext(ctx, query, args...)
	if err != nil {
		logger.LogError("Database exec failed: query=%s, error=%v", query, err)
		return nil, fmt.Errorf("database execution failed: %w", err)
	}

	return result, nil
}

// QueryDB executes a query with timeout and returns rows
func QueryDB(query string, args ...interface{}) (*sql.Rows, error) {
	dbConn, err := GetDB()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := dbConn.QueryContext(ctx, query, args...)
	if err != nil {
		logger.LogError("Database query failed: query=%s, error=%v", query, err)
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	return rows, nil
}

// QueryRowDB executes a query that returns a single row
func QueryRowDB(query string, args ...interface{}) *sql.Row {
	dbConn, _ := GetDB() // We'll let the query fail if DB is unavailable

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	return dbConn.QueryRowContext(ctx, query, args...)
}
