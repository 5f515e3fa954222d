// Package ledger records checkout attempts and their outcome events (transactional outbox).
// It runs on Postgres in production and on SQLite for local runs and tests.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

var (
	ErrAttemptNotFound  = errors.New("checkout attempt not found")
	ErrDuplicateAttempt = errors.New("checkout attempt with this idempotency key already exists")
	ErrEventNotFound    = errors.New("unprocessed outbox event not found")
)

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

func (c *Credentials) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Attempt is one checkout submission, keyed by its idempotency key.
type Attempt struct {
	ID             string
	IdempotencyKey string
	IdentityKey    string
	Status         string
	Totals         []byte // JSON
	OrderID        string
	Message        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Outcome is the final state of an attempt plus the event announcing it.
type Outcome struct {
	Status    string
	OrderID   string
	Message   string
	EventType string
	Payload   []byte
}

type Repository struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects to Postgres for postgres:// and postgresql:// DSNs and to SQLite otherwise
// (a file path or ":memory:").
func Open(dsn string) (*Repository, error) {
	d := dialectSQLite
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		d = dialectPostgres
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if d == dialectSQLite {
		// a single connection keeps :memory: databases alive and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	return &Repository{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *Repository) RunMigrations() error {
	src, err := iofs.New(migrations, "migrations/"+string(r.dialect))
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	var m *migrate.Migrate
	switch r.dialect {
	case dialectPostgres:
		driver, err := migratepg.WithInstance(r.db, &migratepg.Config{
			MigrationsTable: "ledger_schema_migrations",
		})
		if err != nil {
			return fmt.Errorf("could not create migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
		if err != nil {
			return fmt.Errorf("could not create migrate instance: %w", err)
		}
	default:
		driver, err := migratesqlite.WithInstance(r.db, &migratesqlite.Config{
			MigrationsTable: "ledger_schema_migrations",
		})
		if err != nil {
			return fmt.Errorf("could not create migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", driver)
		if err != nil {
			return fmt.Errorf("could not create migrate instance: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (r *Repository) GetAttemptByIdempotencyKey(ctx context.Context, key string) (*Attempt, error) {
	query := `SELECT id, idempotency_key, identity_key, status, totals, order_id, message, created_at, updated_at
	          FROM checkout_attempts WHERE idempotency_key = $1`

	var a Attempt
	var totals []byte
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&a.ID,
		&a.IdempotencyKey,
		&a.IdentityKey,
		&a.Status,
		&totals,
		&a.OrderID,
		&a.Message,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query attempt by idempotency key: %w", err)
	}
	a.Totals = totals
	return &a, nil
}

func (r *Repository) CreateAttempt(ctx context.Context, a *Attempt) error {
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	totals := string(a.Totals)
	if totals == "" {
		totals = "{}"
	}

	query := `INSERT INTO checkout_attempts (id, idempotency_key, identity_key, status, totals, order_id, message, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.IdempotencyKey,
		a.IdentityKey,
		a.Status,
		totals,
		a.OrderID,
		a.Message,
		a.CreatedAt,
		a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (r *Repository) UpdateAttemptStatus(ctx context.Context, id, status string) error {
	query := `UPDATE checkout_attempts SET status = $1, updated_at = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, query, status, r.now(), id)
	if err != nil {
		return fmt.Errorf("update attempt status: %w", err)
	}
	return requireRow(res, ErrAttemptNotFound)
}

// CompleteAttempt stores the outcome and its outbox event in one transaction.
func (r *Repository) CompleteAttempt(ctx context.Context, id string, out Outcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now()
	res, err := tx.ExecContext(ctx,
		`UPDATE checkout_attempts SET status = $1, order_id = $2, message = $3, updated_at = $4 WHERE id = $5`,
		out.Status, out.OrderID, out.Message, now, id)
	if err != nil {
		return fmt.Errorf("update attempt outcome: %w", err)
	}
	if err := requireRow(res, ErrAttemptNotFound); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
		id, out.EventType, string(out.Payload), now)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}

// GetStaleAttempts returns attempts not in one of the terminal statuses whose last update is older than before.
func (r *Repository) GetStaleAttempts(ctx context.Context, before time.Time, terminal ...string) ([]*Attempt, error) {
	query := `SELECT id, idempotency_key, identity_key, status, totals, order_id, message, created_at, updated_at
	          FROM checkout_attempts WHERE updated_at < $1`
	args := []any{before.UTC()}
	for _, s := range terminal {
		args = append(args, s)
		query += fmt.Sprintf(" AND status <> $%d", len(args))
	}
	query += " ORDER BY updated_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var a Attempt
		var totals []byte
		if err := rows.Scan(
			&a.ID,
			&a.IdempotencyKey,
			&a.IdentityKey,
			&a.Status,
			&totals,
			&a.OrderID,
			&a.Message,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		a.Totals = totals
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return attempts, nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = $1 WHERE id = $2 AND processed_at IS NULL`,
		r.now(), id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return requireRow(res, ErrEventNotFound)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
