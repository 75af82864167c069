package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"library-circulation/internal/config"
	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
	"library-circulation/internal/repository"
)

const (
	dialectPostgres = "postgres"

	tableBooks        = "books"
	tableUsers        = "users"
	tableTransactions = "transactions"

	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = time.Hour
	defaultConnIdleTime = 5 * time.Minute
)

var dialect = goqu.Dialect(dialectPostgres)

// Store is the PostgreSQL implementation of every repository.
// Reads marked eventually consistent go to the replica when one is configured.
type Store struct {
	db      *sqlx.DB
	replica *sqlx.DB
	repository.BookRepository
	repository.UserRepository
	repository.TransactionRepository
	repository.CirculationRepository
	repository.InventoryReader
}

// NewStore wires the repositories on db. replica may be nil.
func NewStore(db *sqlx.DB, replica *sqlx.DB) *Store {
	c := &conn{primary: db, replica: replica}
	return &Store{
		db:                    db,
		replica:               replica,
		BookRepository:        &bookRepository{c: c},
		UserRepository:        &userRepository{c: c},
		TransactionRepository: &transactionRepository{c: c},
		CirculationRepository: &circulationRepository{c: c},
		InventoryReader:       &inventoryReader{c: c},
	}
}

// DB returns the primary handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	var errs []error
	if s.replica != nil {
		errs = append(errs, s.replica.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Open connects to the configured primary, and replica if any, and bootstraps the
// schema when asked to.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	driverName, err := driverFor(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	db, err := connect(ctx, driverName, cfg.GetDatabaseConnectionString(), cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("connect primary: %w", err)
	}

	var replica *sqlx.DB
	if dsn := cfg.GetReplicaConnectionString(); dsn != "" {
		replica, err = connect(ctx, driverName, dsn, cfg.Database.MaxOpenConns)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect replica: %w", err)
		}
	}

	if cfg.Database.BootstrapSchema {
		if err := EnsureSchema(ctx, db, cfg.Database.NotifyChannel); err != nil {
			db.Close()
			if replica != nil {
				replica.Close()
			}
			return nil, err
		}
	}

	logger.Info("Connected to database", "driver", driverName, "host", cfg.Database.Host, "replica", replica != nil)
	return NewStore(db, replica), nil
}

func driverFor(driver string) (string, error) {
	switch driver {
	case config.DriverPostgres:
		return "postgres", nil
	case config.DriverPgx:
		return "pgx", nil
	default:
		return "", fmt.Errorf("driver %q is not a postgres driver", driver)
	}
}

func connect(ctx context.Context, driverName, dsn string, maxOpen int) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)
	db.SetConnMaxIdleTime(defaultConnIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// conn routes reads by the consistency carried in the context.
type conn struct {
	primary *sqlx.DB
	replica *sqlx.DB
}

func (c *conn) reader(ctx context.Context) *sqlx.DB {
	if c.replica != nil && repository.ConsistencyFrom(ctx) == repository.EventualConsistency {
		return c.replica
	}
	return c.primary
}

// get runs a goqu select expecting exactly one row.
func (c *conn) get(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	logger.DatabaseCall("get", query)
	return classify(c.reader(ctx).GetContext(ctx, dest, query, args...))
}

func (c *conn) selectAll(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	logger.DatabaseCall("select", query)
	return classify(c.reader(ctx).SelectContext(ctx, dest, query, args...))
}

// inTx runs fn in a transaction on the primary and commits when fn succeeds.
func (c *conn) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return c.inTxWith(ctx, nil, fn)
}

func (c *conn) inTxWith(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := c.primary.BeginTxx(ctx, opts)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.Warn("Rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// classify maps driver errors onto repository and domain errors.
// Serialization failures and deadlocks are reported as concurrency conflicts so callers retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	code := sqlState(err)
	switch code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: %v", repository.ErrConcurrencyConflict, err)
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	case pgerrcode.CheckViolation:
		return fmt.Errorf("%w: %v", domain.ErrInvariantViolation, err)
	}
	return err
}

func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
