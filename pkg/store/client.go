// Package store implements the orchestrator's persistence layer: report
// CRUD with vector similarity search, the job queue's atomic claim
// primitive, the hybrid BM25/vector index tables, usage counters, and tool
// observation logging for convergence metrics. It is backed by Postgres via
// pgx's database/sql driver and golang-migrate, following the same
// connection-pool-plus-embedded-migrations shape used throughout this
// codebase's predecessor services.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/corvid-labs/orchestrator/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// initState is Store's lazy-initialization state machine: every public
// method waits for it to settle before touching the database.
type initState int

const (
	notStarted initState = iota
	initializing
	initialized
	failed
)

// Store is the persistence layer described by spec §4.1. A single Store is
// constructed at process startup and passed explicitly to every component
// that needs it; there is no package-level singleton.
type Store struct {
	cfg config.StoreConfig
	log *slog.Logger

	db       *sql.DB
	inMemory bool

	mu        sync.Mutex
	state     initState
	initErr   error
	initDone  chan struct{}

	memMu sync.RWMutex
	mem   *memoryState

	memEmbeddingVersion string
}

// New constructs a Store and kicks off its single in-flight initialization.
// Callers should invoke WaitForInit before issuing operations, though every
// exported method does so internally as well.
func New(cfg config.StoreConfig, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		cfg:      cfg,
		log:      log,
		initDone: make(chan struct{}),
	}
	go s.initialize(context.Background())
	return s
}

func (s *Store) initialize(ctx context.Context) {
	s.mu.Lock()
	if s.state != notStarted {
		s.mu.Unlock()
		return
	}
	s.state = initializing
	s.mu.Unlock()

	err := s.openAndMigrate(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.cfg.AllowInMemoryFallback {
			s.log.Warn("primary store unavailable, falling back to in-memory", "error", err)
			s.inMemory = true
			s.mem = newMemoryState()
			s.state = initialized
		} else {
			s.initErr = newErr(CategoryInitialization, "store initialization failed", err)
			s.state = failed
		}
	} else {
		s.state = initialized
	}
	close(s.initDone)
}

func (s *Store) openAndMigrate(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Password, s.cfg.Database, s.cfg.SSLMode,
	)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping: %w", err)
	}

	if err := runMigrations(db, s.cfg.Database); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	s.db = db
	return nil
}

func runMigrations(db *sql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply: %w", err)
	}
	// Only the source side is closed; closing the migrate instance would
	// also close the shared *sql.DB via the postgres driver.
	return source.Close()
}

// WaitForInit blocks until the store settles into INITIALIZED or FAILED, or
// the context expires.
func (s *Store) WaitForInit(ctx context.Context) error {
	select {
	case <-s.initDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == failed {
		return s.initErr
	}
	return nil
}

// IsInMemory reports whether the store degraded to an ephemeral in-memory
// backing instance (identity: "in-memory fallback").
func (s *Store) IsInMemory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inMemory
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// executeWithRetry wraps op with exponential backoff plus jitter, bounded
// by cfg.MaxRetries. Transient/permanent classification is not attempted
// at this layer — every failure is retried until exhaustion, matching the
// spec's deliberately blunt retry discipline.
func (s *Store) executeWithRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if err := s.WaitForInit(ctx); err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BaseDelay
	b.MaxElapsedTime = 0
	bctx := backoff.WithContext(b, ctx)

	attempts := 0
	var lastErr error
	err := backoff.Retry(func() error {
		attempts++
		lastErr = op(ctx)
		if lastErr != nil && attempts > s.cfg.MaxRetries {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, bctx)

	if err != nil {
		if attempts > s.cfg.MaxRetries {
			return newErr(CategoryRetryExhausted, fmt.Sprintf("%s: retries exhausted after %d attempts", name, attempts), lastErr)
		}
		return newErr(CategoryStorage, name, err)
	}
	return nil
}

// pollJitter returns a poll interval perturbed by up to +/-jitter, the same
// shape as the queue worker's jittered sleep. Nothing in this package calls
// it.
func pollJitter(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	delta := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	d := base + delta
	if d < 0 {
		return base
	}
	return d
}
