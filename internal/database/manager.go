package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"campuswire/pkg/interfaces"
	dbconfig "campuswire/pkg/database"
)

// Options tunes the single-writer loop
type Options struct {
	WriteRetries int
	RetryDelay   time.Duration
	WriteTimeout time.Duration
	QueueSize    int
}

// DefaultOptions retries a failed write once after a short delay
func DefaultOptions() Options {
	return Options{
		WriteRetries: 1,
		RetryDelay:   time.Second,
		WriteTimeout: 30 * time.Second,
		QueueSize:    100,
	}
}

// Manager implements interfaces.Store over SQLite or Postgres
type Manager struct {
	db           *sqlx.DB
	dialect      dialect
	opts         Options
	logger       *zap.Logger
	writeChannel chan writeOperation // single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.Store = (*Manager)(nil)

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sqlx.DB) error
	result    chan error
}

// permanentError marks a write failure that retrying cannot fix
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Cause() error  { return p.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// NewManager wraps an open connection. Migrations are applied by the caller.
func NewManager(db *sqlx.DB, opts Options, logger *zap.Logger) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &Manager{
		db:           db,
		dialect:      dialectFor(db.DriverName()),
		opts:         opts,
		logger:       logger.With(zap.String("component", "database")),
		writeChannel: make(chan writeOperation, opts.QueueSize),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager
}

// Open connects, migrates and validates the schema, then starts a manager
func Open(ctx context.Context, cfg *dbconfig.Config, opts Options, logger *zap.Logger) (*Manager, error) {
	db, err := dbconfig.Open(cfg)
	if err != nil {
		return nil, err
	}

	migrations, err := dbconfig.NewMigrationManager(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	applied, err := migrations.ApplyMigrations(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if len(applied) > 0 && logger != nil {
		logger.Info("Applied database migrations", zap.Strings("versions", applied))
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "schema validation failed")
	}

	return NewManager(db, opts, logger), nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWithRetry(op)
		case <-m.shutdown:
			m.logger.Debug("Database write loop shutting down")
			return
		}
	}
}

func (m *Manager) runWithRetry(op writeOperation) error {
	err := op.operation(op.ctx, m.db)
	for attempt := 1; err != nil && attempt <= m.opts.WriteRetries; attempt++ {
		if _, ok := err.(permanentError); ok || op.ctx.Err() != nil {
			break
		}
		m.logger.Warn("Database write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", m.opts.RetryDelay),
			zap.Error(err))

		select {
		case <-time.After(m.opts.RetryDelay):
		case <-op.ctx.Done():
			return op.ctx.Err()
		case <-m.shutdown:
			return ErrShuttingDown
		}
		err = op.operation(op.ctx, m.db)
	}

	if p, ok := err.(permanentError); ok {
		return p.err
	}
	if err != nil {
		m.logger.Error("Database write failed", zap.Error(err))
	}
	return err
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.opts.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrShuttingDown
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrShuttingDown
	}
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}

	var count int
	if err := m.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM chat_messages WHERE 1 = 0"); err != nil {
		return errors.Wrap(err, "database read test failed")
	}
	return nil
}

// DB returns the underlying connection for migrations and tooling
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close database")
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Cause(err) == sql.ErrNoRows
}
