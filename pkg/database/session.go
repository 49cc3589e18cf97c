package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"vivarium/pkg/logging"
)

// FetchMode selects what ExecuteQuery returns.
type FetchMode int

const (
	NoFetch FetchMode = iota
	FetchOne
	FetchAll
)

// Row is a single result row keyed by column name.
type Row map[string]interface{}

var (
	// ErrTransactionActive is returned when an operation needs an idle session.
	ErrTransactionActive = errors.New("transaction already in progress")
	// ErrSessionClosed is returned for any call after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// Session is a unit of work over the pool with explicit transaction
// control. A new session starts in autocommit mode: every statement commits
// on its own and Begin/Commit/Rollback only log a warning. With autocommit
// off, Begin opens a transaction that subsequent statements run in until
// Commit or Rollback.
type Session struct {
	db *PostgresDB

	mu         sync.Mutex
	tx         *sqlx.Tx
	autocommit bool
	closed     bool
}

// NewSession returns a session in autocommit mode.
func (p *PostgresDB) NewSession() *Session {
	return &Session{db: p, autocommit: true}
}

// SetAutocommit toggles autocommit. It fails while a transaction is open.
func (s *Session) SetAutocommit(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return ErrTransactionActive
	}
	s.autocommit = on
	return nil
}

// Autocommit reports the current mode.
func (s *Session) Autocommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autocommit
}

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Begin opens a transaction. In autocommit mode it is a no-op.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.autocommit {
		s.db.logger.Warn(ctx, "[DB_TX_WARN] Begin ignored: session is in autocommit mode", logging.Fields{})
		return nil
	}
	if s.tx != nil {
		return ErrTransactionActive
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	s.db.logger.Debug(ctx, "[DB_TX_BEGIN] Transaction started", logging.Fields{})
	return nil
}

// Commit commits the open transaction. In autocommit mode it is a no-op.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autocommit {
		s.db.logger.Warn(ctx, "[DB_TX_WARN] Commit ignored: session is in autocommit mode", logging.Fields{})
		return nil
	}
	if s.tx == nil {
		s.db.logger.Debug(ctx, "[DB_TX_COMMIT] No open transaction", logging.Fields{})
		return nil
	}

	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		s.db.metrics.RecordDBError("transaction_commit_error")
		s.db.logger.Error(ctx, "[DB_TX_ERROR] Commit failed", logging.Fields{}, err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.db.metrics.RecordTransaction("commit")
	s.db.logger.Debug(ctx, "[DB_TX_COMMIT] Transaction committed", logging.Fields{})
	return nil
}

// Rollback aborts the open transaction. In autocommit mode it is a no-op.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autocommit {
		s.db.logger.Warn(ctx, "[DB_TX_WARN] Rollback ignored: session is in autocommit mode", logging.Fields{})
		return nil
	}
	return s.rollbackLocked(ctx)
}

func (s *Session) rollbackLocked(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.db.metrics.RecordDBError("transaction_rollback_error")
		s.db.logger.Error(ctx, "[DB_TX_ERROR] Rollback failed", logging.Fields{}, err)
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	s.db.metrics.RecordTransaction("rollback")
	s.db.logger.Info(ctx, "[DB_TX_ROLLBACK] Transaction rolled back", logging.Fields{})
	return nil
}

// Close rolls back any pending transaction. The pool stays open.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.rollbackLocked(ctx)
}

func (s *Session) runner() (runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	return s.db.db, nil
}

// ExecContext implements Executor.
func (s *Session) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	r, err := s.runner()
	if err != nil {
		return nil, err
	}
	return s.db.exec(ctx, r, queryType, query, args...)
}

// GetContext implements Executor.
func (s *Session) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	r, err := s.runner()
	if err != nil {
		return err
	}
	return s.db.get(ctx, r, queryType, dest, query, args...)
}

// SelectContext implements Executor.
func (s *Session) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	r, err := s.runner()
	if err != nil {
		return err
	}
	return s.db.selectRows(ctx, r, queryType, dest, query, args...)
}

// ExecuteQuery runs a parameterized statement. With NoFetch the result is
// nil; FetchOne returns exactly one row or ErrNoRows; FetchAll returns every
// row (possibly none). Driver errors are logged by the pool and returned.
func (s *Session) ExecuteQuery(ctx context.Context, query string, args []interface{}, mode FetchMode) ([]Row, error) {
	if mode == NoFetch {
		_, err := s.ExecContext(ctx, "execute_query", query, args...)
		return nil, err
	}

	r, err := s.runner()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.query(ctx, r, "execute_query", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result = append(result, Row(row))
		if mode == FetchOne {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	if mode == FetchOne && len(result) == 0 {
		return nil, ErrNoRows
	}
	return result, nil
}

// ExecuteCommand runs a statement whose result is not needed.
func (s *Session) ExecuteCommand(ctx context.Context, query string, args ...interface{}) error {
	_, err := s.ExecuteQuery(ctx, query, args, NoFetch)
	return err
}
