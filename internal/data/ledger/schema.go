package ledger

import (
	"context"
	"fmt"

	"provenance/internal/core/errors"
)

const changeLogTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
  ID VARCHAR(255) NOT NULL,
  AUTHOR VARCHAR(255) NOT NULL,
  FILENAME VARCHAR(255) NOT NULL,
  DATEEXECUTED TIMESTAMP NOT NULL,
  ORDEREXECUTED INTEGER NOT NULL,
  EXECTYPE VARCHAR(10) NOT NULL,
  MD5SUM VARCHAR(35),
  DESCRIPTION VARCHAR(255),
  COMMENTS VARCHAR(255),
  TAG VARCHAR(255),
  LIQUIBASE VARCHAR(20),
  CONTEXTS VARCHAR(255),
  LABELS VARCHAR(255),
  DEPLOYMENT_ID VARCHAR(10)
)`

const lockTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
  ID INTEGER NOT NULL PRIMARY KEY,
  LOCKED BOOLEAN NOT NULL,
  LOCKGRANTED TIMESTAMP,
  LOCKEDBY VARCHAR(255)
)`

// EnsureSchema creates the history and lock tables in the layout used by
// Liquibase, with an unlocked lock row.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	statements := []string{
		fmt.Sprintf(changeLogTableDDL, s.changeLogTable),
		fmt.Sprintf(lockTableDDL, s.lockTable),
		fmt.Sprintf("INSERT INTO %[1]s (ID, LOCKED) SELECT 1, false WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE ID = 1)", s.lockTable),
	}
	for _, stmt := range statements {
		err := s.withRetry(ctx, "initialize ledger schema", func() error {
			_, err := s.db.ExecContext(ctx, stmt)
			return err
		})
		if err != nil {
			return errors.Wrap(err, errors.CodeProvider, "initialize ledger schema")
		}
	}
	return nil
}

// SetLocked sets the lock row, creating it when absent.
func (s *Store) SetLocked(ctx context.Context, locked bool, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.rebind(fmt.Sprintf("UPDATE %s SET LOCKED = ?, LOCKEDBY = ? WHERE ID = 1", s.lockTable))
	res, err := s.db.ExecContext(ctx, query, locked, by)
	if err != nil {
		return errors.Wrap(err, errors.CodeProvider, "update ledger lock")
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	insert := s.rebind(fmt.Sprintf("INSERT INTO %s (ID, LOCKED, LOCKEDBY) VALUES (?, ?, ?)", s.lockTable))
	if _, err := s.db.ExecContext(ctx, insert, 1, locked, by); err != nil {
		return errors.Wrap(err, errors.CodeProvider, "insert ledger lock")
	}
	return nil
}
