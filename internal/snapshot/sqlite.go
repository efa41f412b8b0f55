package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"classsync/pkg/interfaces"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS class_snapshots (
	class_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (class_id, kind)
);
`

// SQLiteStore is the durable on-disk backend. All writes funnel through a
// single goroutine; SQLite tolerates concurrent readers but serializing
// writers avoids lock contention entirely.
type SQLiteStore struct {
	db      *sql.DB
	log     *zap.Logger
	writeCh chan writeOp
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	run    func(db *sql.DB) error
	result chan error
}

// NewSQLiteStore opens (and if needed creates) the snapshot database at path.
func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply snapshot schema: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		log:     log,
		writeCh: make(chan writeOp, 100),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()
	for op := range s.writeCh {
		op.result <- op.run(s.db)
	}
}

func (s *SQLiteStore) submit(run func(db *sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("snapshot store is closed")
	}
	op := writeOp{run: run, result: make(chan error, 1)}
	s.writeCh <- op
	s.mu.RUnlock()
	return <-op.result
}

func (s *SQLiteStore) Get(ctx context.Context, classID, kind string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM class_snapshots WHERE class_id = ? AND kind = ?`,
		classID, kind).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, classID, kind string, value []byte) error {
	return s.submit(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO class_snapshots (class_id, kind, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (class_id, kind) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			classID, kind, value, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Remove(ctx context.Context, classID, kind string) error {
	return s.submit(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM class_snapshots WHERE class_id = ? AND kind = ?`,
			classID, kind)
		if err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.writeCh)
	s.wg.Wait()
	return s.db.Close()
}
