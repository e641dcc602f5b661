package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/phosphorco/agenthub/internal/domain"
)

// DBFileName is the name of the store file inside the workspace dot-dir.
const DBFileName = "hub.db"

// lockFileName sits next to the store file and records the owning pid.
const lockFileName = "hub.db.lock"

// busyTimeout is how long the driver waits on the writer lock before a
// statement surfaces SQLITE_BUSY.
const busyTimeout = 5000 * time.Millisecond

// ErrLockHeld is returned by Open when another live process owns the
// store. Daemons translate it into the lock-conflict exit code so a
// racing spawner can back off and rediscover.
var ErrLockHeld = errors.New("store: lock held by another process")

// Store owns the embedded SQLite database. Writes go through a single
// writer pool connection; reads use a separate read-only pool so listing
// and replay proceed against a snapshot while a mutation holds the write
// lock.
type Store struct {
	writer *sql.DB
	reader *sql.DB

	dir      string
	lockPath string

	dbID      string
	createdAt time.Time

	// commitMu serializes the whole "commit, then publish" step across
	// mutations. The single writer connection already serializes the
	// transactions themselves, but tx.Commit releasing the connection
	// and the committing goroutine publishing are two steps: without
	// this lock a later transaction could commit and fan out its events
	// before an earlier one publishes, breaking the ascending-id
	// delivery guarantee.
	commitMu  sync.Mutex
	publisher CommitPublisher
}

// Open opens (creating if necessary) the store inside dir, acquires the
// single-writer lock, and migrates the schema. dir must already exist.
func Open(ctx context.Context, dir string) (*Store, error) {
	lockPath := filepath.Join(dir, lockFileName)
	if err := acquireLock(lockPath); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, DBFileName)
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		dbPath, busyTimeout.Milliseconds(),
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		releaseLock(lockPath)
		return nil, fmt.Errorf("store: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", dsn+"&_pragma=query_only(1)")
	if err != nil {
		writer.Close()
		releaseLock(lockPath)
		return nil, fmt.Errorf("store: open reader: %w", err)
	}

	s := &Store{
		writer:   writer,
		reader:   reader,
		dir:      dir,
		lockPath: lockPath,
	}

	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.loadMeta(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases both pools and the writer lock.
func (s *Store) Close() error {
	var firstErr error
	if s.reader != nil {
		if err := s.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	releaseLock(s.lockPath)
	return firstErr
}

// DBID returns the stable identifier minted when the store was first
// initialised.
func (s *Store) DBID() string { return s.dbID }

// CreatedAt returns the store initialisation time.
func (s *Store) CreatedAt() time.Time { return s.createdAt }

// Ping verifies both handles.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.writer.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping writer: %w", err)
	}
	if err := s.reader.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping reader: %w", err)
	}
	return nil
}

// Reader exposes the read-only handle for in-process readers (listing,
// search, replay). Statements attempting writes fail at the driver layer.
func (s *Store) Reader() *sql.DB { return s.reader }

// WriteTx is a write transaction holding the store's commit lock. The
// lock is taken in BeginWrite and released by Commit or Rollback, so the
// "state change + event append, commit, publish" sequence of one
// mutation is a single critical section: committed event ranges reach
// the publisher in exactly the order they were assigned.
type WriteTx struct {
	*sql.Tx
	store *Store
	done  bool
}

// BeginWrite opens an immediate write transaction and acquires the
// commit lock. SQLITE_BUSY after the busy timeout is surfaced as a
// store-busy kernel error. The caller must finish with Commit or
// Rollback; Rollback after a successful Commit is a no-op.
func (s *Store) BeginWrite(ctx context.Context) (*WriteTx, error) {
	s.commitMu.Lock()
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		s.commitMu.Unlock()
		if isBusy(err) {
			return nil, domain.WrapError(domain.ErrKindStoreBusy, err, "store busy")
		}
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	// Promote to a write transaction immediately so lock conflicts show up
	// here rather than mid-mutation.
	if _, err := tx.ExecContext(ctx, "UPDATE meta SET value = value WHERE key = 'db_id'"); err != nil {
		tx.Rollback()
		s.commitMu.Unlock()
		if isBusy(err) {
			return nil, domain.WrapError(domain.ErrKindStoreBusy, err, "store busy")
		}
		return nil, fmt.Errorf("store: acquire write lock: %w", err)
	}
	return &WriteTx{Tx: tx, store: s}, nil
}

// Commit commits the transaction, hands the event id range
// [firstEventID, lastEventID] to the publisher, and releases the commit
// lock. Pass zeros when the transaction appended no events.
func (t *WriteTx) Commit(firstEventID, lastEventID int64) error {
	if t.done {
		return fmt.Errorf("store: transaction already finished")
	}
	t.done = true
	defer t.store.commitMu.Unlock()

	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.store.publishCommitted(firstEventID, lastEventID)
	return nil
}

// Rollback aborts the transaction and releases the commit lock. After a
// Commit it does nothing, so it is safe to defer.
func (t *WriteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.Tx.Rollback()
	t.store.commitMu.Unlock()
	return err
}

// isBusy reports whether err is a lock-contention failure from the
// driver.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// loadMeta reads db_id and created_at, minting them on first open.
func (s *Store) loadMeta(ctx context.Context) error {
	var dbID string
	err := s.writer.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'db_id'").Scan(&dbID)
	switch {
	case err == sql.ErrNoRows:
		dbID = uuid.NewString()
		now := time.Now().UTC()
		_, err = s.writer.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES
				('db_id', ?),
				('created_at', ?)
		`, dbID, fmtTime(now))
		if err != nil {
			return fmt.Errorf("store: init meta: %w", err)
		}
		s.dbID = dbID
		s.createdAt = now
		return nil
	case err != nil:
		return fmt.Errorf("store: read meta: %w", err)
	}

	s.dbID = dbID

	var created string
	if err := s.writer.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'created_at'").Scan(&created); err != nil {
		return fmt.Errorf("store: read created_at: %w", err)
	}
	t, err := parseTime(created)
	if err != nil {
		return fmt.Errorf("store: parse created_at: %w", err)
	}
	s.createdAt = t
	return nil
}

// SchemaVersion reads the schema version recorded in the meta table.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v string
	if err := s.reader.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&v); err != nil {
		return 0, fmt.Errorf("store: read schema_version: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("store: parse schema_version: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Writer lock
// ---------------------------------------------------------------------------

// acquireLock creates the pid lock file exclusively. A stale file left by
// a dead process is replaced; a file owned by a live process yields
// ErrLockHeld.
func acquireLock(path string) error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return fmt.Errorf("store: write lock file: %w", errors.Join(werr, cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("store: create lock file: %w", err)
		}

		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			if os.IsNotExist(rerr) {
				continue // holder released between our attempts
			}
			return fmt.Errorf("store: read lock file: %w", rerr)
		}
		pid, perr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if perr == nil && pid > 0 && processAlive(pid) {
			return ErrLockHeld
		}
		// Stale or malformed: remove and retry once.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: remove stale lock: %w", err)
		}
	}
	return ErrLockHeld
}

func releaseLock(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// processAlive reports whether a pid refers to a running process we could
// signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// ---------------------------------------------------------------------------
// Time encoding
// ---------------------------------------------------------------------------

// Timestamps are stored as RFC3339Nano UTC strings so that lexical order
// matches time order.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
