package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/tally/pkg/usage"
)

const sqliteName = "sqlite"

// SQLiteBackend implements Backend using SQLite for persistence.
// It suits single-instance deployments that need counters to survive restarts.
//
// Increment is a single INSERT ... ON CONFLICT DO UPDATE ... WHERE ... RETURNING
// statement, so the read-modify-write and the ceiling check happen inside one
// SQLite write lock.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	getStmt        *sql.Stmt
	incrementStmt  *sql.Stmt
	detailStmt     *sql.Stmt
	detailsStmt    *sql.Stmt
	rangeStmt      *sql.Stmt
	listBeforeStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_counters (
		identity TEXT NOT NULL,
		day TEXT NOT NULL,
		summary_count INTEGER NOT NULL DEFAULT 0,
		question_count INTEGER NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		is_premium INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (identity, day)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_counters_day ON usage_counters(day, archived);

	CREATE TABLE IF NOT EXISTS usage_details (
		correlation_id TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		day TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		source_ref TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_details_key ON usage_details(identity, day);
	`

	_, err := s.db.Exec(schema)
	return err
}

const counterColumns = `identity, day, summary_count, question_count, total_count, is_premium, archived, created_at, updated_at`

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`SELECT ` + counterColumns + ` FROM usage_counters WHERE identity = ? AND day = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	// Parameters: identity, day, summary inc, question inc, premium, now, ceiling, ceiling.
	s.incrementStmt, err = s.db.Prepare(`
		INSERT INTO usage_counters (identity, day, summary_count, question_count, total_count, is_premium, archived, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, 1, ?5, 0, ?6, ?6)
		ON CONFLICT (identity, day) DO UPDATE SET
			summary_count = usage_counters.summary_count + excluded.summary_count,
			question_count = usage_counters.question_count + excluded.question_count,
			total_count = usage_counters.total_count + 1,
			is_premium = excluded.is_premium,
			updated_at = excluded.updated_at
		WHERE ?7 <= 0 OR usage_counters.total_count < ?7
		RETURNING ` + counterColumns)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.detailStmt, err = s.db.Prepare(`
		INSERT INTO usage_details (correlation_id, identity, day, title, source_ref, model, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (correlation_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare detail statement: %w", err)
	}

	s.detailsStmt, err = s.db.Prepare(`
		SELECT correlation_id, title, source_ref, model, size, created_at
		FROM usage_details
		WHERE identity = ? AND day = ?
		ORDER BY created_at, rowid
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare details statement: %w", err)
	}

	s.rangeStmt, err = s.db.Prepare(`
		SELECT ` + counterColumns + `
		FROM usage_counters
		WHERE identity = ? AND day >= ? AND day <= ? AND archived = 0
		ORDER BY day
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare range statement: %w", err)
	}

	s.listBeforeStmt, err = s.db.Prepare(`
		SELECT identity, day FROM usage_counters
		WHERE day < ? AND archived = 0
		ORDER BY day, identity
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCounter(row rowScanner) (*usage.Counter, error) {
	var (
		c         usage.Counter
		premium   int
		archived  int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&c.Identity, &c.Day, &c.SummaryCount, &c.QuestionCount, &c.TotalCount,
		&premium, &archived, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.IsPremium = premium != 0
	c.Archived = archived != 0
	c.CreatedAt = time.UnixMilli(createdAt)
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return &c, nil
}

// Get returns the counter for (identity, day), or nil if none exists.
func (s *SQLiteBackend) Get(ctx context.Context, identity, day string) (*usage.Counter, error) {
	c, err := scanCounter(s.getStmt.QueryRowContext(ctx, identity, day))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transient(sqliteName, "get", err)
	}
	return c, nil
}

// Increment atomically creates and increments the counter.
func (s *SQLiteBackend) Increment(ctx context.Context, req IncrementRequest) (*usage.Counter, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var summaryInc, questionInc int64
	switch req.Feature {
	case usage.FeatureSummary:
		summaryInc = 1
	case usage.FeatureQuestion:
		questionInc = 1
	}

	c, err := scanCounter(s.incrementStmt.QueryRowContext(ctx,
		req.Identity, req.Day, summaryInc, questionInc, boolInt(req.IsPremium),
		req.now().UnixMilli(), req.Ceiling))
	if errors.Is(err, sql.ErrNoRows) {
		// The conflict update was filtered out by the ceiling.
		current, getErr := s.Get(ctx, req.Identity, req.Day)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrLimitReached
	}
	if err != nil {
		return nil, transient(sqliteName, "increment", err)
	}
	return c, nil
}

// AppendDetail inserts a detail record. Duplicate correlation ids are ignored.
func (s *SQLiteBackend) AppendDetail(ctx context.Context, identity, day string, detail usage.Detail) error {
	if err := usage.ValidateIdentity(identity); err != nil {
		return err
	}
	detail.Normalize(time.Now())

	_, err := s.detailStmt.ExecContext(ctx, detail.CorrelationID, identity, day,
		detail.Title, detail.SourceRef, detail.Model, detail.Size, detail.CreatedAt.UnixMilli())
	return transient(sqliteName, "append_detail", err)
}

// Details returns the detail log for (identity, day) ordered by creation time.
func (s *SQLiteBackend) Details(ctx context.Context, identity, day string) ([]usage.Detail, error) {
	rows, err := s.detailsStmt.QueryContext(ctx, identity, day)
	if err != nil {
		return nil, transient(sqliteName, "details", err)
	}
	defer rows.Close()

	var out []usage.Detail
	for rows.Next() {
		var (
			d         usage.Detail
			createdAt int64
		)
		if err := rows.Scan(&d.CorrelationID, &d.Title, &d.SourceRef, &d.Model, &d.Size, &createdAt); err != nil {
			return nil, transient(sqliteName, "details", err)
		}
		d.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(sqliteName, "details", err)
	}
	return out, nil
}

// Range returns non-archived counters for identity within [fromDay, toDay].
func (s *SQLiteBackend) Range(ctx context.Context, identity, fromDay, toDay string) ([]*usage.Counter, error) {
	rows, err := s.rangeStmt.QueryContext(ctx, identity, fromDay, toDay)
	if err != nil {
		return nil, transient(sqliteName, "range", err)
	}
	defer rows.Close()

	var out []*usage.Counter
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, transient(sqliteName, "range", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(sqliteName, "range", err)
	}
	return out, nil
}

// ListBefore returns keys of non-archived counters dated before day.
func (s *SQLiteBackend) ListBefore(ctx context.Context, day string) ([]usage.Key, error) {
	rows, err := s.listBeforeStmt.QueryContext(ctx, day)
	if err != nil {
		return nil, transient(sqliteName, "list_before", err)
	}
	defer rows.Close()

	var keys []usage.Key
	for rows.Next() {
		var k usage.Key
		if err := rows.Scan(&k.Identity, &k.Day); err != nil {
			return nil, transient(sqliteName, "list_before", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(sqliteName, "list_before", err)
	}
	return keys, nil
}

// Archive marks the given counters archived in one transaction.
func (s *SQLiteBackend) Archive(ctx context.Context, keys []usage.Key) (int, error) {
	return s.execKeys(ctx, keys, "archive",
		`UPDATE usage_counters SET archived = 1, updated_at = ? WHERE identity = ? AND day = ? AND archived = 0`,
		func(k usage.Key) []any { return []any{time.Now().UnixMilli(), k.Identity, k.Day} },
		"")
}

// Delete removes the given counters and their details in one transaction.
func (s *SQLiteBackend) Delete(ctx context.Context, keys []usage.Key) (int, error) {
	return s.execKeys(ctx, keys, "delete",
		`DELETE FROM usage_counters WHERE identity = ? AND day = ?`,
		func(k usage.Key) []any { return []any{k.Identity, k.Day} },
		`DELETE FROM usage_details WHERE identity = ? AND day = ?`)
}

// execKeys runs query once per key inside a transaction and sums rows
// affected. The optional cascade query runs for every key with the
// (identity, day) pair and does not count toward the result.
func (s *SQLiteBackend) execKeys(ctx context.Context, keys []usage.Key, op, query string, args func(usage.Key) []any, cascade string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, transient(sqliteName, op, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, transient(sqliteName, op, err)
	}
	defer stmt.Close()

	var cascadeStmt *sql.Stmt
	if cascade != "" {
		cascadeStmt, err = tx.PrepareContext(ctx, cascade)
		if err != nil {
			return 0, transient(sqliteName, op, err)
		}
		defer cascadeStmt.Close()
	}

	total := 0
	for _, k := range keys {
		res, err := stmt.ExecContext(ctx, args(k)...)
		if err != nil {
			return 0, transient(sqliteName, op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, transient(sqliteName, op, err)
		}
		total += int(n)

		if cascadeStmt != nil {
			if _, err := cascadeStmt.ExecContext(ctx, k.Identity, k.Day); err != nil {
				return 0, transient(sqliteName, op, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, transient(sqliteName, op, err)
	}
	return total, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return transient(sqliteName, "ping", s.db.PingContext(ctx))
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.getStmt, s.incrementStmt, s.detailStmt,
			s.detailsStmt, s.rangeStmt, s.listBeforeStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
