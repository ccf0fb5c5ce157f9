// Package gamelog persists the lifecycle of bot games (start, per-move evaluations, live
// board state, finish) in SQLite for a spectator UI to read.
package gamelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/park285/chess-gamelog/internal/gamelog/migrations"
	"github.com/park285/chess-gamelog/internal/obslog"
)

const (
	DefaultPath        = "data/games.db"
	DefaultBusyTimeout = 5 * time.Second
)

var (
	ErrInvalidGame   = errors.New("game descriptor missing id")
	ErrNilBoard      = errors.New("board is nil")
	ErrNoMoveHistory = errors.New("board has no move history")
	ErrMoveMismatch  = errors.New("move is not the last move on the board")
)

// LiveNotifier mirrors live state changes outside the database.
type LiveNotifier interface {
	PublishLive(ctx context.Context, snap LiveSnapshot) error
	PublishFinished(ctx context.Context, game FinishedGame) error
}

// Archiver stores finished games in a long-term archive.
type Archiver interface {
	SaveResult(ctx context.Context, game FinishedGame) error
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

func WithNotifier(n LiveNotifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

// WithClock overrides the finish timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store owns the games, move_evals and live_state tables.
type Store struct {
	db          *sql.DB
	path        string
	logger      *zap.Logger
	busyTimeout time.Duration
	notifier    LiveNotifier
	archiver    Archiver
	now         func() time.Time
	hookTimeout time.Duration
}

// Open creates or opens the database at path and applies migrations. Opening an already
// initialized file leaves its data untouched.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	s := &Store{
		path:        filepath.Clean(path),
		logger:      obslog.L(),
		busyTimeout: DefaultBusyTimeout,
		now:         time.Now,
		hookTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := ensureDir(filepath.Dir(s.path)); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(s.path, s.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.busyTimeout+5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := runMigrations(db, s.logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	s.logger.Info("gamelog_initialized", zap.String("path", s.path))
	return s, nil
}

// dsn applies the pragmas to every pooled connection. WAL keeps readers and writers from
// blocking each other; busy_timeout makes contending writers wait instead of failing.
// _txlock=immediate takes the write lock at BEGIN so read-then-write transactions wait on
// the busy handler rather than failing on lock upgrade.
func dsn(path string, busy time.Duration) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		path, busy.Milliseconds())
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// goose keeps its base FS, dialect and logger in package globals, so each run holds migrateMu
// and installs the opening store's logger.
var migrateMu sync.Mutex

func runMigrations(db *sql.DB, logger *zap.Logger) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{l: logger.Sugar()})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setup goose: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

type gooseLogger struct{ l *zap.SugaredLogger }

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Debugf(strings.TrimSpace(format), v...)
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Errorf(strings.TrimSpace(format), v...)
}

// log returns the store's logger, or the process logger for a nil store.
func (s *Store) log() *zap.Logger {
	if s == nil || s.logger == nil {
		return obslog.L()
	}
	return s.logger
}

// DB exposes the handle for read-only spectator queries.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var (
	sharedOnce  sync.Once
	sharedStore *Store
	sharedErr   error
)

// Shared returns a process-wide store opened on first use. Later calls ignore path and
// opts. Prefer passing a *Store explicitly.
func Shared(path string, opts ...Option) (*Store, error) {
	sharedOnce.Do(func() {
		sharedStore, sharedErr = Open(path, opts...)
	})
	return sharedStore, sharedErr
}
