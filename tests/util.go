package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/submission"
	"github.com/trezcool/capstone/core/user"
	"github.com/trezcool/capstone/storage/database"
)

// NewConfig returns the configuration used by tests: in-memory SQLite, console emails & small push buffers.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.Debug = false
	conf.TestMode = true
	conf.Database.Engine = database.EngineSQLite
	conf.Database.Path = ":memory:"
	conf.Email.Backend = "console"
	conf.Notification.PushBuffer = 4
	conf.Notification.Heartbeat = time.Second
	return conf
}

// OpenDB opens a migrated in-memory SQLite database, closed at the end of the test.
func OpenDB(t *testing.T) *sqlx.DB {
	return openDB(t, NewConfig())
}

// OpenFileDB opens a migrated SQLite database file in a temporary directory, so connections run concurrently.
func OpenFileDB(t *testing.T) *sqlx.DB {
	conf := NewConfig()
	conf.Database.Path = filepath.Join(t.TempDir(), "capstone.db")
	return openDB(t, conf)
}

func openDB(t *testing.T, conf *core.Config) *sqlx.DB {
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("OpenDB(): %v", err)
	}
	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		t.Fatalf("OpenDB(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// LogEntry is one message recorded by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger is a core.Logger that records messages instead of reporting them.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) record(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.record("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.record("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.record("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.record("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { panic(fmt.Sprintf("FATAL %s", msg)) }

// Entries returns the recorded messages, optionally filtered by level.
func (l *Logger) Entries(level ...string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if len(level) == 0 || strings.EqualFold(e.Level, level[0]) {
			entries = append(entries, e)
		}
	}
	return entries
}

func CreateAccount(
	t *testing.T,
	repo user.Repository,
	name, email string,
	role core.Role,
	status user.Status,
	createdAt ...time.Time,
) user.Account {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	acc, err := repo.Create(context.Background(), user.Account{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Role:      role,
		Status:    status,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("CreateAccount(): %v", err)
	}
	return acc
}

// CreateSubmission stores a submission directly, bypassing the state machine.
func CreateSubmission(
	t *testing.T,
	repo submission.Repository,
	title, student, adviser string,
	status submission.Status,
	createdAt ...time.Time,
) submission.Submission {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	sub, err := repo.Create(context.Background(), submission.Submission{
		ID:           uuid.New().String(),
		Title:        title,
		DocumentURL:  "https://docs.test.cd/" + strings.ReplaceAll(strings.ToLower(title), " ", "-") + ".pdf",
		StudentEmail: student,
		AdviserEmail: adviser,
		Status:       status,
		Version:      1,
		CreatedAt:    tstamp,
		UpdatedAt:    tstamp,
	})
	if err != nil {
		t.Fatalf("CreateSubmission(): %v", err)
	}
	return sub
}
