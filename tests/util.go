package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

// Entry is one recorded log call.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records log calls for assertions.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger { return &Logger{} }

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Entries returns the recorded calls of `level`, or all of them when level is "".
func (l *Logger) Entries(level string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			entries = append(entries, e)
		}
	}
	return entries
}

// NewTestConfig returns the configuration used by tests: short windows, no outbound services.
func NewTestConfig() *core.Config {
	return &core.Config{
		Env:              "TEST",
		TestMode:         true,
		AppName:          "Gradebook",
		FromEmail:        "noreply@gradebook.test",
		FromName:         "Gradebook",
		FrontendBaseURL:  "http://localhost:3000",
		PlaceholderEmail: "students.invalid",
		Notify: core.NotifyConfig{
			DebounceWindow:  50 * time.Millisecond,
			PushTimeout:     time.Second,
			EmailTimeout:    time.Second,
			PushBatchSize:   core.MaxPushBatchSize,
			PushConcurrency: 2,
		},
		Jobs: core.JobsConfig{
			DeactivateSpec:        "@daily",
			TokenCleanupSpec:      "@every 6h",
			NotificationPruneSpec: "@weekly",
			InactiveAfter:         180 * 24 * time.Hour,
			PushTokenTTL:          60 * 24 * time.Hour,
			NotificationRetention: 90 * 24 * time.Hour,
		},
	}
}

// CreateStudent stores a student with a real email and, optionally, a push token.
func CreateStudent(t *testing.T, repo user.Repository, number, firstName, lastName, pushToken string) user.User {
	t.Helper()
	usr := user.NewStudent(number, firstName, lastName, fmt.Sprintf("%s@school.test", number))
	if pushToken != "" {
		usr.PushToken = null.StringFrom(pushToken)
		usr.PushTokenUpdatedAt = null.TimeFrom(time.Now().UTC())
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return usr
}

// CreateTeacher stores a teacher with a known password.
func CreateTeacher(t *testing.T, repo user.Repository, firstName, lastName, email string) user.User {
	t.Helper()
	usr := user.NewTeacher(firstName, lastName, email)
	if err := usr.SetPassword("password"); err != nil {
		t.Fatalf("CreateTeacher() failed: %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateTeacher() failed: %v", err)
	}
	return usr
}
