package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/notify"
	"github.com/trezcool/gradebook/core/user"
	inmemdb "github.com/trezcool/gradebook/storage/database/inmem"
	testutil "github.com/trezcool/gradebook/tests"
)

type migration struct {
	command string
	args    []string
}

type fixture struct {
	cli        *commandLine
	store      *inmemdb.Store
	migrations []migration
	cleanups   int
	in         *bytes.Buffer
	out        *bytes.Buffer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conf := testutil.NewTestConfig()
	logger := testutil.NewLogger()
	store := inmemdb.NewStore(inmemdb.Open())
	debouncer := notify.NewDebouncer(time.Hour, func(context.Context, notify.Event) error { return nil }, logger)
	t.Cleanup(debouncer.Stop)

	f := &fixture{store: store, in: new(bytes.Buffer), out: new(bytes.Buffer)}
	f.cli = &commandLine{
		migrate: func(_ context.Context, command string, args ...string) error {
			if command == "lol" {
				return errors.Errorf("%q: no such command", command)
			}
			f.migrations = append(f.migrations, migration{command: command, args: args})
			return nil
		},
		users: store.Users(),
		svc:   batch.NewService(conf, store, debouncer, logger),
		cleanup: func(context.Context) error {
			f.cleanups++
			return nil
		},
		in:  f.in,
		out: f.out,
	}
	return f
}

func mockPassword(t *testing.T, pwd string) {
	t.Helper()
	prev := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = prev })
}

func mockTerminal(t *testing.T, isTerminal bool) {
	t.Helper()
	prev := isTerminalFunc
	isTerminalFunc = func(int) bool { return isTerminal }
	t.Cleanup(func() { isTerminalFunc = prev })
}

func run(cli *commandLine, args ...string) error {
	return cli.run(append([]string{"admin"}, args...))
}

func Test_commandLine_usage(t *testing.T) {
	f := setup(t)
	assert.ErrorIs(t, run(f.cli), errHelp)
	assert.ErrorIs(t, run(f.cli, "lol"), errHelp)
	assert.Contains(t, f.out.String(), "Usage:")
}

func Test_commandLine_migrate(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name       string
		args       []string
		wantErr    error
		wantErrStr string
		want       *migration
	}{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: `"lol": no such command`},
		{name: "up", args: []string{"migrate", "up"}, want: &migration{command: "up", args: []string{}}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}, want: &migration{command: "up-to", args: []string{"2"}}},
		{name: "status", args: []string{"migrate", "status"}, want: &migration{command: "status", args: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.migrations = nil
			err := run(f.cli, tt.args...)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				assert.EqualError(t, err, tt.wantErrStr)
			default:
				require.NoError(t, err)
				require.Len(t, f.migrations, 1)
				assert.Equal(t, tt.want.command, f.migrations[0].command)
				assert.ElementsMatch(t, tt.want.args, f.migrations[0].args)
			}
		})
	}
}

func Test_commandLine_addTeacher(t *testing.T) {
	f := setup(t)
	_ = testutil.CreateTeacher(t, f.store.Users(), "Grace", "Hopper", "grace@school.test")

	tests := []struct {
		name    string
		args    []string
		pwd     string
		wantErr error
	}{
		{name: "no args", args: []string{"addteacher"}, pwd: "pwd", wantErr: errHelp},
		{name: "no password", args: []string{"addteacher", "-email", "a@school.test", "-first", "Ada", "-last", "Byron"}, wantErr: errHelp},
		{name: "email taken", args: []string{"addteacher", "-email", " GRACE@school.test", "-first", "G", "-last", "H"}, pwd: "pwd", wantErr: user.ErrEmailExists},
		{name: "created", args: []string{"addteacher", "-email", "ada@school.test", "-first", " Ada ", "-last", "Byron"}, pwd: "pwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(t, tt.pwd)
			err := run(f.cli, tt.args...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, f.out.String(), "teacher Ada Byron created with id")
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	f := setup(t)
	usr := testutil.CreateTeacher(t, f.store.Users(), "Grace", "Hopper", "grace@school.test")

	tests := []struct {
		name    string
		args    []string
		pwd     string
		wantErr error
	}{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "id but no password", args: []string{"resetpassword", "-id", usr.ID}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-id", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-id", usr.ID}, pwd: "lmao"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(t, tt.pwd)
			err := run(f.cli, tt.args...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			refreshed, err := f.store.Users().GetUserByID(context.Background(), usr.ID)
			require.NoError(t, err)
			assert.NoError(t, refreshed.CheckPassword("lmao"))
			assert.Error(t, refreshed.CheckPassword("password"))
		})
	}
}

func Test_commandLine_import(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateTeacher(t, f.store.Users(), "Grace", "Hopper", "grace@school.test")
	class, err := f.cli.svc.CreateClass(ctx, "Physics", teacher.ID, "Quiz1=100%")
	require.NoError(t, err)

	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	full := write("full.csv", "Student Number,Name,Quiz1\n,,50\nS1,Ada Lovelace,40\nS2,Alan Turing,25\n")
	partial := write("partial.csv", "Student Number,Name,Quiz1\n,,50\nS1,Ada Lovelace,45\n")
	invalid := write("invalid.csv", "Student Number,Name,Quiz1\n,,50\nS1,Ada Lovelace,55\n")

	enrolled := func() int {
		b, err := f.cli.svc.ClassBatch(ctx, class.ID)
		require.NoError(t, err)
		return len(b.StudentIDs)
	}

	t.Run("missing flags", func(t *testing.T) {
		assert.ErrorIs(t, run(f.cli, "import", "-class", class.ID), errHelp)
	})

	t.Run("first upload", func(t *testing.T) {
		require.NoError(t, run(f.cli, "import", "-class", class.ID, "-file", full))
		assert.Equal(t, 2, enrolled())
		assert.Contains(t, f.out.String(), "2 student(s), 1 assessment(s)")
	})

	t.Run("invalid grades", func(t *testing.T) {
		err := run(f.cli, "import", "-class", class.ID, "-file", invalid)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "above the maximum of 50")
	})

	t.Run("unknown mode", func(t *testing.T) {
		assert.Error(t, run(f.cli, "import", "-class", class.ID, "-file", partial, "-mode", "append"))
	})

	t.Run("replace refused without a terminal", func(t *testing.T) {
		mockTerminal(t, false)
		assert.ErrorIs(t, run(f.cli, "import", "-class", class.ID, "-file", partial, "-mode", "replace"), errAborted)
		assert.Equal(t, 2, enrolled())
	})

	t.Run("replace declined", func(t *testing.T) {
		mockTerminal(t, true)
		f.in.WriteString("n\n")
		assert.ErrorIs(t, run(f.cli, "import", "-class", class.ID, "-file", partial, "-mode", "replace"), errAborted)
		assert.Equal(t, 2, enrolled())
	})

	t.Run("replace confirmed", func(t *testing.T) {
		mockTerminal(t, true)
		f.in.WriteString("yes\n")
		require.NoError(t, run(f.cli, "import", "-class", class.ID, "-file", partial, "-mode", "replace"))
		assert.Equal(t, 1, enrolled())
		assert.True(t, strings.Contains(f.out.String(), "[y/N]"))
	})

	t.Run("replace with -yes", func(t *testing.T) {
		mockTerminal(t, false)
		require.NoError(t, run(f.cli, "import", "-class", class.ID, "-file", full, "-mode", "replace", "-yes"))
		assert.Equal(t, 2, enrolled())
	})
}

func Test_commandLine_cleanup(t *testing.T) {
	f := setup(t)
	require.NoError(t, run(f.cli, "cleanup"))
	assert.Equal(t, 1, f.cleanups)
}
