package logsvc

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

// RollbarLogger reports entries to Rollbar and mirrors each of them on one line of a std logger.
// Debug entries stay local.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetCustom(map[string]interface{}{"app": conf.AppName})
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// entry is a log call split by argument kind: msg | error, map[string]interface{} extras, user.User.
type entry struct {
	msg    string
	err    error
	extras map[string]interface{}
	usr    *user.User
	rest   []interface{}
}

func newEntry(msg string, args []interface{}) entry {
	e := entry{msg: msg}
	for _, arg := range args {
		switch a := arg.(type) {
		case nil:
		case error:
			if e.err == nil {
				e.err = a
			} else {
				e.rest = append(e.rest, a)
			}
		case map[string]interface{}:
			if e.extras == nil {
				e.extras = make(map[string]interface{}, len(a))
			}
			for k, v := range a {
				e.extras[k] = v
			}
		case user.User:
			if e.usr == nil { // only one person per entry
				usr := a
				e.usr = &usr
			}
		default:
			e.rest = append(e.rest, a)
		}
	}
	return e
}

// rollbarArgs passes the person through a context so concurrent entries never share it.
func (e entry) rollbarArgs() []interface{} {
	args := []interface{}{e.msg}
	if e.err != nil {
		args = append(args, e.err)
	}
	extras := make(map[string]interface{}, len(e.extras)+1)
	for k, v := range e.extras {
		extras[k] = v
	}
	if len(e.rest) > 0 {
		extras["args"] = e.rest
	}
	if len(extras) > 0 {
		args = append(args, extras)
	}
	if e.usr != nil {
		args = append(args, rollbar.NewPersonContext(context.Background(), &rollbar.Person{
			Id:       e.usr.ID,
			Username: personName(*e.usr),
			Email:    e.usr.Email,
		}))
	}
	return args
}

// personName is the student number of students and the full name of teachers.
func personName(usr user.User) string {
	if number := usr.StudentNumber(); number != "" {
		return number
	}
	return usr.FullName()
}

// line renders `msg [err=...] [key=value...] [user=id] [args...]` with sorted extras.
func (e entry) line() string {
	var b strings.Builder
	b.WriteString(e.msg)
	if e.err != nil {
		fmt.Fprintf(&b, " err=%q", e.err.Error())
	}
	keys := make([]string, 0, len(e.extras))
	for k := range e.extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.extras[k])
	}
	if e.usr != nil {
		fmt.Fprintf(&b, " user=%s", e.usr.ID)
	}
	for _, arg := range e.rest {
		fmt.Fprintf(&b, " %+v", arg)
	}
	return b.String()
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	l.std.Println("DEBUG " + newEntry(msg, args).line())
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Info(e.rollbarArgs()...)
	l.std.Println("INFO " + e.line())
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Warning(e.rollbarArgs()...)
	l.std.Println("WARN " + e.line())
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Error(e.rollbarArgs()...)
	l.std.Println("ERROR " + e.line())
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Critical(e.rollbarArgs()...)
	rollbar.Wait()
	l.std.Fatal("FATAL " + e.line())
}
