package main

import (
	"context"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/notify"
	emailsvc "github.com/trezcool/gradebook/services/email"
	logsvc "github.com/trezcool/gradebook/services/logger"
	pushsvc "github.com/trezcool/gradebook/services/push"
	"github.com/trezcool/gradebook/services/scheduler"
	"github.com/trezcool/gradebook/storage/database"
	sqlxrepos "github.com/trezcool/gradebook/storage/database/sqlx"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()
	rollbarLogger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	rollbarLogger.Enable(!conf.Debug)
	logger = rollbarLogger
	core.ParseEmailTemplates(conf, logger)

	ctx := context.Background()

	// set up DB
	db, err := database.Open(ctx, conf)
	errAndDie(err)
	defer db.Close()

	store := sqlxrepos.NewStore(db)
	notes := sqlxrepos.NewNotificationRepository(db)

	// imports may hide assessments: their notifications go out before exiting
	push, err := newPushSender(ctx, conf)
	errAndDie(err)
	var email core.EmailService
	if conf.Debug {
		email = emailsvc.NewConsoleService(conf, logger)
	} else {
		email = emailsvc.NewSendgridService(conf, logger)
	}
	dispatcher := notify.NewConfiguredDispatcher(conf, batch.NewRecipientResolver(store), notes, push, email, logger)
	debouncer := notify.NewDebouncer(conf.Notify.DebounceWindow, dispatcher.Dispatch, logger)

	jobs, err := scheduler.New(conf, store.Users(), notes, logger)
	errAndDie(err)

	// start CLI
	cli := newCommandLine()
	cli.migrate = func(ctx context.Context, command string, args ...string) error {
		return database.Migrate(ctx, db, command, args...)
	}
	cli.users = store.Users()
	cli.svc = batch.NewService(conf, store, debouncer, logger)
	cli.cleanup = jobs.RunAll

	err = cli.run(os.Args)
	debouncer.FlushAll()
	debouncer.Stop()
	if err != nil {
		if !errors.Is(err, errHelp) {
			logger.Error("admin command failed", err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}

func newPushSender(ctx context.Context, conf *core.Config) (notify.PushSender, error) {
	if conf.Debug || conf.Notify.FirebaseCredentials == "" {
		return pushsvc.NewConsoleSender(logger), nil
	}
	return pushsvc.NewFirebaseSender(ctx, conf, logger)
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
