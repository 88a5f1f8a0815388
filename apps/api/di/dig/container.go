// Package dig_container wires the API process with go.uber.org/dig.
package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/gradebook/apps/api/echo"
	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/notify"
	"github.com/trezcool/gradebook/core/user"
	emailsvc "github.com/trezcool/gradebook/services/email"
	logsvc "github.com/trezcool/gradebook/services/logger"
	pushsvc "github.com/trezcool/gradebook/services/push"
	"github.com/trezcool/gradebook/services/scheduler"
	"github.com/trezcool/gradebook/storage/database"
	sqlxrepos "github.com/trezcool/gradebook/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB, core.DBExecutor) {
	setUp := func(ctx context.Context) (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(ctx, db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp(context.Background())
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db, db
}

func newStore(db core.DB) batch.TxStore {
	return sqlxrepos.NewStore(db)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newPushSender(conf *core.Config, logger core.Logger) (notify.PushSender, error) {
	if conf.Debug || conf.Notify.FirebaseCredentials == "" {
		return pushsvc.NewConsoleSender(logger), nil
	}
	return pushsvc.NewFirebaseSender(context.Background(), conf, logger)
}

func newDebouncer(conf *core.Config, dispatcher *notify.Dispatcher, logger core.Logger) *notify.Debouncer {
	return notify.NewDebouncer(conf.Notify.DebounceWindow, dispatcher.Dispatch, logger)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newStore))
	must(c.Provide(sqlxrepos.NewNotificationRepository))
	must(c.Provide(newEmailService))
	must(c.Provide(newPushSender))
	must(c.Provide(batch.NewRecipientResolver))
	must(c.Provide(notify.NewConfiguredDispatcher))
	must(c.Provide(newDebouncer))
	must(c.Provide(func(d *notify.Debouncer) batch.Notifier { return d }))
	must(c.Provide(batch.NewService))
	must(c.Provide(func(store batch.TxStore) user.Repository { return store.Users() }))
	must(c.Provide(scheduler.New))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
