package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	dig_container "github.com/trezcool/gradebook/apps/api/di/dig"
	echoapi "github.com/trezcool/gradebook/apps/api/echo"
	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/notify"
	"github.com/trezcool/gradebook/services/scheduler"
)

type app struct {
	conf      *core.Config
	logger    core.Logger
	server    *echoapi.Server
	debouncer *notify.Debouncer
	jobs      *scheduler.Scheduler
}

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		db *sqlx.DB,
		validate *validator.Validate,
		translator ut.Translator,
		debouncer *notify.Debouncer,
		jobs *scheduler.Scheduler,
		server *echoapi.Server,
	) {
		apiLogger.Info(fmt.Sprintf("Gradebook API starting : version %q, env %q", conf.Build, conf.Env))

		core.InitValidators(validate, translator)
		core.ParseEmailTemplates(conf, apiLogger)

		defer func() {
			if err := db.Close(); err != nil {
				dbLoggerParam.Logger.Fatal("closing database", err)
			}
		}()
		defer apiLogger.Info("Gradebook API stopped")

		a := &app{conf: conf, logger: apiLogger, server: server, debouncer: debouncer, jobs: jobs}
		a.serveDebug()
		a.run()
	}))
}

// serveDebug exposes /debug/pprof (net/http/pprof) and /debug/vars (expvar) on the debug address.
func (a *app) serveDebug() {
	expvar.NewString("build").Set(a.conf.Build)
	expvar.NewString("env").Set(a.conf.Env)

	go func() {
		if err := http.ListenAndServe(a.conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			a.logger.Error("debug server closed", err)
		}
	}()
}

// run blocks until the server fails or a shutdown signal arrives.
func (a *app) run() {
	if a.conf.Jobs.Enabled {
		a.jobs.Start()
	}
	go a.server.Start()

	select {
	case err := <-a.server.Errors():
		a.logger.Fatal("server error", err)

	case sig := <-a.server.ShutdownSignal():
		a.logger.Info(fmt.Sprintf("%v: shutting down", sig))

		ctx, cancel := context.WithTimeout(context.Background(), a.conf.Server.ShutdownTimeout)
		defer cancel()
		a.shutdown(ctx)
	}
}

// shutdown stops accepting requests first so no visibility change lands after the final flush.
func (a *app) shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("stopping server gracefully", err)
		if err = a.server.Close(); err != nil {
			a.logger.Fatal("force stopping server", err)
		}
	}

	if n := a.debouncer.FlushAll(); n > 0 {
		a.logger.Info(fmt.Sprintf("flushed %d pending notification batch(es)", n))
	}
	a.debouncer.Stop()

	if err := a.jobs.Stop(ctx); err != nil {
		a.logger.Error("stopping jobs", err)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
