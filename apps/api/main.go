package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	dig_container "github.com/trezcool/capstone/apps/api/di/dig"
	echoapi "github.com/trezcool/capstone/apps/api/echo"
	"github.com/trezcool/capstone/core"
)

func main() {
	c := dig_container.New()

	err := c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		dbParam dig_container.DBLoggerParam,
		db *sqlx.DB,
		server *echoapi.Server,
	) {
		logger.Info(fmt.Sprintf("Capstone API starting : build %q, env %s, database %s",
			conf.Build, conf.Env, conf.Database.Engine))
		core.ParseEmailTemplates(conf, logger)

		defer closeDB(db, dbParam.Logger)
		defer logger.Info("Capstone API stopped")

		startDebugServer(conf, logger)

		if err := serve(conf, server); err != nil {
			logger.Fatal(err.Error(), err)
		}
	})
	if err != nil {
		log.Fatal(err)
	}
}

// startDebugServer exposes /debug/pprof & /debug/vars on the debug host.
func startDebugServer(conf *core.Config, logger core.Logger) {
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("database").Set(conf.Database.Engine)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()
}

// serve runs the API until it fails or a shutdown is requested, then ends the SSE streams and
// drains open requests within the shutdown timeout.
func serve(conf *core.Config, server *echoapi.Server) error {
	go server.Start()

	select {
	case err := <-server.Errors():
		return errors.Wrap(err, "server error")

	case <-server.ShutdownSignal():
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			if cerr := server.Close(); cerr != nil {
				return errors.Wrapf(cerr, "forcing stop after %v", err)
			}
		}
		return nil
	}
}

// closeDB is a no-op with the memory engine.
func closeDB(db *sqlx.DB, logger core.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Error(fmt.Sprintf("closing database: %v", err), err)
	}
}
