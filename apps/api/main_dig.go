package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	dig_container "github.com/roxnlabs/mentora/apps/api/di/dig"
	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/user"
)

func startWithDig() {
	c := dig_container.New()

	must(c.Invoke(func(app dig_container.App, validate *validator.Validate, translator ut.Translator) {
		conf, logger, server := app.Conf, app.Logger, app.Server

		// =========================================================================
		// Initialize App

		logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
		if s, ok := logger.(interface{ Sync() }); ok {
			defer s.Sync()
		}

		core.InitValidators(validate, translator)
		user.InitValidators(validate, translator)

		if err := core.ParseEmailTemplates(conf.Debug); err != nil {
			logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
		}

		user.LoadCommonPasswords(logger)

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()
			if err := app.DB.Close(ctx); err != nil {
				app.DBLogger.Error("Failed to close", err)
			}
		}()
		if closer, ok := app.Uploader.(io.Closer); ok {
			defer func() { _ = closer.Close() }()
		}
		defer logger.Info("Application stopped")

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)
		expvar.Publish("rooms", expvar.Func(func() interface{} { return app.Hub.RoomCount() }))

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start Background Jobs

		if err := app.Backups.Schedule(app.Cron); err != nil {
			logger.Fatal(fmt.Sprintf("scheduling backups: %v", err), err)
		}
		if err := app.Alerter.Schedule(app.Cron); err != nil {
			logger.Fatal(fmt.Sprintf("scheduling alerts: %v", err), err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			app.Hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			app.Cron.Start()
			<-gctx.Done()
			<-app.Cron.Stop().Done() // wait for running jobs
			return nil
		})
		defer func() {
			cancel()
			_ = g.Wait()
		}()

		// =========================================================================
		// Start API Service

		go func() {
			logger.Info(fmt.Sprintf("API listening on %s", conf.ServerAddress()))
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			logger.Error(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
