package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/trezcool/masomo-eligibility/apps/api/di"
	echoapi "github.com/trezcool/masomo-eligibility/apps/api/echo"
	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/expiry"
)

type app struct {
	conf     *core.Config
	logger   core.Logger
	zl       *zap.Logger
	db       *sqlx.DB
	rdb      *redis.Client
	scanner  *expiry.Scanner
	server   echoapi.Server
	shutdown di.Shutdown
}

func main() {
	c := di.New()
	must(c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		zl *zap.Logger,
		db *sqlx.DB, // nil on the in-memory engine
		rdb *redis.Client,
		scanner *expiry.Scanner,
		server echoapi.Server,
		shutdown di.Shutdown,
	) {
		run(app{conf, logger, zl, db, rdb, scanner, server, shutdown})
	}))
}

func run(a app) {
	// =========================================================================
	// Initialize App

	a.logger.Info(fmt.Sprintf("Application initializing : version %q", a.conf.Build))
	defer func() {
		a.logger.Info("Application stopped")
		_ = a.zl.Sync()
	}()
	defer func() {
		if a.db == nil {
			return
		}
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", err)
		}
	}()
	defer func() {
		if a.rdb == nil {
			return
		}
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("failed to close redis client", err)
		}
	}()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(a.conf.Build)
	expvar.NewString("env").Set(a.conf.Env)

	go func() {
		if err := http.ListenAndServe(a.conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			a.logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Expiry Scanner

	scanCtx, stopScanner := context.WithCancel(context.Background())
	defer stopScanner()
	go a.scanner.Start(scanCtx, a.conf.Expiry.Interval)

	// =========================================================================
	// Start API Service

	go a.server.Start()

	// =========================================================================
	// Shutdown

	sig := <-a.shutdown
	a.logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	stopScanner()

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), a.conf.Server.ShutdownTimeout)
	defer cancel()

	// asking listener to shut down and shed load
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
