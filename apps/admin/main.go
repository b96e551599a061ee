package main

import (
	"database/sql"
	"log"
	"os"

	"go.uber.org/dig"

	"github.com/trezcool/masomo-eligibility/apps/api/di"
	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/expiry"
	"github.com/trezcool/masomo-eligibility/storage/database"
)

var logger = log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds)

func main() {
	c := di.New()

	var conf *core.Config
	errAndDie(c.Invoke(func(cf *core.Config) { conf = cf }))

	// start CLI
	cli := commandLine{
		conf: conf,
		out:  os.Stdout,
		db: func() (*sql.DB, error) {
			if err := database.CreateIfNotExist(conf); err != nil {
				return nil, err
			}
			db, err := database.Open(conf)
			if err != nil {
				return nil, err
			}
			return db.DB, nil
		},
		tenants: func() (tenantService, error) {
			var svc *eligibility.Service
			if err := c.Invoke(func(s *eligibility.Service) { svc = s }); err != nil {
				return nil, dig.RootCause(err)
			}
			return svc, nil
		},
		scanner: func() (expirer, error) {
			var scanner *expiry.Scanner
			if err := c.Invoke(func(s *expiry.Scanner) { scanner = s }); err != nil {
				return nil, dig.RootCause(err)
			}
			return scanner, nil
		},
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %+v\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(dig.RootCause(err))
	}
}
