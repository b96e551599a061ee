// Package di wires the eligibility services together for the API and the admin CLI.
package di

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/masomo-eligibility/apps/api/echo"
	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/appeal"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/expiry"
	"github.com/trezcool/masomo-eligibility/core/feature"
	"github.com/trezcool/masomo-eligibility/core/notification"
	emailsvc "github.com/trezcool/masomo-eligibility/services/email"
	logsvc "github.com/trezcool/masomo-eligibility/services/logger"
	metricsvc "github.com/trezcool/masomo-eligibility/services/metrics"
	notifysvc "github.com/trezcool/masomo-eligibility/services/notify"
	"github.com/trezcool/masomo-eligibility/storage/database"
	inmemdb "github.com/trezcool/masomo-eligibility/storage/database/inmem"
	sqlxrepos "github.com/trezcool/masomo-eligibility/storage/database/sqlx"
)

const memoryEngine = "memory"

type (
	// Storage is the set of repositories backing the services.
	// DB is nil when running on the in-memory engine.
	Storage struct {
		dig.Out
		DB      *sqlx.DB
		Tenants eligibility.Repository
		Appeals appeal.Repository
		Audit   audit.Store
	}

	// Shutdown receives a signal when the API must stop.
	Shutdown chan os.Signal

	serviceParams struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		Metrics    core.Metrics
		Validator  *core.Validator
		Recorder   *audit.Recorder
		Dispatcher *notification.Dispatcher
		Tenants    eligibility.Repository
		Appeals    appeal.Repository
	}

	serverParams struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		Metrics    *metricsvc.Metrics
		Shutdown   Shutdown
		TenantSvc  *eligibility.Service
		AppealSvc  *appeal.Service
		Features   *feature.Checker
		AuditStore audit.Store
	}
)

func newLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(zl, conf)
}

func newStorage(conf *core.Config, logger core.Logger) (Storage, error) {
	if conf.Database.Engine == memoryEngine {
		logger.Warn("using the in-memory store, data will not survive a restart")
		db := inmemdb.Open()
		return Storage{
			Tenants: inmemdb.NewTenantRepository(db),
			Appeals: inmemdb.NewAppealRepository(db),
			Audit:   inmemdb.NewAuditRepository(db),
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return Storage{}, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(conf)
	if err != nil {
		return Storage{}, err
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		_ = db.Close()
		return Storage{}, errors.Wrap(err, "migrating database")
	}
	return Storage{
		DB:      db,
		Tenants: sqlxrepos.NewTenantRepository(db),
		Appeals: sqlxrepos.NewAppealRepository(db),
		Audit:   sqlxrepos.NewAuditRepository(db),
	}, nil
}

func newEmailService(conf *core.Config) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, os.Stdout)
	}
	return emailsvc.NewSendgridService(conf)
}

func newRedisClient(conf *core.Config) *redis.Client {
	return notifysvc.NewRedisClient(conf.Redis)
}

func newNotifier(conf *core.Config, mailer core.EmailService, rdb *redis.Client) notification.Notifier {
	notifiers := notification.Multi{notifysvc.NewEmailNotifier(mailer, conf)}
	if rdb != nil {
		notifiers = append(notifiers, notifysvc.NewStreamNotifier(rdb, conf.Redis.Stream))
	}
	return notifiers
}

func newRecorder(store audit.Store, logger core.Logger, metrics core.Metrics) *audit.Recorder {
	return audit.NewRecorder(store, logger, metrics)
}

func newEligibilityService(p serviceParams) (*eligibility.Service, error) {
	conf, err := eligibility.ConfigFrom(p.Conf)
	if err != nil {
		return nil, err
	}
	return eligibility.NewService(eligibility.Deps{
		Repo:      p.Tenants,
		Validator: p.Validator,
		Audit:     p.Recorder,
		Notifier:  p.Dispatcher,
		Metrics:   p.Metrics,
		Logger:    p.Logger,
		Config:    conf,
	}), nil
}

func newAppealService(p serviceParams, tenants *eligibility.Service) *appeal.Service {
	return appeal.NewService(appeal.Deps{
		Repo:      p.Appeals,
		Tenants:   tenants,
		Validator: p.Validator,
		Audit:     p.Recorder,
		Notifier:  p.Dispatcher,
		Logger:    p.Logger,
	})
}

func newChecker(tenants *eligibility.Service) *feature.Checker {
	return feature.NewChecker(tenants, tenants.GraceConfig(), nil)
}

func newScanner(conf *core.Config, tenants *eligibility.Service, logger core.Logger, metrics core.Metrics) *expiry.Scanner {
	return expiry.NewScanner(tenants, logger, metrics, conf.Bulk.Concurrency)
}

func newShutdown() Shutdown {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	return shutdown
}

func newServer(p serverParams) echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Address:         p.Conf.Server.Address,
		Debug:           p.Conf.Debug,
		TestMode:        p.Conf.TestMode,
		SecretKey:       p.Conf.SecretKey,
		AppealRateLimit: p.Conf.Server.AppealRateLimit,
		Logger:          p.Logger,
		MetricsHandler:  p.Metrics.Handler(),
		SignalShutdown:  func() { p.Shutdown <- syscall.SIGTERM },
		TenantSvc:       p.TenantSvc,
		AppealSvc:       p.AppealSvc,
		Features:        p.Features,
		AuditStore:      p.AuditStore,
	})
}

// New returns a new dependency injection dig.Container.
// Dependencies are built lazily, on the first Invoke that needs them.
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.LoadConfig))
	must(c.Provide(logsvc.NewZap))
	must(c.Provide(newLogger))
	must(c.Provide(metricsvc.New))
	must(c.Provide(func(m *metricsvc.Metrics) core.Metrics { return m }))
	must(c.Provide(newStorage))
	must(c.Provide(newEmailService))
	must(c.Provide(newRedisClient))
	must(c.Provide(newNotifier))
	must(c.Provide(notification.NewDispatcher))
	must(c.Provide(core.NewValidator))
	must(c.Provide(newRecorder))
	must(c.Provide(newEligibilityService))
	must(c.Provide(newAppealService))
	must(c.Provide(newChecker))
	must(c.Provide(newScanner))
	must(c.Provide(newShutdown))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
