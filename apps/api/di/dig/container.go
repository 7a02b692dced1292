package dig_container

import (
	"context"
	"fmt"
	"log"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/dig"

	echoapi "github.com/roxnlabs/mentora/apps/api/echo"
	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/feedback"
	"github.com/roxnlabs/mentora/core/session"
	"github.com/roxnlabs/mentora/core/user"
	"github.com/roxnlabs/mentora/services/backup"
	emailsvc "github.com/roxnlabs/mentora/services/email"
	logsvc "github.com/roxnlabs/mentora/services/logger"
	"github.com/roxnlabs/mentora/services/monitor"
	"github.com/roxnlabs/mentora/services/secrets"
	"github.com/roxnlabs/mentora/services/signaling"
	"github.com/roxnlabs/mentora/storage/migrate"
	"github.com/roxnlabs/mentora/storage/mongodb"
)

const statsWindow = 5 * time.Minute

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Secrets are the credentials missing from the environment, read from the vault.
	Secrets struct {
		RollbarToken   string
		SendgridAPIKey string
	}

	// App is everything the API process runs.
	App struct {
		dig.In
		Conf     *core.Config
		Logger   core.Logger
		DBLogger core.Logger `name:"dbLogger"`
		DB       *mongodb.DB
		Server   *echoapi.Server
		Hub      *signaling.Hub
		Alerter  *monitor.Alerter
		Backups  *backup.Manager
		Uploader backup.Uploader
		Cron     *cron.Cron
	}

	serverParams struct {
		dig.In
		Conf        *core.Config
		Logger      core.Logger
		Validate    *validator.Validate
		Translator  ut.Translator
		UserSvc     user.Service
		SessionSvc  session.Service
		FeedbackSvc feedback.Service
		Metrics     *monitor.Metrics
		Health      *monitor.HealthChecker
		Status      *monitor.StatusReporter
		Hub         *signaling.Hub
	}
)

// newLogger is built once the secrets are resolved; Rollbar is configured globally.
func newLogger(conf *core.Config, _ Secrets) core.Logger {
	return logsvc.NewRollbarLogger(logsvc.NewZap(conf, "api"), conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(logsvc.NewZap(conf, "db"), conf)
}

// newDB connects to MongoDB, then brings indexes & migrations up to date.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *mongodb.DB {
	setUp := func() (*mongodb.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*conf.Mongo.ConnectTimeout)
		defer cancel()

		db, err := mongodb.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err = db.EnsureIndexes(ctx); err != nil {
			return nil, err
		}

		runner := migrate.NewRunner(
			mongodb.NewMigrationStore(db), db, loggerParam.Logger,
			conf.Migrations.Dir, migrate.DefaultSources(conf.Migrations.Dir)...,
		)
		if res := runner.Up(ctx); !res.Success {
			return nil, errors.New(res.Message)
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

// newSecrets fills the credentials left empty by the environment from the vault, when one is configured.
func newSecrets(conf *core.Config, db *mongodb.DB, loggerParam DBLoggerParam) Secrets {
	vault, err := secrets.NewVault(conf, mongodb.NewSecretRepository(db))
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), conf.Mongo.ConnectTimeout)
		defer cancel()

		resolve := func(current *string, name string) {
			val, err := vault.Resolve(ctx, *current, name)
			if err != nil {
				loggerParam.Logger.Error(fmt.Sprintf("resolving secret %s: %v", name, err), err)
				return
			}
			*current = val
		}
		resolve(&conf.RollbarToken, secrets.RollbarTokenName)
		resolve(&conf.SendgridAPIKey, secrets.SendgridAPIKeyName)
	}
	return Secrets{RollbarToken: conf.RollbarToken, SendgridAPIKey: conf.SendgridAPIKey}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newMetrics() *monitor.Metrics {
	return monitor.NewMetrics(statsWindow)
}

func newHealthChecker(conf *core.Config, db *mongodb.DB) *monitor.HealthChecker {
	return monitor.NewHealthChecker(
		conf.Build,
		monitor.PingCheck("database", db),
		monitor.DirWritableCheck("backups", conf.Backup.Dir),
		monitor.MemoryCheck(conf.Alerts.MemoryMB),
	)
}

func newHub(conf *core.Config, sessSvc session.Service, metrics *monitor.Metrics, logger core.Logger) *signaling.Hub {
	return signaling.NewHub(conf, signaling.AuthorizerFunc(sessSvc.CanJoinRoom), metrics, logger)
}

func newStatusReporter(conf *core.Config, metrics *monitor.Metrics, hub *signaling.Hub, health *monitor.HealthChecker) *monitor.StatusReporter {
	return monitor.NewStatusReporter(conf, metrics, hub, health.Started())
}

// newUploader returns nil when no bucket is configured: archives then stay local.
func newUploader(conf *core.Config, logger core.Logger) backup.Uploader {
	if conf.Backup.GCSBucket == "" {
		return nil
	}
	uploader, err := backup.NewGCSUploader(context.Background(), conf.Backup.GCSBucket)
	if err != nil {
		logger.Error(fmt.Sprintf("creating GCS uploader: %v", err), err)
		return nil
	}
	return uploader
}

func newBackupManager(conf *core.Config, uploader backup.Uploader, metrics *monitor.Metrics, logger core.Logger) *backup.Manager {
	return backup.NewManager(conf, uploader, metrics, logger)
}

func newCron() *cron.Cron {
	return cron.New(cron.WithLocation(time.UTC))
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		Validate:    p.Validate,
		Translator:  p.Translator,
		UserSvc:     p.UserSvc,
		SessionSvc:  p.SessionSvc,
		FeedbackSvc: p.FeedbackSvc,
		Metrics:     p.Metrics,
		Health:      p.Health,
		Status:      p.Status,
		Hub:         p.Hub,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newSecrets))
	must(c.Provide(newLogger))
	must(c.Provide(newEmailService))

	must(c.Provide(mongodb.NewUserRepository))
	must(c.Provide(mongodb.NewSessionRepository))
	must(c.Provide(mongodb.NewFeedbackRepository))

	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(session.NewService))
	must(c.Provide(feedback.NewService))

	must(c.Provide(newMetrics))
	must(c.Provide(newHealthChecker))
	must(c.Provide(newHub))
	must(c.Provide(newStatusReporter))
	must(c.Provide(monitor.NewAlerter))
	must(c.Provide(newUploader))
	must(c.Provide(newBackupManager))
	must(c.Provide(newCron))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
