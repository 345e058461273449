package dig_container

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/capstone/apps/api/echo"
	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/core/submission"
	"github.com/trezcool/capstone/core/user"
	emailsvc "github.com/trezcool/capstone/services/email"
	logsvc "github.com/trezcool/capstone/services/logger"
	"github.com/trezcool/capstone/services/realtime"
	"github.com/trezcool/capstone/storage/database"
	inmemdb "github.com/trezcool/capstone/storage/database/inmem"
	"github.com/trezcool/capstone/storage/database/sqlxrepos"
)

// EngineMemory keeps every record in process memory. Nothing survives a restart.
const EngineMemory = "memory"

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Repositories groups the store implementations of the configured engine.
type Repositories struct {
	dig.Out
	Submission   submission.Repository
	Notification notification.Repository
	Account      user.Repository
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!(conf.Debug || conf.TestMode))
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!(conf.Debug || conf.TestMode))
	return logger
}

// newDB sets the configured SQL database up. It returns nil for the memory engine.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	if conf.Database.Engine == EngineMemory {
		return nil
	}
	db, err := database.Setup(conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newRepositories(conf *core.Config, db *sqlx.DB) Repositories {
	if conf.Database.Engine == EngineMemory {
		mem := inmemdb.Open()
		return Repositories{
			Submission:   inmemdb.NewSubmissionRepository(mem),
			Notification: inmemdb.NewNotificationRepository(mem),
			Account:      inmemdb.NewAccountRepository(mem),
		}
	}
	return Repositories{
		Submission:   sqlxrepos.NewSubmissionRepository(db),
		Notification: sqlxrepos.NewNotificationRepository(db),
		Account:      sqlxrepos.NewAccountRepository(db),
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	switch conf.Email.Backend {
	case "sendgrid":
		return emailsvc.NewSendgridService(conf, logger)
	case "smtp":
		return emailsvc.NewSMTPService(conf, logger)
	default:
		return emailsvc.NewConsoleService(conf, logger)
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	return validate
}

func newRouter(
	conf *core.Config,
	repo notification.Repository,
	hub *realtime.Hub,
	mailSvc core.EmailService,
	logger core.Logger,
) *notification.Router {
	opts := notification.RouterOptions{
		Repo:      repo,
		Publisher: hub,
		Logger:    logger,
	}
	if conf.Notification.EmailMirror {
		opts.MailSvc = mailSvc
		opts.MailKinds = []notification.Kind{notification.KindStatusUpdate, notification.KindFeedback}
	}
	return notification.NewRouter(opts)
}

func newSubmissionService(repo submission.Repository, router *notification.Router) submission.Service {
	return submission.NewService(repo, router)
}

func newAccountService(repo user.Repository, router *notification.Router) user.Service {
	return user.NewService(repo, router)
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
	submissionSvc submission.Service,
	notificationSvc notification.Service,
	accountSvc user.Service,
	hub *realtime.Hub,
) *echoapi.Server {
	return echoapi.NewServer(make(chan os.Signal, 1), echoapi.ServerDeps{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		SubmissionSvc:   submissionSvc,
		NotificationSvc: notificationSvc,
		AccountSvc:      accountSvc,
		Hub:             hub,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(realtime.NewHub))
	must(c.Provide(newRouter))
	must(c.Provide(newSubmissionService))
	must(c.Provide(notification.NewService))
	must(c.Provide(newAccountService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
