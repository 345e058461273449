package main

import (
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/core/user"
	emailsvc "github.com/trezcool/capstone/services/email"
	logsvc "github.com/trezcool/capstone/services/logger"
	"github.com/trezcool/capstone/storage/database"
	"github.com/trezcool/capstone/storage/database/sqlxrepos"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()
	appLogger := logsvc.NewRollbarLogger(logger, conf)
	appLogger.Enable(!(conf.Debug || conf.TestMode))

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	errAndDie(db.Ping())

	core.ParseEmailTemplates(conf, appLogger)

	// records created here reach connected sessions on their next reconcile
	opts := notification.RouterOptions{
		Repo:   sqlxrepos.NewNotificationRepository(db),
		Logger: appLogger,
	}
	if conf.Notification.EmailMirror {
		opts.MailSvc = newEmailService(conf, appLogger)
		opts.MailKinds = []notification.Kind{notification.KindStatusUpdate}
	}

	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)

	// start CLI
	cli := commandLine{
		conf:     conf,
		db:       db,
		accSvc:   user.NewService(sqlxrepos.NewAccountRepository(db), notification.NewRouter(opts)),
		validate: validate,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
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
