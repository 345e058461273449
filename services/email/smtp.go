package emailsvc

import (
	"crypto/tls"
	"fmt"
	"net/mail"

	gomail "github.com/go-mail/mail/v2"

	"github.com/trezcool/capstone/core"
)

type smtpService struct {
	dialer     *gomail.Dialer
	from       string
	subjPrefix string
	logger     core.Logger
}

var _ core.EmailService = (*smtpService)(nil)

// NewSMTPService sends through an SMTP relay, enforcing STARTTLS.
func NewSMTPService(conf *core.Config, logger core.Logger) core.EmailService {
	d := gomail.NewDialer(conf.Email.SMTPHost, conf.Email.SMTPPort, conf.Email.SMTPUser, conf.Email.SMTPPassword)
	d.StartTLSPolicy = gomail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         conf.Email.SMTPHost,
		InsecureSkipVerify: conf.Email.SMTPSkipTLSVerify, // dev only
	}
	return &smtpService{
		dialer:     d,
		from:       conf.DefaultFromEmail.String(),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
	}
}

func (svc *smtpService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
				return
			}
			if !(msg.HasRecipients() && msg.HasContent()) {
				return
			}
			if err := svc.dialer.DialAndSend(svc.prepare(*msg)); err != nil {
				svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
			}
		}()
	}
}

func (svc *smtpService) prepare(msg core.EmailMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", svc.from)
	m.SetHeader("To", addressList(msg.To)...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", addressList(msg.Cc)...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", addressList(msg.Bcc)...)
	}
	m.SetHeader("Subject", svc.subjPrefix+msg.Subject)
	m.SetBody("text/plain", msg.TextContent)
	if msg.HTMLContent != "" {
		m.AddAlternative("text/html", msg.HTMLContent)
	}
	return m
}

func addressList(addrs []mail.Address) []string {
	list := make([]string, 0, len(addrs))
	for _, a := range addrs {
		list = append(list, a.String())
	}
	return list
}
