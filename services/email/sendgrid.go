package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/capstone/core"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// sendgridService delivers emails through the sendgrid v3 API. In test mode requests are sandboxed.
type sendgridService struct {
	apiKey  string
	from    *sgmail.Email
	prefix  string
	appName string
	sandbox bool
	logger  core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	return &sendgridService{
		apiKey:  conf.Email.SendgridAPIKey,
		from:    sgmail.NewEmail(conf.DefaultFromEmail.Name, conf.DefaultFromEmail.Address),
		prefix:  "[" + conf.AppName + "] ",
		appName: conf.AppName,
		sandbox: conf.TestMode,
		logger:  logger,
	}
}

func (svc sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go svc.deliver(msg)
	}
}

func (svc sendgridService) deliver(msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		svc.logger.Error(fmt.Sprintf("rendering %s email: %v", msg.TemplateName, err), err)
		return
	}
	if !msg.HasRecipients() || !msg.HasContent() {
		return
	}

	req := sendgrid.GetRequest(svc.apiKey, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.build(msg))

	res, err := sendgrid.API(req)
	switch {
	case err != nil:
		svc.logger.Error(fmt.Sprintf("sending %s email: %v", msg.TemplateName, err), err)
	case res.StatusCode >= http.StatusBadRequest:
		svc.logger.Error(
			fmt.Sprintf("sending %s email: status %d", msg.TemplateName, res.StatusCode),
			map[string]interface{}{"body": res.Body, "to": recipients(msg.To)},
		)
	}
}

// build maps a rendered message to a v3 mail, tagged with the app & template names.
func (svc sendgridService) build(msg *core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.prefix + msg.Subject
	p.AddTos(toSendgrid(msg.To)...)
	if len(msg.Cc) > 0 {
		p.AddCCs(toSendgrid(msg.Cc)...)
	}
	if len(msg.Bcc) > 0 {
		p.AddBCCs(toSendgrid(msg.Bcc)...)
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddCategories(svc.appName, msg.TemplateName)
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	if svc.sandbox {
		m.SetMailSettings(sgmail.NewMailSettings().SetSandboxMode(sgmail.NewSetting(true)))
	}
	return m
}

func toSendgrid(addrs []mail.Address) []*sgmail.Email {
	emails := make([]*sgmail.Email, 0, len(addrs))
	for _, addr := range addrs {
		emails = append(emails, sgmail.NewEmail(addr.Name, addr.Address))
	}
	return emails
}

func recipients(addrs []mail.Address) []string {
	list := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		list = append(list, addr.Address)
	}
	return list
}
