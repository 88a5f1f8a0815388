package emailsvc

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/gradebook/core"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"

	// concurrent API calls of one SendMessages
	maxConcurrentSends = 8

	defaultSendTimeout = 10 * time.Second
)

type sendgridService struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	logger     core.Logger
	timeout    time.Duration
	api        func(ctx context.Context, req rest.Request) (*rest.Response, error) // mockable
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	return newSendgridService(conf, logger)
}

func newSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	from := conf.DefaultFromEmail()
	timeout := conf.Notify.EmailTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	// rest.DefaultClient never times out
	client := &rest.Client{HTTPClient: &http.Client{Timeout: timeout}}
	return &sendgridService{
		key:        conf.SendgridApiKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
		timeout:    timeout,
		api:        client.SendWithContext,
	}
}

// SendMessages sends a few messages at a time and waits for all of them.
// Every API call gives up after the configured timeout.
func (svc *sendgridService) SendMessages(ctx context.Context, messages ...*core.EmailMessage) error {
	var (
		g      errgroup.Group
		failed failures
	)
	g.SetLimit(maxConcurrentSends)
	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			if err := msg.Render(); err != nil {
				svc.logger.Error("rendering email", err, map[string]interface{}{"template": msg.TemplateName})
				failed.add(err)
				return nil
			}
			if !msg.HasRecipients() || !msg.HasContent() {
				return nil
			}
			if err := svc.send(ctx, *msg); err != nil {
				svc.logger.Error("sending email", err, map[string]interface{}{
					"template": msg.TemplateName, "recipients": len(msg.To),
				})
				failed.add(err)
			}
			return nil // one failed message must not cancel the others
		})
	}
	_ = g.Wait()
	return failed.err(len(messages))
}

func (svc *sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgEmail(to))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	if msg.TemplateName != "" {
		m.AddCategories(msg.TemplateName)
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func (svc *sendgridService) send(ctx context.Context, msg core.EmailMessage) error {
	req := sendgrid.GetRequest(svc.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(msg))

	ctx, cancel := context.WithTimeout(ctx, svc.timeout)
	defer cancel()
	res, err := svc.api(ctx, req)
	if err != nil {
		return errors.Wrap(err, "calling sendgrid")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
