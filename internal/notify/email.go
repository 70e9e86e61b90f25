package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

const defaultFromName = "Central de Mensagens"

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

func (a Address) withDefaultName() Address {
	if a.Name == "" {
		a.Name = defaultFromName
	}
	return a
}

// EmailMessage is one e-mail addressed to every recipient in To.
type EmailMessage struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// EmailSender delivers an EmailMessage.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SESClient is the subset of *sesv2.Client used here.
type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SenderConfig selects a provider. Provider is auto, sendgrid, ses or stub;
// auto tries SendGrid first, then SES.
type SenderConfig struct {
	Provider       string
	SendGridAPIKey string
	SendGridFrom   Address
	SESFrom        Address
}

// NewEmailSender returns the configured provider, or a logging stub when the
// requested provider lacks credentials. ses may be nil.
func NewEmailSender(cfg SenderConfig, ses SESClient, logger *logging.Logger) EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.Component("email")

	sendgridOK := cfg.SendGridAPIKey != "" && cfg.SendGridFrom.Email != ""
	sesOK := ses != nil && cfg.SESFrom.Email != ""

	switch strings.ToLower(cfg.Provider) {
	case "stub":
	case "sendgrid":
		if sendgridOK {
			return newSendGridSender(cfg, logger)
		}
	case "ses":
		if sesOK {
			return &sesSender{client: ses, from: cfg.SESFrom.withDefaultName(), logger: logger}
		}
	default:
		if sendgridOK {
			return newSendGridSender(cfg, logger)
		}
		if sesOK {
			return &sesSender{client: ses, from: cfg.SESFrom.withDefaultName(), logger: logger}
		}
		logger.Warn("no e-mail provider configured, staff e-mails will only be logged")
	}
	return &logSender{logger: logger}
}

type sendgridSender struct {
	client *sendgrid.Client
	from   Address
	logger *logging.Logger
}

func newSendGridSender(cfg SenderConfig, logger *logging.Logger) *sendgridSender {
	return &sendgridSender{
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		from:   cfg.SendGridFrom.withDefaultName(),
		logger: logger,
	}
}

func (s *sendgridSender) Send(ctx context.Context, msg EmailMessage) error {
	if len(msg.To) == 0 {
		return nil
	}
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.from.Name, s.from.Email))
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("notify: sendgrid: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	s.logger.Info("staff e-mail sent", "provider", "sendgrid", "recipients", len(msg.To), "subject", msg.Subject)
	return nil
}

type sesSender struct {
	client SESClient
	from   Address
	logger *logging.Logger
}

func (s *sesSender) Send(ctx context.Context, msg EmailMessage) error {
	if len(msg.To) == 0 {
		return nil
	}
	body := &sestypes.Body{Text: utf8Content(msg.Text)}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from.String()),
		Destination:      &sestypes.Destination{ToAddresses: msg.To},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: ses: %w", err)
	}
	s.logger.Info("staff e-mail sent", "provider", "ses", "recipients", len(msg.To), "message_id", aws.ToString(out.MessageId))
	return nil
}

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

type logSender struct {
	logger *logging.Logger
}

func (s *logSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("staff e-mail not sent, no provider", "recipients", len(msg.To), "subject", msg.Subject)
	return nil
}
