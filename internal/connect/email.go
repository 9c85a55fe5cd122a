package connect

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// SMTPConfig holds server settings for the email connector.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendFunc matches smtp.SendMail. Swappable in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailConnector sends mail for action steps through a configured SMTP
// server.
//
// Config keys: to (required, string or list), subject, from. The
// payload's "body" key becomes the message body.
type EmailConnector struct {
	config SMTPConfig
	send   sendFunc
}

// NewEmailConnector creates an email connector for the given server.
func NewEmailConnector(cfg SMTPConfig) *EmailConnector {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailConnector{config: cfg, send: smtp.SendMail}
}

func (c *EmailConnector) Invoke(ctx context.Context, config map[string]any, payload map[string]any) (any, error) {
	if c.config.Host == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "email: no SMTP host configured")
	}

	recipients, err := recipientList(config["to"])
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "email: to is required")
	}

	from := stringParam(config, "from", c.config.From)
	if from == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "email: no sender address configured")
	}
	subject := stringParam(config, "subject", "")
	body := stringParam(payload, "body", "")

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if c.config.Username != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
	}
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)

	done := make(chan error, 1)
	go func() {
		done <- c.send(addr, auth, from, recipients, []byte(msg.String()))
	}()
	select {
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeStepTimeout, "email: send cancelled").WithCause(ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStepExecution, "email: send failed").WithCause(err)
		}
	}

	return map[string]any{"sent": true, "recipients": recipients}, nil
}

func recipientList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, schema.NewError(schema.ErrCodeValidation, "email: to entries must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return v, nil
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "email: to must be a string or list")
	}
}
