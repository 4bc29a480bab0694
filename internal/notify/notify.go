// Package notify avisa al operador de fallas workflow-fatal por email.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	mail "github.com/go-mail/mail"
)

// SMTPNotifier envía un mail por cada run que agota sus retries. Implementa
// workflow.Notifier; la falla del envío se loguea y no se propaga (el run
// ya quedó failed en el store).
type SMTPNotifier struct {
	Host               string
	Port               int
	From               string
	To                 string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

func (n *SMTPNotifier) WorkflowFailed(ctx context.Context, runKey string, ferr error) {
	log := logger.From(ctx).With(
		logger.Component("SMTPNotifier"),
		logger.RunKey(runKey),
	)

	subject := fmt.Sprintf("[flocksync] workflow failed: %s", runKey)
	body := fmt.Sprintf(
		"El run %s agotó sus reintentos a las %s.\n\nError:\n%v\n",
		runKey, time.Now().UTC().Format(time.RFC3339), ferr,
	)

	m := mail.NewMessage()
	m.SetHeader("From", n.From)
	m.SetHeader("To", n.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := mail.NewDialer(n.Host, n.Port, n.User, n.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         n.Host,
		InsecureSkipVerify: n.InsecureSkipVerify, // solo dev
	}
	switch n.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: n.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si corresponde
	}

	if err := d.DialAndSend(m); err != nil {
		log.Error("operator alert not delivered", logger.Err(err))
		return
	}
	log.Info("operator alerted")
}

// LogNotifier es el fallback cuando SMTP está deshabilitado: la falla
// terminal al menos queda en el log estructurado.
type LogNotifier struct{}

func (LogNotifier) WorkflowFailed(ctx context.Context, runKey string, ferr error) {
	logger.From(ctx).Error("workflow failed terminally",
		logger.RunKey(runKey), logger.Err(ferr))
}
