package utils

import (
	"RetinaTrack/config"
	"RetinaTrack/models"
	"fmt"
	"html"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Mailer sends the account and follow-up emails.
type Mailer interface {
	SendResetCode(email, code string) error
	SendFollowUpReminder(email string, followUps []models.FollowUp) error
}

// NewMailer returns an SMTP mailer, or one that only logs when no SMTP host
// is configured.
func NewMailer(cfg config.SMTPConfig, log logrus.FieldLogger) Mailer {
	if cfg.Host == "" {
		return &logMailer{log: log.WithField("mailer", "log")}
	}
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &smtpMailer{
		from:   from,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

type smtpMailer struct {
	from   string
	dialer *gomail.Dialer
}

func (m *smtpMailer) SendResetCode(email, code string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "Código de restablecimiento de contraseña")
	msg.SetBody("text/plain", "Su código de restablecimiento es: "+code)
	msg.AddAlternative("text/html", resetCodeHTML(code))
	return m.dialer.DialAndSend(msg)
}

func (m *smtpMailer) SendFollowUpReminder(email string, followUps []models.FollowUp) error {
	if len(followUps) == 0 {
		return nil
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", fmt.Sprintf("Seguimientos pendientes (%d)", len(followUps)))
	msg.SetBody("text/plain", followUpText(followUps))
	return m.dialer.DialAndSend(msg)
}

type logMailer struct {
	log logrus.FieldLogger
}

func (m *logMailer) SendResetCode(email, code string) error {
	m.log.WithField("to", email).Info("smtp not configured, reset code not sent")
	return nil
}

func (m *logMailer) SendFollowUpReminder(email string, followUps []models.FollowUp) error {
	m.log.WithFields(logrus.Fields{"to": email, "count": len(followUps)}).
		Info("smtp not configured, follow-up reminder not sent")
	return nil
}

func followUpText(followUps []models.FollowUp) string {
	var b strings.Builder
	b.WriteString("Los siguientes pacientes tienen revisión pendiente:\n\n")
	for _, f := range followUps {
		fmt.Fprintf(&b, "- %s (%s): revisión %s\n", f.PatientName, f.Severity, f.NextReviewDate.Format("2006-01-02"))
	}
	return b.String()
}

func resetCodeHTML(code string) string {
	return `<!DOCTYPE html>
<html>
<head>
	<title>Restablecer contraseña</title>
	<style>
		body { font-family: Arial, sans-serif; background-color: #f4f4f4; margin: 0; padding: 0; }
		.container { background-color: #ffffff; margin: 20px auto; padding: 20px; border-radius: 8px; max-width: 600px; }
		h1 { color: #1e3a8a; }
		p { color: #666666; }
		.code { font-weight: bold; color: #2563eb; font-size: 20px; }
	</style>
</head>
<body>
	<div class="container">
		<h1>Sistema DMRE</h1>
		<p>Su código de restablecimiento es:</p>
		<p class="code">` + html.EscapeString(code) + `</p>
		<p>Si usted no solicitó el cambio, ignore este correo.</p>
	</div>
</body>
</html>`
}
