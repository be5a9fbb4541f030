// notifier emails a digest whenever a sync cycle discovers assignments
// that were not there before.

package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"learnsync-backend/services/credstore"
	"learnsync-backend/services/normalizer"
)

type Config struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

type Mailer struct {
	cfg Config
}

func New(cfg Config) Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return Mailer{cfg: cfg}
}

// Enabled reports whether the mailer has somewhere to deliver to. A
// deployment without smtp config gets a silent no-op mailer.
func (m Mailer) Enabled() bool {
	return m.cfg.Host != "" && m.cfg.From != "" && len(m.cfg.To) > 0
}

func buildDigest(cred credstore.Credential, items []normalizer.Assignment) (subject, body string) {
	subject = fmt.Sprintf("[%s] %d new assignment(s)", cred.AccountId, len(items))

	var b strings.Builder
	fmt.Fprintf(&b, "New assignments found for %s:\n\n", cred.AccountId)
	for _, item := range items {
		fmt.Fprintf(&b, "- %s (%s)\n", item.Title, item.CourseName)
		fmt.Fprintf(&b, "  due %s, priority %s\n", item.DueDate.Format("2006-01-02 15:04"), item.Priority)
		if item.SubmissionUrl != "" {
			fmt.Fprintf(&b, "  %s\n", item.SubmissionUrl)
		}
	}
	return subject, b.String()
}

func (m Mailer) NotifyNewAssignments(ctx context.Context, cred credstore.Credential, items []normalizer.Assignment) error {
	if !m.Enabled() || len(items) == 0 {
		return nil
	}

	subject, body := buildDigest(cred, items)
	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = m.cfg.To
	e.Subject = subject
	e.Text = []byte(body)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return e.Send(fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port), auth)
}
