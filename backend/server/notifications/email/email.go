package email

import (
	"fmt"
	"html"
	"net/smtp"
	"strings"
)

const (
	defaultSMTPHost = "smtp.gmail.com"
	defaultSMTPPort = "587"
)

// sendFunc matches smtp.SendMail so tests can capture outgoing mail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Sender delivers reminder emails through an SMTP relay.
type Sender struct {
	addr string
	from string
	auth smtp.Auth
	send sendFunc
}

// NewSender creates a Sender that authenticates with the sender's address
// and password against Gmail's submission port.
func NewSender(sender, password string) *Sender {
	return &Sender{
		addr: defaultSMTPHost + ":" + defaultSMTPPort,
		from: sender,
		auth: smtp.PlainAuth("", sender, password, defaultSMTPHost),
		send: smtp.SendMail,
	}
}

// Verify dials the SMTP server to check that it is reachable.
func (s *Sender) Verify() error {
	c, err := smtp.Dial(s.addr)
	if err != nil {
		return fmt.Errorf("cannot connect to the SMTP server: %w", err)
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("cannot close the SMTP connection: %w", err)
	}
	return nil
}

// SendReminder emails one goal reminder to the given address.
func (s *Sender) SendReminder(to, title, body string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("failed to send email: empty recipient")
	}
	msg := buildMessage(s.from, to, title, body)
	if err := s.send(s.addr, s.auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// buildMessage renders the headers and the HTML body of a reminder email.
func buildMessage(from, to, title, body string) []byte {
	headers := [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", "Reminder: " + stripNewlines(title)},
		{"MIME-version", "1.0"},
		{"Content-Type", "text/html; charset=\"UTF-8\""},
	}

	var b strings.Builder
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	b.WriteString(`<html>
	<body style="font-family: sans-serif;">
		<div style="max-width: 600px; margin: 0 auto; padding: 10px;">
			<h1>` + html.EscapeString(title) + `</h1>
			<p>` + html.EscapeString(body) + `</p>
		</div>
	</body>
</html>
`)
	return []byte(b.String())
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
