package email

import (
	"errors"
	"net/smtp"
	"os"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("bot@example.com", "alice@example.com", "📚 Read\r\nBcc: evil@example.com", `Finish <chapter> "3"`))

	headers, body, found := strings.Cut(msg, "\r\n\r\n")
	require.True(t, found)

	assert.Equal(t, []string{
		"From: bot@example.com",
		"To: alice@example.com",
		"Subject: Reminder: 📚 Read  Bcc: evil@example.com",
		"MIME-version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
	}, strings.Split(headers, "\r\n"))
	assert.Contains(t, body, "Finish &lt;chapter&gt; &#34;3&#34;")
}

func TestSendReminder(t *testing.T) {
	s := NewSender("bot@example.com", "secret")

	var gotAddr, gotFrom string
	var gotTo []string
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo = addr, from, to
		return nil
	}

	require.NoError(t, s.SendReminder("alice@example.com", "Read", "Time to read"))
	assert.Equal(t, "smtp.gmail.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"alice@example.com"}, gotTo)

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay down") }
	assert.ErrorContains(t, s.SendReminder("alice@example.com", "Read", "x"), "relay down")
	assert.Error(t, s.SendReminder(" ", "Read", "x"))
}

// TestSendReminderLive sends a real email. It needs SMTP_EMAIL,
// SMTP_PASSWORD and TEST_EMAIL_TO in the environment or the repo's .env file.
func TestSendReminderLive(t *testing.T) {
	_ = godotenv.Load("../../../../.env")
	from, password, to := os.Getenv("SMTP_EMAIL"), os.Getenv("SMTP_PASSWORD"), os.Getenv("TEST_EMAIL_TO")
	if from == "" || password == "" || to == "" {
		t.Skip("SMTP credentials not set")
	}

	s := NewSender(from, password)
	require.NoError(t, s.Verify())
	assert.NoError(t, s.SendReminder(to, "✅ Test goal", "Still messing around? Better hop to it!"))
}
