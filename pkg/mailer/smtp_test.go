package mailer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestSendNotConfigured(t *testing.T) {
	err := NewSMTP(Config{}, nil).Send(Message{To: "a@example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendBuildsMessage(t *testing.T) {
	f := &fakeSender{}
	s := NewSMTP(Config{Host: "smtp.example.com", Port: 587, FromAddress: "noreply@example.com", FromName: "Course Market"}, nil)
	s.dialer = f

	err := s.Send(Message{
		To:          "student@example.com",
		Subject:     "Your purchase",
		HTML:        "<p>thanks</p>",
		Attachments: []Attachment{{Name: "receipt.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.3")}},
	})
	require.NoError(t, err)
	require.Len(t, f.sent, 1)

	var buf bytes.Buffer
	_, err = f.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "To: student@example.com")
	assert.Contains(t, raw, "Subject: Your purchase")
	assert.Contains(t, raw, "receipt.pdf")
}

func TestSendWrapsTransportError(t *testing.T) {
	s := NewSMTP(Config{Host: "smtp.example.com", FromAddress: "noreply@example.com"}, nil)
	s.dialer = &fakeSender{err: errors.New("535 auth failed")}
	err := s.Send(Message{To: "a@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535")
}
