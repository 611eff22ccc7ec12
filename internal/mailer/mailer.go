package mailer

import (
	"context"
	"errors"
)

var (
	ErrInvalidConfig     = errors.New("invalid mail configuration")
	ErrFailedToSendEmail = errors.New("failed to send email")
)

// Message is a fully rendered transactional email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	Tag      string
}

// Mailer dispatches rendered messages through a transactional provider.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
