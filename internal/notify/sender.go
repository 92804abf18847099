package notify

import (
	"context"
)

// Message is a rendered notification ready for a channel.
type Message struct {
	To          string
	ToName      string
	Subject     string
	Body        string
	HTML        string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
