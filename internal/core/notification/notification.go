package notification

import "context"

// Attachment is a file sent along with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is an outbound notification to a buyer.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
