package domain

import "context"

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// MessageHandler handles one inbound message. A nil error means the message
// is finished and the channel may mark it read; on error it stays unread and
// is delivered again on a later poll.
type MessageHandler func(ctx context.Context, msg Message) error

// Channel is a customer-facing transport (mailbox, webhook, ...).
type Channel interface {
	// ID returns the channel identifier (e.g., "imap", "gmail").
	ID() string

	// Start connects the channel and begins polling for messages.
	Start(ctx context.Context) error

	// Stop gracefully disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers a reply through this channel.
	Send(ctx context.Context, reply Reply) error

	// OnMessage registers a handler for inbound messages.
	OnMessage(handler MessageHandler)
}
