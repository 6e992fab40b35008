package domain

import (
	"strings"
	"time"
)

// Message is one inbound customer-support message. It is immutable once
// handed to the orchestrator.
type Message struct {
	ID         string    `json:"id,omitempty"` // transport-level id (email Message-ID, Gmail id)
	ChannelID  string    `json:"channelId,omitempty"`
	ThreadID   string    `json:"threadId,omitempty"`
	From       string    `json:"from"`
	FromName   string    `json:"fromName,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Text returns the subject and body joined the way prompts and the cache see them.
func (m Message) Text() string {
	if m.Subject == "" {
		return m.Body
	}
	return m.Subject + "\n\n" + m.Body
}

// Response is what a processing run hands back to the transport.
type Response struct {
	InteractionID    string           `json:"interactionId"`
	Text             string           `json:"responseText"`
	Intent           Intent           `json:"intent"`
	Tier             Tier             `json:"tierUsed"`
	Escalated        bool             `json:"escalated"`
	EscalationReason EscalationReason `json:"escalationReason,omitempty"`
	Cached           bool             `json:"cached,omitempty"`
}

// Reply is an outbound message addressed back to a customer.
type Reply struct {
	ChannelID string `json:"channelId"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InReplyTo string `json:"inReplyTo,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// ReplyTo builds the reply for an inbound message.
func ReplyTo(msg Message, body string) Reply {
	subject := msg.Subject
	if subject == "" {
		subject = "Your support request"
	}
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	return Reply{
		ChannelID: msg.ChannelID,
		To:        msg.From,
		Subject:   subject,
		Body:      body,
		InReplyTo: msg.ID,
		ThreadID:  msg.ThreadID,
	}
}
