// Package gmail implements the Gmail API mail channel.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/soyeahso/helpdesk/internal/channel"
	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

const (
	defaultQuery = "is:unread in:inbox"
	defaultPoll  = 60 * time.Second
	maxResults   = 25
	user         = "me"
)

// Channel polls a Gmail inbox and sends replies threaded to the original
// conversation.
type Channel struct {
	cfg config.GmailConfig
	log *logging.Logger
	svc *gmailapi.Service
	now func() time.Time

	mu        sync.RWMutex
	handler   domain.MessageHandler
	running   bool
	connected bool
	lastErr   string
	stop      context.CancelFunc
}

// New creates a Gmail channel authorized with the configured refresh token.
func New(ctx context.Context, cfg config.GmailConfig, log *logging.Logger) (*Channel, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailModifyScope, gmailapi.GmailSendScope},
	}
	httpClient := oc.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return NewWithOptions(ctx, cfg, log, option.WithHTTPClient(httpClient))
}

// NewWithOptions creates a Gmail channel with explicit API client options.
func NewWithOptions(ctx context.Context, cfg config.GmailConfig, log *logging.Logger, opts ...option.ClientOption) (*Channel, error) {
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	if cfg.Query == "" {
		cfg.Query = defaultQuery
	}
	return &Channel{
		cfg: cfg,
		log: log.Sub("gmail"),
		svc: svc,
		now: time.Now,
	}, nil
}

func (c *Channel) ID() string { return "gmail" }

func (c *Channel) OnMessage(handler domain.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: c.ID(),
		Connected: c.connected,
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// Start polls the inbox until ctx is cancelled or Stop is called.
func (c *Channel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.running = true
	c.stop = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	interval := defaultPoll
	if c.cfg.PollSeconds > 0 {
		interval = time.Duration(c.cfg.PollSeconds) * time.Second
	}
	c.log.Info().Str("query", c.cfg.Query).Dur("interval", interval).Msg("polling gmail")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("gmail poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends the poll loop.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
	}
	c.running = false
	return nil
}

// Poll lists matching messages once and hands the batch to the handler. A
// message loses its UNREAD label only after its handler succeeded, or when
// it cannot be parsed; the rest match the query again next poll.
func (c *Channel) Poll(ctx context.Context) error {
	list, err := c.svc.Users.Messages.List(user).Q(c.cfg.Query).MaxResults(maxResults).Context(ctx).Do()
	if err != nil {
		c.setErr(err)
		return fmt.Errorf("listing messages: %w", err)
	}
	c.setErr(nil)

	var (
		inbound []domain.Message
		ids     []string
	)
	for _, ref := range list.Messages {
		if ctx.Err() != nil {
			break
		}
		full, err := c.svc.Users.Messages.Get(user, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			c.log.Warn().Err(err).Str("id", ref.Id).Msg("failed to fetch message")
			continue
		}
		msg, err := toMessage(full)
		if err != nil {
			c.log.Warn().Err(err).Str("id", ref.Id).Msg("skipping unreadable message")
			c.markRead(ctx, ref.Id)
			continue
		}
		inbound = append(inbound, msg)
		ids = append(ids, ref.Id)
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	for i, ok := range channel.Deliver(ctx, handler, inbound) {
		if ok {
			c.markRead(ctx, ids[i])
		} else {
			c.log.Debug().Str("id", ids[i]).Msg("message left unread for retry")
		}
	}
	return ctx.Err()
}

// markRead removes the UNREAD label. It ignores ctx cancellation.
func (c *Channel) markRead(ctx context.Context, id string) {
	_, err := c.svc.Users.Messages.Modify(user, id, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(context.WithoutCancel(ctx)).Do()
	if err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("failed to mark message read")
	}
}

// toMessage converts a full-format Gmail message. The RFC Message-ID is
// preferred as the message id so replies can thread with In-Reply-To.
func toMessage(m *gmailapi.Message) (domain.Message, error) {
	if m.Payload == nil {
		return domain.Message{}, fmt.Errorf("message %s has no payload", m.Id)
	}
	var from, subject, messageID string
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			from = h.Value
		case "subject":
			subject = h.Value
		case "message-id":
			messageID = strings.Trim(h.Value, "<> ")
		}
	}
	if messageID == "" {
		messageID = m.Id
	}

	var received time.Time
	if m.InternalDate > 0 {
		received = time.UnixMilli(m.InternalDate).UTC()
	}

	return channel.ParseInbound(channel.Inbound{
		ID:         messageID,
		ChannelID:  "gmail",
		ThreadID:   m.ThreadId,
		From:       from,
		Subject:    subject,
		Body:       extractBody(m.Payload),
		ReceivedAt: received,
	})
}

// extractBody returns the first text/plain part, falling back to the first
// text/html part.
func extractBody(p *gmailapi.MessagePart) string {
	if text := findPart(p, "text/plain"); text != "" {
		return text
	}
	return findPart(p, "text/html")
}

func findPart(p *gmailapi.MessagePart, mimeType string) string {
	if p == nil {
		return ""
	}
	if p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
		if data, err := decodeData(p.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, part := range p.Parts {
		if text := findPart(part, mimeType); text != "" {
			return text
		}
	}
	return ""
}

func decodeData(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// Send delivers a reply in the original thread.
func (c *Channel) Send(ctx context.Context, reply domain.Reply) error {
	if !channel.ValidAddress(reply.To) {
		return fmt.Errorf("gmail: %w: %q", channel.ErrInvalidAddress, reply.To)
	}
	if !strings.Contains(reply.InReplyTo, "@") {
		// a bare Gmail id is not a Message-ID header
		reply.InReplyTo = ""
	}
	raw := channel.ComposeReply("", reply, c.now())
	msg := &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: reply.ThreadID,
	}
	if _, err := c.svc.Users.Messages.Send(user, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail send to %s: %w", reply.To, err)
	}
	c.log.Info().Str("to", reply.To).Str("thread", reply.ThreadID).Msg("reply sent")
	return nil
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
		c.connected = false
		return
	}
	c.lastErr = ""
	c.connected = true
}
