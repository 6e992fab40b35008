// Package mailbox implements the IMAP/SMTP mail channel using go-imap.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/soyeahso/helpdesk/internal/channel"
	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

const (
	defaultIMAPPort = 993
	defaultSMTPPort = 587
	defaultPoll     = 60 * time.Second
	fetchBatch      = 25
)

// Channel polls an IMAP mailbox for unseen mail and replies over SMTP.
type Channel struct {
	cfg config.IMAPConfig
	log *logging.Logger

	// overridable in tests
	dial     func(addr string) (*client.Client, error)
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time

	mu        sync.RWMutex
	handler   domain.MessageHandler
	running   bool
	connected bool
	lastErr   string
	stop      context.CancelFunc
}

// New creates a mailbox channel from configuration.
func New(cfg config.IMAPConfig, log *logging.Logger) *Channel {
	if cfg.Port == 0 {
		cfg.Port = defaultIMAPPort
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = defaultSMTPPort
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	c := &Channel{
		cfg:      cfg,
		log:      log.Sub("imap"),
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
	c.dial = func(addr string) (*client.Client, error) {
		return client.DialTLS(addr, &tls.Config{ServerName: cfg.Host})
	}
	return c
}

func (c *Channel) ID() string { return "imap" }

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

// Start polls the mailbox until ctx is cancelled or Stop is called.
func (c *Channel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.running = true
	c.lastErr = ""
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

	c.log.Info().
		Str("host", c.cfg.Host).
		Int("port", c.cfg.Port).
		Str("mailbox", c.cfg.Mailbox).
		Dur("interval", interval).
		Msg("polling mailbox")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("mailbox poll failed")
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
		c.log.Info().Msg("stopping mailbox poller")
		c.stop()
	}
	c.running = false
	return nil
}

// Poll fetches unseen messages once and hands the batch to the handler.
// A message is marked seen only once its handler succeeded, or when it
// cannot be parsed at all; everything else is fetched again next poll.
func (c *Channel) Poll(ctx context.Context) error {
	cl, err := c.connect()
	if err != nil {
		c.setErr(err)
		return err
	}
	defer cl.Logout()

	if _, err := cl.Select(c.cfg.Mailbox, false); err != nil {
		err = fmt.Errorf("selecting %s: %w", c.cfg.Mailbox, err)
		c.setErr(err)
		return err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := cl.UidSearch(criteria)
	if err != nil {
		err = fmt.Errorf("searching unseen: %w", err)
		c.setErr(err)
		return err
	}
	c.setErr(nil)
	if len(uids) == 0 {
		return nil
	}
	if len(uids) > fetchBatch {
		uids = uids[:fetchBatch]
	}
	c.log.Debug().Int("count", len(uids)).Msg("unseen messages")

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, fetchBatch)
	done := make(chan error, 1)
	go func() {
		done <- cl.UidFetch(seqset, items, messages)
	}()

	var (
		inbound []domain.Message
		pending []uint32
		seen    = new(imap.SeqSet)
	)
	for m := range messages {
		msg, err := c.toMessage(m)
		if err != nil {
			c.log.Warn().Err(err).Uint32("uid", m.Uid).Msg("skipping unreadable message")
			seen.AddNum(m.Uid)
			continue
		}
		inbound = append(inbound, msg)
		pending = append(pending, m.Uid)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	finished := channel.Deliver(ctx, handler, inbound)
	for i, ok := range finished {
		if ok {
			seen.AddNum(pending[i])
		} else {
			c.log.Debug().Uint32("uid", pending[i]).Msg("message left unseen for retry")
		}
	}

	if !seen.Empty() {
		flags := []interface{}{imap.SeenFlag}
		if err := cl.UidStore(seen, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			c.log.Warn().Err(err).Msg("failed to mark messages seen")
		}
	}
	return ctx.Err()
}

func (c *Channel) connect() (*client.Client, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	cl, err := c.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}
	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		cl.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return cl, nil
}

// toMessage converts a fetched IMAP message into a domain message.
func (c *Channel) toMessage(m *imap.Message) (domain.Message, error) {
	if m.Envelope == nil {
		return domain.Message{}, errors.New("message has no envelope")
	}

	var body string
	for _, lit := range m.Body {
		if lit == nil {
			continue
		}
		mr, err := mail.ReadMessage(lit)
		if err != nil {
			return domain.Message{}, fmt.Errorf("reading message: %w", err)
		}
		body, err = channel.ReadBody(mr.Header, mr.Body)
		if err != nil {
			return domain.Message{}, fmt.Errorf("reading body: %w", err)
		}
		break
	}

	from := ""
	if len(m.Envelope.From) > 0 {
		a := m.Envelope.From[0]
		from = a.Address()
		if a.PersonalName != "" {
			from = fmt.Sprintf("%s <%s>", a.PersonalName, a.Address())
		}
	}

	received := m.InternalDate
	if received.IsZero() {
		received = m.Envelope.Date
	}

	return channel.ParseInbound(channel.Inbound{
		ID:         strings.Trim(m.Envelope.MessageId, "<>"),
		ChannelID:  c.ID(),
		From:       from,
		Subject:    m.Envelope.Subject,
		Body:       body,
		ReceivedAt: received,
	})
}

// Send delivers a reply over SMTP.
func (c *Channel) Send(ctx context.Context, reply domain.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !channel.ValidAddress(reply.To) {
		return fmt.Errorf("smtp: %w: %q", channel.ErrInvalidAddress, reply.To)
	}

	addr := net.JoinHostPort(c.cfg.SMTPHost, strconv.Itoa(c.cfg.SMTPPort))
	var auth smtp.Auth
	if c.cfg.Password != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	}

	raw := channel.ComposeReply(c.cfg.From, reply, c.now())
	if err := c.sendMail(addr, auth, c.cfg.From, []string{reply.To}, raw); err != nil {
		return fmt.Errorf("smtp send to %s: %w", reply.To, err)
	}
	c.log.Info().Str("to", reply.To).Msg("reply sent")
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
