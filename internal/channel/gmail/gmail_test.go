package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

type fakeGmail struct {
	mu       sync.Mutex
	query    string
	modified []string
	sent     []gmailapi.Message
}

func (f *fakeGmail) handler(t *testing.T) http.Handler {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.Query().Get("q")
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "m1", "threadId": "t1"}},
		})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "m1",
			"threadId":     "t1",
			"internalDate": "1717491600000",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "From", "value": "Priya Patel <priya.n@example.com>"},
					{"name": "Subject", "value": "Return policy"},
					{"name": "Message-ID", "value": "<xyz@mail.gmail.com>"},
				},
				"parts": []map[string]any{
					{"mimeType": "text/html", "body": map[string]any{"data": enc("<p>html</p>")}},
					{"mimeType": "text/plain", "body": map[string]any{"data": enc("How long do I have to return a jacket?")}},
				},
			},
		})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/m1/modify", func(w http.ResponseWriter, r *http.Request) {
		var req gmailapi.ModifyMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.modified = append(f.modified, req.RemoveLabelIds...)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "m1"})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var msg gmailapi.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		f.mu.Lock()
		f.sent = append(f.sent, msg)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "sent-1", "threadId": msg.ThreadId})
	})
	return mux
}

func newTestChannel(t *testing.T) (*Channel, *fakeGmail) {
	fake := &fakeGmail{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewWithOptions(context.Background(), config.GmailConfig{}, logging.Nop(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return c, fake
}

func TestPoll(t *testing.T) {
	c, fake := newTestChannel(t)

	var got []domain.Message
	c.OnMessage(func(_ context.Context, msg domain.Message) error {
		got = append(got, msg)
		return nil
	})

	require.NoError(t, c.Poll(context.Background()))
	require.Len(t, got, 1)

	msg := got[0]
	assert.Equal(t, "xyz@mail.gmail.com", msg.ID)
	assert.Equal(t, "gmail", msg.ChannelID)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "priya.n@example.com", msg.From)
	assert.Equal(t, "Priya Patel", msg.FromName)
	assert.Equal(t, "How long do I have to return a jacket?", msg.Body)
	assert.Equal(t, int64(1717491600000), msg.ReceivedAt.UnixMilli())

	assert.Equal(t, defaultQuery, fake.query)
	assert.Equal(t, []string{"UNREAD"}, fake.modified)
	assert.True(t, c.Status().Connected)
}

func TestPoll_FailedHandlerLeavesMessageUnread(t *testing.T) {
	c, fake := newTestChannel(t)

	attempts := 0
	c.OnMessage(func(context.Context, domain.Message) error {
		attempts++
		if attempts == 1 {
			return errors.New("persistence failure")
		}
		return nil
	})

	require.NoError(t, c.Poll(context.Background()))
	assert.Equal(t, 1, attempts)
	fake.mu.Lock()
	assert.Empty(t, fake.modified)
	fake.mu.Unlock()

	require.NoError(t, c.Poll(context.Background()))
	assert.Equal(t, 2, attempts)
	fake.mu.Lock()
	assert.Equal(t, []string{"UNREAD"}, fake.modified)
	fake.mu.Unlock()
}

func TestPoll_NoHandlerLeavesMessageUnread(t *testing.T) {
	c, fake := newTestChannel(t)
	require.NoError(t, c.Poll(context.Background()))
	assert.Empty(t, fake.modified)
}

func TestSend_Threaded(t *testing.T) {
	c, fake := newTestChannel(t)

	err := c.Send(context.Background(), domain.Reply{
		ChannelID: "gmail",
		To:        "priya.n@example.com",
		Subject:   "Return policy",
		Body:      "Hi Priya,\n\n30 days.",
		InReplyTo: "xyz@mail.gmail.com",
		ThreadID:  "t1",
	})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "t1", fake.sent[0].ThreadId)

	raw, err := base64.URLEncoding.DecodeString(fake.sent[0].Raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "In-Reply-To: <xyz@mail.gmail.com>")
	assert.Contains(t, string(raw), "Subject: Re: Return policy")
	assert.NotContains(t, string(raw), "From:")
}

func TestSend_DropsBareGmailID(t *testing.T) {
	c, fake := newTestChannel(t)
	require.NoError(t, c.Send(context.Background(), domain.Reply{To: "a@example.com", InReplyTo: "m1"}))
	raw, err := base64.URLEncoding.DecodeString(fake.sent[0].Raw)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "In-Reply-To")
}

func TestExtractBody_HTMLFallback(t *testing.T) {
	p := &gmailapi.MessagePart{
		MimeType: "text/html",
		Body:     &gmailapi.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("<b>hello</b>"))},
	}
	assert.Equal(t, "<b>hello</b>", extractBody(p))
}
