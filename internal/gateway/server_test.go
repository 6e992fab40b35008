package gateway

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/events"
	"github.com/soyeahso/helpdesk/internal/logging"
)

// dialAndConnect opens /ws and completes the handshake with token.
func dialAndConnect(t *testing.T, env *testEnv, token string) (*websocket.Conn, Frame) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, FrameTypeEvent, challenge.Type)
	require.Equal(t, "connect.challenge", challenge.Event)

	req, err := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "console", Operator: "sam", Version: "1.0.0"},
		Auth:        &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	return conn, hello
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeResponse && f.ID == id {
			return f
		}
	}
}

func TestWebSocketHandshake(t *testing.T) {
	env := newTestEnv(t)
	_, hello := dialAndConnect(t, env, testToken)

	assert.Equal(t, FrameTypeResponse, hello.Type)
	assert.Equal(t, "req-1", hello.ID)
	require.NotNil(t, hello.OK)
	require.True(t, *hello.OK)

	var payload HelloOK
	require.NoError(t, json.Unmarshal(hello.Payload, &payload))
	assert.Equal(t, ProtocolVersion, payload.Protocol)
	assert.NotEmpty(t, payload.Server.ConnID)
	assert.Equal(t, []string{"escalations.list", "escalations.update", "health", "support.process"}, payload.Features.Methods)
	assert.Contains(t, payload.Features.Events, events.EventEscalationCreated)

	assert.Eventually(t, func() bool { return env.srv.clients.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWebSocketHandshake_BadToken(t *testing.T) {
	env := newTestEnv(t)
	_, resp := dialAndConnect(t, env, "wrong")

	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnauthorized, resp.Error.Code)
	assert.Equal(t, 0, env.srv.clients.Count())
}

func TestRPC_Health(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := dialAndConnect(t, env, testToken)

	res := call(t, conn, "h1", "health", nil)
	require.True(t, *res.OK)
	var h HealthResponse
	require.NoError(t, json.Unmarshal(res.Payload, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Clients)
	assert.NotEmpty(t, h.Version)
}

func TestRPC_UnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := dialAndConnect(t, env, testToken)

	res := call(t, conn, "x1", "config.set", nil)
	require.False(t, *res.OK)
	assert.Equal(t, CodeMethodNotFound, res.Error.Code)
}

func TestRPC_SupportProcess(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := dialAndConnect(t, env, testToken)

	res := call(t, conn, "p1", "support.process", MessageRequest{
		From:    "jane@example.com",
		Subject: "Where is my order?",
		Body:    "Order #12345",
	})
	require.True(t, *res.OK)
	var out domain.Response
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	assert.Equal(t, "Your order has shipped.", out.Text)

	res = call(t, conn, "p2", "support.process", MessageRequest{From: "bad", Body: "x"})
	require.False(t, *res.OK)
	assert.Equal(t, CodeInvalidParams, res.Error.Code)
}

func TestRPC_Escalations(t *testing.T) {
	env := newTestEnv(t)
	esc := env.seedEscalation(t, "i-1")
	conn, _ := dialAndConnect(t, env, testToken)

	res := call(t, conn, "l1", "escalations.list", EscalationListParams{Status: "pending"})
	require.True(t, *res.OK)
	var list []domain.EscalationRecord
	require.NoError(t, json.Unmarshal(res.Payload, &list))
	require.Len(t, list, 1)

	res = call(t, conn, "u1", "escalations.update", map[string]string{"id": esc.ID, "assignedTo": "sam"})
	require.True(t, *res.OK)
	var updated domain.EscalationRecord
	require.NoError(t, json.Unmarshal(res.Payload, &updated))
	assert.Equal(t, "sam", updated.AssignedTo)
	assert.Equal(t, domain.EscalationAssigned, updated.Status)

	res = call(t, conn, "u2", "escalations.update", map[string]string{"id": "missing", "status": "resolved"})
	require.False(t, *res.OK)
	assert.Equal(t, CodeNotFound, res.Error.Code)
}

func TestBroadcast_EscalationCreated(t *testing.T) {
	bus := events.NewBus(logging.Nop())
	env := newTestEnv(t, WithEvents(bus))
	conn, _ := dialAndConnect(t, env, testToken)
	require.Eventually(t, func() bool { return env.srv.clients.Count() == 1 }, time.Second, 5*time.Millisecond)

	esc := &domain.EscalationRecord{ID: "e-1", InteractionID: "i-1", Reason: domain.ReasonExplicitComplaint, Priority: domain.PriorityHigh}
	bus.Emit(context.Background(), events.Payload{Event: events.EventEscalationCreated, Escalation: esc})

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameTypeEvent, f.Type)
	assert.Equal(t, events.EventEscalationCreated, f.Event)
	assert.Equal(t, int64(1), f.Seq)

	var got domain.EscalationRecord
	require.NoError(t, json.Unmarshal(f.Payload, &got))
	assert.Equal(t, "e-1", got.ID)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.ServerConfig
		want string
	}{
		{config.ServerConfig{Port: 8088}, "127.0.0.1:8088"},
		{config.ServerConfig{Port: 8088, Bind: "loopback"}, "127.0.0.1:8088"},
		{config.ServerConfig{Port: 9000, Bind: "lan"}, "0.0.0.0:9000"},
		{config.ServerConfig{Port: 9000, Bind: "custom", CustomBindHost: "10.0.0.5"}, "10.0.0.5:9000"},
		{config.ServerConfig{Port: 9000, Bind: "custom"}, "0.0.0.0:9000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
