package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/helpdesk/internal/config"
)

func TestResolveAuth(t *testing.T) {
	t.Setenv("HELPDESK_SERVER_TOKEN", "")
	t.Setenv("HELPDESK_SERVER_PASSWORD", "")

	auth := ResolveAuth(config.ServerAuth{Token: "cfg-token"})
	assert.Equal(t, "token", auth.Mode)
	assert.Equal(t, "cfg-token", auth.Token)

	t.Setenv("HELPDESK_SERVER_PASSWORD", "env-pass")
	auth = ResolveAuth(config.ServerAuth{})
	assert.Equal(t, "password", auth.Mode)
	assert.Equal(t, "env-pass", auth.Password)

	t.Setenv("HELPDESK_SERVER_TOKEN", "env-token")
	auth = ResolveAuth(config.ServerAuth{Mode: "token", Token: "cfg-token"})
	assert.Equal(t, "cfg-token", auth.Token)
}

func TestAuthorize(t *testing.T) {
	tokenAuth := ResolvedAuth{Mode: "token", Token: "secret"}
	passAuth := ResolvedAuth{Mode: "password", Password: "hunter2"}

	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		reason string
	}{
		{"no credentials", tokenAuth, nil, false, "no credentials provided"},
		{"token ok", tokenAuth, &ConnectAuth{Token: "secret"}, true, ""},
		{"token missing", tokenAuth, &ConnectAuth{}, false, "token required"},
		{"token mismatch", tokenAuth, &ConnectAuth{Token: "secreT"}, false, "token_mismatch"},
		{"token prefix", tokenAuth, &ConnectAuth{Token: "secret-longer"}, false, "token_mismatch"},
		{"server token unset", ResolvedAuth{Mode: "token"}, &ConnectAuth{Token: "x"}, false, "server token not configured"},
		{"password ok", passAuth, &ConnectAuth{Password: "hunter2"}, true, ""},
		{"password mismatch", passAuth, &ConnectAuth{Password: "nope"}, false, "password_mismatch"},
		{"unknown mode", ResolvedAuth{Mode: "oauth"}, &ConnectAuth{Token: "x"}, false, "unknown auth mode: oauth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	assert.Nil(t, credentialsFromRequest(r))

	r.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, &ConnectAuth{Token: "abc", Password: "abc"}, credentialsFromRequest(r))

	r.Header.Set("Authorization", "Token abc")
	assert.Nil(t, credentialsFromRequest(r))

	r.Header.Del("Authorization")
	r.SetBasicAuth("ops", "pw")
	assert.Equal(t, &ConnectAuth{Password: "pw"}, credentialsFromRequest(r))
}

func TestAuthThrottle(t *testing.T) {
	now := time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC)
	th := newAuthThrottle(5*time.Minute, 3)
	th.now = func() time.Time { return now }

	assert.True(t, th.allow("10.0.0.1:5000"))
	for i := 0; i < 3; i++ {
		th.recordFailure("10.0.0.1:5000")
	}
	assert.False(t, th.allow("10.0.0.1:6000"), "port is ignored")
	assert.True(t, th.allow("10.0.0.2:5000"))

	// one attempt refills every window/maxFails
	now = now.Add(150 * time.Second)
	assert.True(t, th.allow("10.0.0.1:5000"))

	now = now.Add(authRateWindow)
	th.prune()
	assert.Equal(t, 0, th.size())
}
