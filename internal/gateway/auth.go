package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/soyeahso/helpdesk/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token" | "password"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth resolves operator credentials from config and environment.
// Precedence: config value, then HELPDESK_SERVER_TOKEN / HELPDESK_SERVER_PASSWORD.
func ResolveAuth(cfg config.ServerAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Token == "" {
		auth.Token = os.Getenv("HELPDESK_SERVER_TOKEN")
	}
	if auth.Password == "" {
		auth.Password = os.Getenv("HELPDESK_SERVER_PASSWORD")
	}
	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = "password"
		} else {
			auth.Mode = "token"
		}
	}
	return auth
}

// Authorize checks the provided ConnectAuth against the resolved server auth.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if clientAuth == nil {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}

	switch serverAuth.Mode {
	case "token":
		if serverAuth.Token == "" {
			return AuthResult{OK: false, Reason: "server token not configured"}
		}
		if clientAuth.Token == "" {
			return AuthResult{OK: false, Reason: "token required"}
		}
		if !safeEqual(clientAuth.Token, serverAuth.Token) {
			return AuthResult{OK: false, Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: "token"}

	case "password":
		if serverAuth.Password == "" {
			return AuthResult{OK: false, Reason: "server password not configured"}
		}
		if clientAuth.Password == "" {
			return AuthResult{OK: false, Reason: "password required"}
		}
		if !safeEqual(clientAuth.Password, serverAuth.Password) {
			return AuthResult{OK: false, Reason: "password_mismatch"}
		}
		return AuthResult{OK: true, Method: "password"}

	default:
		return AuthResult{OK: false, Reason: "unknown auth mode: " + serverAuth.Mode}
	}
}

// credentialsFromRequest reads HTTP credentials. A bearer value is offered as
// both token and password so one header works in either mode; basic auth
// supplies the password.
func credentialsFromRequest(r *http.Request) *ConnectAuth {
	if _, pw, ok := r.BasicAuth(); ok {
		return &ConnectAuth{Password: pw}
	}
	h := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil
	}
	value = strings.TrimSpace(value)
	return &ConnectAuth{Token: value, Password: value}
}

// safeEqual performs a constant-time string comparison.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authThrottle limits failed authentication attempts per client IP. Each
// failure spends a token from the IP's bucket; the bucket refills at
// authRateMaxFails per authRateWindow.
type authThrottle struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	every    rate.Limit
	burst    int
	now      func() time.Time
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastFail time.Time
}

func newAuthThrottle(window time.Duration, maxFails int) *authThrottle {
	return &authThrottle{
		limiters: make(map[string]*ipLimiter),
		every:    rate.Every(window / time.Duration(maxFails)),
		burst:    maxFails,
		now:      time.Now,
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// allow reports whether the IP still has failed attempts left.
func (t *authThrottle) allow(remoteAddr string) bool {
	ip := clientIP(remoteAddr)
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[ip]
	if !ok {
		return true
	}
	return l.lim.TokensAt(t.now()) >= 1
}

// recordFailure spends one attempt for the IP.
func (t *authThrottle) recordFailure(remoteAddr string) {
	ip := clientIP(remoteAddr)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[ip]
	if !ok {
		if len(t.limiters) >= authRateMaxIPs {
			t.evictOldest()
		}
		l = &ipLimiter{lim: rate.NewLimiter(t.every, t.burst)}
		t.limiters[ip] = l
	}
	l.lim.AllowN(now, 1)
	l.lastFail = now
}

func (t *authThrottle) evictOldest() {
	var (
		oldestIP string
		oldest   time.Time
	)
	for ip, l := range t.limiters {
		if oldestIP == "" || l.lastFail.Before(oldest) {
			oldestIP, oldest = ip, l.lastFail
		}
	}
	delete(t.limiters, oldestIP)
}

// prune drops IPs whose bucket has fully refilled.
func (t *authThrottle) prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-authRateWindow)
	for ip, l := range t.limiters {
		if l.lastFail.Before(cutoff) {
			delete(t.limiters, ip)
		}
	}
}

func (t *authThrottle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
