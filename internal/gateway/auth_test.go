package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/callbridge/internal/config"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "wrong"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
}

func clearAuthEnv(t *testing.T) {
	t.Setenv(envGatewayToken, "")
	t.Setenv(envGatewayPassword, "")
}

func TestResolveAuth_ModeSelection(t *testing.T) {
	clearAuthEnv(t)
	tests := []struct {
		name string
		cfg  config.GatewayAuth
		want string
	}{
		{"explicit token", config.GatewayAuth{Mode: "token", Token: "t"}, "token"},
		{"explicit none ignores secrets", config.GatewayAuth{Mode: "none", Token: "t"}, "none"},
		{"token implies token mode", config.GatewayAuth{Token: "t"}, "token"},
		{"password wins over token", config.GatewayAuth{Token: "t", Password: "p"}, "password"},
		{"nothing configured", config.GatewayAuth{}, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveAuth(tt.cfg).Mode)
		})
	}
}

func TestResolveAuth_Env(t *testing.T) {
	t.Setenv(envGatewayToken, "env-token")
	t.Setenv(envGatewayPassword, "env-pass")

	auth := ResolveAuth(config.GatewayAuth{Mode: "token"})
	assert.Equal(t, "env-token", auth.Token)
	assert.Equal(t, "env-pass", auth.Password)

	auth = ResolveAuth(config.GatewayAuth{Mode: "token", Token: "config-token"})
	assert.Equal(t, "config-token", auth.Token, "config overrides env")
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		reason string
	}{
		{"none accepts nil", ResolvedAuth{Mode: "none"}, nil, true, ""},
		{"token ok", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{Token: "secret"}, true, ""},
		{"token mismatch", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{Token: "wrong"}, false, "token_mismatch"},
		{"token missing", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{}, false, "token required"},
		{"server token unset", ResolvedAuth{Mode: "token"}, &ConnectAuth{Token: "x"}, false, "server token not configured"},
		{"password ok", ResolvedAuth{Mode: "password", Password: "pass123"}, &ConnectAuth{Password: "pass123"}, true, ""},
		{"password mismatch", ResolvedAuth{Mode: "password", Password: "pass123"}, &ConnectAuth{Password: "nope"}, false, "password_mismatch"},
		{"password missing", ResolvedAuth{Mode: "password", Password: "pass123"}, &ConnectAuth{}, false, "password required"},
		{"nil credentials", ResolvedAuth{Mode: "token", Token: "secret"}, nil, false, "no credentials provided"},
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

func TestCheckWebSocketOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest("GET", "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, checkWebSocketOrigin(nil)(req("")), "non-browser clients")
	assert.False(t, checkWebSocketOrigin(nil)(req("http://evil.com")))
	assert.True(t, checkWebSocketOrigin([]string{"*"})(req("http://anything.com")))

	check := checkWebSocketOrigin([]string{"http://one.com", "http://two.com"})
	assert.True(t, check(req("http://one.com")))
	assert.True(t, check(req("http://two.com")))
	assert.False(t, check(req("http://three.com")))
}
