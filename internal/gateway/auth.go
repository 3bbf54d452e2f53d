package gateway

import (
	"crypto/subtle"
	"os"

	"github.com/soyeahso/callbridge/internal/config"
)

// Auth modes accepted in gateway.auth.mode.
const (
	AuthNone     = "none"
	AuthToken    = "token"
	AuthPassword = "password"
)

// Environment variables consulted when the config leaves credentials empty.
const (
	envGatewayToken    = "CALLBRIDGE_GATEWAY_TOKEN"
	envGatewayPassword = "CALLBRIDGE_GATEWAY_PASSWORD"
)

// AuthResult is the outcome of checking one set of credentials.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth is the effective gateway credential after config, env and
// mode inference have been applied.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth fills empty credentials from the environment. An empty mode
// is inferred: a password selects password auth, else a token selects
// token auth, else the gateway is open.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{
		Mode:     cfg.Mode,
		Token:    firstNonEmpty(cfg.Token, os.Getenv(envGatewayToken)),
		Password: firstNonEmpty(cfg.Password, os.Getenv(envGatewayPassword)),
	}
	if auth.Mode != "" {
		return auth
	}
	switch {
	case auth.Password != "":
		auth.Mode = AuthPassword
	case auth.Token != "":
		auth.Mode = AuthToken
	default:
		auth.Mode = AuthNone
	}
	return auth
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Authorize checks presented credentials against the gateway's. The same
// check guards socket handshakes and bearer-authenticated admin routes.
func Authorize(server ResolvedAuth, presented *ConnectAuth) AuthResult {
	if server.Mode == AuthNone {
		return AuthResult{OK: true, Method: AuthNone}
	}
	if presented == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	var want, got string
	switch server.Mode {
	case AuthToken:
		want, got = server.Token, presented.Token
	case AuthPassword:
		want, got = server.Password, presented.Password
	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}

	switch {
	case want == "":
		return AuthResult{Reason: "server " + server.Mode + " not configured"}
	case got == "":
		return AuthResult{Reason: server.Mode + " required"}
	case !safeEqual(got, want):
		return AuthResult{Reason: server.Mode + "_mismatch"}
	}
	return AuthResult{OK: true, Method: server.Mode}
}

// safeEqual compares in constant time without leaking the secret's length.
func safeEqual(a, b string) bool {
	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	same := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(sameLen, same, 0) == 1
}
