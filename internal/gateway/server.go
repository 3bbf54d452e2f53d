package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/callbridge/internal/calls"
	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/hooks"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/metrics"
	"github.com/soyeahso/callbridge/internal/responder"
	"github.com/soyeahso/callbridge/internal/version"
)

// ErrClientClosed is returned when sending to a closed connection.
var ErrClientClosed = errors.New("client connection closed")

// UtteranceProcessor runs one utterance through the response pipeline.
type UtteranceProcessor interface {
	Process(ctx context.Context, u domain.Utterance) bool
}

// Server is the callbridge HTTP + WebSocket gateway.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	hub      *Hub
	calls    *calls.Manager
	handlers map[string]RequestHandler
	version  string

	mu        sync.RWMutex
	configRaw map[string]any

	// Optional collaborators; nil disables the dependent routes.
	hooks     *hooks.Manager
	metrics   *metrics.Metrics
	sink      domain.Forwarder
	processor UtteranceProcessor
	agents    *responder.Directory

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
	handshakes *failedHandshakes
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithConfigRaw sets the raw config map for RPC access.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) {
		s.configRaw = raw
	}
}

// WithHooks sets the hook manager for gateway lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithMetrics enables request metrics and the /metrics route.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithUtteranceSink enables POST /api/voice/bridge, which hands utterances
// to f.
func WithUtteranceSink(f domain.Forwarder) ServerOption {
	return func(s *Server) {
		s.sink = f
	}
}

// WithProcessor enables POST /api/voice/process, which runs an utterance
// through p synchronously.
func WithProcessor(p UtteranceProcessor) ServerOption {
	return func(s *Server) {
		s.processor = p
	}
}

// WithAgents resolves agent display names for call start responses.
func WithAgents(d *responder.Directory) ServerOption {
	return func(s *Server) {
		s.agents = d
	}
}

// New creates a gateway server. hub must be the transport mgr was built with.
func New(cfg config.Config, hub *Hub, mgr *calls.Manager, log *logging.Logger, opts ...ServerOption) *Server {
	allowedOrigins := cfg.Gateway.ControlUI.AllowedOrigins
	s := &Server{
		cfg:        cfg,
		auth:       ResolveAuth(cfg.Gateway.Auth),
		log:        log.Sub("gateway"),
		hub:        hub,
		calls:      mgr,
		handlers:   make(map[string]RequestHandler),
		version:    version.Version,
		configRaw:  make(map[string]any),
		handshakes: newFailedHandshakes(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(allowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the HTTP handler with routes and middleware installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.metrics, s.cfg.Gateway.ControlUI.AllowedOrigins)
}

// Start serves HTTP and WebSocket traffic until ctx is cancelled, then ends
// every live call and shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	addr := ln.Addr().String()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()
	go s.handshakes.Run(ctx, time.Minute)

	s.log.Info().
		Str("addr", addr).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Strs("methods", s.Methods()).
		Msg("gateway listening")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": addr})

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// listen opens the configured address, wrapping it in TLS when enabled.
func (s *Server) listen() (net.Listener, error) {
	gw := s.cfg.Gateway
	addr := resolveBindAddr(gw)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if !gw.TLS.Enabled {
		if gw.Bind != "loopback" && s.auth.Mode != AuthNone {
			s.log.Warn().Msg("gateway credentials travel in cleartext, enable gateway.tls")
		}
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(gw.TLS.CertPath, gw.TLS.KeyPath)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	s.log.Info().Str("cert", gw.TLS.CertPath).Msg("TLS enabled")
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// shutdown ends every live call, closes the sockets and stops the listener.
func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	active := s.calls.ActiveSessions()
	s.log.Info().Int("activeCalls", len(active)).Msg("gateway stopping")
	for _, sess := range active {
		s.calls.EndSession(ctx, sess.CallID)
	}
	s.hooks.Emit(ctx, hooks.EventGatewayStop, map[string]any{"endedCalls": len(active)})
	s.hub.CloseAll()
	s.httpServer.Shutdown(ctx)
}

// Addr returns the listen address once Start has bound it.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// handleWebSocket upgrades a call participant's connection, authenticates
// it and pumps its frames until it goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.handshakes.Allowed(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("refusing upgrade after repeated handshake failures")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		var rej *handshakeRejection
		if errors.As(err, &rej) {
			rej.send(conn)
		}
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.handshakes.Record(r.RemoteAddr)
		conn.Close()
		return
	}

	// Disconnect handling must outlive request cancellation so the durable
	// record is still reconciled during shutdown.
	ctx := context.WithoutCancel(r.Context())

	s.hub.Add(client)
	defer func() {
		s.calls.HandleDisconnect(ctx, client.ConnID)
		s.hub.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(ctx, client)
}

// handshakeRejection is a handshake failure the peer is told about before
// the socket closes.
type handshakeRejection struct {
	reqID string
	shape ErrorShape
}

func (e *handshakeRejection) Error() string {
	return e.shape.Code + ": " + e.shape.Message
}

func (e *handshakeRejection) send(conn *websocket.Conn) {
	conn.WriteJSON(NewErrorResponse(e.reqID, e.shape))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, e.shape.Message))
}

func reject(reqID, code, message string) *handshakeRejection {
	return &handshakeRejection{reqID: reqID, shape: ErrorShape{Code: code, Message: message}}
}

// handshake sends connect.challenge, waits for the connect request, checks
// protocol range and credentials, then answers with hello.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge, err := NewEvent(EventConnectChallenge, Challenge{
		Nonce: uuid.NewString(),
		Ts:    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("write challenge: %w", err)
	}

	var req Frame
	if err := conn.ReadJSON(&req); err != nil {
		return nil, fmt.Errorf("read connect: %w", err)
	}
	params, err := parseConnect(req)
	if err != nil {
		return nil, err
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		return nil, reject(req.ID, "unauthorized", authResult.Reason)
	}

	client := NewClient(conn, params.Client, authResult, s.log.Sub("ws"))
	resp, err := NewResponse(req.ID, s.hello(client.ConnID))
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("write hello: %w", err)
	}

	client.log.Info().
		Str("clientId", params.Client.ID).
		Str("role", params.Client.Role).
		Str("authMethod", authResult.Method).
		Msg("participant connected")
	return client, nil
}

// parseConnect validates the first client frame and its protocol range.
func parseConnect(req Frame) (ConnectParams, error) {
	var params ConnectParams
	if req.Type != FrameTypeRequest || req.Method != "connect" {
		return params, reject(req.ID, "protocol_error", "expected connect request")
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return params, reject(req.ID, "invalid_params", "invalid connect params")
		}
	}
	if params.MinProtocol > ProtocolVersion || (params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion) {
		return params, reject(req.ID, "protocol_error", "unsupported protocol version")
	}
	return params, nil
}

func (s *Server) hello(connID string) HelloOK {
	return HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  connID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  outboundEvents,
			Accepts: inboundEvents,
		},
		Policy: ServerPolicy{
			MaxPayload:     maxPayload,
			TickIntervalMs: tickInterval.Milliseconds(),
		},
	}
}

var (
	inboundEvents = []string{
		calls.EventCallStart,
		calls.EventVoiceInput,
		calls.EventAgentResponse,
		calls.EventCallEnd,
	}
	outboundEvents = []string{
		EventConnectChallenge,
		domain.EventCallConnected,
		domain.EventVoiceInputReceived,
		domain.EventAgentSpeak,
		domain.EventCallEnded,
		domain.EventError,
	}
)

// readLoop processes incoming frames from an authenticated client until
// the socket fails or closes.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.Next()
		if err != nil {
			var fe *frameError
			if errors.As(err, &fe) {
				s.emitError(client, "", domain.InvalidInput("gateway.read", "malformed frame"))
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.log.Debug().Msg("client closed connection")
			} else {
				client.log.Warn().Err(err).Msg("read error")
			}
			return
		}

		switch frame.Type {
		case FrameTypeEvent:
			s.handleEvent(ctx, client, frame)
		case FrameTypeRequest:
			s.dispatch(client, frame)
		default:
			client.log.Debug().Str("type", frame.Type).Msg("ignoring frame")
		}
	}
}

// handleEvent decodes a call event and hands it to the call manager.
// Failures are reported to the sending connection only.
func (s *Server) handleEvent(ctx context.Context, client *Client, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			client.log.Error().Interface("panic", r).Str("event", frame.Event).Msg("event handler panicked")
			s.emitError(client, frame.Event, domain.Internal("gateway.event", "internal error", fmt.Errorf("panic: %v", r)))
		}
	}()

	ev, err := calls.ParseEvent(frame.Event, frame.Payload)
	if err != nil {
		s.emitError(client, frame.Event, err)
		return
	}
	if err := s.calls.Dispatch(ctx, client.ConnID, ev); err != nil {
		s.emitError(client, frame.Event, err)
	}
}

// emitError sends an error event to one connection.
func (s *Server) emitError(client *Client, event string, err error) {
	code := domain.KindOf(err)
	s.metrics.RecordEventError(event, string(code))
	if code == domain.KindInternal {
		client.log.Error().Err(err).Str("event", event).Msg("event failed")
	} else {
		client.log.Debug().Err(err).Str("event", event).Msg("event rejected")
	}
	s.hub.EmitTo(client.ConnID, domain.EventError, domain.ErrorEvent{
		Message: domain.PublicMessage(err),
		Code:    code,
		Event:   event,
	})
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.ReplyError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	rc := &RequestContext{
		Client: client,
		Frame:  frame,
		Server: s,
	}
	handler(rc)
}
