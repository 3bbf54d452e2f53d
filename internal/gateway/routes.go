package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/callbridge/internal/calls"
	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/domain"
)

// safeConfigPrefixes lists config paths readable over RPC. Everything else,
// credentials included, is denied.
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"gateway.publicUrl",
	"gateway.controlUi",
	"store.driver",
	"bridge.mode",
	"bridge.timeoutMs",
	"bridge.maxInFlight",
	"bridge.queueSize",
	"responder.enabled",
	"responder.workers",
	"responder.provider",
	"responder.model",
	"responder.maxTokens",
	"responder.timeoutMs",
	"housekeeping",
	"metrics",
	"logging",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("POST /api/calls/start", s.requireAuth(s.handleStartCall))
	mux.HandleFunc("POST /api/calls/sweep", s.requireAuth(s.handleSweep))
	mux.HandleFunc("GET /api/calls", s.requireAuth(s.handleListCalls))
	mux.HandleFunc("GET /api/calls/active", s.requireAuth(s.handleActiveCalls))
	mux.HandleFunc("POST /api/calls/{id}/end", s.requireAuth(s.handleEndCall))
	mux.HandleFunc("POST /api/calls/{id}/respond", s.requireAuth(s.handleRespond))
	mux.HandleFunc("GET /api/calls/{id}/transcript", s.requireAuth(s.handleTranscript))
	if s.sink != nil {
		mux.HandleFunc("POST /api/voice/bridge", s.requireAuth(s.handleVoiceBridge))
	}
	if s.processor != nil {
		mux.HandleFunc("POST /api/voice/process", s.requireAuth(s.handleVoiceProcess))
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// requireAuth checks the bearer credential against the gateway auth mode.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred := bearerToken(r)
		res := Authorize(s.auth, &ConnectAuth{Token: cred, Password: cred})
		if !res.OK {
			s.log.Debug().Str("path", r.URL.Path).Str("reason", res.Reason).Msg("admin request rejected")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// callView is the HTTP shape of a call record.
type callView struct {
	ID                string           `json:"id"`
	AgentID           string           `json:"agentId"`
	AgentType         domain.AgentType `json:"agentType"`
	AgentName         string           `json:"agentName,omitempty"`
	BuyerID           string           `json:"buyerId"`
	PropertyID        string           `json:"propertyId,omitempty"`
	LeadID            string           `json:"leadId,omitempty"`
	StartTime         time.Time        `json:"startTime"`
	EndTime           *time.Time       `json:"endTime"`
	Duration          *int64           `json:"duration"`
	DurationFormatted *string          `json:"durationFormatted"`
	Status            string           `json:"status"`
	TranscriptCount   int              `json:"transcriptCount"`
}

func (s *Server) viewOf(rec domain.CallRecord) callView {
	v := callView{
		ID:              rec.ID,
		AgentID:         rec.AgentID,
		AgentType:       rec.AgentType,
		BuyerID:         rec.BuyerID,
		PropertyID:      rec.PropertyID,
		LeadID:          rec.LeadID,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		Duration:        rec.Duration,
		Status:          string(rec.Status),
		TranscriptCount: len(rec.Transcript),
	}
	if rec.Duration != nil {
		f := domain.FormatDuration(*rec.Duration)
		v.DurationFormatted = &f
	}
	if s.agents != nil && rec.AgentType == domain.AgentTypeAI {
		p, _ := s.agents.Lookup(rec.AgentID)
		v.AgentName = p.Name
	}
	return v
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req calls.StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.calls.StartCall(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	socket := map[string]any{
		"path": "/ws",
		"room": "call:" + rec.ID,
		"events": map[string][]string{
			"subscribe": outboundEvents[1:],
			"emit":      inboundEvents,
		},
	}
	if base := strings.TrimSuffix(s.cfg.Gateway.PublicURL, "/"); base != "" {
		socket["url"] = base + "/ws"
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Call initiated successfully",
		"call":    s.viewOf(rec),
		"socket":  socket,
	})
}

type endCallBody struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	var body endCallBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.calls.EndCall(r.Context(), r.PathValue("id"), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Call ended successfully",
		"call":    s.viewOf(rec),
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RecordFilter{
		AgentID: q.Get("agentId"),
		BuyerID: q.Get("buyerId"),
	}
	if filter.AgentID == "" && filter.BuyerID == "" {
		writeError(w, domain.InvalidInput("gateway.calls.list", "At least one of agentId or buyerId is required"))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, domain.InvalidInput("gateway.calls.list", "limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	recs, stats, err := s.calls.ListCalls(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]callView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, s.viewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": views, "stats": stats})
}

func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	active := s.calls.ActiveSessions()
	writeJSON(w, http.StatusOK, map[string]any{"calls": active, "count": len(active)})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.calls.GetSession(id); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"callId":     id,
			"live":       true,
			"status":     sess.Status,
			"transcript": sess.Transcript,
		})
		return
	}
	rec, err := s.calls.GetRecord(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callId":     id,
		"live":       false,
		"status":     rec.Status,
		"transcript": rec.Transcript,
	})
}

type respondBody struct {
	Text    string `json:"text"`
	IsFinal *bool  `json:"isFinal,omitempty"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body respondBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Text == "" {
		writeError(w, domain.InvalidInput("gateway.calls.respond", "text is required"))
		return
	}
	isFinal := true
	if body.IsFinal != nil {
		isFinal = *body.IsFinal
	}
	delivered := s.calls.DeliverResponse(r.Context(), r.PathValue("id"), body.Text, isFinal)
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n := s.calls.SweepEnded(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

type utteranceBody struct {
	CallID  string  `json:"callId"`
	Text    *string `json:"text"`
	BuyerID string  `json:"buyerId,omitempty"`
	AgentID string  `json:"agentId,omitempty"`
}

// decodeUtterance reads a forwarded utterance. The identities are
// informational; the responder answers as the session's agent.
func (s *Server) decodeUtterance(w http.ResponseWriter, r *http.Request) (domain.Utterance, error) {
	var body utteranceBody
	if err := decodeBody(w, r, &body); err != nil {
		return domain.Utterance{}, err
	}
	if body.CallID == "" || body.Text == nil {
		return domain.Utterance{}, domain.InvalidInput("gateway.voice", "Missing required fields: callId, text")
	}
	return domain.Utterance{CallID: body.CallID, Text: *body.Text, BuyerID: body.BuyerID, AgentID: body.AgentID}, nil
}

// handleVoiceBridge is the processing endpoint the HTTP forwarder posts to.
func (s *Server) handleVoiceBridge(w http.ResponseWriter, r *http.Request) {
	u, err := s.decodeUtterance(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sink.Forward(u)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Voice input forwarded to processing"})
}

// processTimeout bounds a synchronous responder run.
const processTimeout = 30 * time.Second

func (s *Server) handleVoiceProcess(w http.ResponseWriter, r *http.Request) {
	u, err := s.decodeUtterance(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{"delivered": s.processor.Process(ctx, u)})
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("calls.active", s.rpcCallsActive)
	s.Handle("calls.get", s.rpcCallsGet)
	s.Handle("calls.transcript", s.rpcCallsTranscript)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	var uptime int64
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt).Milliseconds()
	}
	rc.Respond(HealthResponse{
		Status:      "ok",
		Version:     s.version,
		Clients:     s.hub.Count(),
		ActiveCalls: len(s.calls.ActiveSessions()),
		UptimeMs:    uptime,
	})
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "access denied for config path: "+p.Key)
		return
	}

	path, err := config.ParseConfigPath(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	s.mu.RLock()
	val, ok := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()
	if !ok {
		rc.RespondError("not_found", "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

func (s *Server) rpcCallsActive(rc *RequestContext) {
	rc.Respond(map[string]any{"calls": s.calls.ActiveSessions()})
}

type callParams struct {
	CallID string `json:"callId"`
}

func (rc *RequestContext) callID() (string, bool) {
	var p callParams
	if err := rc.Params(&p); err != nil || p.CallID == "" {
		rc.RespondError("invalid_params", "callId is required")
		return "", false
	}
	return p.CallID, true
}

func (s *Server) rpcCallsGet(rc *RequestContext) {
	id, ok := rc.callID()
	if !ok {
		return
	}
	sess, found := s.calls.GetSession(id)
	if !found {
		rc.RespondErr(domain.ErrSessionNotFound)
		return
	}
	rc.Respond(sess)
}

func (s *Server) rpcCallsTranscript(rc *RequestContext) {
	id, ok := rc.callID()
	if !ok {
		return
	}
	if _, found := s.calls.GetSession(id); !found {
		rc.RespondErr(domain.ErrSessionNotFound)
		return
	}
	rc.Respond(map[string]any{"callId": id, "transcript": s.calls.Transcript(id)})
}
