package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamvault/core"
	"streamvault/gateway/middleware"
	"streamvault/native/catalog"
	"streamvault/native/session"
	"streamvault/native/vault"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server exposes the node's operations over HTTP.
type Server struct {
	node    *core.Node
	logger  *slog.Logger
	router  chi.Router
	limiter *middleware.RateLimiter
}

// Config carries the gateway tuning knobs.
type Config struct {
	RateLimitRPS   int
	RateLimitBurst int
}

// NewServer builds the router around the node.
func NewServer(node *core.Node, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	rps := float64(cfg.RateLimitRPS)
	if rps <= 0 {
		rps = 50
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = int(rps) * 2
	}
	s := &Server{
		node:   node,
		logger: logger.With("component", "gateway"),
		limiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"vault":   {RequestsPerSecond: rps, Burst: burst},
			"catalog": {RequestsPerSecond: rps, Burst: burst},
			"session": {RequestsPerSecond: rps, Burst: burst},
		}),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/v1/events/ws", s.handleEventsWS)

	r.Route("/v1/vault", func(r chi.Router) {
		r.Use(s.limiter.Middleware("vault"))
		r.Use(middleware.Instrument("vault"))
		r.Post("/deposit", s.handleDeposit)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/yield", s.handleInjectYield)
		r.Post("/rate", s.handleSetRate)
		r.Get("/position/{account}", s.handlePosition)
	})

	r.Route("/v1/catalog", func(r chi.Router) {
		r.Use(s.limiter.Middleware("catalog"))
		r.Use(middleware.Instrument("catalog"))
		r.Post("/list", s.handleListContent)
		r.Get("/{contentID}", s.handleGetContent)
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(s.limiter.Middleware("session"))
		r.Use(middleware.Instrument("session"))
		r.Get("/", s.handleListSessions)
		r.Post("/start", s.handleStartSession)
		r.Post("/{id}/pause", s.handlePauseSession)
		r.Post("/{id}/resume", s.handleResumeSession)
		r.Post("/{id}/stop", s.handleStopSession)
		r.Get("/{id}", s.handleGetSession)
		r.Get("/active/{owner}", s.handleActiveSessions)
	})

	return r
}

// --- vault handlers ---

type depositRequest struct {
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	shares, err := s.node.Deposit(req.Beneficiary, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"beneficiary": req.Beneficiary,
		"amount":      amount.String(),
		"shares":      shares.String(),
	})
}

type withdrawRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	withdrawal, err := s.node.Withdraw(req.Account, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account":       req.Account,
		"amount":        withdrawal.Amount.String(),
		"fromYield":     withdrawal.FromYield.String(),
		"fromPrincipal": withdrawal.FromPrincipal.String(),
		"sharesBurned":  withdrawal.SharesBurned.String(),
	})
}

type injectYieldRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleInjectYield(w http.ResponseWriter, r *http.Request) {
	var req injectYieldRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.node.InjectYield(req.Caller, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

type setRateRequest struct {
	Caller  string `json:"caller"`
	RateBps uint64 `json:"rateBps"`
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req setRateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.node.SetAnnualRate(req.Caller, req.RateBps); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"rateBps": req.RateBps})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	pos, err := s.node.VaultPosition(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	yield, err := s.node.YieldOf(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	total, err := s.node.TotalValueOf(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account":    account,
		"principal":  pos.Principal.String(),
		"shares":     pos.Shares.String(),
		"yield":      yield.String(),
		"totalValue": total.String(),
	})
}

// --- catalog handlers ---

type listContentRequest struct {
	Caller          string `json:"caller"`
	ContentID       string `json:"contentId"`
	FullPrice       string `json:"fullPrice"`
	DurationSeconds uint64 `json:"durationSeconds"`
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	var req listContentRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := parseAmount(req.FullPrice)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.node.ListContent(req.Caller, req.ContentID, price, req.DurationSeconds); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"contentId": req.ContentID})
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	entry, err := s.node.GetContent(contentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	rate, err := s.node.ContentRate(contentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contentId":       entry.ContentID,
		"fullPrice":       entry.FullPrice.String(),
		"durationSeconds": entry.DurationSeconds,
		"ratePerSecond":   rate.String(),
		"listed":          entry.Listed,
	})
}

// --- session handlers ---

type startSessionRequest struct {
	Owner         string `json:"owner"`
	ContentID     string `json:"contentId"`
	RatePerSecond string `json:"ratePerSecond,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	var ratePerSecond *big.Int
	if strings.TrimSpace(req.RatePerSecond) != "" {
		parsed, err := parseAmount(req.RatePerSecond)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		ratePerSecond = parsed
	}
	id, err := s.node.StartSession(req.Owner, req.ContentID, ratePerSecond)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"sessionId": id})
}

type sessionCallerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req sessionCallerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	consumed, err := s.node.PauseSession(req.Caller, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"sessionId": id, "consumedSeconds": consumed})
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req sessionCallerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.node.ResumeSession(req.Caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"sessionId": id})
}

type stopSessionRequest struct {
	Caller          string `json:"caller"`
	ReportedSeconds uint64 `json:"reportedSeconds"`
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req stopSessionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	settlement, err := s.node.StopSession(req.Caller, id, req.ReportedSeconds)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":       id,
		"consumedSeconds": settlement.ConsumedSeconds,
		"charged":         settlement.Charged.String(),
		"fromYield":       settlement.FromYield.String(),
		"fromPrincipal":   settlement.FromPrincipal.String(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	record, err := s.node.GetSession(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	consumed, err := s.node.SessionConsumed(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	payload := map[string]interface{}{
		"sessionId":       record.ID,
		"owner":           record.Owner,
		"contentId":       record.ContentID,
		"ratePerSecond":   record.RatePerSecond.String(),
		"status":          string(record.Status),
		"consumedSeconds": consumed,
	}
	if record.Status != session.StatusStopped {
		owed, err := s.node.SessionOwed(id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		payload["amountOwed"] = owed.String()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.node.Sessions()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	items := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, map[string]interface{}{
			"sessionId":       sess.ID,
			"owner":           sess.Owner,
			"contentId":       sess.ContentID,
			"ratePerSecond":   sess.RatePerSecond.String(),
			"status":          string(sess.Status),
			"consumedSeconds": sess.ConsumedSeconds,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": items})
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	ids, err := s.node.ActiveSessions(owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"owner": owner, "sessionIds": ids})
}

// --- helpers ---

func sessionID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q", raw)
	}
	return id, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	reader := io.LimitReader(r.Body, requestBodyLimit)
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	writeJSONError(w, engineStatus(err), err)
}

func engineStatus(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidAccount),
		errors.Is(err, vault.ErrRateOutOfRange),
		errors.Is(err, catalog.ErrInvalidContentID),
		errors.Is(err, catalog.ErrInvalidPrice),
		errors.Is(err, catalog.ErrInvalidDuration),
		errors.Is(err, session.ErrInvalidContentID),
		errors.Is(err, session.ErrInvalidOwner),
		errors.Is(err, session.ErrInvalidRate):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrNotAuthorized),
		errors.Is(err, catalog.ErrNotAuthorized),
		errors.Is(err, session.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, vault.ErrNoSharesOutstanding),
		errors.Is(err, session.ErrContentNotListed),
		errors.Is(err, session.ErrNotPlaying),
		errors.Is(err, session.ErrNotPaused),
		errors.Is(err, session.ErrAlreadyStopped),
		errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
