package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"fablepress/internal/util"
	"fablepress/pkg/domain"
	"fablepress/pkg/payment"
	"fablepress/services/commerce/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	WebhookSecret string
}

// Server exposes HTTP endpoints for the commerce service. Requests arrive
// through the gateway, which authenticates the user and forwards the owner
// id in X-Owner-Id; the payment webhook authenticates itself by signature.
type Server struct {
	app           *app.App
	webhookSecret string
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		webhookSecret: cfg.WebhookSecret,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("commerce", s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/webhooks/payment", s.handlePaymentWebhook)
	s.mux.Handle("/checkout", s.withOwner(s.handleCheckout))
	s.mux.Handle("/orders/", s.withOwner(s.handleOrderByID))
	s.mux.Handle("/projects/", s.withOwner(s.handleProjectOrders))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ownerHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withOwner(next ownerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get("X-Owner-Id"))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, owner)
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, owner string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.CheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.OwnerID = owner
	result, err := s.app.Checkout(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// /orders/{id}
func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request, owner string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/orders/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	order, err := s.app.GetOrder(r.Context(), id, owner)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// /projects/{id}/orders
func (s *Server) handleProjectOrders(w http.ResponseWriter, r *http.Request, owner string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/projects/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "orders" {
		notFound(w, "not found")
		return
	}
	orders, err := s.app.ListOrders(r.Context(), parts[0], owner)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": orders,
		"count": len(orders),
	})
}

// handlePaymentWebhook verifies the event signature, acknowledges, and
// processes. A bad signature is the only rejection; once the event is
// authentic the processor always gets a 200 and downstream failures are
// recorded on the order instead.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	event, err := payment.ParseEvent(body, r.Header.Get("X-Payment-Signature"), s.webhookSecret, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if err := s.app.HandlePaymentEvent(r.Context(), event); err != nil {
		// Store-level failure: let the processor redeliver.
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      codeForStatus(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application error kinds onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrProjectNotFound) || errors.Is(err, app.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	case domain.KindTransient:
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "ORDER_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_MISSING_OWNER"
	case http.StatusNotFound:
		return "ORDER_NOT_FOUND"
	case http.StatusConflict:
		return "ORDER_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusServiceUnavailable:
		return "SYSTEM_UNAVAILABLE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
