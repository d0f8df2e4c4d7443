package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"tixvibe/internal/payments/payment"
)

type Server struct {
	paymentSvc *payment.Service
	logger     *slog.Logger
	mux        *http.ServeMux
}

func NewServer(paymentSvc *payment.Service, logger *slog.Logger) *Server {
	s := &Server{
		paymentSvc: paymentSvc,
		logger:     logger,
		mux:        http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /payments", s.createPayment)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req struct {
		OrderID string `json:"orderId"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "orderId must be provided")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token must be provided")
		return
	}

	p, err := s.paymentSvc.CreateCharge(r.Context(), userID.String(), orderID.String(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, payment.ErrNotOrderOwner):
			writeError(w, http.StatusUnauthorized, "not authorized")
		case errors.Is(err, payment.ErrOrderCancelled):
			writeError(w, http.StatusBadRequest, "cannot pay for a cancelled order")
		case errors.Is(err, payment.ErrAlreadyPaid):
			writeError(w, http.StatusBadRequest, "order is already paid for")
		default:
			s.logger.Error("create payment", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	value := r.Header.Get("X-User-ID")
	if value == "" {
		return uuid.UUID{}, errors.New("missing X-User-ID header")
	}
	return uuid.Parse(value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
