package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"tixvibe/internal/orders/order"
)

type Server struct {
	orderSvc *order.Service
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(orderSvc *order.Service, logger *slog.Logger) *Server {
	s := &Server{
		orderSvc: orderSvc,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /orders", s.createOrder)
	s.mux.HandleFunc("GET /orders", s.listOrders)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("DELETE /orders/{orderID}", s.cancelOrder)
}

// HandleFunc exposes the mux for extra routes wired at startup, such as the
// websocket endpoint.
func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req struct {
		TicketID string `json:"ticketId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ticketID, err := uuid.Parse(req.TicketID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ticketId must be provided")
		return
	}

	view, err := s.orderSvc.Create(r.Context(), userID.String(), ticketID.String())
	if err != nil {
		switch {
		case errors.Is(err, order.ErrTicketNotFound):
			writeError(w, http.StatusNotFound, "ticket not found")
		case errors.Is(err, order.ErrTicketReserved):
			writeError(w, http.StatusBadRequest, "ticket is already reserved")
		default:
			s.logger.Error("create order", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	views, err := s.orderSvc.List(r.Context(), userID.String())
	if err != nil {
		s.logger.Error("list orders", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	view, err := s.orderSvc.Get(r.Context(), userID.String(), orderID.String())
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	view, err := s.orderSvc.Cancel(r.Context(), userID.String(), orderID.String())
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrNotOrderOwner):
		writeError(w, http.StatusUnauthorized, "not authorized")
	case errors.Is(err, order.ErrOrderComplete):
		writeError(w, http.StatusBadRequest, "order is already complete")
	case errors.Is(err, order.ErrVersionConflict):
		writeError(w, http.StatusConflict, "order was modified concurrently")
	default:
		s.logger.Error("order request", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
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
