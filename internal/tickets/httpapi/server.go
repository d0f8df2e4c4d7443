package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"tixvibe/internal/tickets/ticket"
)

type Server struct {
	ticketSvc *ticket.Service
	logger    *slog.Logger
	mux       *http.ServeMux
}

func NewServer(ticketSvc *ticket.Service, logger *slog.Logger) *Server {
	s := &Server{
		ticketSvc: ticketSvc,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /tickets", s.createTicket)
	s.mux.HandleFunc("GET /tickets", s.listTickets)
	s.mux.HandleFunc("GET /tickets/{ticketID}", s.getTicket)
	s.mux.HandleFunc("PUT /tickets/{ticketID}", s.updateTicket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req struct {
		Title string `json:"title"`
		Price int64  `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := s.ticketSvc.Create(r.Context(), userID.String(), req.Title, req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.ticketSvc.List(r.Context())
	if err != nil {
		s.logger.Error("list tickets", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, err := uuid.Parse(r.PathValue("ticketID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}

	t, err := s.ticketSvc.Get(r.Context(), ticketID.String())
	if err != nil {
		if errors.Is(err, ticket.ErrTicketNotFound) {
			writeError(w, http.StatusNotFound, "ticket not found")
			return
		}
		s.logger.Error("get ticket", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTicket(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	ticketID, err := uuid.Parse(r.PathValue("ticketID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}

	var req struct {
		Title string `json:"title"`
		Price int64  `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := s.ticketSvc.Update(r.Context(), userID.String(), ticketID.String(), req.Title, req.Price)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrTicketNotFound):
			writeError(w, http.StatusNotFound, "ticket not found")
		case errors.Is(err, ticket.ErrNotTicketOwner):
			writeError(w, http.StatusUnauthorized, "not authorized")
		case errors.Is(err, ticket.ErrTicketReserved):
			writeError(w, http.StatusBadRequest, "ticket is reserved")
		case errors.Is(err, ticket.ErrVersionConflict):
			writeError(w, http.StatusConflict, "ticket was modified concurrently")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, t)
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
