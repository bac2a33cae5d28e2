package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PabloGalante/finadvisor/internal/adapters/sse"
	"github.com/PabloGalante/finadvisor/internal/app/conversation"
	"github.com/PabloGalante/finadvisor/internal/domain"
	"github.com/PabloGalante/finadvisor/internal/observability"
)

const (
	userIDHeader = "user-id"
	maxLimit     = 100
)

type Options struct {
	// AllowedOrigins for CORS; defaults to "*".
	AllowedOrigins []string
	// ChatRatePerMinute limits POST /api/chat per user; 0 disables the limit.
	ChatRatePerMinute int
	// HistoryLimit is the default page size of GET /api/messages.
	HistoryLimit int
}

type Server struct {
	svc  *conversation.Service
	opts Options
}

func NewServer(svc *conversation.Service, opts Options) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 25
	}

	s := &Server{svc: svc, opts: opts}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(withRequestContext)
	r.Use(withMetrics)
	r.Use(withLogging)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", userIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(maxBodySize(64 * 1024))

		r.Group(func(r chi.Router) {
			if opts.ChatRatePerMinute > 0 {
				r.Use(newUserLimiter(opts.ChatRatePerMinute).middleware)
			}
			r.Post("/chat", s.handleChat)
		})

		r.Get("/messages", s.handleGetMessages)
		r.Delete("/messages/history", s.handleClearHistory)
	})

	return r
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type chatRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type messagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		observability.LoggerFromContext(r.Context()).Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat starts a turn and streams its events. Anything that fails before the
// stream opens is a JSON error; afterwards failures arrive as the terminal frame.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badRequest(w, "Message is required")
		return
	}
	userID := userIDFrom(r)
	if userID == "" {
		badRequest(w, "User ID is required")
		return
	}

	turn, err := s.svc.StartTurn(r.Context(), conversation.SendMessageInput{
		UserID: userID,
		Text:   req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			badRequest(w, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Failed to process message")
		}
		return
	}

	s.svc.StreamTurn(r.Context(), turn, sse.NewEncoder(w))
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if userID == "" {
		badRequest(w, "User ID is required")
		return
	}

	limit := s.opts.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	msgs, err := s.svc.RecentMessages(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}

	resp := messagesResponse{Messages: make([]messageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if userID == "" {
		badRequest(w, "User ID is required")
		return
	}

	if err := s.svc.ClearHistory(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation history cleared"})
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func userIDFrom(r *http.Request) domain.UserID {
	return domain.UserID(strings.TrimSpace(r.Header.Get(userIDHeader)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}
