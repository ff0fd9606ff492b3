package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	contractx "taskpilot/agent/contract"
)

// ChatService is the conversational core the HTTP layer fronts.
type ChatService interface {
	HandleMessage(ctx context.Context, ownerID, text string) (contractx.ChatResult, error)
}

type Config struct {
	Addr string `envconfig:"ADDR" default:":8080"`
	Auth AuthConfig
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	ConversationID int64                      `json:"conversation_id"`
	Reply          string                     `json:"reply"`
	ToolCalls      []contractx.ToolCallRecord `json:"tool_calls"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// New returns the HTTP handler exposing the chat API. All /api routes
// require a bearer token; /healthz stays open for probes.
func New(cfg Config, chat ChatService) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", handleHealth)
	router.Route("/api", func(r chi.Router) {
		r.Use(requireAuth(cfg.Auth))
		r.Post("/chat", handleChat(chat))
	})
	return router
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleChat(chat ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok || principal.OwnerID == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		var body chatRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "request body must be valid json")
			return
		}

		result, err := chat.HandleMessage(req.Context(), principal.OwnerID, body.Message)
		if err != nil {
			switch {
			case errors.Is(err, contractx.ErrEmptyMessage), errors.Is(err, contractx.ErrValidation):
				respondError(w, http.StatusBadRequest, "bad_request", "message must not be empty")
			default:
				log.Error().Err(err).Str("owner_id", principal.OwnerID).Msg("chat exchange failed")
				respondError(w, http.StatusInternalServerError, "internal_error", "something went wrong, please try again")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(chatResponse{
			ConversationID: result.ConversationID,
			Reply:          result.Reply,
			ToolCalls:      result.ToolCalls,
		})
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		log.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
