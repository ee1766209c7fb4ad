package commandapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/todo-outbox/project/internal/contracts"
	"github.com/todo-outbox/project/internal/platform/httpx"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"go.uber.org/zap"
)

const CommandIDHeader = "X-Command-ID"

const maxBodyBytes = 1 << 20

type CommandHandler interface {
	Handle(ctx context.Context, cmd contracts.CommandEnvelope) contracts.CommandResult
}

type Handler struct {
	Commands      CommandHandler
	Ready         func(context.Context) error
	Logger        *zap.Logger
	AllowedOrigin string
}

func NewHandler(commands CommandHandler, ready func(context.Context) error, logger *zap.Logger, allowedOrigin string) *Handler {
	return &Handler{
		Commands:      commands,
		Ready:         ready,
		Logger:        logger,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestLogger(h.Logger))
	r.Use(httpx.CORS(h.AllowedOrigin, "POST, OPTIONS"))

	httpx.Health(r, h.ready)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/api/v1/todos", h.handleCreateTodo)
	return r
}

func (h *Handler) ready(ctx context.Context) error {
	if h.Ready == nil {
		return nil
	}
	return h.Ready(ctx)
}

func (h *Handler) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	rawID := strings.TrimSpace(r.Header.Get(CommandIDHeader))
	if rawID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Missing X-Command-ID header")
		return
	}
	commandID, err := uuid.Parse(rawID)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid X-Command-ID format. Must be a UUID")
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil || payload == nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	res := h.Commands.Handle(r.Context(), contracts.CommandEnvelope{
		CommandID: commandID,
		Payload:   payload,
	})
	if res.Error != "" || len(res.Body) == 0 {
		httpx.WriteError(w, res.StatusCode, res.Error)
		return
	}
	httpx.WriteRawJSON(w, res.StatusCode, res.Body)
}
