package query

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/todo-outbox/project/internal/platform/httpx"
	"github.com/todo-outbox/project/internal/platform/logging"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"go.uber.org/zap"
)

type Handler struct {
	Service       *Service
	Ready         func(context.Context) error
	Logger        *zap.Logger
	AllowedOrigin string
}

func NewHandler(service *Service, ready func(context.Context) error, logger *zap.Logger, allowedOrigin string) *Handler {
	return &Handler{
		Service:       service,
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
	r.Use(httpx.CORS(h.AllowedOrigin, "GET, OPTIONS"))

	httpx.Health(r, func(ctx context.Context) error {
		if h.Ready == nil {
			return nil
		}
		return h.Ready(ctx)
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/v1/todos", h.handleListTodos)
	r.Get("/api/v1/todos/{todoID}", h.handleGetTodo)
	return r
}

func (h *Handler) handleListTodos(w http.ResponseWriter, r *http.Request) {
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.Service.List(r.Context(), q)
	if err != nil {
		logging.WithTrace(r.Context(), h.Logger).Error("list todos failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetTodo(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "todoID"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "todo id must be a UUID")
		return
	}
	item, err := h.Service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTodoNotFound) {
			httpx.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		logging.WithTrace(r.Context(), h.Logger).Error("get todo failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, item)
}
