package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/todo-outbox/project/internal/app/projection"
	"github.com/todo-outbox/project/internal/domain"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxPage keeps the row offset within int.
	MaxPage = math.MaxInt / MaxLimit

	SortCreatedAt = "created_at"
	SortDueDate   = "due_date"
	OrderAsc      = "asc"
	OrderDesc     = "desc"

	StatusCompleted = "completed"
	StatusPending   = "pending"
)

var (
	ErrTodoNotFound = errors.New("todo not found")
	ErrInvalidQuery = errors.New("invalid query")
)

// ListTodosQuery is a validated list request. Sort and Order are always one
// of the allowed values.
type ListTodosQuery struct {
	Page   int
	Limit  int
	Status string
	Sort   string
	Order  string
}

func (q ListTodosQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Completed maps Status to a completion filter. ok is false when no filter
// applies. Any status other than completed selects pending todos.
func (q ListTodosQuery) Completed() (completed bool, ok bool) {
	switch q.Status {
	case "":
		return false, false
	case StatusCompleted:
		return true, true
	default:
		return false, true
	}
}

// NewListTodosQuery applies defaults and the sort/order fallbacks. It does
// not range-check page and limit.
func NewListTodosQuery(page, limit int, status, sort, order string) ListTodosQuery {
	return ListTodosQuery{
		Page:   page,
		Limit:  limit,
		Status: status,
		Sort:   normalizeSort(sort),
		Order:  normalizeOrder(order),
	}
}

func normalizeSort(sort string) string {
	switch sort {
	case SortCreatedAt, SortDueDate:
		return sort
	default:
		return SortCreatedAt
	}
}

func normalizeOrder(order string) string {
	switch strings.ToLower(order) {
	case OrderAsc:
		return OrderAsc
	case OrderDesc:
		return OrderDesc
	default:
		return OrderDesc
	}
}

// ParseListQuery reads page, limit, status, sort and order from values.
func ParseListQuery(values url.Values) (ListTodosQuery, error) {
	page, err := intParam(values, "page", DefaultPage)
	if err != nil {
		return ListTodosQuery{}, err
	}
	if page < 1 || page > MaxPage {
		return ListTodosQuery{}, fmt.Errorf("%w: page must be between 1 and %d", ErrInvalidQuery, MaxPage)
	}
	limit, err := intParam(values, "limit", DefaultLimit)
	if err != nil {
		return ListTodosQuery{}, err
	}
	if limit < 1 || limit > MaxLimit {
		return ListTodosQuery{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxLimit)
	}

	status := strings.TrimSpace(values.Get("status"))
	return NewListTodosQuery(page, limit, status, values.Get("sort"), values.Get("order")), nil
}

func intParam(values url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidQuery, name)
	}
	return n, nil
}

type PaginationMetadata struct {
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

func NewPaginationMetadata(totalCount, page, limit int) PaginationMetadata {
	totalPages := 0
	if totalCount > 0 && limit > 0 {
		totalPages = (totalCount + limit - 1) / limit
	}
	return PaginationMetadata{
		TotalCount: totalCount,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}

// TodoItem is the wire shape of a read-model todo.
type TodoItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
	IsCompleted bool    `json:"is_completed"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func NewTodoItem(row projection.Row) TodoItem {
	return TodoItem{
		ID:          row.ID.String(),
		Title:       row.Title,
		Description: row.Description,
		Priority:    row.Priority.Nullable(),
		DueDate:     domain.FormatNullableTimestamp(row.DueDate),
		IsCompleted: row.IsCompleted,
		CreatedAt:   domain.FormatTimestamp(row.CreatedAt),
		UpdatedAt:   domain.FormatTimestamp(row.UpdatedAt),
	}
}

type PaginatedResponse struct {
	Items    []TodoItem         `json:"items"`
	Metadata PaginationMetadata `json:"metadata"`
}

type Reader interface {
	ListTodos(ctx context.Context, q ListTodosQuery) ([]projection.Row, int, error)
	GetTodoByID(ctx context.Context, id uuid.UUID) (projection.Row, error)
}

type Service struct {
	Reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{Reader: reader}
}

func (s *Service) List(ctx context.Context, q ListTodosQuery) (PaginatedResponse, error) {
	rows, total, err := s.Reader.ListTodos(ctx, q)
	if err != nil {
		return PaginatedResponse{}, err
	}
	items := make([]TodoItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, NewTodoItem(row))
	}
	return PaginatedResponse{
		Items:    items,
		Metadata: NewPaginationMetadata(total, q.Page, q.Limit),
	}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (TodoItem, error) {
	row, err := s.Reader.GetTodoByID(ctx, id)
	if err != nil {
		return TodoItem{}, err
	}
	return NewTodoItem(row), nil
}
