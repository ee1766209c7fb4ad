package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/todo-outbox/project/internal/app/projection"
	"github.com/todo-outbox/project/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const selectTodoColumns = `id, title, description, priority, due_date, is_completed, created_at, updated_at`

var sortColumns = map[string]string{
	SortCreatedAt: "created_at",
	SortDueDate:   "due_date",
}

var orderKeywords = map[string]string{
	OrderAsc:  "ASC",
	OrderDesc: "DESC",
}

// BuildListQuery renders the page and count statements for q. Column and
// direction come from fixed allow-lists; values are always bound.
func BuildListQuery(q ListTodosQuery) (listSQL string, countSQL string, args []any, countArgs []any) {
	where := ""
	if completed, ok := q.Completed(); ok {
		where = " WHERE is_completed = $1"
		countArgs = append(countArgs, completed)
	}

	column, ok := sortColumns[q.Sort]
	if !ok {
		column = sortColumns[SortCreatedAt]
	}
	direction, ok := orderKeywords[q.Order]
	if !ok {
		direction = orderKeywords[OrderDesc]
	}

	args = append(args, countArgs...)
	n := len(args)
	listSQL = fmt.Sprintf(
		"SELECT %s FROM read_model.todos%s ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d",
		selectTodoColumns, where, column, direction, n+1, n+2,
	)
	args = append(args, q.Limit, q.Offset())
	countSQL = "SELECT count(*) FROM read_model.todos" + where
	return listSQL, countSQL, args, countArgs
}

type TodoRepository struct {
	Pool   *pgxpool.Pool
	tracer trace.Tracer
}

func NewTodoRepository(pool *pgxpool.Pool) *TodoRepository {
	return &TodoRepository{
		Pool:   pool,
		tracer: otel.Tracer("query/repository"),
	}
}

func (r *TodoRepository) Ready(ctx context.Context) error {
	return r.Pool.Ping(ctx)
}

func (r *TodoRepository) ListTodos(ctx context.Context, q ListTodosQuery) ([]projection.Row, int, error) {
	ctx, span := r.tracer.Start(ctx, "TodoRepository.ListTodos")
	defer span.End()
	span.SetAttributes(
		attribute.Int("page", q.Page),
		attribute.Int("limit", q.Limit),
		attribute.String("sort", q.Sort),
		attribute.String("order", q.Order),
	)

	listSQL, countSQL, args, countArgs := BuildListQuery(q)

	rows, err := r.Pool.Query(ctx, listSQL, args...)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("list read todos: %w", err)
	}
	defer rows.Close()

	result := make([]projection.Row, 0, q.Limit)
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			span.RecordError(err)
			return nil, 0, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	var total int
	if err := r.Pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("count read todos: %w", err)
	}
	span.SetAttributes(attribute.Int("total_count", total))
	return result, total, nil
}

func (r *TodoRepository) GetTodoByID(ctx context.Context, id uuid.UUID) (projection.Row, error) {
	ctx, span := r.tracer.Start(ctx, "TodoRepository.GetTodoByID")
	defer span.End()

	row, err := scanRow(r.Pool.QueryRow(ctx,
		`SELECT `+selectTodoColumns+` FROM read_model.todos WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return projection.Row{}, ErrTodoNotFound
		}
		span.RecordError(err)
		return projection.Row{}, err
	}
	return row, nil
}

func scanRow(s pgx.Row) (projection.Row, error) {
	var (
		row      projection.Row
		priority *string
	)
	if err := s.Scan(
		&row.ID,
		&row.Title,
		&row.Description,
		&priority,
		&row.DueDate,
		&row.IsCompleted,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		return projection.Row{}, err
	}
	p, err := domain.PriorityFromNullable(priority)
	if err != nil {
		return projection.Row{}, fmt.Errorf("scan read todo %s: %w", row.ID, err)
	}
	row.Priority = p
	return row, nil
}
