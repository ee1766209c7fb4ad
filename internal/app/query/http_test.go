package query

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-outbox/project/internal/app/projection"
	"go.uber.org/zap"
)

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListTodos_HTTP(t *testing.T) {
	reader := &fakeReader{rows: []projection.Row{sampleRow("Buy milk")}, total: 1}
	h := NewHandler(NewService(reader), nil, zap.NewNop(), "").Router()

	rec := serve(h, "/api/v1/todos?status=pending&sort=due_date&order=ASC&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PaginatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "Buy milk", resp.Items[0].Title)
	assert.Equal(t, PaginationMetadata{TotalCount: 1, Page: 1, Limit: 5, TotalPages: 1}, resp.Metadata)
	assert.Equal(t, ListTodosQuery{Page: 1, Limit: 5, Status: StatusPending, Sort: SortDueDate, Order: OrderAsc}, reader.got)
}

func TestListTodos_HTTPBadRequest(t *testing.T) {
	h := NewHandler(NewService(&fakeReader{}), nil, zap.NewNop(), "").Router()
	for _, target := range []string{
		"/api/v1/todos?page=0",
		"/api/v1/todos?limit=500",
		"/api/v1/todos?page=100000000000000000&limit=100",
	} {
		rec := serve(h, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListTodos_HTTPStoreFailure(t *testing.T) {
	h := NewHandler(NewService(&fakeReader{err: errors.New("connection reset")}), nil, zap.NewNop(), "").Router()
	rec := serve(h, "/api/v1/todos")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestGetTodo_HTTP(t *testing.T) {
	row := sampleRow("Walk dog")
	h := NewHandler(NewService(&fakeReader{rows: []projection.Row{row}}), nil, zap.NewNop(), "").Router()

	rec := serve(h, "/api/v1/todos/"+row.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var item TodoItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, row.ID.String(), item.ID)

	assert.Equal(t, http.StatusNotFound, serve(h, "/api/v1/todos/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, "/api/v1/todos/not-a-uuid").Code)
}
