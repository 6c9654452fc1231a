package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"log/slog"
	"os"

	"github.com/ErlanBelekov/cronkeep/internal/domain"
	"github.com/ErlanBelekov/cronkeep/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
)

// fakeTaskUsecase implements the unexported taskUsecaser interface via method matching.
type fakeTaskUsecase struct {
	create         func(ctx context.Context, name, cronExpr string) (*domain.ScheduledTask, error)
	deleteTask     func(ctx context.Context, slug string) error
	get            func(ctx context.Context, slug string) (*domain.ScheduledTask, error)
	list           func(ctx context.Context, offset, limit int) (int, []*domain.ScheduledTask, error)
	listExecutions func(ctx context.Context, slug string, offset, limit int) (int, []*domain.ExecutedTask, error)
}

func (f *fakeTaskUsecase) Create(ctx context.Context, name, cronExpr string) (*domain.ScheduledTask, error) {
	return f.create(ctx, name, cronExpr)
}

func (f *fakeTaskUsecase) Delete(ctx context.Context, slug string) error {
	return f.deleteTask(ctx, slug)
}

func (f *fakeTaskUsecase) Get(ctx context.Context, slug string) (*domain.ScheduledTask, error) {
	return f.get(ctx, slug)
}

func (f *fakeTaskUsecase) List(ctx context.Context, offset, limit int) (int, []*domain.ScheduledTask, error) {
	return f.list(ctx, offset, limit)
}

func (f *fakeTaskUsecase) ListExecutions(ctx context.Context, slug string, offset, limit int) (int, []*domain.ExecutedTask, error) {
	return f.listExecutions(ctx, slug, offset, limit)
}

func newTaskTestEngine(uc *fakeTaskUsecase) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	h := handler.NewTaskHandler(uc, logger)

	r := gin.New()
	r.POST("/tasks", h.Create)
	r.GET("/tasks", h.List)
	r.DELETE("/tasks/:slug", h.Delete)
	r.GET("/tasks/:slug/results", h.ListExecutions)
	return r
}

// ---- Create ----

func TestCreateTask_InvalidJSON_Returns422(t *testing.T) {
	uc := &fakeTaskUsecase{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{bad json}`))
	req.Header.Set("Content-Type", "application/json")
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestCreateTask_InvalidCron_Returns422(t *testing.T) {
	uc := &fakeTaskUsecase{
		create: func(_ context.Context, _, _ string) (*domain.ScheduledTask, error) {
			return nil, domain.ErrInvalidCron
		},
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks",
		strings.NewReader(`{"name":"daily report","cron_expression":"garbage"}`))
	req.Header.Set("Content-Type", "application/json")
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestCreateTask_Success_Returns200(t *testing.T) {
	uc := &fakeTaskUsecase{
		create: func(_ context.Context, name, cronExpr string) (*domain.ScheduledTask, error) {
			return &domain.ScheduledTask{Slug: "abc123", Name: name, CronExpression: cronExpr}, nil
		},
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks",
		strings.NewReader(`{"name":"daily report","cron_expression":"0 0 * * *"}`))
	req.Header.Set("Content-Type", "application/json")
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "abc123") {
		t.Errorf("body %q does not contain slug", w.Body.String())
	}
}

func TestCreateTask_UsecaseError_Returns500(t *testing.T) {
	uc := &fakeTaskUsecase{
		create: func(_ context.Context, _, _ string) (*domain.ScheduledTask, error) {
			return nil, errors.New("db down")
		},
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks",
		strings.NewReader(`{"name":"daily report","cron_expression":"0 0 * * *"}`))
	req.Header.Set("Content-Type", "application/json")
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---- List ----

func TestListTasks_Success_Returns200(t *testing.T) {
	uc := &fakeTaskUsecase{
		list: func(_ context.Context, _, _ int) (int, []*domain.ScheduledTask, error) {
			return 1, []*domain.ScheduledTask{{Slug: "abc123"}}, nil
		},
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// ---- Delete ----

func TestDeleteTask_NotFound_Returns404(t *testing.T) {
	uc := &fakeTaskUsecase{
		deleteTask: func(_ context.Context, _ string) error {
			return domain.ErrTaskNotFound
		},
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/tasks/missing", nil)
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteTask_Success_Returns200(t *testing.T) {
	uc := &fakeTaskUsecase{
		deleteTask: func(_ context.Context, _ string) error { return nil },
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/tasks/abc123", nil)
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "message") {
		t.Errorf("body %q does not contain a message field", w.Body.String())
	}
}

// ---- ListExecutions ----

func TestListExecutions_NotFound_Returns404(t *testing.T) {
	uc := &fakeTaskUsecase{
		listExecutions: func(_ context.Context, _ string, _, _ int) (int, []*domain.ExecutedTask, error) {
			return 0, nil, domain.ErrTaskNotFound
		},
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/missing/results", nil)
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListExecutions_Success_Returns200(t *testing.T) {
	uc := &fakeTaskUsecase{
		listExecutions: func(_ context.Context, _ string, _, _ int) (int, []*domain.ExecutedTask, error) {
			return 1, []*domain.ExecutedTask{{TaskSlug: "abc123", Status: domain.StatusDone}}, nil
		},
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/abc123/results", nil)
	newTaskTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
